package agent

import (
	"runtime"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/disk"
	"github.com/shirou/gopsutil/mem"
	log "github.com/sirupsen/logrus"

	"github.com/skiffworks/skiff/pkg/resource"
)

// detectResources builds the advertised resource bundle when none is configured: all CPUs, all
// memory (in MB), and an ephemeral port range.
func detectResources() resource.Resources {
	cpus := float64(runtime.NumCPU())
	if counts, err := cpu.Counts(true); err == nil && counts > 0 {
		cpus = float64(counts)
	} else if err != nil {
		log.WithError(err).Warn("falling back to the Go runtime's CPU count")
	}

	resources := resource.Resources{
		resource.NewScalar("cpus", cpus),
		resource.NewRanges("ports", resource.Range{Begin: 31000, End: 32000}),
	}

	switch vm, err := mem.VirtualMemory(); {
	case err != nil:
		log.WithError(err).Warn("could not detect total memory; not advertising mem")
	case vm.Total > 0:
		resources = append(resources, resource.NewScalar("mem", float64(vm.Total)/(1<<20)))
	}
	return resources
}

// diskUsageOf returns the used fraction of the filesystem holding the path.
func diskUsageOf(path string) (float64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.UsedPercent / 100, nil
}
