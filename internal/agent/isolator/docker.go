package isolator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/skiffworks/skiff/pkg/sproto"
)

// DockerIsolator launches executors as containers through a local docker daemon.
type DockerIsolator struct {
	cli *client.Client

	lock       sync.Mutex
	containers map[runKey]string
	destroyed  map[runKey]bool
}

// NewDockerIsolator returns a container-runtime backed isolator using the environment's docker
// daemon.
func NewDockerIsolator() (*DockerIsolator, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "connecting to docker daemon")
	}
	return &DockerIsolator{
		cli:        cli,
		containers: make(map[runKey]string),
		destroyed:  make(map[runKey]bool),
	}, nil
}

// Launch implements the Isolator interface.
func (d *DockerIsolator) Launch(ctx context.Context, spec LaunchSpec) (Handle, error) {
	if spec.Command.Image == "" {
		return Handle{}, errors.Errorf("executor %s has no container image", spec.ExecutorID)
	}

	env := []string{
		fmt.Sprintf("SKIFF_SLAVE_ENDPOINT=%s", spec.SlaveEndpoint),
		fmt.Sprintf("SKIFF_FRAMEWORK_ID=%s", spec.FrameworkID),
		fmt.Sprintf("SKIFF_EXECUTOR_ID=%s", spec.ExecutorID),
		"SKIFF_SANDBOX=/skiff/sandbox",
	}
	for name, value := range spec.Command.Environment {
		env = append(env, fmt.Sprintf("%s=%s", name, value))
	}

	hostConfig := &container.HostConfig{
		Binds:       []string{spec.Directory + ":/skiff/sandbox"},
		NetworkMode: "host",
	}
	if cpus := spec.Resources.ScalarValue("cpus", 0); cpus > 0 {
		hostConfig.NanoCPUs = int64(cpus * 1e9)
	}
	if mem := spec.Resources.ScalarValue("mem", 0); mem > 0 {
		hostConfig.Memory = int64(mem) * 1024 * 1024
	}

	created, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image:      spec.Command.Image,
		Cmd:        append([]string{"/bin/sh", "-c", spec.Command.Value}, spec.Command.Arguments...),
		Env:        env,
		WorkingDir: "/skiff/sandbox",
		Labels: map[string]string{
			"ai.skiff.framework-id": spec.FrameworkID.String(),
			"ai.skiff.executor-id":  spec.ExecutorID.String(),
		},
	}, hostConfig, nil, nil, containerName(spec.FrameworkID, spec.ExecutorID))
	if err != nil {
		return Handle{}, errors.Wrapf(err, "creating container for executor %s", spec.ExecutorID)
	}

	if err := d.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return Handle{}, errors.Wrapf(err, "starting container for executor %s", spec.ExecutorID)
	}

	d.lock.Lock()
	d.containers[runKey{spec.FrameworkID, spec.ExecutorID}] = created.ID
	delete(d.destroyed, runKey{spec.FrameworkID, spec.ExecutorID})
	d.lock.Unlock()

	return Handle{ContainerID: created.ID}, nil
}

// Wait implements the Isolator interface.
func (d *DockerIsolator) Wait(
	ctx context.Context, frameworkID sproto.FrameworkID, executorID sproto.ExecutorID,
) (ExitStatus, error) {
	key := runKey{frameworkID, executorID}
	id, err := d.containerID(key)
	if err != nil {
		return ExitStatus{}, err
	}

	waitC, errC := d.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case result := <-waitC:
		d.lock.Lock()
		destroyed := d.destroyed[key]
		delete(d.containers, key)
		delete(d.destroyed, key)
		d.lock.Unlock()

		status := ExitStatus{Code: int(result.StatusCode), Destroyed: destroyed}
		if result.Error != nil {
			status.Message = result.Error.Message
		}
		if err := d.cli.ContainerRemove(context.Background(), id,
			container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
			log.WithError(err).Warnf("failed to remove container %s", id)
		}
		return status, nil
	case err := <-errC:
		return ExitStatus{}, errors.Wrapf(err, "waiting on container %s", id)
	case <-ctx.Done():
		return ExitStatus{}, ctx.Err()
	}
}

// Destroy implements the Isolator interface.
func (d *DockerIsolator) Destroy(
	ctx context.Context, frameworkID sproto.FrameworkID, executorID sproto.ExecutorID,
) error {
	key := runKey{frameworkID, executorID}
	id, err := d.containerID(key)
	if err != nil {
		return err
	}
	d.lock.Lock()
	d.destroyed[key] = true
	d.lock.Unlock()
	return errors.Wrapf(d.cli.ContainerKill(ctx, id, "KILL"), "killing container %s", id)
}

// Usage implements the Isolator interface.
func (d *DockerIsolator) Usage(
	ctx context.Context, frameworkID sproto.FrameworkID, executorID sproto.ExecutorID,
) (sproto.ResourceStatistics, error) {
	id, err := d.containerID(runKey{frameworkID, executorID})
	if err != nil {
		return sproto.ResourceStatistics{}, err
	}

	resp, err := d.cli.ContainerStatsOneShot(ctx, id)
	if err != nil {
		return sproto.ResourceStatistics{}, errors.Wrapf(err, "sampling container %s", id)
	}
	defer func() { _ = resp.Body.Close() }()

	var stats types.StatsJSON
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return sproto.ResourceStatistics{}, errors.Wrap(err, "decoding container stats")
	}

	return sproto.ResourceStatistics{
		Timestamp:      float64(time.Now().UnixNano()) / float64(time.Second),
		CPUsUserTime:   float64(stats.CPUStats.CPUUsage.UsageInUsermode) / 1e9,
		CPUsSystemTime: float64(stats.CPUStats.CPUUsage.UsageInKernelmode) / 1e9,
		MemoryRSSBytes: stats.MemoryStats.Usage,
		MemoryLimit:    stats.MemoryStats.Limit,
	}, nil
}

// Recover implements the Isolator interface. Containers that no longer exist are logged and
// skipped, so Wait, Destroy and Usage for those runs fail with an unknown-run error.
func (d *DockerIsolator) Recover(ctx context.Context, runs []RecoveredRun) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	for _, recovered := range runs {
		if recovered.Handle.ContainerID == "" {
			continue
		}
		if _, err := d.cli.ContainerInspect(ctx, recovered.Handle.ContainerID); err != nil {
			log.WithError(err).Warnf("container %s not found at recovery",
				recovered.Handle.ContainerID)
			continue
		}
		d.containers[runKey{recovered.FrameworkID, recovered.ExecutorID}] =
			recovered.Handle.ContainerID
	}
	return nil
}

func (d *DockerIsolator) containerID(key runKey) (string, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	id, ok := d.containers[key]
	if !ok {
		return "", errors.Errorf("unknown run for executor %s", key.executorID)
	}
	return id, nil
}

func containerName(frameworkID sproto.FrameworkID, executorID sproto.ExecutorID) string {
	return fmt.Sprintf("skiff-%s-%s", frameworkID, executorID)
}
