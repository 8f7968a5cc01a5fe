package isolator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/skiffworks/skiff/pkg/sproto"
)

const recoveredPollInterval = time.Second

type processRun struct {
	pid       int
	destroyed bool
	// done is closed once the run has exited and exit is populated.
	done chan struct{}
	exit ExitStatus
}

// ProcessIsolator launches executors as local processes in their own process groups. Destroy
// kills the whole group.
type ProcessIsolator struct {
	lock sync.Mutex
	runs map[runKey]*processRun
}

// NewProcessIsolator returns a process-group backed isolator.
func NewProcessIsolator() *ProcessIsolator {
	return &ProcessIsolator{runs: make(map[runKey]*processRun)}
}

// Launch implements the Isolator interface.
func (p *ProcessIsolator) Launch(ctx context.Context, spec LaunchSpec) (Handle, error) {
	if err := os.MkdirAll(spec.Directory, 0o700); err != nil {
		return Handle{}, errors.Wrap(err, "creating sandbox")
	}

	stdout, err := os.Create(filepath.Join(spec.Directory, "stdout"))
	if err != nil {
		return Handle{}, errors.Wrap(err, "creating sandbox stdout")
	}
	stderr, err := os.Create(filepath.Join(spec.Directory, "stderr"))
	if err != nil {
		_ = stdout.Close()
		return Handle{}, errors.Wrap(err, "creating sandbox stderr")
	}

	args := append([]string{"-c", spec.Command.Value}, spec.Command.Arguments...)
	cmd := exec.Command("/bin/sh", args...)
	cmd.Dir = spec.Directory
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("SKIFF_SLAVE_ENDPOINT=%s", spec.SlaveEndpoint),
		fmt.Sprintf("SKIFF_FRAMEWORK_ID=%s", spec.FrameworkID),
		fmt.Sprintf("SKIFF_EXECUTOR_ID=%s", spec.ExecutorID),
		fmt.Sprintf("SKIFF_SANDBOX=%s", spec.Directory),
	)
	for name, value := range spec.Command.Environment {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", name, value))
	}

	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = stderr.Close()
		return Handle{}, errors.Wrapf(err, "launching executor %s", spec.ExecutorID)
	}

	run := &processRun{pid: cmd.Process.Pid, done: make(chan struct{})}
	p.lock.Lock()
	p.runs[runKey{spec.FrameworkID, spec.ExecutorID}] = run
	p.lock.Unlock()

	go func() {
		defer func() { _ = stdout.Close() }()
		defer func() { _ = stderr.Close() }()

		err := cmd.Wait()
		status := ExitStatus{}
		if exitErr, ok := err.(*exec.ExitError); ok {
			status.Code = exitErr.ExitCode()
			status.Message = exitErr.Error()
		} else if err != nil {
			status.Code = -1
			status.Message = err.Error()
		}

		p.lock.Lock()
		status.Destroyed = run.destroyed
		run.exit = status
		close(run.done)
		p.lock.Unlock()
	}()

	return Handle{ForkedPid: run.pid}, nil
}

// Wait implements the Isolator interface.
func (p *ProcessIsolator) Wait(
	ctx context.Context, frameworkID sproto.FrameworkID, executorID sproto.ExecutorID,
) (ExitStatus, error) {
	p.lock.Lock()
	run, ok := p.runs[runKey{frameworkID, executorID}]
	p.lock.Unlock()
	if !ok {
		return ExitStatus{}, errors.Errorf("unknown run for executor %s", executorID)
	}

	select {
	case <-run.done:
		p.lock.Lock()
		defer p.lock.Unlock()
		delete(p.runs, runKey{frameworkID, executorID})
		return run.exit, nil
	case <-ctx.Done():
		return ExitStatus{}, ctx.Err()
	}
}

// Destroy implements the Isolator interface.
func (p *ProcessIsolator) Destroy(
	ctx context.Context, frameworkID sproto.FrameworkID, executorID sproto.ExecutorID,
) error {
	p.lock.Lock()
	run, ok := p.runs[runKey{frameworkID, executorID}]
	if ok {
		run.destroyed = true
	}
	p.lock.Unlock()
	if !ok {
		return errors.Errorf("unknown run for executor %s", executorID)
	}

	// Kill the whole process group; the negative pid addresses the group.
	if err := syscall.Kill(-run.pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return errors.Wrapf(err, "killing process group %d", run.pid)
	}
	return nil
}

// Usage implements the Isolator interface by sampling procfs.
func (p *ProcessIsolator) Usage(
	ctx context.Context, frameworkID sproto.FrameworkID, executorID sproto.ExecutorID,
) (sproto.ResourceStatistics, error) {
	p.lock.Lock()
	run, ok := p.runs[runKey{frameworkID, executorID}]
	p.lock.Unlock()
	if !ok {
		return sproto.ResourceStatistics{}, errors.Errorf("unknown run for executor %s", executorID)
	}
	return sampleProc(run.pid)
}

// Recover implements the Isolator interface. Checkpointed runs whose process is still alive are
// re-adopted; Wait then polls for their exit since they are no longer our children.
func (p *ProcessIsolator) Recover(ctx context.Context, runs []RecoveredRun) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	for _, recovered := range runs {
		pid := recovered.Handle.ForkedPid
		run := &processRun{pid: pid, done: make(chan struct{})}
		p.runs[runKey{recovered.FrameworkID, recovered.ExecutorID}] = run

		if pid <= 0 || !processAlive(pid) {
			run.exit = ExitStatus{Code: -1, Message: "process not found at recovery"}
			close(run.done)
			continue
		}
		go p.pollRecovered(run)
		log.Infof("re-adopted executor %s (pid %d)", recovered.ExecutorID, pid)
	}
	return nil
}

func (p *ProcessIsolator) pollRecovered(run *processRun) {
	for processAlive(run.pid) {
		time.Sleep(recoveredPollInterval)
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	run.exit = ExitStatus{Destroyed: run.destroyed, Message: "re-adopted process exited"}
	close(run.done)
}

func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

// sampleProc reads CPU times and RSS for the pid from /proc.
func sampleProc(pid int) (sproto.ResourceStatistics, error) {
	stats := sproto.ResourceStatistics{
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
	}

	stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return stats, errors.Wrapf(err, "reading stat for pid %d", pid)
	}
	// Skip past the parenthesised command, which can itself contain spaces.
	raw := string(stat)
	if idx := strings.LastIndex(raw, ")"); idx >= 0 {
		raw = raw[idx+2:]
	}
	fields := strings.Fields(raw)
	// Fields 11 and 12 (utime, stime) relative to the post-command offset.
	if len(fields) > 12 {
		ticks := float64(100) // USER_HZ.
		if utime, err := strconv.ParseFloat(fields[11], 64); err == nil {
			stats.CPUsUserTime = utime / ticks
		}
		if stime, err := strconv.ParseFloat(fields[12], 64); err == nil {
			stats.CPUsSystemTime = stime / ticks
		}
	}

	statm, err := os.ReadFile(fmt.Sprintf("/proc/%d/statm", pid))
	if err != nil {
		return stats, errors.Wrapf(err, "reading statm for pid %d", pid)
	}
	if fields := strings.Fields(string(statm)); len(fields) > 1 {
		if rssPages, err := strconv.ParseUint(fields[1], 10, 64); err == nil {
			stats.MemoryRSSBytes = rssPages * uint64(os.Getpagesize())
		}
	}
	return stats, nil
}
