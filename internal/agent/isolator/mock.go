package isolator

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/skiffworks/skiff/pkg/sproto"
)

type mockRun struct {
	spec      LaunchSpec
	destroyed bool
	done      chan struct{}
	exit      ExitStatus
}

// Mock is a scriptable in-memory isolator for tests. Launched runs stay alive until the test
// calls Exit or the agent calls Destroy.
type Mock struct {
	lock sync.Mutex

	runs      map[runKey]*mockRun
	launched  chan LaunchSpec
	recovered []RecoveredRun

	// LaunchErr makes Launch fail when set.
	LaunchErr error
}

// NewMock returns an empty mock isolator.
func NewMock() *Mock {
	return &Mock{
		runs:     make(map[runKey]*mockRun),
		launched: make(chan LaunchSpec, 16),
	}
}

// Launched exposes every accepted launch spec in order.
func (m *Mock) Launched() <-chan LaunchSpec {
	return m.launched
}

// Recovered returns the runs handed back at recovery.
func (m *Mock) Recovered() []RecoveredRun {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]RecoveredRun{}, m.recovered...)
}

// Exit completes the executor's run with the provided exit code, as if the process exited on
// its own.
func (m *Mock) Exit(frameworkID sproto.FrameworkID, executorID sproto.ExecutorID, code int) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if run, ok := m.runs[runKey{frameworkID, executorID}]; ok {
		run.exit = ExitStatus{Code: code, Destroyed: run.destroyed}
		close(run.done)
	}
}

// Launch implements the Isolator interface.
func (m *Mock) Launch(ctx context.Context, spec LaunchSpec) (Handle, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.LaunchErr != nil {
		return Handle{}, m.LaunchErr
	}
	key := runKey{spec.FrameworkID, spec.ExecutorID}
	run := &mockRun{spec: spec, done: make(chan struct{})}
	m.runs[key] = run
	m.launched <- spec
	return Handle{ForkedPid: 1000 + len(m.runs)}, nil
}

// Wait implements the Isolator interface.
func (m *Mock) Wait(
	ctx context.Context, frameworkID sproto.FrameworkID, executorID sproto.ExecutorID,
) (ExitStatus, error) {
	m.lock.Lock()
	run, ok := m.runs[runKey{frameworkID, executorID}]
	m.lock.Unlock()
	if !ok {
		return ExitStatus{}, errors.Errorf("unknown run for executor %s", executorID)
	}
	select {
	case <-run.done:
		m.lock.Lock()
		delete(m.runs, runKey{frameworkID, executorID})
		m.lock.Unlock()
		return run.exit, nil
	case <-ctx.Done():
		return ExitStatus{}, ctx.Err()
	}
}

// Destroy implements the Isolator interface.
func (m *Mock) Destroy(
	ctx context.Context, frameworkID sproto.FrameworkID, executorID sproto.ExecutorID,
) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	run, ok := m.runs[runKey{frameworkID, executorID}]
	if !ok {
		return errors.Errorf("unknown run for executor %s", executorID)
	}
	if !run.destroyed {
		run.destroyed = true
		run.exit = ExitStatus{Code: -9, Destroyed: true, Message: "destroyed"}
		close(run.done)
	}
	return nil
}

// Usage implements the Isolator interface.
func (m *Mock) Usage(
	ctx context.Context, frameworkID sproto.FrameworkID, executorID sproto.ExecutorID,
) (sproto.ResourceStatistics, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if _, ok := m.runs[runKey{frameworkID, executorID}]; !ok {
		return sproto.ResourceStatistics{}, errors.Errorf("unknown run for executor %s", executorID)
	}
	return sproto.ResourceStatistics{CPUsUserTime: 1, MemoryRSSBytes: 1 << 20}, nil
}

// Recover implements the Isolator interface.
func (m *Mock) Recover(ctx context.Context, runs []RecoveredRun) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.recovered = append(m.recovered, runs...)
	for _, recovered := range runs {
		key := runKey{recovered.FrameworkID, recovered.ExecutorID}
		m.runs[key] = &mockRun{done: make(chan struct{})}
	}
	return nil
}
