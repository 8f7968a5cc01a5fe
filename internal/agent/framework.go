package agent

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/skiffworks/skiff/pkg/sproto"
)

// FrameworkState represents the current state of a framework on this agent.
type FrameworkState string

const (
	// FrameworkRunning is the first state of a newly created framework.
	FrameworkRunning FrameworkState = "RUNNING"
	// FrameworkTerminating means the framework is shutting down in the cluster; its tasks are
	// dropped and its executors are being shut down.
	FrameworkTerminating FrameworkState = "TERMINATING"
)

// Framework is the collection of executors belonging to one framework on this agent. It is
// owned by the Slave.
type Framework struct {
	ID   sproto.FrameworkID   `json:"id"`
	Info sproto.FrameworkInfo `json:"info"`
	// Pid is the framework scheduler's endpoint.
	Pid   string         `json:"pid"`
	State FrameworkState `json:"state"`

	// Pending tracks tasks accepted but still being set up asynchronously, per executor.
	Pending map[sproto.ExecutorID]map[sproto.TaskID]bool `json:"-"`

	Executors map[sproto.ExecutorID]*Executor `json:"executors"`
	// CompletedExecutors is a bounded ring of destroyed executors kept for inspection.
	CompletedExecutors []*Executor `json:"completed_executors"`
}

func newFramework(id sproto.FrameworkID, info sproto.FrameworkInfo, pid string) *Framework {
	return &Framework{
		ID:    id,
		Info:  info,
		Pid:   pid,
		State: FrameworkRunning,

		Pending:   make(map[sproto.ExecutorID]map[sproto.TaskID]bool),
		Executors: make(map[sproto.ExecutorID]*Executor),
	}
}

// launchExecutor creates a new executor record with a fresh run uuid. It fails if an executor
// with the same id is still live.
func (f *Framework) launchExecutor(
	info sproto.ExecutorInfo, directory string, checkpoint bool,
) (*Executor, error) {
	if existing, ok := f.Executors[info.ID]; ok {
		return nil, errors.Errorf("executor %s already exists in state %s", info.ID, existing.State)
	}
	executor := newExecutor(f.ID, info, uuid.New(), directory, checkpoint)
	f.Executors[info.ID] = executor
	return executor, nil
}

// destroyExecutor moves the named executor to the completed ring, evicting the oldest entry if
// the ring is full.
func (f *Framework) destroyExecutor(executorID sproto.ExecutorID) {
	executor, ok := f.Executors[executorID]
	if !ok {
		return
	}
	delete(f.Executors, executorID)
	if len(f.CompletedExecutors) >= maxCompletedExecutorsPerFramework {
		f.CompletedExecutors = f.CompletedExecutors[1:]
	}
	f.CompletedExecutors = append(f.CompletedExecutors, executor)
}

// getExecutor returns the live executor with the provided id, or nil.
func (f *Framework) getExecutor(executorID sproto.ExecutorID) *Executor {
	return f.Executors[executorID]
}

// getExecutorForTask scans the framework's executors for the one hosting the task, in any of
// its task tables. This linear scan is the authoritative reverse index.
func (f *Framework) getExecutorForTask(taskID sproto.TaskID) *Executor {
	for _, executor := range f.Executors {
		if _, ok := executor.QueuedTasks[taskID]; ok {
			return executor
		}
		if _, ok := executor.LaunchedTasks[taskID]; ok {
			return executor
		}
		if _, ok := executor.TerminatedTasks[taskID]; ok {
			return executor
		}
		for _, task := range executor.CompletedTasks {
			if task.Info.ID == taskID {
				return executor
			}
		}
	}
	return nil
}

// addPending records a task whose launch is suspended on asynchronous setup.
func (f *Framework) addPending(executorID sproto.ExecutorID, taskID sproto.TaskID) {
	if f.Pending[executorID] == nil {
		f.Pending[executorID] = make(map[sproto.TaskID]bool)
	}
	f.Pending[executorID][taskID] = true
}

// hasPending returns true while any task launch is suspended on asynchronous setup.
func (f *Framework) hasPending() bool {
	return len(f.Pending) > 0
}

// removePending clears a task's pending mark, reporting whether it was still pending. A cleared
// mark means the task was dropped while its setup was in flight.
func (f *Framework) removePending(executorID sproto.ExecutorID, taskID sproto.TaskID) bool {
	tasks, ok := f.Pending[executorID]
	if !ok || !tasks[taskID] {
		return false
	}
	delete(tasks, taskID)
	if len(tasks) == 0 {
		delete(f.Pending, executorID)
	}
	return true
}
