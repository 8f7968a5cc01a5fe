package agent

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/skiffworks/skiff/internal/agent/state"
	"github.com/skiffworks/skiff/pkg/actor"
	"github.com/skiffworks/skiff/pkg/check"
	"github.com/skiffworks/skiff/pkg/resource"
	"github.com/skiffworks/skiff/pkg/sproto"
)

// ExecutorState represents the current state of an executor.
type ExecutorState string

func (s ExecutorState) String() string {
	return string(s)
}

const (
	// ExecutorRegistering means the executor is launched but not (re-)registered yet.
	ExecutorRegistering ExecutorState = "REGISTERING"
	// ExecutorRunning means the executor has (re-)registered.
	ExecutorRunning ExecutorState = "RUNNING"
	// ExecutorTerminating means the executor is being shut down or killed.
	ExecutorTerminating ExecutorState = "TERMINATING"
	// ExecutorTerminated means the executor's process has exited and no terminal status update
	// is left awaiting acknowledgement.
	ExecutorTerminated ExecutorState = "TERMINATED"
)

var validExecutorTransitions = map[ExecutorState]map[ExecutorState]bool{
	ExecutorRegistering: {ExecutorRunning: true, ExecutorTerminating: true},
	ExecutorRunning:     {ExecutorTerminating: true},
	ExecutorTerminating: {ExecutorTerminated: true},
	ExecutorTerminated:  {},
}

// Executor is the lifecycle record of one executor run and the tasks it hosts. It is owned
// exclusively by its Framework.
type Executor struct {
	ID          sproto.ExecutorID   `json:"id"`
	FrameworkID sproto.FrameworkID  `json:"framework_id"`
	Info        sproto.ExecutorInfo `json:"info"`
	// RunID distinguishes two incarnations of the same executor id.
	RunID     uuid.UUID `json:"run_id"`
	Directory string    `json:"directory"`
	// Checkpoint mirrors the owning framework's checkpoint opt-in.
	Checkpoint bool          `json:"checkpoint"`
	State      ExecutorState `json:"state"`

	// Resources is the sum of resources across queued and launched tasks.
	Resources resource.Resources `json:"resources"`

	QueuedTasks     map[sproto.TaskID]sproto.TaskInfo `json:"queued_tasks"`
	LaunchedTasks   map[sproto.TaskID]*Task           `json:"launched_tasks"`
	TerminatedTasks map[sproto.TaskID]*Task           `json:"terminated_tasks"`
	// CompletedTasks is a bounded ring of terminated tasks whose final update was acknowledged.
	CompletedTasks []*Task `json:"completed_tasks"`

	// socket is the executor's connection, nil until it registers.
	socket *actor.Ref
	// exited is set once the underlying process is known to have exited.
	exited bool
}

func newExecutor(
	frameworkID sproto.FrameworkID, info sproto.ExecutorInfo, runID uuid.UUID,
	directory string, checkpoint bool,
) *Executor {
	return &Executor{
		ID:          info.ID,
		FrameworkID: frameworkID,
		Info:        info,
		RunID:       runID,
		Directory:   directory,
		Checkpoint:  checkpoint,
		State:       ExecutorRegistering,

		QueuedTasks:     make(map[sproto.TaskID]sproto.TaskInfo),
		LaunchedTasks:   make(map[sproto.TaskID]*Task),
		TerminatedTasks: make(map[sproto.TaskID]*Task),
	}
}

// transition moves the executor to the provided state, panicking on an illegal transition.
func (e *Executor) transition(to ExecutorState) {
	check.Panic(check.True(validExecutorTransitions[e.State][to],
		"executor %s cannot transition from %s to %s", e.ID, e.State, to))
	e.State = to
}

// addTask enqueues a task; it stays queued until the executor registers.
func (e *Executor) addTask(info sproto.TaskInfo) {
	e.QueuedTasks[info.ID] = info
	e.Resources = e.Resources.Plus(info.Resources)
}

// launchTask moves a queued task to the launched table, returning its record.
func (e *Executor) launchTask(taskID sproto.TaskID) (*Task, error) {
	info, ok := e.QueuedTasks[taskID]
	if !ok {
		return nil, errors.Errorf("task %s is not queued on executor %s", taskID, e.ID)
	}
	delete(e.QueuedTasks, taskID)
	task := newTask(info)
	e.LaunchedTasks[taskID] = task
	return task, nil
}

// updateTaskState records a non-terminal state change on a launched task.
func (e *Executor) updateTaskState(taskID sproto.TaskID, status sproto.TaskStatus) {
	if task, ok := e.LaunchedTasks[taskID]; ok {
		task.State = status.State
		task.LatestStatus = &status
	}
}

// terminateTask moves the task to the terminated table and releases its resources. The task may
// still be queued when the executor dies before launching it.
func (e *Executor) terminateTask(taskID sproto.TaskID, status sproto.TaskStatus) {
	var task *Task
	switch {
	case e.LaunchedTasks[taskID] != nil:
		task = e.LaunchedTasks[taskID]
		delete(e.LaunchedTasks, taskID)
	default:
		info, ok := e.QueuedTasks[taskID]
		if !ok {
			return
		}
		delete(e.QueuedTasks, taskID)
		task = newTask(info)
	}

	task.State = status.State
	task.LatestStatus = &status
	e.Resources = e.Resources.MinusUnchecked(task.Info.Resources)
	e.TerminatedTasks[taskID] = task
}

// completeTask moves an acknowledged terminated task into the completed ring.
func (e *Executor) completeTask(taskID sproto.TaskID) {
	task, ok := e.TerminatedTasks[taskID]
	if !ok {
		return
	}
	delete(e.TerminatedTasks, taskID)
	if len(e.CompletedTasks) >= maxCompletedTasksPerExecutor {
		e.CompletedTasks = e.CompletedTasks[1:]
	}
	e.CompletedTasks = append(e.CompletedTasks, task)
}

// recoverTask rebuilds one task from its checkpointed launch info and update log.
func (e *Executor) recoverTask(recovered *state.TaskState) {
	task := newTask(recovered.Info)
	var last *sproto.StatusUpdate
	for i := range recovered.Updates {
		update := recovered.Updates[i]
		last = &update
		task.State = update.Status.State
		status := update.Status
		task.LatestStatus = &status
	}

	switch {
	case last != nil && last.Status.State.Terminal() && recovered.Acked[last.UUID]:
		// Fully delivered; straight to the completed ring.
		if len(e.CompletedTasks) >= maxCompletedTasksPerExecutor {
			e.CompletedTasks = e.CompletedTasks[1:]
		}
		e.CompletedTasks = append(e.CompletedTasks, task)
	case last != nil && last.Status.State.Terminal():
		e.TerminatedTasks[task.Info.ID] = task
	default:
		e.LaunchedTasks[task.Info.ID] = task
		e.Resources = e.Resources.Plus(task.Info.Resources)
	}
}

// incompleteTasks returns true while any task is queued, launched, or awaiting its final
// acknowledgement.
func (e *Executor) incompleteTasks() bool {
	return len(e.QueuedTasks) > 0 || len(e.LaunchedTasks) > 0 || len(e.TerminatedTasks) > 0
}

// terminatable returns true once the process has exited and every terminal status update has
// been acknowledged.
func (e *Executor) terminatable() bool {
	return e.exited && !e.incompleteTasks()
}
