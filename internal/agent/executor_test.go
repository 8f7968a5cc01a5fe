package agent

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skiffworks/skiff/pkg/sproto"
)

func taskInfo(id sproto.TaskID, resources string) sproto.TaskInfo {
	return sproto.TaskInfo{
		ID:        id,
		Name:      string(id),
		Resources: mustParse(resources),
		Command:   &sproto.CommandInfo{Value: "true"},
	}
}

func testExecutor() *Executor {
	return newExecutor("fw-1", sproto.ExecutorInfo{ID: "exec-1", FrameworkID: "fw-1"},
		uuid.New(), "/tmp/sandbox", true)
}

func statusOf(id sproto.TaskID, state sproto.TaskState) sproto.TaskStatus {
	return sproto.TaskStatus{TaskID: id, State: state}
}

// tables returns how many of the executor's task tables hold the task id.
func tables(e *Executor, id sproto.TaskID) int {
	count := 0
	if _, ok := e.QueuedTasks[id]; ok {
		count++
	}
	if _, ok := e.LaunchedTasks[id]; ok {
		count++
	}
	if _, ok := e.TerminatedTasks[id]; ok {
		count++
	}
	for _, task := range e.CompletedTasks {
		if task.Info.ID == id {
			count++
		}
	}
	return count
}

func TestTaskLivesInExactlyOneTable(t *testing.T) {
	e := testExecutor()

	e.addTask(taskInfo("task-1", "cpus:1"))
	assert.Equal(t, 1, tables(e, "task-1"))

	_, err := e.launchTask("task-1")
	require.NoError(t, err)
	assert.Equal(t, 1, tables(e, "task-1"))

	e.terminateTask("task-1", statusOf("task-1", sproto.TaskFinished))
	assert.Equal(t, 1, tables(e, "task-1"))

	e.completeTask("task-1")
	assert.Equal(t, 1, tables(e, "task-1"))
}

func TestExecutorResourcesTrackLiveTasks(t *testing.T) {
	e := testExecutor()

	e.addTask(taskInfo("task-1", "cpus:1;mem:128"))
	e.addTask(taskInfo("task-2", "cpus:2;mem:256"))
	assert.True(t, e.Resources.Equal(mustParse("cpus:3;mem:384")))

	_, err := e.launchTask("task-1")
	require.NoError(t, err)
	assert.True(t, e.Resources.Equal(mustParse("cpus:3;mem:384")))

	// Terminating a task releases its slice, whether it was launched or still queued.
	e.terminateTask("task-1", statusOf("task-1", sproto.TaskFailed))
	assert.True(t, e.Resources.Equal(mustParse("cpus:2;mem:256")))

	e.terminateTask("task-2", statusOf("task-2", sproto.TaskKilled))
	assert.True(t, e.Resources.Empty())
}

func TestCompletedTasksRingIsBounded(t *testing.T) {
	e := testExecutor()

	for i := 0; i < maxCompletedTasksPerExecutor+10; i++ {
		id := sproto.TaskID(fmt.Sprintf("task-%d", i))
		e.addTask(taskInfo(id, "cpus:0.1"))
		_, err := e.launchTask(id)
		require.NoError(t, err)
		e.terminateTask(id, statusOf(id, sproto.TaskFinished))
		e.completeTask(id)
	}

	assert.Len(t, e.CompletedTasks, maxCompletedTasksPerExecutor)
	// The oldest entries were evicted.
	assert.Equal(t, sproto.TaskID("task-10"), e.CompletedTasks[0].Info.ID)
}

func TestExecutorTransitions(t *testing.T) {
	e := testExecutor()
	require.Equal(t, ExecutorRegistering, e.State)

	e.transition(ExecutorRunning)
	e.transition(ExecutorTerminating)
	e.transition(ExecutorTerminated)

	assert.Panics(t, func() { e.transition(ExecutorRunning) })
}

func TestTerminatableRequiresExitAndDrainedUpdates(t *testing.T) {
	e := testExecutor()
	e.addTask(taskInfo("task-1", "cpus:1"))
	_, err := e.launchTask("task-1")
	require.NoError(t, err)

	e.terminateTask("task-1", statusOf("task-1", sproto.TaskFinished))
	assert.False(t, e.terminatable(), "pending terminal update must block termination")

	e.exited = true
	assert.False(t, e.terminatable())

	e.completeTask("task-1")
	assert.True(t, e.terminatable())
}

func TestLaunchExecutorRejectsDuplicateID(t *testing.T) {
	f := newFramework("fw-1", sproto.FrameworkInfo{Name: "analytics"}, "scheduler@host:1")

	first, err := f.launchExecutor(sproto.ExecutorInfo{ID: "exec-1"}, "/tmp/a", true)
	require.NoError(t, err)
	require.NotNil(t, first)

	_, err = f.launchExecutor(sproto.ExecutorInfo{ID: "exec-1"}, "/tmp/b", true)
	assert.Error(t, err)

	// Destroying the first frees the id for a fresh incarnation with a new run uuid.
	f.destroyExecutor("exec-1")
	second, err := f.launchExecutor(sproto.ExecutorInfo{ID: "exec-1"}, "/tmp/c", true)
	require.NoError(t, err)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Len(t, f.CompletedExecutors, 1)
}

func TestGetExecutorForTaskScansAllTables(t *testing.T) {
	f := newFramework("fw-1", sproto.FrameworkInfo{}, "")
	e, err := f.launchExecutor(sproto.ExecutorInfo{ID: "exec-1"}, "/tmp/a", true)
	require.NoError(t, err)

	e.addTask(taskInfo("task-1", "cpus:1"))
	assert.Equal(t, e, f.getExecutorForTask("task-1"))

	_, err = e.launchTask("task-1")
	require.NoError(t, err)
	assert.Equal(t, e, f.getExecutorForTask("task-1"))

	e.terminateTask("task-1", statusOf("task-1", sproto.TaskFinished))
	assert.Equal(t, e, f.getExecutorForTask("task-1"))

	e.completeTask("task-1")
	assert.Equal(t, e, f.getExecutorForTask("task-1"))

	assert.Nil(t, f.getExecutorForTask("task-2"))
}
