package agent

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skiffworks/skiff/internal/agent/isolator"
	"github.com/skiffworks/skiff/internal/agent/options"
	"github.com/skiffworks/skiff/pkg/actor"
	"github.com/skiffworks/skiff/pkg/resource"
	"github.com/skiffworks/skiff/pkg/sproto"
)

// noopDetector never reports a master; tests drive registration replies directly.
type noopDetector struct{}

func (noopDetector) Detect(*actor.System, *actor.Ref) {}

type harness struct {
	system *actor.System
	clk    *clock.Mock
	iso    *isolator.Mock
	slave  *actor.Ref
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	opts := *options.DefaultOptions()
	opts.Hostname = "test-node"
	opts.WorkDir = t.TempDir()
	opts.MetaDir = t.TempDir()
	opts.Checkpoint = true
	opts.Resources = "cpus:4;mem:1024"

	system := actor.NewSystem(t.Name())
	t.Cleanup(func() { system.Stop() })

	iso := isolator.NewMock()
	clk := clock.NewMock()
	slave, created := system.ActorOf(actor.Addr("slave"),
		NewSlave("test", opts, clk, iso, noopDetector{}))
	require.True(t, created)

	h := &harness{system: system, clk: clk, iso: iso, slave: slave}

	// Promote the agent to RUNNING as a master would.
	h.tellMaster(sproto.SlaveMessage{Registered: &sproto.Registered{SlaveID: "slave-1"}})
	h.waitFor(t, "agent running", func(snap StateSnapshot) bool {
		return snap.State == SlaveRunning
	})
	return h
}

func (h *harness) tellMaster(msg sproto.SlaveMessage) {
	h.system.Tell(h.slave, msg)
}

func (h *harness) tellExecutor(msg sproto.ExecutorMessage) {
	h.system.Tell(h.slave, msg)
}

func (h *harness) snapshot(t *testing.T) StateSnapshot {
	t.Helper()
	resp := h.system.Ask(h.slave, GetState{}).Get()
	snap, ok := resp.(StateSnapshot)
	require.True(t, ok, "unexpected state response %T", resp)
	return snap
}

// waitFor polls the agent's snapshot until the condition holds, failing the test after a bound.
func (h *harness) waitFor(t *testing.T, what string, cond func(StateSnapshot) bool) StateSnapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		snap := h.snapshot(t)
		if cond(snap) {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; state: %+v", what, snap)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func runTaskMsg(taskID sproto.TaskID, resources string) sproto.RunTask {
	return sproto.RunTask{
		Framework: sproto.FrameworkInfo{
			Name: "analytics", User: "alice", Checkpoint: true,
		},
		FrameworkID: "fw-1",
		Pid:         "scheduler@10.0.0.1:5050",
		Task: sproto.TaskInfo{
			Name:      "crunch",
			ID:        taskID,
			SlaveID:   "slave-1",
			Resources: mustParse(resources),
			Command:   &sproto.CommandInfo{Value: "./crunch"},
		},
	}
}

func mustParse(s string) resource.Resources {
	rs, err := resource.Parse(s)
	if err != nil {
		panic(err)
	}
	return rs
}

func findTask(snap StateSnapshot, taskID sproto.TaskID) (*Executor, *Task) {
	for _, framework := range append(append([]*Framework{}, snap.Frameworks...),
		snap.CompletedFrameworks...) {
		for _, executor := range framework.Executors {
			if task, ok := executor.LaunchedTasks[taskID]; ok {
				return executor, task
			}
			if task, ok := executor.TerminatedTasks[taskID]; ok {
				return executor, task
			}
			for _, task := range executor.CompletedTasks {
				if task.Info.ID == taskID {
					return executor, task
				}
			}
		}
		for _, executor := range framework.CompletedExecutors {
			for _, task := range executor.CompletedTasks {
				if task.Info.ID == taskID {
					return executor, task
				}
			}
		}
	}
	return nil, nil
}

// TestTaskLaunchAndAcknowledgement walks the happy path: task assignment, executor launch and
// registration, RUNNING and FINISHED updates, master acknowledgements, completion.
func TestTaskLaunchAndAcknowledgement(t *testing.T) {
	h := newHarness(t)

	h.tellMaster(sproto.SlaveMessage{RunTask: ptr(runTaskMsg("task-1", "cpus:1"))})

	// The isolator sees exactly one launch for the synthesised command executor.
	var spec isolator.LaunchSpec
	select {
	case spec = <-h.iso.Launched():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the executor launch")
	}
	assert.Equal(t, sproto.ExecutorID("task-1"), spec.ExecutorID)

	// The executor registers; its queued task is flushed to it.
	h.tellExecutor(sproto.ExecutorMessage{RegisterExecutor: &sproto.RegisterExecutor{
		FrameworkID: "fw-1", ExecutorID: spec.ExecutorID,
	}})
	h.waitFor(t, "task launched", func(snap StateSnapshot) bool {
		executor, task := findTask(snap, "task-1")
		return executor != nil && executor.State == ExecutorRunning &&
			task != nil && task.State == sproto.TaskStaging
	})

	// RUNNING, then FINISHED, each acknowledged by the master.
	running := sproto.NewStatusUpdate("slave-1", "fw-1", spec.ExecutorID,
		sproto.TaskStatus{TaskID: "task-1", State: sproto.TaskRunning})
	h.tellExecutor(sproto.ExecutorMessage{StatusUpdate: &running})
	h.waitFor(t, "task running", func(snap StateSnapshot) bool {
		_, task := findTask(snap, "task-1")
		return task != nil && task.State == sproto.TaskRunning
	})

	finished := sproto.NewStatusUpdate("slave-1", "fw-1", spec.ExecutorID,
		sproto.TaskStatus{TaskID: "task-1", State: sproto.TaskFinished})
	h.tellExecutor(sproto.ExecutorMessage{StatusUpdate: &finished})
	h.waitFor(t, "task terminated", func(snap StateSnapshot) bool {
		executor, _ := findTask(snap, "task-1")
		return executor != nil && len(executor.TerminatedTasks) == 1
	})

	h.tellMaster(sproto.SlaveMessage{
		StatusUpdateAcknowledgement: &sproto.StatusUpdateAcknowledgement{
			SlaveID: "slave-1", FrameworkID: "fw-1", TaskID: "task-1", UUID: running.UUID,
		},
	})
	h.tellMaster(sproto.SlaveMessage{
		StatusUpdateAcknowledgement: &sproto.StatusUpdateAcknowledgement{
			SlaveID: "slave-1", FrameworkID: "fw-1", TaskID: "task-1", UUID: finished.UUID,
		},
	})

	// After the terminal acknowledgement the task sits in the completed ring.
	h.waitFor(t, "task completed", func(snap StateSnapshot) bool {
		executor, task := findTask(snap, "task-1")
		return executor != nil && task != nil &&
			len(executor.TerminatedTasks) == 0 && len(executor.CompletedTasks) == 1
	})

	// Once its process exits the executor is terminated and cleaned up.
	h.iso.Exit("fw-1", spec.ExecutorID, 0)
	h.waitFor(t, "executor cleaned up", func(snap StateSnapshot) bool {
		for _, framework := range snap.CompletedFrameworks {
			if len(framework.CompletedExecutors) == 1 {
				return true
			}
		}
		return false
	})
}

// TestExecutorRegistrationTimeout covers a launched executor that never registers: the agent
// shuts it down and the queued task surfaces as LOST.
func TestExecutorRegistrationTimeout(t *testing.T) {
	h := newHarness(t)

	h.tellMaster(sproto.SlaveMessage{RunTask: ptr(runTaskMsg("task-1", "cpus:1"))})
	select {
	case <-h.iso.Launched():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the executor launch")
	}

	// No registration: the registration timeout forces a shutdown, and after the grace period
	// the isolator destroys the run.
	opts := options.DefaultOptions()
	h.clk.Add(opts.ExecutorRegistrationTimeout + time.Second)
	h.waitFor(t, "executor terminating", func(snap StateSnapshot) bool {
		executor, _ := findTask(snap, "task-1")
		if executor == nil {
			for _, framework := range snap.Frameworks {
				for _, e := range framework.Executors {
					executor = e
				}
			}
		}
		return executor != nil && executor.State == ExecutorTerminating
	})
	h.clk.Add(opts.ExecutorShutdownGracePeriod + time.Second)

	h.waitFor(t, "queued task lost", func(snap StateSnapshot) bool {
		_, task := findTask(snap, "task-1")
		return task != nil && task.State == sproto.TaskLost
	})
}

// TestTaskDroppedForTerminatingFramework covers the policy that a terminating framework's
// incoming tasks are dropped with a LOST update rather than launched.
func TestTaskDroppedForTerminatingFramework(t *testing.T) {
	h := newHarness(t)

	h.tellMaster(sproto.SlaveMessage{RunTask: ptr(runTaskMsg("task-1", "cpus:1"))})
	select {
	case <-h.iso.Launched():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the executor launch")
	}

	h.tellMaster(sproto.SlaveMessage{
		ShutdownFramework: &sproto.ShutdownFramework{FrameworkID: "fw-1"},
	})
	h.waitFor(t, "framework terminating", func(snap StateSnapshot) bool {
		return len(snap.Frameworks) == 0 || snap.Frameworks[0].State == FrameworkTerminating
	})

	// A second task for the same framework is refused.
	h.tellMaster(sproto.SlaveMessage{RunTask: ptr(runTaskMsg("task-2", "cpus:1"))})
	select {
	case unexpected := <-h.iso.Launched():
		t.Fatalf("unexpected launch for %s", unexpected.ExecutorID)
	case <-time.After(200 * time.Millisecond):
	}
}

// TestTaskExceedingResourcesIsLost covers containment enforcement against the agent's
// advertised bundle.
func TestTaskExceedingResourcesIsLost(t *testing.T) {
	h := newHarness(t)

	h.tellMaster(sproto.SlaveMessage{RunTask: ptr(runTaskMsg("task-1", "cpus:64"))})

	select {
	case unexpected := <-h.iso.Launched():
		t.Fatalf("unexpected launch for %s", unexpected.ExecutorID)
	case <-time.After(200 * time.Millisecond):
	}
}

// TestExecutorExitLosesLaunchedTasks covers the failure taxonomy: a dying executor takes its
// non-terminal tasks with it.
func TestExecutorExitLosesLaunchedTasks(t *testing.T) {
	h := newHarness(t)

	h.tellMaster(sproto.SlaveMessage{RunTask: ptr(runTaskMsg("task-1", "cpus:1"))})
	var spec isolator.LaunchSpec
	select {
	case spec = <-h.iso.Launched():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the executor launch")
	}
	h.tellExecutor(sproto.ExecutorMessage{RegisterExecutor: &sproto.RegisterExecutor{
		FrameworkID: "fw-1", ExecutorID: spec.ExecutorID,
	}})
	running := sproto.NewStatusUpdate("slave-1", "fw-1", spec.ExecutorID,
		sproto.TaskStatus{TaskID: "task-1", State: sproto.TaskRunning})
	h.tellExecutor(sproto.ExecutorMessage{StatusUpdate: &running})
	h.waitFor(t, "task running", func(snap StateSnapshot) bool {
		_, task := findTask(snap, "task-1")
		return task != nil && task.State == sproto.TaskRunning
	})

	h.iso.Exit("fw-1", spec.ExecutorID, 137)
	h.waitFor(t, "task lost", func(snap StateSnapshot) bool {
		_, task := findTask(snap, "task-1")
		return task != nil && task.State == sproto.TaskLost
	})
}

func ptr[T any](v T) *T {
	return &v
}
