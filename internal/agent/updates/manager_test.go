package updates

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skiffworks/skiff/internal/agent/state"
	"github.com/skiffworks/skiff/pkg/actor"
	"github.com/skiffworks/skiff/pkg/sproto"
)

const (
	testSlave     = sproto.SlaveID("slave-1")
	testFramework = sproto.FrameworkID("fw-1")
	testExecutor  = sproto.ExecutorID("exec-1")
	testTask      = sproto.TaskID("task-1")
)

func testOptions() Options {
	return Options{InitialBackoff: 10 * time.Second, MaxBackoff: time.Minute}
}

func setup(t *testing.T) (*actor.System, *clock.Mock, *actor.Ref, chan sproto.StatusUpdate) {
	t.Helper()
	system := actor.NewSystem(t.Name())
	t.Cleanup(func() { system.Stop() })

	forwarded := make(chan sproto.StatusUpdate, 64)
	sink, created := system.ActorOf(actor.Addr("sink"), actor.ActorFunc(
		func(ctx *actor.Context) error {
			if msg, ok := ctx.Message().(ForwardUpdate); ok {
				forwarded <- msg.Update
			}
			return nil
		}))
	require.True(t, created)

	clk := clock.NewMock()
	manager, created := system.ActorOf(actor.Addr("status-updates"),
		NewManager(testOptions(), clk, sink))
	require.True(t, created)

	system.Tell(manager, MasterConnected{})
	return system, clk, manager, forwarded
}

func update(stateValue sproto.TaskState) sproto.StatusUpdate {
	return sproto.NewStatusUpdate(testSlave, testFramework, testExecutor,
		sproto.TaskStatus{TaskID: testTask, State: stateValue})
}

func nextForwarded(t *testing.T, forwarded chan sproto.StatusUpdate) sproto.StatusUpdate {
	t.Helper()
	select {
	case u := <-forwarded:
		return u
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a forwarded update")
		return sproto.StatusUpdate{}
	}
}

func TestUpdatesAreForwardedInOrder(t *testing.T) {
	system, _, manager, forwarded := setup(t)

	running := update(sproto.TaskRunning)
	finished := update(sproto.TaskFinished)

	require.NoError(t, system.Ask(manager, Update{Update: running}).Error())
	require.NoError(t, system.Ask(manager, Update{Update: finished}).Error())

	// Only the head is in flight; FINISHED is held back until RUNNING is acknowledged.
	assert.Equal(t, running.UUID, nextForwarded(t, forwarded).UUID)
	assert.Len(t, forwarded, 0)

	resp := system.Ask(manager, Acknowledge{
		FrameworkID: testFramework, TaskID: testTask, UUID: running.UUID,
	}).Get()
	require.Equal(t, Acknowledged{Drained: false}, resp)

	assert.Equal(t, finished.UUID, nextForwarded(t, forwarded).UUID)

	resp = system.Ask(manager, Acknowledge{
		FrameworkID: testFramework, TaskID: testTask, UUID: finished.UUID,
	}).Get()
	require.Equal(t, Acknowledged{Drained: true}, resp)
}

func TestAcknowledgementMustMatchHead(t *testing.T) {
	system, _, manager, forwarded := setup(t)

	running := update(sproto.TaskRunning)
	require.NoError(t, system.Ask(manager, Update{Update: running}).Error())
	nextForwarded(t, forwarded)

	err := system.Ask(manager, Acknowledge{
		FrameworkID: testFramework, TaskID: testTask, UUID: uuid.New(),
	}).Error()
	assert.Error(t, err)

	// The stream is intact; the right uuid still works.
	resp := system.Ask(manager, Acknowledge{
		FrameworkID: testFramework, TaskID: testTask, UUID: running.UUID,
	}).Get()
	assert.Equal(t, Acknowledged{Drained: false}, resp)
}

func TestDuplicateUpdateIsAcceptedOnceAndNotRequeued(t *testing.T) {
	system, _, manager, forwarded := setup(t)

	running := update(sproto.TaskRunning)
	require.NoError(t, system.Ask(manager, Update{Update: running}).Error())
	nextForwarded(t, forwarded)

	// A restarted executor replays the same update; the manager still reports success so the
	// executor gets its acknowledgement, but nothing new is queued.
	require.NoError(t, system.Ask(manager, Update{Update: running}).Error())
	assert.Len(t, forwarded, 0)
}

func TestRetransmissionWithBackoff(t *testing.T) {
	system, clk, manager, forwarded := setup(t)

	running := update(sproto.TaskRunning)
	require.NoError(t, system.Ask(manager, Update{Update: running}).Error())
	assert.Equal(t, running.UUID, nextForwarded(t, forwarded).UUID)

	// No acknowledgement: the update is retransmitted after the initial backoff.
	clk.Add(testOptions().InitialBackoff + time.Second)
	assert.Equal(t, running.UUID, nextForwarded(t, forwarded).UUID)

	// And again, later, after the grown backoff.
	clk.Add(2 * testOptions().InitialBackoff)
	assert.Equal(t, running.UUID, nextForwarded(t, forwarded).UUID)
}

func TestRetransmissionStopsAfterAcknowledgement(t *testing.T) {
	system, clk, manager, forwarded := setup(t)

	running := update(sproto.TaskRunning)
	require.NoError(t, system.Ask(manager, Update{Update: running}).Error())
	nextForwarded(t, forwarded)

	system.Ask(manager, Acknowledge{
		FrameworkID: testFramework, TaskID: testTask, UUID: running.UUID,
	}).Get()

	clk.Add(10 * testOptions().MaxBackoff)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, forwarded, 0)
}

func TestPausedManagerBuffersUpdates(t *testing.T) {
	system, _, manager, forwarded := setup(t)

	system.Tell(manager, MasterDisconnected{})
	running := update(sproto.TaskRunning)
	require.NoError(t, system.Ask(manager, Update{Update: running}).Error())

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, forwarded, 0)

	system.Tell(manager, MasterConnected{})
	assert.Equal(t, running.UUID, nextForwarded(t, forwarded).UUID)
}

func TestCleanupDropsFrameworkStreams(t *testing.T) {
	system, clk, manager, forwarded := setup(t)

	running := update(sproto.TaskRunning)
	require.NoError(t, system.Ask(manager, Update{Update: running}).Error())
	nextForwarded(t, forwarded)

	system.Tell(manager, Cleanup{FrameworkID: testFramework})

	// No retransmissions for the dropped stream, and acknowledgements for it now fail.
	clk.Add(10 * testOptions().MaxBackoff)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, forwarded, 0)
	assert.Error(t, system.Ask(manager, Acknowledge{
		FrameworkID: testFramework, TaskID: testTask, UUID: running.UUID,
	}).Error())
}

// TestRecoverRetransmitsUnackedUpdates covers the crash-after-checkpoint case: FINISHED was
// durably logged but the master's acknowledgement never arrived before the restart.
func TestRecoverRetransmitsUnackedUpdates(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "updates")

	running := update(sproto.TaskRunning)
	finished := update(sproto.TaskFinished)

	writer, err := state.OpenRecordWriter(logPath)
	require.NoError(t, err)
	require.NoError(t, writer.Append(state.RecordStatusUpdate, running))
	require.NoError(t, writer.Append(state.RecordAcknowledgement,
		state.Acknowledgement{UUID: running.UUID.String()}))
	require.NoError(t, writer.Append(state.RecordStatusUpdate, finished))
	require.NoError(t, writer.Close())

	records, err := state.ReadRecords(logPath)
	require.NoError(t, err)
	require.Len(t, records, 3)

	system, _, manager, forwarded := setup(t)
	system.Tell(manager, MasterDisconnected{})
	system.Tell(manager, Recover{Streams: []RecoveredStream{{
		FrameworkID: testFramework,
		TaskID:      testTask,
		LogPath:     logPath,
		Updates:     []sproto.StatusUpdate{running, finished},
		Acked:       map[uuid.UUID]bool{running.UUID: true},
	}}})

	// Reconnecting retransmits the unacknowledged FINISHED, not the acknowledged RUNNING.
	system.Tell(manager, MasterConnected{})
	assert.Equal(t, finished.UUID, nextForwarded(t, forwarded).UUID)
	assert.Len(t, forwarded, 0)

	resp := system.Ask(manager, Acknowledge{
		FrameworkID: testFramework, TaskID: testTask, UUID: finished.UUID,
	}).Get()
	assert.Equal(t, Acknowledged{Drained: true}, resp)
}

// TestLogFailureDegradesStreamToBestEffort covers the non-strict durable-log policy: on a
// write failure the stream loses its log but keeps delivering.
func TestLogFailureDegradesStreamToBestEffort(t *testing.T) {
	system, _, manager, forwarded := setup(t)

	// A log path in a directory that does not exist fails to open.
	badPath := filepath.Join(t.TempDir(), "missing", "updates")
	running := update(sproto.TaskRunning)
	require.NoError(t, system.Ask(manager, Update{Update: running, LogPath: badPath}).Error())
	assert.Equal(t, running.UUID, nextForwarded(t, forwarded).UUID)

	// The degraded stream still orders and acknowledges normally.
	finished := update(sproto.TaskFinished)
	require.NoError(t, system.Ask(manager, Update{Update: finished, LogPath: badPath}).Error())
	resp := system.Ask(manager, Acknowledge{
		FrameworkID: testFramework, TaskID: testTask, UUID: running.UUID,
	}).Get()
	require.Equal(t, Acknowledged{Drained: false}, resp)
	assert.Equal(t, finished.UUID, nextForwarded(t, forwarded).UUID)

	// Nothing was ever written durably.
	_, err := os.Stat(badPath)
	assert.True(t, os.IsNotExist(err))
}

// TestLogFailureIsFatalUnderStrict covers the strict durable-log policy: the manager dies on a
// write failure instead of degrading.
func TestLogFailureIsFatalUnderStrict(t *testing.T) {
	system := actor.NewSystem(t.Name())
	t.Cleanup(func() { system.Stop() })

	sink, created := system.ActorOf(actor.Addr("sink"), actor.ActorFunc(
		func(ctx *actor.Context) error { return nil }))
	require.True(t, created)

	opts := testOptions()
	opts.Strict = true
	manager, created := system.ActorOf(actor.Addr("status-updates"),
		NewManager(opts, clock.NewMock(), sink))
	require.True(t, created)
	system.Tell(manager, MasterConnected{})

	badPath := filepath.Join(t.TempDir(), "missing", "updates")
	system.Tell(manager, Update{Update: update(sproto.TaskRunning), LogPath: badPath})

	err := manager.AwaitTermination()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to checkpoint")
}

func TestRecoveredFullyAckedStreamIsDropped(t *testing.T) {
	system, _, manager, forwarded := setup(t)

	finished := update(sproto.TaskFinished)
	system.Tell(manager, Recover{Streams: []RecoveredStream{{
		FrameworkID: testFramework,
		TaskID:      testTask,
		Updates:     []sproto.StatusUpdate{finished},
		Acked:       map[uuid.UUID]bool{finished.UUID: true},
	}}})

	system.Tell(manager, MasterConnected{})
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, forwarded, 0)
}
