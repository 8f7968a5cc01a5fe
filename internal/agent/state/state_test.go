package state

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skiffworks/skiff/pkg/resource"
	"github.com/skiffworks/skiff/pkg/sproto"
)

func TestReadEmptyMetaDir(t *testing.T) {
	recovered, err := Read(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, recovered)
}

func TestCheckpointRoundTrip(t *testing.T) {
	metaDir := t.TempDir()

	slaveID := sproto.SlaveID("slave-1")
	fwID := sproto.FrameworkID("fw-1")
	execID := sproto.ExecutorID("exec-1")
	runID := uuid.New()
	taskID := sproto.TaskID("task-1")

	resources, err := resource.Parse("cpus:2;mem:512")
	require.NoError(t, err)

	require.NoError(t, CheckpointSlaveInfo(metaDir, sproto.SlaveInfo{
		ID: slaveID, Hostname: "node1", Resources: resources, Checkpoint: true,
	}))
	require.NoError(t, CheckpointFrameworkInfo(metaDir, slaveID, fwID, sproto.FrameworkInfo{
		Name: "analytics", User: "alice", Checkpoint: true,
	}))
	require.NoError(t, CheckpointFrameworkPid(metaDir, slaveID, fwID, "scheduler@10.0.0.1:5050"))
	require.NoError(t, CheckpointExecutorInfo(metaDir, slaveID, fwID, sproto.ExecutorInfo{
		ID: execID, FrameworkID: fwID, Command: sproto.CommandInfo{Value: "./executor"},
	}))
	require.NoError(t, CheckpointRun(metaDir, slaveID, fwID, execID, RunState{
		ID: runID, ForkedPid: 4242,
	}))
	require.NoError(t, CheckpointTaskInfo(metaDir, slaveID, fwID, execID, runID, sproto.TaskInfo{
		ID: taskID, Name: "crunch", Resources: resources,
	}))

	// Append two updates and an ack for the first.
	writer, err := OpenRecordWriter(TaskUpdatesPath(metaDir, slaveID, fwID, execID, runID, taskID))
	require.NoError(t, err)
	running := sproto.NewStatusUpdate(slaveID, fwID, execID,
		sproto.TaskStatus{TaskID: taskID, State: sproto.TaskRunning})
	finished := sproto.NewStatusUpdate(slaveID, fwID, execID,
		sproto.TaskStatus{TaskID: taskID, State: sproto.TaskFinished})
	require.NoError(t, writer.Append(RecordStatusUpdate, running))
	require.NoError(t, writer.Append(RecordStatusUpdate, finished))
	require.NoError(t, writer.Append(RecordAcknowledgement, Acknowledgement{
		UUID: running.UUID.String(),
	}))
	require.NoError(t, writer.Close())

	recovered, err := Read(metaDir)
	require.NoError(t, err)
	require.NotNil(t, recovered)

	assert.Equal(t, slaveID, recovered.ID)
	assert.Equal(t, "node1", recovered.Info.Hostname)

	framework := recovered.Frameworks[fwID]
	require.NotNil(t, framework)
	assert.Equal(t, "analytics", framework.Info.Name)
	assert.Equal(t, "scheduler@10.0.0.1:5050", framework.Pid)

	executor := framework.Executors[execID]
	require.NotNil(t, executor)
	assert.Equal(t, runID, executor.LatestRun)

	run := executor.Runs[runID]
	require.NotNil(t, run)
	assert.Equal(t, 4242, run.ForkedPid)

	task := run.Tasks[taskID]
	require.NotNil(t, task)
	assert.Equal(t, "crunch", task.Info.Name)
	require.Len(t, task.Updates, 2)
	assert.Equal(t, sproto.TaskRunning, task.Updates[0].Status.State)
	assert.Equal(t, sproto.TaskFinished, task.Updates[1].Status.State)
	assert.True(t, task.Acked[running.UUID])
	assert.False(t, task.Acked[finished.UUID])
}

func TestTruncatedTrailingRecordIsDropped(t *testing.T) {
	metaDir := t.TempDir()
	path := metaDir + "/updates"

	writer, err := OpenRecordWriter(path)
	require.NoError(t, err)
	require.NoError(t, writer.Append(RecordAcknowledgement, Acknowledgement{UUID: "u-1"}))
	require.NoError(t, writer.Close())

	// Simulate a crash mid-append: a dangling length prefix with no body.
	file, err := OpenRecordWriter(path)
	require.NoError(t, err)
	_, err = file.file.Write([]byte{0xff, 0x01})
	require.NoError(t, err)
	require.NoError(t, file.Close())

	records, err := ReadRecords(path)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, RecordAcknowledgement, records[0].Type)
}

func TestCheckpointRunUpdatesLatestSymlink(t *testing.T) {
	metaDir := t.TempDir()
	slaveID, fwID, execID := sproto.SlaveID("s"), sproto.FrameworkID("f"), sproto.ExecutorID("e")

	first, second := uuid.New(), uuid.New()
	require.NoError(t, CheckpointRun(metaDir, slaveID, fwID, execID, RunState{ID: first}))
	require.NoError(t, CheckpointRun(metaDir, slaveID, fwID, execID, RunState{ID: second}))

	require.NoError(t, CheckpointSlaveInfo(metaDir, sproto.SlaveInfo{ID: slaveID}))
	require.NoError(t, CheckpointFrameworkInfo(metaDir, slaveID, fwID, sproto.FrameworkInfo{}))
	require.NoError(t, CheckpointExecutorInfo(metaDir, slaveID, fwID, sproto.ExecutorInfo{ID: execID}))

	recovered, err := Read(metaDir)
	require.NoError(t, err)
	executor := recovered.Frameworks[fwID].Executors[execID]
	require.NotNil(t, executor)
	assert.Equal(t, second, executor.LatestRun)
	assert.Len(t, executor.Runs, 2)
}
