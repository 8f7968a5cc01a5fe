// Package state implements the checkpoint layout under the agent's meta directory and the
// recovery structs rebuilt from it. The directory tree is the contract the recovery path reads:
//
//	slaves/latest -> slaves/<slaveID>
//	slaves/<slaveID>/slave.info
//	slaves/<slaveID>/frameworks/<frameworkID>/framework.info
//	slaves/<slaveID>/frameworks/<frameworkID>/framework.pid
//	.../executors/<executorID>/executor.info
//	.../executors/<executorID>/runs/latest -> runs/<runUUID>
//	.../executors/<executorID>/runs/<runUUID>/run.state
//	.../runs/<runUUID>/tasks/<taskID>/task.info
//	.../runs/<runUUID>/tasks/<taskID>/updates
package state

import (
	"path/filepath"

	"github.com/google/uuid"

	"github.com/skiffworks/skiff/pkg/sproto"
)

// LatestSlave is the name of the symlink pointing at the most recent slave run.
const LatestSlave = "latest"

// LatestRun is the name of the symlink pointing at an executor's most recent run.
const LatestRun = "latest"

// SlavesPath returns the directory holding per-slave checkpoint trees.
func SlavesPath(metaDir string) string {
	return filepath.Join(metaDir, "slaves")
}

// LatestSlavePath returns the symlink to the most recent slave checkpoint tree.
func LatestSlavePath(metaDir string) string {
	return filepath.Join(SlavesPath(metaDir), LatestSlave)
}

// SlavePath returns the checkpoint tree root of one slave incarnation.
func SlavePath(metaDir string, slaveID sproto.SlaveID) string {
	return filepath.Join(SlavesPath(metaDir), slaveID.String())
}

// SlaveInfoPath returns the path of the checkpointed SlaveInfo.
func SlaveInfoPath(metaDir string, slaveID sproto.SlaveID) string {
	return filepath.Join(SlavePath(metaDir, slaveID), "slave.info")
}

// FrameworksPath returns the directory holding a slave's framework checkpoints.
func FrameworksPath(metaDir string, slaveID sproto.SlaveID) string {
	return filepath.Join(SlavePath(metaDir, slaveID), "frameworks")
}

// FrameworkPath returns the checkpoint directory of one framework.
func FrameworkPath(metaDir string, slaveID sproto.SlaveID, fwID sproto.FrameworkID) string {
	return filepath.Join(FrameworksPath(metaDir, slaveID), fwID.String())
}

// FrameworkInfoPath returns the path of the checkpointed FrameworkInfo.
func FrameworkInfoPath(metaDir string, slaveID sproto.SlaveID, fwID sproto.FrameworkID) string {
	return filepath.Join(FrameworkPath(metaDir, slaveID, fwID), "framework.info")
}

// FrameworkPidPath returns the path of the checkpointed framework scheduler endpoint.
func FrameworkPidPath(metaDir string, slaveID sproto.SlaveID, fwID sproto.FrameworkID) string {
	return filepath.Join(FrameworkPath(metaDir, slaveID, fwID), "framework.pid")
}

// ExecutorsPath returns the directory holding a framework's executor checkpoints.
func ExecutorsPath(metaDir string, slaveID sproto.SlaveID, fwID sproto.FrameworkID) string {
	return filepath.Join(FrameworkPath(metaDir, slaveID, fwID), "executors")
}

// ExecutorPath returns the checkpoint directory of one executor.
func ExecutorPath(
	metaDir string, slaveID sproto.SlaveID, fwID sproto.FrameworkID, execID sproto.ExecutorID,
) string {
	return filepath.Join(ExecutorsPath(metaDir, slaveID, fwID), execID.String())
}

// ExecutorInfoPath returns the path of the checkpointed ExecutorInfo.
func ExecutorInfoPath(
	metaDir string, slaveID sproto.SlaveID, fwID sproto.FrameworkID, execID sproto.ExecutorID,
) string {
	return filepath.Join(ExecutorPath(metaDir, slaveID, fwID, execID), "executor.info")
}

// RunsPath returns the directory holding an executor's per-run checkpoints.
func RunsPath(
	metaDir string, slaveID sproto.SlaveID, fwID sproto.FrameworkID, execID sproto.ExecutorID,
) string {
	return filepath.Join(ExecutorPath(metaDir, slaveID, fwID, execID), "runs")
}

// LatestRunPath returns the symlink to the executor's most recent run.
func LatestRunPath(
	metaDir string, slaveID sproto.SlaveID, fwID sproto.FrameworkID, execID sproto.ExecutorID,
) string {
	return filepath.Join(RunsPath(metaDir, slaveID, fwID, execID), LatestRun)
}

// RunPath returns the checkpoint directory of one executor run.
func RunPath(
	metaDir string, slaveID sproto.SlaveID, fwID sproto.FrameworkID,
	execID sproto.ExecutorID, runID uuid.UUID,
) string {
	return filepath.Join(RunsPath(metaDir, slaveID, fwID, execID), runID.String())
}

// RunStatePath returns the path of the checkpointed run state (forked pid or container id).
func RunStatePath(
	metaDir string, slaveID sproto.SlaveID, fwID sproto.FrameworkID,
	execID sproto.ExecutorID, runID uuid.UUID,
) string {
	return filepath.Join(RunPath(metaDir, slaveID, fwID, execID, runID), "run.state")
}

// TasksPath returns the directory holding a run's task checkpoints.
func TasksPath(
	metaDir string, slaveID sproto.SlaveID, fwID sproto.FrameworkID,
	execID sproto.ExecutorID, runID uuid.UUID,
) string {
	return filepath.Join(RunPath(metaDir, slaveID, fwID, execID, runID), "tasks")
}

// TaskPath returns the checkpoint directory of one task.
func TaskPath(
	metaDir string, slaveID sproto.SlaveID, fwID sproto.FrameworkID,
	execID sproto.ExecutorID, runID uuid.UUID, taskID sproto.TaskID,
) string {
	return filepath.Join(TasksPath(metaDir, slaveID, fwID, execID, runID), taskID.String())
}

// TaskInfoPath returns the path of the checkpointed TaskInfo.
func TaskInfoPath(
	metaDir string, slaveID sproto.SlaveID, fwID sproto.FrameworkID,
	execID sproto.ExecutorID, runID uuid.UUID, taskID sproto.TaskID,
) string {
	return filepath.Join(TaskPath(metaDir, slaveID, fwID, execID, runID, taskID), "task.info")
}

// TaskUpdatesPath returns the path of the task's append-only status-update log.
func TaskUpdatesPath(
	metaDir string, slaveID sproto.SlaveID, fwID sproto.FrameworkID,
	execID sproto.ExecutorID, runID uuid.UUID, taskID sproto.TaskID,
) string {
	return filepath.Join(TaskPath(metaDir, slaveID, fwID, execID, runID, taskID), "updates")
}
