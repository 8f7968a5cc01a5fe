package state

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/skiffworks/skiff/pkg/sproto"
)

// writeJSON atomically replaces the file at path with the JSON encoding of v, creating parent
// directories as needed. The write-then-rename keeps a crashed writer from leaving a torn file
// for recovery to read.
func writeJSON(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errors.Wrapf(err, "creating %s", filepath.Dir(path))
	}
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encoding %s", path)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrapf(err, "writing %s", tmp)
	}
	return errors.Wrapf(os.Rename(tmp, path), "renaming %s", tmp)
}

// relink atomically points the symlink at path to target.
func relink(target, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errors.Wrapf(err, "creating %s", filepath.Dir(path))
	}
	tmp := path + ".tmp"
	if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "removing stale symlink %s", tmp)
	}
	if err := os.Symlink(target, tmp); err != nil {
		return errors.Wrapf(err, "creating symlink %s", tmp)
	}
	return errors.Wrapf(os.Rename(tmp, path), "renaming symlink %s", tmp)
}

// CheckpointSlaveInfo records the slave's info and marks its tree as the latest incarnation.
func CheckpointSlaveInfo(metaDir string, info sproto.SlaveInfo) error {
	if err := writeJSON(SlaveInfoPath(metaDir, info.ID), info); err != nil {
		return err
	}
	return relink(SlavePath(metaDir, info.ID), LatestSlavePath(metaDir))
}

// CheckpointFrameworkInfo records a framework's info.
func CheckpointFrameworkInfo(
	metaDir string, slaveID sproto.SlaveID, fwID sproto.FrameworkID, info sproto.FrameworkInfo,
) error {
	return writeJSON(FrameworkInfoPath(metaDir, slaveID, fwID), info)
}

// CheckpointFrameworkPid records a framework scheduler's endpoint.
func CheckpointFrameworkPid(
	metaDir string, slaveID sproto.SlaveID, fwID sproto.FrameworkID, pid string,
) error {
	return writeJSON(FrameworkPidPath(metaDir, slaveID, fwID), pid)
}

// CheckpointExecutorInfo records an executor's info.
func CheckpointExecutorInfo(
	metaDir string, slaveID sproto.SlaveID, fwID sproto.FrameworkID, info sproto.ExecutorInfo,
) error {
	return writeJSON(ExecutorInfoPath(metaDir, slaveID, fwID, info.ID), info)
}

// CheckpointRun records an executor run's isolator handle and marks it as the latest run.
func CheckpointRun(
	metaDir string, slaveID sproto.SlaveID, fwID sproto.FrameworkID,
	execID sproto.ExecutorID, run RunState,
) error {
	if err := writeJSON(RunStatePath(metaDir, slaveID, fwID, execID, run.ID), run); err != nil {
		return err
	}
	return relink(
		RunPath(metaDir, slaveID, fwID, execID, run.ID),
		LatestRunPath(metaDir, slaveID, fwID, execID))
}

// CheckpointTaskInfo records a task launch.
func CheckpointTaskInfo(
	metaDir string, slaveID sproto.SlaveID, fwID sproto.FrameworkID,
	execID sproto.ExecutorID, runID uuid.UUID, task sproto.TaskInfo,
) error {
	return writeJSON(TaskInfoPath(metaDir, slaveID, fwID, execID, runID, task.ID), task)
}

// RemoveFramework deletes a framework's checkpoint tree once every stream it owns has drained.
func RemoveFramework(metaDir string, slaveID sproto.SlaveID, fwID sproto.FrameworkID) error {
	return errors.Wrapf(os.RemoveAll(FrameworkPath(metaDir, slaveID, fwID)),
		"removing framework checkpoint %s", fwID)
}

// RemoveExecutor deletes an executor's checkpoint tree.
func RemoveExecutor(
	metaDir string, slaveID sproto.SlaveID, fwID sproto.FrameworkID, execID sproto.ExecutorID,
) error {
	return errors.Wrapf(os.RemoveAll(ExecutorPath(metaDir, slaveID, fwID, execID)),
		"removing executor checkpoint %s", execID)
}
