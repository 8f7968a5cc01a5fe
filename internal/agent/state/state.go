package state

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/skiffworks/skiff/pkg/sproto"
)

// SlaveState is the recovered image of one slave incarnation.
type SlaveState struct {
	ID         sproto.SlaveID
	Info       sproto.SlaveInfo
	Frameworks map[sproto.FrameworkID]*FrameworkState
}

// FrameworkState is the recovered image of one framework.
type FrameworkState struct {
	ID        sproto.FrameworkID
	Info      sproto.FrameworkInfo
	Pid       string
	Executors map[sproto.ExecutorID]*ExecutorState
}

// ExecutorState is the recovered image of one executor, across all of its runs.
type ExecutorState struct {
	ID        sproto.ExecutorID
	Info      sproto.ExecutorInfo
	LatestRun uuid.UUID
	Runs      map[uuid.UUID]*RunState
}

// RunState is the recovered image of one executor run.
type RunState struct {
	ID uuid.UUID
	// ForkedPid is the OS process id recorded by the process isolator, or zero.
	ForkedPid int `json:"forked_pid,omitempty"`
	// ContainerID is the container id recorded by the container isolator, or empty.
	ContainerID string `json:"container_id,omitempty"`
	Tasks       map[sproto.TaskID]*TaskState
}

// TaskState is the recovered image of one task: its launch info, the updates appended to its
// log, and the set of update UUIDs the master has acknowledged.
type TaskState struct {
	ID      sproto.TaskID
	Info    sproto.TaskInfo
	Updates []sproto.StatusUpdate
	Acked   map[uuid.UUID]bool
}

// Read walks the checkpoint tree of the most recent slave incarnation under metaDir. It returns
// a nil state when no checkpoint exists (a fresh agent). Unreadable entries are collected into
// the returned error; callers decide whether they are fatal based on the strict policy.
func Read(metaDir string) (*SlaveState, error) {
	target, err := os.Readlink(LatestSlavePath(metaDir))
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "reading latest slave symlink")
	}
	slaveID := sproto.SlaveID(filepath.Base(target))

	state := &SlaveState{
		ID:         slaveID,
		Frameworks: make(map[sproto.FrameworkID]*FrameworkState),
	}

	var errs *multierror.Error
	if err := readJSON(SlaveInfoPath(metaDir, slaveID), &state.Info); err != nil {
		return nil, errors.Wrap(err, "reading slave info")
	}

	frameworkIDs, err := subdirs(FrameworksPath(metaDir, slaveID))
	if err != nil {
		return state, multierror.Append(errs, err).ErrorOrNil()
	}
	for _, rawID := range frameworkIDs {
		fwID := sproto.FrameworkID(rawID)
		framework, err := readFramework(metaDir, slaveID, fwID)
		if err != nil {
			errs = multierror.Append(errs, errors.Wrapf(err, "framework %s", fwID))
			continue
		}
		state.Frameworks[fwID] = framework
	}
	return state, errs.ErrorOrNil()
}

func readFramework(
	metaDir string, slaveID sproto.SlaveID, fwID sproto.FrameworkID,
) (*FrameworkState, error) {
	framework := &FrameworkState{
		ID:        fwID,
		Executors: make(map[sproto.ExecutorID]*ExecutorState),
	}
	if err := readJSON(FrameworkInfoPath(metaDir, slaveID, fwID), &framework.Info); err != nil {
		return nil, err
	}
	if err := readJSON(FrameworkPidPath(metaDir, slaveID, fwID), &framework.Pid); err != nil {
		log.WithError(err).Warnf("no checkpointed pid for framework %s", fwID)
	}

	executorIDs, err := subdirs(ExecutorsPath(metaDir, slaveID, fwID))
	if err != nil {
		return nil, err
	}
	var errs *multierror.Error
	for _, rawID := range executorIDs {
		execID := sproto.ExecutorID(rawID)
		executor, err := readExecutor(metaDir, slaveID, fwID, execID)
		if err != nil {
			errs = multierror.Append(errs, errors.Wrapf(err, "executor %s", execID))
			continue
		}
		framework.Executors[execID] = executor
	}
	return framework, errs.ErrorOrNil()
}

func readExecutor(
	metaDir string, slaveID sproto.SlaveID, fwID sproto.FrameworkID, execID sproto.ExecutorID,
) (*ExecutorState, error) {
	executor := &ExecutorState{
		ID:   execID,
		Runs: make(map[uuid.UUID]*RunState),
	}
	if err := readJSON(ExecutorInfoPath(metaDir, slaveID, fwID, execID), &executor.Info); err != nil {
		return nil, err
	}

	latest, err := os.Readlink(LatestRunPath(metaDir, slaveID, fwID, execID))
	if err != nil {
		return nil, errors.Wrap(err, "reading latest run symlink")
	}
	executor.LatestRun, err = uuid.Parse(filepath.Base(latest))
	if err != nil {
		return nil, errors.Wrap(err, "parsing latest run id")
	}

	runIDs, err := subdirs(RunsPath(metaDir, slaveID, fwID, execID))
	if err != nil {
		return nil, err
	}
	for _, rawID := range runIDs {
		if rawID == LatestRun {
			continue
		}
		runID, err := uuid.Parse(rawID)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing run id %s", rawID)
		}
		run, err := readRun(metaDir, slaveID, fwID, execID, runID)
		if err != nil {
			return nil, err
		}
		executor.Runs[runID] = run
	}
	if _, ok := executor.Runs[executor.LatestRun]; !ok {
		return nil, errors.Errorf("latest run %s has no checkpoint", executor.LatestRun)
	}
	return executor, nil
}

func readRun(
	metaDir string, slaveID sproto.SlaveID, fwID sproto.FrameworkID,
	execID sproto.ExecutorID, runID uuid.UUID,
) (*RunState, error) {
	run := &RunState{
		ID:    runID,
		Tasks: make(map[sproto.TaskID]*TaskState),
	}
	if err := readJSON(RunStatePath(metaDir, slaveID, fwID, execID, runID), run); err != nil {
		log.WithError(err).Warnf("no checkpointed run state for run %s", runID)
	}
	run.ID = runID
	if run.Tasks == nil {
		run.Tasks = make(map[sproto.TaskID]*TaskState)
	}

	taskIDs, err := subdirs(TasksPath(metaDir, slaveID, fwID, execID, runID))
	if err != nil {
		return nil, err
	}
	for _, rawID := range taskIDs {
		taskID := sproto.TaskID(rawID)
		task, err := readTask(metaDir, slaveID, fwID, execID, runID, taskID)
		if err != nil {
			return nil, errors.Wrapf(err, "task %s", taskID)
		}
		run.Tasks[taskID] = task
	}
	return run, nil
}

func readTask(
	metaDir string, slaveID sproto.SlaveID, fwID sproto.FrameworkID,
	execID sproto.ExecutorID, runID uuid.UUID, taskID sproto.TaskID,
) (*TaskState, error) {
	task := &TaskState{
		ID:    taskID,
		Acked: make(map[uuid.UUID]bool),
	}
	if err := readJSON(
		TaskInfoPath(metaDir, slaveID, fwID, execID, runID, taskID), &task.Info); err != nil {
		return nil, err
	}

	records, err := ReadRecords(TaskUpdatesPath(metaDir, slaveID, fwID, execID, runID, taskID))
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		switch record.Type {
		case RecordStatusUpdate:
			var update sproto.StatusUpdate
			if err := json.Unmarshal(record.Body, &update); err != nil {
				return nil, errors.Wrap(err, "decoding status update record")
			}
			task.Updates = append(task.Updates, update)
		case RecordAcknowledgement:
			var ack Acknowledgement
			if err := json.Unmarshal(record.Body, &ack); err != nil {
				return nil, errors.Wrap(err, "decoding acknowledgement record")
			}
			id, err := uuid.Parse(ack.UUID)
			if err != nil {
				return nil, errors.Wrap(err, "parsing acknowledged uuid")
			}
			task.Acked[id] = true
		default:
			log.Warnf("skipping unknown record type %q in task %s updates", record.Type, taskID)
		}
	}
	return task, nil
}

func subdirs(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrapf(err, "listing %s", path)
	}
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names, nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading %s", path)
	}
	return errors.Wrapf(json.Unmarshal(data, v), "decoding %s", path)
}
