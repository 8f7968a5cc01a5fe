package sproto

import (
	"github.com/pkg/errors"
)

// TaskState represents the current state of a task.
type TaskState string

func (s TaskState) String() string {
	return string(s)
}

const (
	// TaskStaging means the task has been accepted by the agent but not yet handed to its
	// executor.
	TaskStaging TaskState = "STAGING"
	// TaskStarting means the executor has received the task and is starting it.
	TaskStarting TaskState = "STARTING"
	// TaskRunning means the task is running.
	TaskRunning TaskState = "RUNNING"
	// TaskFinished means the task completed successfully.
	TaskFinished TaskState = "FINISHED"
	// TaskFailed means the task terminated with a failure.
	TaskFailed TaskState = "FAILED"
	// TaskKilled means the task was killed on request.
	TaskKilled TaskState = "KILLED"
	// TaskLost means the task was lost before reaching a executor-reported terminal state.
	TaskLost TaskState = "LOST"
)

// TaskStates enumerates every task state.
var TaskStates = []TaskState{
	TaskStaging, TaskStarting, TaskRunning, TaskFinished, TaskFailed, TaskKilled, TaskLost,
}

// Terminal returns true if the state is a terminal state.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskFinished, TaskFailed, TaskKilled, TaskLost:
		return true
	}
	return false
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (s *TaskState) UnmarshalText(text []byte) error {
	parsed := TaskState(text)
	for _, known := range TaskStates {
		if parsed == known {
			*s = parsed
			return nil
		}
	}
	return errors.Errorf("invalid task state: %s", text)
}

// MarshalText implements the encoding.TextMarshaler interface.
func (s TaskState) MarshalText() ([]byte, error) {
	return []byte(s), nil
}
