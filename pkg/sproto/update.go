package sproto

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus describes the state of a task at a point in time.
type TaskStatus struct {
	TaskID  TaskID    `json:"task_id"`
	State   TaskState `json:"state"`
	Message string    `json:"message,omitempty"`
	Data    []byte    `json:"data,omitempty"`
}

// StatusUpdate is one status event in a task's stream. The UUID is the acknowledgement key: the
// master echoes it back and the agent uses it to pop the matching in-flight update.
type StatusUpdate struct {
	SlaveID     SlaveID     `json:"slave_id"`
	FrameworkID FrameworkID `json:"framework_id"`
	ExecutorID  ExecutorID  `json:"executor_id,omitempty"`
	Status      TaskStatus  `json:"status"`
	Timestamp   float64     `json:"timestamp"`
	UUID        uuid.UUID   `json:"uuid"`
}

func (u StatusUpdate) String() string {
	return fmt.Sprintf("status update %s (uuid: %s) for task %s of framework %s",
		u.Status.State, u.UUID, u.Status.TaskID, u.FrameworkID)
}

// NewStatusUpdate creates a status update with a fresh UUID and the current timestamp.
func NewStatusUpdate(
	slaveID SlaveID, frameworkID FrameworkID, executorID ExecutorID, status TaskStatus,
) StatusUpdate {
	return StatusUpdate{
		SlaveID:     slaveID,
		FrameworkID: frameworkID,
		ExecutorID:  executorID,
		Status:      status,
		Timestamp:   float64(time.Now().UnixNano()) / float64(time.Second),
		UUID:        uuid.New(),
	}
}
