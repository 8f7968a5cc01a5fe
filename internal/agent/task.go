package agent

import (
	"github.com/skiffworks/skiff/pkg/sproto"
)

// Task is the agent-side record of one task hosted by an executor.
type Task struct {
	Info  sproto.TaskInfo  `json:"info"`
	State sproto.TaskState `json:"state"`
	// LatestStatus is the most recent status reported for the task, nil before the first one.
	LatestStatus *sproto.TaskStatus `json:"latest_status,omitempty"`
}

func newTask(info sproto.TaskInfo) *Task {
	return &Task{Info: info, State: sproto.TaskStaging}
}
