package sproto

import (
	"github.com/google/uuid"
)

// SlaveMessage is a union type for all messages sent to a node agent by the master.
type SlaveMessage struct {
	Registered                  *Registered                  `json:",omitempty"`
	Reregistered                *Reregistered                `json:",omitempty"`
	RunTask                     *RunTask                     `json:",omitempty"`
	KillTask                    *KillTask                    `json:",omitempty"`
	ShutdownFramework           *ShutdownFramework           `json:",omitempty"`
	UpdateFramework             *UpdateFramework             `json:",omitempty"`
	FrameworkToExecutorMessage  *FrameworkToExecutorMessage  `json:",omitempty"`
	StatusUpdateAcknowledgement *StatusUpdateAcknowledgement `json:",omitempty"`
	ShutdownSlave               *ShutdownSlave               `json:",omitempty"`
	Ping                        *Ping                        `json:",omitempty"`
}

// MasterMessage is a union type for all messages sent to the master by a node agent.
type MasterMessage struct {
	RegisterSlave              *RegisterSlave              `json:",omitempty"`
	ReregisterSlave            *ReregisterSlave            `json:",omitempty"`
	StatusUpdate               *StatusUpdate               `json:",omitempty"`
	ExecutorToFrameworkMessage *ExecutorToFrameworkMessage `json:",omitempty"`
	Pong                       *Pong                       `json:",omitempty"`
}

// ExecutorMessage is a union type for all messages sent to a node agent by an executor.
type ExecutorMessage struct {
	RegisterExecutor           *RegisterExecutor           `json:",omitempty"`
	ReregisterExecutor         *ReregisterExecutor         `json:",omitempty"`
	StatusUpdate               *StatusUpdate               `json:",omitempty"`
	ExecutorToFrameworkMessage *ExecutorToFrameworkMessage `json:",omitempty"`
}

// SlaveToExecutorMessage is a union type for all messages sent to an executor by its node agent.
type SlaveToExecutorMessage struct {
	ExecutorRegistered          *ExecutorRegistered          `json:",omitempty"`
	ExecutorReregistered        *ExecutorReregistered        `json:",omitempty"`
	RunTask                     *RunTask                     `json:",omitempty"`
	KillTask                    *KillTask                    `json:",omitempty"`
	FrameworkToExecutorMessage  *FrameworkToExecutorMessage  `json:",omitempty"`
	StatusUpdateAcknowledgement *StatusUpdateAcknowledgement `json:",omitempty"`
	ShutdownExecutor            *ShutdownExecutor            `json:",omitempty"`
}

// RegisterSlave is the agent's registration request to the master.
type RegisterSlave struct {
	Slave SlaveInfo `json:"slave"`
}

// ReregisterSlave is the agent's re-registration request after a restart or master failover.
type ReregisterSlave struct {
	SlaveID SlaveID    `json:"slave_id"`
	Slave   SlaveInfo  `json:"slave"`
	Tasks   []TaskInfo `json:"tasks,omitempty"`
}

// Registered is the master's response promoting a newly registered agent to RUNNING.
type Registered struct {
	SlaveID SlaveID `json:"slave_id"`
}

// Reregistered is the master's response to a successful re-registration.
type Reregistered struct {
	SlaveID SlaveID `json:"slave_id"`
}

// RunTask asks the agent to launch a task on behalf of a framework.
type RunTask struct {
	Framework   FrameworkInfo `json:"framework"`
	FrameworkID FrameworkID   `json:"framework_id"`
	// Pid is the framework scheduler's endpoint, recorded so executors can message it.
	Pid  string   `json:"pid"`
	Task TaskInfo `json:"task"`
}

// KillTask asks the agent to kill a task.
type KillTask struct {
	FrameworkID FrameworkID `json:"framework_id"`
	TaskID      TaskID      `json:"task_id"`
}

// ShutdownFramework asks the agent to shut down every executor of the framework.
type ShutdownFramework struct {
	FrameworkID FrameworkID `json:"framework_id"`
}

// UpdateFramework carries a framework scheduler's new endpoint after a failover.
type UpdateFramework struct {
	FrameworkID FrameworkID `json:"framework_id"`
	Pid         string      `json:"pid"`
}

// FrameworkToExecutorMessage relays opaque bytes from a framework scheduler to an executor.
type FrameworkToExecutorMessage struct {
	SlaveID     SlaveID     `json:"slave_id"`
	FrameworkID FrameworkID `json:"framework_id"`
	ExecutorID  ExecutorID  `json:"executor_id"`
	Data        []byte      `json:"data"`
}

// ExecutorToFrameworkMessage relays opaque bytes from an executor to its framework scheduler.
type ExecutorToFrameworkMessage struct {
	SlaveID     SlaveID     `json:"slave_id"`
	FrameworkID FrameworkID `json:"framework_id"`
	ExecutorID  ExecutorID  `json:"executor_id"`
	Data        []byte      `json:"data"`
}

// StatusUpdateAcknowledgement acknowledges one status update on a stream.
type StatusUpdateAcknowledgement struct {
	SlaveID     SlaveID     `json:"slave_id"`
	FrameworkID FrameworkID `json:"framework_id"`
	TaskID      TaskID      `json:"task_id"`
	UUID        uuid.UUID   `json:"uuid"`
}

// ShutdownSlave asks the agent to shut down.
type ShutdownSlave struct {
	Message string `json:"message,omitempty"`
}

// Ping is the master's liveness probe; the agent answers with a Pong.
type Ping struct{}

// Pong is the agent's answer to a Ping.
type Pong struct {
	SlaveID SlaveID `json:"slave_id"`
}

// RegisterExecutor is an executor's registration request to its agent.
type RegisterExecutor struct {
	FrameworkID FrameworkID `json:"framework_id"`
	ExecutorID  ExecutorID  `json:"executor_id"`
}

// ReregisterExecutor is an executor's re-registration request after an agent restart, carrying
// the tasks it still runs and the updates it has not had acknowledged.
type ReregisterExecutor struct {
	FrameworkID FrameworkID    `json:"framework_id"`
	ExecutorID  ExecutorID     `json:"executor_id"`
	Tasks       []TaskInfo     `json:"tasks,omitempty"`
	Updates     []StatusUpdate `json:"updates,omitempty"`
}

// ExecutorRegistered confirms an executor's registration.
type ExecutorRegistered struct {
	Executor    ExecutorInfo  `json:"executor"`
	Framework   FrameworkInfo `json:"framework"`
	FrameworkID FrameworkID   `json:"framework_id"`
	SlaveID     SlaveID       `json:"slave_id"`
	Slave       SlaveInfo     `json:"slave"`
}

// ExecutorReregistered confirms an executor's re-registration.
type ExecutorReregistered struct {
	SlaveID SlaveID   `json:"slave_id"`
	Slave   SlaveInfo `json:"slave"`
}

// ShutdownExecutor asks an executor to kill its tasks and exit.
type ShutdownExecutor struct{}
