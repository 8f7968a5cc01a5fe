package sproto

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/skiffworks/skiff/pkg/resource"
)

// Attribute is a static key=value label advertised by an agent.
type Attribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Attributes is a collection of agent attributes.
type Attributes []Attribute

// ParseAttributes parses a semicolon-delimited "name=value;name=value" attribute list.
func ParseAttributes(s string) (Attributes, error) {
	var attributes Attributes
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, found := strings.Cut(part, "=")
		if !found {
			return nil, errors.Errorf("malformed attribute %q: expected name=value", part)
		}
		attributes = append(attributes, Attribute{
			Name:  strings.TrimSpace(name),
			Value: strings.TrimSpace(value),
		})
	}
	return attributes, nil
}

func (a Attributes) String() string {
	parts := make([]string, 0, len(a))
	for _, attr := range a {
		parts = append(parts, fmt.Sprintf("%s=%s", attr.Name, attr.Value))
	}
	return strings.Join(parts, ";")
}

// SlaveInfo describes a node agent to the master.
type SlaveInfo struct {
	Hostname   string             `json:"hostname"`
	Port       int                `json:"port"`
	Resources  resource.Resources `json:"resources"`
	Attributes Attributes         `json:"attributes,omitempty"`
	ID         SlaveID            `json:"id,omitempty"`
	Checkpoint bool               `json:"checkpoint"`
}

// FrameworkInfo describes a framework.
type FrameworkInfo struct {
	User       string `json:"user"`
	Name       string `json:"name"`
	Checkpoint bool   `json:"checkpoint"`
	// FailoverTimeoutSeconds is how long, in seconds, the master keeps the framework's tasks
	// running after its scheduler disconnects.
	FailoverTimeoutSeconds float64 `json:"failover_timeout_seconds,omitempty"`
}

// CommandInfo describes the command an executor or task runs.
type CommandInfo struct {
	Value       string            `json:"value"`
	Arguments   []string          `json:"arguments,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	// Image is the container image to run in, when the container isolator is in use.
	Image string `json:"image,omitempty"`
}

// ExecutorInfo describes an executor process.
type ExecutorInfo struct {
	ID          ExecutorID         `json:"executor_id"`
	FrameworkID FrameworkID        `json:"framework_id"`
	Command     CommandInfo        `json:"command"`
	Resources   resource.Resources `json:"resources,omitempty"`
	// Source is an identifier the framework can use to group executors in monitoring tools.
	Source string `json:"source,omitempty"`
	Data   []byte `json:"data,omitempty"`
}

// TaskInfo describes a task launch request.
type TaskInfo struct {
	Name      string             `json:"name"`
	ID        TaskID             `json:"task_id"`
	SlaveID   SlaveID            `json:"slave_id"`
	Resources resource.Resources `json:"resources"`
	// Exactly one of Executor and Command is set: tasks either run under a framework-provided
	// executor or as a bare command wrapped by the agent's command executor.
	Executor *ExecutorInfo `json:"executor,omitempty"`
	Command  *CommandInfo  `json:"command,omitempty"`
	Data     []byte        `json:"data,omitempty"`
}

// ResourceStatistics is a point-in-time usage sample for one executor.
type ResourceStatistics struct {
	Timestamp      float64 `json:"timestamp"`
	CPUsUserTime   float64 `json:"cpus_user_time_secs"`
	CPUsSystemTime float64 `json:"cpus_system_time_secs"`
	CPUsLimit      float64 `json:"cpus_limit"`
	MemoryRSSBytes uint64  `json:"mem_rss_bytes"`
	MemoryLimit    uint64  `json:"mem_limit_bytes"`
}
