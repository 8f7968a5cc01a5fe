// Package isolator defines the process-isolation capability the agent launches executors
// through, with process-group and container-runtime backends.
package isolator

import (
	"context"

	"github.com/skiffworks/skiff/pkg/resource"
	"github.com/skiffworks/skiff/pkg/sproto"
)

// Handle identifies a launched run to its backend: a forked process id for the process backend
// or a container id for the container backend. Handles are checkpointed so runs can be
// recovered and destroyed across agent restarts.
type Handle struct {
	ForkedPid   int    `json:"forked_pid,omitempty"`
	ContainerID string `json:"container_id,omitempty"`
}

// LaunchSpec describes one executor run to launch.
type LaunchSpec struct {
	FrameworkID sproto.FrameworkID
	ExecutorID  sproto.ExecutorID
	Command     sproto.CommandInfo
	Resources   resource.Resources
	// Directory is the run's sandbox; it is the working directory of the launched process.
	Directory string
	// SlaveEndpoint is the agent's executor endpoint, exported to the executor so it can
	// register back.
	SlaveEndpoint string
}

// ExitStatus describes how a run ended.
type ExitStatus struct {
	Code      int
	Destroyed bool
	Message   string
}

// RecoveredRun describes a checkpointed run handed back to the backend at recovery.
type RecoveredRun struct {
	FrameworkID sproto.FrameworkID
	ExecutorID  sproto.ExecutorID
	Handle      Handle
}

// Isolator launches, observes and destroys executor runs. Implementations are safe for
// concurrent use.
type Isolator interface {
	// Launch starts the run described by the spec and returns its handle.
	Launch(ctx context.Context, spec LaunchSpec) (Handle, error)
	// Wait blocks until the executor's current run exits and returns how it ended.
	Wait(ctx context.Context, frameworkID sproto.FrameworkID, executorID sproto.ExecutorID) (ExitStatus, error)
	// Destroy forcibly terminates the executor's current run.
	Destroy(ctx context.Context, frameworkID sproto.FrameworkID, executorID sproto.ExecutorID) error
	// Usage samples the executor's current resource usage.
	Usage(ctx context.Context, frameworkID sproto.FrameworkID, executorID sproto.ExecutorID) (sproto.ResourceStatistics, error)
	// Recover re-adopts checkpointed runs after an agent restart so Wait, Usage and Destroy
	// work for them again.
	Recover(ctx context.Context, runs []RecoveredRun) error
}

type runKey struct {
	frameworkID sproto.FrameworkID
	executorID  sproto.ExecutorID
}
