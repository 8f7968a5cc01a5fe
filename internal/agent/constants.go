package agent

import "time"

const (
	// maxCompletedFrameworks bounds the ring of completed frameworks kept for inspection.
	maxCompletedFrameworks = 50
	// maxCompletedExecutorsPerFramework bounds each framework's completed-executor ring.
	maxCompletedExecutorsPerFramework = 150
	// maxCompletedTasksPerExecutor bounds each executor's completed-task ring.
	maxCompletedTasksPerExecutor = 1000

	// registerInitialBackoff is the delay before the first master registration retry.
	registerInitialBackoff = time.Second
	// registerMaxBackoff caps the growth of the registration retry delay.
	registerMaxBackoff = time.Minute
)
