// Package sproto holds the wire protocol between the master, the node agents and the executors,
// along with the shared task and executor state types.
package sproto

// SlaveID is an identifier for a node agent, assigned by the master at registration.
type SlaveID string

// FrameworkID is an identifier for a framework, assigned by the master.
type FrameworkID string

// ExecutorID is an identifier for an executor, chosen by the framework.
type ExecutorID string

// TaskID is an identifier for a task, chosen by the framework.
type TaskID string

// OfferID is an identifier for a resource offer, assigned by the master.
type OfferID string

func (i SlaveID) String() string     { return string(i) }
func (i FrameworkID) String() string { return string(i) }
func (i ExecutorID) String() string  { return string(i) }
func (i TaskID) String() string      { return string(i) }
func (i OfferID) String() string     { return string(i) }
