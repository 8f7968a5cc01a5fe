package agent

import (
	"github.com/skiffworks/skiff/pkg/actor"
)

// Messages delivered by a MasterDetector.
type (
	// NewMasterDetected reports the endpoint of the (possibly new) leading master.
	NewMasterDetected struct {
		Endpoint string
	}

	// NoMasterDetected reports that there is currently no leading master.
	NoMasterDetected struct{}
)

// MasterDetector discovers the leading master and reports it to the slave actor with
// NewMasterDetected / NoMasterDetected messages. Leader election itself is an external
// collaborator; the agent only consumes this interface.
type MasterDetector interface {
	// Detect starts detection. Implementations send detection messages to the ref until the
	// system shuts down.
	Detect(system *actor.System, slave *actor.Ref)
}

// StaticDetector reports a fixed master endpoint once at startup.
type StaticDetector struct {
	Endpoint string
}

// Detect implements the MasterDetector interface.
func (d StaticDetector) Detect(system *actor.System, slave *actor.Ref) {
	system.Tell(slave, NewMasterDetected{Endpoint: d.Endpoint})
}
