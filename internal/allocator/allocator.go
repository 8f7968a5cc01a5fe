package allocator

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/skiffworks/skiff/pkg/actor"
	"github.com/skiffworks/skiff/pkg/actor/actors"
	"github.com/skiffworks/skiff/pkg/resource"
	"github.com/skiffworks/skiff/pkg/sproto"
)

// Messages processed by the allocator driver.
type (
	// FrameworkAdded introduces a framework to the allocator.
	FrameworkAdded struct {
		ID   sproto.FrameworkID
		Info sproto.FrameworkInfo
	}

	// FrameworkRemoved removes a framework and forgets its allocations.
	FrameworkRemoved struct {
		ID sproto.FrameworkID
	}

	// FrameworkActivated resumes offers to a framework.
	FrameworkActivated struct {
		ID sproto.FrameworkID
	}

	// FrameworkDeactivated pauses offers to a framework without forgetting its allocations.
	FrameworkDeactivated struct {
		ID sproto.FrameworkID
	}

	// SlaveAdded introduces a node and its resources, along with any resources already in use
	// by recovered frameworks.
	SlaveAdded struct {
		ID   sproto.SlaveID
		Info sproto.SlaveInfo
		Used map[sproto.FrameworkID]resource.Resources
	}

	// SlaveRemoved removes a node and shrinks the pool.
	SlaveRemoved struct {
		ID sproto.SlaveID
	}

	// ResourcesUnused returns the unused remainder of an offer to the pool.
	ResourcesUnused struct {
		FrameworkID sproto.FrameworkID
		SlaveID     sproto.SlaveID
		Resources   resource.Resources
	}

	// ResourcesRecovered returns resources freed by a terminal task to the pool.
	ResourcesRecovered struct {
		FrameworkID sproto.FrameworkID
		SlaveID     sproto.SlaveID
		Resources   resource.Resources
	}

	// OffersRevived reports that a framework wants offers again after declining or
	// suppressing them; the driver reactivates it and runs an immediate allocation round
	// instead of waiting for the next batch tick.
	OffersRevived struct {
		FrameworkID sproto.FrameworkID
	}

	// Offer is one node's offered resource bundle.
	Offer struct {
		ID        sproto.OfferID
		SlaveID   sproto.SlaveID
		Resources resource.Resources
	}

	// ResourceOffers hands a batch of offers for one framework to the offer sink.
	ResourceOffers struct {
		FrameworkID sproto.FrameworkID
		Offers      []Offer
	}

	// batch triggers one allocation round.
	batch struct{}
)

type slaveState struct {
	info sproto.SlaveInfo
	// allocated is the slice of this node's resources currently offered or in use.
	allocated resource.Resources
}

// Driver feeds the sorter with client and allocation events and periodically turns sorter order
// into resource offers, which it sends to the offer sink.
type Driver struct {
	sorter   Sorter
	clk      clock.Clock
	interval time.Duration
	sink     *actor.Ref

	slaves      map[sproto.SlaveID]*slaveState
	frameworks  map[sproto.FrameworkID]sproto.FrameworkInfo
	nextOfferID int
}

// NewDriver returns an allocator driver that emits offers to the provided sink every interval.
func NewDriver(sorter Sorter, clk clock.Clock, interval time.Duration, sink *actor.Ref) *Driver {
	return &Driver{
		sorter:     sorter,
		clk:        clk,
		interval:   interval,
		sink:       sink,
		slaves:     make(map[sproto.SlaveID]*slaveState),
		frameworks: make(map[sproto.FrameworkID]sproto.FrameworkInfo),
	}
}

// Receive implements the actor.Actor interface.
func (d *Driver) Receive(ctx *actor.Context) error {
	switch msg := ctx.Message().(type) {
	case actor.PreStart:
		actors.NotifyAfterOn(ctx, d.clk, d.interval, batch{})

	case FrameworkAdded:
		if _, ok := d.frameworks[msg.ID]; ok {
			return nil
		}
		d.frameworks[msg.ID] = msg.Info
		d.sorter.Add(string(msg.ID))

	case FrameworkRemoved:
		delete(d.frameworks, msg.ID)
		d.sorter.Remove(string(msg.ID))

	case FrameworkActivated:
		if _, ok := d.frameworks[msg.ID]; ok {
			d.sorter.Activate(string(msg.ID))
		}

	case FrameworkDeactivated:
		d.sorter.Deactivate(string(msg.ID))

	case SlaveAdded:
		if _, ok := d.slaves[msg.ID]; ok {
			return nil
		}
		state := &slaveState{info: msg.Info}
		d.slaves[msg.ID] = state
		d.sorter.AddTotal(msg.Info.Resources)
		for frameworkID, used := range msg.Used {
			if !d.sorter.Contains(string(frameworkID)) {
				continue
			}
			state.allocated = state.allocated.Plus(used)
			d.sorter.Allocated(string(frameworkID), used)
		}
		ctx.Log().Infof("added slave %s with %s", msg.ID, msg.Info.Resources)

	case SlaveRemoved:
		state, ok := d.slaves[msg.ID]
		if !ok {
			return nil
		}
		delete(d.slaves, msg.ID)
		d.sorter.RemoveTotal(state.info.Resources)
		ctx.Log().Infof("removed slave %s", msg.ID)

	case ResourcesUnused:
		d.release(msg.FrameworkID, msg.SlaveID, msg.Resources)

	case ResourcesRecovered:
		d.release(msg.FrameworkID, msg.SlaveID, msg.Resources)

	case OffersRevived:
		if _, ok := d.frameworks[msg.FrameworkID]; !ok {
			return nil
		}
		d.sorter.Activate(string(msg.FrameworkID))
		d.allocate(ctx)

	case batch:
		actors.NotifyAfterOn(ctx, d.clk, d.interval, batch{})
		d.allocate(ctx)

	case actor.PostStop:

	default:
		return actor.ErrUnexpectedMessage(ctx)
	}
	return nil
}

func (d *Driver) release(
	frameworkID sproto.FrameworkID, slaveID sproto.SlaveID, r resource.Resources,
) {
	if r.Empty() {
		return
	}
	if state, ok := d.slaves[slaveID]; ok {
		state.allocated = state.allocated.MinusUnchecked(r)
	}
	if d.sorter.Contains(string(frameworkID)) {
		d.sorter.Unallocated(string(frameworkID), r)
	}
}

// allocate walks the frameworks in ascending dominant-share order and offers each the remaining
// resources of every node, most starved framework first.
func (d *Driver) allocate(ctx *actor.Context) {
	for _, name := range d.sorter.Sort() {
		frameworkID := sproto.FrameworkID(name)
		var offers []Offer
		for slaveID, state := range d.slaves {
			available, err := state.info.Resources.Minus(state.allocated)
			if err != nil || available.Empty() {
				continue
			}
			d.nextOfferID++
			offers = append(offers, Offer{
				ID:        sproto.OfferID(fmt.Sprintf("offer-%d", d.nextOfferID)),
				SlaveID:   slaveID,
				Resources: available,
			})
			state.allocated = state.allocated.Plus(available)
			d.sorter.Allocated(name, available)
		}
		if len(offers) > 0 {
			ctx.Tell(d.sink, ResourceOffers{FrameworkID: frameworkID, Offers: offers})
		}
	}
}
