package allocator

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"gotest.tools/assert"

	"github.com/skiffworks/skiff/pkg/actor"
	"github.com/skiffworks/skiff/pkg/sproto"
)

const batchInterval = time.Second

func setupDriver(t *testing.T) (*actor.System, *clock.Mock, *actor.Ref, chan ResourceOffers) {
	t.Helper()
	system := actor.NewSystem(t.Name())
	offers := make(chan ResourceOffers, 16)

	sink, created := system.ActorOf(actor.Addr("sink"), actor.ActorFunc(
		func(ctx *actor.Context) error {
			if msg, ok := ctx.Message().(ResourceOffers); ok {
				offers <- msg
			}
			return nil
		}))
	assert.Assert(t, created)

	clk := clock.NewMock()
	driver, created := system.ActorOf(actor.Addr("allocator"),
		NewDriver(NewDRFSorter(), clk, batchInterval, sink))
	assert.Assert(t, created)

	return system, clk, driver, offers
}

func sync(t *testing.T, system *actor.System, ref *actor.Ref) {
	t.Helper()
	assert.Assert(t, system.Ask(ref, actor.Ping{}).Get() != nil)
}

func nextOffers(t *testing.T, offers chan ResourceOffers) ResourceOffers {
	t.Helper()
	select {
	case batch := <-offers:
		return batch
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for offers")
		return ResourceOffers{}
	}
}

func TestDriverOffersWholeSlaveToMostStarved(t *testing.T) {
	system, clk, driver, offers := setupDriver(t)
	defer system.Stop()

	system.Tell(driver, FrameworkAdded{ID: "fw-a"})
	system.Tell(driver, FrameworkAdded{ID: "fw-b"})
	system.Tell(driver, SlaveAdded{
		ID:   "slave-1",
		Info: sproto.SlaveInfo{Hostname: "node1", Resources: parse(t, "cpus:10;mem:1000")},
	})
	sync(t, system, driver)

	clk.Add(batchInterval)

	// Both shares are zero; the name tiebreak hands the whole node to fw-a first.
	batch := nextOffers(t, offers)
	assert.Equal(t, batch.FrameworkID, sproto.FrameworkID("fw-a"))
	assert.Equal(t, len(batch.Offers), 1)
	assert.Assert(t, batch.Offers[0].Resources.Equal(parse(t, "cpus:10;mem:1000")))

	// The node is fully allocated; the next round yields nothing.
	clk.Add(batchInterval)
	time.Sleep(50 * time.Millisecond)
	sync(t, system, driver)
	assert.Equal(t, len(offers), 0)
}

func TestDriverFavorsLowerShareFramework(t *testing.T) {
	system, clk, driver, offers := setupDriver(t)
	defer system.Stop()

	system.Tell(driver, FrameworkAdded{ID: "fw-a"})
	system.Tell(driver, FrameworkAdded{ID: "fw-b"})
	system.Tell(driver, SlaveAdded{
		ID:   "slave-1",
		Info: sproto.SlaveInfo{Hostname: "node1", Resources: parse(t, "cpus:10")},
	})
	sync(t, system, driver)

	clk.Add(batchInterval)
	first := nextOffers(t, offers)
	assert.Equal(t, first.FrameworkID, sproto.FrameworkID("fw-a"))

	// fw-a holds the whole first node, so a fresh node goes to fw-b.
	system.Tell(driver, SlaveAdded{
		ID:   "slave-2",
		Info: sproto.SlaveInfo{Hostname: "node2", Resources: parse(t, "cpus:10")},
	})
	sync(t, system, driver)

	clk.Add(batchInterval)
	second := nextOffers(t, offers)
	assert.Equal(t, second.FrameworkID, sproto.FrameworkID("fw-b"))
	assert.Equal(t, second.Offers[0].SlaveID, sproto.SlaveID("slave-2"))
}

func TestOffersRevivedTriggersImmediateRound(t *testing.T) {
	system, clk, driver, offers := setupDriver(t)
	defer system.Stop()

	system.Tell(driver, FrameworkAdded{ID: "fw-a"})
	system.Tell(driver, SlaveAdded{
		ID:   "slave-1",
		Info: sproto.SlaveInfo{Hostname: "node1", Resources: parse(t, "cpus:4")},
	})
	sync(t, system, driver)

	clk.Add(batchInterval)
	batch := nextOffers(t, offers)

	// A deactivated framework that declines its offer gets nothing until it revives.
	system.Tell(driver, FrameworkDeactivated{ID: "fw-a"})
	system.Tell(driver, ResourcesUnused{
		FrameworkID: batch.FrameworkID,
		SlaveID:     batch.Offers[0].SlaveID,
		Resources:   batch.Offers[0].Resources,
	})
	sync(t, system, driver)
	clk.Add(batchInterval)
	time.Sleep(50 * time.Millisecond)
	sync(t, system, driver)
	assert.Equal(t, len(offers), 0)

	// Reviving reactivates the framework and allocates without waiting for the next tick.
	system.Tell(driver, OffersRevived{FrameworkID: "fw-a"})
	revived := nextOffers(t, offers)
	assert.Equal(t, revived.FrameworkID, sproto.FrameworkID("fw-a"))
	assert.Assert(t, revived.Offers[0].Resources.Equal(parse(t, "cpus:4")))
}

func TestDriverReoffersUnusedResources(t *testing.T) {
	system, clk, driver, offers := setupDriver(t)
	defer system.Stop()

	system.Tell(driver, FrameworkAdded{ID: "fw-a"})
	system.Tell(driver, SlaveAdded{
		ID:   "slave-1",
		Info: sproto.SlaveInfo{Hostname: "node1", Resources: parse(t, "cpus:4;mem:100")},
	})
	sync(t, system, driver)

	clk.Add(batchInterval)
	batch := nextOffers(t, offers)

	system.Tell(driver, ResourcesUnused{
		FrameworkID: batch.FrameworkID,
		SlaveID:     batch.Offers[0].SlaveID,
		Resources:   batch.Offers[0].Resources,
	})
	sync(t, system, driver)

	clk.Add(batchInterval)
	again := nextOffers(t, offers)
	assert.Assert(t, again.Offers[0].Resources.Equal(parse(t, "cpus:4;mem:100")))
}
