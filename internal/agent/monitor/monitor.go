// Package monitor implements the per-executor resource usage sampler.
package monitor

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/skiffworks/skiff/internal/agent/isolator"
	"github.com/skiffworks/skiff/pkg/actor"
	"github.com/skiffworks/skiff/pkg/actor/actors"
	"github.com/skiffworks/skiff/pkg/sproto"
)

// Messages processed by the resource monitor.
type (
	// Watch starts sampling an executor's usage.
	Watch struct {
		FrameworkID sproto.FrameworkID
		ExecutorID  sproto.ExecutorID
	}

	// Unwatch stops sampling an executor and drops its latest sample.
	Unwatch struct {
		FrameworkID sproto.FrameworkID
		ExecutorID  sproto.ExecutorID
	}

	// GetUsage asks for the latest sample per watched executor.
	GetUsage struct{}

	// Usage is the response to GetUsage.
	Usage struct {
		Executors map[ExecutorKey]sproto.ResourceStatistics
	}

	// sample carries one executor's usage back from the isolator probe.
	sample struct {
		key   ExecutorKey
		stats sproto.ResourceStatistics
	}

	tick struct{}
)

// ExecutorKey identifies a watched executor.
type ExecutorKey struct {
	FrameworkID sproto.FrameworkID
	ExecutorID  sproto.ExecutorID
}

// Monitor samples the usage of watched executors on a fixed cadence.
type Monitor struct {
	iso      isolator.Isolator
	clk      clock.Clock
	interval time.Duration

	watched map[ExecutorKey]bool
	latest  map[ExecutorKey]sproto.ResourceStatistics
}

// New returns a monitor sampling through the provided isolator every interval.
func New(iso isolator.Isolator, clk clock.Clock, interval time.Duration) *Monitor {
	return &Monitor{
		iso:      iso,
		clk:      clk,
		interval: interval,
		watched:  make(map[ExecutorKey]bool),
		latest:   make(map[ExecutorKey]sproto.ResourceStatistics),
	}
}

// Receive implements the actor.Actor interface.
func (m *Monitor) Receive(ctx *actor.Context) error {
	switch msg := ctx.Message().(type) {
	case actor.PreStart:
		actors.NotifyAfterOn(ctx, m.clk, m.interval, tick{})

	case Watch:
		m.watched[ExecutorKey{msg.FrameworkID, msg.ExecutorID}] = true

	case Unwatch:
		key := ExecutorKey{msg.FrameworkID, msg.ExecutorID}
		delete(m.watched, key)
		delete(m.latest, key)

	case GetUsage:
		executors := make(map[ExecutorKey]sproto.ResourceStatistics, len(m.latest))
		for key, stats := range m.latest {
			executors[key] = stats
		}
		ctx.Respond(Usage{Executors: executors})

	case tick:
		actors.NotifyAfterOn(ctx, m.clk, m.interval, tick{})
		for key := range m.watched {
			go m.probe(ctx, key)
		}

	case sample:
		// The executor may have been unwatched while the probe was in flight.
		if m.watched[msg.key] {
			m.latest[msg.key] = msg.stats
		}

	case actor.PostStop:

	default:
		return actor.ErrUnexpectedMessage(ctx)
	}
	return nil
}

func (m *Monitor) probe(ctx *actor.Context, key ExecutorKey) {
	probeCtx, cancel := context.WithTimeout(context.Background(), m.interval)
	defer cancel()

	stats, err := m.iso.Usage(probeCtx, key.FrameworkID, key.ExecutorID)
	if err != nil {
		ctx.Log().WithError(err).Debugf("failed to sample executor %s", key.ExecutorID)
		return
	}
	ctx.Tell(ctx.Self(), sample{key: key, stats: stats})
}
