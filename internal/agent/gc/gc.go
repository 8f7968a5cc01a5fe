// Package gc implements scheduled deletion of executor sandboxes and other agent-owned paths.
package gc

import (
	"os"
	"sort"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/skiffworks/skiff/pkg/actor"
	"github.com/skiffworks/skiff/pkg/actor/actors"
)

// Messages processed by the garbage collector.
type (
	// Schedule queues the path for deletion after the provided delay. Scheduling an already
	// queued path replaces its deadline.
	Schedule struct {
		Path  string
		Delay time.Duration
	}

	// Unschedule removes the path from the deletion queue, responding with true if the path was
	// queued. The agent unschedules a sandbox before reusing its directory for a new run.
	Unschedule struct {
		Path string
	}

	// Prune immediately deletes every queued path that has been queued for longer than MaxAge,
	// oldest first. The agent shortens MaxAge under disk pressure.
	Prune struct {
		MaxAge time.Duration
	}

	// tick fires when a path's deletion deadline passes. Due carries the deadline the timer was
	// armed for so a tick for a replaced schedule is recognised as stale.
	tick struct {
		Path string
		Due  time.Time
	}
)

type entry struct {
	queued time.Time
	due    time.Time
}

// GC is the garbage collector actor.
type GC struct {
	clk     clock.Clock
	entries map[string]*entry
}

// New returns a garbage collector running against the provided clock.
func New(clk clock.Clock) *GC {
	return &GC{
		clk:     clk,
		entries: make(map[string]*entry),
	}
}

// Receive implements the actor.Actor interface.
func (g *GC) Receive(ctx *actor.Context) error {
	switch msg := ctx.Message().(type) {
	case actor.PreStart, actor.PostStop:

	case Schedule:
		now := g.clk.Now()
		due := now.Add(msg.Delay)
		if existing, ok := g.entries[msg.Path]; ok {
			existing.due = due
		} else {
			g.entries[msg.Path] = &entry{queued: now, due: due}
		}
		ctx.Log().Debugf("scheduled %s for deletion in %s", msg.Path, msg.Delay)
		actors.NotifyAfterOn(ctx, g.clk, msg.Delay, tick{Path: msg.Path, Due: due})

	case Unschedule:
		_, ok := g.entries[msg.Path]
		delete(g.entries, msg.Path)
		if ctx.ExpectingResponse() {
			ctx.Respond(ok)
		}

	case Prune:
		now := g.clk.Now()
		var eligible []string
		for path, e := range g.entries {
			if now.Sub(e.queued) > msg.MaxAge {
				eligible = append(eligible, path)
			}
		}
		// Oldest first.
		sort.Slice(eligible, func(i, j int) bool {
			return g.entries[eligible[i]].queued.Before(g.entries[eligible[j]].queued)
		})
		if len(eligible) > 0 {
			ctx.Log().Infof("pruning %d paths queued for more than %s", len(eligible), msg.MaxAge)
		}
		for _, path := range eligible {
			g.remove(ctx, path)
		}

	case tick:
		e, ok := g.entries[msg.Path]
		if !ok || !e.due.Equal(msg.Due) {
			return nil // The schedule was removed or replaced; the timer is stale.
		}
		g.remove(ctx, msg.Path)

	default:
		return actor.ErrUnexpectedMessage(ctx)
	}
	return nil
}

func (g *GC) remove(ctx *actor.Context, path string) {
	delete(g.entries, path)

	err := os.RemoveAll(path)
	if err == nil {
		ctx.Log().Infof("deleted %s", path)
		return
	}
	// One retry; persistent failure is a warning, not fatal.
	if err = os.RemoveAll(path); err != nil {
		ctx.Log().WithError(err).Warnf("failed to delete %s", path)
		return
	}
	ctx.Log().Infof("deleted %s after retry", path)
}
