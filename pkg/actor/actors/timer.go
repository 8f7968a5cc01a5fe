package actors

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/skiffworks/skiff/pkg/actor"
)

type timer struct {
	*clock.Timer

	recipient *actor.Ref
	msg       actor.Message
}

// Receive implements the actor.Actor interface.
func (t *timer) Receive(ctx *actor.Context) error {
	switch ctx.Message().(type) {
	case actor.PreStart:
		go t.awaitTimer(ctx)
	case actor.PostStop:
		t.Stop()
	}
	return nil
}

func (t *timer) awaitTimer(ctx *actor.Context) {
	<-t.C // Wait for the timer to tick.
	ctx.Tell(t.recipient, t.msg)
	ctx.Self().Stop()
}

// NotifyAfter asynchronously notifies the context's recipient with the provided message after
// the provided duration.
func NotifyAfter(ctx *actor.Context, d time.Duration, msg actor.Message) (*actor.Ref, bool) {
	return NotifyAfterOn(ctx, clock.New(), d, msg)
}

// NotifyAfterOn behaves as NotifyAfter against the provided clock, which tests can mock.
func NotifyAfterOn(
	ctx *actor.Context, clk clock.Clock, d time.Duration, msg actor.Message,
) (*actor.Ref, bool) {
	addr := actor.Addr("notify-timer-" + uuid.New().String())
	return ctx.Self().System().ActorOf(addr,
		&timer{Timer: clk.Timer(d), recipient: ctx.Self(), msg: msg})
}
