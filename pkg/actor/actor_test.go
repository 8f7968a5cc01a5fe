package actor

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoActor struct{}

func (echoActor) Receive(ctx *Context) error {
	switch msg := ctx.Message().(type) {
	case PreStart, PostStop:
	case string:
		if ctx.ExpectingResponse() {
			ctx.Respond("echo: " + msg)
		}
	default:
		return ErrUnexpectedMessage(ctx)
	}
	return nil
}

type countingActor struct {
	received []Message
}

func (c *countingActor) Receive(ctx *Context) error {
	switch ctx.Message().(type) {
	case PreStart, PostStop:
	default:
		c.received = append(c.received, ctx.Message())
		if ctx.ExpectingResponse() {
			ctx.Respond(len(c.received))
		}
	}
	return nil
}

func TestAskResponds(t *testing.T) {
	system := NewSystem(t.Name())
	defer system.Stop()

	ref, created := system.ActorOf(Addr("echo"), echoActor{})
	require.True(t, created)

	assert.Equal(t, "echo: hi", system.Ask(ref, "hi").Get())
}

func TestMessagesAreProcessedInSendOrder(t *testing.T) {
	system := NewSystem(t.Name())
	defer system.Stop()

	counter := &countingActor{}
	ref, created := system.ActorOf(Addr("counter"), counter)
	require.True(t, created)

	for i := 0; i < 100; i++ {
		system.Tell(ref, i)
	}
	// Ping-like barrier: the ask is processed after everything sent before it.
	assert.Equal(t, 101, system.Ask(ref, "done").Get())
	for i := 0; i < 100; i++ {
		assert.Equal(t, i, counter.received[i])
	}
}

func TestActorOfReturnsExistingRef(t *testing.T) {
	system := NewSystem(t.Name())
	defer system.Stop()

	first, created := system.ActorOf(Addr("echo"), echoActor{})
	require.True(t, created)
	second, created := system.ActorOf(Addr("echo"), echoActor{})
	assert.False(t, created)
	assert.Equal(t, first, second)
}

func TestChildLifecycle(t *testing.T) {
	system := NewSystem(t.Name())
	defer system.Stop()

	var stopped []Address
	parent, created := system.ActorOf(Addr("parent"), ActorFunc(func(ctx *Context) error {
		switch msg := ctx.Message().(type) {
		case string:
			child, ok := ctx.ActorOf(msg, echoActor{})
			require.True(t, ok)
			if ctx.ExpectingResponse() {
				ctx.Respond(child)
			}
		case ChildStopped:
			stopped = append(stopped, msg.Child.Address())
		}
		return nil
	}))
	require.True(t, created)

	child, ok := system.Ask(parent, "kid").Get().(*Ref)
	require.True(t, ok)
	assert.Equal(t, "/parent/kid", child.Address().String())
	assert.Equal(t, child, system.Get(Addr("parent", "kid")))

	require.NoError(t, child.StopAndAwaitTermination())

	// The parent observed the stop and unregistered the child.
	system.Ask(parent, Ping{}).Get()
	assert.Nil(t, system.Get(Addr("parent", "kid")))
	assert.Equal(t, []Address{Addr("parent", "kid")}, stopped)
}

func TestFailingActorNotifiesParent(t *testing.T) {
	system := NewSystem(t.Name())
	defer system.Stop()

	failures := make(chan error, 1)
	parent, created := system.ActorOf(Addr("parent"), ActorFunc(func(ctx *Context) error {
		switch msg := ctx.Message().(type) {
		case string:
			ctx.ActorOf(msg, ActorFunc(func(ctx *Context) error {
				if _, ok := ctx.Message().(string); ok {
					return errors.New("boom")
				}
				return nil
			}))
		case ChildFailed:
			failures <- msg.Error
		}
		return nil
	}))
	require.True(t, created)

	system.Tell(parent, "kid")
	system.Ask(parent, Ping{}).Get()
	system.TellAt(Addr("parent", "kid"), "explode")

	err := <-failures
	assert.ErrorContains(t, err, "boom")
}

func TestStoppedActorAnswersAsksWithNoResponse(t *testing.T) {
	system := NewSystem(t.Name())
	defer system.Stop()

	ref, created := system.ActorOf(Addr("echo"), echoActor{})
	require.True(t, created)
	require.NoError(t, ref.StopAndAwaitTermination())

	resp := system.Ask(ref, "hi")
	assert.True(t, resp.Empty())
	assert.Nil(t, resp.Get())
}
