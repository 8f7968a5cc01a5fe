package actor

import (
	"fmt"

	"github.com/pkg/errors"
)

// errNoResponse is the response sent to a request when the actor shuts down, or finishes
// processing the request, without responding.
var errNoResponse = errors.New("no response from actor")

// errUnexpectedMessage is returned by actors that do not handle the received message kind.
type errUnexpectedMessage struct {
	sender    *Ref
	recipient *Ref
	message   Message
}

func (e errUnexpectedMessage) Error() string {
	return fmt.Sprintf("unexpected message from %v to %v: %T %v",
		e.sender, e.recipient, e.message, e.message)
}

// ErrUnexpectedMessage is returned by an actor's Receive when the message kind has no handler.
// The framework treats it as a soft error; the actor keeps running.
func ErrUnexpectedMessage(ctx *Context) error {
	return errUnexpectedMessage{sender: ctx.Sender(), recipient: ctx.Self(), message: ctx.Message()}
}
