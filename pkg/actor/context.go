package actor

import (
	log "github.com/sirupsen/logrus"
)

// Context holds contextual information for the context's recipient and the current message.
type Context struct {
	message    Message
	sender     *Ref
	recipient  *Ref
	result     chan<- Message
	resultSent bool
}

// Message returns the underlying message.
func (c *Context) Message() Message {
	return c.message
}

// Log returns the context's recipient's logger.
func (c *Context) Log() *log.Entry {
	return c.recipient.log
}

// AddLabel adds a new label to the context's recipient's logger.
func (c *Context) AddLabel(key string, value interface{}) {
	c.recipient.log = c.recipient.log.WithField(key, value)
}

// Tell sends the specified message to the actor (fire-and-forget semantics). The new context's
// sender is set to the recipient of this context.
func (c *Context) Tell(actor *Ref, message Message) {
	actor.tell(c.recipient, message)
}

// TellAll sends the specified message to all actors (fire-and-forget semantics).
func (c *Context) TellAll(message Message, actors ...*Ref) {
	for _, ref := range actors {
		ref.tell(c.recipient, message)
	}
}

// Ask sends the specified message to the actor, returning a future to the result of the call.
func (c *Context) Ask(actor *Ref, message Message) Response {
	return actor.ask(c.recipient, message)
}

// AskAll sends the specified message to all actors, returning a future to all results of the
// call. Results are returned in arbitrary order.
func (c *Context) AskAll(message Message, actors ...*Ref) Responses {
	return askAll(message, c.recipient, actors)
}

// Sender returns the reference to the message's sender, or nil for system messages.
func (c *Context) Sender() *Ref {
	return c.sender
}

// Self returns the reference to the context's recipient.
func (c *Context) Self() *Ref {
	return c.recipient
}

// ActorOf adds the actor to the system as a child of the context's recipient. If an actor with
// that ID already exists, that actor's reference is returned instead. The second return value is
// true if the actor reference was created and false otherwise.
func (c *Context) ActorOf(id interface{}, actor Actor) (*Ref, bool) {
	return c.recipient.createChild(c.recipient.address.Child(id), actor)
}

// Children returns a list of references to the context's recipient's children.
func (c *Context) Children() []*Ref {
	return c.recipient.Children()
}

// Child returns the child with the given local ID, or nil.
func (c *Context) Child(id interface{}) *Ref {
	return c.recipient.Child(id)
}

// ExpectingResponse returns true if the sender is expecting a response and false otherwise.
func (c *Context) ExpectingResponse() bool {
	return c.result != nil && !c.resultSent
}

// Respond returns a response message for this request message back to the sender.
func (c *Context) Respond(message Message) {
	if c.result == nil {
		panic("sender is not expecting a response")
	}
	c.resultSent = true
	c.result <- message
	close(c.result)
}

// RespondCheckError responds with the error if it is non-nil and the message otherwise.
func (c *Context) RespondCheckError(message Message, err error) {
	if err != nil {
		c.Respond(err)
	} else {
		c.Respond(message)
	}
}

// Kill removes the child with the given local ID from this parent and stops it. All further
// messages from this child to this actor are ignored.
func (c *Context) Kill(id interface{}) bool {
	if child := c.Child(id); child != nil {
		delete(c.recipient.children, child.Address())
		c.recipient.deadChildren[child.Address()] = true
		child.Stop()
		return true
	}
	return false
}
