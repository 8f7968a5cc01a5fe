package actor

import (
	"container/list"
	"sync"
)

// inbox is an unbounded FIFO mailbox. Senders never block; the owning actor blocks on get until
// a message arrives.
type inbox struct {
	lock     sync.Mutex
	notEmpty *sync.Cond
	queue    *list.List
	closed   bool
}

func newInbox() *inbox {
	i := &inbox{queue: list.New()}
	i.notEmpty = sync.NewCond(&i.lock)
	return i
}

func (i *inbox) tell(recipient *Ref, sender *Ref, message Message) {
	i.push(&Context{recipient: recipient, sender: sender, message: message})
}

func (i *inbox) ask(recipient *Ref, sender *Ref, message Message) Response {
	future := make(chan Message, 1)
	ctx := &Context{recipient: recipient, sender: sender, message: message, result: future}
	resp := &response{source: recipient, future: future}
	i.push(ctx)
	return resp
}

func (i *inbox) push(ctx *Context) {
	i.lock.Lock()
	defer i.lock.Unlock()

	if i.closed {
		// The actor is shut down; requests are answered with no response.
		if ctx.result != nil {
			ctx.result <- errNoResponse
			close(ctx.result)
		}
		return
	}
	i.queue.PushBack(ctx)
	i.notEmpty.Signal()
}

// get blocks until a message is available and returns it.
func (i *inbox) get() *Context {
	i.lock.Lock()
	defer i.lock.Unlock()

	for i.queue.Len() == 0 {
		i.notEmpty.Wait()
	}
	return i.queue.Remove(i.queue.Front()).(*Context)
}

func (i *inbox) len() int {
	i.lock.Lock()
	defer i.lock.Unlock()
	return i.queue.Len()
}

// close drains the remaining messages in the inbox; all senders expecting results are sent a
// no-response marker.
func (i *inbox) close() {
	i.lock.Lock()
	defer i.lock.Unlock()

	i.closed = true
	for i.queue.Len() > 0 {
		ctx := i.queue.Remove(i.queue.Front()).(*Context)
		if ctx.result != nil {
			ctx.result <- errNoResponse
			close(ctx.result)
		}
	}
}
