package actor

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// System is a hierarchical group of actors.
type System struct {
	id  string
	log *log.Entry

	refsLock sync.RWMutex
	refs     map[Address]*Ref

	// Ref is the root actor of the system; all top-level actors are its children.
	Ref *Ref
}

type rootActor struct{}

func (rootActor) Receive(ctx *Context) error { return nil }

// NewSystem returns a new actor system with the provided ID.
func NewSystem(id string) *System {
	system := &System{
		id:   id,
		log:  log.WithField("system", id),
		refs: make(map[Address]*Ref),
	}
	system.Ref = newRef(system, nil, rootAddress, rootActor{})
	return system
}

// ID returns the system's ID.
func (s *System) ID() string {
	return s.id
}

// ActorOf adds the actor to the system under the provided address, creating it as a child of the
// address's parent. If an actor with that address already exists, that actor's reference is
// returned instead and the second return value is false.
func (s *System) ActorOf(address Address, actor Actor) (*Ref, bool) {
	parent := s.Ref
	if !address.Parent().IsRoot() {
		parent = s.Get(address.Parent())
		if parent == nil {
			return nil, false
		}
	}
	created := parent.ask(nil, createChild{address: address, actor: actor}).Get()
	if created == nil {
		return nil, false
	}
	resp := created.(childCreated)
	return resp.child, resp.created
}

// MustActorOf adds the actor under the provided address, panicking if it was not created.
func (s *System) MustActorOf(address Address, actor Actor) *Ref {
	ref, created := s.ActorOf(address, actor)
	if !created {
		panic("actor was not created: " + address.String())
	}
	return ref
}

// Get returns the reference with the provided address, or nil.
func (s *System) Get(address Address) *Ref {
	if address.IsRoot() {
		return s.Ref
	}
	s.refsLock.RLock()
	defer s.refsLock.RUnlock()
	return s.refs[address]
}

// Tell sends the specified message to the actor (fire-and-forget semantics).
func (s *System) Tell(actor *Ref, message Message) {
	actor.tell(nil, message)
}

// TellAt sends the specified message to the actor at the provided address. It is a no-op if no
// actor is registered there.
func (s *System) TellAt(address Address, message Message) {
	if ref := s.Get(address); ref != nil {
		ref.tell(nil, message)
	}
}

// Ask sends the specified message to the actor, returning a future to the result.
func (s *System) Ask(actor *Ref, message Message) Response {
	return actor.ask(nil, message)
}

// AskAt sends the specified message to the actor at the provided address, returning a future to
// the result. The future returns nil immediately if no actor is registered there.
func (s *System) AskAt(address Address, message Message) Response {
	if ref := s.Get(address); ref != nil {
		return ref.ask(nil, message)
	}
	emptied := make(chan Message)
	close(emptied)
	return &response{future: emptied, fetched: true}
}

// Stop stops the system's root actor and all its descendants.
func (s *System) Stop() {
	s.Ref.Stop()
}

// AwaitTermination waits for the system's root actor to stop.
func (s *System) AwaitTermination() error {
	return s.Ref.AwaitTermination()
}
