// Package allocator implements the master's fair-share allocation machinery: a sorter that
// orders clients by dominant share and a driver that turns sorter order into resource offers.
package allocator

import (
	"github.com/skiffworks/skiff/pkg/resource"
)

// Sorter maintains a set of named clients, each with a computed share of the total resource
// pool, and emits them in ascending share order.
type Sorter interface {
	// Add introduces a client with an empty allocation. Adding an existing client is a no-op.
	Add(name string)
	// Remove forgets the client and its allocation. Removing an unknown client is a no-op.
	Remove(name string)
	// Activate inserts a known client into the sorted set. The client must have been added.
	Activate(name string)
	// Deactivate removes the client from the sorted set but keeps its allocation.
	Deactivate(name string)
	// Allocated records resources granted to the client.
	Allocated(name string, r resource.Resources)
	// Unallocated records resources returned by the client.
	Unallocated(name string, r resource.Resources)
	// Allocation returns the client's current allocation.
	Allocation(name string) resource.Resources
	// AddTotal grows the pool against which shares are computed.
	AddTotal(r resource.Resources)
	// RemoveTotal shrinks the pool. The pool is not clamped and may transiently go negative
	// while resources are re-advertised.
	RemoveTotal(r resource.Resources)
	// Sort returns the active clients in ascending share order, recomputing shares first if the
	// pool has changed since the last call.
	Sort() []string
	// Contains returns true if the client is known, whether or not it is active.
	Contains(name string) bool
	// Count returns the number of known clients.
	Count() int
}
