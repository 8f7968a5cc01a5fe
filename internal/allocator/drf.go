package allocator

import (
	"strings"

	"github.com/emirpasic/gods/sets/treeset"

	"github.com/skiffworks/skiff/pkg/check"
	"github.com/skiffworks/skiff/pkg/resource"
)

// client is one entry in the sorted set.
type client struct {
	name  string
	share float64
}

// byDominantShare orders clients by ascending share, ties broken by name. The name tiebreak
// makes the order total and the sort deterministic.
func byDominantShare(a, b interface{}) int {
	c1, c2 := a.(*client), b.(*client)
	switch {
	case c1.share < c2.share:
		return -1
	case c1.share > c2.share:
		return 1
	default:
		return strings.Compare(c1.name, c2.name)
	}
}

// DRFSorter orders clients by their dominant share: the maximum over scalar resources of the
// fraction of the pool the client has been allocated. Non-scalar resources do not contribute.
type DRFSorter struct {
	// clients is the sorted set of active clients.
	clients *treeset.Set
	// allocations is kept for every known client, active or not.
	allocations map[string]resource.Resources
	// total is the pool against which shares are computed.
	total resource.Resources
	// dirty defers share recomputation to the next Sort after the pool changes.
	dirty bool
}

// NewDRFSorter returns an empty DRF sorter.
func NewDRFSorter() *DRFSorter {
	return &DRFSorter{
		clients:     treeset.NewWith(byDominantShare),
		allocations: make(map[string]resource.Resources),
	}
}

// Add implements the Sorter interface.
func (s *DRFSorter) Add(name string) {
	if _, ok := s.allocations[name]; ok {
		return
	}
	s.allocations[name] = nil
	s.clients.Add(&client{name: name, share: 0})
}

// Remove implements the Sorter interface.
func (s *DRFSorter) Remove(name string) {
	if found := s.find(name); found != nil {
		s.clients.Remove(found)
	}
	delete(s.allocations, name)
}

// Activate implements the Sorter interface. Activating a client that was never added is a
// programming error.
func (s *DRFSorter) Activate(name string) {
	_, ok := s.allocations[name]
	check.Panic(check.True(ok, "cannot activate unknown client %s", name))

	if found := s.find(name); found != nil {
		s.clients.Remove(found)
	}
	s.clients.Add(&client{name: name, share: s.calculateShare(name)})
}

// Deactivate implements the Sorter interface.
func (s *DRFSorter) Deactivate(name string) {
	if found := s.find(name); found != nil {
		s.clients.Remove(found)
	}
}

// Allocated implements the Sorter interface.
func (s *DRFSorter) Allocated(name string, r resource.Resources) {
	s.allocations[name] = s.allocations[name].Plus(r)

	// If the pool has changed we are going to recalculate every share on the next Sort anyway,
	// so do not bother re-keying just this client.
	if !s.dirty {
		s.update(name)
	}
}

// Unallocated implements the Sorter interface.
func (s *DRFSorter) Unallocated(name string, r resource.Resources) {
	s.allocations[name] = s.allocations[name].MinusUnchecked(r)

	if !s.dirty {
		s.update(name)
	}
}

// Allocation implements the Sorter interface.
func (s *DRFSorter) Allocation(name string) resource.Resources {
	return s.allocations[name]
}

// AddTotal implements the Sorter interface.
func (s *DRFSorter) AddTotal(r resource.Resources) {
	s.total = s.total.Plus(r)
	s.dirty = true
}

// RemoveTotal implements the Sorter interface.
func (s *DRFSorter) RemoveTotal(r resource.Resources) {
	s.total = s.total.MinusUnchecked(r)
	s.dirty = true
}

// Sort implements the Sorter interface.
func (s *DRFSorter) Sort() []string {
	if s.dirty {
		rebuilt := treeset.NewWith(byDominantShare)
		for _, value := range s.clients.Values() {
			name := value.(*client).name
			rebuilt.Add(&client{name: name, share: s.calculateShare(name)})
		}
		s.clients = rebuilt
		s.dirty = false
	}

	names := make([]string, 0, s.clients.Size())
	for _, value := range s.clients.Values() {
		names = append(names, value.(*client).name)
	}
	return names
}

// Contains implements the Sorter interface.
func (s *DRFSorter) Contains(name string) bool {
	_, ok := s.allocations[name]
	return ok
}

// Count implements the Sorter interface.
func (s *DRFSorter) Count() int {
	return len(s.allocations)
}

// update re-keys the client's sorted-set entry by its recomputed share.
func (s *DRFSorter) update(name string) {
	if found := s.find(name); found != nil {
		s.clients.Remove(found)
		s.clients.Add(&client{name: name, share: s.calculateShare(name)})
	}
}

// calculateShare returns the client's dominant share against the current pool, considering only
// scalar resources with a positive total.
func (s *DRFSorter) calculateShare(name string) float64 {
	var share float64
	for _, r := range s.total {
		if r.Scalar == nil {
			continue
		}
		total := r.Scalar.Value
		if total <= 0 {
			continue
		}
		allocated := s.allocations[name].ScalarValue(r.Name, 0)
		if fraction := allocated / total; fraction > share {
			share = fraction
		}
	}
	return share
}

// find returns the sorted-set entry with the provided name, or nil.
func (s *DRFSorter) find(name string) *client {
	for _, value := range s.clients.Values() {
		if entry := value.(*client); entry.name == name {
			return entry
		}
	}
	return nil
}
