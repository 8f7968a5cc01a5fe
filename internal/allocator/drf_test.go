package allocator

import (
	"testing"

	"gotest.tools/assert"

	"github.com/skiffworks/skiff/pkg/resource"
)

func parse(t *testing.T, s string) resource.Resources {
	t.Helper()
	rs, err := resource.Parse(s)
	assert.NilError(t, err)
	return rs
}

func TestBasicFairness(t *testing.T) {
	sorter := NewDRFSorter()
	sorter.AddTotal(parse(t, "cpus:10;mem:1000"))

	sorter.Add("a")
	sorter.Add("b")
	sorter.Allocated("a", parse(t, "cpus:2;mem:100"))

	// b has no allocation (share 0), a's dominant share is 2/10.
	assert.DeepEqual(t, sorter.Sort(), []string{"b", "a"})
}

func TestTiebreakIsLexicographic(t *testing.T) {
	sorter := NewDRFSorter()
	sorter.AddTotal(parse(t, "cpus:10"))

	sorter.Add("b")
	sorter.Add("a")

	assert.DeepEqual(t, sorter.Sort(), []string{"a", "b"})
}

func TestDirtyRecompute(t *testing.T) {
	sorter := NewDRFSorter()
	sorter.AddTotal(parse(t, "cpus:10"))
	sorter.Add("a")
	sorter.Add("b")

	sorter.Allocated("a", parse(t, "cpus:2"))
	assert.Equal(t, sorter.calculateShare("a"), 0.2)

	// Growing the pool defers recomputation until the next Sort.
	sorter.AddTotal(parse(t, "cpus:10"))
	assert.DeepEqual(t, sorter.Sort(), []string{"b", "a"})
	assert.Equal(t, sorter.calculateShare("a"), 0.1)
}

func TestDominantShareOrdering(t *testing.T) {
	sorter := NewDRFSorter()
	sorter.AddTotal(parse(t, "cpus:100;mem:100"))

	sorter.Add("a")
	sorter.Add("b")
	sorter.Add("c")

	// a: dominant share 0.5 (mem), b: 0.3 (cpus), c: 0.1.
	sorter.Allocated("a", parse(t, "cpus:10;mem:50"))
	sorter.Allocated("b", parse(t, "cpus:30;mem:10"))
	sorter.Allocated("c", parse(t, "cpus:10;mem:10"))

	assert.DeepEqual(t, sorter.Sort(), []string{"c", "b", "a"})
}

func TestAllocateUnallocateRoundTrip(t *testing.T) {
	sorter := NewDRFSorter()
	sorter.AddTotal(parse(t, "cpus:10;mem:1000"))
	sorter.Add("a")

	before := sorter.Allocation("a")
	granted := parse(t, "cpus:4;mem:256")
	sorter.Allocated("a", granted)
	sorter.Unallocated("a", granted)

	assert.Assert(t, sorter.Allocation("a").Equal(before))
	assert.Equal(t, sorter.calculateShare("a"), 0.0)
}

func TestAddExistingClientIsNoop(t *testing.T) {
	sorter := NewDRFSorter()
	sorter.AddTotal(parse(t, "cpus:10"))
	sorter.Add("a")
	sorter.Allocated("a", parse(t, "cpus:5"))

	sorter.Add("a")

	assert.Equal(t, sorter.Count(), 1)
	assert.Assert(t, sorter.Allocation("a").Equal(parse(t, "cpus:5")))
	assert.DeepEqual(t, sorter.Sort(), []string{"a"})
}

func TestDeactivateKeepsAllocation(t *testing.T) {
	sorter := NewDRFSorter()
	sorter.AddTotal(parse(t, "cpus:10"))
	sorter.Add("a")
	sorter.Add("b")
	sorter.Allocated("a", parse(t, "cpus:2"))

	sorter.Deactivate("a")
	assert.DeepEqual(t, sorter.Sort(), []string{"b"})
	assert.Assert(t, sorter.Contains("a"))

	// Allocations recorded while deactivated still count once reactivated.
	sorter.Allocated("a", parse(t, "cpus:3"))
	sorter.Activate("a")
	assert.DeepEqual(t, sorter.Sort(), []string{"b", "a"})
	assert.Equal(t, sorter.calculateShare("a"), 0.5)
}

func TestRemoveIsIdempotent(t *testing.T) {
	sorter := NewDRFSorter()
	sorter.Add("a")
	sorter.Remove("a")
	sorter.Remove("a")
	sorter.Deactivate("a")

	assert.Equal(t, sorter.Count(), 0)
	assert.DeepEqual(t, sorter.Sort(), []string{})
}

func TestActivateUnknownClientPanics(t *testing.T) {
	defer func() {
		assert.Assert(t, recover() != nil, "expected a panic")
	}()
	NewDRFSorter().Activate("nope")
}

func TestSortIsIdempotent(t *testing.T) {
	sorter := NewDRFSorter()
	sorter.AddTotal(parse(t, "cpus:10"))
	sorter.Add("a")
	sorter.Add("b")
	sorter.Allocated("b", parse(t, "cpus:1"))

	first := sorter.Sort()
	assert.DeepEqual(t, sorter.Sort(), first)
}

func TestRemoveTotalDoesNotClamp(t *testing.T) {
	sorter := NewDRFSorter()
	sorter.AddTotal(parse(t, "cpus:10"))
	sorter.Add("a")
	sorter.Allocated("a", parse(t, "cpus:2"))

	// Re-advertisement can transiently drive the pool negative; shares then treat the resource
	// as absent rather than dividing by a negative total.
	sorter.RemoveTotal(parse(t, "cpus:15"))
	assert.DeepEqual(t, sorter.Sort(), []string{"a"})
	assert.Equal(t, sorter.calculateShare("a"), 0.0)

	// Re-adding the pool restores positive shares.
	sorter.AddTotal(parse(t, "cpus:15"))
	sorter.Sort()
	assert.Equal(t, sorter.calculateShare("a"), 0.2)
}

func TestSharesIgnoreNonScalarResources(t *testing.T) {
	sorter := NewDRFSorter()
	sorter.AddTotal(parse(t, "cpus:10;ports:[1-1000]"))
	sorter.Add("a")
	sorter.Add("b")

	sorter.Allocated("a", parse(t, "ports:[1-900]"))
	sorter.Allocated("b", parse(t, "cpus:1"))

	// Ports do not contribute to dominant share, so a sorts first despite holding most of them.
	assert.DeepEqual(t, sorter.Sort(), []string{"a", "b"})
}
