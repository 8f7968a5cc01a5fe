package resource

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Scalar is a non-negative real-valued quantity.
type Scalar struct {
	Value float64 `json:"value"`
}

// Range is an inclusive interval of integers.
type Range struct {
	Begin uint64 `json:"begin"`
	End   uint64 `json:"end"`
}

// Ranges is a collection of integer intervals. The canonical form is sorted, disjoint and
// coalesced.
type Ranges []Range

// Set is a finite collection of strings. The canonical form is sorted and deduplicated.
type Set []string

// Canonicalize returns the canonical form of the ranges: sorted by beginning, with overlapping
// and adjacent intervals coalesced.
func (r Ranges) Canonicalize() Ranges {
	if len(r) == 0 {
		return nil
	}
	sorted := make(Ranges, len(r))
	copy(sorted, r)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Begin < sorted[j].Begin })

	result := Ranges{sorted[0]}
	for _, next := range sorted[1:] {
		last := &result[len(result)-1]
		switch {
		case next.Begin <= last.End+1 && next.End > last.End:
			last.End = next.End
		case next.Begin > last.End+1:
			result = append(result, next)
		}
	}
	return result
}

// Size returns the total number of integers covered by the ranges.
func (r Ranges) Size() uint64 {
	var size uint64
	for _, rng := range r.Canonicalize() {
		size += rng.End - rng.Begin + 1
	}
	return size
}

func (r Ranges) contains(other Ranges) bool {
	canonical := r.Canonicalize()
	for _, want := range other.Canonicalize() {
		found := false
		for _, have := range canonical {
			if have.Begin <= want.Begin && want.End <= have.End {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (r Ranges) plus(other Ranges) Ranges {
	return append(append(Ranges{}, r...), other...).Canonicalize()
}

func (r Ranges) minus(other Ranges) (Ranges, error) {
	if !r.contains(other) {
		return nil, errors.Errorf("ranges %v do not contain %v", r, other)
	}
	result := r.Canonicalize()
	for _, sub := range other.Canonicalize() {
		var next Ranges
		for _, have := range result {
			switch {
			case sub.End < have.Begin || sub.Begin > have.End:
				next = append(next, have)
			default:
				if have.Begin < sub.Begin {
					next = append(next, Range{Begin: have.Begin, End: sub.Begin - 1})
				}
				if sub.End < have.End {
					next = append(next, Range{Begin: sub.End + 1, End: have.End})
				}
			}
		}
		result = next
	}
	return result.Canonicalize(), nil
}

func (r Ranges) String() string {
	parts := make([]string, 0, len(r))
	for _, rng := range r {
		parts = append(parts, fmt.Sprintf("%d-%d", rng.Begin, rng.End))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Canonicalize returns the canonical form of the set: sorted with duplicates removed.
func (s Set) Canonicalize() Set {
	if len(s) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(s))
	result := make(Set, 0, len(s))
	for _, item := range s {
		if !seen[item] {
			seen[item] = true
			result = append(result, item)
		}
	}
	sort.Strings(result)
	return result
}

func (s Set) contains(other Set) bool {
	have := make(map[string]bool, len(s))
	for _, item := range s {
		have[item] = true
	}
	for _, item := range other {
		if !have[item] {
			return false
		}
	}
	return true
}

func (s Set) plus(other Set) Set {
	return append(append(Set{}, s...), other...).Canonicalize()
}

func (s Set) minus(other Set) (Set, error) {
	if !s.contains(other) {
		return nil, errors.Errorf("set %v does not contain %v", s, other)
	}
	drop := make(map[string]bool, len(other))
	for _, item := range other {
		drop[item] = true
	}
	var result Set
	for _, item := range s.Canonicalize() {
		if !drop[item] {
			result = append(result, item)
		}
	}
	return result, nil
}

func (s Set) String() string {
	return "{" + strings.Join(s, ",") + "}"
}
