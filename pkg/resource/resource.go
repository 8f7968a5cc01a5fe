// Package resource implements the typed multi-resource algebra shared by the allocator and the
// node agent. A Resources bundle is a multiset-like collection over named resources; arithmetic
// is componentwise per (name, type).
package resource

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Resource is a named quantity whose value is exactly one of scalar, ranges or set.
type Resource struct {
	Name   string  `json:"name"`
	Scalar *Scalar `json:"scalar,omitempty"`
	Ranges Ranges  `json:"ranges,omitempty"`
	Set    Set     `json:"set,omitempty"`
}

// NewScalar returns a scalar resource with the provided name and value.
func NewScalar(name string, value float64) Resource {
	return Resource{Name: name, Scalar: &Scalar{Value: value}}
}

// NewRanges returns a ranged resource with the provided name and intervals.
func NewRanges(name string, ranges ...Range) Resource {
	return Resource{Name: name, Ranges: Ranges(ranges).Canonicalize()}
}

// NewSet returns a set resource with the provided name and items.
func NewSet(name string, items ...string) Resource {
	return Resource{Name: name, Set: Set(items).Canonicalize()}
}

// Validate returns an error if the resource is malformed: no value, more than one value kind, a
// negative scalar, or an inverted range.
func (r Resource) Validate() error {
	kinds := 0
	if r.Scalar != nil {
		kinds++
		if r.Scalar.Value < 0 {
			return errors.Errorf("resource %s has a negative scalar value", r.Name)
		}
	}
	if r.Ranges != nil {
		kinds++
		for _, rng := range r.Ranges {
			if rng.End < rng.Begin {
				return errors.Errorf("resource %s has an inverted range %d-%d",
					r.Name, rng.Begin, rng.End)
			}
		}
	}
	if r.Set != nil {
		kinds++
	}
	if kinds != 1 {
		return errors.Errorf("resource %s must have exactly one value, has %d", r.Name, kinds)
	}
	return nil
}

func (r Resource) sameKind(other Resource) bool {
	return r.Name == other.Name &&
		(r.Scalar != nil) == (other.Scalar != nil) &&
		(r.Ranges != nil) == (other.Ranges != nil) &&
		(r.Set != nil) == (other.Set != nil)
}

func (r Resource) canonicalize() Resource {
	if r.Ranges != nil {
		r.Ranges = r.Ranges.Canonicalize()
	}
	if r.Set != nil {
		r.Set = r.Set.Canonicalize()
	}
	return r
}

func (r Resource) empty() bool {
	switch {
	case r.Scalar != nil:
		return r.Scalar.Value == 0
	case r.Ranges != nil:
		return len(r.Ranges.Canonicalize()) == 0
	case r.Set != nil:
		return len(r.Set.Canonicalize()) == 0
	}
	return true
}

func (r Resource) equal(other Resource) bool {
	if !r.sameKind(other) {
		return false
	}
	a, b := r.canonicalize(), other.canonicalize()
	switch {
	case a.Scalar != nil:
		return a.Scalar.Value == b.Scalar.Value
	case a.Ranges != nil:
		if len(a.Ranges) != len(b.Ranges) {
			return false
		}
		for i := range a.Ranges {
			if a.Ranges[i] != b.Ranges[i] {
				return false
			}
		}
		return true
	case a.Set != nil:
		if len(a.Set) != len(b.Set) {
			return false
		}
		for i := range a.Set {
			if a.Set[i] != b.Set[i] {
				return false
			}
		}
		return true
	}
	return true
}

func (r Resource) contains(other Resource) bool {
	switch {
	case r.Scalar != nil:
		return r.Scalar.Value >= other.Scalar.Value
	case r.Ranges != nil:
		return r.Ranges.contains(other.Ranges)
	case r.Set != nil:
		return r.Set.contains(other.Set)
	}
	return false
}

func (r Resource) plus(other Resource) Resource {
	switch {
	case r.Scalar != nil:
		return NewScalar(r.Name, r.Scalar.Value+other.Scalar.Value)
	case r.Ranges != nil:
		return Resource{Name: r.Name, Ranges: r.Ranges.plus(other.Ranges)}
	default:
		return Resource{Name: r.Name, Set: r.Set.plus(other.Set)}
	}
}

// minus subtracts the other resource. Unless unchecked, subtracting more than is present is an
// error; unchecked scalar subtraction may go negative.
func (r Resource) minus(other Resource, unchecked bool) (Resource, error) {
	switch {
	case r.Scalar != nil:
		value := r.Scalar.Value - other.Scalar.Value
		if value < 0 && !unchecked {
			return Resource{}, errors.Errorf(
				"resource underflow: %s %v - %v", r.Name, r.Scalar.Value, other.Scalar.Value)
		}
		return NewScalar(r.Name, value), nil
	case r.Ranges != nil:
		ranges, err := r.Ranges.minus(other.Ranges)
		if err != nil && unchecked {
			return Resource{Name: r.Name, Ranges: Ranges{}}, nil
		} else if err != nil {
			return Resource{}, errors.Wrapf(err, "resource underflow: %s", r.Name)
		}
		if ranges == nil {
			ranges = Ranges{}
		}
		return Resource{Name: r.Name, Ranges: ranges}, nil
	default:
		set, err := r.Set.minus(other.Set)
		if err != nil && unchecked {
			return Resource{Name: r.Name, Set: Set{}}, nil
		} else if err != nil {
			return Resource{}, errors.Wrapf(err, "resource underflow: %s", r.Name)
		}
		if set == nil {
			set = Set{}
		}
		return Resource{Name: r.Name, Set: set}, nil
	}
}

func (r Resource) String() string {
	switch {
	case r.Scalar != nil:
		return fmt.Sprintf("%s:%v", r.Name, r.Scalar.Value)
	case r.Ranges != nil:
		return fmt.Sprintf("%s:%s", r.Name, r.Ranges)
	case r.Set != nil:
		return fmt.Sprintf("%s:%s", r.Name, r.Set)
	}
	return r.Name + ":<empty>"
}

// Resources is a bundle of resources of any type.
type Resources []Resource

// Empty returns true if every component of the bundle is empty.
func (rs Resources) Empty() bool {
	for _, r := range rs {
		if !r.empty() {
			return false
		}
	}
	return true
}

// Get returns the resource with the provided name and the same value kind as the probe.
func (rs Resources) get(probe Resource) (Resource, bool) {
	for _, r := range rs {
		if r.sameKind(probe) {
			return r, true
		}
	}
	return Resource{}, false
}

// GetScalar returns the named scalar resource.
func (rs Resources) GetScalar(name string) (Scalar, bool) {
	for _, r := range rs {
		if r.Name == name && r.Scalar != nil {
			return *r.Scalar, true
		}
	}
	return Scalar{}, false
}

// ScalarValue returns the value of the named scalar resource, or the provided default when the
// bundle has no such scalar.
func (rs Resources) ScalarValue(name string, defaultValue float64) float64 {
	if scalar, ok := rs.GetScalar(name); ok {
		return scalar.Value
	}
	return defaultValue
}

// Plus returns a new bundle with the other bundle added componentwise.
func (rs Resources) Plus(other Resources) Resources {
	result := make(Resources, 0, len(rs)+len(other))
	for _, r := range rs {
		result = append(result, r.canonicalize())
	}
	for _, o := range other {
		merged := false
		for i, r := range result {
			if r.sameKind(o) {
				result[i] = r.plus(o)
				merged = true
				break
			}
		}
		if !merged {
			result = append(result, o.canonicalize())
		}
	}
	return result
}

// Minus returns a new bundle with the other bundle subtracted componentwise. Subtracting more
// than is present fails and no partial result is returned.
func (rs Resources) Minus(other Resources) (Resources, error) {
	return rs.minus(other, false)
}

// MinusUnchecked behaves as Minus but permits scalar components to go negative; a ranged or set
// component that underflows is cleared instead. It is used where a pool is re-advertised and may
// transiently dip below zero.
func (rs Resources) MinusUnchecked(other Resources) Resources {
	result, _ := rs.minus(other, true) // The unchecked path reports no errors.
	return result
}

func (rs Resources) minus(other Resources, unchecked bool) (Resources, error) {
	result := make(Resources, 0, len(rs))
	for _, r := range rs {
		result = append(result, r.canonicalize())
	}
	for _, o := range other {
		found := false
		for i, r := range result {
			if !r.sameKind(o) {
				continue
			}
			sub, err := r.minus(o, unchecked)
			if err != nil {
				return nil, err
			}
			result[i] = sub
			found = true
			break
		}
		if !found && !o.empty() {
			if !unchecked {
				return nil, errors.Errorf("resource underflow: no %s in bundle", o.Name)
			}
			if o.Scalar != nil {
				result = append(result, NewScalar(o.Name, -o.Scalar.Value))
			}
		}
	}
	return result, nil
}

// Contains returns true if the other bundle is componentwise contained in this one.
func (rs Resources) Contains(other Resources) bool {
	for _, o := range other {
		if o.empty() {
			continue
		}
		r, ok := rs.get(o)
		if !ok || !r.contains(o) {
			return false
		}
	}
	return true
}

// Equal returns true if the two bundles are multiset-equal after canonicalisation.
func (rs Resources) Equal(other Resources) bool {
	return rs.Contains(other) && other.Contains(rs)
}

// Validate returns an error if any component of the bundle is malformed or if two components
// share a (name, type) pair.
func (rs Resources) Validate() error {
	for i, r := range rs {
		if err := r.Validate(); err != nil {
			return err
		}
		for _, prior := range rs[:i] {
			if prior.sameKind(r) {
				return errors.Errorf("duplicate resource %s in bundle", r.Name)
			}
		}
	}
	return nil
}

func (rs Resources) String() string {
	parts := make([]string, 0, len(rs))
	for _, r := range rs {
		parts = append(parts, r.String())
	}
	return strings.Join(parts, ";")
}
