package resource

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Parse parses a semicolon-delimited resource bundle description, e.g.
// "cpus:8;mem:16384;ports:[31000-32000];disks:{sda1,sda2}".
func Parse(s string) (Resources, error) {
	var resources Resources
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, found := strings.Cut(part, ":")
		if !found {
			return nil, errors.Errorf("malformed resource %q: expected name:value", part)
		}
		parsed, err := ParseOne(strings.TrimSpace(name), strings.TrimSpace(value))
		if err != nil {
			return nil, err
		}
		resources = append(resources, parsed)
	}
	if err := resources.Validate(); err != nil {
		return nil, err
	}
	return resources, nil
}

// ParseOne parses a single resource value: a scalar ("8"), ranges ("[1-10,20-30]") or a set
// ("{a,b,c}").
func ParseOne(name, value string) (Resource, error) {
	switch {
	case name == "":
		return Resource{}, errors.New("resource name cannot be empty")
	case strings.HasPrefix(value, "["):
		return parseRanges(name, value)
	case strings.HasPrefix(value, "{"):
		return parseSet(name, value)
	default:
		scalar, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return Resource{}, errors.Wrapf(err, "malformed scalar resource %s:%s", name, value)
		}
		if scalar < 0 {
			return Resource{}, errors.Errorf("scalar resource %s cannot be negative", name)
		}
		return NewScalar(name, scalar), nil
	}
}

func parseRanges(name, value string) (Resource, error) {
	if !strings.HasSuffix(value, "]") {
		return Resource{}, errors.Errorf("malformed ranges resource %s:%s", name, value)
	}
	body := strings.TrimSpace(value[1 : len(value)-1])
	if body == "" {
		return Resource{Name: name, Ranges: Ranges{}}, nil
	}
	var ranges Ranges
	for _, interval := range strings.Split(body, ",") {
		begin, end, found := strings.Cut(strings.TrimSpace(interval), "-")
		if !found {
			return Resource{}, errors.Errorf(
				"malformed range %q in resource %s: expected begin-end", interval, name)
		}
		b, err := strconv.ParseUint(strings.TrimSpace(begin), 10, 64)
		if err != nil {
			return Resource{}, errors.Wrapf(err, "malformed range begin in resource %s", name)
		}
		e, err := strconv.ParseUint(strings.TrimSpace(end), 10, 64)
		if err != nil {
			return Resource{}, errors.Wrapf(err, "malformed range end in resource %s", name)
		}
		if e < b {
			return Resource{}, errors.Errorf("inverted range %d-%d in resource %s", b, e, name)
		}
		ranges = append(ranges, Range{Begin: b, End: e})
	}
	return NewRanges(name, ranges...), nil
}

func parseSet(name, value string) (Resource, error) {
	if !strings.HasSuffix(value, "}") {
		return Resource{}, errors.Errorf("malformed set resource %s:%s", name, value)
	}
	body := strings.TrimSpace(value[1 : len(value)-1])
	if body == "" {
		return Resource{Name: name, Set: Set{}}, nil
	}
	var items Set
	for _, item := range strings.Split(body, ",") {
		items = append(items, strings.TrimSpace(item))
	}
	return NewSet(name, items...), nil
}
