package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	rs, err := Parse("cpus:8;mem:16384;ports:[31000-32000,4000-5000];disks:{sda1,sda2}")
	require.NoError(t, err)
	require.Len(t, rs, 4)

	assert.Equal(t, 8.0, rs.ScalarValue("cpus", 0))
	assert.Equal(t, 16384.0, rs.ScalarValue("mem", 0))

	ports, ok := rs.get(Resource{Name: "ports", Ranges: Ranges{}})
	require.True(t, ok)
	assert.Equal(t, Ranges{{4000, 5000}, {31000, 32000}}, ports.Ranges)

	disks, ok := rs.get(Resource{Name: "disks", Set: Set{}})
	require.True(t, ok)
	assert.Equal(t, Set{"sda1", "sda2"}, disks.Set)
}

func TestParseErrors(t *testing.T) {
	for _, s := range []string{
		"cpus",
		"cpus:-1",
		"ports:[10-1]",
		"ports:[10]",
		"ports:[1-10",
		":8",
		"cpus:8;cpus:4",
	} {
		_, err := Parse(s)
		assert.Error(t, err, "expected %q to fail", s)
	}
}

func TestPlusMinusRoundTrip(t *testing.T) {
	total, err := Parse("cpus:10;mem:1000;ports:[1000-2000]")
	require.NoError(t, err)
	slice, err := Parse("cpus:2;mem:100;ports:[1000-1099]")
	require.NoError(t, err)

	remaining, err := total.Minus(slice)
	require.NoError(t, err)
	assert.Equal(t, 8.0, remaining.ScalarValue("cpus", 0))
	assert.True(t, remaining.Plus(slice).Equal(total))

	// resources - resources == empty.
	empty, err := total.Minus(total)
	require.NoError(t, err)
	assert.True(t, empty.Empty())
}

func TestAdditionCommutesAndCoalesces(t *testing.T) {
	a, err := Parse("cpus:1;ports:[1-10]")
	require.NoError(t, err)
	b, err := Parse("cpus:2;ports:[11-20]")
	require.NoError(t, err)

	assert.True(t, a.Plus(b).Equal(b.Plus(a)))

	ports, ok := a.Plus(b).get(Resource{Name: "ports", Ranges: Ranges{}})
	require.True(t, ok)
	assert.Equal(t, Ranges{{1, 20}}, ports.Ranges)
}

func TestMinusUnderflow(t *testing.T) {
	total, err := Parse("cpus:1;ports:[1-10];disks:{a}")
	require.NoError(t, err)

	for _, s := range []string{"cpus:2", "ports:[5-15]", "disks:{b}", "gpus:1"} {
		sub, err := Parse(s)
		require.NoError(t, err)
		_, err = total.Minus(sub)
		assert.Error(t, err, "expected underflow subtracting %q", s)
	}
}

func TestMinusUncheckedGoesNegative(t *testing.T) {
	total, err := Parse("cpus:4")
	require.NoError(t, err)
	sub, err := Parse("cpus:10;mem:100")
	require.NoError(t, err)

	result := total.MinusUnchecked(sub)
	assert.Equal(t, -6.0, result.ScalarValue("cpus", 0))
	assert.Equal(t, -100.0, result.ScalarValue("mem", 0))
}

func TestContains(t *testing.T) {
	total, err := Parse("cpus:4;mem:1024;ports:[1-100];disks:{a,b}")
	require.NoError(t, err)

	for s, want := range map[string]bool{
		"cpus:4":               true,
		"cpus:4.5":             false,
		"ports:[1-50,60-100]":  true,
		"ports:[90-110]":       false,
		"disks:{b}":            true,
		"disks:{c}":            false,
		"cpus:1;mem:1":         true,
		"gpus:1":               false,
		"cpus:0":               true, // Empty components are trivially contained.
		"ports:[]":             true,
		"cpus:2;mem:2048":      false,
		"cpus:4;mem:1024":      true,
		"disks:{a,b};cpus:0.5": true,
	} {
		sub, err := Parse(s)
		require.NoError(t, err)
		assert.Equal(t, want, total.Contains(sub), "Contains(%q)", s)
	}
}

func TestEqualityIsCanonical(t *testing.T) {
	a := Resources{NewRanges("ports", Range{1, 5}, Range{6, 10})}
	b := Resources{NewRanges("ports", Range{1, 10})}
	assert.True(t, a.Equal(b))

	c := Resources{NewSet("disks", "b", "a", "a")}
	d := Resources{NewSet("disks", "a", "b")}
	assert.True(t, c.Equal(d))
}
