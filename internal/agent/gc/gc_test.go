package gc

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skiffworks/skiff/pkg/actor"
)

func setup(t *testing.T) (*actor.System, *clock.Mock, *actor.Ref) {
	t.Helper()
	system := actor.NewSystem(t.Name())
	t.Cleanup(func() { system.Stop() })
	clk := clock.NewMock()
	ref, created := system.ActorOf(actor.Addr("gc"), New(clk))
	require.True(t, created)
	return system, clk, ref
}

func sandbox(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.MkdirAll(filepath.Join(path, "work"), 0o700))
	return path
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func sync(t *testing.T, system *actor.System, ref *actor.Ref) {
	t.Helper()
	require.NotNil(t, system.Ask(ref, actor.Ping{}).Get())
}

func TestDeletesAfterDelay(t *testing.T) {
	system, clk, ref := setup(t)
	path := sandbox(t, "run-1")

	system.Tell(ref, Schedule{Path: path, Delay: time.Hour})
	sync(t, system, ref)
	assert.True(t, exists(path))

	clk.Add(time.Hour + time.Second)
	time.Sleep(50 * time.Millisecond)
	sync(t, system, ref)
	assert.False(t, exists(path))
}

func TestUnscheduleKeepsPath(t *testing.T) {
	system, clk, ref := setup(t)
	path := sandbox(t, "run-1")

	system.Tell(ref, Schedule{Path: path, Delay: time.Hour})
	unscheduled := system.Ask(ref, Unschedule{Path: path}).Get()
	assert.Equal(t, true, unscheduled)

	clk.Add(2 * time.Hour)
	time.Sleep(50 * time.Millisecond)
	sync(t, system, ref)
	assert.True(t, exists(path))

	// Unscheduling an unknown path reports false.
	assert.Equal(t, false, system.Ask(ref, Unschedule{Path: path}).Get())
}

func TestRescheduleReplacesDeadline(t *testing.T) {
	system, clk, ref := setup(t)
	path := sandbox(t, "run-1")

	system.Tell(ref, Schedule{Path: path, Delay: time.Hour})
	system.Tell(ref, Schedule{Path: path, Delay: 3 * time.Hour})
	sync(t, system, ref)

	// The first timer fires but the deadline has been replaced.
	clk.Add(time.Hour + time.Second)
	time.Sleep(50 * time.Millisecond)
	sync(t, system, ref)
	assert.True(t, exists(path))

	clk.Add(2 * time.Hour)
	time.Sleep(50 * time.Millisecond)
	sync(t, system, ref)
	assert.False(t, exists(path))
}

func TestPruneDeletesOldPathsImmediately(t *testing.T) {
	system, clk, ref := setup(t)
	older := sandbox(t, "run-1")
	newer := sandbox(t, "run-2")

	system.Tell(ref, Schedule{Path: older, Delay: 10 * time.Hour})
	sync(t, system, ref)
	clk.Add(2 * time.Hour)
	system.Tell(ref, Schedule{Path: newer, Delay: 10 * time.Hour})
	sync(t, system, ref)

	// Disk pressure: everything queued for more than an hour goes now.
	system.Tell(ref, Prune{MaxAge: time.Hour})
	sync(t, system, ref)
	assert.False(t, exists(older))
	assert.True(t, exists(newer))
}
