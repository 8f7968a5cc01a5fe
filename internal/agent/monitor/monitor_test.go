package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skiffworks/skiff/internal/agent/isolator"
	"github.com/skiffworks/skiff/pkg/actor"
)

func TestMonitorSamplesWatchedExecutors(t *testing.T) {
	system := actor.NewSystem(t.Name())
	defer system.Stop()

	iso := isolator.NewMock()
	_, err := iso.Launch(context.Background(), isolator.LaunchSpec{
		FrameworkID: "fw-1", ExecutorID: "exec-1", Directory: t.TempDir(),
	})
	require.NoError(t, err)

	clk := clock.NewMock()
	ref, created := system.ActorOf(actor.Addr("monitor"), New(iso, clk, time.Minute))
	require.True(t, created)

	system.Tell(ref, Watch{FrameworkID: "fw-1", ExecutorID: "exec-1"})
	require.NotNil(t, system.Ask(ref, actor.Ping{}).Get())

	clk.Add(time.Minute + time.Second)

	deadline := time.Now().Add(5 * time.Second)
	key := ExecutorKey{FrameworkID: "fw-1", ExecutorID: "exec-1"}
	for {
		resp := system.Ask(ref, GetUsage{}).Get()
		usage, ok := resp.(Usage)
		require.True(t, ok)
		if stats, ok := usage.Executors[key]; ok {
			assert.NotZero(t, stats.MemoryRSSBytes)
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for a usage sample")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Unwatching drops the sample and stops future probes for the executor.
	system.Tell(ref, Unwatch{FrameworkID: "fw-1", ExecutorID: "exec-1"})
	resp := system.Ask(ref, GetUsage{}).Get()
	usage, ok := resp.(Usage)
	require.True(t, ok)
	assert.Empty(t, usage.Executors)
}
