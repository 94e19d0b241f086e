package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddIntervalJobRuns(t *testing.T) {
	s := New(context.Background())

	var runs atomic.Int64
	err := s.AddIntervalJob("tick", time.Second, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	require.NoError(t, err)

	s.Start()
	defer func() { <-s.Stop().Done() }()

	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
}

func TestCancellingBaseStopsRunningJob(t *testing.T) {
	base, cancel := context.WithCancel(context.Background())
	s := New(base)

	var started, finished atomic.Bool
	err := s.AddIntervalJob("tick", time.Second, func(ctx context.Context) error {
		started.Store(true)
		<-ctx.Done()
		finished.Store(true)
		return ctx.Err()
	})
	require.NoError(t, err)

	s.Start()
	defer func() { <-s.Stop().Done() }()

	require.Eventually(t, func() bool { return started.Load() }, 3*time.Second, 50*time.Millisecond)

	// The job blocks on its context; only cancelling the base unblocks it.
	cancel()
	require.Eventually(t, func() bool { return finished.Load() }, time.Second, 10*time.Millisecond)
}

func TestAddDailyJobRejectsBadTime(t *testing.T) {
	s := New(context.Background())
	err := s.AddDailyJob("daily", "25:99", func(ctx context.Context) error { return nil })
	assert.Error(t, err)
}

func TestListAndRemoveJobs(t *testing.T) {
	s := New(context.Background())
	noop := func(ctx context.Context) error { return nil }

	require.NoError(t, s.AddIntervalJob("publish", time.Minute, noop))
	require.NoError(t, s.AddDailyJob("purge", "03:30", noop))

	infos := s.ListJobs()
	require.Len(t, infos, 2)

	s.RemoveJob("publish")
	assert.Len(t, s.ListJobs(), 1)

	// Removing an unknown job is a no-op.
	s.RemoveJob("missing")
	assert.Len(t, s.ListJobs(), 1)
}
