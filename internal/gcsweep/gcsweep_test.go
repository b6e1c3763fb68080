package gcsweep

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interlock-studios/creva-ingest/internal/jobqueue"
)

func TestSweepDeletesTerminalJobsPastRetention(t *testing.T) {
	clock := time.Now()
	jobs := jobqueue.NewMemStore(func() time.Time { return clock })
	ctx := context.Background()

	for i := 0; i < 500; i++ {
		jobID, err := jobs.Enqueue(ctx, "https://tiktok.com/v/dummy", "req", "")
		require.NoError(t, err)
		_, err = jobs.ClaimNext(ctx, "worker")
		require.NoError(t, err)
		require.NoError(t, jobs.MarkComplete(ctx, jobID, map[string]any{}))
	}

	clock = clock.Add(2 * 24 * time.Hour)

	sweeper := New(jobs, 1, 250, time.Hour)
	deleted, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 500, deleted)
}

func TestSweepLeavesFreshTerminalJobsAlone(t *testing.T) {
	jobs := jobqueue.NewMemStore(nil)
	ctx := context.Background()

	jobID, err := jobs.Enqueue(ctx, "https://tiktok.com/v/dummy", "req", "")
	require.NoError(t, err)
	_, err = jobs.ClaimNext(ctx, "worker")
	require.NoError(t, err)
	require.NoError(t, jobs.MarkComplete(ctx, jobID, map[string]any{}))

	sweeper := New(jobs, 1, 250, time.Hour)
	deleted, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}
