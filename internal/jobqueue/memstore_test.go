package jobqueue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueThenFindByURLPending(t *testing.T) {
	store := NewMemStore(nil)
	ctx := context.Background()

	jobID, err := store.Enqueue(ctx, "https://tiktok.com/v/1", "req1", "")
	require.NoError(t, err)

	job, err := store.FindByURL(ctx, "https://tiktok.com/v/1", StatusPending, "")
	require.NoError(t, err)
	assert.Equal(t, jobID, job.JobID)
	assert.Equal(t, 0, job.Attempts)
	assert.Equal(t, DefaultMaxAttempts, job.MaxAttempts)
}

func TestClaimNextThenMarkFailedRestoresToPending(t *testing.T) {
	store := NewMemStore(nil)
	ctx := context.Background()

	jobID, err := store.Enqueue(ctx, "https://tiktok.com/v/1", "req1", "")
	require.NoError(t, err)

	job, err := store.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, jobID, job.JobID)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, StatusProcessing, job.Status)

	require.NoError(t, store.MarkFailed(ctx, jobID, "transient fetch error"))

	restored, err := store.FindByURL(ctx, "https://tiktok.com/v/1", StatusPending, "")
	require.NoError(t, err)
	assert.Equal(t, jobID, restored.JobID)
	assert.Equal(t, 1, restored.Attempts)

	reclaimed, err := store.ClaimNext(ctx, "worker-2")
	require.NoError(t, err)
	assert.Equal(t, jobID, reclaimed.JobID)
	assert.Equal(t, 2, reclaimed.Attempts)
}

func TestMarkFailedAtMaxAttemptsTerminalFails(t *testing.T) {
	store := NewMemStore(nil)
	ctx := context.Background()

	jobID, err := store.Enqueue(ctx, "https://tiktok.com/v/1", "req1", "")
	require.NoError(t, err)

	for i := 0; i < DefaultMaxAttempts; i++ {
		_, err := store.ClaimNext(ctx, fmt.Sprintf("worker-%d", i))
		require.NoError(t, err)
		require.NoError(t, store.MarkFailed(ctx, jobID, "boom"))
	}

	result, err := store.GetResult(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, DefaultMaxAttempts, result.Attempts)

	_, err = store.ClaimNext(ctx, "worker-late")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkCompleteIsObservedByGetResult(t *testing.T) {
	store := NewMemStore(nil)
	ctx := context.Background()

	jobID, err := store.Enqueue(ctx, "https://tiktok.com/v/1", "req1", "")
	require.NoError(t, err)
	_, err = store.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)

	payload := map[string]any{"title": "hello"}
	require.NoError(t, store.MarkComplete(ctx, jobID, payload))

	result, err := store.GetResult(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, payload, result.Payload)
}

func TestConcurrentClaimNextNeverDoubleClaims(t *testing.T) {
	store := NewMemStore(nil)
	ctx := context.Background()

	const numJobs = 10
	for i := 0; i < numJobs; i++ {
		_, err := store.Enqueue(ctx, fmt.Sprintf("https://tiktok.com/v/%d", i), fmt.Sprintf("req%d", i), "")
		require.NoError(t, err)
	}

	const numWorkers = 25
	var wg sync.WaitGroup
	var mu sync.Mutex
	claimed := make(map[string]int)

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			job, err := store.ClaimNext(ctx, fmt.Sprintf("worker-%d", id))
			if err != nil {
				return
			}
			mu.Lock()
			claimed[job.JobID]++
			mu.Unlock()
		}(w)
	}
	wg.Wait()

	assert.LessOrEqual(t, len(claimed), numJobs)
	for jobID, count := range claimed {
		assert.Equal(t, 1, count, "job %s claimed more than once", jobID)
	}
}

func TestCleanupOldDeletesTerminalJobsPastRetention(t *testing.T) {
	clock := time.Now()
	store := NewMemStore(func() time.Time { return clock })
	ctx := context.Background()

	for i := 0; i < 500; i++ {
		jobID, err := store.Enqueue(ctx, fmt.Sprintf("https://tiktok.com/v/%d", i), fmt.Sprintf("req%d", i), "")
		require.NoError(t, err)
		_, err = store.ClaimNext(ctx, "worker")
		require.NoError(t, err)
		require.NoError(t, store.MarkComplete(ctx, jobID, map[string]any{}))
	}

	clock = clock.Add(2 * 24 * time.Hour)

	deleted, err := store.CleanupOld(ctx, 1, 250)
	require.NoError(t, err)
	assert.Equal(t, 500, deleted)

	_, err = store.FindByURL(ctx, "https://tiktok.com/v/0", "", "")
	assert.ErrorIs(t, err, ErrNotFound)
}
