package workerpool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interlock-studios/creva-ingest/internal/cachestore"
	"github.com/interlock-studios/creva-ingest/internal/canon"
	"github.com/interlock-studios/creva-ingest/internal/jobqueue"
	"github.com/interlock-studios/creva-ingest/internal/pipeline"
)

func TestBackoffDurationFormula(t *testing.T) {
	base := 1 * time.Second
	max := 30 * time.Second

	assert.Equal(t, 1*time.Second, backoffDuration(base, max, 1))
	assert.Equal(t, 2*time.Second, backoffDuration(base, max, 2))
	assert.Equal(t, 4*time.Second, backoffDuration(base, max, 3))
	assert.Equal(t, 8*time.Second, backoffDuration(base, max, 4))
	assert.Equal(t, 16*time.Second, backoffDuration(base, max, 5))
	assert.Equal(t, max, backoffDuration(base, max, 6)) // 2^5 * 1s = 32s, capped to 30s

	assert.Equal(t, max, backoffDuration(base, max, 100))
}

type fakePipeline struct {
	err     error
	payload map[string]any
}

func (f *fakePipeline) Process(ctx context.Context, url, requestID, locale string) (map[string]any, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.payload, nil
}

func TestProcessJobNonRetryableForcesAttemptsExhausted(t *testing.T) {
	jobs := jobqueue.NewMemStore(nil)
	cache := cachestore.NewMemStore(nil)
	ctx := context.Background()

	jobID, err := jobs.Enqueue(ctx, "https://example.com/not-a-platform", "req1", "")
	require.NoError(t, err)
	job, err := jobs.ClaimNext(ctx, "worker-test")
	require.NoError(t, err)
	assert.Equal(t, 1, job.Attempts)

	pool := NewPool(jobs, &fakePipeline{err: pipeline.New(pipeline.KindUnsupportedPlatform, "nope")}, cache, nil, DefaultConfig(), nil)
	require.NoError(t, pool.processJob(ctx, job))

	result, err := jobs.GetResult(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, jobqueue.StatusFailed, result.Status)
	assert.Equal(t, jobqueue.DefaultMaxAttempts, result.Attempts)
}

func TestProcessJobRetryableRequeues(t *testing.T) {
	jobs := jobqueue.NewMemStore(nil)
	cache := cachestore.NewMemStore(nil)
	ctx := context.Background()

	jobID, err := jobs.Enqueue(ctx, "https://tiktok.com/@a/video/1", "req1", "")
	require.NoError(t, err)
	job, err := jobs.ClaimNext(ctx, "worker-test")
	require.NoError(t, err)

	pool := NewPool(jobs, &fakePipeline{err: pipeline.New(pipeline.KindFetch, "connection reset")}, cache, nil, DefaultConfig(), nil)
	require.NoError(t, pool.processJob(ctx, job))

	restored, err := jobs.FindByURL(ctx, "https://tiktok.com/@a/video/1", jobqueue.StatusPending, "")
	require.NoError(t, err)
	assert.Equal(t, jobID, restored.JobID)
}

func TestProcessJobCacheHitShortCircuitsPipeline(t *testing.T) {
	jobs := jobqueue.NewMemStore(nil)
	cache := cachestore.NewMemStore(nil)
	ctx := context.Background()

	url := "https://www.tiktok.com/@a/video/1"
	jobID, err := jobs.Enqueue(ctx, url, "req1", "")
	require.NoError(t, err)
	job, err := jobs.ClaimNext(ctx, "worker-test")
	require.NoError(t, err)

	require.NoError(t, cache.Put(ctx, canon.Fingerprint(url, ""), map[string]any{"title": "cached"}, nil, url, "", 1))

	pipelineCalled := false
	pool := NewPool(jobs, pipelineSpy(&pipelineCalled), cache, nil, DefaultConfig(), nil)
	require.NoError(t, pool.processJob(ctx, job))

	assert.False(t, pipelineCalled)
	result, err := jobs.GetResult(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, jobqueue.StatusCompleted, result.Status)
	assert.Equal(t, true, result.Payload["cached"])
}

func pipelineSpy(called *bool) pipeline.Pipeline {
	return &spyPipeline{called: called}
}

type spyPipeline struct {
	called *bool
}

func (s *spyPipeline) Process(ctx context.Context, url, requestID, locale string) (map[string]any, error) {
	*s.called = true
	return map[string]any{}, nil
}
