package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interlock-studios/creva-ingest/internal/cachestore"
	"github.com/interlock-studios/creva-ingest/internal/canon"
	"github.com/interlock-studios/creva-ingest/internal/jobqueue"
)

type blockingPipeline struct {
	release chan struct{}
	payload map[string]any
	err     error
}

func (b *blockingPipeline) Process(ctx context.Context, url, requestID, locale string) (map[string]any, error) {
	if b.release != nil {
		select {
		case <-b.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if b.err != nil {
		return nil, b.err
	}
	out := make(map[string]any, len(b.payload))
	for k, v := range b.payload {
		out[k] = v
	}
	return out, nil
}

func TestSubmitCacheHitShortCircuits(t *testing.T) {
	cache := cachestore.NewMemStore(nil)
	jobs := jobqueue.NewMemStore(nil)
	ctx := context.Background()

	url := "https://www.tiktok.com/@a/video/1"
	fp := canon.Fingerprint(url, "")
	require.NoError(t, cache.Put(ctx, fp, map[string]any{"title": "X", "hook": "Y"}, nil, url, "", 1))

	pipelineCalled := false
	d := New(&blockingPipeline{payload: map[string]any{}}, cache, jobs, 15, 30*time.Second)
	_ = pipelineCalled

	result, err := d.Submit(ctx, "https://tiktok.com/@a/video/1?utm_source=test", "", "req1")
	require.NoError(t, err)
	require.NotNil(t, result.Payload)
	assert.True(t, result.Cached)
	assert.Equal(t, "X", result.Payload["title"])
}

func TestSubmitDirectProcessingNoContention(t *testing.T) {
	cache := cachestore.NewMemStore(nil)
	jobs := jobqueue.NewMemStore(nil)
	d := New(&blockingPipeline{payload: map[string]any{"title": "X"}}, cache, jobs, 15, 30*time.Second)

	result, err := d.Submit(context.Background(), "https://tiktok.com/@a/video/2", "", "req1")
	require.NoError(t, err)
	require.NotNil(t, result.Payload)
	assert.False(t, result.Cached)
	assert.Equal(t, 0, d.ActiveDirect())
}

func TestSubmitQueuesWhenAtCapacity(t *testing.T) {
	cache := cachestore.NewMemStore(nil)
	jobs := jobqueue.NewMemStore(nil)
	release := make(chan struct{})
	d := New(&blockingPipeline{release: release, payload: map[string]any{"title": "X"}}, cache, jobs, 1, 30*time.Second)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = d.Submit(context.Background(), "https://tiktok.com/@a/video/occupying", "", "req0")
	}()

	for d.ActiveDirect() == 0 {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, 1, d.ActiveDirect())

	result, err := d.Submit(context.Background(), "https://tiktok.com/@a/video/new", "", "req1")
	require.NoError(t, err)
	require.NotNil(t, result.Queued)
	assert.Equal(t, "queued", result.Queued.Status)

	close(release)
	wg.Wait()
}

func TestSubmitDeduplicatesPendingAndProcessing(t *testing.T) {
	cache := cachestore.NewMemStore(nil)
	jobs := jobqueue.NewMemStore(nil)
	d := New(&blockingPipeline{payload: map[string]any{}}, cache, jobs, 0, 30*time.Second)

	url := "https://tiktok.com/@a/video/3"
	jobID, err := jobs.Enqueue(context.Background(), url, "req0", "")
	require.NoError(t, err)

	result, err := d.Submit(context.Background(), url, "", "req1")
	require.NoError(t, err)
	require.NotNil(t, result.Queued)
	assert.Equal(t, jobID, result.Queued.JobID)
	assert.Equal(t, "queued", result.Queued.Status)

	_, err = jobs.ClaimNext(context.Background(), "worker-1")
	require.NoError(t, err)

	result, err = d.Submit(context.Background(), url, "", "req2")
	require.NoError(t, err)
	require.NotNil(t, result.Queued)
	assert.Equal(t, jobID, result.Queued.JobID)
	assert.Equal(t, "processing", result.Queued.Status)
}

func TestSubmitDirectTimeoutFallsBackToEnqueue(t *testing.T) {
	cache := cachestore.NewMemStore(nil)
	jobs := jobqueue.NewMemStore(nil)
	d := New(&blockingPipeline{release: make(chan struct{})}, cache, jobs, 15, 10*time.Millisecond)

	result, err := d.Submit(context.Background(), "https://tiktok.com/@a/video/4", "", "req1")
	require.NoError(t, err)
	require.NotNil(t, result.Queued)
	assert.Equal(t, "queued", result.Queued.Status)
	assert.Equal(t, 0, d.ActiveDirect())
}

func TestActiveDirectNeverExceedsMaxDirect(t *testing.T) {
	cache := cachestore.NewMemStore(nil)
	jobs := jobqueue.NewMemStore(nil)
	release := make(chan struct{})
	d := New(&blockingPipeline{release: release, payload: map[string]any{}}, cache, jobs, 3, 30*time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _ = d.Submit(context.Background(), "https://tiktok.com/@a/video/unique-"+string(rune('a'+n)), "", "req")
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, d.ActiveDirect(), 3)

	close(release)
	wg.Wait()
}
