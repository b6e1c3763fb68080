package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interlock-studios/creva-ingest/internal/cachestore"
	"github.com/interlock-studios/creva-ingest/internal/canon"
)

type fakeFetcher struct {
	meta              Metadata
	bytes             []byte
	slideImages       [][]byte
	fetchErr          error
	slideshowErr      error
	slideshowPlatform canon.Platform
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, Metadata, error) {
	if f.fetchErr != nil {
		return nil, Metadata{}, f.fetchErr
	}
	return f.bytes, f.meta, nil
}

func (f *fakeFetcher) FetchSlideshow(ctx context.Context, url string, platform canon.Platform) ([][]byte, Metadata, string, error) {
	f.slideshowPlatform = platform
	if f.slideshowErr != nil {
		return nil, Metadata{}, "", f.slideshowErr
	}
	return f.slideImages, f.meta, f.meta.Transcript, nil
}

type fakeFrames struct {
	frame []byte
	err   error
}

func (f *fakeFrames) ExtractFirstFrame(ctx context.Context, videoBytes []byte) ([]byte, error) {
	return f.frame, f.err
}

type fakeAnalyzer struct {
	payload map[string]any
	err     error
}

func (f *fakeAnalyzer) AnalyzeVideo(ctx context.Context, videoBytes []byte, transcript, caption, description, locale string) (map[string]any, error) {
	return f.payload, f.err
}

func (f *fakeAnalyzer) AnalyzeSlideshow(ctx context.Context, images [][]byte, transcript, caption, description, locale string) (map[string]any, error) {
	return f.payload, f.err
}

func TestProcessVideoPathOverridesImageAfterAnalysis(t *testing.T) {
	fetcher := &fakeFetcher{bytes: []byte("video"), meta: Metadata{IsSlideshow: false, Transcript: "hi"}}
	frames := &fakeFrames{frame: []byte("frame-bytes")}
	analyzer := &fakeAnalyzer{payload: map[string]any{"title": "X", "image": "analyzer-suggested"}}
	cache := cachestore.NewMemStore(nil)

	runner := NewRunner(fetcher, frames, analyzer, cache, 1)
	payload, err := runner.Process(context.Background(), "https://tiktok.com/@a/video/1", "req1", "")
	require.NoError(t, err)

	assert.Contains(t, payload["image"], "data:image/jpeg;base64,")
	assert.NotEqual(t, "analyzer-suggested", payload["image"])
	assert.Equal(t, "tiktok", payload["platform"])
}

func TestProcessSlideshowPathUsesFirstImageAsRepresentative(t *testing.T) {
	fetcher := &fakeFetcher{
		meta:        Metadata{IsSlideshow: true, Transcript: "caption text"},
		slideImages: [][]byte{[]byte("first"), []byte("second")},
	}
	analyzer := &fakeAnalyzer{payload: map[string]any{"title": "Slideshow"}}
	cache := cachestore.NewMemStore(nil)

	runner := NewRunner(fetcher, nil, analyzer, cache, 1)
	payload, err := runner.Process(context.Background(), "https://www.instagram.com/p/abc/", "req1", "")
	require.NoError(t, err)
	assert.Contains(t, payload["image"], "data:image/jpeg;base64,")
	assert.Equal(t, toDataURI([]byte("first")), payload["image"])
	assert.Equal(t, canon.PlatformInstagram, fetcher.slideshowPlatform)
}

func TestProcessSlideshowDispatchesDistinctPlatformToFetcher(t *testing.T) {
	fetcher := &fakeFetcher{
		meta:        Metadata{IsSlideshow: true, Transcript: "caption text"},
		slideImages: [][]byte{[]byte("first")},
	}
	analyzer := &fakeAnalyzer{payload: map[string]any{"title": "Slideshow"}}
	cache := cachestore.NewMemStore(nil)

	runner := NewRunner(fetcher, nil, analyzer, cache, 1)
	_, err := runner.Process(context.Background(), "https://tiktok.com/@a/video/1", "req1", "")
	require.NoError(t, err)
	assert.Equal(t, canon.PlatformTikTok, fetcher.slideshowPlatform)
}

func TestProcessUnsupportedPlatformIsNonRetryable(t *testing.T) {
	cache := cachestore.NewMemStore(nil)
	runner := NewRunner(&fakeFetcher{}, &fakeFrames{}, &fakeAnalyzer{}, cache, 1)

	_, err := runner.Process(context.Background(), "https://example.com/video", "req1", "")
	require.Error(t, err)
	assert.False(t, Retryable(err))
}

func TestProcessCachesPayloadOnSuccess(t *testing.T) {
	fetcher := &fakeFetcher{bytes: []byte("v"), meta: Metadata{}}
	frames := &fakeFrames{frame: []byte("f")}
	analyzer := &fakeAnalyzer{payload: map[string]any{"title": "X"}}
	cache := cachestore.NewMemStore(nil)

	url := "https://tiktok.com/@a/video/1"
	runner := NewRunner(fetcher, frames, analyzer, cache, 1)
	_, err := runner.Process(context.Background(), url, "req1", "")
	require.NoError(t, err)

	entry, getErr := cache.Get(context.Background(), canon.Fingerprint(url, ""))
	require.NoError(t, getErr)
	assert.Equal(t, "X", entry.Payload["title"])
}

func TestRetryableClassification(t *testing.T) {
	assert.False(t, Retryable(New(KindUnsupportedPlatform, "nope")))
	assert.False(t, Retryable(New(KindFormat, "bad frame")))
	assert.True(t, Retryable(New(KindAnalyzer, "empty output")))
	assert.True(t, Retryable(New(KindFetch, "connection reset")))
	assert.False(t, Retryable(New(KindFetch, "Video Not Found")))
	assert.False(t, Retryable(New(KindFetch, "this is a Private Video")))
}
