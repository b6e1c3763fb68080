package pipeline

import (
	"context"
	"fmt"

	"github.com/interlock-studios/creva-ingest/internal/canon"
)

// The scraper and analyzer are explicit external collaborators per
// spec.md §6 ("consumed only") and out of scope for this repo. These
// stub implementations satisfy the MediaFetcher/FrameExtractor/Analyzer
// interfaces so cmd/api and cmd/worker link against a complete pipeline;
// a real deployment replaces them with scraper-client and
// multimodal-LLM-client implementations.

type UnimplementedFetcher struct{}

func (UnimplementedFetcher) Fetch(ctx context.Context, url string) ([]byte, Metadata, error) {
	return nil, Metadata{}, New(KindFetch, fmt.Sprintf("no MediaFetcher configured for %s", url))
}

func (UnimplementedFetcher) FetchSlideshow(ctx context.Context, url string, platform canon.Platform) ([][]byte, Metadata, string, error) {
	return nil, Metadata{}, "", New(KindFetch, fmt.Sprintf("no MediaFetcher configured for %s (%s)", url, platform))
}

type UnimplementedFrameExtractor struct{}

func (UnimplementedFrameExtractor) ExtractFirstFrame(ctx context.Context, videoBytes []byte) ([]byte, error) {
	return nil, New(KindFormat, "no FrameExtractor configured")
}

type UnimplementedAnalyzer struct{}

func (UnimplementedAnalyzer) AnalyzeVideo(ctx context.Context, videoBytes []byte, transcript, caption, description, locale string) (map[string]any, error) {
	return nil, New(KindAnalyzer, "no Analyzer configured")
}

func (UnimplementedAnalyzer) AnalyzeSlideshow(ctx context.Context, images [][]byte, transcript, caption, description, locale string) (map[string]any, error) {
	return nil, New(KindAnalyzer, "no Analyzer configured")
}
