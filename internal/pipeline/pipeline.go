// Package pipeline implements the orchestration-only content pipeline
// (spec component C4): fetch media, extract a representative image,
// analyze, and cache the result. The fetcher and analyzer bodies
// themselves are external collaborators, consumed only through the
// interfaces below.
//
// Grounded on original_source's src/api/process.py and
// src/worker/worker_service.py, which both inline the same
// fetch → branch → extract → analyze → cache sequence; here it's pulled
// out into a single reusable orchestrator shared by the dispatcher and
// worker pool.
package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/interlock-studios/creva-ingest/internal/cachestore"
	"github.com/interlock-studios/creva-ingest/internal/canon"
	"github.com/interlock-studios/creva-ingest/internal/obslog"
)

var log = obslog.For("pipeline")

// Metadata describes what MediaFetcher.Fetch learned about a URL besides
// its raw bytes.
type Metadata struct {
	IsSlideshow bool
	Transcript  string
	Caption     string
	Description string
	ImageCount  int
	Platform    canon.Platform
}

// MediaFetcher is the scraping collaborator, consumed only at this
// interface boundary per spec.md §6. FetchSlideshow takes the already-
// detected platform because worker_service.py dispatches TikTok and
// Instagram slideshows through two distinct scraper calls
// (tiktok_scraper.scrape_tiktok_slideshow vs.
// instagram_scraper.scrape_instagram_slideshow), not one generic path.
type MediaFetcher interface {
	Fetch(ctx context.Context, url string) (bytes []byte, meta Metadata, err error)
	FetchSlideshow(ctx context.Context, url string, platform canon.Platform) (images [][]byte, meta Metadata, transcript string, err error)
}

// FrameExtractor pulls a representative JPEG frame out of video bytes.
type FrameExtractor interface {
	ExtractFirstFrame(ctx context.Context, videoBytes []byte) ([]byte, error)
}

// Analyzer is the multimodal analysis collaborator.
type Analyzer interface {
	AnalyzeVideo(ctx context.Context, videoBytes []byte, transcript, caption, description, locale string) (map[string]any, error)
	AnalyzeSlideshow(ctx context.Context, images [][]byte, transcript, caption, description, locale string) (map[string]any, error)
}

// Pipeline is the C4 contract: a single stateless operation.
type Pipeline interface {
	Process(ctx context.Context, url, requestID, locale string) (map[string]any, error)
}

// Runner is the concrete Pipeline implementation wiring a fetcher, frame
// extractor, analyzer and cache store together.
type Runner struct {
	Fetcher  MediaFetcher
	Frames   FrameExtractor
	Analyzer Analyzer
	Cache    cachestore.Store
	TTLHours int
}

// NewRunner builds a Runner from its collaborators.
func NewRunner(fetcher MediaFetcher, frames FrameExtractor, analyzer Analyzer, cache cachestore.Store, ttlHours int) *Runner {
	return &Runner{Fetcher: fetcher, Frames: frames, Analyzer: analyzer, Cache: cache, TTLHours: ttlHours}
}

// Process implements spec.md §4.4's five-step sequence.
func (r *Runner) Process(ctx context.Context, url, requestID, locale string) (map[string]any, error) {
	platform := canon.DetectPlatform(url)
	if platform == canon.PlatformUnknown {
		return nil, New(KindUnsupportedPlatform, fmt.Sprintf("url %q is not a recognized tiktok/instagram url", url))
	}

	payload, representativeImage, err := r.runMediaAndAnalysis(ctx, url, locale, platform)
	if err != nil {
		return nil, err
	}

	if representativeImage != nil {
		payload["image"] = toDataURI(representativeImage)
	}
	payload["platform"] = string(platform)

	fp := canon.Fingerprint(url, locale)
	if putErr := r.Cache.Put(ctx, fp, payload, map[string]any{
		"platform":     string(platform),
		"processedAt":  time.Now().UTC(),
		"sourceUrl":    url,
	}, url, locale, r.TTLHours); putErr != nil {
		log.WithError(putErr).WithField("fingerprint", fp).Warn("cache write failed, continuing")
	}

	return payload, nil
}

func (r *Runner) runMediaAndAnalysis(ctx context.Context, url, locale string, platform canon.Platform) (map[string]any, []byte, error) {
	bytes, meta, err := r.Fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, nil, asFetchError(err)
	}

	if meta.IsSlideshow {
		images, slideshowMeta, transcript, err := r.Fetcher.FetchSlideshow(ctx, url, platform)
		if err != nil {
			return nil, nil, asFetchError(err)
		}
		if transcript == "" {
			transcript = meta.Transcript
		}
		payload, err := r.Analyzer.AnalyzeSlideshow(ctx, images, transcript, slideshowMeta.Caption, slideshowMeta.Description, locale)
		if err != nil {
			return nil, nil, New(KindAnalyzer, err.Error())
		}
		var representative []byte
		if len(images) > 0 {
			representative = images[0]
		}
		return payload, representative, nil
	}

	representative, err := r.Frames.ExtractFirstFrame(ctx, bytes)
	if err != nil {
		return nil, nil, New(KindFormat, err.Error())
	}

	payload, err := r.Analyzer.AnalyzeVideo(ctx, bytes, meta.Transcript, meta.Caption, meta.Description, locale)
	if err != nil {
		return nil, nil, New(KindAnalyzer, err.Error())
	}

	return payload, representative, nil
}

func asFetchError(err error) error {
	if pe, ok := err.(*Error); ok {
		return pe
	}
	return New(KindFetch, err.Error())
}

func toDataURI(imageBytes []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(imageBytes)
}
