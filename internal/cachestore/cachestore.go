// Package cachestore implements the fingerprint → content-payload cache
// (spec component C2): a persistent Firestore-backed store fronted by an
// optional Redis hot tier, plus an in-memory implementation for tests.
//
// Grounded on the teacher's server/apikey_service.go for the Firestore
// read/write shape and on original_source's cache_service.py for the
// TTL-expiry-on-read and Stats() sampling semantics.
package cachestore

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when no live entry exists for a fingerprint.
var ErrMiss = errors.New("cachestore: miss")

// Entry mirrors spec.md's CacheEntry.
type Entry struct {
	Fingerprint string
	Payload     map[string]any
	Metadata    map[string]any
	SourceURL   string
	Locale      string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	TTLHours    int
}

// Expired reports whether the entry is past its expiry at the given instant.
func (e Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Stats summarizes a bounded sample of cache entries for observability.
type Stats struct {
	TotalSampled    int
	ExpiredInSample int
	TTLHours        int
}

// Store is the C2 contract. Get followed by Put with the same payload is
// idempotent. Put must not silently fail the caller's request: if the
// underlying store is unavailable, callers skip the write but still
// return the computed payload (see internal/pipeline's Runner.Process).
type Store interface {
	Get(ctx context.Context, fingerprint string) (Entry, error)
	Put(ctx context.Context, fingerprint string, payload, metadata map[string]any, sourceURL, locale string, ttlHours int) error
	Invalidate(ctx context.Context, fingerprint string) (bool, error)
	Stats(ctx context.Context) (Stats, error)
	ClearAll(ctx context.Context) (int, error)
}

// Miss reports whether err is (or wraps) ErrMiss.
func Miss(err error) bool {
	return errors.Is(err, ErrMiss)
}
