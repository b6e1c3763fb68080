package cachestore

import (
	"context"
	"sync"
	"time"
)

// MemStore is an in-memory Store used by unit tests and local development.
type MemStore struct {
	mu      sync.Mutex
	entries map[string]Entry
	now     func() time.Time
}

// NewMemStore builds an empty in-memory store. If now is nil, time.Now is used.
func NewMemStore(now func() time.Time) *MemStore {
	if now == nil {
		now = time.Now
	}
	return &MemStore{entries: make(map[string]Entry), now: now}
}

func (m *MemStore) Get(ctx context.Context, fingerprint string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[fingerprint]
	if !ok {
		return Entry{}, ErrMiss
	}
	if entry.Expired(m.now()) {
		delete(m.entries, fingerprint)
		return Entry{}, ErrMiss
	}
	return entry, nil
}

func (m *MemStore) Put(ctx context.Context, fingerprint string, payload, metadata map[string]any, sourceURL, locale string, ttlHours int) error {
	now := m.now()
	entry := Entry{
		Fingerprint: fingerprint,
		Payload:     payload,
		Metadata:    metadata,
		SourceURL:   sourceURL,
		Locale:      locale,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Duration(ttlHours) * time.Hour),
		TTLHours:    ttlHours,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[fingerprint] = entry
	return nil
}

func (m *MemStore) Invalidate(ctx context.Context, fingerprint string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[fingerprint]; !ok {
		return false, nil
	}
	delete(m.entries, fingerprint)
	return true, nil
}

func (m *MemStore) Stats(ctx context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	stats := Stats{}
	for _, entry := range m.entries {
		stats.TotalSampled++
		if stats.TotalSampled > 1000 {
			break
		}
		if entry.Expired(now) {
			stats.ExpiredInSample++
		}
		stats.TTLHours = entry.TTLHours
	}
	return stats, nil
}

func (m *MemStore) ClearAll(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.entries)
	m.entries = make(map[string]Entry)
	return n, nil
}
