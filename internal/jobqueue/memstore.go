package jobqueue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory Store used by unit tests and by the dispatcher
// and worker pool tests that don't need a live Firestore emulator.
type MemStore struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	results map[string]Result
	now     func() time.Time
	seq     int
}

func NewMemStore(now func() time.Time) *MemStore {
	if now == nil {
		now = time.Now
	}
	return &MemStore{
		jobs:    make(map[string]*Job),
		results: make(map[string]Result),
		now:     now,
	}
}

func (m *MemStore) Enqueue(ctx context.Context, url, requestID, locale string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	jobID := fmt.Sprintf("%s_%d_%d", requestID, m.now().UnixMilli(), m.seq)
	m.jobs[jobID] = &Job{
		JobID:       jobID,
		URL:         url,
		RequestID:   requestID,
		Locale:      locale,
		Status:      StatusPending,
		Attempts:    0,
		MaxAttempts: DefaultMaxAttempts,
		CreatedAt:   m.now(),
	}
	return jobID, nil
}

func (m *MemStore) FindByURL(ctx context.Context, url string, status Status, locale string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matches []*Job
	for _, j := range m.jobs {
		if j.URL != url {
			continue
		}
		if locale != "" && j.Locale != locale {
			continue
		}
		if status != "" && j.Status != status {
			continue
		}
		matches = append(matches, j)
	}
	if len(matches) == 0 {
		return Job{}, ErrNotFound
	}
	sort.Slice(matches, func(i, k int) bool { return matches[i].CreatedAt.After(matches[k].CreatedAt) })
	return *matches[0], nil
}

func (m *MemStore) ClaimNext(ctx context.Context, workerID string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var pending []*Job
	for _, j := range m.jobs {
		if j.Status == StatusPending {
			pending = append(pending, j)
		}
	}
	if len(pending) == 0 {
		return Job{}, ErrNotFound
	}
	sort.Slice(pending, func(i, k int) bool { return pending[i].CreatedAt.Before(pending[k].CreatedAt) })

	if len(pending) > 5 {
		pending = pending[:5]
	}
	for _, j := range pending {
		if j.Status != StatusPending {
			continue
		}
		j.Status = StatusProcessing
		j.WorkerID = workerID
		j.StartedAt = m.now()
		j.Attempts++
		return *j, nil
	}
	return Job{}, ErrNotFound
}

func (m *MemStore) MarkComplete(ctx context.Context, jobID string, payload map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	now := m.now()
	m.results[jobID] = Result{JobID: jobID, Payload: payload, CompletedAt: now, Status: StatusCompleted}
	j.Status = StatusCompleted
	j.CompletedAt = now
	return nil
}

// ForceAttemptsExhausted sets a job's attempts to its maxAttempts so a
// subsequent MarkFailed moves it straight to terminal failed, used by the
// worker pool for non-retryable errors (spec.md §4.6).
func (m *MemStore) ForceAttemptsExhausted(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	j.Attempts = j.MaxAttempts
	return nil
}

func (m *MemStore) MarkFailed(ctx context.Context, jobID string, errString string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	j.LastError = errString
	j.WorkerID = ""
	if j.Attempts >= j.MaxAttempts {
		j.Status = StatusFailed
		j.FailedAt = m.now()
	} else {
		j.Status = StatusPending
	}
	return nil
}

func (m *MemStore) GetResult(ctx context.Context, jobID string) (JobResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return JobResult{}, ErrNotFound
	}
	jr := JobResult{
		Status:    j.Status,
		LastError: j.LastError,
		CreatedAt: j.CreatedAt,
		Attempts:  j.Attempts,
	}
	if j.Status == StatusCompleted {
		if res, ok := m.results[jobID]; ok {
			jr.Payload = res.Payload
			jr.CompletedAt = res.CompletedAt
		}
	}
	return jr, nil
}

func (m *MemStore) Stats(ctx context.Context) (QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stats QueueStats
	for _, j := range m.jobs {
		switch j.Status {
		case StatusPending:
			stats.Pending++
		case StatusProcessing:
			stats.Processing++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

func (m *MemStore) CleanupOld(ctx context.Context, daysOld int, batchSize int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-time.Duration(daysOld) * 24 * time.Hour)
	deleted := 0
	for id, j := range m.jobs {
		if !j.Status.Terminal() || !j.CreatedAt.Before(cutoff) {
			continue
		}
		delete(m.jobs, id)
		delete(m.results, id)
		deleted++
	}
	return deleted, nil
}
