// Package jobqueue implements the job store / queue (spec component C3):
// a persistent ordered collection of jobs with CAS-based claiming, a
// results sub-store keyed by job id, and a URL index used for dedupe.
//
// Grounded on original_source's queue_service.py for the exact claim,
// retry, and cleanup semantics, and on the teacher's
// server/apikey_service.go for the Firestore transaction idiom used to
// implement the CAS claim in Go.
package jobqueue

import (
	"context"
	"errors"
	"time"
)

// Status is one of the four states a Job can be in.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether a status can no longer transition.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job mirrors spec.md's Job record.
type Job struct {
	JobID       string
	URL         string
	RequestID   string
	Locale      string
	Status      Status
	Attempts    int
	MaxAttempts int
	WorkerID    string
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	FailedAt    time.Time
	LastError   string
}

// Result is the C3 results sub-store entry.
type Result struct {
	JobID       string
	Payload     map[string]any
	CompletedAt time.Time
	Status      Status
}

// JobResult is the joined view GetResult returns.
type JobResult struct {
	Status      Status
	Payload     map[string]any
	LastError   string
	CreatedAt   time.Time
	Attempts    int
	CompletedAt time.Time
}

// QueueStats is the per-status breakdown returned by Stats, matching
// queue_service.py's get_queue_stats.
type QueueStats struct {
	Pending    int
	Processing int
	Completed  int
	Failed     int
}

// ErrNotFound is returned when a job id has no matching document.
var ErrNotFound = errors.New("jobqueue: job not found")

// DefaultMaxAttempts is the default retry budget for a newly enqueued job.
const DefaultMaxAttempts = 3

// Store is the C3 contract.
type Store interface {
	// Enqueue creates a pending job and returns its id. FirestoreStore
	// formats it "{requestId}_{epochMillis}"; MemStore appends a
	// per-store sequence number ("{requestId}_{epochMillis}_{seq}").
	Enqueue(ctx context.Context, url, requestID, locale string) (string, error)

	// FindByURL returns the most recent job matching url (and status, if
	// non-empty) ordered by createdAt desc, or ErrNotFound.
	FindByURL(ctx context.Context, url string, status Status, locale string) (Job, error)

	// ClaimNext atomically leases one pending job to workerID, or
	// ErrNotFound if none are claimable right now.
	ClaimNext(ctx context.Context, workerID string) (Job, error)

	// MarkComplete writes the result and marks the job completed.
	MarkComplete(ctx context.Context, jobID string, payload map[string]any) error

	// MarkFailed applies the retry-or-fail transition for jobID.
	MarkFailed(ctx context.Context, jobID string, errString string) error

	// GetResult joins the queue and results views for jobID.
	GetResult(ctx context.Context, jobID string) (JobResult, error)

	// CleanupOld deletes terminal jobs (and their results) older than
	// daysOld, batched at batchSize writes per commit. Returns the
	// number of job documents deleted.
	CleanupOld(ctx context.Context, daysOld int, batchSize int) (int, error)

	// Stats reports per-status job counts. FirestoreStore caps each count
	// at a 1000-document sample, matching queue_service.py's
	// get_queue_stats; MemStore counts every job.
	Stats(ctx context.Context) (QueueStats, error)
}
