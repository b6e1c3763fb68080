package jobqueue

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/cenkalti/backoff/v4"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/interlock-studios/creva-ingest/internal/obslog"
)

// retryableFirestoreOp retries op against cenkalti/backoff/v4's default
// exponential backoff (at most 3 retries after the first call) when the Firestore RPC fails
// with a transient status code, matching the teacher's general retry
// posture around flaky external calls. Non-transient errors (including
// errNotPendingAnymore, a plain Go error with no gRPC status) short
// circuit immediately via backoff.Permanent.
func retryableFirestoreOp(ctx context.Context, op func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !isTransientFirestoreErr(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

func isTransientFirestoreErr(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}

var log = obslog.For("jobqueue")

type firestoreJob struct {
	URL         string    `firestore:"url"`
	RequestID   string    `firestore:"request_id"`
	Locale      string    `firestore:"locale"`
	Status      Status    `firestore:"status"`
	Attempts    int       `firestore:"attempts"`
	MaxAttempts int       `firestore:"max_attempts"`
	WorkerID    string    `firestore:"worker_id"`
	CreatedAt   time.Time `firestore:"created_at"`
	StartedAt   time.Time `firestore:"started_at,omitempty"`
	CompletedAt time.Time `firestore:"completed_at,omitempty"`
	FailedAt    time.Time `firestore:"failed_at,omitempty"`
	LastError   string    `firestore:"last_error,omitempty"`
}

func (fj firestoreJob) toJob(id string) Job {
	return Job{
		JobID:       id,
		URL:         fj.URL,
		RequestID:   fj.RequestID,
		Locale:      fj.Locale,
		Status:      fj.Status,
		Attempts:    fj.Attempts,
		MaxAttempts: fj.MaxAttempts,
		WorkerID:    fj.WorkerID,
		CreatedAt:   fj.CreatedAt,
		StartedAt:   fj.StartedAt,
		CompletedAt: fj.CompletedAt,
		FailedAt:    fj.FailedAt,
		LastError:   fj.LastError,
	}
}

type firestoreResult struct {
	Payload     map[string]any `firestore:"payload"`
	CompletedAt time.Time      `firestore:"completed_at"`
	Status      Status         `firestore:"status"`
}

// FirestoreStore is the C3 persistent tier: one document per job in the
// queue collection, one document per completed job in the results
// collection, keyed identically by job id.
type FirestoreStore struct {
	client            *firestore.Client
	queueCollection   string
	resultsCollection string
	clock             func() time.Time
}

// NewFirestoreStore builds a Store backed by the given collections. clock
// may be nil to use time.Now; tests supply a fixed clock.
func NewFirestoreStore(client *firestore.Client, queueCollection, resultsCollection string, clock func() time.Time) *FirestoreStore {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &FirestoreStore{
		client:            client,
		queueCollection:   queueCollection,
		resultsCollection: resultsCollection,
		clock:             clock,
	}
}

func (s *FirestoreStore) queue() *firestore.CollectionRef   { return s.client.Collection(s.queueCollection) }
func (s *FirestoreStore) results() *firestore.CollectionRef { return s.client.Collection(s.resultsCollection) }

// Enqueue writes a new pending job with id "{requestId}_{epochMillis}",
// matching queue_service.py's enqueue_video.
func (s *FirestoreStore) Enqueue(ctx context.Context, url, requestID, locale string) (string, error) {
	now := s.clock()
	jobID := fmt.Sprintf("%s_%d", requestID, now.UnixMilli())

	fj := firestoreJob{
		URL:         url,
		RequestID:   requestID,
		Locale:      locale,
		Status:      StatusPending,
		Attempts:    0,
		MaxAttempts: DefaultMaxAttempts,
		CreatedAt:   now,
	}
	if err := retryableFirestoreOp(ctx, func() error {
		_, err := s.queue().Doc(jobID).Set(ctx, fj)
		return err
	}); err != nil {
		return "", err
	}
	log.WithField("job_id", jobID).WithField("url", url).Info("enqueued job")
	return jobID, nil
}

// FindByURL mirrors queue_service.py's get_job_by_url: most recent match
// by createdAt desc, optionally filtered by status and locale.
func (s *FirestoreStore) FindByURL(ctx context.Context, url string, wantStatus Status, locale string) (Job, error) {
	query := s.queue().Where("url", "==", url)
	if wantStatus != "" {
		query = query.Where("status", "==", wantStatus)
	}
	if locale != "" {
		query = query.Where("locale", "==", locale)
	}
	query = query.OrderBy("created_at", firestore.Desc).Limit(1)

	iter := query.Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}

	var fj firestoreJob
	if err := doc.DataTo(&fj); err != nil {
		return Job{}, err
	}
	return fj.toJob(doc.Ref.ID), nil
}

// ClaimNext samples up to 5 oldest pending jobs and CAS-claims the first
// one still pending inside a transaction, retrying the whole sample up
// to 3 times if every candidate lost its race. Grounded on
// queue_service.py's get_next_job.
func (s *FirestoreStore) ClaimNext(ctx context.Context, workerID string) (Job, error) {
	const sampleSize = 5
	const maxAttempts = 3

	for attempt := 0; attempt < maxAttempts; attempt++ {
		query := s.queue().Where("status", "==", StatusPending).OrderBy("created_at", firestore.Asc).Limit(sampleSize)
		iter := query.Documents(ctx)
		var candidates []*firestore.DocumentSnapshot
		for {
			doc, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				iter.Stop()
				return Job{}, err
			}
			candidates = append(candidates, doc)
		}
		iter.Stop()

		if len(candidates) == 0 {
			return Job{}, ErrNotFound
		}

		for _, doc := range candidates {
			claimed, job, err := s.tryClaim(ctx, doc.Ref, workerID)
			if err != nil {
				log.WithError(err).WithField("job_id", doc.Ref.ID).Debug("claim attempt failed")
				continue
			}
			if claimed {
				log.WithField("job_id", doc.Ref.ID).WithField("worker_id", workerID).Info("claimed job")
				return job, nil
			}
		}

		if attempt < maxAttempts-1 {
			time.Sleep(100 * time.Millisecond)
		}
	}

	return Job{}, ErrNotFound
}

func (s *FirestoreStore) tryClaim(ctx context.Context, ref *firestore.DocumentRef, workerID string) (bool, Job, error) {
	var claimed Job
	err := retryableFirestoreOp(ctx, func() error {
		return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
			snap, err := tx.Get(ref)
			if err != nil {
				return err
			}
			var fj firestoreJob
			if err := snap.DataTo(&fj); err != nil {
				return err
			}
			if fj.Status != StatusPending {
				return errNotPendingAnymore
			}

			now := s.clock()
			fj.Status = StatusProcessing
			fj.WorkerID = workerID
			fj.StartedAt = now
			fj.Attempts++

			if err := tx.Set(ref, fj); err != nil {
				return err
			}
			claimed = fj.toJob(ref.ID)
			return nil
		})
	})
	if err == errNotPendingAnymore {
		return false, Job{}, nil
	}
	if err != nil {
		return false, Job{}, err
	}
	return true, claimed, nil
}

var errNotPendingAnymore = fmt.Errorf("jobqueue: job no longer pending")

// MarkComplete writes the result document then the job's terminal
// status. If either write fails the error is returned and the job is left
// unacknowledged in processing; ClaimNext only takes pending jobs and
// nothing in this package moves a processing job back to pending.
func (s *FirestoreStore) MarkComplete(ctx context.Context, jobID string, payload map[string]any) error {
	now := s.clock()
	fr := firestoreResult{Payload: payload, CompletedAt: now, Status: StatusCompleted}
	if _, err := s.results().Doc(jobID).Set(ctx, fr); err != nil {
		return fmt.Errorf("writing result: %w", err)
	}

	_, err := s.queue().Doc(jobID).Update(ctx, []firestore.Update{
		{Path: "status", Value: StatusCompleted},
		{Path: "completed_at", Value: now},
	})
	if err != nil {
		return fmt.Errorf("updating job status: %w", err)
	}
	return nil
}

// ForceAttemptsExhausted sets attempts to maxAttempts so a subsequent
// MarkFailed moves the job straight to terminal failed, used by the
// worker pool for non-retryable errors (spec.md §4.6).
func (s *FirestoreStore) ForceAttemptsExhausted(ctx context.Context, jobID string) error {
	ref := s.queue().Doc(jobID)
	snap, err := ref.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		return err
	}
	var fj firestoreJob
	if err := snap.DataTo(&fj); err != nil {
		return err
	}
	_, err = ref.Update(ctx, []firestore.Update{
		{Path: "attempts", Value: fj.MaxAttempts},
	})
	return err
}

// MarkFailed applies the retry-or-terminal-fail transition from
// queue_service.py's mark_job_failed: compares attempts against
// maxAttempts already recorded by ClaimNext.
func (s *FirestoreStore) MarkFailed(ctx context.Context, jobID string, errString string) error {
	ref := s.queue().Doc(jobID)
	snap, err := ref.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		return err
	}
	var fj firestoreJob
	if err := snap.DataTo(&fj); err != nil {
		return err
	}

	now := s.clock()
	updates := []firestore.Update{
		{Path: "last_error", Value: errString},
		{Path: "worker_id", Value: ""},
	}
	if fj.Attempts >= fj.MaxAttempts {
		updates = append(updates,
			firestore.Update{Path: "status", Value: StatusFailed},
			firestore.Update{Path: "failed_at", Value: now},
		)
		log.WithField("job_id", jobID).WithField("attempts", fj.Attempts).Error("job failed permanently")
	} else {
		updates = append(updates, firestore.Update{Path: "status", Value: StatusPending})
		log.WithField("job_id", jobID).WithField("attempts", fj.Attempts).Warn("job failed, will retry")
	}

	_, err = ref.Update(ctx, updates)
	return err
}

// GetResult joins the queue and results views, matching
// queue_service.py's get_job_result.
func (s *FirestoreStore) GetResult(ctx context.Context, jobID string) (JobResult, error) {
	snap, err := s.queue().Doc(jobID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return JobResult{}, ErrNotFound
		}
		return JobResult{}, err
	}
	var fj firestoreJob
	if err := snap.DataTo(&fj); err != nil {
		return JobResult{}, err
	}

	jr := JobResult{
		Status:    fj.Status,
		LastError: fj.LastError,
		CreatedAt: fj.CreatedAt,
		Attempts:  fj.Attempts,
	}

	if fj.Status == StatusCompleted {
		resSnap, err := s.results().Doc(jobID).Get(ctx)
		if err == nil {
			var fr firestoreResult
			if err := resSnap.DataTo(&fr); err == nil {
				jr.Payload = fr.Payload
				jr.CompletedAt = fr.CompletedAt
			}
		}
	}

	return jr, nil
}

// Stats counts jobs per status, each capped at a 1000-document sample,
// matching queue_service.py's get_queue_stats.
func (s *FirestoreStore) Stats(ctx context.Context) (QueueStats, error) {
	var stats QueueStats
	for _, st := range []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed} {
		count, err := s.countByStatus(ctx, st)
		if err != nil {
			return QueueStats{}, err
		}
		switch st {
		case StatusPending:
			stats.Pending = count
		case StatusProcessing:
			stats.Processing = count
		case StatusCompleted:
			stats.Completed = count
		case StatusFailed:
			stats.Failed = count
		}
	}
	return stats, nil
}

func (s *FirestoreStore) countByStatus(ctx context.Context, st Status) (int, error) {
	iter := s.queue().Where("status", "==", st).Limit(1000).Documents(ctx)
	defer iter.Stop()

	count := 0
	for {
		_, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// CleanupOld deletes terminal jobs (and their matching results) with
// createdAt before now-daysOld, batched at batchSize writes per commit,
// matching queue_service.py's cleanup_old_jobs.
func (s *FirestoreStore) CleanupOld(ctx context.Context, daysOld int, batchSize int) (int, error) {
	cutoff := s.clock().Add(-time.Duration(daysOld) * 24 * time.Hour)

	query := s.queue().
		Where("status", "in", []Status{StatusCompleted, StatusFailed}).
		Where("created_at", "<", cutoff)

	iter := query.Documents(ctx)
	defer iter.Stop()

	deleted := 0
	batch := s.client.Batch()
	pending := 0

	commit := func() error {
		if pending == 0 {
			return nil
		}
		if _, err := batch.Commit(ctx); err != nil {
			return err
		}
		batch = s.client.Batch()
		pending = 0
		return nil
	}

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return deleted, err
		}

		batch.Delete(doc.Ref)
		pending++
		deleted++
		if pending >= batchSize {
			if err := commit(); err != nil {
				return deleted, err
			}
		}

		resultRef := s.results().Doc(doc.Ref.ID)
		batch.Delete(resultRef)
		pending++
		if pending >= batchSize {
			if err := commit(); err != nil {
				return deleted, err
			}
		}
	}

	if err := commit(); err != nil {
		return deleted, err
	}
	return deleted, nil
}
