// Package workerpool implements the worker pool (spec component C6): one
// or more long-lived workers draining the job queue into the pipeline
// with bounded concurrency, exponential-backoff polling, and graceful
// drain on shutdown.
//
// Grounded on original_source's src/worker/worker_service.py's
// VideoWorker (worker_loop, process_video_job, _safe_task_cleanup,
// start/stop), translated from its asyncio task-set model to Go
// goroutines guarded by a sync.WaitGroup and mutex-protected counters.
package workerpool

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/interlock-studios/creva-ingest/internal/cachestore"
	"github.com/interlock-studios/creva-ingest/internal/canon"
	"github.com/interlock-studios/creva-ingest/internal/jobqueue"
	"github.com/interlock-studios/creva-ingest/internal/metrics"
	"github.com/interlock-studios/creva-ingest/internal/obslog"
	"github.com/interlock-studios/creva-ingest/internal/pipeline"
)

var log = obslog.For("workerpool")

// Config holds the C6 tunables, mirroring spec.md §6.
type Config struct {
	MaxConcurrency  int
	BaseInterval    time.Duration
	MaxBackoff      time.Duration
	ShutdownTimeout time.Duration
	CleanupInterval time.Duration
	ShortInterval   time.Duration
}

// DefaultConfig matches spec.md §6's defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency:  5,
		BaseInterval:    1 * time.Second,
		MaxBackoff:      30 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		CleanupInterval: 1 * time.Hour,
		ShortInterval:   50 * time.Millisecond,
	}
}

// Sweeper is the subset of gcsweep's interface the pool triggers
// opportunistically; kept as an interface here to avoid an import cycle
// with internal/gcsweep.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// snapshotPublishInterval is how often Run publishes a PoolSnapshot to
// Redis for cmd/admin to read, when a Redis client is wired.
const snapshotPublishInterval = 5 * time.Second

// snapshotTTL bounds how long a published snapshot is considered fresh;
// a worker that dies stops renewing it and it expires on its own.
const snapshotTTL = 30 * time.Second

// Pool drains a jobqueue.Store into a pipeline.Pipeline.
type Pool struct {
	workerID string
	cfg      Config
	jobs     jobqueue.Store
	pipe     pipeline.Pipeline
	cache    cachestore.Store
	sweeper  Sweeper
	redis    *cachestore.RedisClient

	mu          sync.Mutex
	activeTasks int
	wg          sync.WaitGroup

	lastCleanup time.Time
}

// NewPool builds a worker pool with an id of the form
// "worker-{hostname}-{pid}", matching the teacher's worker id scheme.
// redisClient may be nil, in which case Run never publishes a snapshot
// (used by tests and any deployment without a Redis tier).
func NewPool(jobs jobqueue.Store, pipe pipeline.Pipeline, cache cachestore.Store, sweeper Sweeper, cfg Config, redisClient *cachestore.RedisClient) *Pool {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &Pool{
		workerID:    fmt.Sprintf("worker-%s-%d", hostname, os.Getpid()),
		cfg:         cfg,
		jobs:        jobs,
		pipe:        pipe,
		cache:       cache,
		sweeper:     sweeper,
		redis:       redisClient,
		lastCleanup: time.Now(),
	}
}

// SnapshotKey is the Redis key a pool's snapshot is published under,
// exported so cmd/admin can read it without importing internal pool
// scheduling state.
func SnapshotKey(workerID string) string {
	return "workerpool:stats:" + workerID
}

// WorkerID returns this pool's worker id.
func (p *Pool) WorkerID() string {
	return p.workerID
}

// PoolSnapshot is the introspection view recovered from
// worker_service.py's FastAPI /health and /worker/stats routes
// (spec.md §4.8 item 6): active task count, last cleanup time, worker
// id, and pool size.
type PoolSnapshot struct {
	WorkerID    string
	ActiveTasks int
	PoolSize    int
	LastCleanup time.Time
}

// Snapshot reports the pool's current state for introspection without
// exposing internal locking.
func (p *Pool) Snapshot() PoolSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolSnapshot{
		WorkerID:    p.workerID,
		ActiveTasks: p.activeTasks,
		PoolSize:    p.cfg.MaxConcurrency,
		LastCleanup: p.lastCleanup,
	}
}

// activeCount is the scheduling loop's own cheap read of in-flight task
// count, kept separate from Snapshot so the loop doesn't allocate a
// PoolSnapshot on every tick.
func (p *Pool) activeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeTasks
}

func (p *Pool) lastCleanupAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastCleanup
}

func (p *Pool) setLastCleanup(t time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastCleanup = t
}

// Run drives the main scheduling loop until ctx is cancelled, then drains
// active tasks up to cfg.ShutdownTimeout before returning.
func (p *Pool) Run(ctx context.Context) {
	log.WithField("worker_id", p.workerID).Info("worker pool starting")
	emptyPolls := 0

	if p.redis != nil {
		go p.publishSnapshotLoop(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			p.drain()
			log.WithField("worker_id", p.workerID).Info("worker pool stopped")
			return
		default:
		}

		if p.sweeper != nil && time.Since(p.lastCleanupAt()) > p.cfg.CleanupInterval {
			p.setLastCleanup(time.Now())
			go func() {
				sweepCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
				defer cancel()
				if n, err := p.sweeper.Sweep(sweepCtx); err != nil {
					log.WithError(err).Warn("gc sweep failed")
				} else {
					log.WithField("deleted", n).Info("gc sweep complete")
				}
			}()
		}

		if p.activeCount() < p.cfg.MaxConcurrency {
			job, err := p.jobs.ClaimNext(ctx, p.workerID)
			if err == nil {
				emptyPolls = 0
				metrics.QueueClaimsTotal.Inc()
				p.spawn(ctx, job)
				continue
			}
			emptyPolls++
			backoff := backoffDuration(p.cfg.BaseInterval, p.cfg.MaxBackoff, emptyPolls)
			sleepOrDone(ctx, backoff)
		} else {
			sleepOrDone(ctx, p.cfg.ShortInterval)
		}
	}
}

// publishSnapshotLoop periodically writes this pool's PoolSnapshot to
// Redis so cmd/admin can report worker introspection without a second
// network listener (spec.md §4.8 item 6).
func (p *Pool) publishSnapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(snapshotPublishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := p.Snapshot()
			publishCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := p.redis.SetJSON(publishCtx, SnapshotKey(p.workerID), snap, snapshotTTL)
			cancel()
			if err != nil {
				log.WithError(err).Warn("failed to publish worker snapshot")
			}
		}
	}
}

// backoffDuration implements spec.md §4.6's
// min(maxBackoff, baseInterval * 2^min(emptyPolls-1, 5)) formula.
func backoffDuration(base, max time.Duration, emptyPolls int) time.Duration {
	exp := emptyPolls - 1
	if exp > 5 {
		exp = 5
	}
	if exp < 0 {
		exp = 0
	}
	backoff := base << exp
	if backoff > max {
		return max
	}
	return backoff
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (p *Pool) spawn(parent context.Context, job jobqueue.Job) {
	p.mu.Lock()
	p.activeTasks++
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			p.mu.Lock()
			p.activeTasks--
			p.mu.Unlock()
		}()

		if err := p.processJob(context.Background(), job); err != nil {
			log.WithError(err).WithField("job_id", job.JobID).Warn("job processing ended with error")
		}
	}()

	log.WithField("job_id", job.JobID).WithField("active", p.activeCount()).Info("claimed job")
}

// processJob implements spec.md §4.6's processJob sequence.
func (p *Pool) processJob(ctx context.Context, job jobqueue.Job) error {
	fp := canon.Fingerprint(job.URL, job.Locale)
	if entry, err := p.cache.Get(ctx, fp); err == nil {
		payload := clonePayload(entry.Payload)
		payload["cached"] = true
		if err := p.jobs.MarkComplete(ctx, job.JobID, payload); err != nil {
			return err
		}
		metrics.QueueJobsTotal.WithLabelValues(string(jobqueue.StatusCompleted)).Inc()
		return nil
	}

	payload, err := p.pipe.Process(ctx, job.URL, job.JobID, job.Locale)
	if err != nil {
		return p.handleFailure(ctx, job, err)
	}

	if err := p.jobs.MarkComplete(ctx, job.JobID, payload); err != nil {
		return err
	}
	metrics.QueueJobsTotal.WithLabelValues(string(jobqueue.StatusCompleted)).Inc()
	return nil
}

func (p *Pool) handleFailure(ctx context.Context, job jobqueue.Job, procErr error) error {
	kind, msg := classify(procErr)
	lastError := fmt.Sprintf("%s: %s", kind, msg)

	terminal := !pipeline.Retryable(procErr) || job.Attempts >= job.MaxAttempts
	if !pipeline.Retryable(procErr) {
		log.WithField("job_id", job.JobID).WithField("kind", kind).Warn("non-retryable error, forcing terminal failure")
		if forcer, ok := p.jobs.(interface {
			ForceAttemptsExhausted(ctx context.Context, jobID string) error
		}); ok {
			if err := forcer.ForceAttemptsExhausted(ctx, job.JobID); err != nil {
				return err
			}
		}
	}

	if err := p.jobs.MarkFailed(ctx, job.JobID, lastError); err != nil {
		return err
	}
	// QueueJobsTotal only counts jobs reaching a terminal state
	// (ingest_queue_jobs_total{status}), so a retryable
	// failure that goes back to pending doesn't increment it.
	if terminal {
		metrics.QueueJobsTotal.WithLabelValues(string(jobqueue.StatusFailed)).Inc()
	}
	return nil
}

func classify(err error) (string, string) {
	if pe, ok := err.(*pipeline.Error); ok {
		return string(pe.Kind), pe.Msg
	}
	return "Error", err.Error()
}

// drain waits up to cfg.ShutdownTimeout for in-flight tasks. Survivors
// are left to finish in the background; the caller's process exit is the
// ultimate cancellation, matching the teacher's "cancel survivors"
// semantics as closely as Go goroutines (which cannot be force-killed)
// allow.
func (p *Pool) drain() {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.cfg.ShutdownTimeout):
		log.WithField("active", p.activeCount()).Warn("shutdown timeout reached, abandoning active tasks")
	}
}

func clonePayload(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src)+1)
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
