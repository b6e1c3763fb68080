// Package dispatch implements the hybrid dispatcher (spec component C5):
// the per-request entry point that checks the cache, dedupes against the
// job queue, and decides between inline processing and enqueueing.
//
// Grounded on original_source's src/api/process.py, which holds the same
// cache → dedupe → capacity-gated-direct → enqueue sequence as a single
// FastAPI route handler; here it's a standalone, guarded Go type so it
// can be driven by cmd/api without pulling in the HTTP layer.
package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/interlock-studios/creva-ingest/internal/cachestore"
	"github.com/interlock-studios/creva-ingest/internal/canon"
	"github.com/interlock-studios/creva-ingest/internal/jobqueue"
	"github.com/interlock-studios/creva-ingest/internal/metrics"
	"github.com/interlock-studios/creva-ingest/internal/obslog"
	"github.com/interlock-studios/creva-ingest/internal/pipeline"
)

var log = obslog.For("dispatch")

// Queued is returned when a request could not be served synchronously.
type Queued struct {
	JobID    string
	Status   string // "queued" | "processing"
	CheckURL string
}

// Result is the outcome of a Submit call: exactly one of Payload or
// Queued is populated.
type Result struct {
	Payload map[string]any
	Cached  bool
	Queued  *Queued
}

// Dispatcher is the C5 contract's concrete implementation.
type Dispatcher struct {
	pipeline pipeline.Pipeline
	cache    cachestore.Store
	jobs     jobqueue.Store

	maxDirect     int32
	directTimeout time.Duration

	activeDirect int32
}

// New builds a Dispatcher. maxDirect and directTimeout default to
// spec.md §6's 15 and 30s when zero-valued.
func New(p pipeline.Pipeline, cache cachestore.Store, jobs jobqueue.Store, maxDirect int, directTimeout time.Duration) *Dispatcher {
	if maxDirect <= 0 {
		maxDirect = 15
	}
	if directTimeout <= 0 {
		directTimeout = 30 * time.Second
	}
	return &Dispatcher{
		pipeline:      p,
		cache:         cache,
		jobs:          jobs,
		maxDirect:     int32(maxDirect),
		directTimeout: directTimeout,
	}
}

// ActiveDirect reports the current guarded counter value, for metrics and
// tests asserting the admission boundary (spec.md §8 invariant 4).
func (d *Dispatcher) ActiveDirect() int {
	return int(atomic.LoadInt32(&d.activeDirect))
}

// Submit implements spec.md §4.5's five-step algorithm.
func (d *Dispatcher) Submit(ctx context.Context, url, locale, requestID string) (Result, error) {
	fp := canon.Fingerprint(url, locale)

	if entry, err := d.cache.Get(ctx, fp); err == nil {
		payload := clonePayload(entry.Payload)
		payload["cached"] = true
		metrics.DispatchRequestsTotal.WithLabelValues("cache_hit").Inc()
		return Result{Payload: payload, Cached: true}, nil
	}

	if existing, err := d.jobs.FindByURL(ctx, url, jobqueue.StatusPending, locale); err == nil {
		metrics.DispatchRequestsTotal.WithLabelValues("dedupe_pending").Inc()
		return Result{Queued: &Queued{JobID: existing.JobID, Status: "queued", CheckURL: checkURL(existing.JobID)}}, nil
	}

	if inflight, err := d.jobs.FindByURL(ctx, url, jobqueue.StatusProcessing, locale); err == nil {
		metrics.DispatchRequestsTotal.WithLabelValues("dedupe_processing").Inc()
		return Result{Queued: &Queued{JobID: inflight.JobID, Status: "processing", CheckURL: checkURL(inflight.JobID)}}, nil
	}

	if d.tryAcquireDirectSlot() {
		defer d.releaseDirectSlot()
		metrics.DispatchActiveDirect.Set(float64(d.ActiveDirect()))

		directCtx, cancel := context.WithTimeout(ctx, d.directTimeout)
		defer cancel()

		payload, err := d.pipeline.Process(directCtx, url, requestID, locale)
		if err == nil {
			payload["cached"] = false
			metrics.DispatchRequestsTotal.WithLabelValues("direct").Inc()
			return Result{Payload: payload, Cached: false}, nil
		}
		log.WithError(err).WithField("url", url).Warn("direct processing failed, falling back to enqueue")
	}

	jobID, err := d.jobs.Enqueue(ctx, url, requestID, locale)
	if err != nil {
		return Result{}, err
	}
	metrics.DispatchRequestsTotal.WithLabelValues("enqueued").Inc()
	return Result{Queued: &Queued{JobID: jobID, Status: "queued", CheckURL: checkURL(jobID)}}, nil
}

// JobStatus reports the dispatcher-facing status view for a job id.
func (d *Dispatcher) JobStatus(ctx context.Context, jobID string) (jobqueue.JobResult, error) {
	jr, err := d.jobs.GetResult(ctx, jobID)
	if errors.Is(err, jobqueue.ErrNotFound) {
		return jobqueue.JobResult{Status: "not_found"}, nil
	}
	return jr, err
}

// tryAcquireDirectSlot atomically checks activeDirect < maxDirect and
// increments if so, in one CAS loop — the "observed atomically" guard
// spec.md §4.5 requires.
func (d *Dispatcher) tryAcquireDirectSlot() bool {
	for {
		current := atomic.LoadInt32(&d.activeDirect)
		if current >= d.maxDirect {
			return false
		}
		if atomic.CompareAndSwapInt32(&d.activeDirect, current, current+1) {
			return true
		}
	}
}

func (d *Dispatcher) releaseDirectSlot() {
	n := atomic.AddInt32(&d.activeDirect, -1)
	metrics.DispatchActiveDirect.Set(float64(n))
}

func checkURL(jobID string) string {
	return "/status/" + jobID
}

func clonePayload(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src)+1)
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
