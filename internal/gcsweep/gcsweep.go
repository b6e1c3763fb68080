// Package gcsweep implements the GC sweeper (spec component C7):
// periodic deletion of terminal jobs beyond their retention window.
//
// Grounded on original_source's queue_service.py:cleanup_old_jobs, which
// this wraps as a standalone, injectable component so it can run both
// opportunistically from the worker pool and standalone from cmd/gcsweep.
package gcsweep

import (
	"context"
	"time"

	"github.com/interlock-studios/creva-ingest/internal/jobqueue"
	"github.com/interlock-studios/creva-ingest/internal/metrics"
	"github.com/interlock-studios/creva-ingest/internal/obslog"
)

var log = obslog.For("gcsweep")

// Sweeper runs CleanupOld on a schedule or on demand.
type Sweeper struct {
	jobs            jobqueue.Store
	retentionDays   int
	batchSize       int
	sweepInterval   time.Duration
}

// New builds a Sweeper. retentionDays and batchSize default to spec.md
// §6's 1 day / 250 writes when zero-valued.
func New(jobs jobqueue.Store, retentionDays, batchSize int, sweepInterval time.Duration) *Sweeper {
	if retentionDays <= 0 {
		retentionDays = 1
	}
	if batchSize <= 0 {
		batchSize = 250
	}
	if sweepInterval <= 0 {
		sweepInterval = 1 * time.Hour
	}
	return &Sweeper{jobs: jobs, retentionDays: retentionDays, batchSize: batchSize, sweepInterval: sweepInterval}
}

// Sweep runs one CleanupOld pass and returns the number of jobs deleted.
// Satisfies internal/workerpool.Sweeper.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	deleted, err := s.jobs.CleanupOld(ctx, s.retentionDays, s.batchSize)
	if err != nil {
		log.WithError(err).Warn("gc sweep failed")
		return 0, err
	}
	metrics.GCDeletedTotal.Add(float64(deleted))
	log.WithField("deleted", deleted).Info("gc sweep complete")
	return deleted, nil
}

// Run loops Sweep on sweepInterval until ctx is cancelled. Used by
// cmd/gcsweep's standalone entry point; the worker pool instead calls
// Sweep directly on its own opportunistic schedule.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				log.WithError(err).Warn("scheduled sweep failed")
			}
		}
	}
}
