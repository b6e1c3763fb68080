// Command admin is an operator CLI for cache and queue administration —
// invalidate/stats/clear on the cache, stats/requeue on the job queue.
// Repurposed from the teacher's cmd/manage-keys (flag-driven CRUD banner)
// and cmd/listdocs (direct Firestore iteration), adapted from API-key
// management to content-cache/job-queue management since auth is out of
// scope here. Uses fatih/color for status output the way vjache-cie's
// CLI colors its own command output, and google/uuid to stamp an
// operator-trace id onto mutating subcommands for audit logging.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"google.golang.org/api/option"

	"github.com/interlock-studios/creva-ingest/internal/cachestore"
	"github.com/interlock-studios/creva-ingest/internal/config"
	"github.com/interlock-studios/creva-ingest/internal/jobqueue"
	"github.com/interlock-studios/creva-ingest/internal/obslog"
	"github.com/interlock-studios/creva-ingest/internal/workerpool"
)

var log = obslog.For("cmd-admin")

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	sub := os.Args[1]
	pflag.CommandLine.Parse(os.Args[2:])

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	firestoreClient, err := newFirestoreClient(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to create firestore client")
	}
	defer firestoreClient.Close()

	cache := cachestore.NewFirestoreStore(firestoreClient, cfg.CacheCollection)
	jobs := jobqueue.NewFirestoreStore(firestoreClient, cfg.QueueCollection, cfg.ResultsCollection, nil)

	traceID := uuid.NewString()

	switch sub {
	case "cache-stats":
		runCacheStats(ctx, cache)
	case "cache-invalidate":
		runCacheInvalidate(ctx, cache, traceID)
	case "cache-clear":
		runCacheClear(ctx, cache, traceID)
	case "queue-requeue":
		runQueueRequeue(ctx, jobs, traceID)
	case "queue-stats":
		runQueueStats(ctx, jobs)
	case "worker-stats":
		runWorkerStats(ctx, cfg)
	default:
		printUsage()
		os.Exit(1)
	}
}

func runCacheStats(ctx context.Context, cache *cachestore.FirestoreStore) {
	stats, err := cache.Stats(ctx)
	if err != nil {
		color.Red("error fetching cache stats: %v", err)
		os.Exit(1)
	}
	color.Green("cache stats:")
	fmt.Printf("  total sampled:    %d\n", stats.TotalSampled)
	fmt.Printf("  expired in sample: %d\n", stats.ExpiredInSample)
	fmt.Printf("  ttl hours:        %d\n", stats.TTLHours)
}

func runCacheInvalidate(ctx context.Context, cache *cachestore.FirestoreStore, traceID string) {
	fingerprint := pflag.Arg(0)
	if fingerprint == "" {
		color.Red("usage: admin cache-invalidate <fingerprint>")
		os.Exit(1)
	}
	ok, err := cache.Invalidate(ctx, fingerprint)
	if err != nil {
		color.Red("error invalidating cache entry: %v", err)
		os.Exit(1)
	}
	log.WithField("trace_id", traceID).WithField("fingerprint", fingerprint).Info("cache entry invalidated")
	if ok {
		color.Green("invalidated %s", fingerprint)
	} else {
		color.Yellow("no cache entry found for %s", fingerprint)
	}
}

func runCacheClear(ctx context.Context, cache *cachestore.FirestoreStore, traceID string) {
	deleted, err := cache.ClearAll(ctx)
	if err != nil {
		color.Red("error clearing cache: %v", err)
		os.Exit(1)
	}
	log.WithField("trace_id", traceID).WithField("deleted", deleted).Warn("cache cleared")
	color.Yellow("cleared %d cache entries", deleted)
}

func runQueueRequeue(ctx context.Context, jobs *jobqueue.FirestoreStore, traceID string) {
	jobID := pflag.Arg(0)
	if jobID == "" {
		color.Red("usage: admin queue-requeue <jobId>")
		os.Exit(1)
	}
	if err := jobs.ForceAttemptsExhausted(ctx, jobID); err != nil && err != jobqueue.ErrNotFound {
		color.Red("error inspecting job: %v", err)
		os.Exit(1)
	}
	if err := jobs.MarkFailed(ctx, jobID, "manually requeued by operator"); err != nil {
		color.Red("error requeueing job: %v", err)
		os.Exit(1)
	}
	log.WithField("trace_id", traceID).WithField("job_id", jobID).Info("job force-failed by operator")
	color.Yellow("job %s moved to terminal failed state", jobID)
}

func runQueueStats(ctx context.Context, jobs *jobqueue.FirestoreStore) {
	stats, err := jobs.Stats(ctx)
	if err != nil {
		color.Red("error fetching queue stats: %v", err)
		os.Exit(1)
	}
	color.Green("queue stats:")
	fmt.Printf("  pending:    %d\n", stats.Pending)
	fmt.Printf("  processing: %d\n", stats.Processing)
	fmt.Printf("  completed:  %d\n", stats.Completed)
	fmt.Printf("  failed:     %d\n", stats.Failed)
}

// runWorkerStats reads the PoolSnapshot a running worker last published to
// Redis (internal/workerpool's publishSnapshotLoop); it opens its own
// Redis client since the rest of admin's subcommands never need one.
func runWorkerStats(ctx context.Context, cfg config.Config) {
	workerID := pflag.Arg(0)
	if workerID == "" {
		color.Red("usage: admin worker-stats <workerId>")
		os.Exit(1)
	}

	redisClient, err := cachestore.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		color.Red("error connecting to redis: %v", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	var snap workerpool.PoolSnapshot
	if err := redisClient.GetJSON(ctx, workerpool.SnapshotKey(workerID), &snap); err != nil {
		if err == cachestore.ErrNotFound {
			color.Yellow("no snapshot published for worker %s (stale or never started)", workerID)
			os.Exit(1)
		}
		color.Red("error fetching worker snapshot: %v", err)
		os.Exit(1)
	}

	color.Green("worker stats for %s:", snap.WorkerID)
	fmt.Printf("  active tasks:  %d\n", snap.ActiveTasks)
	fmt.Printf("  pool size:     %d\n", snap.PoolSize)
	fmt.Printf("  last cleanup:  %s\n", snap.LastCleanup.Format(time.RFC3339))
}

func printUsage() {
	fmt.Println("usage: admin <command> [args]")
	fmt.Println()
	fmt.Println("commands:")
	fmt.Println("  cache-stats")
	fmt.Println("  cache-invalidate <fingerprint>")
	fmt.Println("  cache-clear")
	fmt.Println("  queue-requeue <jobId>")
	fmt.Println("  queue-stats")
	fmt.Println("  worker-stats <workerId>")
}

func newFirestoreClient(ctx context.Context, cfg config.Config) (*firestore.Client, error) {
	if cfg.FirestoreCredsPath == "" {
		return firestore.NewClient(ctx, cfg.FirestoreProjectID)
	}
	return firestore.NewClient(ctx, cfg.FirestoreProjectID, option.WithCredentialsFile(cfg.FirestoreCredsPath))
}
