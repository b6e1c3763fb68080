// Command worker runs one long-lived worker process draining the job
// queue into the pipeline (spec component C6), with an opportunistic GC
// sweep (C7) on the same schedule the teacher's Python worker_service.py
// used. Flags follow vjache-cie's pflag-based CLI convention rather than
// the teacher's stdlib flag package, since spf13/pflag is this repo's
// chosen CLI library (see SPEC_FULL.md's ambient stack decision).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/spf13/pflag"
	"google.golang.org/api/option"

	"github.com/interlock-studios/creva-ingest/internal/cachestore"
	"github.com/interlock-studios/creva-ingest/internal/config"
	"github.com/interlock-studios/creva-ingest/internal/gcsweep"
	"github.com/interlock-studios/creva-ingest/internal/jobqueue"
	"github.com/interlock-studios/creva-ingest/internal/obslog"
	"github.com/interlock-studios/creva-ingest/internal/pipeline"
	"github.com/interlock-studios/creva-ingest/internal/workerpool"
)

var log = obslog.For("cmd-worker")

// hotCacheTTL bounds how long a cache entry may live in Redis before a
// fresh Firestore read is forced, independent of the entry's own
// expiresAt (internal/cachestore.NewHotCache).
const hotCacheTTL = 10 * time.Minute

func main() {
	configFile := pflag.StringP("config", "c", os.Getenv("CONFIG_FILE"), "optional YAML config overlay")
	pflag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	firestoreClient, err := newFirestoreClient(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to create firestore client")
	}
	defer firestoreClient.Close()

	redisClient, err := cachestore.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to redis")
	}
	defer redisClient.Close()

	firestoreCache := cachestore.NewFirestoreStore(firestoreClient, cfg.CacheCollection)
	cache := cachestore.NewHotCache(firestoreCache, redisClient, hotCacheTTL)
	jobs := jobqueue.NewFirestoreStore(firestoreClient, cfg.QueueCollection, cfg.ResultsCollection, nil)

	runner := pipeline.NewRunner(pipeline.UnimplementedFetcher{}, pipeline.UnimplementedFrameExtractor{}, pipeline.UnimplementedAnalyzer{}, cache, cfg.CacheTTLHours)
	sweeper := gcsweep.New(jobs, cfg.GCRetentionDays, cfg.GCBatchSize, cfg.GCSweepInterval)

	poolCfg := workerpool.Config{
		MaxConcurrency:  cfg.MaxConcurrencyPerWorker,
		BaseInterval:    cfg.PollBaseInterval,
		MaxBackoff:      cfg.PollMaxBackoff,
		ShutdownTimeout: cfg.WorkerShutdownTimeout,
		CleanupInterval: cfg.GCSweepInterval,
		ShortInterval:   50 * time.Millisecond,
	}
	pool := workerpool.NewPool(jobs, runner, cache, sweeper, poolCfg, redisClient)

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.WithField("worker_id", pool.WorkerID()).Info("starting worker")
	pool.Run(runCtx)
}

func newFirestoreClient(ctx context.Context, cfg config.Config) (*firestore.Client, error) {
	if cfg.FirestoreCredsPath == "" {
		return firestore.NewClient(ctx, cfg.FirestoreProjectID)
	}
	return firestore.NewClient(ctx, cfg.FirestoreProjectID, option.WithCredentialsFile(cfg.FirestoreCredsPath))
}
