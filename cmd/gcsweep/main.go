// Command gcsweep runs the GC sweeper (C7) standalone, for deployments
// that prefer a dedicated cron/Job resource over the worker pool's
// opportunistic in-process trigger.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/firestore"
	"github.com/spf13/pflag"
	"google.golang.org/api/option"

	"github.com/interlock-studios/creva-ingest/internal/config"
	"github.com/interlock-studios/creva-ingest/internal/gcsweep"
	"github.com/interlock-studios/creva-ingest/internal/jobqueue"
	"github.com/interlock-studios/creva-ingest/internal/obslog"
)

var log = obslog.For("cmd-gcsweep")

func main() {
	configFile := pflag.StringP("config", "c", os.Getenv("CONFIG_FILE"), "optional YAML config overlay")
	once := pflag.Bool("once", false, "run a single sweep and exit instead of looping on the configured interval")
	pflag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	ctx := context.Background()
	firestoreClient, err := newFirestoreClient(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to create firestore client")
	}
	defer firestoreClient.Close()

	jobs := jobqueue.NewFirestoreStore(firestoreClient, cfg.QueueCollection, cfg.ResultsCollection, nil)
	sweeper := gcsweep.New(jobs, cfg.GCRetentionDays, cfg.GCBatchSize, cfg.GCSweepInterval)

	if *once {
		deleted, err := sweeper.Sweep(ctx)
		if err != nil {
			log.WithError(err).Fatal("sweep failed")
		}
		log.WithField("deleted", deleted).Info("sweep complete, exiting")
		return
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	sweeper.Run(runCtx)
}

func newFirestoreClient(ctx context.Context, cfg config.Config) (*firestore.Client, error) {
	if cfg.FirestoreCredsPath == "" {
		return firestore.NewClient(ctx, cfg.FirestoreProjectID)
	}
	return firestore.NewClient(ctx, cfg.FirestoreProjectID, option.WithCredentialsFile(cfg.FirestoreCredsPath))
}
