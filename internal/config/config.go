// Package config loads the closed configuration set of spec.md §6.
//
// Grounded on the teacher's server/util.go (mustEnv) and server/server.go
// (project id resolution from a service-account file), with an optional
// YAML overlay for the tunable (non-secret) knobs — the same pattern
// estuary-flow and vjache-cie use for their own config files.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the closed configuration set from spec.md §6.
type Config struct {
	MaxDirect               int           `yaml:"max_direct"`
	DirectTimeout           time.Duration `yaml:"direct_timeout"`
	MaxConcurrencyPerWorker int           `yaml:"max_concurrency_per_worker"`
	PollBaseInterval        time.Duration `yaml:"poll_base_interval"`
	PollMaxBackoff          time.Duration `yaml:"poll_max_backoff"`
	CacheTTLHours           int           `yaml:"cache_ttl_hours"`
	WorkerShutdownTimeout   time.Duration `yaml:"worker_shutdown_timeout"`
	GCRetentionDays         int           `yaml:"gc_retention_days"`
	GCBatchSize             int           `yaml:"gc_batch_size"`
	GCSweepInterval         time.Duration `yaml:"gc_sweep_interval"`
	MaxAttempts             int           `yaml:"max_attempts"`

	// Connection settings. The Firestore project id is required; the
	// collection names and Redis address have defaults.
	FirestoreProjectID  string `yaml:"-"`
	FirestoreCredsPath  string `yaml:"-"`
	CacheCollection     string `yaml:"cache_collection"`
	QueueCollection     string `yaml:"queue_collection"`
	ResultsCollection   string `yaml:"results_collection"`
	RedisAddr           string `yaml:"redis_addr"`
	RedisPassword       string `yaml:"-"`
}

// Defaults matches spec.md §6's closed default set.
func Defaults() Config {
	return Config{
		MaxDirect:               15,
		DirectTimeout:           30 * time.Second,
		MaxConcurrencyPerWorker: 5,
		PollBaseInterval:        1 * time.Second,
		PollMaxBackoff:          30 * time.Second,
		CacheTTLHours:           168,
		WorkerShutdownTimeout:   30 * time.Second,
		GCRetentionDays:         1,
		GCBatchSize:             250,
		GCSweepInterval:         1 * time.Hour,
		MaxAttempts:             3,
		CacheCollection:         "content_cache",
		QueueCollection:         "processing_queue",
		ResultsCollection:       "processing_results",
		RedisAddr:               "localhost:6379",
	}
}

// Load builds a Config from defaults, an optional YAML overlay file, then
// required environment variables. Env vars always win over the file, and
// the file always wins over defaults — the same precedence order the
// teacher applies with its mustEnv fallbacks.
func Load(overlayPath string) (Config, error) {
	cfg := Defaults()

	if overlayPath != "" {
		data, err := os.ReadFile(overlayPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("reading config overlay: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config overlay: %w", err)
		}
	}

	cfg.FirestoreProjectID = os.Getenv("FIRESTORE_PROJECT_ID")
	cfg.FirestoreCredsPath = os.Getenv("FIRESTORE_SERVICE_ACCOUNT_PATH")
	if cfg.FirestoreProjectID == "" && cfg.FirestoreCredsPath != "" {
		projectID, err := projectIDFromServiceAccount(cfg.FirestoreCredsPath)
		if err != nil {
			return Config{}, fmt.Errorf("resolving Firestore project id: %w", err)
		}
		cfg.FirestoreProjectID = projectID
	}
	if cfg.FirestoreProjectID == "" {
		return Config{}, fmt.Errorf("FIRESTORE_PROJECT_ID is required (or a service account file that carries one)")
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.RedisAddr = addr
	}
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	return cfg, nil
}

type serviceAccountPayload struct {
	ProjectID string `json:"project_id"`
}

func projectIDFromServiceAccount(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading service account file: %w", err)
	}
	var payload serviceAccountPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("parsing service account file: %w", err)
	}
	if payload.ProjectID == "" {
		return "", fmt.Errorf("project_id not present in service account file")
	}
	return payload.ProjectID, nil
}

// MustEnv reads a required environment variable or panics with a message
// naming it — the teacher's server/util.go:mustEnv contract. No entry
// point in this repository calls it; Load reads its variables directly.
func MustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("%s environment variable is required", key))
	}
	return v
}
