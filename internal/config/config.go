// Package config loads trainer configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds process-level configuration for the trainer.
type Config struct {
	// Env is the deployment environment name.
	Env string

	// OpsPort is the listen port for the operational HTTP server.
	OpsPort string

	// TelemetryEnabled turns on OTLP export; OTLPEndpoint is its target.
	TelemetryEnabled bool
	OTLPEndpoint     string

	// PubSubProjectID / PubSubSubscription configure the training trigger
	// subscription. Empty project disables Pub/Sub entirely.
	PubSubProjectID    string
	PubSubSubscription string

	// HistoryBaseURL / HistoryAPIKey configure the upstream vessel history API.
	HistoryBaseURL string
	HistoryAPIKey  string

	// HistoryDays is the size of the historical date range to load per run.
	HistoryDays int

	// FetchBatchSize is the number of concurrent per-vessel history fetches.
	FetchBatchSize int

	// FetchTimeout bounds a single upstream request.
	FetchTimeout time.Duration

	// PriorsPath optionally points at a JSON priors file; empty uses the
	// built-in tables.
	PriorsPath string

	// DatabaseURL is the Postgres DSN for the model store. Empty selects
	// the in-memory store.
	DatabaseURL string
}

// Load reads configuration from the environment, honoring a local .env file
// when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:                getenvDefault("APP_ENV", "development"),
		OpsPort:            getenvDefault("APP_PORT", "8080"),
		TelemetryEnabled:   os.Getenv("OTEL_ENABLED") == "true",
		OTLPEndpoint:       getenvDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		PubSubProjectID:    os.Getenv("PUBSUB_PROJECT_ID"),
		PubSubSubscription: getenvDefault("PUBSUB_SUBSCRIPTION", "trainer-jobs"),
		HistoryBaseURL:     os.Getenv("HISTORY_BASE_URL"),
		HistoryAPIKey:      os.Getenv("HISTORY_API_KEY"),
		PriorsPath:         os.Getenv("PRIORS_PATH"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
	}

	days, err := intEnv("HISTORY_DAYS", 90)
	if err != nil {
		return nil, err
	}
	if days <= 0 {
		return nil, fmt.Errorf("HISTORY_DAYS must be positive, got %d", days)
	}
	cfg.HistoryDays = days

	batch, err := intEnv("FETCH_BATCH_SIZE", 2)
	if err != nil {
		return nil, err
	}
	if batch <= 0 {
		return nil, fmt.Errorf("FETCH_BATCH_SIZE must be positive, got %d", batch)
	}
	cfg.FetchBatchSize = batch

	timeoutSec, err := intEnv("FETCH_TIMEOUT_SEC", 30)
	if err != nil {
		return nil, err
	}
	cfg.FetchTimeout = time.Duration(timeoutSec) * time.Second

	return cfg, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
