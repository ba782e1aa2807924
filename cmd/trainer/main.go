// Package main provides the entrypoint for the ferrycast trainer.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ferrycast/ferrycast/internal/config"
	"github.com/ferrycast/ferrycast/internal/database"
	"github.com/ferrycast/ferrycast/internal/history"
	"github.com/ferrycast/ferrycast/internal/history/wsdot"
	"github.com/ferrycast/ferrycast/internal/modelstore"
	"github.com/ferrycast/ferrycast/internal/ops"
	"github.com/ferrycast/ferrycast/internal/pipeline"
	"github.com/ferrycast/ferrycast/internal/priors"
	"github.com/ferrycast/ferrycast/internal/resilience"
	"github.com/ferrycast/ferrycast/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "ferrycast-trainer"

	runOnce := flag.Bool("once", false, "run one training pass and exit")
	flag.Parse()

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting ferrycast trainer")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx := context.Background()

	tp, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TelemetryEnabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	// Route priors and validation thresholds.
	var routePriors *priors.Config
	if cfg.PriorsPath != "" {
		routePriors, err = priors.Load(cfg.PriorsPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.PriorsPath).Msg("failed to load priors")
		}
		log.Info().Str("path", cfg.PriorsPath).Int("routes", routePriors.RouteCount()).Msg("priors loaded")
	} else {
		routePriors = priors.Default()
		log.Info().Int("routes", routePriors.RouteCount()).Msg("using built-in priors")
	}

	// Model store: Postgres when configured, in-memory otherwise.
	var models modelstore.Repository
	if cfg.DatabaseURL != "" {
		pool, err := database.Connect(ctx, database.DefaultConfig(cfg.DatabaseURL))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		models = modelstore.NewPostgresRepository(pool)
		log.Info().Msg("database connected")
	} else {
		models = modelstore.NewInMemoryRepository()
		log.Warn().Msg("no DATABASE_URL set, models will not survive restarts")
	}

	// Upstream history source.
	httpConfig := resilience.DefaultClientConfig("wsdot")
	httpConfig.Timeout = cfg.FetchTimeout
	source := wsdot.NewClient(wsdot.ClientConfig{
		APIKey:     cfg.HistoryAPIKey,
		BaseURL:    cfg.HistoryBaseURL,
		HTTPClient: resilience.NewClient(httpConfig),
		Logger:     log,
	})
	historySvc := history.NewService(history.ServiceConfig{
		Source:    source,
		Logger:    log,
		BatchSize: cfg.FetchBatchSize,
	})

	coordinator, err := pipeline.NewCoordinator(pipeline.CoordinatorConfig{
		Priors:      routePriors,
		History:     historySvc,
		Models:      models,
		Logger:      log,
		Meter:       tp.Meter,
		Tracer:      tp.Tracer,
		HistoryDays: cfg.HistoryDays,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create pipeline coordinator")
	}

	if *runOnce {
		report, err := coordinator.Run(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("training run failed")
		}
		log.Info().
			Str("run_id", report.RunID).
			Int("trained", report.ModelsTrained).
			Int("skipped", report.ModelsSkipped).
			Int("failed", report.ModelsFailed).
			Msg("training run finished")
		return
	}

	runCtx, cancelRuns := context.WithCancel(ctx)
	defer cancelRuns()

	// Pub/Sub trigger, when configured.
	if cfg.PubSubProjectID != "" {
		handler, err := pipeline.NewPubSubHandler(ctx, pipeline.PubSubConfig{
			ProjectID:        cfg.PubSubProjectID,
			SubscriptionName: cfg.PubSubSubscription,
			Runner:           coordinator,
			Pinger:           historySvc,
			Logger:           log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create pubsub handler")
		}
		defer handler.Close()

		go func() {
			if err := handler.Start(runCtx); err != nil && runCtx.Err() == nil {
				log.Error().Err(err).Msg("pubsub handler stopped")
			}
		}()
	} else {
		log.Info().Msg("pubsub disabled, runs can be triggered over HTTP")
	}

	router := ops.NewRouter(ops.RouterConfig{
		Version:   Version,
		BuildTime: BuildTime,
		Logger:    log,
		Trainer:   coordinator,
		Models:    models,
		Pinger:    historySvc,
	})

	server := &http.Server{
		Addr:         ":" + cfg.OpsPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("ops server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("ops server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down trainer")
	cancelRuns()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("ops server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("trainer stopped")
}
