// Package pipeline coordinates a full training run: load fleet history,
// build windows, extract features, bucket by route, and fit one model per
// (route, model type) pair.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ferrycast/ferrycast/internal/history"
	"github.com/ferrycast/ferrycast/internal/modelstore"
	"github.com/ferrycast/ferrycast/internal/priors"
	"github.com/ferrycast/ferrycast/internal/training"
)

// ErrRunInProgress is returned when a run is requested while another is
// still executing. Runs never overlap.
var ErrRunInProgress = errors.New("training run already in progress")

// HistoryLoader loads the fleet's trip history for a date range.
type HistoryLoader interface {
	LoadFleetHistory(ctx context.Context, r history.DateRange) ([]history.VesselTrip, error)
}

// CoordinatorConfig holds dependencies for the Coordinator.
type CoordinatorConfig struct {
	Priors  *priors.Config
	History HistoryLoader
	Models  modelstore.Repository
	Logger  zerolog.Logger
	Meter   metric.Meter
	Tracer  trace.Tracer

	// HistoryDays is the length of the loaded window. Default: 90.
	HistoryDays int

	// ModelTypes limits which model types are trained. Default: all.
	ModelTypes []training.ModelType

	// Now is the clock. Default: time.Now.
	Now func() time.Time
}

// UnitFailure records one (route, model type) unit that errored. Failed
// units never abort the run.
type UnitFailure struct {
	RouteKey  priors.RouteKey    `json:"route_key"`
	ModelType training.ModelType `json:"model_type"`
	Error     string             `json:"error"`
}

// RunReport summarizes one training run.
type RunReport struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	TripsLoaded      int `json:"trips_loaded"`
	WindowsBuilt     int `json:"windows_built"`
	RecordsExtracted int `json:"records_extracted"`
	BucketsFormed    int `json:"buckets_formed"`

	ModelsTrained int `json:"models_trained"`
	ModelsSkipped int `json:"models_skipped"`
	ModelsFailed  int `json:"models_failed"`

	Failures    []UnitFailure       `json:"failures,omitempty"`
	WindowStats training.BuildStats `json:"window_stats"`

	// FatalError is set when the run aborted before training, e.g. a
	// history fetch failure.
	FatalError string `json:"fatal_error,omitempty"`
}

// Duration returns the wall time of the run.
func (r *RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

type runMetrics struct {
	runsTotal     metric.Int64Counter
	modelsTrained metric.Int64Counter
	modelsSkipped metric.Int64Counter
	modelsFailed  metric.Int64Counter
	runDuration   metric.Float64Histogram
}

// Coordinator executes training runs. At most one run executes at a time.
type Coordinator struct {
	priors      *priors.Config
	historySvc  HistoryLoader
	models      modelstore.Repository
	logger      zerolog.Logger
	tracer      trace.Tracer
	historyDays int
	modelTypes  []training.ModelType
	now         func() time.Time

	builder   *training.WindowBuilder
	extractor *training.FeatureExtractor
	bucketer  *training.RouteBucketer
	trainer   *training.Trainer

	metrics runMetrics

	mu         sync.Mutex
	running    bool
	lastReport *RunReport
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	historyDays := cfg.HistoryDays
	if historyDays <= 0 {
		historyDays = 90
	}
	modelTypes := cfg.ModelTypes
	if len(modelTypes) == 0 {
		modelTypes = training.AllModelTypes()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	th := cfg.Priors.Thresholds()

	metrics, err := newRunMetrics(cfg.Meter)
	if err != nil {
		return nil, fmt.Errorf("creating pipeline metrics: %w", err)
	}

	return &Coordinator{
		priors:      cfg.Priors,
		historySvc:  cfg.History,
		models:      cfg.Models,
		logger:      cfg.Logger,
		tracer:      cfg.Tracer,
		historyDays: historyDays,
		modelTypes:  modelTypes,
		now:         now,
		builder: training.NewWindowBuilder(training.WindowBuilderConfig{
			Priors: cfg.Priors,
			Logger: cfg.Logger,
		}),
		extractor: training.NewFeatureExtractor(cfg.Priors),
		bucketer:  training.NewRouteBucketer(th.MaxSamplesPerRoute),
		trainer: training.NewTrainer(training.TrainerConfig{
			Thresholds: th,
			Logger:     cfg.Logger,
		}),
		metrics: metrics,
	}, nil
}

func newRunMetrics(meter metric.Meter) (runMetrics, error) {
	var m runMetrics
	var err error

	if m.runsTotal, err = meter.Int64Counter(
		"trainer.runs.total",
		metric.WithDescription("Total number of training runs"),
		metric.WithUnit("{run}"),
	); err != nil {
		return m, err
	}
	if m.modelsTrained, err = meter.Int64Counter(
		"trainer.models.trained",
		metric.WithDescription("Models trained and persisted"),
		metric.WithUnit("{model}"),
	); err != nil {
		return m, err
	}
	if m.modelsSkipped, err = meter.Int64Counter(
		"trainer.models.skipped",
		metric.WithDescription("Model units skipped for insufficient data"),
		metric.WithUnit("{model}"),
	); err != nil {
		return m, err
	}
	if m.modelsFailed, err = meter.Int64Counter(
		"trainer.models.failed",
		metric.WithDescription("Model units that errored"),
		metric.WithUnit("{model}"),
	); err != nil {
		return m, err
	}
	if m.runDuration, err = meter.Float64Histogram(
		"trainer.run.duration",
		metric.WithDescription("Duration of training runs in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return m, err
	}

	return m, nil
}

// Run executes one full training run. A history load failure aborts the run
// and is returned as an error; the report still describes what happened.
// Per-unit training failures are recorded in the report and do not abort.
func (c *Coordinator) Run(ctx context.Context) (*RunReport, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil, ErrRunInProgress
	}
	c.running = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	runID := uuid.NewString()
	report := &RunReport{RunID: runID, StartedAt: c.now()}

	ctx, span := c.tracer.Start(ctx, "pipeline.Run",
		trace.WithAttributes(attribute.String("run.id", runID)))
	defer span.End()

	logger := c.logger.With().Str("run_id", runID).Logger()
	c.metrics.runsTotal.Add(ctx, 1)

	err := c.run(ctx, logger, report)

	report.FinishedAt = c.now()
	c.metrics.runDuration.Record(ctx, report.Duration().Seconds())
	if err != nil {
		report.FatalError = err.Error()
	}

	// The report must not be mutated after it is published; LastReport hands
	// out the same pointer to concurrent readers.
	c.mu.Lock()
	c.lastReport = report
	c.mu.Unlock()

	if err != nil {
		logger.Error().Err(err).Msg("training run aborted")
		return report, err
	}

	logger.Info().
		Dur("duration", report.Duration()).
		Int("trips", report.TripsLoaded).
		Int("windows", report.WindowsBuilt).
		Int("buckets", report.BucketsFormed).
		Int("trained", report.ModelsTrained).
		Int("skipped", report.ModelsSkipped).
		Int("failed", report.ModelsFailed).
		Msg("training run completed")

	return report, nil
}

func (c *Coordinator) run(ctx context.Context, logger zerolog.Logger, report *RunReport) error {
	to := c.now()
	r := history.DateRange{From: to.AddDate(0, 0, -c.historyDays), To: to}

	trips, err := c.historySvc.LoadFleetHistory(ctx, r)
	if err != nil {
		return fmt.Errorf("loading fleet history: %w", err)
	}
	report.TripsLoaded = len(trips)

	windows, stats := c.builder.Build(trips)
	report.WindowsBuilt = len(windows)
	report.WindowStats = stats

	records := make([]training.FeatureRecord, 0, len(windows))
	for _, w := range windows {
		records = append(records, c.extractor.Extract(w))
	}
	report.RecordsExtracted = len(records)

	buckets := c.bucketer.Bucket(records)
	report.BucketsFormed = len(buckets)

	for _, bucket := range buckets {
		for _, mt := range c.modelTypes {
			c.trainUnit(ctx, logger, report, bucket, mt)
		}
	}

	return nil
}

// trainUnit fits and persists one (route, model type) pair. Panics are
// contained here so a bad unit cannot take down the rest of the run.
func (c *Coordinator) trainUnit(ctx context.Context, logger zerolog.Logger, report *RunReport, bucket training.RouteBucket, mt training.ModelType) {
	defer func() {
		if rec := recover(); rec != nil {
			report.ModelsFailed++
			report.Failures = append(report.Failures, UnitFailure{
				RouteKey:  bucket.RouteKey,
				ModelType: mt,
				Error:     fmt.Sprintf("panic: %v", rec),
			})
			c.metrics.modelsFailed.Add(ctx, 1)
			logger.Error().
				Str("route", string(bucket.RouteKey)).
				Str("model_type", string(mt)).
				Interface("panic", rec).
				Msg("training unit panicked")
		}
	}()

	model, err := c.trainer.Train(bucket, mt)
	if err != nil {
		if errors.Is(err, training.ErrInsufficientData) {
			report.ModelsSkipped++
			c.metrics.modelsSkipped.Add(ctx, 1)
			logger.Debug().
				Str("route", string(bucket.RouteKey)).
				Str("model_type", string(mt)).
				Msg("skipping unit, not enough data")
			return
		}

		report.ModelsFailed++
		report.Failures = append(report.Failures, UnitFailure{
			RouteKey:  bucket.RouteKey,
			ModelType: mt,
			Error:     err.Error(),
		})
		c.metrics.modelsFailed.Add(ctx, 1)
		logger.Error().Err(err).
			Str("route", string(bucket.RouteKey)).
			Str("model_type", string(mt)).
			Msg("training unit failed")
		return
	}

	params := &modelstore.ModelParameters{
		ID:            uuid.NewString(),
		RouteKey:      model.RouteKey,
		ModelType:     model.ModelType,
		FeatureKeys:   model.FeatureKeys,
		Coefficients:  model.Coefficients,
		Intercept:     model.Intercept,
		Fallback:      model.Fallback,
		MAE:           model.Metrics.MAE,
		RMSE:          model.Metrics.RMSE,
		R2:            model.Metrics.R2,
		StdDev:        model.Metrics.StdDev,
		BucketTotal:   model.BucketStats.TotalRecords,
		BucketSampled: model.BucketStats.SampledRecords,
		TrainExamples: model.TrainExamples,
		TestExamples:  model.TestExamples,
		TrainedAt:     c.now(),
	}

	if err := c.models.Upsert(ctx, params); err != nil {
		report.ModelsFailed++
		report.Failures = append(report.Failures, UnitFailure{
			RouteKey:  bucket.RouteKey,
			ModelType: mt,
			Error:     fmt.Sprintf("persisting model: %v", err),
		})
		c.metrics.modelsFailed.Add(ctx, 1)
		logger.Error().Err(err).
			Str("route", string(bucket.RouteKey)).
			Str("model_type", string(mt)).
			Msg("failed to persist model")
		return
	}

	report.ModelsTrained++
	c.metrics.modelsTrained.Add(ctx, 1)
}

// LastReport returns the most recent run report, or nil before the first
// run completes.
func (c *Coordinator) LastReport() *RunReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastReport
}

// Running reports whether a run is currently executing.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
