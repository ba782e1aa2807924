// Package ops provides the trainer's operational HTTP surface: health and
// readiness probes, run status, stored model inspection, and a manual run
// trigger.
package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/ferrycast/ferrycast/internal/modelstore"
	"github.com/ferrycast/ferrycast/internal/pipeline"
)

// Trainer is the coordinator surface the handlers need.
type Trainer interface {
	Run(ctx context.Context) (*pipeline.RunReport, error)
	LastReport() *pipeline.RunReport
	Running() bool
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version   string
	BuildTime string
	Logger    zerolog.Logger
	Trainer   Trainer
	Models    modelstore.Repository

	// Pinger verifies upstream connectivity for the readiness probe.
	// Optional: readiness always passes when nil.
	Pinger pipeline.Pinger
}

// NewRouter creates a chi router with all ops routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Logger(cfg.Logger))
	r.Use(Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)

	h := &handlers{
		version:   cfg.Version,
		buildTime: cfg.BuildTime,
		logger:    cfg.Logger,
		trainer:   cfg.Trainer,
		models:    cfg.Models,
		pinger:    cfg.Pinger,
	}

	standardRateLimit := RateLimitByIP(StandardRateLimit)
	runRateLimit := RateLimitByIP(RunRateLimit)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", h.health)
			r.Get("/ready", h.ready)
			r.Get("/status", h.status)
		})

		r.With(standardRateLimit).Get("/models", h.listModels)
		r.With(runRateLimit).Post("/runs", h.triggerRun)
	})

	return r
}

type handlers struct {
	version   string
	buildTime string
	logger    zerolog.Logger
	trainer   Trainer
	models    modelstore.Repository
	pinger    pipeline.Pinger
}

type healthResponse struct {
	Status    string    `json:"status"`
	Time      time.Time `json:"time"`
	Version   string    `json:"version,omitempty"`
	BuildTime string    `json:"build_time,omitempty"`
}

// health handles GET /v1/ops/health - liveness check.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, healthResponse{
		Status:    "ok",
		Time:      time.Now(),
		Version:   h.version,
		BuildTime: h.buildTime,
	})
}

// ready handles GET /v1/ops/ready - readiness check against the upstream
// history source.
func (h *handlers) ready(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			h.logger.Warn().Err(err).Msg("readiness check failed")
			writeError(w, r, http.StatusServiceUnavailable, "history source unreachable")
			return
		}
	}
	writeJSON(w, r, http.StatusOK, healthResponse{Status: "ok", Time: time.Now()})
}

type statusResponse struct {
	Running    bool                `json:"running"`
	LastReport *pipeline.RunReport `json:"last_report,omitempty"`
}

// status handles GET /v1/ops/status - current run state and last report.
func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, statusResponse{
		Running:    h.trainer.Running(),
		LastReport: h.trainer.LastReport(),
	})
}

type modelsResponse struct {
	Models []*modelstore.ModelParameters `json:"models"`
	Count  int                           `json:"count"`
}

// listModels handles GET /v1/models - all stored model parameters.
func (h *handlers) listModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.models.List(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list models")
		writeError(w, r, http.StatusInternalServerError, "failed to list models")
		return
	}
	writeJSON(w, r, http.StatusOK, modelsResponse{Models: models, Count: len(models)})
}

type runAccepted struct {
	Status string `json:"status"`
}

// triggerRun handles POST /v1/runs - starts a training run in the
// background and returns immediately.
func (h *handlers) triggerRun(w http.ResponseWriter, r *http.Request) {
	if h.trainer.Running() {
		writeError(w, r, http.StatusConflict, "a training run is already in progress")
		return
	}

	// The run outlives the request.
	go func() {
		if _, err := h.trainer.Run(context.Background()); err != nil {
			h.logger.Error().Err(err).Msg("triggered run failed")
		}
	}()

	writeJSON(w, r, http.StatusAccepted, runAccepted{Status: "accepted"})
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, _ *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, detail string) {
	writeJSON(w, r, status, errorResponse{
		Error:     detail,
		RequestID: GetRequestID(r.Context()),
	})
}
