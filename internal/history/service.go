package history

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ServiceConfig holds configuration for the history Service.
type ServiceConfig struct {
	Source Source
	Logger zerolog.Logger

	// BatchSize is the number of concurrent per-vessel fetches. Default: 2.
	BatchSize int
}

// Service loads trip history for the whole fleet. Fetches run in fixed-size
// concurrent batches and fail fast: one failed vessel fails the load.
type Service struct {
	source    Source
	logger    zerolog.Logger
	batchSize int
}

// NewService creates a history service.
func NewService(cfg ServiceConfig) *Service {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 2
	}
	return &Service{
		source:    cfg.Source,
		logger:    cfg.Logger,
		batchSize: batchSize,
	}
}

// LoadFleetHistory fetches the trip history of every vessel in the fleet
// for the given range. Results keep fleet order so downstream output is
// deterministic for a given upstream state.
func (s *Service) LoadFleetHistory(ctx context.Context, r DateRange) ([]VesselTrip, error) {
	vessels, err := s.source.Vessels(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing vessels: %w", err)
	}

	s.logger.Info().
		Int("vessels", len(vessels)).
		Time("from", r.From).
		Time("to", r.To).
		Int("batch_size", s.batchSize).
		Msg("loading fleet history")

	perVessel := make([][]VesselTrip, len(vessels))

	for start := 0; start < len(vessels); start += s.batchSize {
		end := start + s.batchSize
		if end > len(vessels) {
			end = len(vessels)
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			g.Go(func() error {
				trips, err := s.source.TripHistory(gctx, vessels[i].ID, r)
				if err != nil {
					return &FetchError{VesselID: vessels[i].ID, Range: r, Err: err}
				}
				perVessel[i] = trips
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	var all []VesselTrip
	for _, trips := range perVessel {
		all = append(all, trips...)
	}

	s.logger.Info().Int("trips", len(all)).Msg("fleet history loaded")
	return all, nil
}

// Ping verifies upstream connectivity by listing the fleet.
func (s *Service) Ping(ctx context.Context) error {
	if _, err := s.source.Vessels(ctx); err != nil {
		return fmt.Errorf("history source unreachable: %w", err)
	}
	return nil
}
