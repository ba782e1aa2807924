// Package history defines the raw trip telemetry domain and the fleet-wide
// history loader that feeds the training pipeline.
package history

import (
	"context"
	"fmt"
	"time"
)

// Vessel identifies one vessel in the fleet.
type Vessel struct {
	ID   int
	Name string
}

// DateRange is a half-open historical query range [From, To).
type DateRange struct {
	From time.Time
	To   time.Time
}

// VesselTrip is one raw history record as reported upstream. Any field may
// be absent (zero); the pipeline drops incomplete records rather than
// inferring values.
type VesselTrip struct {
	VesselID   int
	VesselName string

	// DepartingTerminal / ArrivingTerminal are terminal display names as
	// the upstream reports them, resolved to codes via the priors tables.
	DepartingTerminal string
	ArrivingTerminal  string

	// ScheduledDepart / ActualDepart are zero when unreported.
	ScheduledDepart time.Time
	ActualDepart    time.Time

	// EstimatedArrival is the arrival proxy: a noisy stand-in for true dock
	// arrival. Zero when the upstream had no estimate.
	EstimatedArrival time.Time

	// ArrivalProxySource names where the estimate came from (e.g. "eta").
	ArrivalProxySource string
}

// Source supplies raw trip history, one vessel at a time.
type Source interface {
	// Vessels lists the fleet.
	Vessels(ctx context.Context) ([]Vessel, error)

	// TripHistory returns all recorded trips for a vessel in the range.
	TripHistory(ctx context.Context, vesselID int, r DateRange) ([]VesselTrip, error)
}

// FetchError is a load-level failure. It aborts the whole run: training on
// partial fleet data would silently bias route statistics.
type FetchError struct {
	VesselID int
	Range    DateRange
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching history for vessel %d (%s to %s): %v",
		e.VesselID,
		e.Range.From.Format("2006-01-02"),
		e.Range.To.Format("2006-01-02"),
		e.Err,
	)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
