// Package training implements the delay-model training pipeline core:
// building leakage-safe training windows from raw trip history, extracting
// feature records, bucketing them by route, and fitting per-route models.
package training

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/ferrycast/ferrycast/internal/history"
	"github.com/ferrycast/ferrycast/internal/priors"
)

// WindowKind discriminates the two training window variants.
type WindowKind string

const (
	// WindowWithNextLeg covers three consecutive legs A→B→C→D.
	WindowWithNextLeg WindowKind = "WITH_NEXT_LEG"

	// WindowWithoutNextLeg covers two consecutive legs A→B→C.
	WindowWithoutNextLeg WindowKind = "WITHOUT_NEXT_LEG"
)

// Leg is one normalized scheduled trip between two terminal codes.
type Leg struct {
	From, To string
	RouteKey priors.RouteKey

	ScheduledDepart time.Time
	ActualDepart    time.Time

	// ArrivalProxy is the estimated arrival at To; zero when the upstream
	// record carried no estimate.
	ArrivalProxy       time.Time
	ArrivalProxySource string
}

// HasArrivalProxy reports whether the leg carries an arrival estimate.
func (l Leg) HasArrivalProxy() bool {
	return !l.ArrivalProxy.IsZero()
}

// TrainingWindow is one training example's worth of consecutive legs.
// Invariants maintained by the builder:
//   - Prev.To == Curr.From
//   - Next != nil iff Kind == WindowWithNextLeg
//   - NextLegEligible implies Kind == WindowWithNextLeg
type TrainingWindow struct {
	Kind     WindowKind
	VesselID int

	Prev Leg // A→B
	Curr Leg // B→C
	Next *Leg

	NextLegEligible bool

	// SlackBeforeDepartMinutes is the clamped layover at B before Curr's
	// scheduled departure.
	SlackBeforeDepartMinutes float64

	// SlackAtNextMinutes is the layover at C before Next's scheduled
	// departure. Only meaningful for WindowWithNextLeg.
	SlackAtNextMinutes float64

	// MeanAtDockMinutes is the historical mean turnaround for Curr's route.
	MeanAtDockMinutes float64
}

// BuildStats counts what the builder saw and why records were dropped.
type BuildStats struct {
	RecordsIn            int
	DroppedMissingFields int
	DroppedImplausible   int
	RejectedContinuity   int
	RejectedDuration     int
	RejectedNoPrior      int
	WindowsBuilt         int
}

// WindowBuilderConfig holds dependencies for the WindowBuilder.
type WindowBuilderConfig struct {
	Priors *priors.Config
	Logger zerolog.Logger
}

// WindowBuilder turns raw per-vessel trip history into validated windows.
type WindowBuilder struct {
	priors *priors.Config
	logger zerolog.Logger
}

// NewWindowBuilder creates a WindowBuilder.
func NewWindowBuilder(cfg WindowBuilderConfig) *WindowBuilder {
	return &WindowBuilder{priors: cfg.Priors, logger: cfg.Logger}
}

// Build produces training windows from raw trips. Windows are independent:
// no window's acceptance depends on another's.
func (b *WindowBuilder) Build(trips []history.VesselTrip) ([]TrainingWindow, BuildStats) {
	stats := BuildStats{RecordsIn: len(trips)}

	byVessel := make(map[int][]history.VesselTrip)
	var vesselIDs []int
	for _, t := range trips {
		if _, seen := byVessel[t.VesselID]; !seen {
			vesselIDs = append(vesselIDs, t.VesselID)
		}
		byVessel[t.VesselID] = append(byVessel[t.VesselID], t)
	}
	sort.Ints(vesselIDs)

	var windows []TrainingWindow
	for _, id := range vesselIDs {
		windows = append(windows, b.buildForVessel(id, byVessel[id], &stats)...)
	}

	stats.WindowsBuilt = len(windows)
	b.logger.Info().
		Int("records_in", stats.RecordsIn).
		Int("dropped_missing", stats.DroppedMissingFields).
		Int("dropped_implausible", stats.DroppedImplausible).
		Int("rejected_continuity", stats.RejectedContinuity).
		Int("rejected_duration", stats.RejectedDuration).
		Int("rejected_no_prior", stats.RejectedNoPrior).
		Int("windows", stats.WindowsBuilt).
		Msg("built training windows")

	return windows, stats
}

func (b *WindowBuilder) buildForVessel(vesselID int, trips []history.VesselTrip, stats *BuildStats) []TrainingWindow {
	sort.Slice(trips, func(i, j int) bool {
		return trips[i].ScheduledDepart.Before(trips[j].ScheduledDepart)
	})

	var legs []Leg
	for _, t := range trips {
		leg, ok := b.normalize(t)
		if !ok {
			stats.DroppedMissingFields++
			continue
		}
		if !b.plausible(leg) {
			stats.DroppedImplausible++
			continue
		}
		legs = append(legs, leg)
	}

	// A vessel with fewer than two usable trips produces no windows.
	var windows []TrainingWindow
	for i := 1; i < len(legs); i++ {
		w, ok := b.pairWindow(vesselID, legs[i-1], legs[i], stats)
		if !ok {
			continue
		}
		if i+1 < len(legs) {
			b.extendWithNext(&w, legs[i+1])
		}
		windows = append(windows, w)
	}
	return windows
}

// normalize resolves terminal codes and requires the fields every window
// needs. Missing data drops the record; nothing is inferred.
func (b *WindowBuilder) normalize(t history.VesselTrip) (Leg, bool) {
	if t.ScheduledDepart.IsZero() || t.ActualDepart.IsZero() {
		return Leg{}, false
	}
	from, ok := b.priors.TerminalCode(t.DepartingTerminal)
	if !ok {
		return Leg{}, false
	}
	to, ok := b.priors.TerminalCode(t.ArrivingTerminal)
	if !ok {
		return Leg{}, false
	}
	return Leg{
		From:               from,
		To:                 to,
		RouteKey:           priors.MakeRouteKey(from, to),
		ScheduledDepart:    t.ScheduledDepart,
		ActualDepart:       t.ActualDepart,
		ArrivalProxy:       t.EstimatedArrival,
		ArrivalProxySource: t.ArrivalProxySource,
	}, true
}

// plausible rejects records whose timestamps cannot be real: a departure
// well before its schedule, or a crossing far faster than the route's
// historical mean (a mis-recorded arrival).
func (b *WindowBuilder) plausible(leg Leg) bool {
	th := b.priors.Thresholds()

	tolerance := time.Duration(th.DepartureToleranceMinutes * float64(time.Minute))
	if leg.ActualDepart.Before(leg.ScheduledDepart.Add(-tolerance)) {
		return false
	}

	if leg.HasArrivalProxy() {
		if meanAtSea, ok := b.priors.MeanAtSea(leg.RouteKey); ok {
			atSea := leg.ArrivalProxy.Sub(leg.ActualDepart).Minutes()
			if atSea < th.AtSeaPlausibilityRatio*meanAtSea {
				return false
			}
		}
	}
	return true
}

// pairWindow validates the (prev, curr) pair and assembles the base window.
func (b *WindowBuilder) pairWindow(vesselID int, prev, curr Leg, stats *BuildStats) (TrainingWindow, bool) {
	th := b.priors.Thresholds()

	if prev.To != curr.From {
		stats.RejectedContinuity++
		return TrainingWindow{}, false
	}

	// Slack and at-dock duration need the arrival time at B.
	if !prev.HasArrivalProxy() {
		stats.DroppedMissingFields++
		return TrainingWindow{}, false
	}

	// The feature set draws on priors for both legs' routes.
	currPrior, ok := b.priors.Route(curr.RouteKey)
	if !ok {
		stats.RejectedNoPrior++
		return TrainingWindow{}, false
	}
	if _, ok := b.priors.Route(prev.RouteKey); !ok {
		stats.RejectedNoPrior++
		return TrainingWindow{}, false
	}

	atDock := curr.ActualDepart.Sub(prev.ArrivalProxy).Minutes()
	if atDock < th.MinAtDockMinutes || atDock > th.MaxAtDockMinutes {
		stats.RejectedDuration++
		return TrainingWindow{}, false
	}
	if curr.HasArrivalProxy() {
		atSea := curr.ArrivalProxy.Sub(curr.ActualDepart).Minutes()
		if atSea < th.MinAtSeaMinutes || atSea > th.MaxAtSeaMinutes {
			stats.RejectedDuration++
			return TrainingWindow{}, false
		}
		if atDock+atSea > th.MaxTotalMinutes {
			stats.RejectedDuration++
			return TrainingWindow{}, false
		}
	}

	slack := curr.ScheduledDepart.Sub(prev.ArrivalProxy).Minutes()
	slack = clamp(slack, 0, th.SlackClampFactor*currPrior.MeanAtDockMinutes)

	return TrainingWindow{
		Kind:                     WindowWithoutNextLeg,
		VesselID:                 vesselID,
		Prev:                     prev,
		Curr:                     curr,
		SlackBeforeDepartMinutes: slack,
		MeanAtDockMinutes:        currPrior.MeanAtDockMinutes,
	}, true
}

// extendWithNext upgrades the window to WindowWithNextLeg when the vessel's
// following trip is a normal turnaround at C: continuous, with a known
// prior, and bounded slack. Extended layovers stay two-leg windows.
func (b *WindowBuilder) extendWithNext(w *TrainingWindow, next Leg) {
	th := b.priors.Thresholds()

	if next.From != w.Curr.To {
		return
	}
	if !w.Curr.HasArrivalProxy() {
		return
	}
	meanAtDock, ok := b.priors.MeanAtDock(next.RouteKey)
	if !ok {
		return
	}

	slackAtNext := next.ScheduledDepart.Sub(w.Curr.ArrivalProxy).Minutes()
	maxSlack := min(th.NextLegSlackCapMinutes, th.SlackClampFactor*meanAtDock)
	if slackAtNext < 0 || slackAtNext > maxSlack {
		return
	}

	nextCopy := next
	w.Kind = WindowWithNextLeg
	w.Next = &nextCopy
	w.NextLegEligible = true
	w.SlackAtNextMinutes = slackAtNext
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
