package training

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ferrycast/ferrycast/internal/priors"
)

// Feature keys. The key set per tier is fixed: every record carries every
// key, so models trained from different buckets are structurally comparable.
const (
	featWeekend         = "weekend"
	featSlack           = "slack_before_depart_min"
	featRouteMeanAtDock = "route_mean_at_dock_min"
	featRouteMeanAtSea  = "route_mean_at_sea_min"
	featPrevArriveLate  = "prev_arrival_late_min"
	featPrevArriveEarly = "prev_arrival_early_min"
	featPrevDelay       = "prev_depart_delay_min"
	featPrevAtSea       = "prev_at_sea_min"
	featPressure        = "schedule_pressure_min"

	// Post-departure actuals, available only in the at-sea tier.
	featCurrDelay  = "curr_depart_delay_min"
	featCurrAtDock = "curr_at_dock_min"
)

// Time-of-day radial basis: one Gaussian activation per even hour.
const (
	timeFeatureCount  = 12
	timeCenterSpacing = 2.0
	timeSigma         = 1.0
)

// Targets holds the prediction targets for one record. Pointer fields are
// nil when the underlying timestamp was unavailable.
type Targets struct {
	// DepartCurrMinutes is the current leg's departure delay.
	DepartCurrMinutes float64

	// ArriveNextFromScheduledMinutes / ArriveNextFromActualMinutes measure
	// time to the arrival proxy at C from scheduled and actual departure.
	ArriveNextFromScheduledMinutes *float64
	ArriveNextFromActualMinutes    *float64

	// DepartNextFromNextScheduledMinutes is the next leg's departure delay,
	// present only for eligible three-leg windows.
	DepartNextFromNextScheduledMinutes *float64
}

// FeatureRecord is one training example: two leakage-tiered feature sets and
// the targets derived from one window.
type FeatureRecord struct {
	RouteKey        priors.RouteKey
	ScheduledDepart time.Time
	NextLegEligible bool

	// AtDock holds features knowable on arrival at B, before departure.
	// Nothing here derives from Curr.ActualDepart or later.
	AtDock map[string]float64

	// AtSea extends AtDock with post-departure actuals; its key set is a
	// strict superset of AtDock's.
	AtSea map[string]float64

	Targets Targets
}

// AtDockFeatureKeys returns the canonical at-dock key set, sorted.
func AtDockFeatureKeys() []string {
	keys := []string{
		featWeekend, featSlack, featRouteMeanAtDock, featRouteMeanAtSea,
		featPrevArriveLate, featPrevArriveEarly, featPrevDelay, featPrevAtSea,
		featPressure,
	}
	for i := 0; i < timeFeatureCount; i++ {
		keys = append(keys, timeFeatureKey(i))
	}
	sort.Strings(keys)
	return keys
}

// AtSeaFeatureKeys returns the canonical at-sea key set, sorted.
func AtSeaFeatureKeys() []string {
	keys := append(AtDockFeatureKeys(), featCurrDelay, featCurrAtDock)
	sort.Strings(keys)
	return keys
}

func timeFeatureKey(i int) string {
	return fmt.Sprintf("tod_rbf_%02d", i*int(timeCenterSpacing))
}

// FeatureExtractor maps windows to feature records. It is a pure function of
// the window and the injected priors.
type FeatureExtractor struct {
	priors *priors.Config
}

// NewFeatureExtractor creates a FeatureExtractor.
func NewFeatureExtractor(p *priors.Config) *FeatureExtractor {
	return &FeatureExtractor{priors: p}
}

// Extract derives the feature record for one window.
func (e *FeatureExtractor) Extract(w TrainingWindow) FeatureRecord {
	atDock := e.atDockFeatures(w)

	// Post-departure actuals: only knowable once the vessel has left B.
	atSea := mergeFeatures(atDock, map[string]float64{
		featCurrDelay:  minutesBetween(w.Curr.ScheduledDepart, w.Curr.ActualDepart),
		featCurrAtDock: minutesBetween(w.Prev.ArrivalProxy, w.Curr.ActualDepart),
	})

	return FeatureRecord{
		RouteKey:        w.Curr.RouteKey,
		ScheduledDepart: w.Curr.ScheduledDepart,
		NextLegEligible: w.NextLegEligible,
		AtDock:          atDock,
		AtSea:           atSea,
		Targets:         e.targets(w),
	}
}

func (e *FeatureExtractor) atDockFeatures(w TrainingWindow) map[string]float64 {
	features := make(map[string]float64, timeFeatureCount+9)

	addTimeOfDayFeatures(features, w.Curr.ScheduledDepart)

	features[featWeekend] = 0
	switch w.Curr.ScheduledDepart.Weekday() {
	case time.Saturday, time.Sunday:
		features[featWeekend] = 1
	}

	features[featSlack] = w.SlackBeforeDepartMinutes

	currPrior, _ := e.priors.Route(w.Curr.RouteKey)
	features[featRouteMeanAtDock] = currPrior.MeanAtDockMinutes
	features[featRouteMeanAtSea] = currPrior.MeanAtSeaMinutes

	// Deviation of the actual arrival at B from the crossing-time estimate,
	// split into non-negative late/early components.
	prevMeanAtSea, _ := e.priors.MeanAtSea(w.Prev.RouteKey)
	estimatedArrival := w.Prev.ScheduledDepart.Add(durationMinutes(prevMeanAtSea))
	deviation := minutesBetween(estimatedArrival, w.Prev.ArrivalProxy)
	features[featPrevArriveLate] = math.Max(0, deviation)
	features[featPrevArriveEarly] = math.Max(0, -deviation)

	features[featPrevDelay] = minutesBetween(w.Prev.ScheduledDepart, w.Prev.ActualDepart)
	features[featPrevAtSea] = minutesBetween(w.Prev.ActualDepart, w.Prev.ArrivalProxy)

	// Pressure rises as the available dock time shrinks below the norm.
	features[featPressure] = math.Max(0, w.MeanAtDockMinutes-w.SlackBeforeDepartMinutes)

	return features
}

func (e *FeatureExtractor) targets(w TrainingWindow) Targets {
	t := Targets{
		DepartCurrMinutes: minutesBetween(w.Curr.ScheduledDepart, w.Curr.ActualDepart),
	}

	if w.Curr.HasArrivalProxy() {
		fromScheduled := minutesBetween(w.Curr.ScheduledDepart, w.Curr.ArrivalProxy)
		fromActual := minutesBetween(w.Curr.ActualDepart, w.Curr.ArrivalProxy)
		t.ArriveNextFromScheduledMinutes = &fromScheduled
		t.ArriveNextFromActualMinutes = &fromActual
	}

	if w.NextLegEligible && w.Next != nil {
		departNext := minutesBetween(w.Next.ScheduledDepart, w.Next.ActualDepart)
		t.DepartNextFromNextScheduledMinutes = &departNext
	}

	return t
}

// addTimeOfDayFeatures writes 12 Gaussian activations centered every two
// hours. Distance is circular so 23:00 and 01:00 are two hours apart.
func addTimeOfDayFeatures(features map[string]float64, at time.Time) {
	hour := float64(at.Hour()) + float64(at.Minute())/60
	for i := 0; i < timeFeatureCount; i++ {
		center := float64(i) * timeCenterSpacing
		d := math.Abs(hour - center)
		d = math.Min(d, 24-d)
		features[timeFeatureKey(i)] = math.Exp(-(d * d) / (2 * timeSigma * timeSigma))
	}
}

// mergeFeatures copies base and overlays extra, keeping the at-sea tier a
// superset of the at-dock tier without sharing map storage.
func mergeFeatures(base, extra map[string]float64) map[string]float64 {
	merged := make(map[string]float64, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

func minutesBetween(from, to time.Time) float64 {
	return to.Sub(from).Minutes()
}

func durationMinutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}
