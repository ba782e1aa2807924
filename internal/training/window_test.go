package training_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferrycast/ferrycast/internal/history"
	"github.com/ferrycast/ferrycast/internal/priors"
	"github.com/ferrycast/ferrycast/internal/training"
)

// testPriors covers a small two-terminal shuttle plus one extra terminal.
func testPriors() *priors.Config {
	terminals := map[string]string{
		"Seattle":           "SEA",
		"Bainbridge Island": "BAI",
		"Bremerton":         "BRE",
	}
	routes := map[priors.RouteKey]priors.RoutePrior{
		"SEA-BAI": {MeanAtDockMinutes: 18, MeanAtSeaMinutes: 35},
		"BAI-SEA": {MeanAtDockMinutes: 20, MeanAtSeaMinutes: 40},
	}
	return priors.New(terminals, routes, priors.DefaultThresholds())
}

// at builds a timestamp on a fixed weekday (Thursday 2025-05-01).
func at(h, m int) time.Time {
	return time.Date(2025, 5, 1, h, m, 0, 0, time.UTC)
}

func trip(vesselID int, from, to string, sched, actual, proxy time.Time) history.VesselTrip {
	t := history.VesselTrip{
		VesselID:          vesselID,
		DepartingTerminal: from,
		ArrivingTerminal:  to,
		ScheduledDepart:   sched,
		ActualDepart:      actual,
		EstimatedArrival:  proxy,
	}
	if !proxy.IsZero() {
		t.ArrivalProxySource = "eta"
	}
	return t
}

func newBuilder() *training.WindowBuilder {
	return training.NewWindowBuilder(training.WindowBuilderConfig{
		Priors: testPriors(),
		Logger: zerolog.Nop(),
	})
}

func TestWindowBuilder_TwoLegScenario(t *testing.T) {
	trips := []history.VesselTrip{
		trip(1, "Seattle", "Bainbridge Island", at(8, 0), at(8, 5), at(8, 50)),
		trip(1, "Bainbridge Island", "Seattle", at(9, 10), at(9, 12), at(9, 55)),
	}

	windows, stats := newBuilder().Build(trips)
	require.Len(t, windows, 1)
	assert.Equal(t, 1, stats.WindowsBuilt)

	w := windows[0]
	assert.Equal(t, training.WindowWithoutNextLeg, w.Kind)
	assert.Nil(t, w.Next)
	assert.False(t, w.NextLegEligible)
	assert.Equal(t, 1, w.VesselID)
	assert.Equal(t, "SEA", w.Prev.From)
	assert.Equal(t, "BAI", w.Prev.To)
	assert.Equal(t, "BAI", w.Curr.From)
	assert.Equal(t, "SEA", w.Curr.To)
	assert.Equal(t, w.Prev.To, w.Curr.From)

	// Slack is minutes(08:50 -> 09:10) clamped to [0, 1.5*20].
	assert.InDelta(t, 20.0, w.SlackBeforeDepartMinutes, 1e-9)
	assert.InDelta(t, 20.0, w.MeanAtDockMinutes, 1e-9)
}

func TestWindowBuilder_ContinuityViolation(t *testing.T) {
	// Vessel teleports: arrives at BAI but next trip departs from SEA... the
	// second trip claims SEA->BAI again with no BAI->SEA in between.
	trips := []history.VesselTrip{
		trip(1, "Seattle", "Bainbridge Island", at(8, 0), at(8, 5), at(8, 50)),
		trip(1, "Seattle", "Bainbridge Island", at(10, 0), at(10, 2), at(10, 45)),
	}

	windows, stats := newBuilder().Build(trips)
	assert.Empty(t, windows)
	assert.Equal(t, 1, stats.RejectedContinuity)
}

func TestWindowBuilder_SingleTripProducesNothing(t *testing.T) {
	trips := []history.VesselTrip{
		trip(1, "Seattle", "Bainbridge Island", at(8, 0), at(8, 5), at(8, 50)),
	}

	windows, _ := newBuilder().Build(trips)
	assert.Empty(t, windows)
}

func TestWindowBuilder_DropsUnmappedTerminal(t *testing.T) {
	trips := []history.VesselTrip{
		trip(1, "Tacoma", "Bainbridge Island", at(8, 0), at(8, 5), at(8, 50)),
		trip(1, "Bainbridge Island", "Seattle", at(9, 10), at(9, 12), at(9, 55)),
	}

	windows, stats := newBuilder().Build(trips)
	assert.Empty(t, windows)
	assert.Equal(t, 1, stats.DroppedMissingFields)
}

func TestWindowBuilder_DropsMissingDeparture(t *testing.T) {
	incomplete := trip(1, "Seattle", "Bainbridge Island", at(8, 0), time.Time{}, at(8, 50))
	trips := []history.VesselTrip{
		incomplete,
		trip(1, "Bainbridge Island", "Seattle", at(9, 10), at(9, 12), at(9, 55)),
	}

	windows, stats := newBuilder().Build(trips)
	assert.Empty(t, windows)
	assert.Equal(t, 1, stats.DroppedMissingFields)
}

func TestWindowBuilder_DropsEarlyDeparture(t *testing.T) {
	// Departed 10 minutes before schedule: beyond the 5 minute tolerance.
	trips := []history.VesselTrip{
		trip(1, "Seattle", "Bainbridge Island", at(8, 0), at(7, 50), at(8, 50)),
		trip(1, "Bainbridge Island", "Seattle", at(9, 10), at(9, 12), at(9, 55)),
	}

	windows, stats := newBuilder().Build(trips)
	assert.Empty(t, windows)
	assert.Equal(t, 1, stats.DroppedImplausible)
}

func TestWindowBuilder_DropsImplausiblyFastCrossing(t *testing.T) {
	// 20 minute crossing against a 40 minute historical mean (< 80%).
	trips := []history.VesselTrip{
		trip(1, "Seattle", "Bainbridge Island", at(8, 0), at(8, 5), at(8, 50)),
		trip(1, "Bainbridge Island", "Seattle", at(9, 10), at(9, 12), at(9, 32)),
	}

	windows, stats := newBuilder().Build(trips)
	assert.Empty(t, windows)
	assert.Equal(t, 1, stats.DroppedImplausible)
}

func TestWindowBuilder_RejectsAtDockOutOfBounds(t *testing.T) {
	// 135 minutes at dock exceeds the 120 minute cap.
	trips := []history.VesselTrip{
		trip(1, "Seattle", "Bainbridge Island", at(8, 0), at(8, 5), at(8, 50)),
		trip(1, "Bainbridge Island", "Seattle", at(11, 0), at(11, 5), at(11, 48)),
	}

	windows, stats := newBuilder().Build(trips)
	assert.Empty(t, windows)
	assert.Equal(t, 1, stats.RejectedDuration)
}

func TestWindowBuilder_RequiresPrevArrivalProxy(t *testing.T) {
	trips := []history.VesselTrip{
		trip(1, "Seattle", "Bainbridge Island", at(8, 0), at(8, 5), time.Time{}),
		trip(1, "Bainbridge Island", "Seattle", at(9, 10), at(9, 12), at(9, 55)),
	}

	windows, _ := newBuilder().Build(trips)
	assert.Empty(t, windows)
}

func TestWindowBuilder_NextLegEligible(t *testing.T) {
	trips := []history.VesselTrip{
		trip(1, "Seattle", "Bainbridge Island", at(8, 0), at(8, 5), at(8, 50)),
		trip(1, "Bainbridge Island", "Seattle", at(9, 10), at(9, 12), at(9, 55)),
		trip(1, "Seattle", "Bainbridge Island", at(10, 20), at(10, 22), at(11, 0)),
	}

	windows, _ := newBuilder().Build(trips)
	require.Len(t, windows, 2)

	first := windows[0]
	assert.Equal(t, training.WindowWithNextLeg, first.Kind)
	require.NotNil(t, first.Next)
	assert.True(t, first.NextLegEligible)
	assert.Equal(t, "SEA", first.Next.From)
	// Slack at C: minutes(09:55 -> 10:20), under min(720, 1.5*18).
	assert.InDelta(t, 25.0, first.SlackAtNextMinutes, 1e-9)

	// The trailing pair has no following trip.
	second := windows[1]
	assert.Equal(t, training.WindowWithoutNextLeg, second.Kind)
	assert.False(t, second.NextLegEligible)
}

func TestWindowBuilder_ExtendedLayoverStaysTwoLeg(t *testing.T) {
	// Next departure is 3+ hours after arrival at C: an extended layover,
	// not a turnaround.
	trips := []history.VesselTrip{
		trip(1, "Seattle", "Bainbridge Island", at(8, 0), at(8, 5), at(8, 50)),
		trip(1, "Bainbridge Island", "Seattle", at(9, 10), at(9, 12), at(9, 55)),
		trip(1, "Seattle", "Bainbridge Island", at(13, 0), at(13, 2), at(13, 40)),
	}

	windows, _ := newBuilder().Build(trips)
	require.NotEmpty(t, windows)

	first := windows[0]
	assert.Equal(t, training.WindowWithoutNextLeg, first.Kind)
	assert.Nil(t, first.Next)
	assert.False(t, first.NextLegEligible)
}

func TestWindowBuilder_SlackClampedToZero(t *testing.T) {
	// Vessel arrived at B after the scheduled departure of the next leg.
	trips := []history.VesselTrip{
		trip(1, "Seattle", "Bainbridge Island", at(8, 30), at(8, 35), at(9, 20)),
		trip(1, "Bainbridge Island", "Seattle", at(9, 10), at(9, 30), at(10, 15)),
	}

	windows, _ := newBuilder().Build(trips)
	require.Len(t, windows, 1)
	assert.Zero(t, windows[0].SlackBeforeDepartMinutes)
}

func TestWindowBuilder_VesselsAreIndependent(t *testing.T) {
	trips := []history.VesselTrip{
		// Vessel 1: usable pair.
		trip(1, "Seattle", "Bainbridge Island", at(8, 0), at(8, 5), at(8, 50)),
		trip(1, "Bainbridge Island", "Seattle", at(9, 10), at(9, 12), at(9, 55)),
		// Vessel 2: a lone trip, no window.
		trip(2, "Seattle", "Bainbridge Island", at(8, 15), at(8, 16), at(9, 0)),
	}

	windows, _ := newBuilder().Build(trips)
	require.Len(t, windows, 1)
	assert.Equal(t, 1, windows[0].VesselID)
}
