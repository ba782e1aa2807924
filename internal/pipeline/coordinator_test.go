package pipeline_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/ferrycast/ferrycast/internal/history"
	"github.com/ferrycast/ferrycast/internal/modelstore"
	"github.com/ferrycast/ferrycast/internal/pipeline"
	"github.com/ferrycast/ferrycast/internal/priors"
	"github.com/ferrycast/ferrycast/internal/training"
)

type stubLoader struct {
	trips   []history.VesselTrip
	err     error
	started chan struct{}
	release chan struct{}
}

func (l *stubLoader) LoadFleetHistory(ctx context.Context, _ history.DateRange) ([]history.VesselTrip, error) {
	if l.started != nil {
		close(l.started)
	}
	if l.release != nil {
		select {
		case <-l.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return l.trips, l.err
}

func shuttlePriors() *priors.Config {
	terminals := map[string]string{
		"Seattle":           "SEA",
		"Bainbridge Island": "BAI",
	}
	routes := map[priors.RouteKey]priors.RoutePrior{
		"SEA-BAI": {MeanAtDockMinutes: 20, MeanAtSeaMinutes: 35},
		"BAI-SEA": {MeanAtDockMinutes: 20, MeanAtSeaMinutes: 35},
	}
	return priors.New(terminals, routes, priors.DefaultThresholds())
}

// shuttleTrips produces n back-and-forth crossings: 55 minutes between
// scheduled departures, 2 minutes of departure delay, 35 minutes at sea.
func shuttleTrips(n int) []history.VesselTrip {
	base := time.Date(2025, 4, 1, 5, 0, 0, 0, time.UTC)

	trips := make([]history.VesselTrip, 0, n)
	for i := 0; i < n; i++ {
		from, to := "Seattle", "Bainbridge Island"
		if i%2 == 1 {
			from, to = to, from
		}
		sched := base.Add(time.Duration(i) * 55 * time.Minute)
		actual := sched.Add(2 * time.Minute)
		trips = append(trips, history.VesselTrip{
			VesselID:           1,
			VesselName:         "Wenatchee",
			DepartingTerminal:  from,
			ArrivingTerminal:   to,
			ScheduledDepart:    sched,
			ActualDepart:       actual,
			EstimatedArrival:   actual.Add(35 * time.Minute),
			ArrivalProxySource: "eta",
		})
	}
	return trips
}

func newCoordinator(t *testing.T, loader pipeline.HistoryLoader, repo modelstore.Repository) *pipeline.Coordinator {
	t.Helper()

	coord, err := pipeline.NewCoordinator(pipeline.CoordinatorConfig{
		Priors:  shuttlePriors(),
		History: loader,
		Models:  repo,
		Logger:  zerolog.Nop(),
		Meter:   metricnoop.NewMeterProvider().Meter("test"),
		Tracer:  tracenoop.NewTracerProvider().Tracer("test"),
	})
	require.NoError(t, err)
	return coord
}

func TestCoordinator_FullRun(t *testing.T) {
	repo := modelstore.NewInMemoryRepository()
	loader := &stubLoader{trips: shuttleTrips(60)}
	coord := newCoordinator(t, loader, repo)

	report, err := coord.Run(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 60, report.TripsLoaded)
	assert.Equal(t, 59, report.WindowsBuilt)
	assert.Equal(t, 59, report.RecordsExtracted)
	assert.Equal(t, 2, report.BucketsFormed)

	// Two routes, four model types each.
	assert.Equal(t, 8, report.ModelsTrained)
	assert.Zero(t, report.ModelsSkipped)
	assert.Zero(t, report.ModelsFailed)
	assert.Empty(t, report.Failures)

	models, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 8)

	// A steady 2-minute delay is easy to model.
	dc, err := repo.Get(context.Background(), "SEA-BAI", training.ModelDepartCurrent)
	require.NoError(t, err)
	assert.Equal(t, training.AtDockFeatureKeys(), dc.FeatureKeys)
	assert.Less(t, dc.MAE, 1.0)
	assert.False(t, dc.TrainedAt.IsZero())

	assert.Equal(t, report, coord.LastReport())
}

func TestCoordinator_SparseDataSkips(t *testing.T) {
	repo := modelstore.NewInMemoryRepository()
	// 20 trips yield under 20 windows per route.
	loader := &stubLoader{trips: shuttleTrips(20)}
	coord := newCoordinator(t, loader, repo)

	report, err := coord.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, report.ModelsTrained)
	assert.Equal(t, 8, report.ModelsSkipped)
	assert.Zero(t, report.ModelsFailed)

	models, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, models)
}

func TestCoordinator_LoadFailureIsFatal(t *testing.T) {
	repo := modelstore.NewInMemoryRepository()
	loader := &stubLoader{err: &history.FetchError{VesselID: 7, Err: errors.New("boom")}}
	coord := newCoordinator(t, loader, repo)

	report, err := coord.Run(context.Background())
	require.Error(t, err)

	var fetchErr *history.FetchError
	assert.ErrorAs(t, err, &fetchErr)

	require.NotNil(t, report)
	assert.NotEmpty(t, report.FatalError)
	assert.Zero(t, report.TripsLoaded)
	assert.Zero(t, report.ModelsTrained)

	models, listErr := repo.List(context.Background())
	require.NoError(t, listErr)
	assert.Empty(t, models)
}

// failingUpsertRepo rejects writes for one route and delegates the rest.
type failingUpsertRepo struct {
	modelstore.Repository
	failRoute priors.RouteKey
}

func (r *failingUpsertRepo) Upsert(ctx context.Context, m *modelstore.ModelParameters) error {
	if m.RouteKey == r.failRoute {
		return errors.New("connection reset")
	}
	return r.Repository.Upsert(ctx, m)
}

func TestCoordinator_UnitFailuresDoNotAbortRun(t *testing.T) {
	inner := modelstore.NewInMemoryRepository()
	repo := &failingUpsertRepo{Repository: inner, failRoute: "SEA-BAI"}
	loader := &stubLoader{trips: shuttleTrips(60)}
	coord := newCoordinator(t, loader, repo)

	report, err := coord.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.FatalError)

	// The broken route fails all four model types, the other route is
	// unaffected.
	assert.Equal(t, 4, report.ModelsTrained)
	assert.Equal(t, 4, report.ModelsFailed)
	assert.Zero(t, report.ModelsSkipped)

	require.Len(t, report.Failures, 4)
	for _, f := range report.Failures {
		assert.Equal(t, priors.RouteKey("SEA-BAI"), f.RouteKey)
		assert.True(t, strings.Contains(f.Error, "persisting model"), f.Error)
	}

	models, err := inner.List(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 4)
	for _, m := range models {
		assert.Equal(t, priors.RouteKey("BAI-SEA"), m.RouteKey)
	}
}

func TestCoordinator_TrainErrorRecordedPerUnit(t *testing.T) {
	repo := modelstore.NewInMemoryRepository()
	loader := &stubLoader{trips: shuttleTrips(60)}

	coord, err := pipeline.NewCoordinator(pipeline.CoordinatorConfig{
		Priors:     shuttlePriors(),
		History:    loader,
		Models:     repo,
		Logger:     zerolog.Nop(),
		Meter:      metricnoop.NewMeterProvider().Meter("test"),
		Tracer:     tracenoop.NewTracerProvider().Tracer("test"),
		ModelTypes: []training.ModelType{training.ModelDepartCurrent, training.ModelType("bogus")},
	})
	require.NoError(t, err)

	report, err := coord.Run(context.Background())
	require.NoError(t, err)

	// One good and one bad model type per bucket.
	assert.Equal(t, 2, report.ModelsTrained)
	assert.Equal(t, 2, report.ModelsFailed)
	require.Len(t, report.Failures, 2)
	for _, f := range report.Failures {
		assert.Equal(t, training.ModelType("bogus"), f.ModelType)
	}

	models, listErr := repo.List(context.Background())
	require.NoError(t, listErr)
	assert.Len(t, models, 2)
}

func TestCoordinator_ReportImmutableAfterPublish(t *testing.T) {
	repo := modelstore.NewInMemoryRepository()
	loader := &stubLoader{err: errors.New("history unavailable")}
	coord := newCoordinator(t, loader, repo)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if r := coord.LastReport(); r != nil {
					_ = r.FatalError
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		report, err := coord.Run(context.Background())
		require.Error(t, err)
		assert.NotEmpty(t, report.FatalError)
	}

	close(stop)
	wg.Wait()
}

func TestCoordinator_RejectsOverlappingRuns(t *testing.T) {
	repo := modelstore.NewInMemoryRepository()
	loader := &stubLoader{
		trips:   shuttleTrips(60),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	coord := newCoordinator(t, loader, repo)

	done := make(chan error, 1)
	go func() {
		_, err := coord.Run(context.Background())
		done <- err
	}()

	<-loader.started
	assert.True(t, coord.Running())

	_, err := coord.Run(context.Background())
	assert.ErrorIs(t, err, pipeline.ErrRunInProgress)

	close(loader.release)
	require.NoError(t, <-done)
	assert.False(t, coord.Running())
}
