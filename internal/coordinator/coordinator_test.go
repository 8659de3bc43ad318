package coordinator

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexzouz/ha-linky/internal/api"
	"github.com/alexzouz/ha-linky/internal/cost"
	"github.com/alexzouz/ha-linky/internal/database/mocks"
	"github.com/alexzouz/ha-linky/internal/metrics"
	"github.com/alexzouz/ha-linky/internal/models"
)

const (
	testPRM    = "12345678901234"
	energyID   = "linky:12345678901234"
	costID     = "linky:12345678901234_cost"
	prodID     = "linky_prod:12345678901234"
	testMinute = 10
	testSecond = 20
)

type fakeFetcher struct {
	mu       sync.Mutex
	readings []models.RawReading
	err      error
	panicMsg string
	calls    int
	since    []*time.Time
}

func (f *fakeFetcher) Fetch(_ context.Context, _ bool, since *time.Time) ([]models.RawReading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.since = append(f.since, since)
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return f.readings, f.err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type stubPrices struct {
	mu      sync.Mutex
	samples []models.PriceSample
	starts  []time.Time
}

func (s *stubPrices) History(_ context.Context, _ string, start, _ time.Time) ([]models.PriceSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts = append(s.starts, start)
	return s.samples, nil
}

func paris(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)
	return loc
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func price(v float64) *float64 { return &v }

func flatRules(t *testing.T, p float64) []cost.Rule {
	t.Helper()
	rules, err := cost.ParseRules([]cost.RuleConfig{{Price: price(p)}})
	require.NoError(t, err)
	return rules
}

func daily(values ...string) []models.RawReading {
	var out []models.RawReading
	for i := 0; i+1 < len(values); i += 2 {
		out = append(out, models.RawReading{Date: values[i], Value: models.Measure(values[i+1])})
	}
	return out
}

func newTestCoordinator(t *testing.T, meter Meter, f HistoryFetcher, store *mocks.MockStatisticsStore, now time.Time, opts ...Option) *Coordinator {
	t.Helper()
	base := []Option{
		WithLocation(now.Location()),
		WithLogger(quietLogger()),
		WithClock(func() time.Time { return now }),
		WithJitter(testMinute, testSecond),
	}
	return New(meter, f, store, append(base, opts...)...)
}

// recordWrites captures every WriteStatistics call keyed by series id.
func recordWrites(store *mocks.MockStatisticsStore, times int) map[string][]models.StatisticPoint {
	written := make(map[string][]models.StatisticPoint)
	store.EXPECT().
		WriteStatistics(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, md models.SeriesMetadata, points []models.StatisticPoint) error {
			written[md.StatisticID] = points
			return nil
		}).
		Times(times)
	return written
}

func TestSync_InitialImport(t *testing.T) {
	loc := paris(t)
	now := time.Date(2024, 6, 30, 7, 0, 0, 0, loc)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStatisticsStore(ctrl)

	store.EXPECT().HasAnyStatistic(gomock.Any(), energyID).Return(false, nil)
	written := recordWrites(store, 2)

	f := &fakeFetcher{readings: daily("2024-06-01", "1000", "2024-06-02", "2000")}
	c := newTestCoordinator(t, Meter{PRM: testPRM, Name: "Linky", Rules: flatRules(t, 0.2)}, f, store, now)

	require.NoError(t, c.Sync(context.Background()))

	require.Len(t, f.since, 1)
	assert.Nil(t, f.since[0])

	energy := written[energyID]
	require.Len(t, energy, 2)
	assert.True(t, energy[0].Start.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, loc)))
	assert.Equal(t, 1000.0, energy[0].Sum)
	assert.Equal(t, 3000.0, energy[1].Sum)

	costs := written[costID]
	require.Len(t, costs, 2)
	assert.Equal(t, 0.2, costs[0].State)
	assert.InDelta(t, 0.6, costs[1].Sum, 1e-9)

	snap := c.Snapshot()
	assert.Equal(t, StatusOK, snap.Status)
	assert.Equal(t, StateDone, snap.State)
	assert.True(t, snap.LastSync.Equal(now))
	assert.Empty(t, snap.LastError)
}

func TestSync_InitialImportWithoutHistory(t *testing.T) {
	now := time.Date(2024, 6, 30, 7, 0, 0, 0, paris(t))
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStatisticsStore(ctrl)
	store.EXPECT().HasAnyStatistic(gomock.Any(), energyID).Return(false, nil)

	c := newTestCoordinator(t, Meter{PRM: testPRM, Name: "Linky"}, &fakeFetcher{}, store, now)

	require.NoError(t, c.Sync(context.Background()))
	assert.Equal(t, StatusOK, c.Snapshot().Status)
}

func TestSync_IncrementalContinuesSums(t *testing.T) {
	loc := paris(t)
	now := time.Date(2024, 6, 30, 7, 0, 0, 0, loc)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStatisticsStore(ctrl)

	lastStart := time.Date(2024, 6, 27, 0, 0, 0, 0, loc).UTC()
	store.EXPECT().HasAnyStatistic(gomock.Any(), energyID).Return(true, nil)
	store.EXPECT().GetLastStatistic(gomock.Any(), energyID).
		Return(&models.StatisticPoint{Start: lastStart, State: 10, Sum: 5000}, nil)
	store.EXPECT().GetLastStatistic(gomock.Any(), costID).
		Return(&models.StatisticPoint{Start: lastStart, State: 1, Sum: 10}, nil)
	written := recordWrites(store, 2)

	f := &fakeFetcher{readings: daily("2024-06-28", "100")}
	c := newTestCoordinator(t, Meter{PRM: testPRM, Name: "Linky", Rules: flatRules(t, 0.2)}, f, store, now)

	require.NoError(t, c.Sync(context.Background()))

	require.Len(t, f.since, 1)
	require.NotNil(t, f.since[0])
	assert.True(t, f.since[0].Equal(time.Date(2024, 6, 28, 0, 0, 0, 0, loc)))

	require.Len(t, written[energyID], 1)
	assert.Equal(t, 5100.0, written[energyID][0].Sum)
	require.Len(t, written[costID], 1)
	assert.InDelta(t, 10.02, written[costID][0].Sum, 1e-9)
}

func TestSync_IncrementalSkipsWhenUpToDate(t *testing.T) {
	loc := paris(t)
	tests := []struct {
		name      string
		now       time.Time
		lastStart time.Time
	}{
		{"before six", time.Date(2024, 6, 30, 5, 0, 0, 0, loc), time.Date(2024, 6, 27, 0, 0, 0, 0, loc)},
		{"recent data", time.Date(2024, 6, 30, 10, 0, 0, 0, loc), time.Date(2024, 6, 29, 0, 0, 0, 0, loc)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			store := mocks.NewMockStatisticsStore(ctrl)
			store.EXPECT().HasAnyStatistic(gomock.Any(), energyID).Return(true, nil)
			store.EXPECT().GetLastStatistic(gomock.Any(), energyID).
				Return(&models.StatisticPoint{Start: tt.lastStart, Sum: 1}, nil)

			f := &fakeFetcher{}
			c := newTestCoordinator(t, Meter{PRM: testPRM, Name: "Linky"}, f, store, tt.now)

			require.NoError(t, c.Sync(context.Background()))
			assert.Zero(t, f.callCount())
			assert.Equal(t, StatusOK, c.Snapshot().Status)
		})
	}
}

func TestSync_IncrementalWithoutLastStatistic(t *testing.T) {
	now := time.Date(2024, 6, 30, 7, 0, 0, 0, paris(t))
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStatisticsStore(ctrl)
	store.EXPECT().HasAnyStatistic(gomock.Any(), energyID).Return(true, nil)
	store.EXPECT().GetLastStatistic(gomock.Any(), energyID).Return(nil, nil)

	f := &fakeFetcher{}
	c := newTestCoordinator(t, Meter{PRM: testPRM, Name: "Linky"}, f, store, now)

	require.NoError(t, c.Sync(context.Background()))
	assert.Zero(t, f.callCount())
}

func TestNeedsSync(t *testing.T) {
	loc := paris(t)
	at := func(day, hour int) time.Time { return time.Date(2024, 6, day, hour, 0, 0, 0, loc) }

	tests := []struct {
		name string
		last time.Time
		now  time.Time
		want bool
	}{
		{"three days old at seven", at(27, 0), at(30, 7), true},
		{"three days old at five", at(27, 0), at(30, 5), false},
		{"one day old", at(29, 0), at(30, 10), false},
		{"exactly two days old", at(28, 10), at(30, 10), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NeedsSync(tt.last, tt.now))
		})
	}
}

func TestSync_AlreadyRunning(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStatisticsStore(ctrl)
	c := newTestCoordinator(t, Meter{PRM: testPRM}, &fakeFetcher{}, store, time.Now())

	c.running.Store(true)
	assert.ErrorIs(t, c.Sync(context.Background()), ErrSyncInProgress)
	assert.Equal(t, StatusPending, c.Snapshot().Status)
	assert.Equal(t, StateIdle, c.Snapshot().State)
}

func TestSync_RecoversPanic(t *testing.T) {
	now := time.Date(2024, 6, 30, 7, 0, 0, 0, paris(t))
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStatisticsStore(ctrl)
	store.EXPECT().HasAnyStatistic(gomock.Any(), energyID).Return(false, nil)

	var got []Snapshot
	c := newTestCoordinator(t, Meter{PRM: testPRM}, &fakeFetcher{panicMsg: "boom"}, store, now,
		WithStatusListener(func(s Snapshot) { got = append(got, s) }))

	err := c.Sync(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.False(t, c.running.Load())

	require.Len(t, got, 1)
	assert.Equal(t, StatusError, got[0].Status)
	assert.Contains(t, got[0].LastError, "boom")
}

func TestSync_FailureSetsStatus(t *testing.T) {
	now := time.Date(2024, 6, 30, 7, 0, 0, 0, paris(t))

	t.Run("store", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockStatisticsStore(ctrl)
		store.EXPECT().HasAnyStatistic(gomock.Any(), energyID).Return(false, errors.New("db down"))

		c := newTestCoordinator(t, Meter{PRM: testPRM}, &fakeFetcher{}, store, now)
		assert.EqualError(t, c.Sync(context.Background()), "db down")
		assert.Equal(t, "db down", c.Snapshot().LastError)
		assert.True(t, c.Snapshot().LastSync.IsZero())
	})

	t.Run("auth", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockStatisticsStore(ctrl)
		store.EXPECT().HasAnyStatistic(gomock.Any(), energyID).Return(false, nil)

		c := newTestCoordinator(t, Meter{PRM: testPRM}, &fakeFetcher{err: api.ErrAuth}, store, now)
		assert.ErrorIs(t, c.Sync(context.Background()), api.ErrAuth)
		assert.Equal(t, StatusError, c.Snapshot().Status)
	})
}

func TestSync_EntityPrices(t *testing.T) {
	loc := paris(t)
	now := time.Date(2024, 6, 30, 7, 0, 0, 0, loc)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStatisticsStore(ctrl)
	store.EXPECT().HasAnyStatistic(gomock.Any(), energyID).Return(false, nil)
	written := recordWrites(store, 2)

	rules, err := cost.ParseRules([]cost.RuleConfig{{EntityID: "sensor.tempo_price"}})
	require.NoError(t, err)
	prices := &stubPrices{samples: []models.PriceSample{
		{Time: time.Date(2024, 5, 31, 0, 0, 0, 0, loc), Value: 15, Unit: "c€/kWh"},
	}}

	c := newTestCoordinator(t, Meter{PRM: testPRM, Name: "Linky", Rules: rules},
		&fakeFetcher{readings: daily("2024-06-01", "1000")}, store, now, WithPriceProvider(prices))

	require.NoError(t, c.Sync(context.Background()))

	require.Len(t, prices.starts, 1)
	assert.True(t, prices.starts[0].Equal(time.Date(2024, 5, 31, 0, 0, 0, 0, loc)))
	require.Len(t, written[costID], 1)
	assert.Equal(t, 0.15, written[costID][0].State)
}

func TestSync_RecordsMetrics(t *testing.T) {
	now := time.Date(2024, 6, 30, 7, 0, 0, 0, paris(t))
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStatisticsStore(ctrl)
	store.EXPECT().HasAnyStatistic(gomock.Any(), energyID).Return(false, nil)
	recordWrites(store, 1)

	reg := prometheus.NewRegistry()
	c := newTestCoordinator(t, Meter{PRM: testPRM, Name: "Linky"},
		&fakeFetcher{readings: daily("2024-06-01", "1000")}, store, now, WithMetrics(metrics.New(reg)))
	require.NoError(t, c.Sync(context.Background()))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["linky_sync_runs_total"])
	assert.True(t, names["linky_statistic_points_written_total"])
}

func TestCoordinator_IDs(t *testing.T) {
	c := New(Meter{PRM: testPRM, Production: true}, &fakeFetcher{}, nil, WithJitter(1, 2))
	assert.Equal(t, prodID, c.ID())
	assert.Equal(t, prodID+"_cost", c.CostID())
	m, s := c.Jitter()
	assert.Equal(t, 1, m)
	assert.Equal(t, 2, s)

	r := New(Meter{PRM: testPRM}, &fakeFetcher{}, nil)
	m, s = r.Jitter()
	assert.True(t, m >= 0 && m <= 58)
	assert.True(t, s >= 0 && s <= 58)
}
