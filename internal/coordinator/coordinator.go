// Package coordinator runs the sync of one meter direction: it decides
// between a first full import and an incremental catch-up, feeds the
// fetched readings through the statistics pipeline, prices them when cost
// rules are configured and writes both series to the store.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/alexzouz/ha-linky/internal/cost"
	"github.com/alexzouz/ha-linky/internal/database"
	"github.com/alexzouz/ha-linky/internal/metrics"
	"github.com/alexzouz/ha-linky/internal/models"
	"github.com/alexzouz/ha-linky/internal/pricehistory"
	"github.com/alexzouz/ha-linky/internal/statistics"
)

var ErrSyncInProgress = errors.New("sync already in progress")

const (
	// Data younger than this is not final on the provider side yet.
	settleDelay = 48 * time.Hour
	// Syncs before this local hour are skipped; the provider publishes
	// the previous day in the early morning.
	firstSyncHour = 6
	// Jitter minute and second are drawn in [0, maxJitter].
	maxJitter = 58
)

type State string

const (
	StateIdle               State = "idle"
	StateDeterminingMode    State = "determining-mode"
	StateInitializing       State = "initializing"
	StateIncrementalSyncing State = "incremental-syncing"
	StateDone               State = "done"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusOK      Status = "ok"
	StatusError   Status = "error"
)

// HistoryFetcher retrieves raw readings for one direction, optionally
// starting at since.
type HistoryFetcher interface {
	Fetch(ctx context.Context, production bool, since *time.Time) ([]models.RawReading, error)
}

type Meter struct {
	PRM        string
	Name       string
	Production bool
	Rules      []cost.Rule
}

// Snapshot is a point-in-time view of a coordinator.
type Snapshot struct {
	ID         string    `json:"id"`
	PRM        string    `json:"prm"`
	Name       string    `json:"name"`
	Production bool      `json:"production"`
	State      State     `json:"state"`
	Status     Status    `json:"status"`
	LastSync   time.Time `json:"last_sync,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// StatusListener is notified after every run.
type StatusListener func(Snapshot)

type Coordinator struct {
	meter   Meter
	fetcher HistoryFetcher
	store   database.StatisticsStore
	prices  pricehistory.Provider

	loc     *time.Location
	logger  *logrus.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	jitterMinute int
	jitterSecond int

	running   atomic.Bool
	mu        sync.RWMutex
	state     State
	status    Status
	lastSync  time.Time
	lastErr   error
	listeners []StatusListener
}

type Option func(*Coordinator)

func WithPriceProvider(p pricehistory.Provider) Option {
	return func(c *Coordinator) { c.prices = p }
}

func WithLocation(loc *time.Location) Option {
	return func(c *Coordinator) { c.loc = loc }
}

func WithLogger(l *logrus.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithJitter fixes the trigger offset instead of drawing it at random.
func WithJitter(minute, second int) Option {
	return func(c *Coordinator) {
		c.jitterMinute = minute
		c.jitterSecond = second
	}
}

func WithStatusListener(l StatusListener) Option {
	return func(c *Coordinator) { c.listeners = append(c.listeners, l) }
}

func New(meter Meter, fetcher HistoryFetcher, store database.StatisticsStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		meter:        meter,
		fetcher:      fetcher,
		store:        store,
		loc:          time.Local,
		logger:       logrus.StandardLogger(),
		now:          time.Now,
		jitterMinute: rand.Intn(maxJitter + 1),
		jitterSecond: rand.Intn(maxJitter + 1),
		state:        StateIdle,
		status:       StatusPending,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID is the energy series id, which also identifies the coordinator.
func (c *Coordinator) ID() string {
	return statistics.SeriesID(c.meter.PRM, c.meter.Production, false)
}

func (c *Coordinator) CostID() string {
	return statistics.SeriesID(c.meter.PRM, c.meter.Production, true)
}

func (c *Coordinator) Meter() Meter { return c.meter }

// Jitter returns the minute and second offsets of the daily triggers.
func (c *Coordinator) Jitter() (minute, second int) {
	return c.jitterMinute, c.jitterSecond
}

func (c *Coordinator) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Snapshot{
		ID:         c.ID(),
		PRM:        c.meter.PRM,
		Name:       c.meter.Name,
		Production: c.meter.Production,
		State:      c.state,
		Status:     c.status,
		LastSync:   c.lastSync,
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

func (c *Coordinator) keyword() string {
	if c.meter.Production {
		return "production"
	}
	return "consumption"
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Sync runs one synchronization to completion. It returns
// ErrSyncInProgress without doing anything when a run is already active.
// Failures are recorded in the coordinator status and returned; a panic
// inside the run is recovered and reported the same way.
func (c *Coordinator) Sync(ctx context.Context) (err error) {
	if !c.running.CompareAndSwap(false, true) {
		return ErrSyncInProgress
	}
	defer c.running.Store(false)

	log := c.logger.WithFields(logrus.Fields{
		"run_id": uuid.NewString(),
		"prm":    c.meter.PRM,
		"kind":   c.keyword(),
	})
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync panicked: %v", r)
		}
		c.finish(log, err, time.Since(started))
	}()

	c.setState(StateDeterminingMode)
	has, err := c.store.HasAnyStatistic(ctx, c.ID())
	if err != nil {
		return err
	}

	if !has {
		c.setState(StateInitializing)
		return c.initialize(ctx, log)
	}
	c.setState(StateIncrementalSyncing)
	return c.incremental(ctx, log)
}

func (c *Coordinator) finish(log *logrus.Entry, err error, elapsed time.Duration) {
	c.mu.Lock()
	c.state = StateDone
	c.lastErr = err
	if err != nil {
		c.status = StatusError
	} else {
		c.status = StatusOK
		c.lastSync = c.now()
	}
	listeners := append([]StatusListener(nil), c.listeners...)
	c.mu.Unlock()

	result := string(StatusOK)
	if err != nil {
		result = string(StatusError)
		log.WithError(err).Errorf("Sync failed for PRM %s (%s)", c.meter.PRM, c.keyword())
	}
	if c.metrics != nil {
		c.metrics.SyncRuns.WithLabelValues(c.ID(), result).Inc()
		c.metrics.SyncDuration.WithLabelValues(c.ID()).Observe(elapsed.Seconds())
	}

	snap := c.Snapshot()
	for _, l := range listeners {
		l(snap)
	}
}

// initialize imports up to a year of history into empty series.
func (c *Coordinator) initialize(ctx context.Context, log *logrus.Entry) error {
	log.Infof("New PRM detected, historical %s data import is starting", c.keyword())

	raw, err := c.fetcher.Fetch(ctx, c.meter.Production, nil)
	if err != nil {
		return fmt.Errorf("failed to fetch history: %w", err)
	}

	energy := statistics.NormalizeAll(raw, c.loc)
	if len(energy) == 0 {
		log.Warnf("No history found for PRM %s", c.meter.PRM)
		return nil
	}

	stats := statistics.ToStatistics(statistics.Aggregate(energy))
	if err := c.write(ctx, false, stats); err != nil {
		return err
	}

	if len(c.meter.Rules) > 0 {
		return c.importCosts(ctx, log, energy, false)
	}
	return nil
}

// incremental extends the series from the day after the last stored hour,
// continuing the running totals.
func (c *Coordinator) incremental(ctx context.Context, log *logrus.Entry) error {
	log.Infof("Synchronization started for %s data", c.keyword())

	last, err := c.store.GetLastStatistic(ctx, c.ID())
	if err != nil {
		return err
	}
	if last == nil {
		log.Warn("Data synchronization failed, no previous statistic found")
		return nil
	}

	now := c.now().In(c.loc)
	lastStart := last.Start.In(c.loc)
	if !NeedsSync(lastStart, now) {
		log.Debug("Everything is up-to-date, nothing to synchronize")
		return nil
	}

	since := time.Date(lastStart.Year(), lastStart.Month(), lastStart.Day()+1, 0, 0, 0, 0, c.loc)
	raw, err := c.fetcher.Fetch(ctx, c.meter.Production, &since)
	if err != nil {
		return fmt.Errorf("failed to fetch history since %s: %w", since.Format("2006-01-02"), err)
	}

	energy := statistics.NormalizeAll(raw, c.loc)
	if len(energy) == 0 {
		return nil
	}

	stats := statistics.WithBaseOffset(statistics.ToStatistics(statistics.Aggregate(energy)), last.Sum)
	if err := c.write(ctx, false, stats); err != nil {
		return err
	}

	if len(c.meter.Rules) > 0 {
		return c.importCosts(ctx, log, energy, true)
	}
	return nil
}

// NeedsSync reports whether an incremental run should proceed: the last
// stored hour is older than two days and the local hour is at least 6.
func NeedsSync(lastStart, now time.Time) bool {
	return lastStart.Before(now.Add(-settleDelay)) && now.Hour() >= firstSyncHour
}

// importCosts prices the normalized energy points and writes the cost
// series. In incremental mode the running total continues from the last
// stored cost point.
func (c *Coordinator) importCosts(ctx context.Context, log *logrus.Entry, energy []models.DataPoint, incremental bool) error {
	history := cost.PriceHistory{}
	if ids := cost.EntityIDs(c.meter.Rules); len(ids) > 0 {
		if c.prices == nil {
			log.Warn("Cost rules reference price entities but no price history source is configured")
		} else {
			first := lo.MinBy(energy, func(a, b models.DataPoint) bool { return a.Time.Before(b.Time) })
			last := lo.MaxBy(energy, func(a, b models.DataPoint) bool { return a.Time.After(b.Time) })
			history = pricehistory.FetchAll(ctx, c.prices, ids, first.Time.AddDate(0, 0, -1), last.Time.AddDate(0, 0, 1), c.logger)
		}
	}

	costs := cost.ComputeCosts(energy, c.meter.Rules, history)
	stats := statistics.ToStatistics(statistics.Aggregate(costs))
	if len(stats) == 0 {
		return nil
	}

	base := 0.0
	if incremental {
		lastCost, err := c.store.GetLastStatistic(ctx, c.CostID())
		if err != nil {
			return err
		}
		if lastCost != nil {
			base = lastCost.Sum
		}
	}

	return c.write(ctx, true, statistics.WithBaseOffset(stats, base))
}

func (c *Coordinator) write(ctx context.Context, isCost bool, stats []models.StatisticPoint) error {
	md := statistics.Metadata(c.meter.PRM, c.meter.Name, c.meter.Production, isCost)
	if err := c.store.WriteStatistics(ctx, md, stats); err != nil {
		return fmt.Errorf("failed to write %s: %w", md.StatisticID, err)
	}
	if c.metrics != nil {
		c.metrics.PointsWritten.WithLabelValues(md.StatisticID).Add(float64(len(stats)))
	}
	c.logger.WithFields(logrus.Fields{
		"series": md.StatisticID,
		"points": len(stats),
	}).Info("Statistics imported")
	return nil
}
