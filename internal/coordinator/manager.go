package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/alexzouz/ha-linky/internal/models"
	"github.com/alexzouz/ha-linky/internal/scheduler"
)

var ErrUnknownMeter = errors.New("unknown meter")

// Scheduler fires a named job at minute:second past each of hours.
type Scheduler interface {
	Schedule(name string, minute, second int, hours []int, run func()) error
	Remove(name string)
}

var _ Scheduler = (*scheduler.Scheduler)(nil)

// Manager owns the coordinators of every configured meter. Coordinators are
// independent: one meter's failure never affects another's runs.
type Manager struct {
	ctx    context.Context
	sched  Scheduler
	logger *logrus.Logger

	mu           sync.RWMutex
	coordinators map[string]*Coordinator
	wg           sync.WaitGroup
}

func NewManager(ctx context.Context, sched Scheduler, logger *logrus.Logger) *Manager {
	return &Manager{
		ctx:          ctx,
		sched:        sched,
		logger:       logger,
		coordinators: make(map[string]*Coordinator),
	}
}

// Setup registers c, schedules its daily triggers and starts its first sync
// in the background.
func (m *Manager) Setup(c *Coordinator) error {
	minute, second := c.Jitter()
	if err := m.sched.Schedule(c.ID(), minute, second, scheduler.DefaultHours, func() { m.run(c) }); err != nil {
		return err
	}

	m.mu.Lock()
	m.coordinators[c.ID()] = c
	m.mu.Unlock()

	m.logger.Infof("Data synchronization for %s planned every day at 06:%02d:%02d and 09:%02d:%02d",
		c.keyword(), minute, second, minute, second)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(c)
	}()
	return nil
}

// Teardown cancels future triggers of the coordinator. A run in progress
// is left to finish.
func (m *Manager) Teardown(id string) {
	m.sched.Remove(id)
	m.mu.Lock()
	delete(m.coordinators, id)
	m.mu.Unlock()
}

// Wait blocks until background runs started by the manager have returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) run(c *Coordinator) {
	err := c.Sync(m.ctx)
	if errors.Is(err, ErrSyncInProgress) {
		m.logger.WithField("series", c.ID()).Info("Sync skipped, previous run still in progress")
	}
}

// Get looks a coordinator up by meter and direction.
func (m *Manager) Get(prm string, production bool) (*Coordinator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.coordinators {
		if c.meter.PRM == prm && c.meter.Production == production {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s (production=%t)", ErrUnknownMeter, prm, production)
}

// List returns the snapshots of all coordinators ordered by series id.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	snaps := lo.MapToSlice(m.coordinators, func(_ string, c *Coordinator) Snapshot { return c.Snapshot() })
	m.mu.RUnlock()
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })
	return snaps
}

// Trigger starts a sync outside the schedule. It fails fast with
// ErrSyncInProgress when the coordinator is busy.
func (m *Manager) Trigger(prm string, production bool) error {
	c, err := m.Get(prm, production)
	if err != nil {
		return err
	}
	if c.running.Load() {
		return ErrSyncInProgress
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(c)
	}()
	return nil
}

func (m *Manager) ImportCSV(ctx context.Context, prm string, production bool, r io.Reader) (int, error) {
	c, err := m.Get(prm, production)
	if err != nil {
		return 0, err
	}
	return c.ImportCSV(ctx, r)
}

func (m *Manager) Reset(ctx context.Context, prm string, production bool) error {
	c, err := m.Get(prm, production)
	if err != nil {
		return err
	}
	return c.Reset(ctx)
}

// Query reads back the energy or cost series of a meter.
func (m *Manager) Query(ctx context.Context, prm string, production, isCost bool, start, end time.Time) ([]models.StatisticPoint, error) {
	c, err := m.Get(prm, production)
	if err != nil {
		return nil, err
	}
	id := c.ID()
	if isCost {
		id = c.CostID()
	}
	return c.store.QueryStatistics(ctx, id, start, end)
}
