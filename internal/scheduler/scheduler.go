// Package scheduler fires each meter's sync at fixed local hours.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DefaultHours are the local hours at which a sync is triggered.
var DefaultHours = []int{6, 9}

type Scheduler struct {
	cron   *cron.Cron
	logger *logrus.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

func NewScheduler(loc *time.Location, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(loc),
			cron.WithLogger(cron.VerbosePrintfLogger(logger)),
		),
		logger:  logger,
		entries: make(map[string]cron.EntryID),
	}
}

// CronExpr renders the cron expression firing at minute:second past each hour.
func CronExpr(minute, second int, hours []int) string {
	hs := make([]string, len(hours))
	for i, h := range hours {
		hs[i] = strconv.Itoa(h)
	}
	return fmt.Sprintf("%d %d %s * * *", second, minute, strings.Join(hs, ","))
}

// Schedule registers run under name, replacing a previous registration.
// A trigger arriving while the previous run of the same job is still going
// is skipped.
func (s *Scheduler) Schedule(name string, minute, second int, hours []int, run func()) error {
	job := cron.NewChain(
		cron.Recover(cron.VerbosePrintfLogger(s.logger)),
		cron.SkipIfStillRunning(cron.VerbosePrintfLogger(s.logger)),
	).Then(cron.FuncJob(run))

	id, err := s.cron.AddJob(CronExpr(minute, second, hours), job)
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}

	s.mu.Lock()
	old, replaced := s.entries[name]
	s.entries[name] = id
	s.mu.Unlock()
	if replaced {
		s.cron.Remove(old)
	}

	s.logger.WithFields(logrus.Fields{
		"job":  name,
		"cron": CronExpr(minute, second, hours),
	}).Info("Sync scheduled")
	return nil
}

// Remove cancels future triggers of name. A run already in progress is
// left to finish.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	id, ok := s.entries[name]
	delete(s.entries, name)
	s.mu.Unlock()
	if ok {
		s.cron.Remove(id)
	}
}

// Next returns the next trigger of name after from.
func (s *Scheduler) Next(name string, from time.Time) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	entry := s.cron.Entry(id)
	if !entry.Valid() {
		return time.Time{}, false
	}
	return entry.Schedule.Next(from), true
}

// Start the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new triggers. The returned context is done once running
// jobs have completed.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
