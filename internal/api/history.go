package api

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/alexzouz/ha-linky/internal/models"
)

const (
	loadCurveDays = 7
	dailyTiers    = 2
	// Each daily tier covers half of what remains of a year once the load
	// curve week is taken out.
	dailyTierDays = (365 - loadCurveDays) / dailyTiers
)

// MeteringAPI is the subset of the Conso API used to rebuild history.
type MeteringAPI interface {
	DailyConsumption(ctx context.Context, start, end time.Time) ([]models.RawReading, error)
	ConsumptionLoadCurve(ctx context.Context, start, end time.Time) ([]models.RawReading, error)
	DailyProduction(ctx context.Context, start, end time.Time) ([]models.RawReading, error)
	ProductionLoadCurve(ctx context.Context, start, end time.Time) ([]models.RawReading, error)
}

var _ MeteringAPI = (*Client)(nil)

// HistoryFetcher walks the provider's endpoints backward from today.
type HistoryFetcher struct {
	api    MeteringAPI
	loc    *time.Location
	logger *logrus.Logger
	now    func() time.Time
}

func NewHistoryFetcher(api MeteringAPI, loc *time.Location, logger *logrus.Logger, now func() time.Time) *HistoryFetcher {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.Local
	}
	return &HistoryFetcher{api: api, loc: loc, logger: logger, now: now}
}

type tier struct {
	name  string
	days  int
	fetch func(ctx context.Context, start, end time.Time) ([]models.RawReading, error)
}

func (f *HistoryFetcher) tiers(production bool) (loadCurve, daily tier) {
	if production {
		return tier{"load curve", loadCurveDays, f.api.ProductionLoadCurve},
			tier{"daily", dailyTierDays, f.api.DailyProduction}
	}
	return tier{"load curve", loadCurveDays, f.api.ConsumptionLoadCurve},
		tier{"daily", dailyTierDays, f.api.DailyConsumption}
}

// Fetch returns the raw readings of one meter direction, oldest tier first.
//
// With since set, the tier whose window reaches since is clamped to it and
// is the last one requested. A load curve failure is skipped. A daily
// failure stops the walk; without since, an end of history failure is the
// expected way for the walk to finish. Authentication failures abort. An
// error is returned for other failures only when nothing was retrieved.
func (f *HistoryFetcher) Fetch(ctx context.Context, production bool, since *time.Time) ([]models.RawReading, error) {
	keyword := "consumption"
	if production {
		keyword = "production"
	}
	log := f.logger.WithField("kind", keyword)

	now := f.now().In(f.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, f.loc)

	var (
		history      [][]models.RawReading
		offset       int
		limitReached bool
		failure      error
	)

	window := func(days int) (time.Time, time.Time) {
		from := today.AddDate(0, 0, -(offset + days))
		to := today.AddDate(0, 0, -offset)
		if since != nil && !from.After(*since) {
			from = *since
			limitReached = true
		}
		return from, to
	}

	loadCurve, daily := f.tiers(production)

	from, to := window(loadCurve.days)
	data, err := loadCurve.fetch(ctx, from, to)
	switch {
	case err == nil:
		history = append([][]models.RawReading{data}, history...)
		offset += loadCurve.days
		log.Debugf("Retrieved %s %s from %s to %s", keyword, loadCurve.name, from.Format(dateLayout), to.Format(dateLayout))
	case errors.Is(err, ErrAuth):
		return nil, err
	default:
		failure = err
		log.WithError(err).Debugf("Cannot fetch %s %s from %s to %s", keyword, loadCurve.name, from.Format(dateLayout), to.Format(dateLayout))
	}

	for i := 0; i < dailyTiers && !limitReached; i++ {
		from, to := window(daily.days)
		data, err := daily.fetch(ctx, from, to)
		if err == nil {
			history = append([][]models.RawReading{data}, history...)
			offset += daily.days
			log.Debugf("Retrieved %s %s data from %s to %s", daily.name, keyword, from.Format(dateLayout), to.Format(dateLayout))
			continue
		}
		if errors.Is(err, ErrAuth) {
			return nil, err
		}
		if since == nil && IsEndOfHistory(err) {
			log.Infof("All available %s data has been imported", keyword)
			break
		}
		failure = err
		log.WithError(err).Debugf("Cannot fetch %s %s data from %s to %s", daily.name, keyword, from.Format(dateLayout), to.Format(dateLayout))
		break
	}

	var all []models.RawReading
	for _, chunk := range history {
		all = append(all, chunk...)
	}

	if len(all) == 0 {
		if failure != nil {
			return nil, failure
		}
		log.Warn("Data import returned nothing!")
		return all, nil
	}

	log.WithFields(logrus.Fields{
		"points": len(all),
		"first":  all[0].Date,
		"last":   all[len(all)-1].Date,
	}).Info("Data import returned data points")
	return all, nil
}
