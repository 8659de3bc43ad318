package pricehistory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/alexzouz/ha-linky/internal/cost"
	"github.com/alexzouz/ha-linky/internal/models"
)

const maxConcurrentEntities = 4

// FetchAll queries every entity over [start, end]. A failing entity does not
// fail the call: its entry carries the error and an empty series, which the
// cost engine treats as "no price known".
func FetchAll(ctx context.Context, p Provider, entityIDs []string, start, end time.Time, logger *logrus.Logger) cost.PriceHistory {
	history := make(cost.PriceHistory, len(entityIDs))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentEntities)

	for _, id := range entityIDs {
		id := id
		g.Go(func() error {
			samples, err := p.History(ctx, id, start, end)
			if err != nil {
				logger.WithError(err).WithField("entity_id", id).Warn("Failed to fetch history for entity")
				samples = nil
			}
			// The provider may hand out a shared cached slice.
			samples = append([]models.PriceSample(nil), samples...)
			sort.SliceStable(samples, func(i, j int) bool { return samples[i].Time.Before(samples[j].Time) })

			mu.Lock()
			history[id] = cost.EntityHistory{Samples: samples, Err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return history
}
