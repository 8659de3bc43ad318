package pricehistory

// Twice-daily syncs of several meters often ask for the same entity over the
// same window, so recent answers are kept in an in-memory LRU.

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/alexzouz/ha-linky/internal/models"
)

// CachedProvider memoizes successful History calls. Failures are not cached.
type CachedProvider struct {
	next  Provider
	cache *lru.Cache
}

func NewCachedProvider(next Provider, size int) (*CachedProvider, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &CachedProvider{next: next, cache: cache}, nil
}

func (p *CachedProvider) History(ctx context.Context, entityID string, start, end time.Time) ([]models.PriceSample, error) {
	key := cacheKey(entityID, start, end)
	if cached, ok := p.cache.Get(key); ok {
		return cached.([]models.PriceSample), nil
	}

	samples, err := p.next.History(ctx, entityID, start, end)
	if err != nil {
		return nil, err
	}

	p.cache.Add(key, samples)
	return samples, nil
}

func cacheKey(entityID string, start, end time.Time) string {
	return fmt.Sprintf("%s:%d:%d", entityID, start.Unix(), end.Unix())
}
