package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/meridianwm/structprod/internal/metrics"
)

// CachedSource wraps a primary Source with a Redis read-through cache.
// Historical closes are immutable once recorded, so entries carry a long
// TTL and are never invalidated. Missing prices are not cached: a gap is
// a data problem that may be corrected at any time, and caching it would
// keep a repaired evaluation failing.
//
// Cache failures degrade to the primary source; the cache is an
// optimization, never a source of truth.
type CachedSource struct {
	primary Source
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedSource creates a cached wrapper around a primary source.
func NewCachedSource(primary Source, rdb *redis.Client, ttl time.Duration) *CachedSource {
	return &CachedSource{primary: primary, rdb: rdb, ttl: ttl}
}

func priceKey(ticker string, date time.Time) string {
	return fmt.Sprintf("px:%s:%s", ticker, dateKey(date))
}

// PriceOnDate checks Redis first, then falls back to the primary.
func (s *CachedSource) PriceOnDate(ctx context.Context, ticker string, date time.Time) (decimal.Decimal, error) {
	key := priceKey(ticker, date)

	raw, err := s.rdb.Get(ctx, key).Result()
	if err == nil {
		if px, perr := decimal.NewFromString(raw); perr == nil {
			metrics.PriceCacheHits.Inc()
			return px, nil
		}
	}
	metrics.PriceCacheMisses.Inc()

	px, err := s.primary.PriceOnDate(ctx, ticker, date)
	if err != nil {
		return decimal.Zero, err
	}

	// Best-effort populate; a write failure must not fail the lookup.
	s.rdb.Set(ctx, key, px.String(), s.ttl)
	return px, nil
}
