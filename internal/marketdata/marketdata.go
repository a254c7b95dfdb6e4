// Package marketdata provides trading-day close lookups for the payoff
// engine.
//
// Every implementation honors the exact-date contract: no interpolation,
// no nearest-date fallback. A date without a recorded close returns an
// error wrapping types.ErrMissingPrice, which the engine treats as fatal
// for the whole evaluation.
package marketdata

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianwm/structprod/internal/types"
)

// Source supplies exact trading-day closes. Satisfies payoff.PriceLookup.
type Source interface {
	PriceOnDate(ctx context.Context, ticker string, date time.Time) (decimal.Decimal, error)
}

// dateKey normalizes a timestamp to its trading day.
func dateKey(date time.Time) string {
	return date.Format("2006-01-02")
}

// MemorySource is an in-memory price series, used by tests and fixture
// imports. Not safe for concurrent mutation; populate fully before use.
type MemorySource struct {
	prices map[string]map[string]decimal.Decimal // ticker -> day -> close
}

// NewMemorySource creates an empty in-memory source.
func NewMemorySource() *MemorySource {
	return &MemorySource{prices: make(map[string]map[string]decimal.Decimal)}
}

// SetPrice records a close for one ticker and day.
func (s *MemorySource) SetPrice(ticker string, date time.Time, price decimal.Decimal) {
	day, ok := s.prices[ticker]
	if !ok {
		day = make(map[string]decimal.Decimal)
		s.prices[ticker] = day
	}
	day[dateKey(date)] = price
}

// PriceOnDate returns the recorded close or a MissingPriceError.
func (s *MemorySource) PriceOnDate(ctx context.Context, ticker string, date time.Time) (decimal.Decimal, error) {
	if day, ok := s.prices[ticker]; ok {
		if px, ok := day[dateKey(date)]; ok {
			return px, nil
		}
	}
	return decimal.Zero, &types.MissingPriceError{Ticker: ticker, Date: date}
}
