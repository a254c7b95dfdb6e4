package marketdata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianwm/structprod/internal/core/db"
	"github.com/meridianwm/structprod/internal/types"
)

// SQLSource reads daily closes from the prices table through named
// queries. The primary store in production deployments.
type SQLSource struct {
	queries *db.Queries
}

// NewSQLSource creates a SQL-backed price source.
func NewSQLSource(queries *db.Queries) *SQLSource {
	return &SQLSource{queries: queries}
}

// PriceOnDate returns the recorded close for the exact trading day.
// sql.ErrNoRows maps to MissingPriceError; everything else is an
// infrastructure failure.
func (s *SQLSource) PriceOnDate(ctx context.Context, ticker string, date time.Time) (decimal.Decimal, error) {
	var raw string
	err := s.queries.Get(ctx, "get-price", &raw, ticker, dateKey(date))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, &types.MissingPriceError{Ticker: ticker, Date: date}
		}
		return decimal.Zero, fmt.Errorf("price lookup failed for %s: %w", ticker, err)
	}
	px, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("malformed close for %s on %s: %w", ticker, dateKey(date), err)
	}
	return px, nil
}

// RecordPrice upserts one close. Used by price imports and fixtures.
func (s *SQLSource) RecordPrice(ctx context.Context, ticker string, date time.Time, px decimal.Decimal) error {
	_, err := s.queries.Exec(ctx, "upsert-price", ticker, dateKey(date), px.String())
	return err
}
