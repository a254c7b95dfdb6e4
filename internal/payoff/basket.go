// internal/payoff/basket.go
package payoff

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianwm/structprod/internal/types"
)

/*
 * Basket aggregation.
 *
 * Computes worst-of / best-of / average-of performance across underlyings
 * for one date. Performance per underlying is (close/strike - 1) * 100.
 *
 * Fail-fast contract: a missing close for any underlying aborts the whole
 * aggregation with MissingPriceError. No substitution, no carry-forward,
 * no silent default — a data-completeness problem must never turn into a
 * wrong payoff.
 */

// PriceLookup supplies exact trading-day closes. Implementations must not
// interpolate or fall back to a nearest date; a date without a recorded
// close returns an error wrapping types.ErrMissingPrice.
type PriceLookup interface {
	PriceOnDate(ctx context.Context, ticker string, date time.Time) (decimal.Decimal, error)
}

var hundred = decimal.NewFromInt(100)

// PerformanceOf computes one underlying's performance on a date as a
// percentage of strike: (close/strike - 1) * 100.
func PerformanceOf(ctx context.Context, u types.Underlying, asOf time.Time, prices PriceLookup) (decimal.Decimal, error) {
	if u.InitialPrice.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: %s has zero strike", types.ErrDivisionByZero, u.Ticker)
	}
	px, err := prices.PriceOnDate(ctx, u.Ticker, asOf)
	if err != nil {
		return decimal.Zero, err
	}
	return px.Div(u.InitialPrice).Sub(decimal.NewFromInt(1)).Mul(hundred), nil
}

// Performances computes every underlying's performance for a date, in
// basket order. Fails fast on the first missing close.
func Performances(ctx context.Context, underlyings []types.Underlying, asOf time.Time, prices PriceLookup) ([]decimal.Decimal, error) {
	if len(underlyings) == 0 {
		return nil, types.ErrEmptyBasket
	}
	perfs := make([]decimal.Decimal, 0, len(underlyings))
	for _, u := range underlyings {
		p, err := PerformanceOf(ctx, u, asOf, prices)
		if err != nil {
			return nil, err
		}
		perfs = append(perfs, p)
	}
	return perfs, nil
}

// Aggregate computes the basket-level performance for one aggregation
// opcode (OpWorstOf, OpBestOf, OpAverageOf).
func Aggregate(ctx context.Context, kind Opcode, underlyings []types.Underlying, asOf time.Time, prices PriceLookup) (decimal.Decimal, error) {
	perfs, err := Performances(ctx, underlyings, asOf, prices)
	if err != nil {
		return decimal.Zero, err
	}

	switch kind {
	case OpWorstOf:
		worst := perfs[0]
		for _, p := range perfs[1:] {
			if p.LessThan(worst) {
				worst = p
			}
		}
		return worst, nil
	case OpBestOf:
		best := perfs[0]
		for _, p := range perfs[1:] {
			if p.GreaterThan(best) {
				best = p
			}
		}
		return best, nil
	case OpAverageOf:
		sum := decimal.Zero
		for _, p := range perfs {
			sum = sum.Add(p)
		}
		return sum.Div(decimal.NewFromInt(int64(len(perfs)))), nil
	default:
		return decimal.Zero, fmt.Errorf("%w: %s is not an aggregation", types.ErrInvalidOpcode, kind)
	}
}

// CountPerformingAbove counts underlyings whose performance is at or above
// threshold.
func CountPerformingAbove(ctx context.Context, underlyings []types.Underlying, asOf time.Time, threshold decimal.Decimal, prices PriceLookup) (int, error) {
	perfs, err := Performances(ctx, underlyings, asOf, prices)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, p := range perfs {
		if p.GreaterThanOrEqual(threshold) {
			count++
		}
	}
	return count, nil
}

// WorstPerformer returns the underlying at the performance minimum and its
// performance. Any underlying at the extremum is eligible; the first in
// basket order is reported (only the value matters for payoff logic).
func WorstPerformer(ctx context.Context, underlyings []types.Underlying, asOf time.Time, prices PriceLookup) (types.Underlying, decimal.Decimal, error) {
	perfs, err := Performances(ctx, underlyings, asOf, prices)
	if err != nil {
		return types.Underlying{}, decimal.Zero, err
	}
	worstIdx := 0
	for i, p := range perfs {
		if p.LessThan(perfs[worstIdx]) {
			worstIdx = i
		}
	}
	return underlyings[worstIdx], perfs[worstIdx], nil
}
