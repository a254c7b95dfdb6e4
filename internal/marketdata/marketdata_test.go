package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianwm/structprod/internal/types"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestMemorySource_ExactDateOnly(t *testing.T) {
	src := NewMemorySource()
	src.SetPrice("AAA", day(2026, 6, 30), decimal.NewFromInt(110))

	px, err := src.PriceOnDate(context.Background(), "AAA", day(2026, 6, 30))
	if err != nil {
		t.Fatalf("PriceOnDate() error = %v, want nil", err)
	}
	if !px.Equal(decimal.NewFromInt(110)) {
		t.Errorf("PriceOnDate() = %s, want 110", px)
	}

	// The previous trading day has no close: no interpolation, no
	// carry-forward.
	_, err = src.PriceOnDate(context.Background(), "AAA", day(2026, 6, 29))
	if !errors.Is(err, types.ErrMissingPrice) {
		t.Fatalf("PriceOnDate(missing day) error = %v, want ErrMissingPrice", err)
	}
	var missing *types.MissingPriceError
	if !errors.As(err, &missing) {
		t.Fatalf("error = %v, want *MissingPriceError", err)
	}
	if missing.Ticker != "AAA" || !missing.Date.Equal(day(2026, 6, 29)) {
		t.Errorf("MissingPriceError = %+v", missing)
	}
}

func TestMemorySource_UnknownTicker(t *testing.T) {
	src := NewMemorySource()
	_, err := src.PriceOnDate(context.Background(), "ZZZ", day(2026, 6, 30))
	if !errors.Is(err, types.ErrMissingPrice) {
		t.Errorf("PriceOnDate(unknown ticker) error = %v, want ErrMissingPrice", err)
	}
}

func TestMemorySource_TimeOfDayIgnored(t *testing.T) {
	src := NewMemorySource()
	src.SetPrice("AAA", time.Date(2026, 6, 30, 9, 30, 0, 0, time.UTC), decimal.NewFromInt(110))

	// Lookups key on the calendar day, not the instant.
	px, err := src.PriceOnDate(context.Background(), "AAA", time.Date(2026, 6, 30, 17, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("PriceOnDate() error = %v, want nil", err)
	}
	if !px.Equal(decimal.NewFromInt(110)) {
		t.Errorf("PriceOnDate() = %s, want 110", px)
	}
}

func TestMemorySource_Overwrite(t *testing.T) {
	src := NewMemorySource()
	src.SetPrice("AAA", day(2026, 6, 30), decimal.NewFromInt(110))
	src.SetPrice("AAA", day(2026, 6, 30), decimal.NewFromInt(112))

	px, err := src.PriceOnDate(context.Background(), "AAA", day(2026, 6, 30))
	if err != nil {
		t.Fatalf("PriceOnDate() error = %v", err)
	}
	if !px.Equal(decimal.NewFromInt(112)) {
		t.Errorf("PriceOnDate() = %s, want last write 112", px)
	}
}
