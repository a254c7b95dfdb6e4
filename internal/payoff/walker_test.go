// internal/payoff/walker_test.go
package payoff

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianwm/structprod/internal/types"
)

var quarterly = []time.Time{
	day(2026, 3, 31),
	day(2026, 6, 30),
	day(2026, 9, 30),
	day(2026, 12, 30),
}

// phoenixNote builds a single-underlying memory autocallable:
// autocall at 100% of strike, coupon barrier 70%, protection 60%,
// 8.5% coupon per observation, quarterly schedule with a final date.
func phoenixNote() *types.Product {
	p := &types.Product{
		ID:           types.NewProductID(),
		Name:         "Phoenix Memory 8.5%",
		Template:     types.TemplatePhoenix,
		TradeDate:    day(2026, 1, 2),
		MaturityDate: day(2026, 12, 30),
		CouponRate:   decimal.NewFromFloat(8.5),
		MemoryCoupon: true,
		Underlyings: []types.Underlying{
			{Ticker: "AAA", Name: "Alpha Corp", InitialPrice: decimal.NewFromInt(100), Weight: decimal.NewFromInt(1)},
		},
		Barriers: []types.Barrier{
			{Kind: types.BarrierAutocall, Level: decimal.NewFromInt(100), Operator: "at or above"},
			{Kind: types.BarrierCoupon, Level: decimal.NewFromInt(70), Operator: ">="},
			{Kind: types.BarrierProtection, Level: decimal.NewFromInt(60), Operator: ">="},
		},
	}
	for i, d := range quarterly {
		role := types.ObservationPeriodic
		if i == len(quarterly)-1 {
			role = types.ObservationFinal
		}
		p.Schedule = append(p.Schedule, types.ObservationDate{Date: d, Role: role})
	}
	return p
}

func ledgerKinds(ledger []types.LedgerEvent) []types.EventKind {
	kinds := make([]types.EventKind, len(ledger))
	for i, ev := range ledger {
		kinds[i] = ev.Kind
	}
	return kinds
}

func assertKinds(t *testing.T, ledger []types.LedgerEvent, want ...types.EventKind) {
	t.Helper()
	got := ledgerKinds(ledger)
	if len(got) != len(want) {
		t.Fatalf("ledger kinds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ledger kinds = %v, want %v", got, want)
		}
	}
}

func TestEvaluateProduct_AutocallOnFirstObservation(t *testing.T) {
	p := phoenixNote()
	prices := newStubPrices().set("AAA", quarterly[0], 105)

	result, err := EvaluateProduct(context.Background(), p, prices, quarterly[0], nil)
	if err != nil {
		t.Fatalf("EvaluateProduct() error = %v, want nil", err)
	}

	if result.Status != types.StatusAutocalled {
		t.Errorf("Status = %s, want autocalled", result.Status)
	}
	assertKinds(t, result.Ledger, types.EventPay, types.EventTerminate)
	if !result.Ledger[0].Amount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("principal = %s, want 100", result.Ledger[0].Amount)
	}
	if result.Ledger[0].Description != "principal" {
		t.Errorf("description = %q, want principal", result.Ledger[0].Description)
	}
	if !result.Ledger[0].Date.Equal(quarterly[0]) {
		t.Errorf("payment date = %s, want %s", result.Ledger[0].Date, quarterly[0])
	}
}

func TestEvaluateProduct_CouponPaidBetweenBarriers(t *testing.T) {
	// Close 80: below autocall (100), above coupon barrier (70).
	p := phoenixNote()
	prices := newStubPrices().set("AAA", quarterly[0], 80)

	result, err := EvaluateProduct(context.Background(), p, prices, quarterly[0], nil)
	if err != nil {
		t.Fatalf("EvaluateProduct() error = %v, want nil", err)
	}

	if result.Status != types.StatusPending {
		t.Errorf("Status = %s, want pending", result.Status)
	}
	assertKinds(t, result.Ledger, types.EventPay)
	if !result.Ledger[0].Amount.Equal(decimal.NewFromFloat(8.5)) {
		t.Errorf("coupon = %s, want 8.5", result.Ledger[0].Amount)
	}
	if result.Ledger[0].Description != "coupon" {
		t.Errorf("description = %q, want coupon", result.Ledger[0].Description)
	}
}

func TestEvaluateProduct_MissedCouponAccumulates(t *testing.T) {
	// Close 65: below the coupon barrier, memory coupon active.
	p := phoenixNote()
	prices := newStubPrices().set("AAA", quarterly[0], 65)

	result, err := EvaluateProduct(context.Background(), p, prices, quarterly[0], nil)
	if err != nil {
		t.Fatalf("EvaluateProduct() error = %v, want nil", err)
	}

	assertKinds(t, result.Ledger, types.EventAccumulate)
	ev := result.Ledger[0]
	if !ev.Amount.Equal(decimal.NewFromFloat(8.5)) {
		t.Errorf("accumulated = %s, want 8.5", ev.Amount)
	}
	if ev.Key != string(KeyUnpaidCoupons) {
		t.Errorf("key = %q, want %q", ev.Key, KeyUnpaidCoupons)
	}
	if result.TotalPaid().Sign() != 0 {
		t.Errorf("TotalPaid() = %s, want 0", result.TotalPaid())
	}
}

func TestEvaluateProduct_MemoryCouponCatchUp(t *testing.T) {
	// Miss on the first date (65), recover on the second (80): the second
	// date pays the current plus the missed coupon and resets memory.
	p := phoenixNote()
	prices := newStubPrices().
		set("AAA", quarterly[0], 65).
		set("AAA", quarterly[1], 80)

	result, err := EvaluateProduct(context.Background(), p, prices, quarterly[1], nil)
	if err != nil {
		t.Fatalf("EvaluateProduct() error = %v, want nil", err)
	}

	assertKinds(t, result.Ledger, types.EventAccumulate, types.EventPay, types.EventReset)
	pay := result.Ledger[1]
	if !pay.Amount.Equal(decimal.NewFromInt(17)) {
		t.Errorf("catch-up payment = %s, want 17", pay.Amount)
	}
	if pay.Description != "coupon_with_memory" {
		t.Errorf("description = %q, want coupon_with_memory", pay.Description)
	}
	if result.Ledger[2].Key != string(KeyUnpaidCoupons) {
		t.Errorf("reset key = %q, want %q", result.Ledger[2].Key, KeyUnpaidCoupons)
	}
}

func TestEvaluateProduct_MemoryFlushOnAutocall(t *testing.T) {
	// Miss, then autocall: accrued memory settles with the principal.
	p := phoenixNote()
	prices := newStubPrices().
		set("AAA", quarterly[0], 65).
		set("AAA", quarterly[1], 110)

	result, err := EvaluateProduct(context.Background(), p, prices, quarterly[1], nil)
	if err != nil {
		t.Fatalf("EvaluateProduct() error = %v, want nil", err)
	}

	if result.Status != types.StatusAutocalled {
		t.Fatalf("Status = %s, want autocalled", result.Status)
	}
	assertKinds(t, result.Ledger,
		types.EventAccumulate, types.EventPay, types.EventPay, types.EventReset, types.EventTerminate)
	if !result.Ledger[2].Amount.Equal(decimal.NewFromFloat(8.5)) {
		t.Errorf("memory settlement = %s, want 8.5", result.Ledger[2].Amount)
	}
	if !result.TotalPaid().Equal(decimal.NewFromFloat(108.5)) {
		t.Errorf("TotalPaid() = %s, want 108.5", result.TotalPaid())
	}
}

func TestEvaluateProduct_MaturityBelowProtection(t *testing.T) {
	// Coupons paid on the first three dates (close 80), final close 55:
	// protection 60% is breached, redemption is 100 + performance.
	p := phoenixNote()
	prices := newStubPrices()
	for _, d := range quarterly[:3] {
		prices.set("AAA", d, 80)
	}
	prices.set("AAA", quarterly[3], 55)

	result, err := EvaluateProduct(context.Background(), p, prices, quarterly[3], nil)
	if err != nil {
		t.Fatalf("EvaluateProduct() error = %v, want nil", err)
	}

	if result.Status != types.StatusMatured {
		t.Errorf("Status = %s, want matured", result.Status)
	}
	if !result.RedemptionValue.Equal(decimal.NewFromInt(55)) {
		t.Errorf("RedemptionValue = %s, want 55", result.RedemptionValue)
	}
	// 3 coupons of 8.5 plus the redemption payment.
	want := decimal.NewFromFloat(8.5).Mul(decimal.NewFromInt(3)).Add(decimal.NewFromInt(55))
	if !result.TotalPaid().Equal(want) {
		t.Errorf("TotalPaid() = %s, want %s", result.TotalPaid(), want)
	}
	last := result.Ledger[len(result.Ledger)-1]
	if last.Kind != types.EventPay || last.Description != "redemption" {
		t.Errorf("last event = %+v, want redemption PAY", last)
	}
}

func TestEvaluateProduct_MaturityProtected(t *testing.T) {
	// Final close 65: above protection, below the coupon barrier. Principal
	// comes back whole.
	p := phoenixNote()
	prices := newStubPrices()
	for _, d := range quarterly {
		prices.set("AAA", d, 65)
	}

	result, err := EvaluateProduct(context.Background(), p, prices, quarterly[3], nil)
	if err != nil {
		t.Fatalf("EvaluateProduct() error = %v, want nil", err)
	}
	if !result.RedemptionValue.Equal(decimal.NewFromInt(100)) {
		t.Errorf("RedemptionValue = %s, want 100", result.RedemptionValue)
	}
}

func TestEvaluateProduct_MissingPriceAborts(t *testing.T) {
	// First date priced, second missing: the run fails with no partial
	// result rather than emitting a wrong ledger.
	p := phoenixNote()
	prices := newStubPrices().set("AAA", quarterly[0], 80)

	result, err := EvaluateProduct(context.Background(), p, prices, quarterly[1], nil)
	if result != nil {
		t.Fatalf("result = %+v, want nil on missing price", result)
	}
	var missing *types.MissingPriceError
	if !errors.As(err, &missing) {
		t.Fatalf("error = %v, want *MissingPriceError", err)
	}
	if !errors.Is(err, types.ErrMissingPrice) {
		t.Errorf("error = %v, want wrapped ErrMissingPrice", err)
	}
	if missing.Ticker != "AAA" || !missing.Date.Equal(quarterly[1]) {
		t.Errorf("MissingPriceError = %+v, want AAA on %s", missing, quarterly[1])
	}
}

func TestEvaluateProduct_PendingBeforeFirstObservation(t *testing.T) {
	p := phoenixNote()
	prices := newStubPrices()

	result, err := EvaluateProduct(context.Background(), p, prices, day(2026, 2, 1), nil)
	if err != nil {
		t.Fatalf("EvaluateProduct() error = %v, want nil", err)
	}
	if result.Status != types.StatusPending {
		t.Errorf("Status = %s, want pending", result.Status)
	}
	if len(result.Ledger) != 0 {
		t.Errorf("ledger = %+v, want empty", result.Ledger)
	}
	if len(result.BarrierDistances) != 0 {
		t.Errorf("BarrierDistances = %+v, want empty before any observation", result.BarrierDistances)
	}
}

func TestEvaluateProduct_UnknownTemplateDegrades(t *testing.T) {
	p := phoenixNote()
	p.Template = types.TemplateKind("exotic_v9")

	result, err := EvaluateProduct(context.Background(), p, newStubPrices(), quarterly[3], nil)
	if err != nil {
		t.Fatalf("EvaluateProduct() error = %v, want degraded result", err)
	}
	if result.Status != types.StatusUnknown {
		t.Errorf("Status = %s, want unknown", result.Status)
	}
	if len(result.Ledger) != 0 {
		t.Errorf("ledger = %+v, want empty for unknown template", result.Ledger)
	}
}

func TestEvaluateProduct_NoEventsAfterAutocall(t *testing.T) {
	// Every date is above the autocall barrier; only the first may act.
	p := phoenixNote()
	prices := newStubPrices()
	for _, d := range quarterly {
		prices.set("AAA", d, 120)
	}

	result, err := EvaluateProduct(context.Background(), p, prices, quarterly[3], nil)
	if err != nil {
		t.Fatalf("EvaluateProduct() error = %v, want nil", err)
	}
	assertKinds(t, result.Ledger, types.EventPay, types.EventTerminate)
	if !result.Ledger[0].Date.Equal(quarterly[0]) {
		t.Errorf("autocall date = %s, want first observation", result.Ledger[0].Date)
	}
}

func TestEvaluateProduct_Deterministic(t *testing.T) {
	p := phoenixNote()
	prices := newStubPrices().
		set("AAA", quarterly[0], 65).
		set("AAA", quarterly[1], 80).
		set("AAA", quarterly[2], 95)

	first, err := EvaluateProduct(context.Background(), p, prices, quarterly[2], nil)
	if err != nil {
		t.Fatalf("EvaluateProduct() error = %v", err)
	}
	second, err := EvaluateProduct(context.Background(), p, prices, quarterly[2], nil)
	if err != nil {
		t.Fatalf("EvaluateProduct() error = %v", err)
	}

	if len(first.Ledger) != len(second.Ledger) {
		t.Fatalf("ledger lengths differ: %d vs %d", len(first.Ledger), len(second.Ledger))
	}
	for i := range first.Ledger {
		a, b := first.Ledger[i], second.Ledger[i]
		if a.Kind != b.Kind || !a.Amount.Equal(b.Amount) || !a.Date.Equal(b.Date) || a.Description != b.Description {
			t.Errorf("ledger[%d] differs: %+v vs %+v", i, a, b)
		}
	}
	if first.Status != second.Status {
		t.Errorf("status differs: %s vs %s", first.Status, second.Status)
	}
}

func TestEvaluateProduct_BarrierDistances(t *testing.T) {
	// Close 80, performance -20. Distance = performance - (level - 100).
	p := phoenixNote()
	prices := newStubPrices().set("AAA", quarterly[0], 80)

	result, err := EvaluateProduct(context.Background(), p, prices, quarterly[0], nil)
	if err != nil {
		t.Fatalf("EvaluateProduct() error = %v", err)
	}

	want := map[types.BarrierKind]string{
		types.BarrierAutocall:   "-20", // -20 - 0
		types.BarrierCoupon:     "10",  // -20 - (-30)
		types.BarrierProtection: "20",  // -20 - (-40)
	}
	if len(result.BarrierDistances) != len(want) {
		t.Fatalf("BarrierDistances = %+v, want %d entries", result.BarrierDistances, len(want))
	}
	for _, bd := range result.BarrierDistances {
		if !bd.Distance.Equal(decimal.RequireFromString(want[bd.Kind])) {
			t.Errorf("distance[%s] = %s, want %s", bd.Kind, bd.Distance, want[bd.Kind])
		}
	}
}

func TestEvaluateProduct_OperatorFallbackTraced(t *testing.T) {
	p := phoenixNote()
	p.Barriers[0].Operator = "sideways" // unresolvable, falls back to >=
	prices := newStubPrices().set("AAA", quarterly[0], 105)

	trace := &CollectorTrace{}
	result, err := EvaluateProduct(context.Background(), p, prices, quarterly[0], trace)
	if err != nil {
		t.Fatalf("EvaluateProduct() error = %v", err)
	}
	if result.Status != types.StatusAutocalled {
		t.Errorf("Status = %s, want autocalled under fallback >=", result.Status)
	}
	seen := false
	for _, ev := range trace.Events {
		if ev == "operator.fallback" {
			seen = true
		}
	}
	if !seen {
		t.Errorf("trace %v missing operator.fallback", trace.Events)
	}
}

func TestEvaluateProduct_SharkNoteKnockout(t *testing.T) {
	shark := func() *types.Product {
		return &types.Product{
			ID:           types.NewProductID(),
			Name:         "Shark Fin",
			Template:     types.TemplateSharkNote,
			TradeDate:    day(2026, 1, 2),
			MaturityDate: day(2026, 12, 30),
			CouponRate:   decimal.NewFromInt(5), // rebate when knocked out
			Underlyings: []types.Underlying{
				{Ticker: "AAA", InitialPrice: decimal.NewFromInt(100)},
			},
			Barriers: []types.Barrier{
				{Kind: types.BarrierUpper, Level: decimal.NewFromInt(130), Operator: "at or above"},
				{Kind: types.BarrierProtection, Level: decimal.NewFromInt(60), Operator: ">="},
			},
			Schedule: types.ObservationSchedule{
				{Date: day(2026, 12, 30), Role: types.ObservationFinal},
			},
		}
	}

	tests := []struct {
		name  string
		close float64
		want  string
	}{
		{"upside intact below upper barrier", 120, "120"},
		{"knockout above upper barrier pays rebate", 140, "105"},
		{"protected flat", 95, "100"},
		{"protection breached", 50, "50"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := shark()
			prices := newStubPrices().set("AAA", day(2026, 12, 30), tt.close)
			result, err := EvaluateProduct(context.Background(), p, prices, day(2026, 12, 30), nil)
			if err != nil {
				t.Fatalf("EvaluateProduct() error = %v", err)
			}
			if !result.RedemptionValue.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("RedemptionValue = %s, want %s", result.RedemptionValue, tt.want)
			}
		})
	}
}

func TestEvaluateProduct_ParticipationGearing(t *testing.T) {
	p := &types.Product{
		ID:            types.NewProductID(),
		Name:          "Participation 1.5x",
		Template:      types.TemplateParticipationNote,
		TradeDate:     day(2026, 1, 2),
		MaturityDate:  day(2026, 12, 30),
		Participation: decimal.NewFromFloat(1.5),
		Underlyings: []types.Underlying{
			{Ticker: "AAA", InitialPrice: decimal.NewFromInt(100)},
		},
		Barriers: []types.Barrier{
			{Kind: types.BarrierProtection, Level: decimal.NewFromInt(60), Operator: ">="},
		},
		Schedule: types.ObservationSchedule{
			{Date: day(2026, 12, 30), Role: types.ObservationFinal},
		},
	}
	prices := newStubPrices().set("AAA", day(2026, 12, 30), 120)

	result, err := EvaluateProduct(context.Background(), p, prices, day(2026, 12, 30), nil)
	if err != nil {
		t.Fatalf("EvaluateProduct() error = %v", err)
	}
	// 100 + 20 * 1.5
	if !result.RedemptionValue.Equal(decimal.NewFromInt(130)) {
		t.Errorf("RedemptionValue = %s, want 130", result.RedemptionValue)
	}
}

func TestEvaluateProduct_HimalayaLockedBest(t *testing.T) {
	p := &types.Product{
		ID:           types.NewProductID(),
		Name:         "Himalaya",
		Template:     types.TemplateHimalaya,
		TradeDate:    day(2026, 1, 2),
		MaturityDate: day(2026, 12, 30),
		Underlyings: []types.Underlying{
			{Ticker: "AAA", InitialPrice: decimal.NewFromInt(100)},
			{Ticker: "BBB", InitialPrice: decimal.NewFromInt(100)},
		},
		Barriers: []types.Barrier{
			{Kind: types.BarrierProtection, Level: decimal.NewFromInt(60), Operator: ">="},
		},
		Schedule: types.ObservationSchedule{
			{Date: day(2026, 6, 30), Role: types.ObservationPeriodic},
			{Date: day(2026, 12, 30), Role: types.ObservationFinal},
		},
	}
	// Mid-life best-of +30 is locked; at the final date every constituent
	// is down, so redemption comes from the locked level.
	prices := newStubPrices().
		set("AAA", day(2026, 6, 30), 130).
		set("BBB", day(2026, 6, 30), 95).
		set("AAA", day(2026, 12, 30), 90).
		set("BBB", day(2026, 12, 30), 85)

	result, err := EvaluateProduct(context.Background(), p, prices, day(2026, 12, 30), nil)
	if err != nil {
		t.Fatalf("EvaluateProduct() error = %v", err)
	}
	if !result.RedemptionValue.Equal(decimal.NewFromInt(130)) {
		t.Errorf("RedemptionValue = %s, want locked 130", result.RedemptionValue)
	}
}

func TestEvaluateProduct_ReverseConvertibleNoMemory(t *testing.T) {
	p := phoenixNote()
	p.Template = types.TemplateReverseConvertible
	p.MemoryCoupon = false

	// Missed coupon leaves only a CONTINUE marker: nothing accumulates.
	prices := newStubPrices().set("AAA", quarterly[0], 65)
	result, err := EvaluateProduct(context.Background(), p, prices, quarterly[0], nil)
	if err != nil {
		t.Fatalf("EvaluateProduct() error = %v", err)
	}
	assertKinds(t, result.Ledger, types.EventContinue)
}

func TestEvaluateProduct_InvalidSchedule(t *testing.T) {
	p := phoenixNote()
	p.Schedule = nil
	_, err := EvaluateProduct(context.Background(), p, newStubPrices(), quarterly[0], nil)
	if !errors.Is(err, types.ErrEmptySchedule) {
		t.Errorf("error = %v, want ErrEmptySchedule", err)
	}

	p = phoenixNote()
	p.Schedule[1], p.Schedule[0] = p.Schedule[0], p.Schedule[1]
	_, err = EvaluateProduct(context.Background(), p, newStubPrices(), quarterly[0], nil)
	if !errors.Is(err, types.ErrScheduleNotChronological) {
		t.Errorf("error = %v, want ErrScheduleNotChronological", err)
	}
}

func TestEvaluateProduct_MemoryConservation(t *testing.T) {
	// Over any price path, coupons paid plus the last unpaid balance equal
	// the coupon rate times observation dates processed (before maturity).
	paths := [][]float64{
		{80, 80, 80},
		{65, 65, 65},
		{65, 80, 65},
		{80, 65, 80},
		{65, 65, 80},
	}

	rate := decimal.NewFromFloat(8.5)
	for _, path := range paths {
		p := phoenixNote()
		prices := newStubPrices()
		for i, px := range path {
			prices.set("AAA", quarterly[i], px)
		}

		result, err := EvaluateProduct(context.Background(), p, prices, quarterly[len(path)-1], nil)
		if err != nil {
			t.Fatalf("path %v: error = %v", path, err)
		}

		paid := result.TotalPaid()
		unpaid := decimal.Zero
		for _, ev := range result.Ledger {
			switch ev.Kind {
			case types.EventAccumulate:
				unpaid = unpaid.Add(ev.Amount)
			case types.EventReset:
				unpaid = decimal.Zero
			}
		}

		want := rate.Mul(decimal.NewFromInt(int64(len(path))))
		if !paid.Add(unpaid).Equal(want) {
			t.Errorf("path %v: paid %s + unpaid %s != %s", path, paid, unpaid, want)
		}
	}
}

func TestEvaluateProduct_BasketSizeCap(t *testing.T) {
	p := phoenixNote()
	p.Underlyings = nil
	for i := 0; i <= types.MaxUnderlyings; i++ {
		p.Underlyings = append(p.Underlyings, types.Underlying{
			Ticker:       fmt.Sprintf("T%02d", i),
			InitialPrice: decimal.NewFromInt(100),
			Weight:       decimal.NewFromInt(1),
		})
	}

	_, err := EvaluateProduct(context.Background(), p, newStubPrices(), quarterly[0], nil)
	if !errors.Is(err, types.ErrTooManyUnderlyings) {
		t.Errorf("EvaluateProduct(%d underlyings) error = %v, want ErrTooManyUnderlyings", len(p.Underlyings), err)
	}
}
