// Package types provides domain models shared across structprod components.
//
// Zero-logic design: product terms, schedules, ledger events, and evaluation
// results live here so the payoff engine, the repository, and the API layer
// share one vocabulary without import cycles. All monetary and percentage
// values use shopspring/decimal; the engine never mixes numeric types.
//
// Percentage convention: a value of 8.5 means 8.5%. Barrier levels are
// percentages of the strike (100 = at strike). Performance is
// (price/strike - 1) * 100.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// TemplateKind is the persisted discriminant for a product's payoff
// template. Stored on the product record; never inferred at evaluation time.
type TemplateKind string

const (
	TemplatePhoenix            TemplateKind = "phoenix"
	TemplateOrion              TemplateKind = "orion"
	TemplateHimalaya           TemplateKind = "himalaya"
	TemplateSharkNote          TemplateKind = "shark_note"
	TemplateParticipationNote  TemplateKind = "participation_note"
	TemplateReverseConvertible TemplateKind = "reverse_convertible"
	TemplateUnknown            TemplateKind = "unknown"
)

// BarrierKind classifies the contractual consequence a barrier triggers.
type BarrierKind string

const (
	BarrierAutocall   BarrierKind = "autocall"
	BarrierProtection BarrierKind = "protection"
	BarrierCoupon     BarrierKind = "coupon"
	BarrierUpper      BarrierKind = "upper"
	BarrierLower      BarrierKind = "lower"
)

// Barrier is a performance threshold declared once per product and
// referenced, never mutated, during evaluation.
type Barrier struct {
	Kind     BarrierKind     `json:"kind" db:"kind"`
	Level    decimal.Decimal `json:"level" db:"level"`       // percent of strike, 100 = at strike
	Operator string          `json:"operator" db:"operator"` // raw spelling, resolved by the engine
}

// Underlying is one basket constituent. Immutable for an evaluation run.
// The price series is owned externally and looked up by date.
type Underlying struct {
	Ticker       string          `json:"ticker" db:"ticker"`
	Name         string          `json:"name" db:"name"`
	InitialPrice decimal.Decimal `json:"initial_price" db:"initial_price"`
	Weight       decimal.Decimal `json:"weight" db:"weight"`
}

// ObservationRole tags a schedule entry with its function.
type ObservationRole string

const (
	ObservationPeriodic ObservationRole = "periodic"
	ObservationFinal    ObservationRole = "final"
)

// ObservationDate is one entry of a product's observation schedule.
type ObservationDate struct {
	Date time.Time       `json:"date" db:"observed_on"`
	Role ObservationRole `json:"role" db:"role"`
}

// ObservationSchedule is a strictly chronologically ordered sequence of
// observation dates. No two entries share a date; all entries fall between
// trade date and maturity (maturity inclusive for the final entry).
type ObservationSchedule []ObservationDate

// Validate checks non-emptiness, the entry cap, and strict chronological
// order.
func (s ObservationSchedule) Validate() error {
	if len(s) == 0 {
		return ErrEmptySchedule
	}
	if len(s) > MaxScheduleEntries {
		return ErrScheduleTooLong
	}
	for i := 1; i < len(s); i++ {
		if !s[i-1].Date.Before(s[i].Date) {
			return ErrScheduleNotChronological
		}
	}
	return nil
}

// Final returns the last schedule entry. Callers must have validated the
// schedule first.
func (s ObservationSchedule) Final() ObservationDate {
	return s[len(s)-1]
}

// Product is an immutable snapshot of one structured note's legal terms for
// the duration of a single evaluation.
type Product struct {
	ID            ProductID           `json:"id" db:"id"`
	Name          string              `json:"name" db:"name"`
	Template      TemplateKind        `json:"template" db:"template"`
	TradeDate     time.Time           `json:"trade_date" db:"trade_date"`
	MaturityDate  time.Time           `json:"maturity_date" db:"maturity_date"`
	CouponRate    decimal.Decimal     `json:"coupon_rate" db:"coupon_rate"` // percent per observation
	MemoryCoupon  bool                `json:"memory_coupon" db:"memory_coupon"`
	Participation decimal.Decimal     `json:"participation" db:"participation"` // gearing factor, 1 = none
	Underlyings   []Underlying        `json:"underlyings"`
	Barriers      []Barrier           `json:"barriers"`
	Schedule      ObservationSchedule `json:"schedule"`
}

// BarrierOfKind returns the first barrier of the given kind, or false when
// the product does not declare one.
func (p *Product) BarrierOfKind(kind BarrierKind) (Barrier, bool) {
	for _, b := range p.Barriers {
		if b.Kind == kind {
			return b, true
		}
	}
	return Barrier{}, false
}

// EventKind tags a ledger event variant.
type EventKind string

const (
	EventPay        EventKind = "PAY"
	EventAccumulate EventKind = "ACCUMULATE"
	EventReset      EventKind = "RESET"
	EventTerminate  EventKind = "TERMINATE"
	EventContinue   EventKind = "CONTINUE"
)

// LedgerEvent is one append-only entry in an evaluation's event ledger.
// Amount and Key are only meaningful for the variants that carry them
// (PAY: Amount+Description, ACCUMULATE: Key+Amount, RESET: Key).
type LedgerEvent struct {
	Kind        EventKind       `json:"kind"`
	Date        time.Time       `json:"date"`
	Amount      decimal.Decimal `json:"amount,omitempty"`
	Description string          `json:"description,omitempty"`
	Key         string          `json:"key,omitempty"`
}

// Status is the terminal classification of an evaluation run.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAutocalled Status = "autocalled"
	StatusMatured    Status = "matured"
	StatusUnknown    Status = "unknown"
)

// BarrierDistance reports how far current performance sits from one barrier,
// for UI and risk consumers. Distance = performance - (level - 100).
type BarrierDistance struct {
	Kind     BarrierKind     `json:"kind"`
	Level    decimal.Decimal `json:"level"`
	Distance decimal.Decimal `json:"distance"`
}

// EvaluationResult is the engine's sole output: deterministic given
// identical product terms and price history.
type EvaluationResult struct {
	ProductID        ProductID         `json:"product_id"`
	Status           Status            `json:"status"`
	Ledger           []LedgerEvent     `json:"ledger"`
	RedemptionValue  decimal.Decimal   `json:"redemption_value"` // percent of notional, zero until matured
	BarrierDistances []BarrierDistance `json:"barrier_distances"`
}

// TotalPaid sums all PAY events in the ledger.
func (r *EvaluationResult) TotalPaid() decimal.Decimal {
	total := decimal.Zero
	for _, ev := range r.Ledger {
		if ev.Kind == EventPay {
			total = total.Add(ev.Amount)
		}
	}
	return total
}

// Resource limits enforced by the payoff engine.
const (
	// MaxTreeDepth prevents stack overflow during recursive primitive
	// evaluation. 32 levels is far beyond any real product definition.
	MaxTreeDepth = 32

	// MaxSequenceChildren bounds SEQUENCE fan-out per node.
	MaxSequenceChildren = 64

	// MaxUnderlyings bounds basket size. Worst-of baskets in practice hold
	// 2-5 names; 32 leaves headroom for index baskets.
	MaxUnderlyings = 32

	// MaxScheduleEntries bounds observation schedules. Monthly observations
	// over a 10-year note need 120.
	MaxScheduleEntries = 512
)
