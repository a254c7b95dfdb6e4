// internal/payoff/context.go
package payoff

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianwm/structprod/internal/types"
)

/*
 * Per-run evaluation state.
 *
 * EvalContext holds everything mutable during one product evaluation: the
 * current observation date, the basket performance for that date, the
 * memory store, and the append-only event ledger. Created fresh at the
 * start of an evaluation and discarded at the end; never shared across
 * products or reused between runs. Correctness depends on recomputing the
 * full accumulation history from the trade date forward on every run, which
 * keeps the engine a pure function of (product terms, price history).
 *
 * Traces go to an explicitly injected TraceSink rather than any global
 * logger, so evaluation traces are reproducible in tests.
 */

// MemoryKey is a typed key into the per-run memory store. Canonical keys
// are declared here per template concern; free-form strings are not used,
// which removes a class of typo bugs between ACCUMULATE and RESET sites.
type MemoryKey string

const (
	// KeyUnpaidCoupons accumulates missed memory coupons until the next
	// date the coupon barrier is met.
	KeyUnpaidCoupons MemoryKey = "unpaid_coupons"

	// KeyCouponsPaid tracks the running total of paid coupons.
	KeyCouponsPaid MemoryKey = "coupons_paid"

	// KeyObservationsSeen counts observation dates processed.
	KeyObservationsSeen MemoryKey = "observations_seen"

	// KeyLockedPerformance stores a locked-in performance level
	// (Himalaya-style best-performer lock).
	KeyLockedPerformance MemoryKey = "locked_performance"
)

// MemoryStore is the per-run accumulate/retrieve/reset map.
// Never initialized from a prior run's state.
type MemoryStore struct {
	values map[MemoryKey]decimal.Decimal
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[MemoryKey]decimal.Decimal)}
}

// Accumulate adds amount to the existing value, initializing to amount if
// the key is absent.
func (m *MemoryStore) Accumulate(key MemoryKey, amount decimal.Decimal) {
	m.values[key] = m.values[key].Add(amount)
}

// Set overwrites the value for key.
func (m *MemoryStore) Set(key MemoryKey, value decimal.Decimal) {
	m.values[key] = value
}

// Retrieve returns the value for key, or def when the key is absent.
// Never errors on a missing key.
func (m *MemoryStore) Retrieve(key MemoryKey, def decimal.Decimal) decimal.Decimal {
	if v, ok := m.values[key]; ok {
		return v
	}
	return def
}

// Reset sets the value for key to zero.
func (m *MemoryStore) Reset(key MemoryKey) {
	m.values[key] = decimal.Zero
}

// Exists reports whether key has ever been written this run.
func (m *MemoryStore) Exists(key MemoryKey) bool {
	_, ok := m.values[key]
	return ok
}

// TraceSink receives evaluation trace events. Injected per run; the engine
// keeps no global trace state.
type TraceSink interface {
	Trace(event string, attrs ...any)
}

// NopTrace discards all trace events.
type NopTrace struct{}

func (NopTrace) Trace(string, ...any) {}

// SlogTrace forwards trace events to a structured logger at debug level.
type SlogTrace struct {
	Logger *slog.Logger
}

func (t SlogTrace) Trace(event string, attrs ...any) {
	t.Logger.Debug(event, attrs...)
}

// CollectorTrace records trace events for test assertions.
type CollectorTrace struct {
	Events []string
}

func (t *CollectorTrace) Trace(event string, attrs ...any) {
	t.Events = append(t.Events, event)
}

// EvalContext is the mutable per-run state one evaluation owns.
type EvalContext struct {
	Product     *types.Product
	Prices      PriceLookup
	Date        time.Time       // current observation date
	Role        types.ObservationRole
	Performance decimal.Decimal // basket performance for Date
	Memory      *MemoryStore
	Ledger      []types.LedgerEvent
	Trace       TraceSink

	terminated bool
}

// NewEvalContext creates fresh per-run state for one product evaluation.
// A nil trace sink is replaced with NopTrace.
func NewEvalContext(product *types.Product, prices PriceLookup, trace TraceSink) *EvalContext {
	if trace == nil {
		trace = NopTrace{}
	}
	return &EvalContext{
		Product: product,
		Prices:  prices,
		Memory:  NewMemoryStore(),
		Trace:   trace,
	}
}

// Terminated reports whether a TERMINATE event has been appended.
func (c *EvalContext) Terminated() bool { return c.terminated }

// append adds a ledger event unless the run has terminated. Events after
// termination are dropped and traced; malformed schedules must not produce
// payments after an autocall.
func (c *EvalContext) append(ev types.LedgerEvent) {
	if c.terminated {
		c.Trace.Trace("ledger.dropped_after_terminate", "kind", string(ev.Kind))
		return
	}
	c.Ledger = append(c.Ledger, ev)
	if ev.Kind == types.EventTerminate {
		c.terminated = true
	}
}

// EmitPay appends a PAY event.
func (c *EvalContext) EmitPay(amount decimal.Decimal, description string) {
	c.Trace.Trace("ledger.pay", "amount", amount.String(), "description", description)
	c.append(types.LedgerEvent{
		Kind:        types.EventPay,
		Date:        c.Date,
		Amount:      amount,
		Description: description,
	})
}

// EmitAccumulate appends an ACCUMULATE event and updates memory.
func (c *EvalContext) EmitAccumulate(key MemoryKey, amount decimal.Decimal) {
	if c.terminated {
		c.Trace.Trace("ledger.dropped_after_terminate", "kind", string(types.EventAccumulate))
		return
	}
	c.Memory.Accumulate(key, amount)
	c.Trace.Trace("ledger.accumulate", "key", string(key), "amount", amount.String())
	c.append(types.LedgerEvent{
		Kind:   types.EventAccumulate,
		Date:   c.Date,
		Amount: amount,
		Key:    string(key),
	})
}

// EmitReset appends a RESET event and zeroes the memory key.
func (c *EvalContext) EmitReset(key MemoryKey) {
	if c.terminated {
		c.Trace.Trace("ledger.dropped_after_terminate", "kind", string(types.EventReset))
		return
	}
	c.Memory.Reset(key)
	c.Trace.Trace("ledger.reset", "key", string(key))
	c.append(types.LedgerEvent{Kind: types.EventReset, Date: c.Date, Key: string(key)})
}

// EmitTerminate appends the absorbing TERMINATE event.
func (c *EvalContext) EmitTerminate() {
	c.Trace.Trace("ledger.terminate")
	c.append(types.LedgerEvent{Kind: types.EventTerminate, Date: c.Date})
}

// EmitContinue appends a CONTINUE event.
func (c *EvalContext) EmitContinue() {
	c.append(types.LedgerEvent{Kind: types.EventContinue, Date: c.Date})
}
