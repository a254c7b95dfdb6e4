// internal/payoff/walker.go
package payoff

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianwm/structprod/internal/types"
)

/*
 * Observation walker.
 *
 * Drives the interpreter date-by-date over a product's observation
 * schedule: PENDING -> ACTIVE -> OBSERVED* -> TERMINATED | MATURED.
 * TERMINATED and MATURED are absorbing; once reached, no further ledger
 * events are emitted even if additional schedule entries exist.
 *
 * The per-date transition is shared across templates, which differ only in
 * which barriers and actions apply (declared in templateSpec):
 *   1. Aggregate basket performance for the date.
 *   2. Autocall barrier met: pay principal, flush memory, TERMINATE.
 *   3. Coupon barrier met: PAY coupon; with memory and prior misses, pay
 *      coupon + accumulated memory and RESET the key.
 *   4. Coupon barrier missed with memory: ACCUMULATE the coupon rate.
 *   5. Final observation without autocall: apply protection barrier,
 *      compute redemption, MATURE.
 *   6. Nothing triggered: CONTINUE.
 *
 * Conditions and actions are composed as primitive trees and run through
 * Evaluate, so the walker exercises the same interpreter the product
 * editor validates against.
 *
 * Memory is recomputed from the trade date forward on every run; the
 * walker never consumes accumulated state from a previous evaluation.
 */

// WalkerState is the per-run lifecycle of the observation walk.
type WalkerState int

const (
	StatePending WalkerState = iota
	StateActive
	StateObserved
	StateTerminated
	StateMatured
)

// templateSpec declares which barriers and maturity behavior a payoff
// template uses. The per-date transition shape is shared.
type templateSpec struct {
	aggregation        Opcode // basket measure driving barrier checks
	autocall           bool
	coupons            bool
	memoryAllowed      bool
	upsideParticipates bool // positive performance passes through at maturity
	knockoutUpside     bool // upper barrier cancels upside participation
	lockBest           bool // lock running best-of into memory each date
}

var templateSpecs = map[types.TemplateKind]templateSpec{
	types.TemplatePhoenix: {
		aggregation: OpWorstOf, autocall: true, coupons: true, memoryAllowed: true,
	},
	types.TemplateOrion: {
		aggregation: OpWorstOf, autocall: true, coupons: true, memoryAllowed: false,
	},
	types.TemplateHimalaya: {
		aggregation: OpBestOf, autocall: false, coupons: false,
		upsideParticipates: true, lockBest: true,
	},
	types.TemplateSharkNote: {
		aggregation: OpWorstOf, autocall: false, coupons: false,
		upsideParticipates: true, knockoutUpside: true,
	},
	types.TemplateParticipationNote: {
		aggregation: OpWorstOf, autocall: false, coupons: false,
		upsideParticipates: true,
	},
	types.TemplateReverseConvertible: {
		aggregation: OpWorstOf, autocall: false, coupons: true, memoryAllowed: false,
	},
}

// EvaluateProduct is the engine's sole entry point: a deterministic pure
// function of (product terms, price history up to asOf).
//
// Observation dates after asOf are not processed; a product whose final
// observation lies beyond asOf evaluates to StatusPending. A product whose
// template cannot be classified yields a degraded StatusUnknown result
// rather than an error. Missing price data aborts the run with no partial
// ledger.
func EvaluateProduct(ctx context.Context, product *types.Product, prices PriceLookup, asOf time.Time, trace TraceSink) (*types.EvaluationResult, error) {
	if err := product.Schedule.Validate(); err != nil {
		return nil, err
	}
	if len(product.Underlyings) == 0 {
		return nil, types.ErrEmptyBasket
	}
	if len(product.Underlyings) > types.MaxUnderlyings {
		return nil, types.ErrTooManyUnderlyings
	}

	spec, ok := templateSpecs[product.Template]
	if !ok {
		// Degraded, not failed: unclassifiable products report unknown.
		return &types.EvaluationResult{
			ProductID: product.ID,
			Status:    types.StatusUnknown,
		}, nil
	}

	w := &walker{
		spec:    spec,
		product: product,
		ec:      NewEvalContext(product, prices, trace),
		state:   StatePending,
	}
	return w.run(ctx, asOf)
}

type walker struct {
	spec    templateSpec
	product *types.Product
	ec      *EvalContext
	state   WalkerState

	lastPerf   decimal.Decimal
	observed   bool
	redemption decimal.Decimal
}

func (w *walker) run(ctx context.Context, asOf time.Time) (*types.EvaluationResult, error) {
	w.state = StateActive

	for _, obs := range w.product.Schedule {
		if obs.Date.After(asOf) {
			break
		}
		if w.state == StateTerminated || w.state == StateMatured {
			// Absorbing states: malformed schedules must not produce
			// payments after termination.
			break
		}
		if err := w.step(ctx, obs); err != nil {
			return nil, err
		}
	}

	result := &types.EvaluationResult{
		ProductID:       w.product.ID,
		Status:          w.status(),
		Ledger:          w.ec.Ledger,
		RedemptionValue: w.redemption,
	}
	if w.observed {
		result.BarrierDistances = w.distances()
	}
	return result, nil
}

// step runs the shared per-date transition for one observation.
func (w *walker) step(ctx context.Context, obs types.ObservationDate) error {
	w.ec.Date = obs.Date
	w.ec.Role = obs.Role

	perf, err := Aggregate(ctx, w.spec.aggregation, w.product.Underlyings, obs.Date, w.ec.Prices)
	if err != nil {
		return err
	}
	w.ec.Performance = perf
	w.lastPerf = perf
	w.observed = true
	w.state = StateObserved
	w.ec.Trace.Trace("walker.observe",
		"date", obs.Date.Format("2006-01-02"),
		"role", string(obs.Role),
		"performance", perf.String())

	if w.spec.lockBest {
		if err := w.lockBestPerformance(ctx); err != nil {
			return err
		}
	}

	triggered, err := w.checkAutocall(ctx)
	if err != nil {
		return err
	}
	if triggered {
		w.state = StateTerminated
		return nil
	}

	acted := false
	if w.spec.coupons {
		acted, err = w.checkCoupon(ctx)
		if err != nil {
			return err
		}
	}

	if obs.Role == types.ObservationFinal {
		if err := w.mature(ctx); err != nil {
			return err
		}
		w.state = StateMatured
		return nil
	}

	if !acted {
		w.ec.EmitContinue()
	}
	return nil
}

// checkAutocall applies step 2: autocall barrier, principal payment,
// memory flush, TERMINATE.
func (w *walker) checkAutocall(ctx context.Context) (bool, error) {
	if !w.spec.autocall {
		return false, nil
	}
	barrier, ok := w.product.BarrierOfKind(types.BarrierAutocall)
	if !ok {
		return false, nil
	}

	met, err := w.barrierMet(ctx, barrier)
	if err != nil || !met {
		return false, err
	}

	actions := []*Node{Pay(ConstantFloat(100), "principal")}
	if w.memoryEnabled() && w.ec.Memory.Exists(KeyUnpaidCoupons) {
		unpaid := w.ec.Memory.Retrieve(KeyUnpaidCoupons, decimal.Zero)
		if unpaid.IsPositive() {
			// Accrued memory coupons settle with the autocall.
			actions = append(actions,
				Pay(Retrieve(KeyUnpaidCoupons, ConstantFloat(0)), "coupon_with_memory"),
				Reset(KeyUnpaidCoupons))
		}
	}
	actions = append(actions, Terminate())

	_, err = Evaluate(ctx, Sequence(actions...), w.ec)
	return err == nil, err
}

// checkCoupon applies steps 3 and 4: coupon payment with optional memory
// semantics. Returns true when a ledger event was emitted for this date.
func (w *walker) checkCoupon(ctx context.Context) (bool, error) {
	barrier, ok := w.product.BarrierOfKind(types.BarrierCoupon)
	if !ok {
		return false, nil
	}

	met, err := w.barrierMet(ctx, barrier)
	if err != nil {
		return false, err
	}

	coupon := Constant(w.product.CouponRate)

	if met {
		var action *Node
		if w.memoryEnabled() && w.ec.Memory.Retrieve(KeyUnpaidCoupons, decimal.Zero).IsPositive() {
			// Pay-with-memory: accumulated misses settle with this coupon.
			action = Sequence(
				Pay(Add(coupon, Retrieve(KeyUnpaidCoupons, ConstantFloat(0))), "coupon_with_memory"),
				Reset(KeyUnpaidCoupons),
			)
		} else {
			action = Pay(coupon, "coupon")
		}
		if _, err := Evaluate(ctx, action, w.ec); err != nil {
			return false, err
		}
		return true, nil
	}

	if w.memoryEnabled() {
		if _, err := Evaluate(ctx, Accumulate(KeyUnpaidCoupons, coupon), w.ec); err != nil {
			return false, err
		}
		return true, nil
	}

	return false, nil
}

// mature applies step 5: protection barrier and redemption at the final
// observation.
func (w *walker) mature(ctx context.Context) error {
	perf := w.ec.Performance
	participation := w.participation()

	redemption := decimal.NewFromInt(100)

	protection, hasProtection := w.product.BarrierOfKind(types.BarrierProtection)
	protected := true
	if hasProtection {
		var err error
		protected, err = w.barrierMet(ctx, protection)
		if err != nil {
			return err
		}
	}

	switch {
	case !protected:
		// Downside pass-through, scaled by gearing.
		redemption = decimal.NewFromInt(100).Add(perf.Mul(participation))
	case w.spec.upsideParticipates && perf.IsPositive():
		upside := perf.Mul(participation)
		if w.spec.knockoutUpside {
			knocked, err := w.upperKnockedOut(ctx)
			if err != nil {
				return err
			}
			if knocked {
				// Shark fin: breach of the upper barrier cancels upside,
				// leaving principal plus the fixed rebate.
				upside = w.product.CouponRate
			}
		}
		redemption = decimal.NewFromInt(100).Add(upside)
	case w.spec.lockBest:
		locked := w.ec.Memory.Retrieve(KeyLockedPerformance, decimal.Zero)
		if locked.IsPositive() {
			redemption = decimal.NewFromInt(100).Add(locked.Mul(participation))
		}
	}

	w.redemption = redemption
	_, err := Evaluate(ctx, Pay(Constant(redemption), "redemption"), w.ec)
	return err
}

// lockBestPerformance keeps the running best observed basket performance
// in memory (Himalaya lock-in).
func (w *walker) lockBestPerformance(ctx context.Context) error {
	node := Store(KeyLockedPerformance,
		Max(Retrieve(KeyLockedPerformance, Performance()), Performance()))
	_, err := Evaluate(ctx, node, w.ec)
	return err
}

// upperKnockedOut checks the shark note's upper barrier against the
// current performance.
func (w *walker) upperKnockedOut(ctx context.Context) (bool, error) {
	upper, ok := w.product.BarrierOfKind(types.BarrierUpper)
	if !ok {
		return false, nil
	}
	return w.barrierMet(ctx, upper)
}

// barrierMet builds the barrier's comparison as a primitive tree and
// evaluates it against the current context. The barrier level is a
// percentage of strike, so the performance threshold is level - 100.
// Unresolvable operator spellings fall back to >= with a trace diagnostic.
func (w *walker) barrierMet(ctx context.Context, barrier types.Barrier) (bool, error) {
	op, _ := Resolve(barrier.Operator, CmpGreaterEq, false)
	if _, known := Resolved(barrier.Operator); !known && barrier.Operator != "" {
		w.ec.Trace.Trace("operator.fallback",
			"input", barrier.Operator, "fallback", op.String())
	}

	threshold := barrier.Level.Sub(decimal.NewFromInt(100))
	cond, err := Comparison(op, Performance(), Constant(threshold), Constant(threshold))
	if err != nil {
		return false, err
	}
	met, err := evalBool(ctx, cond, w.ec, 0)
	if err != nil {
		return false, err
	}
	return met, nil
}

func (w *walker) memoryEnabled() bool {
	return w.spec.memoryAllowed && w.product.MemoryCoupon
}

func (w *walker) participation() decimal.Decimal {
	if w.product.Participation.IsZero() {
		return decimal.NewFromInt(1)
	}
	return w.product.Participation
}

func (w *walker) status() types.Status {
	switch w.state {
	case StateTerminated:
		return types.StatusAutocalled
	case StateMatured:
		return types.StatusMatured
	default:
		return types.StatusPending
	}
}

// distances reports performance distance to every configured barrier using
// the last observed performance: distance = performance - (level - 100).
// One convention for every barrier kind; consumers rely on the sign being
// comparable across kinds.
func (w *walker) distances() []types.BarrierDistance {
	out := make([]types.BarrierDistance, 0, len(w.product.Barriers))
	for _, b := range w.product.Barriers {
		out = append(out, types.BarrierDistance{
			Kind:     b.Kind,
			Level:    b.Level,
			Distance: w.lastPerf.Sub(b.Level.Sub(decimal.NewFromInt(100))),
		})
	}
	return out
}
