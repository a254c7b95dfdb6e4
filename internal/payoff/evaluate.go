// internal/payoff/evaluate.go
package payoff

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/meridianwm/structprod/internal/types"
)

/*
 * Primitive interpreter.
 *
 * Evaluate recursively evaluates one primitive node against the per-run
 * EvalContext, producing a Value and recording side effects (payments,
 * memory mutations, termination) on the context's ledger.
 *
 * Dispatch is a closed switch over the opcode enum. Control flow
 * short-circuits: IF evaluates the condition then exactly one branch;
 * AND/OR stop at the first deciding operand; RETRIEVE evaluates its
 * default operand only when the key is absent. Terminal signals
 * (TERMINATE / CONTINUE / SKIP) propagate upward immediately — a SEQUENCE
 * stops at the first signal so no side effect runs after a termination.
 *
 * Arithmetic is decimal throughout. Division by zero and unrepresentable
 * POWER results are evaluation errors, never silently coerced.
 */

// Signal is a terminal control-flow marker the Observation Walker detects.
type Signal int

const (
	SignalNone Signal = iota
	SignalTerminate
	SignalContinue
	SignalSkip
)

// Value is the tagged result of evaluating one primitive.
type Value struct {
	Kind   Kind
	Num    decimal.Decimal
	Bool   bool
	Signal Signal
	List   []Value
}

func numberValue(d decimal.Decimal) Value { return Value{Kind: KindNumber, Num: d} }
func boolValue(b bool) Value              { return Value{Kind: KindBool, Bool: b} }
func voidValue() Value                    { return Value{Kind: KindVoid} }
func signalValue(s Signal) Value          { return Value{Kind: KindSignal, Signal: s} }

// IsSignal reports whether the value is a terminal control-flow signal.
func (v Value) IsSignal() bool { return v.Kind == KindSignal }

// Evaluate evaluates a primitive tree against the per-run context.
// The caller is responsible for validating the tree first; Evaluate still
// rejects unknown opcodes and operand kind mismatches defensively.
func Evaluate(ctx context.Context, n *Node, ec *EvalContext) (Value, error) {
	return eval(ctx, n, ec, 0)
}

func eval(ctx context.Context, n *Node, ec *EvalContext, depth int) (Value, error) {
	if depth > types.MaxTreeDepth {
		return Value{}, types.ErrTreeTooDeep
	}
	if n == nil {
		return Value{}, fmt.Errorf("%w: nil node", types.ErrInvalidOpcode)
	}
	if min := minOperands(n.Op); len(n.Operands) < min {
		return Value{}, fmt.Errorf("%w: %s needs %d operands, got %d",
			types.ErrArityMismatch, n.Op, min, len(n.Operands))
	}

	switch n.Op {

	// --- Data access ---

	case OpCurrentPrice:
		u, err := ec.underlying(n.Ticker)
		if err != nil {
			return Value{}, err
		}
		px, err := ec.Prices.PriceOnDate(ctx, u.Ticker, ec.Date)
		if err != nil {
			return Value{}, err
		}
		return numberValue(px), nil

	case OpInitialPrice:
		u, err := ec.underlying(n.Ticker)
		if err != nil {
			return Value{}, err
		}
		return numberValue(u.InitialPrice), nil

	case OpPerformance:
		return numberValue(ec.Performance), nil

	case OpConstant:
		return numberValue(n.Num), nil

	case OpCurrentDate:
		days := ec.Date.Unix() / 86400
		return numberValue(decimal.NewFromInt(days)), nil

	case OpDaysElapsed:
		days := int64(ec.Date.Sub(ec.Product.TradeDate).Hours() / 24)
		return numberValue(decimal.NewFromInt(days)), nil

	// --- Arithmetic ---

	case OpAdd, OpMultiply, OpMin, OpMax, OpAverage:
		nums, err := evalNumbers(ctx, n.Operands, ec, depth)
		if err != nil {
			return Value{}, err
		}
		return numberValue(fold(n.Op, nums)), nil

	case OpSubtract:
		a, b, err := evalPair(ctx, n, ec, depth)
		if err != nil {
			return Value{}, err
		}
		return numberValue(a.Sub(b)), nil

	case OpDivide:
		a, b, err := evalPair(ctx, n, ec, depth)
		if err != nil {
			return Value{}, err
		}
		if b.IsZero() {
			return Value{}, fmt.Errorf("%w: %s / 0", types.ErrDivisionByZero, a)
		}
		return numberValue(a.Div(b)), nil

	case OpPower:
		a, b, err := evalPair(ctx, n, ec, depth)
		if err != nil {
			return Value{}, err
		}
		result, err := a.PowWithPrecision(b, 16)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %s ^ %s: %v", types.ErrNonFiniteResult, a, b, err)
		}
		return numberValue(result), nil

	case OpAbsolute:
		a, err := evalNumber(ctx, n.Operands[0], ec, depth)
		if err != nil {
			return Value{}, err
		}
		return numberValue(a.Abs()), nil

	case OpCap:
		a, b, err := evalPair(ctx, n, ec, depth)
		if err != nil {
			return Value{}, err
		}
		return numberValue(decimal.Min(a, b)), nil

	case OpFloor:
		a, b, err := evalPair(ctx, n, ec, depth)
		if err != nil {
			return Value{}, err
		}
		return numberValue(decimal.Max(a, b)), nil

	case OpClamp:
		nums, err := evalNumbers(ctx, n.Operands, ec, depth)
		if err != nil {
			return Value{}, err
		}
		return numberValue(decimal.Min(decimal.Max(nums[0], nums[1]), nums[2])), nil

	// --- Comparison and logic ---

	case OpGreater, OpGreaterEq, OpLess, OpLessEq, OpEqual, OpNotEqual:
		a, b, err := evalPair(ctx, n, ec, depth)
		if err != nil {
			return Value{}, err
		}
		return boolValue(comparePair(n.Op, a, b)), nil

	case OpBetween:
		nums, err := evalNumbers(ctx, n.Operands, ec, depth)
		if err != nil {
			return Value{}, err
		}
		inside := nums[0].GreaterThanOrEqual(nums[1]) && nums[0].LessThanOrEqual(nums[2])
		return boolValue(inside), nil

	case OpAnd:
		for _, operand := range n.Operands {
			b, err := evalBool(ctx, operand, ec, depth)
			if err != nil {
				return Value{}, err
			}
			if !b {
				return boolValue(false), nil
			}
		}
		return boolValue(true), nil

	case OpOr:
		for _, operand := range n.Operands {
			b, err := evalBool(ctx, operand, ec, depth)
			if err != nil {
				return Value{}, err
			}
			if b {
				return boolValue(true), nil
			}
		}
		return boolValue(false), nil

	case OpNot:
		b, err := evalBool(ctx, n.Operands[0], ec, depth)
		if err != nil {
			return Value{}, err
		}
		return boolValue(!b), nil

	// --- Memory ---

	case OpStore:
		v, err := evalNumber(ctx, n.Operands[0], ec, depth)
		if err != nil {
			return Value{}, err
		}
		ec.Memory.Set(n.Key, v)
		return voidValue(), nil

	case OpRetrieve:
		if ec.Memory.Exists(n.Key) {
			return numberValue(ec.Memory.Retrieve(n.Key, decimal.Zero)), nil
		}
		// Default operand evaluated only when the key is absent.
		def, err := evalNumber(ctx, n.Operands[0], ec, depth)
		if err != nil {
			return Value{}, err
		}
		return numberValue(def), nil

	case OpAccumulate:
		amount, err := evalNumber(ctx, n.Operands[0], ec, depth)
		if err != nil {
			return Value{}, err
		}
		ec.EmitAccumulate(n.Key, amount)
		return voidValue(), nil

	case OpIncrement:
		ec.Memory.Accumulate(n.Key, decimal.NewFromInt(1))
		return voidValue(), nil

	case OpReset:
		ec.EmitReset(n.Key)
		return voidValue(), nil

	case OpExists:
		return boolValue(ec.Memory.Exists(n.Key)), nil

	// --- Control flow ---

	case OpIf:
		cond, err := evalBool(ctx, n.Operands[0], ec, depth)
		if err != nil {
			return Value{}, err
		}
		if cond {
			return eval(ctx, n.Operands[1], ec, depth+1)
		}
		if len(n.Operands) == 3 {
			return eval(ctx, n.Operands[2], ec, depth+1)
		}
		return voidValue(), nil

	case OpSequence:
		results := make([]Value, 0, len(n.Operands))
		for _, child := range n.Operands {
			v, err := eval(ctx, child, ec, depth+1)
			if err != nil {
				return Value{}, err
			}
			results = append(results, v)
			if v.IsSignal() {
				// Nothing after a terminal signal runs.
				return v, nil
			}
		}
		return Value{Kind: KindList, List: results}, nil

	case OpTerminate:
		ec.EmitTerminate()
		return signalValue(SignalTerminate), nil

	case OpContinue:
		ec.EmitContinue()
		return signalValue(SignalContinue), nil

	case OpSkip:
		return signalValue(SignalSkip), nil

	// --- Actions ---

	case OpPay:
		amount, err := evalNumber(ctx, n.Operands[0], ec, depth)
		if err != nil {
			return Value{}, err
		}
		ec.EmitPay(amount, n.Label)
		return voidValue(), nil

	case OpEvent:
		ec.Trace.Trace("event", "label", n.Label, "date", ec.Date.Format("2006-01-02"))
		return voidValue(), nil

	// --- Aggregation ---

	case OpWorstOf, OpBestOf, OpAverageOf:
		agg, err := Aggregate(ctx, n.Op, ec.Product.Underlyings, ec.Date, ec.Prices)
		if err != nil {
			return Value{}, err
		}
		return numberValue(agg), nil

	case OpCountAbove:
		threshold, err := evalNumber(ctx, n.Operands[0], ec, depth)
		if err != nil {
			return Value{}, err
		}
		count, err := CountPerformingAbove(ctx, ec.Product.Underlyings, ec.Date, threshold, ec.Prices)
		if err != nil {
			return Value{}, err
		}
		return numberValue(decimal.NewFromInt(int64(count))), nil

	case OpAllAbove, OpAnyAbove:
		threshold, err := evalNumber(ctx, n.Operands[0], ec, depth)
		if err != nil {
			return Value{}, err
		}
		count, err := CountPerformingAbove(ctx, ec.Product.Underlyings, ec.Date, threshold, ec.Prices)
		if err != nil {
			return Value{}, err
		}
		if n.Op == OpAllAbove {
			return boolValue(count == len(ec.Product.Underlyings)), nil
		}
		return boolValue(count > 0), nil

	// --- Time ---

	case OpIsObservationDate:
		return boolValue(ec.Role != ""), nil

	case OpIsMaturity:
		return boolValue(ec.Role == types.ObservationFinal), nil

	case OpDaysToMaturity:
		days := int64(ec.Product.MaturityDate.Sub(ec.Date).Hours() / 24)
		return numberValue(decimal.NewFromInt(days)), nil

	case OpDateAfter:
		return boolValue(ec.Date.After(n.Date)), nil

	case OpDateBefore:
		return boolValue(ec.Date.Before(n.Date)), nil

	default:
		return Value{}, fmt.Errorf("%w: %d", types.ErrInvalidOpcode, int(n.Op))
	}
}

// minOperands is the operand floor per opcode. Checked before dispatch so a
// malformed tree fails with ErrArityMismatch instead of indexing past the
// operand slice.
func minOperands(op Opcode) int {
	switch op {
	case OpAdd, OpMultiply, OpMin, OpMax, OpAverage,
		OpAbsolute, OpNot, OpStore, OpRetrieve, OpAccumulate, OpPay,
		OpCountAbove, OpAllAbove, OpAnyAbove:
		return 1
	case OpSubtract, OpDivide, OpPower, OpCap, OpFloor,
		OpGreater, OpGreaterEq, OpLess, OpLessEq, OpEqual, OpNotEqual,
		OpIf:
		return 2
	case OpClamp, OpBetween:
		return 3
	default:
		return 0
	}
}

// underlying resolves an explicit ticker, or the sole basket constituent
// when the ticker is empty.
func (c *EvalContext) underlying(ticker string) (types.Underlying, error) {
	if ticker == "" {
		if len(c.Product.Underlyings) == 1 {
			return c.Product.Underlyings[0], nil
		}
		return types.Underlying{}, fmt.Errorf("%w: ticker required for multi-underlying basket", types.ErrTypeMismatch)
	}
	for _, u := range c.Product.Underlyings {
		if u.Ticker == ticker {
			return u, nil
		}
	}
	return types.Underlying{}, fmt.Errorf("%w: unknown underlying %q", types.ErrTypeMismatch, ticker)
}

// evalNumber evaluates an operand and requires a numeric result.
func evalNumber(ctx context.Context, n *Node, ec *EvalContext, depth int) (decimal.Decimal, error) {
	v, err := eval(ctx, n, ec, depth+1)
	if err != nil {
		return decimal.Zero, err
	}
	if v.Kind != KindNumber {
		return decimal.Zero, fmt.Errorf("%w: %s is not numeric", types.ErrTypeMismatch, n.Op)
	}
	return v.Num, nil
}

// evalBool evaluates an operand and requires a boolean result.
func evalBool(ctx context.Context, n *Node, ec *EvalContext, depth int) (bool, error) {
	v, err := eval(ctx, n, ec, depth+1)
	if err != nil {
		return false, err
	}
	if v.Kind != KindBool {
		return false, fmt.Errorf("%w: %s is not boolean", types.ErrTypeMismatch, n.Op)
	}
	return v.Bool, nil
}

// evalPair evaluates exactly two numeric operands.
func evalPair(ctx context.Context, n *Node, ec *EvalContext, depth int) (decimal.Decimal, decimal.Decimal, error) {
	a, err := evalNumber(ctx, n.Operands[0], ec, depth)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	b, err := evalNumber(ctx, n.Operands[1], ec, depth)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return a, b, nil
}

// evalNumbers evaluates all operands as numbers, left to right.
func evalNumbers(ctx context.Context, operands []*Node, ec *EvalContext, depth int) ([]decimal.Decimal, error) {
	nums := make([]decimal.Decimal, 0, len(operands))
	for _, operand := range operands {
		v, err := evalNumber(ctx, operand, ec, depth)
		if err != nil {
			return nil, err
		}
		nums = append(nums, v)
	}
	return nums, nil
}

// fold applies a variadic numeric reduction.
func fold(op Opcode, nums []decimal.Decimal) decimal.Decimal {
	acc := nums[0]
	for _, v := range nums[1:] {
		switch op {
		case OpAdd, OpAverage:
			acc = acc.Add(v)
		case OpMultiply:
			acc = acc.Mul(v)
		case OpMin:
			acc = decimal.Min(acc, v)
		case OpMax:
			acc = decimal.Max(acc, v)
		}
	}
	if op == OpAverage {
		acc = acc.Div(decimal.NewFromInt(int64(len(nums))))
	}
	return acc
}

// comparePair applies a two-operand comparison opcode.
func comparePair(op Opcode, a, b decimal.Decimal) bool {
	switch op {
	case OpGreater:
		return a.GreaterThan(b)
	case OpGreaterEq:
		return a.GreaterThanOrEqual(b)
	case OpLess:
		return a.LessThan(b)
	case OpLessEq:
		return a.LessThanOrEqual(b)
	case OpEqual:
		return a.Equal(b)
	case OpNotEqual:
		return !a.Equal(b)
	default:
		return false
	}
}
