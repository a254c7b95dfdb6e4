// internal/payoff/node.go
package payoff

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianwm/structprod/internal/types"
)

/*
 * Primitive AST and builder.
 *
 * A Node is one primitive operation with its operand sub-trees and the
 * literal parameters its opcode needs (numeric constant, ticker, memory
 * key, payment description, reference date). Trees are acyclic, built once
 * per product definition, and immutable during evaluation.
 *
 * Validation is collected, not thrown: Validate walks the whole tree and
 * returns every arity, depth, and parameter problem at once so a product
 * editor can show all issues in a single pass.
 */

// Node is one primitive in a payoff expression tree.
type Node struct {
	Op       Opcode
	Operands []*Node

	// Literal parameters; which field is meaningful depends on Op.
	Num    decimal.Decimal // CONSTANT
	Ticker string          // CURRENT_PRICE / INITIAL_PRICE ("" = worst performer)
	Key    MemoryKey       // memory opcodes
	Label  string          // PAY description / EVENT label
	Date   time.Time       // DATE_AFTER / DATE_BEFORE
}

// --- Builders ---

// Constant builds a numeric literal node.
func Constant(d decimal.Decimal) *Node {
	return &Node{Op: OpConstant, Num: d}
}

// ConstantFloat builds a numeric literal from a float64 convenience value.
func ConstantFloat(f float64) *Node {
	return &Node{Op: OpConstant, Num: decimal.NewFromFloat(f)}
}

// CurrentPrice reads the close of one underlying on the evaluation date.
func CurrentPrice(ticker string) *Node {
	return &Node{Op: OpCurrentPrice, Ticker: ticker}
}

// InitialPrice reads the strike of one underlying.
func InitialPrice(ticker string) *Node {
	return &Node{Op: OpInitialPrice, Ticker: ticker}
}

// Performance reads the basket performance for the evaluation date.
func Performance() *Node { return &Node{Op: OpPerformance} }

// DaysElapsed reads days since trade date.
func DaysElapsed() *Node { return &Node{Op: OpDaysElapsed} }

func Add(operands ...*Node) *Node      { return &Node{Op: OpAdd, Operands: operands} }
func Subtract(a, b *Node) *Node        { return &Node{Op: OpSubtract, Operands: []*Node{a, b}} }
func Multiply(operands ...*Node) *Node { return &Node{Op: OpMultiply, Operands: operands} }
func Divide(a, b *Node) *Node          { return &Node{Op: OpDivide, Operands: []*Node{a, b}} }
func Power(a, b *Node) *Node           { return &Node{Op: OpPower, Operands: []*Node{a, b}} }
func Absolute(a *Node) *Node           { return &Node{Op: OpAbsolute, Operands: []*Node{a}} }
func Min(operands ...*Node) *Node      { return &Node{Op: OpMin, Operands: operands} }
func Max(operands ...*Node) *Node      { return &Node{Op: OpMax, Operands: operands} }
func Average(operands ...*Node) *Node  { return &Node{Op: OpAverage, Operands: operands} }

// Cap bounds x from above: min(x, bound).
func Cap(x, bound *Node) *Node { return &Node{Op: OpCap, Operands: []*Node{x, bound}} }

// Floor bounds x from below: max(x, bound).
func Floor(x, bound *Node) *Node { return &Node{Op: OpFloor, Operands: []*Node{x, bound}} }

// Clamp bounds x to [lo, hi].
func Clamp(x, lo, hi *Node) *Node { return &Node{Op: OpClamp, Operands: []*Node{x, lo, hi}} }

func Greater(a, b *Node) *Node   { return &Node{Op: OpGreater, Operands: []*Node{a, b}} }
func GreaterEq(a, b *Node) *Node { return &Node{Op: OpGreaterEq, Operands: []*Node{a, b}} }
func Less(a, b *Node) *Node      { return &Node{Op: OpLess, Operands: []*Node{a, b}} }
func LessEq(a, b *Node) *Node    { return &Node{Op: OpLessEq, Operands: []*Node{a, b}} }
func Equal(a, b *Node) *Node     { return &Node{Op: OpEqual, Operands: []*Node{a, b}} }
func NotEqual(a, b *Node) *Node  { return &Node{Op: OpNotEqual, Operands: []*Node{a, b}} }

// Between checks lo <= v <= hi (inclusive both ends).
func Between(v, lo, hi *Node) *Node {
	return &Node{Op: OpBetween, Operands: []*Node{v, lo, hi}}
}

func And(operands ...*Node) *Node { return &Node{Op: OpAnd, Operands: operands} }
func Or(operands ...*Node) *Node  { return &Node{Op: OpOr, Operands: operands} }
func Not(a *Node) *Node           { return &Node{Op: OpNot, Operands: []*Node{a}} }

// Comparison builds the comparison node for a resolved canonical operator
// applied to (value, threshold). BETWEEN and OUTSIDE need an upper bound.
func Comparison(op Operator, value, threshold, upper *Node) (*Node, error) {
	switch op {
	case CmpGreater:
		return Greater(value, threshold), nil
	case CmpGreaterEq:
		return GreaterEq(value, threshold), nil
	case CmpLess:
		return Less(value, threshold), nil
	case CmpLessEq:
		return LessEq(value, threshold), nil
	case CmpEqual:
		return Equal(value, threshold), nil
	case CmpNotEqual:
		return NotEqual(value, threshold), nil
	case CmpBetween:
		if upper == nil {
			return nil, fmt.Errorf("%w: BETWEEN requires an upper bound", types.ErrArityMismatch)
		}
		return Between(value, threshold, upper), nil
	case CmpOutside:
		if upper == nil {
			return nil, fmt.Errorf("%w: OUTSIDE requires an upper bound", types.ErrArityMismatch)
		}
		return Not(Between(value, threshold, upper)), nil
	case CmpNot:
		return NotEqual(value, threshold), nil
	case CmpTouched:
		// Close-only data: touched means at or through the level.
		return LessEq(value, threshold), nil
	case CmpNotTouched:
		return Greater(value, threshold), nil
	default:
		return nil, fmt.Errorf("%w: %s", types.ErrUnresolvedOperator, op)
	}
}

func Store(key MemoryKey, value *Node) *Node {
	return &Node{Op: OpStore, Key: key, Operands: []*Node{value}}
}

// Retrieve reads a memory value; the operand supplies the default returned
// when the key is absent. Never errors on a missing key.
func Retrieve(key MemoryKey, def *Node) *Node {
	return &Node{Op: OpRetrieve, Key: key, Operands: []*Node{def}}
}

func Accumulate(key MemoryKey, amount *Node) *Node {
	return &Node{Op: OpAccumulate, Key: key, Operands: []*Node{amount}}
}

func Increment(key MemoryKey) *Node { return &Node{Op: OpIncrement, Key: key} }
func Reset(key MemoryKey) *Node     { return &Node{Op: OpReset, Key: key} }
func Exists(key MemoryKey) *Node    { return &Node{Op: OpExists, Key: key} }

// If builds a conditional; els may be nil.
func If(cond, then, els *Node) *Node {
	operands := []*Node{cond, then}
	if els != nil {
		operands = append(operands, els)
	}
	return &Node{Op: OpIf, Operands: operands}
}

func Sequence(operands ...*Node) *Node { return &Node{Op: OpSequence, Operands: operands} }
func Terminate() *Node                 { return &Node{Op: OpTerminate} }
func Continue() *Node                  { return &Node{Op: OpContinue} }
func Skip() *Node                      { return &Node{Op: OpSkip} }

// Pay emits a payment event with the evaluated amount and a description.
func Pay(amount *Node, description string) *Node {
	return &Node{Op: OpPay, Label: description, Operands: []*Node{amount}}
}

// Event emits a labelled marker event with no amount.
func Event(label string) *Node { return &Node{Op: OpEvent, Label: label} }

func WorstOf() *Node   { return &Node{Op: OpWorstOf} }
func BestOf() *Node    { return &Node{Op: OpBestOf} }
func AverageOf() *Node { return &Node{Op: OpAverageOf} }

func CountAbove(threshold *Node) *Node {
	return &Node{Op: OpCountAbove, Operands: []*Node{threshold}}
}
func AllAbove(threshold *Node) *Node {
	return &Node{Op: OpAllAbove, Operands: []*Node{threshold}}
}
func AnyAbove(threshold *Node) *Node {
	return &Node{Op: OpAnyAbove, Operands: []*Node{threshold}}
}

func IsObservationDate() *Node { return &Node{Op: OpIsObservationDate} }
func IsMaturity() *Node        { return &Node{Op: OpIsMaturity} }
func DaysToMaturity() *Node    { return &Node{Op: OpDaysToMaturity} }
func DateAfter(t time.Time) *Node  { return &Node{Op: OpDateAfter, Date: t} }
func DateBefore(t time.Time) *Node { return &Node{Op: OpDateBefore, Date: t} }

// --- Validation ---

// Issue is one validation finding with the tree path it was found at.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationResult collects every structural problem in a primitive tree.
// Errors block evaluation; warnings and suggestions do not.
type ValidationResult struct {
	Errors      []Issue  `json:"errors"`
	Warnings    []Issue  `json:"warnings"`
	Suggestions []string `json:"suggestions"`
}

// Valid reports whether the tree may be evaluated.
func (r *ValidationResult) Valid() bool { return len(r.Errors) == 0 }

func (r *ValidationResult) addError(path, format string, args ...any) {
	r.Errors = append(r.Errors, Issue{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (r *ValidationResult) addWarning(path, format string, args ...any) {
	r.Warnings = append(r.Warnings, Issue{Path: path, Message: fmt.Sprintf(format, args...)})
}

// Validate walks the tree and collects every structural problem.
// Unknown opcodes, arity violations, missing parameters, and excessive
// depth are errors; questionable but evaluable constructs are warnings.
func Validate(root *Node) *ValidationResult {
	result := &ValidationResult{}
	if root == nil {
		result.addError("$", "empty primitive tree")
		return result
	}
	validateNode(root, "$", 0, result)
	return result
}

func validateNode(n *Node, path string, depth int, result *ValidationResult) {
	if depth > types.MaxTreeDepth {
		result.addError(path, "tree exceeds maximum depth %d", types.MaxTreeDepth)
		return
	}
	if n == nil {
		result.addError(path, "nil operand")
		return
	}

	minArity, maxArity, _, ok := Contract(n.Op)
	if !ok {
		result.addError(path, "unknown opcode %d", int(n.Op))
		return
	}

	if len(n.Operands) < minArity {
		result.addError(path, "%s requires at least %d operands, got %d", n.Op, minArity, len(n.Operands))
	}
	if maxArity >= 0 && len(n.Operands) > maxArity {
		result.addError(path, "%s accepts at most %d operands, got %d", n.Op, maxArity, len(n.Operands))
	}
	if n.Op == OpSequence && len(n.Operands) > types.MaxSequenceChildren {
		result.addError(path, "SEQUENCE exceeds %d children", types.MaxSequenceChildren)
	}

	switch n.Op {
	case OpStore, OpRetrieve, OpAccumulate, OpIncrement, OpReset, OpExists:
		if n.Key == "" {
			result.addError(path, "%s requires a memory key", n.Op)
		}
	case OpPay:
		if n.Label == "" {
			result.addWarning(path, "PAY without a description")
		}
	case OpDivide:
		if len(n.Operands) == 2 && n.Operands[1] != nil &&
			n.Operands[1].Op == OpConstant && n.Operands[1].Num.IsZero() {
			result.addError(path, "DIVIDE by constant zero")
		}
	case OpIf:
		if len(n.Operands) == 2 {
			result.Suggestions = append(result.Suggestions,
				fmt.Sprintf("%s: IF without an else branch evaluates to void when the condition fails", path))
		}
	case OpDateAfter, OpDateBefore:
		if n.Date.IsZero() {
			result.addError(path, "%s requires a reference date", n.Op)
		}
	}

	for i, child := range n.Operands {
		validateNode(child, fmt.Sprintf("%s.%s[%d]", path, n.Op, i), depth+1, result)
	}
}
