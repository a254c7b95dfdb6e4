// internal/payoff/translate.go
package payoff

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

/*
 * Legacy component translation.
 *
 * The previous product editor stored payoff logic as a tree of
 * drag-and-drop components: {type, config, children} with stringly-typed
 * config values. TranslateLegacy lowers that representation into the
 * primitive AST the interpreter evaluates. It feeds the interpreter but is
 * not itself the interpreter.
 *
 * Translation problems are collected into a ValidationResult rather than
 * thrown, so a product editor can show every issue in one pass: unknown
 * component types and malformed config are errors, operator-spelling
 * fallbacks are warnings, and near-miss type names produce suggestions.
 *
 * Config coercion is lenient for numbers (JSON float64, int, numeric
 * string all accepted) because legacy exports are inconsistent about
 * quoting, and strict for everything else.
 */

// LegacyComponent is one node of the old drag-and-drop representation.
type LegacyComponent struct {
	Type     string            `json:"type"`
	Config   map[string]any    `json:"config,omitempty"`
	Children []LegacyComponent `json:"children,omitempty"`
}

// legacyTypes is the closed set of recognized component types.
var legacyTypes = []string{
	"arithmetic",
	"autocall-check",
	"barrier-check",
	"basket-performance",
	"comparison",
	"constant",
	"coupon-payment",
	"memory-accumulate",
	"memory-pay",
	"memory-reset",
	"pay",
	"sequence",
	"terminate",
}

// TranslateLegacy lowers a legacy component tree into a primitive AST.
// The returned node is nil when the result contains errors.
func TranslateLegacy(root LegacyComponent) (*Node, *ValidationResult) {
	result := &ValidationResult{}
	node := translateComponent(root, "$", result)
	if !result.Valid() {
		return nil, result
	}
	return node, result
}

func translateComponent(c LegacyComponent, path string, result *ValidationResult) *Node {
	switch strings.ToLower(strings.TrimSpace(c.Type)) {

	case "constant":
		v, ok := numberParam(c.Config, "value")
		if !ok {
			result.addError(path, "constant requires a numeric 'value'")
			return nil
		}
		return Constant(v)

	case "basket-performance":
		switch stringParam(c.Config, "measure", "worst") {
		case "best":
			return BestOf()
		case "average", "avg":
			return AverageOf()
		default:
			return WorstOf()
		}

	case "comparison":
		return translateComparison(c, path, result)

	case "barrier-check":
		return translateBarrierCheck(c, path, result)

	case "autocall-check":
		// Legacy autocall blocks bundled the barrier test with the
		// principal payment and termination.
		level, ok := numberParam(c.Config, "level")
		if !ok {
			result.addError(path, "autocall-check requires a numeric 'level'")
			return nil
		}
		op := resolveParam(c.Config, "operator", CmpGreaterEq, path, result)
		threshold := Constant(level.Sub(decimal.NewFromInt(100)))
		cond, err := Comparison(op, Performance(), threshold, threshold)
		if err != nil {
			result.addError(path, "autocall-check: %v", err)
			return nil
		}
		return If(cond, Sequence(Pay(ConstantFloat(100), "principal"), Terminate()), nil)

	case "coupon-payment":
		rate, ok := numberParam(c.Config, "rate")
		if !ok {
			result.addError(path, "coupon-payment requires a numeric 'rate'")
			return nil
		}
		return Pay(Constant(rate), stringParam(c.Config, "description", "coupon"))

	case "memory-accumulate":
		rate, ok := numberParam(c.Config, "rate")
		if !ok {
			result.addError(path, "memory-accumulate requires a numeric 'rate'")
			return nil
		}
		return Accumulate(KeyUnpaidCoupons, Constant(rate))

	case "memory-pay":
		rate, ok := numberParam(c.Config, "rate")
		if !ok {
			result.addError(path, "memory-pay requires a numeric 'rate'")
			return nil
		}
		return Sequence(
			Pay(Add(Constant(rate), Retrieve(KeyUnpaidCoupons, ConstantFloat(0))), "coupon_with_memory"),
			Reset(KeyUnpaidCoupons),
		)

	case "memory-reset":
		return Reset(KeyUnpaidCoupons)

	case "pay":
		amount, ok := numberParam(c.Config, "amount")
		if !ok {
			result.addError(path, "pay requires a numeric 'amount'")
			return nil
		}
		return Pay(Constant(amount), stringParam(c.Config, "description", ""))

	case "arithmetic":
		return translateArithmetic(c, path, result)

	case "sequence":
		if len(c.Children) == 0 {
			result.addError(path, "sequence requires children")
			return nil
		}
		operands := make([]*Node, 0, len(c.Children))
		for i, child := range c.Children {
			n := translateComponent(child, fmt.Sprintf("%s.children[%d]", path, i), result)
			if n != nil {
				operands = append(operands, n)
			}
		}
		return Sequence(operands...)

	case "terminate":
		return Terminate()

	default:
		result.addError(path, "unknown component type %q", c.Type)
		if s := nearestType(c.Type); s != "" {
			result.Suggestions = append(result.Suggestions,
				fmt.Sprintf("%s: did you mean %q?", path, s))
		}
		return nil
	}
}

// translateBarrierCheck lowers the most common legacy block: a barrier
// condition guarding an action subtree, with an optional else subtree.
func translateBarrierCheck(c LegacyComponent, path string, result *ValidationResult) *Node {
	level, ok := numberParam(c.Config, "level")
	if !ok {
		result.addError(path, "barrier-check requires a numeric 'level'")
		return nil
	}
	op := resolveParam(c.Config, "operator", CmpGreaterEq, path, result)

	threshold := Constant(level.Sub(decimal.NewFromInt(100)))
	cond, err := Comparison(op, Performance(), threshold, threshold)
	if err != nil {
		result.addError(path, "barrier-check: %v", err)
		return nil
	}

	if len(c.Children) == 0 || len(c.Children) > 2 {
		result.addError(path, "barrier-check requires one or two children, got %d", len(c.Children))
		return nil
	}

	then := translateComponent(c.Children[0], path+".children[0]", result)
	var els *Node
	if len(c.Children) == 2 {
		els = translateComponent(c.Children[1], path+".children[1]", result)
	}
	if then == nil {
		return nil
	}
	return If(cond, then, els)
}

func translateComparison(c LegacyComponent, path string, result *ValidationResult) *Node {
	if len(c.Children) != 2 {
		result.addError(path, "comparison requires two children, got %d", len(c.Children))
		return nil
	}
	op := resolveParam(c.Config, "operator", CmpGreaterEq, path, result)
	left := translateComponent(c.Children[0], path+".children[0]", result)
	right := translateComponent(c.Children[1], path+".children[1]", result)
	if left == nil || right == nil {
		return nil
	}
	node, err := Comparison(op, left, right, right)
	if err != nil {
		result.addError(path, "comparison: %v", err)
		return nil
	}
	return node
}

var arithmeticOps = map[string]func(...*Node) *Node{
	"add":      Add,
	"sum":      Add,
	"multiply": Multiply,
	"min":      Min,
	"max":      Max,
	"average":  Average,
}

func translateArithmetic(c LegacyComponent, path string, result *ValidationResult) *Node {
	opName := stringParam(c.Config, "op", "")
	if len(c.Children) < 2 {
		result.addError(path, "arithmetic requires at least two children")
		return nil
	}
	operands := make([]*Node, 0, len(c.Children))
	for i, child := range c.Children {
		n := translateComponent(child, fmt.Sprintf("%s.children[%d]", path, i), result)
		if n == nil {
			return nil
		}
		operands = append(operands, n)
	}

	switch opName {
	case "subtract", "sub":
		return Subtract(operands[0], operands[1])
	case "divide", "div":
		return Divide(operands[0], operands[1])
	case "power", "pow":
		return Power(operands[0], operands[1])
	default:
		if build, ok := arithmeticOps[opName]; ok {
			return build(operands...)
		}
		result.addError(path, "arithmetic: unknown op %q", opName)
		return nil
	}
}

// resolveParam resolves an operator spelling from config, attaching a
// warning when the spelling is unrecognized and the fallback is used.
func resolveParam(config map[string]any, key string, fallback Operator, path string, result *ValidationResult) Operator {
	raw := stringParam(config, key, "")
	if raw == "" {
		return fallback
	}
	if op, ok := Resolved(raw); ok {
		return op
	}
	op, _ := Resolve(raw, fallback, false)
	result.addWarning(path, "unrecognized operator %q, using %s", raw, op)
	return op
}

// numberParam reads a numeric config value leniently: JSON numbers,
// integers, and numeric strings all coerce. Whitespace-only strings are
// not valid numbers.
func numberParam(config map[string]any, key string) (decimal.Decimal, bool) {
	raw, ok := config[key]
	if !ok {
		return decimal.Zero, false
	}
	switch v := raw.(type) {
	case float64:
		return decimal.NewFromFloat(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(trimmed)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	default:
		return decimal.Zero, false
	}
}

// stringParam reads a string config value, with default for absent keys.
func stringParam(config map[string]any, key, def string) string {
	if raw, ok := config[key]; ok {
		if s, ok := raw.(string); ok {
			return strings.TrimSpace(s)
		}
		return fmt.Sprintf("%v", raw)
	}
	return def
}

// nearestType suggests the closest known component type for a typo, using
// prefix overlap. Good enough for editor hints; not a general fuzzy match.
func nearestType(input string) string {
	input = strings.ToLower(strings.TrimSpace(input))
	best := ""
	bestLen := 2 // require at least 3 shared leading chars
	sorted := make([]string, len(legacyTypes))
	copy(sorted, legacyTypes)
	sort.Strings(sorted)
	for _, candidate := range sorted {
		n := commonPrefix(input, candidate)
		if n > bestLen {
			best = candidate
			bestLen = n
		}
	}
	return best
}

func commonPrefix(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}
