// internal/payoff/operators.go
package payoff

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/meridianwm/structprod/internal/types"
)

/*
 * Comparison operator resolution and application.
 *
 * Product terms arrive with heterogeneous operator spellings: human labels
 * ("at or above"), symbols (">="), identifier-case variants ("atOrAbove",
 * "at_or_above"), and abbreviations ("gte"). Resolve canonicalizes every
 * recognized spelling into one closed Operator set.
 *
 * Stability contract: product definitions persist the resolved operator's
 * effect implicitly, so any spelling recognized today must resolve
 * identically forever. The table below is append-only; entries are never
 * reshuffled between versions.
 *
 * Why function-based Compare: eleven operators via one switch reads better
 * than eleven single-method implementations with near-identical bodies.
 */

// Operator is one canonical comparison operator.
type Operator int

const (
	CmpUnspecified Operator = iota
	CmpGreater
	CmpGreaterEq
	CmpLess
	CmpLessEq
	CmpEqual
	CmpNotEqual
	CmpBetween
	CmpOutside
	CmpNot
	CmpTouched
	CmpNotTouched
)

var operatorNames = map[Operator]string{
	CmpGreater:    ">",
	CmpGreaterEq:  ">=",
	CmpLess:       "<",
	CmpLessEq:     "<=",
	CmpEqual:      "==",
	CmpNotEqual:   "!=",
	CmpBetween:    "BETWEEN",
	CmpOutside:    "OUTSIDE",
	CmpNot:        "NOT",
	CmpTouched:    "TOUCHED",
	CmpNotTouched: "NOT_TOUCHED",
}

// String returns the canonical operator label.
func (op Operator) String() string {
	if s, ok := operatorNames[op]; ok {
		return s
	}
	return "UNSPECIFIED"
}

// spellings maps every recognized input (after trim + lowercase) to its
// canonical operator. Append-only: never reorder, never repurpose an entry.
var spellings = map[string]Operator{
	// strictly greater
	">":              CmpGreater,
	"gt":             CmpGreater,
	"greater":        CmpGreater,
	"greater than":   CmpGreater,
	"greater_than":   CmpGreater,
	"greaterthan":    CmpGreater,
	"above":          CmpGreater,
	"over":           CmpGreater,
	"strictly above": CmpGreater,

	// greater or equal
	">=":          CmpGreaterEq,
	"=>":          CmpGreaterEq,
	"gte":         CmpGreaterEq,
	"ge":          CmpGreaterEq,
	"at or above": CmpGreaterEq,
	"at_or_above": CmpGreaterEq,
	"atorabove":   CmpGreaterEq,
	"at least":    CmpGreaterEq,
	"at_least":    CmpGreaterEq,
	"atleast":     CmpGreaterEq,
	"min":         CmpGreaterEq,
	"not below":   CmpGreaterEq,

	// strictly less
	"<":            CmpLess,
	"lt":           CmpLess,
	"less":         CmpLess,
	"less than":    CmpLess,
	"less_than":    CmpLess,
	"lessthan":     CmpLess,
	"below":        CmpLess,
	"under":        CmpLess,
	"beneath":      CmpLess,
	"strictly below": CmpLess,

	// less or equal
	"<=":          CmpLessEq,
	"=<":          CmpLessEq,
	"lte":         CmpLessEq,
	"le":          CmpLessEq,
	"at or below": CmpLessEq,
	"at_or_below": CmpLessEq,
	"atorbelow":   CmpLessEq,
	"at most":     CmpLessEq,
	"at_most":     CmpLessEq,
	"atmost":      CmpLessEq,
	"max":         CmpLessEq,
	"not above":   CmpLessEq,

	// equality
	"=":        CmpEqual,
	"==":       CmpEqual,
	"eq":       CmpEqual,
	"equal":    CmpEqual,
	"equals":   CmpEqual,
	"equal to": CmpEqual,
	"equal_to": CmpEqual,
	"equalto":  CmpEqual,
	"at":       CmpEqual,

	// inequality
	"!=":           CmpNotEqual,
	"<>":           CmpNotEqual,
	"neq":          CmpNotEqual,
	"ne":           CmpNotEqual,
	"not equal":    CmpNotEqual,
	"not_equal":    CmpNotEqual,
	"notequal":     CmpNotEqual,
	"not equal to": CmpNotEqual,
	"different":    CmpNotEqual,

	// range
	"between":    CmpBetween,
	"within":     CmpBetween,
	"in range":   CmpBetween,
	"in_range":   CmpBetween,
	"inrange":    CmpBetween,
	"inside":     CmpBetween,
	"outside":    CmpOutside,
	"out of range": CmpOutside,
	"out_of_range": CmpOutside,
	"outofrange":   CmpOutside,

	// negation
	"not": CmpNot,
	"!":   CmpNot,

	// barrier touch
	"touched":      CmpTouched,
	"touch":        CmpTouched,
	"hit":          CmpTouched,
	"breached":     CmpTouched,
	"knocked in":   CmpTouched,
	"knocked_in":   CmpTouched,
	"knockedin":    CmpTouched,
	"not touched":  CmpNotTouched,
	"not_touched":  CmpNotTouched,
	"nottouched":   CmpNotTouched,
	"untouched":    CmpNotTouched,
	"never touched": CmpNotTouched,
	"not breached":  CmpNotTouched,
	"not_breached":  CmpNotTouched,
}

// Resolve canonicalizes an operator spelling. Normalizes by trimming and
// lowercasing, then consults the closed spelling table.
//
// In strict mode unresolved input returns ErrUnresolvedOperator. In
// non-strict mode it returns fallback; callers surface the fallback as a
// warning (the translator collects it into the ValidationResult).
func Resolve(input string, fallback Operator, strict bool) (Operator, error) {
	normalized := normalizeSpelling(input)
	if normalized != "" {
		if op, ok := spellings[normalized]; ok {
			return op, nil
		}
	}
	if strict {
		return CmpUnspecified, fmt.Errorf("%w: %q", types.ErrUnresolvedOperator, input)
	}
	return fallback, nil
}

// Resolved reports whether a spelling is in the table, without fallback
// semantics. Used by the translator to decide when to attach a warning.
func Resolved(input string) (Operator, bool) {
	op, ok := spellings[normalizeSpelling(input)]
	return op, ok
}

// normalizeSpelling lowers camelCase into spaced words then trims and
// lowercases, so "atOrAbove" and "at or above" normalize identically.
func normalizeSpelling(input string) string {
	var b strings.Builder
	for i, r := range input {
		if i > 0 && r >= 'A' && r <= 'Z' {
			prev := rune(input[i-1])
			if prev >= 'a' && prev <= 'z' {
				b.WriteByte(' ')
			}
		}
		b.WriteRune(r)
	}
	return strings.ToLower(strings.TrimSpace(b.String()))
}

// Compare applies a pointwise operator to (value, threshold).
// BETWEEN and OUTSIDE need a range: use CompareRange. TOUCHED and
// NOT_TOUCHED are pointwise against close data: at-or-through the level
// counts as a touch.
func Compare(op Operator, value, threshold decimal.Decimal) (bool, error) {
	switch op {
	case CmpGreater:
		return value.GreaterThan(threshold), nil
	case CmpGreaterEq:
		return value.GreaterThanOrEqual(threshold), nil
	case CmpLess:
		return value.LessThan(threshold), nil
	case CmpLessEq:
		return value.LessThanOrEqual(threshold), nil
	case CmpEqual:
		return value.Equal(threshold), nil
	case CmpNotEqual, CmpNot:
		return !value.Equal(threshold), nil
	case CmpTouched:
		return value.LessThanOrEqual(threshold), nil
	case CmpNotTouched:
		return value.GreaterThan(threshold), nil
	case CmpBetween, CmpOutside:
		return false, fmt.Errorf("%w: %s requires CompareRange", types.ErrArityMismatch, op)
	default:
		return false, fmt.Errorf("%w: %s", types.ErrUnresolvedOperator, op)
	}
}

// CompareRange applies a range operator to value against [lo, hi],
// inclusive both ends for BETWEEN and its complement for OUTSIDE.
func CompareRange(op Operator, value, lo, hi decimal.Decimal) (bool, error) {
	inside := value.GreaterThanOrEqual(lo) && value.LessThanOrEqual(hi)
	switch op {
	case CmpBetween:
		return inside, nil
	case CmpOutside:
		return !inside, nil
	default:
		return false, fmt.Errorf("%w: %s is not a range operator", types.ErrUnresolvedOperator, op)
	}
}
