package types

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for payoff evaluation.
var (
	// ErrMissingPrice indicates a required observation date has no recorded
	// close. Fatal for the whole evaluation: no partial ledger is returned.
	ErrMissingPrice = errors.New("missing price data")

	// ErrDivisionByZero indicates a DIVIDE primitive with a zero divisor.
	ErrDivisionByZero = errors.New("division by zero")

	// ErrNonFiniteResult indicates an arithmetic primitive produced a
	// non-finite or unrepresentable value.
	ErrNonFiniteResult = errors.New("non-finite arithmetic result")

	// ErrUnresolvedOperator indicates an operator spelling outside the
	// resolution table (strict mode only; non-strict falls back).
	ErrUnresolvedOperator = errors.New("unresolved comparison operator")

	// ErrInvalidOpcode indicates a primitive node with an unknown opcode.
	ErrInvalidOpcode = errors.New("invalid primitive opcode")

	// ErrArityMismatch indicates a primitive node whose operand count does
	// not match the opcode contract.
	ErrArityMismatch = errors.New("primitive operand count mismatch")

	// ErrTypeMismatch indicates an operand evaluated to a value kind the
	// opcode cannot consume.
	ErrTypeMismatch = errors.New("primitive operand type mismatch")

	// ErrInvalidComponentType indicates a legacy component with no
	// registered translator.
	ErrInvalidComponentType = errors.New("invalid legacy component type")

	// ErrTreeTooDeep indicates a primitive tree exceeds MaxTreeDepth.
	ErrTreeTooDeep = errors.New("primitive tree exceeds maximum depth")

	// ErrEmptyBasket indicates an aggregation over zero underlyings.
	ErrEmptyBasket = errors.New("basket has no underlyings")

	// ErrTooManyUnderlyings indicates a basket larger than MaxUnderlyings.
	ErrTooManyUnderlyings = errors.New("basket exceeds maximum underlyings")

	// ErrScheduleTooLong indicates an observation schedule with more than
	// MaxScheduleEntries entries.
	ErrScheduleTooLong = errors.New("observation schedule exceeds maximum entries")

	// ErrEmptySchedule indicates a product with no observation dates.
	ErrEmptySchedule = errors.New("observation schedule is empty")

	// ErrScheduleNotChronological indicates out-of-order or duplicate
	// observation dates.
	ErrScheduleNotChronological = errors.New("observation schedule not strictly chronological")

	// ErrProductNotFound indicates an unknown product identifier.
	ErrProductNotFound = errors.New("product not found")
)

// MissingPriceError carries the ticker and date that had no recorded close.
// Wraps ErrMissingPrice so callers can discriminate with errors.Is while
// still seeing which lookup failed.
type MissingPriceError struct {
	Ticker string
	Date   time.Time
}

func (e *MissingPriceError) Error() string {
	return fmt.Sprintf("missing price data: %s on %s", e.Ticker, e.Date.Format("2006-01-02"))
}

// Unwrap enables errors.Is(err, ErrMissingPrice).
func (e *MissingPriceError) Unwrap() error {
	return ErrMissingPrice
}
