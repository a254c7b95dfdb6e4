// internal/payoff/opcode.go
package payoff

/*
 * Primitive opcode catalog.
 *
 * Closed enum spanning data access, arithmetic, comparison/logic, memory,
 * control flow, actions, aggregation, and time primitives. Each opcode
 * declares a fixed operand arity and a return kind; Validate enforces the
 * contract at tree-construction time so Evaluate can assume well-formed
 * input.
 *
 * Why a closed enum: the source of these products dispatched through
 * object-keyed function maps, which hides missing handlers until runtime.
 * A closed switch over an enum makes every unhandled opcode a compile-time
 * review item and every unknown opcode a validation error.
 */

// Opcode identifies one primitive operation.
type Opcode int

const (
	OpInvalid Opcode = iota

	// Data access
	OpCurrentPrice // close of one underlying on the evaluation date
	OpInitialPrice // strike of one underlying
	OpPerformance  // basket performance on the evaluation date
	OpConstant     // numeric literal
	OpCurrentDate  // evaluation date as days since the Unix epoch
	OpDaysElapsed  // days since trade date

	// Arithmetic
	OpAdd
	OpSubtract
	OpMultiply
	OpDivide
	OpPower
	OpAbsolute
	OpMin
	OpMax
	OpAverage
	OpCap   // min(x, bound)
	OpFloor // max(x, bound)
	OpClamp // clamp(x, lo, hi)

	// Comparison and logic
	OpGreater
	OpGreaterEq
	OpLess
	OpLessEq
	OpEqual
	OpNotEqual
	OpBetween
	OpAnd
	OpOr
	OpNot

	// Memory
	OpStore
	OpRetrieve
	OpAccumulate
	OpIncrement
	OpReset
	OpExists

	// Control flow
	OpIf
	OpSequence
	OpTerminate
	OpContinue
	OpSkip

	// Actions
	OpPay
	OpEvent

	// Aggregation
	OpWorstOf
	OpBestOf
	OpAverageOf
	OpCountAbove
	OpAllAbove
	OpAnyAbove

	// Time
	OpIsObservationDate
	OpIsMaturity
	OpDaysToMaturity
	OpDateAfter
	OpDateBefore
)

// Kind classifies a primitive's return value.
type Kind int

const (
	KindVoid Kind = iota
	KindNumber
	KindBool
	KindSignal // TERMINATE / CONTINUE / SKIP
	KindList   // SEQUENCE results
)

// contract declares an opcode's operand arity and return kind.
// variadic opcodes use maxArity < 0 (bounded by MaxSequenceChildren).
type contract struct {
	minArity int
	maxArity int
	returns  Kind
}

// contracts is the single source of truth for opcode shape. Data, not
// dispatch: evaluation itself is a closed switch in evaluate.go.
var contracts = map[Opcode]contract{
	OpCurrentPrice: {0, 0, KindNumber},
	OpInitialPrice: {0, 0, KindNumber},
	OpPerformance:  {0, 0, KindNumber},
	OpConstant:     {0, 0, KindNumber},
	OpCurrentDate:  {0, 0, KindNumber},
	OpDaysElapsed:  {0, 0, KindNumber},

	OpAdd:      {2, -1, KindNumber},
	OpSubtract: {2, 2, KindNumber},
	OpMultiply: {2, -1, KindNumber},
	OpDivide:   {2, 2, KindNumber},
	OpPower:    {2, 2, KindNumber},
	OpAbsolute: {1, 1, KindNumber},
	OpMin:      {1, -1, KindNumber},
	OpMax:      {1, -1, KindNumber},
	OpAverage:  {1, -1, KindNumber},
	OpCap:      {2, 2, KindNumber},
	OpFloor:    {2, 2, KindNumber},
	OpClamp:    {3, 3, KindNumber},

	OpGreater:   {2, 2, KindBool},
	OpGreaterEq: {2, 2, KindBool},
	OpLess:      {2, 2, KindBool},
	OpLessEq:    {2, 2, KindBool},
	OpEqual:     {2, 2, KindBool},
	OpNotEqual:  {2, 2, KindBool},
	OpBetween:   {3, 3, KindBool},
	OpAnd:       {2, -1, KindBool},
	OpOr:        {2, -1, KindBool},
	OpNot:       {1, 1, KindBool},

	OpStore:      {1, 1, KindVoid},
	OpRetrieve:   {1, 1, KindNumber}, // operand is the default expression
	OpAccumulate: {1, 1, KindVoid},
	OpIncrement:  {0, 0, KindVoid},
	OpReset:      {0, 0, KindVoid},
	OpExists:     {0, 0, KindBool},

	OpIf:        {2, 3, KindVoid}, // cond, then[, else]
	OpSequence:  {1, -1, KindList},
	OpTerminate: {0, 0, KindSignal},
	OpContinue:  {0, 0, KindSignal},
	OpSkip:      {0, 0, KindSignal},

	OpPay:   {1, 1, KindVoid}, // amount expression
	OpEvent: {0, 0, KindVoid},

	OpWorstOf:    {0, 0, KindNumber},
	OpBestOf:     {0, 0, KindNumber},
	OpAverageOf:  {0, 0, KindNumber},
	OpCountAbove: {1, 1, KindNumber},
	OpAllAbove:   {1, 1, KindBool},
	OpAnyAbove:   {1, 1, KindBool},

	OpIsObservationDate: {0, 0, KindBool},
	OpIsMaturity:        {0, 0, KindBool},
	OpDaysToMaturity:    {0, 0, KindNumber},
	OpDateAfter:         {0, 0, KindBool},
	OpDateBefore:        {0, 0, KindBool},
}

// Contract returns the arity/return contract for an opcode.
// ok is false for unknown opcodes.
func Contract(op Opcode) (minArity, maxArity int, returns Kind, ok bool) {
	c, found := contracts[op]
	if !found {
		return 0, 0, KindVoid, false
	}
	return c.minArity, c.maxArity, c.returns, true
}

var opcodeNames = map[Opcode]string{
	OpCurrentPrice: "CURRENT_PRICE", OpInitialPrice: "INITIAL_PRICE",
	OpPerformance: "PERFORMANCE", OpConstant: "CONSTANT",
	OpCurrentDate: "CURRENT_DATE", OpDaysElapsed: "DAYS_ELAPSED",
	OpAdd: "ADD", OpSubtract: "SUBTRACT", OpMultiply: "MULTIPLY",
	OpDivide: "DIVIDE", OpPower: "POWER", OpAbsolute: "ABSOLUTE",
	OpMin: "MIN", OpMax: "MAX", OpAverage: "AVERAGE",
	OpCap: "CAP", OpFloor: "FLOOR", OpClamp: "CLAMP",
	OpGreater: ">", OpGreaterEq: ">=", OpLess: "<", OpLessEq: "<=",
	OpEqual: "==", OpNotEqual: "!=", OpBetween: "BETWEEN",
	OpAnd: "AND", OpOr: "OR", OpNot: "NOT",
	OpStore: "STORE", OpRetrieve: "RETRIEVE", OpAccumulate: "ACCUMULATE",
	OpIncrement: "INCREMENT", OpReset: "RESET", OpExists: "EXISTS",
	OpIf: "IF", OpSequence: "SEQUENCE", OpTerminate: "TERMINATE",
	OpContinue: "CONTINUE", OpSkip: "SKIP",
	OpPay: "PAY", OpEvent: "EVENT",
	OpWorstOf: "WORST_OF", OpBestOf: "BEST_OF", OpAverageOf: "AVERAGE_OF",
	OpCountAbove: "COUNT_ABOVE", OpAllAbove: "ALL_ABOVE", OpAnyAbove: "ANY_ABOVE",
	OpIsObservationDate: "IS_OBSERVATION_DATE", OpIsMaturity: "IS_MATURITY",
	OpDaysToMaturity: "DAYS_TO_MATURITY", OpDateAfter: "DATE_AFTER",
	OpDateBefore: "DATE_BEFORE",
}

// String returns the canonical opcode label.
func (op Opcode) String() string {
	if s, ok := opcodeNames[op]; ok {
		return s
	}
	return "INVALID"
}
