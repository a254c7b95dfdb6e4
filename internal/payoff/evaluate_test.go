// internal/payoff/evaluate_test.go
package payoff

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/meridianwm/structprod/internal/types"
)

// evalFixture builds a context around a single-underlying product with one
// known close, enough for exercising every primitive.
func evalFixture() *EvalContext {
	obs := day(2026, 6, 30)
	prices := newStubPrices().set("AAA", obs, 110)
	product := &types.Product{
		ID:        types.NewProductID(),
		Template:  types.TemplatePhoenix,
		TradeDate: day(2026, 1, 1),
		Underlyings: []types.Underlying{
			{Ticker: "AAA", InitialPrice: decimal.NewFromInt(100)},
		},
	}
	ec := NewEvalContext(product, prices, nil)
	ec.Date = obs
	return ec
}

func TestEvaluate_Arithmetic(t *testing.T) {
	tests := []struct {
		name string
		node *Node
		want string
	}{
		{"add", Add(ConstantFloat(2), ConstantFloat(3), ConstantFloat(5)), "10"},
		{"subtract", Subtract(ConstantFloat(10), ConstantFloat(4)), "6"},
		{"multiply", Multiply(ConstantFloat(2.5), ConstantFloat(4)), "10"},
		{"divide", Divide(ConstantFloat(9), ConstantFloat(3)), "3"},
		{"power", Power(ConstantFloat(2), ConstantFloat(10)), "1024"},
		{"absolute", Absolute(ConstantFloat(-8.5)), "8.5"},
		{"min", Min(ConstantFloat(3), ConstantFloat(-2), ConstantFloat(7)), "-2"},
		{"max", Max(ConstantFloat(3), ConstantFloat(-2), ConstantFloat(7)), "7"},
		{"average", Average(ConstantFloat(1), ConstantFloat(2), ConstantFloat(3)), "2"},
		{"cap bounds above", Cap(ConstantFloat(120), ConstantFloat(100)), "100"},
		{"floor bounds below", Floor(ConstantFloat(-120), ConstantFloat(-100)), "-100"},
		{"clamp inside range", Clamp(ConstantFloat(5), ConstantFloat(0), ConstantFloat(10)), "5"},
		{"clamp below range", Clamp(ConstantFloat(-5), ConstantFloat(0), ConstantFloat(10)), "0"},
		{"current price", CurrentPrice("AAA"), "110"},
		{"initial price", InitialPrice("AAA"), "100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ec := evalFixture()
			got, err := Evaluate(context.Background(), tt.node, ec)
			if err != nil {
				t.Fatalf("Evaluate() error = %v, want nil", err)
			}
			if got.Kind != KindNumber {
				t.Fatalf("Evaluate() kind = %v, want KindNumber", got.Kind)
			}
			if !got.Num.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("Evaluate() = %s, want %s", got.Num, tt.want)
			}
		})
	}
}

func TestEvaluate_DivideByZero(t *testing.T) {
	ec := evalFixture()
	_, err := Evaluate(context.Background(), Divide(ConstantFloat(1), ConstantFloat(0)), ec)
	if !errors.Is(err, types.ErrDivisionByZero) {
		t.Errorf("Evaluate() error = %v, want ErrDivisionByZero", err)
	}
}

func TestEvaluate_Comparisons(t *testing.T) {
	tests := []struct {
		name string
		node *Node
		want bool
	}{
		{"greater", Greater(ConstantFloat(5), ConstantFloat(3)), true},
		{"greater-eq boundary", GreaterEq(ConstantFloat(3), ConstantFloat(3)), true},
		{"less", Less(ConstantFloat(-1), ConstantFloat(0)), true},
		{"between inclusive", Between(ConstantFloat(10), ConstantFloat(10), ConstantFloat(20)), true},
		{"and short true", And(Greater(ConstantFloat(2), ConstantFloat(1)), Less(ConstantFloat(1), ConstantFloat(2))), true},
		{"or one true", Or(Greater(ConstantFloat(1), ConstantFloat(2)), Less(ConstantFloat(1), ConstantFloat(2))), true},
		{"not", Not(Greater(ConstantFloat(1), ConstantFloat(2))), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ec := evalFixture()
			got, err := Evaluate(context.Background(), tt.node, ec)
			if err != nil {
				t.Fatalf("Evaluate() error = %v, want nil", err)
			}
			if got.Kind != KindBool || got.Bool != tt.want {
				t.Errorf("Evaluate() = %+v, want bool %v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_ShortCircuit(t *testing.T) {
	// The second operand divides by zero; AND must never evaluate it once
	// the first operand is false.
	ec := evalFixture()
	poison := Greater(Divide(ConstantFloat(1), ConstantFloat(0)), ConstantFloat(0))

	v, err := Evaluate(context.Background(),
		And(Greater(ConstantFloat(1), ConstantFloat(2)), poison), ec)
	if err != nil {
		t.Fatalf("Evaluate(AND) error = %v, want short-circuit", err)
	}
	if v.Bool {
		t.Errorf("Evaluate(AND) = true, want false")
	}

	v, err = Evaluate(context.Background(),
		Or(Greater(ConstantFloat(2), ConstantFloat(1)), poison), ec)
	if err != nil {
		t.Fatalf("Evaluate(OR) error = %v, want short-circuit", err)
	}
	if !v.Bool {
		t.Errorf("Evaluate(OR) = false, want true")
	}
}

func TestEvaluate_RetrieveDefaultIsLazy(t *testing.T) {
	ec := evalFixture()
	ec.Memory.Set(KeyUnpaidCoupons, decimal.NewFromFloat(8.5))

	// The default divides by zero: it must not be evaluated when the key
	// is present.
	node := Retrieve(KeyUnpaidCoupons, Divide(ConstantFloat(1), ConstantFloat(0)))
	got, err := Evaluate(context.Background(), node, ec)
	if err != nil {
		t.Fatalf("Evaluate() error = %v, want lazy default", err)
	}
	if !got.Num.Equal(decimal.NewFromFloat(8.5)) {
		t.Errorf("Evaluate() = %s, want 8.5", got.Num)
	}

	// Key absent: now the default is evaluated.
	ec.Memory.Reset(KeyUnpaidCoupons)
	got, err = Evaluate(context.Background(), Retrieve(KeyCouponsPaid, ConstantFloat(42)), ec)
	if err != nil {
		t.Fatalf("Evaluate() error = %v, want nil", err)
	}
	if !got.Num.Equal(decimal.NewFromInt(42)) {
		t.Errorf("Evaluate() = %s, want default 42", got.Num)
	}
}

func TestEvaluate_MemoryEvents(t *testing.T) {
	ec := evalFixture()

	if _, err := Evaluate(context.Background(),
		Accumulate(KeyUnpaidCoupons, ConstantFloat(8.5)), ec); err != nil {
		t.Fatalf("Evaluate(ACCUMULATE) error = %v", err)
	}
	if _, err := Evaluate(context.Background(),
		Accumulate(KeyUnpaidCoupons, ConstantFloat(8.5)), ec); err != nil {
		t.Fatalf("Evaluate(ACCUMULATE) error = %v", err)
	}

	if got := ec.Memory.Retrieve(KeyUnpaidCoupons, decimal.Zero); !got.Equal(decimal.NewFromInt(17)) {
		t.Errorf("memory after two accumulates = %s, want 17", got)
	}

	if _, err := Evaluate(context.Background(), Reset(KeyUnpaidCoupons), ec); err != nil {
		t.Fatalf("Evaluate(RESET) error = %v", err)
	}
	if got := ec.Memory.Retrieve(KeyUnpaidCoupons, decimal.NewFromInt(-1)); !got.IsZero() {
		t.Errorf("memory after reset = %s, want 0", got)
	}

	wantKinds := []types.EventKind{types.EventAccumulate, types.EventAccumulate, types.EventReset}
	if len(ec.Ledger) != len(wantKinds) {
		t.Fatalf("ledger length = %d, want %d", len(ec.Ledger), len(wantKinds))
	}
	for i, kind := range wantKinds {
		if ec.Ledger[i].Kind != kind {
			t.Errorf("ledger[%d].Kind = %s, want %s", i, ec.Ledger[i].Kind, kind)
		}
	}
}

func TestEvaluate_SequenceStopsAtSignal(t *testing.T) {
	ec := evalFixture()

	node := Sequence(
		Pay(ConstantFloat(100), "principal"),
		Terminate(),
		Pay(ConstantFloat(8.5), "never paid"),
	)
	v, err := Evaluate(context.Background(), node, ec)
	if err != nil {
		t.Fatalf("Evaluate() error = %v, want nil", err)
	}
	if !v.IsSignal() || v.Signal != SignalTerminate {
		t.Fatalf("Evaluate() = %+v, want terminate signal", v)
	}

	// Exactly PAY then TERMINATE; the third child never ran.
	if len(ec.Ledger) != 2 {
		t.Fatalf("ledger length = %d, want 2: %+v", len(ec.Ledger), ec.Ledger)
	}
	if ec.Ledger[0].Kind != types.EventPay || ec.Ledger[1].Kind != types.EventTerminate {
		t.Errorf("ledger = %+v, want [PAY, TERMINATE]", ec.Ledger)
	}
	if !ec.Terminated() {
		t.Errorf("Terminated() = false, want true")
	}
}

func TestEvaluate_EventsAfterTerminateAreDropped(t *testing.T) {
	trace := &CollectorTrace{}
	obs := day(2026, 6, 30)
	prices := newStubPrices().set("AAA", obs, 110)
	product := &types.Product{
		Underlyings: []types.Underlying{{Ticker: "AAA", InitialPrice: decimal.NewFromInt(100)}},
	}
	ec := NewEvalContext(product, prices, trace)
	ec.Date = obs

	ec.EmitTerminate()
	ec.EmitPay(decimal.NewFromInt(100), "late payment")

	if len(ec.Ledger) != 1 {
		t.Fatalf("ledger length = %d, want 1 (terminate only)", len(ec.Ledger))
	}
	dropped := false
	for _, ev := range trace.Events {
		if ev == "ledger.dropped_after_terminate" {
			dropped = true
		}
	}
	if !dropped {
		t.Errorf("expected a dropped-event trace entry, got %v", trace.Events)
	}
}

func TestEvaluate_DepthLimit(t *testing.T) {
	node := ConstantFloat(1)
	for i := 0; i < types.MaxTreeDepth+2; i++ {
		node = Absolute(node)
	}

	ec := evalFixture()
	_, err := Evaluate(context.Background(), node, ec)
	if !errors.Is(err, types.ErrTreeTooDeep) {
		t.Errorf("Evaluate() error = %v, want ErrTreeTooDeep", err)
	}
}

func TestEvaluate_InvalidOpcode(t *testing.T) {
	ec := evalFixture()
	_, err := Evaluate(context.Background(), &Node{Op: Opcode(9999)}, ec)
	if !errors.Is(err, types.ErrInvalidOpcode) {
		t.Errorf("Evaluate() error = %v, want ErrInvalidOpcode", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name         string
		node         *Node
		wantErrors   int
		wantWarnings int
	}{
		{"valid payment", Pay(ConstantFloat(100), "principal"), 0, 0},
		{"pay without description", Pay(ConstantFloat(100), ""), 0, 1},
		{"divide by constant zero", Divide(ConstantFloat(1), ConstantFloat(0)), 1, 0},
		{"unknown opcode", &Node{Op: Opcode(9999)}, 1, 0},
		{"missing memory key", &Node{Op: OpReset}, 1, 0},
		{"subtract arity", &Node{Op: OpSubtract, Operands: []*Node{ConstantFloat(1)}}, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Validate(tt.node)
			if len(result.Errors) != tt.wantErrors {
				t.Errorf("Validate() errors = %d (%+v), want %d", len(result.Errors), result.Errors, tt.wantErrors)
			}
			if len(result.Warnings) != tt.wantWarnings {
				t.Errorf("Validate() warnings = %d (%+v), want %d", len(result.Warnings), result.Warnings, tt.wantWarnings)
			}
			if (tt.wantErrors == 0) != result.Valid() {
				t.Errorf("Valid() = %v, inconsistent with %d errors", result.Valid(), tt.wantErrors)
			}
		})
	}
}

func TestValidate_IfWithoutElseSuggestion(t *testing.T) {
	node := If(Greater(Performance(), ConstantFloat(0)), Pay(ConstantFloat(100), "principal"), nil)
	result := Validate(node)
	if !result.Valid() {
		t.Fatalf("Validate() errors = %+v, want none", result.Errors)
	}
	if len(result.Suggestions) == 0 {
		t.Errorf("Validate() suggestions empty, want else-branch suggestion")
	}
}

func TestEvaluate_MalformedArityIsError(t *testing.T) {
	tests := []struct {
		name string
		node *Node
	}{
		{"absolute without operand", &Node{Op: OpAbsolute}},
		{"add without operands", &Node{Op: OpAdd}},
		{"average without operands", &Node{Op: OpAverage}},
		{"subtract with one operand", &Node{Op: OpSubtract, Operands: []*Node{ConstantFloat(1)}}},
		{"divide with one operand", &Node{Op: OpDivide, Operands: []*Node{ConstantFloat(1)}}},
		{"clamp with two operands", &Node{Op: OpClamp, Operands: []*Node{ConstantFloat(1), ConstantFloat(2)}}},
		{"if with only a condition", &Node{Op: OpIf, Operands: []*Node{Greater(ConstantFloat(1), ConstantFloat(0))}}},
		{"pay without amount", &Node{Op: OpPay, Label: "coupon"}},
		{"retrieve without default", &Node{Op: OpRetrieve, Key: "k"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ec := evalFixture()
			_, err := Evaluate(context.Background(), tt.node, ec)
			if !errors.Is(err, types.ErrArityMismatch) {
				t.Errorf("Evaluate() error = %v, want ErrArityMismatch", err)
			}
		})
	}
}

func TestEvaluate_CurrentDateIsEpochDays(t *testing.T) {
	ec := evalFixture() // date fixed to 2026-06-30

	got, err := Evaluate(context.Background(), &Node{Op: OpCurrentDate}, ec)
	if err != nil {
		t.Fatalf("Evaluate() error = %v, want nil", err)
	}
	want := ec.Date.Unix() / 86400
	if !got.Num.Equal(decimal.NewFromInt(want)) {
		t.Errorf("Evaluate(CURRENT_DATE) = %s, want %d epoch days", got.Num, want)
	}

	elapsed, err := Evaluate(context.Background(), DaysElapsed(), ec)
	if err != nil {
		t.Fatalf("Evaluate() error = %v, want nil", err)
	}
	if elapsed.Num.Equal(got.Num) {
		t.Errorf("DAYS_ELAPSED = CURRENT_DATE = %s, want trade-date-relative vs epoch-relative", elapsed.Num)
	}
}
