// internal/payoff/templates_test.go
package payoff

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/meridianwm/structprod/internal/types"
)

func barriers(kinds ...types.BarrierKind) []types.Barrier {
	out := make([]types.Barrier, len(kinds))
	for i, k := range kinds {
		out[i] = types.Barrier{Kind: k, Level: decimal.NewFromInt(100), Operator: ">="}
	}
	return out
}

func TestClassifyTemplate(t *testing.T) {
	tests := []struct {
		name   string
		p      types.Product
		want   types.TemplateKind
	}{
		{
			name: "autocall coupon memory is phoenix",
			p: types.Product{
				MemoryCoupon: true,
				Barriers:     barriers(types.BarrierAutocall, types.BarrierCoupon, types.BarrierProtection),
			},
			want: types.TemplatePhoenix,
		},
		{
			name: "autocall coupon without memory is orion",
			p: types.Product{
				Barriers: barriers(types.BarrierAutocall, types.BarrierCoupon),
			},
			want: types.TemplateOrion,
		},
		{
			name: "upper plus protection is shark note",
			p: types.Product{
				Barriers: barriers(types.BarrierUpper, types.BarrierProtection),
			},
			want: types.TemplateSharkNote,
		},
		{
			name: "coupon without autocall is reverse convertible",
			p: types.Product{
				Barriers: barriers(types.BarrierCoupon, types.BarrierProtection),
			},
			want: types.TemplateReverseConvertible,
		},
		{
			name: "protection only is participation note",
			p: types.Product{
				Barriers: barriers(types.BarrierProtection),
			},
			want: types.TemplateParticipationNote,
		},
		{
			name: "no barriers is unknown",
			p:    types.Product{},
			want: types.TemplateUnknown,
		},
		{
			name: "autocall without coupon is unknown rather than guessed",
			p: types.Product{
				Barriers: barriers(types.BarrierAutocall),
			},
			want: types.TemplateUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyTemplate(&tt.p); got != tt.want {
				t.Errorf("ClassifyTemplate() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestKnownTemplate(t *testing.T) {
	for _, kind := range []types.TemplateKind{
		types.TemplatePhoenix,
		types.TemplateOrion,
		types.TemplateHimalaya,
		types.TemplateSharkNote,
		types.TemplateParticipationNote,
		types.TemplateReverseConvertible,
	} {
		if !KnownTemplate(kind) {
			t.Errorf("KnownTemplate(%s) = false, want true", kind)
		}
	}
	if KnownTemplate(types.TemplateUnknown) {
		t.Errorf("KnownTemplate(unknown) = true, want false")
	}
	if KnownTemplate(types.TemplateKind("exotic_v9")) {
		t.Errorf("KnownTemplate(exotic_v9) = true, want false")
	}
}
