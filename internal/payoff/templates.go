// internal/payoff/templates.go
package payoff

import (
	"github.com/meridianwm/structprod/internal/types"
)

/*
 * Template classification.
 *
 * The template is a persisted discriminant on the product record; the
 * engine never infers it at evaluation time. ClassifyTemplate exists only
 * as a migration aid for records imported from the legacy system, which
 * stored no discriminant and classified products by inspecting their
 * fields. Run once at import, persist the result, never call it on the
 * evaluation path.
 */

// KnownTemplate reports whether the walker has an evaluator for kind.
func KnownTemplate(kind types.TemplateKind) bool {
	_, ok := templateSpecs[kind]
	return ok
}

// ClassifyTemplate infers a template from a product's declared barriers
// and terms. Pure function, deterministic, and intentionally conservative:
// anything ambiguous classifies as TemplateUnknown rather than guessing.
func ClassifyTemplate(p *types.Product) types.TemplateKind {
	_, hasAutocall := p.BarrierOfKind(types.BarrierAutocall)
	_, hasCoupon := p.BarrierOfKind(types.BarrierCoupon)
	_, hasUpper := p.BarrierOfKind(types.BarrierUpper)
	_, hasProtection := p.BarrierOfKind(types.BarrierProtection)

	switch {
	case hasAutocall && hasCoupon && p.MemoryCoupon:
		return types.TemplatePhoenix
	case hasAutocall && hasCoupon:
		return types.TemplateOrion
	case hasUpper && hasProtection:
		return types.TemplateSharkNote
	case hasCoupon && !hasAutocall:
		return types.TemplateReverseConvertible
	case !hasAutocall && !hasCoupon && !hasUpper && hasProtection:
		return types.TemplateParticipationNote
	default:
		return types.TemplateUnknown
	}
}
