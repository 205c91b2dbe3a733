package rating

import (
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// Verify recomputes the premium chain from the breakdown's own fields and
// reports the first step that does not reproduce.
func (b RatingBreakdown) Verify() error {
	steps := []struct {
		name string
		got  decimal.Decimal
		want decimal.Decimal
	}{
		{"base_premium", b.BasePremium, basePremium(b.BaseRatePer1K, b.Revenue)},
		{"premium_after_limit", b.PremiumAfterLimit, b.BasePremium.Mul(b.LimitFactor)},
		{"premium_after_retention", b.PremiumAfterRetention, b.PremiumAfterLimit.Mul(b.RetentionFactor)},
		{"premium_after_controls", b.PremiumAfterControls, applyModifiers(b.PremiumAfterRetention, b.ControlModifiers)},
	}
	for _, s := range steps {
		if !s.got.Equal(s.want) {
			return eris.Errorf("rating: breakdown %s is %s, recomputed %s", s.name, s.got, s.want)
		}
	}

	// The full product, independent of the stored intermediates.
	chain := applyModifiers(basePremium(b.BaseRatePer1K, b.Revenue).Mul(b.LimitFactor).Mul(b.RetentionFactor), b.ControlModifiers)
	if want := roundToUnit(chain, b.RoundingUnit); b.FinalPremium != want {
		return eris.Errorf("rating: breakdown final_premium is %d, recomputed %d", b.FinalPremium, want)
	}
	return nil
}
