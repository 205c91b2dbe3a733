package ratetable

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// Column types of the rating.* tables. Postgres rounds a value that carries
// more decimals than the column scale, so such values are rejected here to
// keep a seeded table pricing (and hashing) like its source.
var (
	rateColumn     = numericColumn{precision: 12, scale: 6}
	factorColumn   = numericColumn{precision: 10, scale: 4}
	modifierColumn = numericColumn{precision: 6, scale: 4}
)

type numericColumn struct{ precision, scale int32 }

func (c numericColumn) fits(v decimal.Decimal) bool {
	if !v.Equal(v.Truncate(c.scale)) {
		return false
	}
	return v.Abs().LessThan(decimal.New(1, c.precision-c.scale))
}

func (c numericColumn) String() string {
	return fmt.Sprintf("NUMERIC(%d,%d)", c.precision, c.scale)
}

// validate checks the structural invariants of a normalized definition and
// reports every problem at once.
func validate(def Definition) error {
	var errs []string

	switch def.FactorLookup {
	case LookupExact, LookupFloor, LookupInterpolate:
	default:
		errs = append(errs, fmt.Sprintf("factor_lookup %q must be exact, floor or interpolate", def.FactorLookup))
	}
	if def.RoundingUnit < 0 {
		errs = append(errs, "rounding_unit must be > 0")
	}

	errs = append(errs, validateBands(def.RevenueBands)...)
	bandSet := make(map[string]bool, len(def.RevenueBands))
	for _, b := range def.RevenueBands {
		bandSet[b.Label] = true
	}

	for class, rates := range def.HazardBaseRates {
		if class < minHazardClass || class > maxHazardClass {
			errs = append(errs, fmt.Sprintf("hazard_base_rates: class %d outside %d..%d", class, minHazardClass, maxHazardClass))
		}
		errs = append(errs, validateRates(fmt.Sprintf("hazard_base_rates[%d]", class), rates, bandSet)...)
	}

	errs = append(errs, validateIndustries(def, bandSet)...)

	errs = append(errs, validateFactors("limit_factors", def.LimitFactors, true)...)
	errs = append(errs, validateFactors("retention_factors", def.RetentionFactors, false)...)

	minusOne := decimal.NewFromInt(-1)
	seenControls := make(map[string]bool, len(def.Controls))
	for _, c := range def.Controls {
		if c.Slug == "" {
			errs = append(errs, "controls: empty slug")
			continue
		}
		if seenControls[c.Slug] {
			errs = append(errs, fmt.Sprintf("controls: duplicate slug %q", c.Slug))
		}
		seenControls[c.Slug] = true
		if c.Modifier.LessThanOrEqual(minusOne) {
			errs = append(errs, fmt.Sprintf("controls[%s]: modifier must be > -1", c.Slug))
		}
		if c.Reason == "" {
			errs = append(errs, fmt.Sprintf("controls[%s]: reason is required", c.Slug))
		}
		if c.Mandatory && c.MissingSurcharge.LessThanOrEqual(minusOne) {
			errs = append(errs, fmt.Sprintf("controls[%s]: missing_surcharge must be > -1", c.Slug))
		}
		if !modifierColumn.fits(c.Modifier) {
			errs = append(errs, fmt.Sprintf("controls[%s]: modifier %s does not fit %s", c.Slug, c.Modifier, modifierColumn))
		}
		if !modifierColumn.fits(c.MissingSurcharge) {
			errs = append(errs, fmt.Sprintf("controls[%s]: missing_surcharge %s does not fit %s", c.Slug, c.MissingSurcharge, modifierColumn))
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("ratetable: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateBands(bands []RevenueBand) []string {
	var errs []string
	if len(bands) == 0 {
		return []string{"revenue_bands: at least one band is required"}
	}

	seen := make(map[string]bool, len(bands))
	var prev int64
	for i, b := range bands {
		if b.Label == "" {
			errs = append(errs, fmt.Sprintf("revenue_bands[%d]: empty label", i))
		}
		if seen[b.Label] {
			errs = append(errs, fmt.Sprintf("revenue_bands: duplicate label %q", b.Label))
		}
		seen[b.Label] = true

		last := i == len(bands)-1
		switch {
		case last && b.UpperBound != nil:
			errs = append(errs, fmt.Sprintf("revenue_bands: last band %q must be unbounded", b.Label))
		case !last && b.UpperBound == nil:
			errs = append(errs, fmt.Sprintf("revenue_bands: only the last band may be unbounded (%q)", b.Label))
		case b.UpperBound != nil:
			if *b.UpperBound <= prev {
				errs = append(errs, fmt.Sprintf("revenue_bands: upper bounds must strictly increase (%q)", b.Label))
			}
			prev = *b.UpperBound
		}
	}
	return errs
}

func validateRates(scope string, rates map[string]decimal.Decimal, bands map[string]bool) []string {
	var errs []string
	for band, r := range rates {
		if !bands[band] {
			errs = append(errs, fmt.Sprintf("%s: unknown band %q", scope, band))
		}
		if !r.IsPositive() {
			errs = append(errs, fmt.Sprintf("%s[%s]: rate must be > 0", scope, band))
		}
		if !rateColumn.fits(r) {
			errs = append(errs, fmt.Sprintf("%s[%s]: rate %s does not fit %s", scope, band, r, rateColumn))
		}
	}
	return errs
}

func validateIndustries(def Definition, bands map[string]bool) []string {
	var errs []string
	seen := make(map[string]bool, len(def.Industries))
	naicsOwner := make(map[string]string)

	for _, ind := range def.Industries {
		if ind.Slug == "" {
			errs = append(errs, "industries: empty slug")
			continue
		}
		if seen[ind.Slug] {
			errs = append(errs, fmt.Sprintf("industries: duplicate slug %q", ind.Slug))
		}
		seen[ind.Slug] = true

		if ind.HazardClass < minHazardClass || ind.HazardClass > maxHazardClass {
			errs = append(errs, fmt.Sprintf("industries[%s]: hazard_class %d outside %d..%d", ind.Slug, ind.HazardClass, minHazardClass, maxHazardClass))
		} else if _, ok := def.HazardBaseRates[ind.HazardClass]; !ok && len(ind.BaseRates) == 0 {
			errs = append(errs, fmt.Sprintf("industries[%s]: no base rates for hazard class %d", ind.Slug, ind.HazardClass))
		}
		errs = append(errs, validateRates(fmt.Sprintf("industries[%s].base_rates", ind.Slug), ind.BaseRates, bands)...)

		for _, prefix := range ind.NAICS {
			if len(prefix) < 2 || len(prefix) > 6 {
				errs = append(errs, fmt.Sprintf("industries[%s]: naics prefix %q must be 2-6 digits", ind.Slug, prefix))
				continue
			}
			if owner, ok := naicsOwner[prefix]; ok {
				errs = append(errs, fmt.Sprintf("industries[%s]: naics prefix %q already mapped to %s", ind.Slug, prefix, owner))
				continue
			}
			naicsOwner[prefix] = ind.Slug
		}
	}
	return errs
}

// validateFactors checks a sorted breakpoint list. Limit factors must not
// decrease as the limit grows; retention factors must not increase.
func validateFactors(scope string, pts []Breakpoint, increasing bool) []string {
	var errs []string
	if len(pts) == 0 {
		return []string{scope + ": at least one breakpoint is required"}
	}
	for i, p := range pts {
		if p.Amount <= 0 {
			errs = append(errs, fmt.Sprintf("%s[%d]: amount must be > 0", scope, i))
		}
		if !p.Factor.IsPositive() {
			errs = append(errs, fmt.Sprintf("%s[%d]: factor must be > 0", scope, i))
		}
		if !factorColumn.fits(p.Factor) {
			errs = append(errs, fmt.Sprintf("%s[%d]: factor %s does not fit %s", scope, i, p.Factor, factorColumn))
		}
		if i == 0 {
			continue
		}
		prev := pts[i-1]
		if p.Amount == prev.Amount {
			errs = append(errs, fmt.Sprintf("%s: duplicate breakpoint %d", scope, p.Amount))
		}
		if increasing && p.Factor.LessThan(prev.Factor) {
			errs = append(errs, fmt.Sprintf("%s: factor decreases at %d", scope, p.Amount))
		}
		if !increasing && p.Factor.GreaterThan(prev.Factor) {
			errs = append(errs, fmt.Sprintf("%s: factor increases at %d", scope, p.Amount))
		}
	}
	return errs
}
