package rating

import (
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// QuoteRequest is the input to PriceWithBreakdown.
type QuoteRequest struct {
	Industry  string   `json:"industry"`
	Revenue   int64    `json:"revenue"`
	Limit     int64    `json:"limit"`
	Retention int64    `json:"retention"`
	Controls  []string `json:"controls,omitempty"`
}

// AppliedModifier is one control adjustment in application order.
type AppliedModifier struct {
	Control  string          `json:"control"`
	Modifier decimal.Decimal `json:"modifier"`
	Reason   string          `json:"reason"`
	Missing  bool            `json:"missing,omitempty"`
}

// RatingBreakdown is the complete audit trail of one rating. Every
// intermediate value is kept so the final premium can be recomputed from the
// breakdown alone (see Verify).
type RatingBreakdown struct {
	Industry              string            `json:"industry"`
	HazardClass           int               `json:"hazard_class"`
	RevenueBand           string            `json:"revenue_band"`
	Revenue               int64             `json:"revenue"`
	Limit                 int64             `json:"limit"`
	Retention             int64             `json:"retention"`
	BaseRatePer1K         decimal.Decimal   `json:"base_rate_per_1k"`
	BasePremium           decimal.Decimal   `json:"base_premium"`
	LimitFactor           decimal.Decimal   `json:"limit_factor"`
	PremiumAfterLimit     decimal.Decimal   `json:"premium_after_limit"`
	RetentionFactor       decimal.Decimal   `json:"retention_factor"`
	PremiumAfterRetention decimal.Decimal   `json:"premium_after_retention"`
	ControlModifiers      []AppliedModifier `json:"control_modifiers"`
	PremiumAfterControls  decimal.Decimal   `json:"premium_after_controls"`
	RoundingUnit          int64             `json:"rounding_unit"`
	FinalPremium          int64             `json:"final_premium"`
	TableVersion          string            `json:"table_version"`
	TableHash             string            `json:"table_hash"`
}

// Quote is the priced result returned to callers.
type Quote struct {
	Premium   int64           `json:"premium"`
	Limit     int64           `json:"limit"`
	Retention int64           `json:"retention"`
	Breakdown RatingBreakdown `json:"breakdown"`
}

// Option is one limit/retention combination of a multi-option quote.
type Option struct {
	Limit     int64 `json:"limit"`
	Retention int64 `json:"retention"`
}

var thousandth = decimal.New(1, -3)

// PriceWithBreakdown rates req. The order of steps is fixed and mirrored in
// the breakdown:
//
//	base      = rate_per_1k * revenue / 1000
//	limit     = base * limit_factor
//	retention = limit * retention_factor
//	controls  = retention * Π(1 + modifier), present controls by slug, then
//	            surcharges for absent mandatory controls by slug
//	final     = round_half_up(controls / unit) * unit
func (e *Engine) PriceWithBreakdown(req QuoteRequest) (*Quote, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	cls, err := e.Classify(req.Industry, req.Revenue)
	if err != nil {
		return nil, err
	}

	rate, ok := e.table.BaseRate(cls.Industry, cls.HazardClass, cls.RevenueBand)
	if !ok {
		return nil, &RatingDataMissingError{
			Table: "base_rates",
			Key:   cls.Industry + "/" + strconv.Itoa(cls.HazardClass) + "/" + cls.RevenueBand,
		}
	}
	limitFactor, ok := e.table.LimitFactor(req.Limit)
	if !ok {
		return nil, &RatingDataMissingError{Table: "limit_factors", Key: formatInt(req.Limit)}
	}
	retentionFactor, ok := e.table.RetentionFactor(req.Retention)
	if !ok {
		return nil, &RatingDataMissingError{Table: "retention_factors", Key: formatInt(req.Retention)}
	}

	b := RatingBreakdown{
		Industry:        cls.Industry,
		HazardClass:     cls.HazardClass,
		RevenueBand:     cls.RevenueBand,
		Revenue:         req.Revenue,
		Limit:           req.Limit,
		Retention:       req.Retention,
		BaseRatePer1K:   rate,
		LimitFactor:     limitFactor,
		RetentionFactor: retentionFactor,
		RoundingUnit:    e.table.RoundingUnit(),
		TableVersion:    e.table.Version(),
		TableHash:       e.table.Hash(),
	}
	b.BasePremium = basePremium(rate, req.Revenue)
	b.PremiumAfterLimit = b.BasePremium.Mul(limitFactor)
	b.PremiumAfterRetention = b.PremiumAfterLimit.Mul(retentionFactor)

	b.ControlModifiers = e.controlModifiers(req.Controls)
	b.PremiumAfterControls = applyModifiers(b.PremiumAfterRetention, b.ControlModifiers)
	b.FinalPremium = roundToUnit(b.PremiumAfterControls, b.RoundingUnit)

	return &Quote{
		Premium:   b.FinalPremium,
		Limit:     req.Limit,
		Retention: req.Retention,
		Breakdown: b,
	}, nil
}

// PriceOptions rates one submission at several limit/retention combinations.
// Results follow the order of opts; the first failure aborts.
func (e *Engine) PriceOptions(req QuoteRequest, opts []Option) ([]*Quote, error) {
	quotes := make([]*Quote, 0, len(opts))
	for _, o := range opts {
		r := req
		r.Limit, r.Retention = o.Limit, o.Retention
		q, err := e.PriceWithBreakdown(r)
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

func validateRequest(req QuoteRequest) error {
	switch {
	case req.Revenue <= 0:
		return &InvalidRatingInputError{Field: "revenue", Value: req.Revenue}
	case req.Limit <= 0:
		return &InvalidRatingInputError{Field: "limit", Value: req.Limit}
	case req.Retention <= 0:
		return &InvalidRatingInputError{Field: "retention", Value: req.Retention}
	}
	return nil
}

// controlModifiers resolves the request's controls into the ordered list of
// adjustments. Unknown controls carry no modifier and are skipped.
func (e *Engine) controlModifiers(controls []string) []AppliedModifier {
	present := normalizeControls(controls)
	applied := make([]AppliedModifier, 0, len(present))

	have := make(map[string]bool, len(present))
	for _, slug := range present {
		have[slug] = true
		c, ok := e.table.Control(slug)
		if !ok {
			continue
		}
		applied = append(applied, AppliedModifier{Control: c.Slug, Modifier: c.Modifier, Reason: c.Reason})
	}

	for _, c := range e.table.MandatoryControls() {
		if have[c.Slug] || c.MissingSurcharge.IsZero() {
			continue
		}
		reason := c.MissingReason
		if reason == "" {
			reason = "Missing mandatory control: " + c.Slug
		}
		applied = append(applied, AppliedModifier{Control: c.Slug, Modifier: c.MissingSurcharge, Reason: reason, Missing: true})
	}
	return applied
}

// normalizeControls trims, drops blanks and duplicates, and sorts ascending.
// Case is preserved; control slugs are case-sensitive.
func normalizeControls(controls []string) []string {
	seen := make(map[string]bool, len(controls))
	out := make([]string, 0, len(controls))
	for _, c := range controls {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func basePremium(rate decimal.Decimal, revenue int64) decimal.Decimal {
	return rate.Mul(decimal.NewFromInt(revenue)).Mul(thousandth)
}

func applyModifiers(p decimal.Decimal, mods []AppliedModifier) decimal.Decimal {
	for _, m := range mods {
		p = p.Mul(decimal.NewFromInt(1).Add(m.Modifier))
	}
	return p
}

// roundToUnit rounds p half-up to a multiple of unit using exact integer
// division, so no intermediate precision is lost.
func roundToUnit(p decimal.Decimal, unit int64) int64 {
	if unit <= 0 {
		unit = 1
	}
	u := decimal.NewFromInt(unit)
	q, r := p.QuoRem(u, 0)
	if r.Abs().Mul(decimal.NewFromInt(2)).GreaterThanOrEqual(u) {
		if p.IsNegative() {
			q = q.Sub(decimal.NewFromInt(1))
		} else {
			q = q.Add(decimal.NewFromInt(1))
		}
	}
	return q.IntPart() * unit
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
