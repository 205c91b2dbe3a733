// Package ratetable holds the immutable rating reference data: industry
// hazard classes, revenue bands, base rates, limit and retention factors, and
// control modifiers. A Table is built once at process start and only read
// afterwards, so it is safe for concurrent use without locking.
package ratetable

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// LookupPolicy selects how a limit or retention is matched against a factor table.
type LookupPolicy string

const (
	// LookupExact requires the amount to equal a breakpoint.
	LookupExact LookupPolicy = "exact"
	// LookupFloor uses the nearest breakpoint at or below the amount.
	LookupFloor LookupPolicy = "floor"
	// LookupInterpolate matches breakpoints exactly and interpolates linearly
	// between the two bracketing breakpoints otherwise.
	LookupInterpolate LookupPolicy = "interpolate"
)

// FactorScale is the number of decimal places kept on interpolated factors.
const FactorScale = 4

const (
	minHazardClass = 1
	maxHazardClass = 5
)

// RevenueBand is one bucket of the revenue partition. UpperBound is
// exclusive; nil marks the final, unbounded band.
type RevenueBand struct {
	Label      string `yaml:"label" json:"label"`
	UpperBound *int64 `yaml:"upper_bound,omitempty" json:"upper_bound,omitempty"`
}

// Industry maps an industry slug to its hazard class. BaseRates optionally
// overrides the hazard class rates for individual bands.
type Industry struct {
	Slug        string                     `yaml:"slug" json:"slug"`
	HazardClass int                        `yaml:"hazard_class" json:"hazard_class"`
	Description string                     `yaml:"description,omitempty" json:"description,omitempty"`
	NAICS       []string                   `yaml:"naics,omitempty" json:"naics,omitempty"`
	BaseRates   map[string]decimal.Decimal `yaml:"base_rates,omitempty" json:"base_rates,omitempty"`
}

// Breakpoint is one row of a limit or retention factor table.
type Breakpoint struct {
	Amount int64           `yaml:"amount" json:"amount"`
	Factor decimal.Decimal `yaml:"factor" json:"factor"`
}

// ControlModifier is the premium adjustment for a security control. Modifier
// applies when the control is present. Mandatory controls that are absent
// apply MissingSurcharge instead.
type ControlModifier struct {
	Slug             string          `yaml:"slug" json:"slug"`
	Modifier         decimal.Decimal `yaml:"modifier" json:"modifier"`
	Reason           string          `yaml:"reason" json:"reason"`
	Mandatory        bool            `yaml:"mandatory,omitempty" json:"mandatory,omitempty"`
	MissingSurcharge decimal.Decimal `yaml:"missing_surcharge,omitempty" json:"missing_surcharge,omitempty"`
	MissingReason    string          `yaml:"missing_reason,omitempty" json:"missing_reason,omitempty"`
}

// Definition is the serialized shape of a rate table, shared by the YAML
// file format, the Postgres loader and the seeder.
type Definition struct {
	Version          string                             `yaml:"version" json:"version"`
	FactorLookup     LookupPolicy                       `yaml:"factor_lookup" json:"factor_lookup"`
	RoundingUnit     int64                              `yaml:"rounding_unit" json:"rounding_unit"`
	RevenueBands     []RevenueBand                      `yaml:"revenue_bands" json:"revenue_bands"`
	HazardBaseRates  map[int]map[string]decimal.Decimal `yaml:"hazard_base_rates" json:"hazard_base_rates"`
	Industries       []Industry                         `yaml:"industries" json:"industries"`
	LimitFactors     []Breakpoint                       `yaml:"limit_factors" json:"limit_factors"`
	RetentionFactors []Breakpoint                       `yaml:"retention_factors" json:"retention_factors"`
	Controls         []ControlModifier                  `yaml:"controls" json:"controls"`
}

// Table is an immutable, validated rate table snapshot.
type Table struct {
	def        Definition
	hash       string
	industries map[string]Industry
	controls   map[string]ControlModifier
	mandatory  []ControlModifier
	limits     factorTable
	retentions factorTable
	naics      map[string]string
}

// Build validates def and returns an immutable Table. def is deep-copied so
// later changes by the caller cannot leak into the snapshot.
func Build(def Definition) (*Table, error) {
	def = cloneDefinition(def)
	if def.FactorLookup == "" {
		def.FactorLookup = LookupInterpolate
	}
	if def.RoundingUnit == 0 {
		def.RoundingUnit = 1
	}
	sort.Slice(def.LimitFactors, func(i, j int) bool { return def.LimitFactors[i].Amount < def.LimitFactors[j].Amount })
	sort.Slice(def.RetentionFactors, func(i, j int) bool { return def.RetentionFactors[i].Amount < def.RetentionFactors[j].Amount })
	sort.Slice(def.Industries, func(i, j int) bool { return def.Industries[i].Slug < def.Industries[j].Slug })
	sort.Slice(def.Controls, func(i, j int) bool { return def.Controls[i].Slug < def.Controls[j].Slug })

	if err := validate(def); err != nil {
		return nil, err
	}

	t := &Table{
		def:        def,
		industries: make(map[string]Industry, len(def.Industries)),
		controls:   make(map[string]ControlModifier, len(def.Controls)),
		limits:     factorTable{points: def.LimitFactors, policy: def.FactorLookup},
		retentions: factorTable{points: def.RetentionFactors, policy: def.FactorLookup},
		naics:      make(map[string]string),
	}
	for _, ind := range def.Industries {
		t.industries[ind.Slug] = ind
		for _, prefix := range ind.NAICS {
			t.naics[prefix] = ind.Slug
		}
	}
	for _, c := range def.Controls {
		t.controls[c.Slug] = c
		if c.Mandatory {
			t.mandatory = append(t.mandatory, c)
		}
	}

	data, err := json.Marshal(def)
	if err != nil {
		return nil, eris.Wrap(err, "ratetable: hash definition")
	}
	sum := sha256.Sum256(data)
	t.hash = fmt.Sprintf("%x", sum[:16])

	return t, nil
}

// Version returns the configured table version label.
func (t *Table) Version() string { return t.def.Version }

// Hash returns a content hash of the table for reproducibility audits.
func (t *Table) Hash() string { return t.hash }

// RoundingUnit returns the premium rounding unit in dollars.
func (t *Table) RoundingUnit() int64 { return t.def.RoundingUnit }

// FactorLookup returns the lookup policy used for limit and retention factors.
func (t *Table) FactorLookup() LookupPolicy { return t.def.FactorLookup }

// Definition returns a deep copy of the table's definition.
func (t *Table) Definition() Definition { return cloneDefinition(t.def) }

// Bands returns the revenue bands in ascending order.
func (t *Table) Bands() []RevenueBand {
	return append([]RevenueBand(nil), t.def.RevenueBands...)
}

// BandFor returns the band containing revenue and its index. Bands form a
// total partition of the non-negative integers, so every revenue >= 0 maps
// to exactly one band. Negative revenue returns ok=false.
func (t *Table) BandFor(revenue int64) (RevenueBand, int, bool) {
	if revenue < 0 {
		return RevenueBand{}, -1, false
	}
	for i, b := range t.def.RevenueBands {
		if b.UpperBound == nil || revenue < *b.UpperBound {
			return b, i, true
		}
	}
	// Unreachable for a validated table: the last band is unbounded.
	return RevenueBand{}, -1, false
}

// Industry returns the industry entry for slug.
func (t *Table) Industry(slug string) (Industry, bool) {
	ind, ok := t.industries[slug]
	return ind, ok
}

// IndustrySlugs returns all known industry slugs in ascending order.
func (t *Table) IndustrySlugs() []string {
	slugs := make([]string, 0, len(t.def.Industries))
	for _, ind := range t.def.Industries {
		slugs = append(slugs, ind.Slug)
	}
	return slugs
}

// BaseRate returns the rate per $1,000 of revenue for the industry, hazard
// class and band. An industry-level override wins over the hazard class table.
// Missing data returns ok=false; callers must not substitute a default.
func (t *Table) BaseRate(slug string, hazardClass int, band string) (decimal.Decimal, bool) {
	if ind, ok := t.industries[slug]; ok {
		if r, ok := ind.BaseRates[band]; ok {
			return r, true
		}
	}
	rates, ok := t.def.HazardBaseRates[hazardClass]
	if !ok {
		return decimal.Decimal{}, false
	}
	r, ok := rates[band]
	return r, ok
}

// LimitFactor resolves the factor for a policy limit.
func (t *Table) LimitFactor(limit int64) (decimal.Decimal, bool) {
	return t.limits.resolve(limit)
}

// RetentionFactor resolves the factor for a retention.
func (t *Table) RetentionFactor(retention int64) (decimal.Decimal, bool) {
	return t.retentions.resolve(retention)
}

// Control returns the modifier for a control slug. Slugs are case-sensitive.
func (t *Table) Control(slug string) (ControlModifier, bool) {
	c, ok := t.controls[slug]
	return c, ok
}

// MandatoryControls returns mandatory controls ordered by slug.
func (t *Table) MandatoryControls() []ControlModifier {
	return append([]ControlModifier(nil), t.mandatory...)
}

// IndustryForNAICS maps a NAICS code to an industry slug using the longest
// configured prefix that matches. Returns ok=false when nothing matches.
func (t *Table) IndustryForNAICS(code string) (string, bool) {
	code = strings.TrimSpace(code)
	for n := len(code); n >= 2; n-- {
		if slug, ok := t.naics[code[:n]]; ok {
			return slug, true
		}
	}
	return "", false
}

// factorTable is a sorted breakpoint list with its lookup policy.
type factorTable struct {
	points []Breakpoint
	policy LookupPolicy
}

func (f factorTable) resolve(amount int64) (decimal.Decimal, bool) {
	pts := f.points
	if len(pts) == 0 {
		return decimal.Decimal{}, false
	}

	// First breakpoint with Amount > amount.
	i := sort.Search(len(pts), func(i int) bool { return pts[i].Amount > amount })
	if i > 0 && pts[i-1].Amount == amount {
		return pts[i-1].Factor, true
	}

	switch f.policy {
	case LookupFloor:
		if i == 0 {
			return decimal.Decimal{}, false
		}
		return pts[i-1].Factor, true
	case LookupInterpolate:
		if i == 0 || i == len(pts) {
			return decimal.Decimal{}, false
		}
		lo, hi := pts[i-1], pts[i]
		span := decimal.NewFromInt(hi.Amount - lo.Amount)
		offset := decimal.NewFromInt(amount - lo.Amount)
		delta := hi.Factor.Sub(lo.Factor).Mul(offset).DivRound(span, FactorScale)
		return lo.Factor.Add(delta).Round(FactorScale), true
	default:
		return decimal.Decimal{}, false
	}
}

func cloneDefinition(def Definition) Definition {
	out := def
	out.RevenueBands = make([]RevenueBand, len(def.RevenueBands))
	for i, b := range def.RevenueBands {
		out.RevenueBands[i] = b
		if b.UpperBound != nil {
			ub := *b.UpperBound
			out.RevenueBands[i].UpperBound = &ub
		}
	}
	out.HazardBaseRates = make(map[int]map[string]decimal.Decimal, len(def.HazardBaseRates))
	for class, rates := range def.HazardBaseRates {
		out.HazardBaseRates[class] = cloneRates(rates)
	}
	out.Industries = make([]Industry, len(def.Industries))
	for i, ind := range def.Industries {
		out.Industries[i] = ind
		out.Industries[i].NAICS = append([]string(nil), ind.NAICS...)
		if ind.BaseRates != nil {
			out.Industries[i].BaseRates = cloneRates(ind.BaseRates)
		}
	}
	out.LimitFactors = append([]Breakpoint(nil), def.LimitFactors...)
	out.RetentionFactors = append([]Breakpoint(nil), def.RetentionFactors...)
	out.Controls = append([]ControlModifier(nil), def.Controls...)
	return out
}

func cloneRates(in map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
