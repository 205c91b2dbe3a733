package ratetable

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func ptr(v int64) *int64 { return &v }

func testDefinition() Definition {
	return Definition{
		Version: "test",
		RevenueBands: []RevenueBand{
			{Label: "under_1m", UpperBound: ptr(1_000_000)},
			{Label: "1m_10m", UpperBound: ptr(10_000_000)},
			{Label: "over_10m"},
		},
		HazardBaseRates: map[int]map[string]decimal.Decimal{
			2: {"under_1m": d("1.35"), "1m_10m": d("0.98"), "over_10m": d("0.60")},
			3: {"under_1m": d("1.65"), "1m_10m": d("1.20")},
		},
		Industries: []Industry{
			{Slug: "Software_as_a_Service_SaaS", HazardClass: 3, NAICS: []string{"511210", "5182"}},
			{Slug: "Manufacturing", HazardClass: 2, NAICS: []string{"31", "32", "33"},
				BaseRates: map[string]decimal.Decimal{"over_10m": d("0.55")}},
		},
		LimitFactors: []Breakpoint{
			{Amount: 2_000_000, Factor: d("1.55")},
			{Amount: 1_000_000, Factor: d("1.00")},
			{Amount: 5_000_000, Factor: d("2.60")},
		},
		RetentionFactors: []Breakpoint{
			{Amount: 10_000, Factor: d("1.05")},
			{Amount: 25_000, Factor: d("1.00")},
			{Amount: 50_000, Factor: d("0.94")},
		},
		Controls: []ControlModifier{
			{Slug: "MFA", Modifier: d("-0.10"), Reason: "MFA enforced", Mandatory: true, MissingSurcharge: d("0.15"), MissingReason: "No MFA"},
			{Slug: "EDR", Modifier: d("-0.08"), Reason: "EDR deployed"},
		},
	}
}

func mustBuild(t *testing.T, def Definition) *Table {
	t.Helper()
	tbl, err := Build(def)
	require.NoError(t, err)
	return tbl
}

func TestBuild_Defaults(t *testing.T) {
	t.Parallel()
	tbl := mustBuild(t, testDefinition())

	assert.Equal(t, LookupInterpolate, tbl.FactorLookup())
	assert.Equal(t, int64(1), tbl.RoundingUnit())
	assert.Equal(t, "test", tbl.Version())
	assert.Len(t, tbl.Hash(), 32)
	assert.Equal(t, []string{"Manufacturing", "Software_as_a_Service_SaaS"}, tbl.IndustrySlugs())
}

func TestBuild_IsolatedFromCallerMutation(t *testing.T) {
	t.Parallel()
	def := testDefinition()
	tbl := mustBuild(t, def)

	def.HazardBaseRates[3]["1m_10m"] = d("9.99")
	*def.RevenueBands[0].UpperBound = 5

	rate, ok := tbl.BaseRate("Software_as_a_Service_SaaS", 3, "1m_10m")
	require.True(t, ok)
	assert.True(t, rate.Equal(d("1.20")))

	band, _, ok := tbl.BandFor(500_000)
	require.True(t, ok)
	assert.Equal(t, "under_1m", band.Label)
}

func TestHash_Deterministic(t *testing.T) {
	t.Parallel()
	a := mustBuild(t, testDefinition())
	b := mustBuild(t, testDefinition())
	assert.Equal(t, a.Hash(), b.Hash())

	def := testDefinition()
	def.LimitFactors[0].Factor = d("1.60")
	c := mustBuild(t, def)
	assert.NotEqual(t, a.Hash(), c.Hash())
}

func TestBandFor(t *testing.T) {
	t.Parallel()
	tbl := mustBuild(t, testDefinition())

	tests := []struct {
		revenue int64
		want    string
		index   int
	}{
		{0, "under_1m", 0},
		{999_999, "under_1m", 0},
		{1_000_000, "1m_10m", 1},
		{5_000_000, "1m_10m", 1},
		{9_999_999, "1m_10m", 1},
		{10_000_000, "over_10m", 2},
		{1 << 62, "over_10m", 2},
	}
	for _, tt := range tests {
		band, idx, ok := tbl.BandFor(tt.revenue)
		require.True(t, ok, "revenue %d", tt.revenue)
		assert.Equal(t, tt.want, band.Label, "revenue %d", tt.revenue)
		assert.Equal(t, tt.index, idx, "revenue %d", tt.revenue)
	}

	_, _, ok := tbl.BandFor(-1)
	assert.False(t, ok)
}

func TestBandFor_TotalAndMonotonic(t *testing.T) {
	t.Parallel()
	tbl, err := LoadDefault()
	require.NoError(t, err)

	prev := -1
	for revenue := int64(0); revenue <= 400_000_000; revenue += 250_000 {
		_, idx, ok := tbl.BandFor(revenue)
		require.True(t, ok)
		require.GreaterOrEqual(t, idx, prev, "band index decreased at %d", revenue)
		prev = idx
	}
	assert.Equal(t, len(tbl.Bands())-1, prev)
}

func TestBaseRate(t *testing.T) {
	t.Parallel()
	tbl := mustBuild(t, testDefinition())

	rate, ok := tbl.BaseRate("Software_as_a_Service_SaaS", 3, "1m_10m")
	require.True(t, ok)
	assert.True(t, rate.Equal(d("1.20")))

	// Industry override wins over the hazard class table.
	rate, ok = tbl.BaseRate("Manufacturing", 2, "over_10m")
	require.True(t, ok)
	assert.True(t, rate.Equal(d("0.55")))

	rate, ok = tbl.BaseRate("Manufacturing", 2, "1m_10m")
	require.True(t, ok)
	assert.True(t, rate.Equal(d("0.98")))

	// Class 3 has no over_10m rate and nothing overrides it.
	_, ok = tbl.BaseRate("Software_as_a_Service_SaaS", 3, "over_10m")
	assert.False(t, ok)

	_, ok = tbl.BaseRate("Software_as_a_Service_SaaS", 4, "1m_10m")
	assert.False(t, ok)
}

func TestFactorLookup_Interpolate(t *testing.T) {
	t.Parallel()
	tbl := mustBuild(t, testDefinition())

	tests := []struct {
		name   string
		limit  int64
		want   string
		wantOK bool
	}{
		{"exact low", 1_000_000, "1.00", true},
		{"exact mid", 2_000_000, "1.55", true},
		{"exact high", 5_000_000, "2.60", true},
		{"midpoint", 1_500_000, "1.275", true},
		{"third", 3_000_000, "1.9", true},
		{"repeating decimal rounds half-up at 4dp", 4_000_000, "2.25", true},
		{"below table", 500_000, "", false},
		{"above table", 10_000_000, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tbl.LimitFactor(tt.limit)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.True(t, got.Equal(d(tt.want)), "got %s want %s", got, tt.want)
			}
		})
	}
}

func TestFactorLookup_InterpolateRounding(t *testing.T) {
	t.Parallel()
	def := testDefinition()
	def.RetentionFactors = []Breakpoint{
		{Amount: 10_000, Factor: d("1.00")},
		{Amount: 40_000, Factor: d("0.90")},
	}
	tbl := mustBuild(t, def)

	// 1.00 - 0.10 * 10000/30000 = 0.96666... -> 0.9667
	got, ok := tbl.RetentionFactor(20_000)
	require.True(t, ok)
	assert.Equal(t, "0.9667", got.StringFixed(FactorScale))
}

func TestFactorLookup_Floor(t *testing.T) {
	t.Parallel()
	def := testDefinition()
	def.FactorLookup = LookupFloor
	tbl := mustBuild(t, def)

	got, ok := tbl.LimitFactor(1_500_000)
	require.True(t, ok)
	assert.True(t, got.Equal(d("1.00")))

	got, ok = tbl.LimitFactor(50_000_000)
	require.True(t, ok)
	assert.True(t, got.Equal(d("2.60")))

	_, ok = tbl.LimitFactor(999_999)
	assert.False(t, ok)
}

func TestFactorLookup_Exact(t *testing.T) {
	t.Parallel()
	def := testDefinition()
	def.FactorLookup = LookupExact
	tbl := mustBuild(t, def)

	got, ok := tbl.RetentionFactor(25_000)
	require.True(t, ok)
	assert.True(t, got.Equal(d("1.00")))

	_, ok = tbl.RetentionFactor(30_000)
	assert.False(t, ok)
}

func TestControls(t *testing.T) {
	t.Parallel()
	tbl := mustBuild(t, testDefinition())

	c, ok := tbl.Control("MFA")
	require.True(t, ok)
	assert.True(t, c.Modifier.Equal(d("-0.10")))

	_, ok = tbl.Control("mfa")
	assert.False(t, ok, "control slugs are case-sensitive")

	mandatory := tbl.MandatoryControls()
	require.Len(t, mandatory, 1)
	assert.Equal(t, "MFA", mandatory[0].Slug)
}

func TestIndustryForNAICS(t *testing.T) {
	t.Parallel()
	tbl := mustBuild(t, testDefinition())

	tests := []struct {
		code   string
		want   string
		wantOK bool
	}{
		{"511210", "Software_as_a_Service_SaaS", true},
		{"518210", "Software_as_a_Service_SaaS", true},
		{"332710", "Manufacturing", true},
		{" 311 ", "Manufacturing", true},
		{"541511", "", false},
		{"5", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := tbl.IndustryForNAICS(tt.code)
		assert.Equal(t, tt.wantOK, ok, tt.code)
		assert.Equal(t, tt.want, got, tt.code)
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Definition)
		want   string
	}{
		{"bad lookup", func(def *Definition) { def.FactorLookup = "nearest" }, "factor_lookup"},
		{"no bands", func(def *Definition) { def.RevenueBands = nil }, "at least one band"},
		{"bounded last band", func(def *Definition) { def.RevenueBands[2].UpperBound = ptr(20_000_000) }, "must be unbounded"},
		{"unbounded middle band", func(def *Definition) { def.RevenueBands[1].UpperBound = nil }, "only the last band"},
		{"non-increasing bounds", func(def *Definition) { def.RevenueBands[1].UpperBound = ptr(1_000_000) }, "strictly increase"},
		{"hazard class range", func(def *Definition) { def.Industries[0].HazardClass = 6 }, "outside 1..5"},
		{"missing class rates", func(def *Definition) { def.Industries[0].HazardClass = 4 }, "no base rates for hazard class 4"},
		{"unknown band in rates", func(def *Definition) { def.HazardBaseRates[2]["huge"] = decimal.NewFromInt(1) }, `unknown band "huge"`},
		{"zero rate", func(def *Definition) { def.HazardBaseRates[2]["under_1m"] = decimal.Zero }, "rate must be > 0"},
		{"decreasing limit factors", func(def *Definition) { def.LimitFactors[2].Factor = d("1.2") }, "limit_factors: factor decreases"},
		{"increasing retention factors", func(def *Definition) { def.RetentionFactors[2].Factor = d("1.2") }, "retention_factors: factor increases"},
		{"duplicate breakpoint", func(def *Definition) { def.LimitFactors[0].Amount = 1_000_000 }, "duplicate breakpoint"},
		{"no limit factors", func(def *Definition) { def.LimitFactors = nil }, "limit_factors: at least one"},
		{"modifier <= -1", func(def *Definition) { def.Controls[1].Modifier = d("-1") }, "modifier must be > -1"},
		{"duplicate naics", func(def *Definition) { def.Industries[1].NAICS = append(def.Industries[1].NAICS, "5182") }, "already mapped"},
		{"duplicate industry", func(def *Definition) { def.Industries[1].Slug = def.Industries[0].Slug }, "duplicate slug"},
		{"rate beyond 6 decimals", func(def *Definition) { def.HazardBaseRates[2]["1m_10m"] = d("0.9812345") }, "rate 0.9812345 does not fit NUMERIC(12,6)"},
		{"factor beyond 4 decimals", func(def *Definition) { def.LimitFactors[0].Factor = d("1.55005") }, "factor 1.55005 does not fit NUMERIC(10,4)"},
		{"modifier beyond 4 decimals", func(def *Definition) { def.Controls[1].Modifier = d("-0.08125") }, "controls[EDR]: modifier -0.08125 does not fit NUMERIC(6,4)"},
		{"surcharge too large", func(def *Definition) { def.Controls[0].MissingSurcharge = d("150") }, "missing_surcharge 150 does not fit NUMERIC(6,4)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := testDefinition()
			tt.mutate(&def)
			_, err := Build(def)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNumericColumn_Fits(t *testing.T) {
	t.Parallel()

	assert.True(t, factorColumn.fits(d("1.2500000")), "trailing zeros are not extra precision")
	assert.True(t, factorColumn.fits(d("999999.9999")))
	assert.False(t, factorColumn.fits(d("1000000")))
	assert.False(t, factorColumn.fits(d("0.96666")))
	assert.True(t, modifierColumn.fits(d("-0.9999")))
	assert.True(t, rateColumn.fits(d("0.000001")))
	assert.False(t, rateColumn.fits(d("0.0000001")))
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }
