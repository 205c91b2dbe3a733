package ratetable

import (
	"context"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/cyber-rating/internal/db"
)

// Meta keys stored in rating.table_meta.
const (
	metaVersion      = "version"
	metaFactorLookup = "factor_lookup"
	metaRoundingUnit = "rounding_unit"
)

// LoadPostgres reads the rating.* tables and builds a Table snapshot.
// NUMERIC columns are read as text so no precision is lost.
func LoadPostgres(ctx context.Context, pool db.Pool) (*Table, error) {
	var def Definition

	if err := loadMeta(ctx, pool, &def); err != nil {
		return nil, err
	}
	if err := loadBands(ctx, pool, &def); err != nil {
		return nil, err
	}
	if err := loadIndustries(ctx, pool, &def); err != nil {
		return nil, err
	}
	if err := loadBaseRates(ctx, pool, &def); err != nil {
		return nil, err
	}

	var err error
	def.LimitFactors, err = loadBreakpoints(ctx, pool,
		`SELECT limit_amount, factor::text FROM rating.limit_factors ORDER BY limit_amount`)
	if err != nil {
		return nil, eris.Wrap(err, "ratetable: load limit factors")
	}
	def.RetentionFactors, err = loadBreakpoints(ctx, pool,
		`SELECT retention, factor::text FROM rating.retention_factors ORDER BY retention`)
	if err != nil {
		return nil, eris.Wrap(err, "ratetable: load retention factors")
	}

	if err := loadControls(ctx, pool, &def); err != nil {
		return nil, err
	}

	t, err := Build(def)
	if err != nil {
		return nil, eris.Wrap(err, "ratetable: build from postgres")
	}
	logLoaded("postgres", t)
	return t, nil
}

func loadMeta(ctx context.Context, pool db.Pool, def *Definition) error {
	rows, err := pool.Query(ctx, `SELECT key, value FROM rating.table_meta`)
	if err != nil {
		return eris.Wrap(err, "ratetable: query table_meta")
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return eris.Wrap(err, "ratetable: scan table_meta")
		}
		switch key {
		case metaVersion:
			def.Version = value
		case metaFactorLookup:
			def.FactorLookup = LookupPolicy(value)
		case metaRoundingUnit:
			unit, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return eris.Wrapf(err, "ratetable: parse rounding_unit %q", value)
			}
			def.RoundingUnit = unit
		}
	}
	return eris.Wrap(rows.Err(), "ratetable: iterate table_meta")
}

func loadBands(ctx context.Context, pool db.Pool, def *Definition) error {
	rows, err := pool.Query(ctx, `SELECT label, upper_bound FROM rating.revenue_bands ORDER BY position`)
	if err != nil {
		return eris.Wrap(err, "ratetable: query revenue_bands")
	}
	defer rows.Close()

	for rows.Next() {
		var b RevenueBand
		if err := rows.Scan(&b.Label, &b.UpperBound); err != nil {
			return eris.Wrap(err, "ratetable: scan revenue_bands")
		}
		def.RevenueBands = append(def.RevenueBands, b)
	}
	return eris.Wrap(rows.Err(), "ratetable: iterate revenue_bands")
}

func loadIndustries(ctx context.Context, pool db.Pool, def *Definition) error {
	rows, err := pool.Query(ctx, `SELECT slug, hazard_class, naics_prefixes, description FROM rating.industries ORDER BY slug`)
	if err != nil {
		return eris.Wrap(err, "ratetable: query industries")
	}
	defer rows.Close()

	for rows.Next() {
		var ind Industry
		if err := rows.Scan(&ind.Slug, &ind.HazardClass, &ind.NAICS, &ind.Description); err != nil {
			return eris.Wrap(err, "ratetable: scan industries")
		}
		def.Industries = append(def.Industries, ind)
	}
	return eris.Wrap(rows.Err(), "ratetable: iterate industries")
}

func loadBaseRates(ctx context.Context, pool db.Pool, def *Definition) error {
	def.HazardBaseRates = make(map[int]map[string]decimal.Decimal)

	rows, err := pool.Query(ctx, `SELECT hazard_class, band, rate_per_1k::text FROM rating.base_rates`)
	if err != nil {
		return eris.Wrap(err, "ratetable: query base_rates")
	}
	for rows.Next() {
		var class int
		var band, rate string
		if err := rows.Scan(&class, &band, &rate); err != nil {
			rows.Close()
			return eris.Wrap(err, "ratetable: scan base_rates")
		}
		d, err := decimal.NewFromString(rate)
		if err != nil {
			rows.Close()
			return eris.Wrapf(err, "ratetable: parse base rate %q", rate)
		}
		if def.HazardBaseRates[class] == nil {
			def.HazardBaseRates[class] = make(map[string]decimal.Decimal)
		}
		def.HazardBaseRates[class][band] = d
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "ratetable: iterate base_rates")
	}

	index := make(map[string]int, len(def.Industries))
	for i, ind := range def.Industries {
		index[ind.Slug] = i
	}

	rows, err = pool.Query(ctx, `SELECT industry_slug, band, rate_per_1k::text FROM rating.industry_base_rates`)
	if err != nil {
		return eris.Wrap(err, "ratetable: query industry_base_rates")
	}
	defer rows.Close()
	for rows.Next() {
		var slug, band, rate string
		if err := rows.Scan(&slug, &band, &rate); err != nil {
			return eris.Wrap(err, "ratetable: scan industry_base_rates")
		}
		i, ok := index[slug]
		if !ok {
			return eris.Errorf("ratetable: industry_base_rates references unknown industry %q", slug)
		}
		d, err := decimal.NewFromString(rate)
		if err != nil {
			return eris.Wrapf(err, "ratetable: parse industry base rate %q", rate)
		}
		if def.Industries[i].BaseRates == nil {
			def.Industries[i].BaseRates = make(map[string]decimal.Decimal)
		}
		def.Industries[i].BaseRates[band] = d
	}
	return eris.Wrap(rows.Err(), "ratetable: iterate industry_base_rates")
}

func loadBreakpoints(ctx context.Context, pool db.Pool, query string) ([]Breakpoint, error) {
	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pts []Breakpoint
	for rows.Next() {
		var amount int64
		var factor string
		if err := rows.Scan(&amount, &factor); err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(factor)
		if err != nil {
			return nil, eris.Wrapf(err, "parse factor %q", factor)
		}
		pts = append(pts, Breakpoint{Amount: amount, Factor: d})
	}
	return pts, rows.Err()
}

func loadControls(ctx context.Context, pool db.Pool, def *Definition) error {
	rows, err := pool.Query(ctx, `
		SELECT slug, modifier::text, reason, mandatory, missing_surcharge::text, missing_reason
		FROM rating.control_modifiers ORDER BY slug`)
	if err != nil {
		return eris.Wrap(err, "ratetable: query control_modifiers")
	}
	defer rows.Close()

	for rows.Next() {
		var c ControlModifier
		var modifier, surcharge string
		if err := rows.Scan(&c.Slug, &modifier, &c.Reason, &c.Mandatory, &surcharge, &c.MissingReason); err != nil {
			return eris.Wrap(err, "ratetable: scan control_modifiers")
		}
		if c.Modifier, err = decimal.NewFromString(modifier); err != nil {
			return eris.Wrapf(err, "ratetable: parse modifier for %s", c.Slug)
		}
		if c.MissingSurcharge, err = decimal.NewFromString(surcharge); err != nil {
			return eris.Wrapf(err, "ratetable: parse missing_surcharge for %s", c.Slug)
		}
		def.Controls = append(def.Controls, c)
	}
	return eris.Wrap(rows.Err(), "ratetable: iterate control_modifiers")
}

// seedTables lists rating tables in dependency order.
var seedTables = []string{
	"rating.table_meta",
	"rating.revenue_bands",
	"rating.industries",
	"rating.base_rates",
	"rating.industry_base_rates",
	"rating.limit_factors",
	"rating.retention_factors",
	"rating.control_modifiers",
}

// Seed writes the table into the rating.* tables in one transaction, so a
// failed load leaves the previous tables in place. Without replace rows are
// merged by natural key. With replace the tables are truncated and reloaded
// with COPY, so entries absent from t do not survive.
func Seed(ctx context.Context, pool db.Pool, t *Table, replace bool) error {
	log := zap.L().With(zap.String("component", "ratetable.seed"))
	def := t.Definition()

	tx, err := pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "ratetable: begin seed")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if replace {
		if _, err := tx.Exec(ctx, "TRUNCATE "+strings.Join(seedTables, ", ")); err != nil {
			return eris.Wrap(err, "ratetable: truncate rating tables")
		}
	}

	batches := []struct {
		cfg  db.UpsertConfig
		rows [][]any
	}{
		{
			db.UpsertConfig{Table: "rating.table_meta", Columns: []string{"key", "value"}, ConflictKeys: []string{"key"}},
			[][]any{
				{metaVersion, def.Version},
				{metaFactorLookup, string(def.FactorLookup)},
				{metaRoundingUnit, strconv.FormatInt(def.RoundingUnit, 10)},
			},
		},
		{
			db.UpsertConfig{Table: "rating.revenue_bands", Columns: []string{"label", "position", "upper_bound"}, ConflictKeys: []string{"label"}},
			bandRows(def.RevenueBands),
		},
		{
			db.UpsertConfig{Table: "rating.industries", Columns: []string{"slug", "hazard_class", "naics_prefixes", "description"}, ConflictKeys: []string{"slug"}},
			industryRows(def.Industries),
		},
		{
			db.UpsertConfig{Table: "rating.base_rates", Columns: []string{"hazard_class", "band", "rate_per_1k"}, ConflictKeys: []string{"hazard_class", "band"}},
			hazardRateRows(def.HazardBaseRates),
		},
		{
			db.UpsertConfig{Table: "rating.industry_base_rates", Columns: []string{"industry_slug", "band", "rate_per_1k"}, ConflictKeys: []string{"industry_slug", "band"}},
			industryRateRows(def.Industries),
		},
		{
			db.UpsertConfig{Table: "rating.limit_factors", Columns: []string{"limit_amount", "factor"}, ConflictKeys: []string{"limit_amount"}},
			breakpointRows(def.LimitFactors),
		},
		{
			db.UpsertConfig{Table: "rating.retention_factors", Columns: []string{"retention", "factor"}, ConflictKeys: []string{"retention"}},
			breakpointRows(def.RetentionFactors),
		},
		{
			db.UpsertConfig{Table: "rating.control_modifiers", Columns: []string{"slug", "modifier", "reason", "mandatory", "missing_surcharge", "missing_reason"}, ConflictKeys: []string{"slug"}},
			controlRows(def.Controls),
		},
	}

	for _, b := range batches {
		var n int64
		if replace {
			n, err = db.CopyFrom(ctx, tx, b.cfg.Table, b.cfg.Columns, b.rows)
		} else {
			n, err = db.BulkUpsert(ctx, tx, b.cfg, b.rows)
		}
		if err != nil {
			return eris.Wrapf(err, "ratetable: seed %s", b.cfg.Table)
		}
		log.Debug("ratetable: seeded table", zap.String("table", b.cfg.Table), zap.Int64("rows", n))
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "ratetable: commit seed")
	}

	log.Info("ratetable: seed complete",
		zap.String("version", t.Version()),
		zap.String("hash", t.Hash()),
		zap.Bool("replace", replace),
	)
	return nil
}

// numeric converts a decimal to the pgx NUMERIC type without going through float64.
func numeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func bandRows(bands []RevenueBand) [][]any {
	rows := make([][]any, len(bands))
	for i, b := range bands {
		rows[i] = []any{b.Label, int16(i), b.UpperBound}
	}
	return rows
}

func industryRows(inds []Industry) [][]any {
	rows := make([][]any, len(inds))
	for i, ind := range inds {
		naics := ind.NAICS
		if naics == nil {
			naics = []string{}
		}
		rows[i] = []any{ind.Slug, int16(ind.HazardClass), naics, ind.Description}
	}
	return rows
}

func hazardRateRows(rates map[int]map[string]decimal.Decimal) [][]any {
	var rows [][]any
	for _, class := range sortedClasses(rates) {
		for _, band := range sortedKeys(rates[class]) {
			rows = append(rows, []any{int16(class), band, numeric(rates[class][band])})
		}
	}
	return rows
}

func industryRateRows(inds []Industry) [][]any {
	var rows [][]any
	for _, ind := range inds {
		for _, band := range sortedKeys(ind.BaseRates) {
			rows = append(rows, []any{ind.Slug, band, numeric(ind.BaseRates[band])})
		}
	}
	return rows
}

func breakpointRows(pts []Breakpoint) [][]any {
	rows := make([][]any, len(pts))
	for i, p := range pts {
		rows[i] = []any{p.Amount, numeric(p.Factor)}
	}
	return rows
}

func controlRows(controls []ControlModifier) [][]any {
	rows := make([][]any, len(controls))
	for i, c := range controls {
		rows[i] = []any{c.Slug, numeric(c.Modifier), c.Reason, c.Mandatory, numeric(c.MissingSurcharge), c.MissingReason}
	}
	return rows
}
