package ratetable

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expectLoad(mock pgxmock.PgxPoolIface) {
	mock.ExpectQuery(`FROM rating.table_meta`).WillReturnRows(
		pgxmock.NewRows([]string{"key", "value"}).
			AddRow("version", "pg-1").
			AddRow("factor_lookup", "interpolate").
			AddRow("rounding_unit", "1"))

	mock.ExpectQuery(`FROM rating.revenue_bands ORDER BY position`).WillReturnRows(
		pgxmock.NewRows([]string{"label", "upper_bound"}).
			AddRow("under_1m", ptr(1_000_000)).
			AddRow("1m_10m", ptr(10_000_000)).
			AddRow("over_10m", (*int64)(nil)))

	mock.ExpectQuery(`FROM rating.industries ORDER BY slug`).WillReturnRows(
		pgxmock.NewRows([]string{"slug", "hazard_class", "naics_prefixes", "description"}).
			AddRow("Manufacturing", 2, []string{"31", "32", "33"}, "").
			AddRow("Software_as_a_Service_SaaS", 3, []string{"511210"}, "SaaS"))

	mock.ExpectQuery(`FROM rating.base_rates`).WillReturnRows(
		pgxmock.NewRows([]string{"hazard_class", "band", "rate_per_1k"}).
			AddRow(2, "under_1m", "1.35").
			AddRow(2, "1m_10m", "0.98").
			AddRow(2, "over_10m", "0.60").
			AddRow(3, "under_1m", "1.65").
			AddRow(3, "1m_10m", "1.20"))

	mock.ExpectQuery(`FROM rating.industry_base_rates`).WillReturnRows(
		pgxmock.NewRows([]string{"industry_slug", "band", "rate_per_1k"}).
			AddRow("Manufacturing", "over_10m", "0.55"))

	mock.ExpectQuery(`FROM rating.limit_factors ORDER BY limit_amount`).WillReturnRows(
		pgxmock.NewRows([]string{"limit_amount", "factor"}).
			AddRow(int64(1_000_000), "1.0000").
			AddRow(int64(2_000_000), "1.5500"))

	mock.ExpectQuery(`FROM rating.retention_factors ORDER BY retention`).WillReturnRows(
		pgxmock.NewRows([]string{"retention", "factor"}).
			AddRow(int64(25_000), "1.0000").
			AddRow(int64(50_000), "0.9400"))
}

func TestLoadPostgres(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectLoad(mock)
	mock.ExpectQuery(`FROM rating.control_modifiers`).WillReturnRows(
		pgxmock.NewRows([]string{"slug", "modifier", "reason", "mandatory", "missing_surcharge", "missing_reason"}).
			AddRow("MFA", "-0.1000", "MFA enforced", true, "0.1500", "No MFA"))

	tbl, err := LoadPostgres(context.Background(), mock)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, "pg-1", tbl.Version())
	assert.Len(t, tbl.Bands(), 3)

	rate, ok := tbl.BaseRate("Manufacturing", 2, "over_10m")
	require.True(t, ok)
	assert.True(t, rate.Equal(d("0.55")))

	f, ok := tbl.LimitFactor(1_500_000)
	require.True(t, ok)
	assert.True(t, f.Equal(d("1.275")))

	mfa, ok := tbl.Control("MFA")
	require.True(t, ok)
	assert.True(t, mfa.Mandatory)
	assert.True(t, mfa.MissingSurcharge.Equal(d("0.15")))

	slug, ok := tbl.IndustryForNAICS("325412")
	require.True(t, ok)
	assert.Equal(t, "Manufacturing", slug)
}

func TestLoadPostgres_InvalidData(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectLoad(mock)
	mock.ExpectQuery(`FROM rating.control_modifiers`).WillReturnRows(
		pgxmock.NewRows([]string{"slug", "modifier", "reason", "mandatory", "missing_surcharge", "missing_reason"}).
			AddRow("MFA", "-1.5000", "MFA enforced", false, "0", ""))

	_, err = LoadPostgres(context.Background(), mock)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "modifier must be > -1")
}

func TestLoadPostgres_QueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`FROM rating.table_meta`).WillReturnError(errors.New("relation does not exist"))

	_, err = LoadPostgres(context.Background(), mock)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query table_meta")
}

func TestLoadPostgres_UnknownIndustryOverride(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`FROM rating.table_meta`).WillReturnRows(pgxmock.NewRows([]string{"key", "value"}))
	mock.ExpectQuery(`FROM rating.revenue_bands`).WillReturnRows(
		pgxmock.NewRows([]string{"label", "upper_bound"}).AddRow("all", (*int64)(nil)))
	mock.ExpectQuery(`FROM rating.industries`).WillReturnRows(
		pgxmock.NewRows([]string{"slug", "hazard_class", "naics_prefixes", "description"}))
	mock.ExpectQuery(`FROM rating.base_rates`).WillReturnRows(
		pgxmock.NewRows([]string{"hazard_class", "band", "rate_per_1k"}))
	mock.ExpectQuery(`FROM rating.industry_base_rates`).WillReturnRows(
		pgxmock.NewRows([]string{"industry_slug", "band", "rate_per_1k"}).AddRow("Ghost", "all", "1.0"))

	_, err = LoadPostgres(context.Background(), mock)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown industry "Ghost"`)
}

func expectUpsert(mock pgxmock.PgxPoolIface, table, temp string, columns []string, n int64) {
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "` + temp + `"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{temp}, columns).WillReturnResult(n)
	mock.ExpectExec(`INSERT INTO ` + table).
		WillReturnResult(pgxmock.NewResult("INSERT", n))
	mock.ExpectCommit()
}

var controlColumns = []string{"slug", "modifier", "reason", "mandatory", "missing_surcharge", "missing_reason"}

func TestSeed_Merge(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	tbl := mustBuild(t, testDefinition())

	mock.ExpectBegin()
	expectUpsert(mock, `"rating"."table_meta"`, "_tmp_upsert_rating_table_meta", []string{"key", "value"}, 3)
	expectUpsert(mock, `"rating"."revenue_bands"`, "_tmp_upsert_rating_revenue_bands", []string{"label", "position", "upper_bound"}, 3)
	expectUpsert(mock, `"rating"."industries"`, "_tmp_upsert_rating_industries", []string{"slug", "hazard_class", "naics_prefixes", "description"}, 2)
	expectUpsert(mock, `"rating"."base_rates"`, "_tmp_upsert_rating_base_rates", []string{"hazard_class", "band", "rate_per_1k"}, 5)
	expectUpsert(mock, `"rating"."industry_base_rates"`, "_tmp_upsert_rating_industry_base_rates", []string{"industry_slug", "band", "rate_per_1k"}, 1)
	expectUpsert(mock, `"rating"."limit_factors"`, "_tmp_upsert_rating_limit_factors", []string{"limit_amount", "factor"}, 3)
	expectUpsert(mock, `"rating"."retention_factors"`, "_tmp_upsert_rating_retention_factors", []string{"retention", "factor"}, 3)
	expectUpsert(mock, `"rating"."control_modifiers"`, "_tmp_upsert_rating_control_modifiers", controlColumns, 2)
	mock.ExpectCommit()

	require.NoError(t, Seed(context.Background(), mock, tbl, false))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// expectReplaceUpTo expects the truncate and the COPYs of every table before
// the control modifiers.
func expectReplaceUpTo(mock pgxmock.PgxPoolIface) {
	mock.ExpectBegin()
	mock.ExpectExec(`TRUNCATE rating.table_meta, rating.revenue_bands, .*rating.control_modifiers`).
		WillReturnResult(pgxmock.NewResult("TRUNCATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"rating", "table_meta"}, []string{"key", "value"}).WillReturnResult(3)
	mock.ExpectCopyFrom(pgx.Identifier{"rating", "revenue_bands"}, []string{"label", "position", "upper_bound"}).WillReturnResult(3)
	mock.ExpectCopyFrom(pgx.Identifier{"rating", "industries"}, []string{"slug", "hazard_class", "naics_prefixes", "description"}).WillReturnResult(2)
	mock.ExpectCopyFrom(pgx.Identifier{"rating", "base_rates"}, []string{"hazard_class", "band", "rate_per_1k"}).WillReturnResult(5)
	mock.ExpectCopyFrom(pgx.Identifier{"rating", "industry_base_rates"}, []string{"industry_slug", "band", "rate_per_1k"}).WillReturnResult(1)
	mock.ExpectCopyFrom(pgx.Identifier{"rating", "limit_factors"}, []string{"limit_amount", "factor"}).WillReturnResult(3)
	mock.ExpectCopyFrom(pgx.Identifier{"rating", "retention_factors"}, []string{"retention", "factor"}).WillReturnResult(3)
}

func TestSeed_ReplaceCopiesAfterTruncate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	tbl := mustBuild(t, testDefinition())

	expectReplaceUpTo(mock)
	mock.ExpectCopyFrom(pgx.Identifier{"rating", "control_modifiers"}, controlColumns).WillReturnResult(2)
	mock.ExpectCommit()

	require.NoError(t, Seed(context.Background(), mock, tbl, true))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeed_ReplaceFailureRollsBackTruncate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	tbl := mustBuild(t, testDefinition())

	expectReplaceUpTo(mock)
	mock.ExpectCopyFrom(pgx.Identifier{"rating", "control_modifiers"}, controlColumns).
		WillReturnError(errors.New("numeric field overflow"))
	mock.ExpectRollback()

	err = Seed(context.Background(), mock, tbl, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seed rating.control_modifiers")
	assert.Contains(t, err.Error(), "numeric field overflow")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeed_ReplaceTruncateError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	tbl := mustBuild(t, testDefinition())

	mock.ExpectBegin()
	mock.ExpectExec(`TRUNCATE`).WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()

	err = Seed(context.Background(), mock, tbl, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "truncate rating tables")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeed_BeginError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	tbl := mustBuild(t, testDefinition())

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	err = Seed(context.Background(), mock, tbl, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ratetable: begin seed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeed_UpsertError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	tbl := mustBuild(t, testDefinition())

	mock.ExpectBegin()
	mock.ExpectBegin().WillReturnError(errors.New("savepoint failed"))
	mock.ExpectRollback()

	err = Seed(context.Background(), mock, tbl, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seed rating.table_meta")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBreakpointRows_ExactNumeric(t *testing.T) {
	t.Parallel()
	rows := breakpointRows([]Breakpoint{{Amount: 1_000_000, Factor: d("1.275")}})
	require.Len(t, rows, 1)

	n := numeric(d("1.275"))
	assert.Equal(t, int64(1275), n.Int.Int64())
	assert.Equal(t, int32(-3), n.Exp)
	assert.Equal(t, n, rows[0][1])
}
