package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig defines the parameters for a bulk upsert operation.
type UpsertConfig struct {
	Table        string   // target table (e.g., "rating.limit_factors")
	Columns      []string // all columns being inserted
	ConflictKeys []string // columns forming the unique constraint
	UpdateCols   []string // columns to update on conflict; nil = all non-conflict columns
}

// UpdateConfig defines the parameters for a bulk keyed update.
type UpdateConfig struct {
	Table   string   // target table
	Keys    []string // columns identifying the row
	Columns []string // columns to overwrite
}

// BulkUpsert performs a bulk upsert via a temp table and INSERT ... ON CONFLICT.
// 1. Creates a temp table with the same columns
// 2. COPY rows into the temp table
// 3. INSERT INTO target SELECT ... FROM temp ON CONFLICT (keys) DO UPDATE SET ...
// The temp table is dropped on commit.
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return 0, eris.New("db: upsert: no conflict keys specified")
	}

	updateCols := cfg.UpdateCols
	if updateCols == nil {
		conflictSet := make(map[string]bool, len(cfg.ConflictKeys))
		for _, k := range cfg.ConflictKeys {
			conflictSet[k] = true
		}
		for _, c := range cfg.Columns {
			if !conflictSet[c] {
				updateCols = append(updateCols, c)
			}
		}
	}

	colList := quoteAndJoin(cfg.Columns)
	conflictAction := "DO NOTHING"
	if len(updateCols) > 0 {
		var setClauses []string
		for _, col := range updateCols {
			setClauses = append(setClauses, fmt.Sprintf("%s = EXCLUDED.%s", pgx.Identifier{col}.Sanitize(), pgx.Identifier{col}.Sanitize()))
		}
		conflictAction = "DO UPDATE SET " + strings.Join(setClauses, ", ")
	}

	createSQL := func(tempTable string) string {
		return fmt.Sprintf(
			"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
			pgx.Identifier{tempTable}.Sanitize(),
			sanitizeTable(cfg.Table),
		)
	}

	return withTempTable(ctx, pool, "upsert", cfg.Table, cfg.Columns, rows, createSQL, func(tempTable string) string {
		return fmt.Sprintf(
			"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) %s",
			sanitizeTable(cfg.Table),
			colList,
			colList,
			pgx.Identifier{tempTable}.Sanitize(),
			quoteAndJoin(cfg.ConflictKeys),
			conflictAction,
		)
	})
}

// BulkUpdate overwrites Columns on existing rows matched by Keys. Rows with
// no match in the target are ignored; nothing is inserted.
func BulkUpdate(ctx context.Context, pool Pool, cfg UpdateConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(cfg.Keys) == 0 {
		return 0, eris.New("db: update: no key columns specified")
	}
	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: update: no columns specified")
	}

	allCols := append(append([]string{}, cfg.Keys...), cfg.Columns...)

	// Only the staged columns are copied, so NOT NULL columns outside them
	// must not carry over from the target.
	createSQL := func(tempTable string) string {
		return fmt.Sprintf(
			"CREATE TEMP TABLE %s ON COMMIT DROP AS SELECT %s FROM %s WITH NO DATA",
			pgx.Identifier{tempTable}.Sanitize(),
			quoteAndJoin(allCols),
			sanitizeTable(cfg.Table),
		)
	}

	return withTempTable(ctx, pool, "update", cfg.Table, allCols, rows, createSQL, func(tempTable string) string {
		tmp := pgx.Identifier{tempTable}.Sanitize()

		sets := make([]string, len(cfg.Columns))
		for i, c := range cfg.Columns {
			col := pgx.Identifier{c}.Sanitize()
			sets[i] = fmt.Sprintf("%s = s.%s", col, col)
		}
		conds := make([]string, len(cfg.Keys))
		for i, k := range cfg.Keys {
			col := pgx.Identifier{k}.Sanitize()
			conds[i] = fmt.Sprintf("t.%s = s.%s", col, col)
		}

		return fmt.Sprintf(
			"UPDATE %s AS t SET %s FROM %s AS s WHERE %s",
			sanitizeTable(cfg.Table),
			strings.Join(sets, ", "),
			tmp,
			strings.Join(conds, " AND "),
		)
	})
}

// withTempTable stages rows in a transaction-scoped temp table created by
// create and runs the statement built by stmt against it.
func withTempTable(ctx context.Context, pool Pool, op, table string, columns []string, rows [][]any, create, stmt func(tempTable string) string) (int64, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrapf(err, "db: %s: begin tx", op)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tempTable := tempTableName(op, table)

	if _, err := tx.Exec(ctx, create(tempTable)); err != nil {
		return 0, eris.Wrapf(err, "db: %s: create temp table for %s", op, table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tempTable}, columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: %s: COPY into temp table for %s", op, table)
	}

	tag, err := tx.Exec(ctx, stmt(tempTable))
	if err != nil {
		return 0, eris.Wrapf(err, "db: %s: apply to %s", op, table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrapf(err, "db: %s: commit tx", op)
	}

	return tag.RowsAffected(), nil
}

func tempTableName(op, table string) string {
	return fmt.Sprintf("_tmp_%s_%s", op, strings.ReplaceAll(table, ".", "_"))
}

// sanitizeTable handles schema-qualified table names like "rating.base_rates".
func sanitizeTable(table string) string {
	return identifier(table).Sanitize()
}

func identifier(table string) pgx.Identifier {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}
	}
	return pgx.Identifier{table}
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
