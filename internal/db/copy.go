package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CopyFrom streams rows straight into table over the COPY protocol. It does
// no conflict handling, so callers use it only on tables they have just
// emptied (a table reseed) and use BulkUpsert everywhere else.
func CopyFrom(ctx context.Context, pool Pool, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	for i, r := range rows {
		if len(r) != len(columns) {
			return 0, eris.Errorf("db: copy %s: row %d has %d values, want %d", table, i, len(r), len(columns))
		}
	}

	n, err := pool.CopyFrom(ctx, identifier(table), columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: copy %s", table)
	}
	return n, nil
}
