package db

import (
	"cmp"
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"io/fs"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrationLockID keys the advisory lock held while migrations run.
const migrationLockID = 72214001

const ledgerDDL = `
CREATE SCHEMA IF NOT EXISTS rating;
CREATE TABLE IF NOT EXISTS rating.schema_migrations (
	filename   TEXT PRIMARY KEY,
	checksum   TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

type migration struct {
	name     string
	sql      string
	checksum string
}

// Migrate applies the embedded rate table and tower migrations that are not
// yet in rating.schema_migrations. Each file runs in its own transaction
// together with its ledger row. A recorded migration whose checksum no
// longer matches the embedded file is an error.
func Migrate(ctx context.Context, pool Pool) error {
	log := zap.L().With(zap.String("component", "db.migrate"))

	if _, err := pool.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return eris.Wrap(err, "db: acquire migration advisory lock")
	}
	defer func() {
		if _, err := pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			log.Warn("db: release migration advisory lock", zap.Error(err))
		}
	}()

	if _, err := pool.Exec(ctx, ledgerDDL); err != nil {
		return eris.Wrap(err, "db: ensure migration ledger")
	}

	migrations, err := loadMigrations()
	if err != nil {
		return err
	}
	applied, err := appliedMigrations(ctx, pool)
	if err != nil {
		return err
	}

	pending := 0
	for _, m := range migrations {
		if sum, ok := applied[m.name]; ok {
			if sum != m.checksum {
				return eris.Errorf("db: migration %s changed after it was applied", m.name)
			}
			continue
		}
		if err := applyMigration(ctx, pool, m); err != nil {
			return err
		}
		pending++
		log.Info("db: migration applied", zap.String("file", m.name))
	}

	log.Debug("db: schema up to date", zap.Int("applied", pending), zap.Int("total", len(migrations)))
	return nil
}

func applyMigration(ctx context.Context, pool Pool, m migration) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return eris.Wrapf(err, "db: begin migration %s", m.name)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, m.sql); err != nil {
		return eris.Wrapf(err, "db: apply migration %s", m.name)
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO rating.schema_migrations (filename, checksum) VALUES ($1, $2)",
		m.name, m.checksum,
	); err != nil {
		return eris.Wrapf(err, "db: record migration %s", m.name)
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrapf(err, "db: commit migration %s", m.name)
	}
	return nil
}

// loadMigrations reads the embedded files in name order (zero-padded
// numeric prefixes).
func loadMigrations() ([]migration, error) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return nil, eris.Wrap(err, "db: read migration dir")
	}

	out := make([]migration, 0, len(entries))
	for _, e := range entries {
		data, err := migrationFS.ReadFile("migrations/" + e.Name())
		if err != nil {
			return nil, eris.Wrapf(err, "db: read migration %s", e.Name())
		}
		sum := sha256.Sum256(data)
		out = append(out, migration{name: e.Name(), sql: string(data), checksum: hex.EncodeToString(sum[:])})
	}
	slices.SortFunc(out, func(a, b migration) int { return cmp.Compare(a.name, b.name) })
	return out, nil
}

// appliedMigrations maps recorded filenames to their checksums.
func appliedMigrations(ctx context.Context, pool Pool) (map[string]string, error) {
	rows, err := pool.Query(ctx, "SELECT filename, checksum FROM rating.schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "db: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]string)
	for rows.Next() {
		var name, sum string
		if err := rows.Scan(&name, &sum); err != nil {
			return nil, eris.Wrap(err, "db: scan migration row")
		}
		applied[name] = sum
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "db: iterate applied migrations")
	}
	return applied, nil
}
