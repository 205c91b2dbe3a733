package quote

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/cyber-rating/internal/tower"
)

// SQLiteStore implements Store using modernc.org/sqlite for single-user
// workstations and tests.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS insurance_towers (
	id                TEXT PRIMARY KEY,
	submission_id     TEXT NOT NULL,
	quote_name        TEXT NOT NULL,
	tower_json        TEXT NOT NULL,
	position          TEXT NOT NULL DEFAULT 'primary' CHECK (position IN ('primary', 'excess')),
	primary_retention INTEGER,
	sold_premium      INTEGER,
	technical_premium INTEGER,
	rating_breakdown  TEXT,
	is_bound          INTEGER NOT NULL DEFAULT 0,
	effective_date    DATETIME,
	expiration_date   DATETIME,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_insurance_towers_submission ON insurance_towers(submission_id);
CREATE UNIQUE INDEX IF NOT EXISTS uq_insurance_towers_bound ON insurance_towers(submission_id) WHERE is_bound = 1;
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertTower(ctx context.Context, row *TowerRow) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO insurance_towers (id, submission_id, quote_name, tower_json, position,
			primary_retention, sold_premium, technical_premium, rating_breakdown,
			effective_date, expiration_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			submission_id = excluded.submission_id,
			quote_name = excluded.quote_name,
			tower_json = excluded.tower_json,
			position = excluded.position,
			primary_retention = excluded.primary_retention,
			sold_premium = excluded.sold_premium,
			technical_premium = excluded.technical_premium,
			rating_breakdown = excluded.rating_breakdown,
			effective_date = excluded.effective_date,
			expiration_date = excluded.expiration_date,
			updated_at = excluded.updated_at
		WHERE insurance_towers.is_bound = 0`,
		row.ID, row.SubmissionID, row.QuoteName, string(row.TowerJSON), string(row.Position),
		row.PrimaryRetention, row.SoldPremium, row.TechnicalPremium, nullText(row.RatingBreakdown),
		row.EffectiveDate, row.ExpirationDate, now, now,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert tower %s", row.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrAlreadyBound, "sqlite: tower %s is bound", row.ID)
	}

	row.UpdatedAt = now
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	return nil
}

func (s *SQLiteStore) GetTower(ctx context.Context, id string) (*TowerRow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+towerColumns+` FROM insurance_towers WHERE id = ?`, id)
	r, err := scanSQLiteTower(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get tower %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get tower %s", id)
	}
	return r, nil
}

func (s *SQLiteStore) ListTowers(ctx context.Context, submissionID string) ([]TowerRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+towerColumns+` FROM insurance_towers WHERE submission_id = ? ORDER BY created_at, id`,
		submissionID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list towers for %s", submissionID)
	}
	defer rows.Close()

	var out []TowerRow
	for rows.Next() {
		r, err := scanSQLiteTower(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan tower")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list towers iterate")
}

func (s *SQLiteStore) BindTower(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: bind tower: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var submissionID string
	var bound bool
	err = tx.QueryRowContext(ctx, `SELECT submission_id, is_bound FROM insurance_towers WHERE id = ?`, id).
		Scan(&submissionID, &bound)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "sqlite: bind tower %s", id)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: bind tower %s: read", id)
	}
	if bound {
		return eris.Wrapf(ErrAlreadyBound, "sqlite: tower %s is already bound", id)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE insurance_towers SET is_bound = 1, updated_at = ? WHERE id = ? AND is_bound = 0`,
		time.Now().UTC(), id,
	); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return eris.Wrapf(ErrAlreadyBound, "sqlite: submission %s", submissionID)
		}
		return eris.Wrapf(err, "sqlite: bind tower %s", id)
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrapf(err, "sqlite: bind tower %s: commit", id)
	}
	zap.L().Info("sqlite: tower bound", zap.String("id", id), zap.String("submission_id", submissionID))
	return nil
}

func (s *SQLiteStore) ListAllNames(ctx context.Context) ([]NameRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, submission_id, quote_name, tower_json, position, COALESCE(primary_retention, 0)
		FROM insurance_towers ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list quote names")
	}
	defer rows.Close()

	var out []NameRecord
	for rows.Next() {
		var rec NameRecord
		var towerJSON, position string
		if err := rows.Scan(&rec.ID, &rec.SubmissionID, &rec.QuoteName, &towerJSON, &position, &rec.PrimaryRetention); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan quote name")
		}
		rec.TowerJSON = []byte(towerJSON)
		rec.Position = tower.Position(position)
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list quote names iterate")
}

// UpdateQuoteNames applies updates row by row inside one transaction.
func (s *SQLiteStore) UpdateQuoteNames(ctx context.Context, updates []NameUpdate) (int64, error) {
	if len(updates) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: update quote names: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `UPDATE insurance_towers SET quote_name = ? WHERE id = ?`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare quote name update")
	}
	defer stmt.Close()

	var total int64
	for _, u := range updates {
		res, err := stmt.ExecContext(ctx, u.QuoteName, u.ID)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: update quote name %s", u.ID)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: update quote names: commit")
	}
	return total, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteTower(row rowScanner) (*TowerRow, error) {
	var r TowerRow
	var towerJSON, position string
	var breakdown sql.NullString
	var retention, sold, technical sql.NullInt64
	var effective, expiration sql.NullTime
	err := row.Scan(
		&r.ID, &r.SubmissionID, &r.QuoteName, &towerJSON, &position, &retention,
		&sold, &technical, &breakdown, &r.IsBound, &effective,
		&expiration, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.TowerJSON = []byte(towerJSON)
	r.Position = tower.Position(position)
	if breakdown.Valid {
		r.RatingBreakdown = []byte(breakdown.String)
	}
	r.PrimaryRetention = nullInt(retention)
	r.SoldPremium = nullInt(sold)
	r.TechnicalPremium = nullInt(technical)
	if effective.Valid {
		t := effective.Time
		r.EffectiveDate = &t
	}
	if expiration.Valid {
		t := expiration.Time
		r.ExpirationDate = &t
	}
	return &r, nil
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func nullText(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
