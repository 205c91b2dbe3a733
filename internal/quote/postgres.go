package quote

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cyber-rating/internal/db"
	"github.com/sells-group/cyber-rating/internal/tower"
)

// PostgresStore implements Store on the insurance_towers table.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres opens a pool and returns a PostgresStore that owns it.
func NewPostgres(ctx context.Context, connString string, poolCfg *db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.NewPool(ctx, connString, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: open")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Close does not close it.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying pool for callers that share it, such as the
// rate table loader.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

// Migrate applies the embedded schema migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return db.Migrate(ctx, s.pool)
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const towerColumns = `id, submission_id, quote_name, tower_json, position, primary_retention,
	sold_premium, technical_premium, rating_breakdown, is_bound, effective_date,
	expiration_date, created_at, updated_at`

func (s *PostgresStore) UpsertTower(ctx context.Context, row *TowerRow) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO insurance_towers (id, submission_id, quote_name, tower_json, position,
			primary_retention, sold_premium, technical_premium, rating_breakdown,
			effective_date, expiration_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		ON CONFLICT (id) DO UPDATE SET
			submission_id = EXCLUDED.submission_id,
			quote_name = EXCLUDED.quote_name,
			tower_json = EXCLUDED.tower_json,
			position = EXCLUDED.position,
			primary_retention = EXCLUDED.primary_retention,
			sold_premium = EXCLUDED.sold_premium,
			technical_premium = EXCLUDED.technical_premium,
			rating_breakdown = EXCLUDED.rating_breakdown,
			effective_date = EXCLUDED.effective_date,
			expiration_date = EXCLUDED.expiration_date,
			updated_at = EXCLUDED.updated_at
		WHERE NOT insurance_towers.is_bound`,
		row.ID, row.SubmissionID, row.QuoteName, []byte(row.TowerJSON), string(row.Position),
		row.PrimaryRetention, row.SoldPremium, row.TechnicalPremium, nullJSON(row.RatingBreakdown),
		row.EffectiveDate, row.ExpirationDate, now,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert tower %s", row.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrAlreadyBound, "postgres: tower %s is bound", row.ID)
	}

	row.UpdatedAt = now
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	zap.L().Debug("postgres: upserted tower",
		zap.String("id", row.ID),
		zap.String("submission_id", row.SubmissionID),
		zap.String("quote_name", row.QuoteName),
	)
	return nil
}

func (s *PostgresStore) GetTower(ctx context.Context, id string) (*TowerRow, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+towerColumns+` FROM insurance_towers WHERE id = $1`, id)
	r, err := scanTower(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get tower %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get tower %s", id)
	}
	return r, nil
}

func (s *PostgresStore) ListTowers(ctx context.Context, submissionID string) ([]TowerRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+towerColumns+` FROM insurance_towers WHERE submission_id = $1 ORDER BY created_at, id`,
		submissionID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list towers for %s", submissionID)
	}
	defer rows.Close()

	var out []TowerRow
	for rows.Next() {
		r, err := scanTower(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan tower")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list towers iterate")
}

// BindTower locks the tower row, checks no sibling is bound, and flips
// is_bound. The partial unique index on bound towers backs the check.
func (s *PostgresStore) BindTower(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: bind tower: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var submissionID string
	var bound bool
	err = tx.QueryRow(ctx,
		`SELECT submission_id, is_bound FROM insurance_towers WHERE id = $1 FOR UPDATE`, id,
	).Scan(&submissionID, &bound)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "postgres: bind tower %s", id)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: bind tower %s: lock", id)
	}
	if bound {
		return eris.Wrapf(ErrAlreadyBound, "postgres: tower %s is already bound", id)
	}

	var siblingBound bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM insurance_towers WHERE submission_id = $1 AND is_bound AND id <> $2)`,
		submissionID, id,
	).Scan(&siblingBound)
	if err != nil {
		return eris.Wrapf(err, "postgres: bind tower %s: check siblings", id)
	}
	if siblingBound {
		return eris.Wrapf(ErrAlreadyBound, "postgres: submission %s", submissionID)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE insurance_towers SET is_bound = true, updated_at = now() WHERE id = $1 AND NOT is_bound`, id,
	); err != nil {
		if isUniqueViolation(err) {
			return eris.Wrapf(ErrAlreadyBound, "postgres: submission %s", submissionID)
		}
		return eris.Wrapf(err, "postgres: bind tower %s", id)
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrapf(err, "postgres: bind tower %s: commit", id)
	}
	zap.L().Info("postgres: tower bound", zap.String("id", id), zap.String("submission_id", submissionID))
	return nil
}

func (s *PostgresStore) ListAllNames(ctx context.Context) ([]NameRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, submission_id, quote_name, tower_json, position, COALESCE(primary_retention, 0)
		FROM insurance_towers ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list quote names")
	}
	defer rows.Close()

	var out []NameRecord
	for rows.Next() {
		var rec NameRecord
		var towerJSON []byte
		var position string
		if err := rows.Scan(&rec.ID, &rec.SubmissionID, &rec.QuoteName, &towerJSON, &position, &rec.PrimaryRetention); err != nil {
			return nil, eris.Wrap(err, "postgres: scan quote name")
		}
		rec.TowerJSON = towerJSON
		rec.Position = tower.Position(position)
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list quote names iterate")
}

// UpdateQuoteNames writes all updates in one staged bulk update.
func (s *PostgresStore) UpdateQuoteNames(ctx context.Context, updates []NameUpdate) (int64, error) {
	rows := make([][]any, len(updates))
	for i, u := range updates {
		rows[i] = []any{u.ID, u.QuoteName}
	}
	n, err := db.BulkUpdate(ctx, s.pool, db.UpdateConfig{
		Table:   "insurance_towers",
		Keys:    []string{"id"},
		Columns: []string{"quote_name"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: update quote names")
	}
	return n, nil
}

func scanTower(row pgx.Row) (*TowerRow, error) {
	var r TowerRow
	var towerJSON, breakdown []byte
	var position string
	err := row.Scan(
		&r.ID, &r.SubmissionID, &r.QuoteName, &towerJSON, &position, &r.PrimaryRetention,
		&r.SoldPremium, &r.TechnicalPremium, &breakdown, &r.IsBound, &r.EffectiveDate,
		&r.ExpirationDate, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.TowerJSON = towerJSON
	r.RatingBreakdown = breakdown
	r.Position = tower.Position(position)
	return &r, nil
}

// nullJSON maps an empty document to SQL NULL.
func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
