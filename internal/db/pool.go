// Package db provides the Postgres pool abstraction, schema migrations, and
// bulk write helpers shared by the rate table store and the quote store.
package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Pool is the subset of *pgxpool.Pool used by this module. pgxmock pools
// satisfy it, which keeps every query path unit-testable.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// A transaction is a Pool too: bulk helpers given a pgx.Tx run inside it,
// and their own Begin becomes a savepoint.
var _ Pool = pgx.Tx(nil)

// ApplicationName tags every connection in pg_stat_activity.
const ApplicationName = "cyber-rating"

// PoolConfig sizes the pool. Zero fields keep the defaults.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

func (c *PoolConfig) apply(pc *pgxpool.Config) {
	pc.MaxConns, pc.MinConns = 10, 2
	if c != nil && c.MaxConns > 0 {
		pc.MaxConns = c.MaxConns
	}
	if c != nil && c.MinConns > 0 {
		pc.MinConns = c.MinConns
	}
	if pc.MinConns > pc.MaxConns {
		pc.MinConns = pc.MaxConns
	}
	pc.MaxConnLifetime = 30 * time.Minute
	pc.MaxConnIdleTime = 5 * time.Minute
	if _, ok := pc.ConnConfig.RuntimeParams["application_name"]; !ok {
		pc.ConnConfig.RuntimeParams["application_name"] = ApplicationName
	}
}

// NewPool opens a pgx pool for connString and pings it.
func NewPool(ctx context.Context, connString string, cfg *PoolConfig) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "db: parse pool config")
	}
	cfg.apply(pc)

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, eris.Wrap(err, "db: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "db: ping")
	}

	zap.L().Debug("db: pool ready",
		zap.String("host", pc.ConnConfig.Host),
		zap.String("database", pc.ConnConfig.Database),
		zap.Int32("max_conns", pc.MaxConns),
	)
	return pool, nil
}
