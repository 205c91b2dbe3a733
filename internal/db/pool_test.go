package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parsePoolConfig(t *testing.T, url string) *pgxpool.Config {
	t.Helper()
	pc, err := pgxpool.ParseConfig(url)
	require.NoError(t, err)
	return pc
}

func TestPoolConfig_Defaults(t *testing.T) {
	pc := parsePoolConfig(t, "postgres://rater@localhost:5432/rating")
	(*PoolConfig)(nil).apply(pc)

	assert.Equal(t, int32(10), pc.MaxConns)
	assert.Equal(t, int32(2), pc.MinConns)
	assert.Equal(t, ApplicationName, pc.ConnConfig.RuntimeParams["application_name"])
}

func TestPoolConfig_Overrides(t *testing.T) {
	pc := parsePoolConfig(t, "postgres://rater@localhost:5432/rating?application_name=quote-backfill")
	(&PoolConfig{MaxConns: 4, MinConns: 8}).apply(pc)

	assert.Equal(t, int32(4), pc.MaxConns)
	assert.Equal(t, int32(4), pc.MinConns, "min clamps to max")
	assert.Equal(t, "quote-backfill", pc.ConnConfig.RuntimeParams["application_name"])
}

func TestNewPool_BadURL(t *testing.T) {
	_, err := NewPool(context.Background(), "postgres://%zz", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db: parse pool config")
}
