package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var retentionColumns = []string{"retention", "factor"}

func TestCopyFrom_NothingToCopy(t *testing.T) {
	n, err := CopyFrom(context.Background(), nil, "rating.retention_factors", retentionColumns, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCopyFrom_RetentionFactors(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"rating", "retention_factors"}, retentionColumns).WillReturnResult(3)

	rows := [][]any{
		{int64(10_000), "1.0500"},
		{int64(25_000), "1.0000"},
		{int64(50_000), "0.9400"},
	}
	n, err := CopyFrom(context.Background(), mock, "rating.retention_factors", retentionColumns, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_UnqualifiedTable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"quotes"}, []string{"id"}).WillReturnResult(1)

	n, err := CopyFrom(context.Background(), mock, "quotes", []string{"id"}, [][]any{{"q-1"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_RaggedRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := [][]any{{int64(10_000), "1.0500"}, {int64(25_000)}}
	_, err = CopyFrom(context.Background(), mock, "rating.retention_factors", retentionColumns, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 1 has 1 values, want 2")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_DriverError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"rating", "retention_factors"}, retentionColumns).
		WillReturnError(errors.New("duplicate key value violates unique constraint"))

	_, err = CopyFrom(context.Background(), mock, "rating.retention_factors", retentionColumns, [][]any{{int64(10_000), "1.05"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db: copy rating.retention_factors")
	assert.NoError(t, mock.ExpectationsWereMet())
}
