package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient_Nil(t *testing.T) {
	assert.False(t, IsTransient(nil))
}

func TestIsTransient_ExplicitAndWrapped(t *testing.T) {
	te := NewTransientError(errors.New("pool exhausted"))
	assert.True(t, IsTransient(te))
	assert.True(t, IsTransient(fmt.Errorf("save tower: %w", te)))
	assert.True(t, IsTransient(eris.Wrap(te, "quote: upsert tower")))
}

func TestIsTransient_PgError(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"40001", true},
		{"40P01", true},
		{"53300", true},
		{"57P01", true},
		{"08006", true},
		{"08001", true},
		{"23505", false},
		{"23502", false},
		{"42P01", false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := eris.Wrap(&pgconn.PgError{Code: tt.code}, "db: write")
			assert.Equal(t, tt.want, IsTransient(err))
		})
	}
}

func TestIsTransient_Network(t *testing.T) {
	assert.True(t, IsTransient(fmt.Errorf("write tcp: %w", syscall.ECONNRESET)))
	assert.True(t, IsTransient(fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED)))
	assert.True(t, IsTransient(&net.DNSError{IsTimeout: true, Err: "timeout"}))
}

func TestIsTransient_Patterns(t *testing.T) {
	for _, msg := range []string{
		"connection reset by peer",
		"broken pipe",
		"read: i/o timeout",
		"database is locked (5) (SQLITE_BUSY)",
	} {
		assert.True(t, IsTransient(errors.New(msg)), msg)
	}
	assert.False(t, IsTransient(errors.New("rating: invalid limit")))
}

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("root cause")
	te := NewTransientError(inner)
	assert.ErrorIs(t, te, inner)
	assert.Equal(t, "root cause", te.Error())
}
