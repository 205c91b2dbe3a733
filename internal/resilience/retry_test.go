package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func quick(attempts int) Policy {
	return Policy{Op: "test", Attempts: attempts, Backoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond}
}

func TestDo_FirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultPolicy("quote.save"), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesSerializationFailure(t *testing.T) {
	calls := 0
	err := Do(context.Background(), quick(3), func(context.Context) error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ReturnsLastErrorUnchanged(t *testing.T) {
	sentinel := NewTransientError(errors.New("database is locked"))
	calls := 0
	err := Do(context.Background(), quick(2), func(context.Context) error {
		calls++
		return sentinel
	})
	assert.Same(t, sentinel, err)
	assert.Equal(t, 2, calls)
}

func TestDo_PermanentErrorStops(t *testing.T) {
	calls := 0
	err := Do(context.Background(), quick(5), func(context.Context) error {
		calls++
		return &pgconn.PgError{Code: "23505", Message: "duplicate key value"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_StopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := quick(10)
	p.Backoff = time.Second
	p.MaxBackoff = time.Second

	calls := 0
	err := Do(ctx, p, func(context.Context) error {
		calls++
		cancel()
		return NewTransientError(errors.New("connection reset"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_CustomRetryableAndLogging(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	defer zap.ReplaceGlobals(zap.New(core))()

	p := quick(3).WithOp("quote.bind")
	p.Retryable = func(error) bool { return true }

	err := Do(context.Background(), p, func(context.Context) error {
		return errors.New("plain")
	})
	require.Error(t, err)

	require.Equal(t, 2, logs.Len())
	for i, e := range logs.All() {
		assert.Equal(t, "resilience: retrying", e.Message)
		assert.Equal(t, "quote.bind", e.ContextMap()["op"])
		assert.Equal(t, int64(i+1), e.ContextMap()["attempt"])
		assert.Equal(t, int64(3), e.ContextMap()["attempts"])
	}
}

func TestDoVal(t *testing.T) {
	calls := 0
	v, err := DoVal(context.Background(), quick(3), func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", NewTransientError(errors.New("busy"))
		}
		return "Q1", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Q1", v)

	n, err := DoVal(context.Background(), quick(2), func(context.Context) (int, error) {
		return 7, errors.New("permanent")
	})
	require.Error(t, err)
	assert.Zero(t, n)
}

func TestNormalize(t *testing.T) {
	p := Policy{Backoff: 10 * time.Second}.normalize()
	assert.Equal(t, 3, p.Attempts)
	assert.Equal(t, 10*time.Second, p.MaxBackoff)
	assert.NotNil(t, p.Retryable)

	p = Policy{}.normalize()
	assert.Equal(t, 200*time.Millisecond, p.Backoff)
	assert.Equal(t, 5*time.Second, p.MaxBackoff)
}

func TestWait_DoublesWithinCap(t *testing.T) {
	p := Policy{Backoff: 100 * time.Millisecond, MaxBackoff: time.Second}
	assert.Equal(t, 100*time.Millisecond, p.ceiling(1))
	assert.Equal(t, 200*time.Millisecond, p.ceiling(2))
	assert.Equal(t, 400*time.Millisecond, p.ceiling(3))
	assert.Equal(t, time.Second, p.ceiling(20))

	for i := 0; i < 50; i++ {
		d := p.wait(2)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 200*time.Millisecond)
	}
}

func TestPolicyFromConfig(t *testing.T) {
	p := PolicyFromConfig("ratetable.seed", 5, 50, 0)
	assert.Equal(t, "ratetable.seed", p.Op)
	assert.Equal(t, 5, p.Attempts)
	assert.Equal(t, 50*time.Millisecond, p.Backoff)
	assert.Equal(t, 5*time.Second, p.MaxBackoff)

	assert.Equal(t, DefaultPolicy("x"), PolicyFromConfig("x", 0, -1, 0))
}
