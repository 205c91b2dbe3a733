// Package resilience retries transient persistence failures with
// exponential backoff.
package resilience

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Policy says how often and how patiently an operation against the quote
// store or the rate tables is retried.
type Policy struct {
	// Op names the operation in retry logs, e.g. "quote.save".
	Op string
	// Attempts counts the first try; 1 disables retries.
	Attempts int
	// Backoff is the wait before the first retry. It doubles per retry up
	// to MaxBackoff, and each wait is drawn from [d/2, d].
	Backoff    time.Duration
	MaxBackoff time.Duration
	// Retryable overrides IsTransient.
	Retryable func(error) bool
}

// DefaultPolicy retries op three times starting at 200ms.
func DefaultPolicy(op string) Policy {
	return Policy{
		Op:         op,
		Attempts:   3,
		Backoff:    200 * time.Millisecond,
		MaxBackoff: 5 * time.Second,
	}
}

// WithOp returns a copy of p logging under op.
func (p Policy) WithOp(op string) Policy {
	p.Op = op
	return p
}

// Do runs fn until it succeeds, fails permanently, runs out of attempts or
// ctx ends, and returns the last error unchanged.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal is Do for operations that produce a value.
func DoVal[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalize()

	var zero T
	for attempt := 1; ; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		if attempt >= p.Attempts || ctx.Err() != nil || !p.Retryable(err) {
			return zero, err
		}

		wait := p.wait(attempt)
		zap.L().Warn("resilience: retrying",
			zap.String("op", p.Op),
			zap.Int("attempt", attempt),
			zap.Int("attempts", p.Attempts),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, err
		case <-timer.C:
		}
	}
}

func (p Policy) normalize() Policy {
	def := DefaultPolicy(p.Op)
	if p.Attempts <= 0 {
		p.Attempts = def.Attempts
	}
	if p.Backoff <= 0 {
		p.Backoff = def.Backoff
	}
	if p.MaxBackoff < p.Backoff {
		p.MaxBackoff = max(def.MaxBackoff, p.Backoff)
	}
	if p.Retryable == nil {
		p.Retryable = IsTransient
	}
	return p
}

// ceiling is the upper bound of the wait after the given failed attempt.
func (p Policy) ceiling(attempt int) time.Duration {
	d := p.Backoff
	for i := 1; i < attempt && d < p.MaxBackoff; i++ {
		d *= 2
	}
	return min(d, p.MaxBackoff)
}

func (p Policy) wait(attempt int) time.Duration {
	d := p.ceiling(attempt)
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + time.Duration(rand.Int63n(int64(d-half+1)))
}
