// Package retry runs a fallible operation with bounded attempts and
// exponential backoff, retrying only errors the policy classifies as transient.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tsingest/internal/domain"

	"go.uber.org/zap"
)

const (
	DefaultMaxAttempts = 3
	DefaultMultiplier  = time.Second
	DefaultMin         = 4 * time.Second
	DefaultMax         = 10 * time.Second
)

// ErrExhausted matches every error returned after the attempt budget ran out.
var ErrExhausted = errors.New("retries exhausted")

type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", ErrExhausted, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrExhausted, e.Last}
}

type Policy struct {
	MaxAttempts int
	Multiplier  time.Duration
	Min         time.Duration
	Max         time.Duration
	Retryable   func(error) bool
	Sleep       func(ctx context.Context, d time.Duration) error
	Logger      *zap.Logger
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		Multiplier:  DefaultMultiplier,
		Min:         DefaultMin,
		Max:         DefaultMax,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Multiplier <= 0 {
		p.Multiplier = DefaultMultiplier
	}
	if p.Min < 0 {
		p.Min = 0
	}
	if p.Max <= 0 {
		p.Max = DefaultMax
	}
	if p.Max < p.Min {
		p.Max = p.Min
	}
	if p.Retryable == nil {
		p.Retryable = domain.IsRetryable
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	return p
}

// Delay is the wait after the n-th failed attempt (n starts at 1):
// Multiplier * 2^(n-1), clamped to [Min, Max].
func (p Policy) Delay(n int) time.Duration {
	p = p.withDefaults()
	if n < 1 {
		n = 1
	}
	d := p.Multiplier
	for i := 1; i < n; i++ {
		if d >= p.Max {
			break
		}
		d *= 2
	}
	if d < p.Min {
		return p.Min
	}
	if d > p.Max {
		return p.Max
	}
	return d
}

// Schedule returns the first n backoff delays.
func (p Policy) Schedule(n int) []time.Duration {
	out := make([]time.Duration, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, p.Delay(i))
	}
	return out
}

// Do invokes op until it succeeds, fails terminally, or the attempt budget
// is spent. Terminal errors are returned unchanged without sleeping.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	p = p.withDefaults()
	var zero T

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if !p.Retryable(err) {
			return zero, err
		}
		if attempt >= p.MaxAttempts {
			return zero, &ExhaustedError{Attempts: attempt, Last: err}
		}

		delay := p.Delay(attempt)
		p.Logger.Warn("retrying after transient error",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if serr := p.Sleep(ctx, delay); serr != nil {
			return zero, errors.Join(serr, err)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
