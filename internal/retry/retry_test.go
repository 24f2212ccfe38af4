package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"tsingest/internal/domain"
)

type recordingSleeper struct {
	delays []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func (r *recordingSleeper) total() time.Duration {
	var sum time.Duration
	for _, d := range r.delays {
		sum += d
	}
	return sum
}

func testPolicy(maxAttempts int, s *recordingSleeper) Policy {
	p := DefaultPolicy()
	p.MaxAttempts = maxAttempts
	p.Sleep = s.sleep
	return p
}

func TestDelayScheduleClamped(t *testing.T) {
	p := DefaultPolicy()
	expected := []time.Duration{4 * time.Second, 4 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	got := p.Schedule(len(expected))
	for i := range expected {
		if got[i] != expected[i] {
			t.Fatalf("delay %d: expected %v, got %v", i+1, expected[i], got[i])
		}
	}
}

func TestRetryableFailuresThenSuccess(t *testing.T) {
	const maxAttempts = 5
	for failures := 0; failures < maxAttempts; failures++ {
		s := &recordingSleeper{}
		p := testPolicy(maxAttempts, s)

		calls := 0
		v, err := Do(context.Background(), p, func(context.Context) (int, error) {
			calls++
			if calls <= failures {
				return 0, domain.NewFetchError("binance", domain.ErrRateLimited, 429, nil)
			}
			return 42, nil
		})
		if err != nil || v != 42 {
			t.Fatalf("failures=%d: expected success, got %d, %v", failures, v, err)
		}
		if calls != failures+1 {
			t.Fatalf("failures=%d: expected %d calls, got %d", failures, failures+1, calls)
		}

		var want time.Duration
		for _, d := range p.Schedule(failures) {
			want += d
		}
		if s.total() != want {
			t.Fatalf("failures=%d: expected total delay %v, got %v", failures, want, s.total())
		}
	}
}

func TestTerminalErrorIsNotRetried(t *testing.T) {
	for _, kind := range []error{domain.ErrUnauthorized, domain.ErrMalformedResponse} {
		s := &recordingSleeper{}
		calls := 0
		_, err := Do(context.Background(), testPolicy(3, s), func(context.Context) (string, error) {
			calls++
			return "", domain.NewFetchError("glassnode", kind, 401, nil)
		})
		if calls != 1 {
			t.Fatalf("%v: expected exactly one call, got %d", kind, calls)
		}
		if len(s.delays) != 0 {
			t.Fatalf("%v: expected no sleep, got %v", kind, s.delays)
		}
		if !errors.Is(err, kind) {
			t.Fatalf("expected %v, got %v", kind, err)
		}
		if errors.Is(err, ErrExhausted) {
			t.Fatalf("terminal error must not look like exhaustion: %v", err)
		}
	}
}

func TestExhaustedSurfacesLastError(t *testing.T) {
	s := &recordingSleeper{}
	calls := 0
	_, err := Do(context.Background(), testPolicy(3, s), func(context.Context) (int, error) {
		calls++
		return 0, domain.NewFetchError("fred", domain.ErrNetworkUnavailable, 503, nil)
	})
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if len(s.delays) != 2 {
		t.Fatalf("expected 2 sleeps, got %v", s.delays)
	}
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) || exhausted.Attempts != 3 {
		t.Fatalf("expected exhausted error after 3 attempts, got %v", err)
	}
	if !errors.Is(err, ErrExhausted) || !errors.Is(err, domain.ErrNetworkUnavailable) {
		t.Fatalf("exhausted error should wrap the last error: %v", err)
	}
	if errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("exhaustion must be distinguishable from unauthorized: %v", err)
	}
}

func TestCanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := DefaultPolicy()
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	calls := 0
	_, err := Do(ctx, p, func(context.Context) (int, error) {
		calls++
		return 0, domain.NewFetchError("x", domain.ErrRateLimited, 429, nil)
	})
	if calls != 1 {
		t.Fatalf("expected no attempt after cancellation, got %d calls", calls)
	}
	if !errors.Is(err, context.Canceled) || !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected cancellation joined with last error, got %v", err)
	}
}

func TestRealSleepHonorsDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Do(ctx, DefaultPolicy(), func(context.Context) (int, error) {
		return 0, domain.NewFetchError("x", domain.ErrNetworkUnavailable, 0, nil)
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("backoff should stop at the deadline")
	}
}
