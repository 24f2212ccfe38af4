package provider

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func limiterWithClock(maxTokens int, interval time.Duration) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 2, 8, 0, 0, 0, 0, time.UTC)}
	l := NewRateLimiter(maxTokens, interval)
	l.now = clock.now
	l.lastRefill = clock.t
	return l, clock
}

func TestRateLimiterBurstThenRefill(t *testing.T) {
	l, clock := limiterWithClock(3, time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("burst call %d: %v", i, err)
		}
	}
	if l.tokens != 0 {
		t.Fatalf("expected empty bucket, got %d", l.tokens)
	}

	clock.advance(2500 * time.Millisecond)
	l.mu.Lock()
	l.refill()
	tokens, last := l.tokens, l.lastRefill
	l.mu.Unlock()
	if tokens != 2 {
		t.Fatalf("expected 2 tokens after 2.5 intervals, got %d", tokens)
	}
	if want := clock.t.Add(-500 * time.Millisecond); !last.Equal(want) {
		t.Fatalf("partial interval should carry over: last=%s want=%s", last, want)
	}

	clock.advance(time.Hour)
	l.mu.Lock()
	l.refill()
	tokens = l.tokens
	l.mu.Unlock()
	if tokens != 3 {
		t.Fatalf("refill should cap at burst size, got %d", tokens)
	}
}

func TestRateLimiterWaitHonorsContext(t *testing.T) {
	l, _ := limiterWithClock(1, time.Hour)
	_ = l.Wait(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestPerMinuteSpacing(t *testing.T) {
	tests := map[int]time.Duration{
		30:  2 * time.Second,
		600: 100 * time.Millisecond,
		0:   time.Minute,
	}
	for n, want := range tests {
		l := PerMinute(n)
		if l.refillInterval != want {
			t.Fatalf("PerMinute(%d): expected interval %s, got %s", n, want, l.refillInterval)
		}
	}
}
