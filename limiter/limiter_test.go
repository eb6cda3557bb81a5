package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/lumeoai/widget-sdk-go/store"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)}
}

func TestRateLimiter_CapsWindow(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	l, err := NewRateLimiter(store.NewMemory(), WithRateClock(clock), WithRateLimit(3))
	if err != nil {
		t.Fatalf("NewRateLimiter: %v", err)
	}

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "w1", "s1", 0)
		if err != nil || !ok {
			t.Fatalf("request %d: ok=%v err=%v, want allowed", i+1, ok, err)
		}
	}
	ok, err := l.Allow(ctx, "w1", "s1", 0)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if ok {
		t.Fatal("4th request in window allowed, want denied")
	}
}

func TestRateLimiter_WindowResets(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	l, _ := NewRateLimiter(store.NewMemory(), WithRateClock(clock), WithRateLimit(1))

	if ok, _ := l.Allow(ctx, "w1", "s1", 0); !ok {
		t.Fatal("first request denied")
	}
	if ok, _ := l.Allow(ctx, "w1", "s1", 0); ok {
		t.Fatal("second request in same window allowed")
	}

	clock.Advance(61 * time.Second)
	if ok, err := l.Allow(ctx, "w1", "s1", 0); err != nil || !ok {
		t.Fatalf("request after window expiry: ok=%v err=%v", ok, err)
	}
}

func TestRateLimiter_DeniedDoesNotConsume(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	l, _ := NewRateLimiter(store.NewMemory(), WithRateClock(clock), WithRateLimit(2))

	l.Allow(ctx, "w1", "s1", 0)
	l.Allow(ctx, "w1", "s1", 0)
	for i := 0; i < 5; i++ {
		if ok, _ := l.Allow(ctx, "w1", "s1", 0); ok {
			t.Fatal("over-limit request allowed")
		}
	}

	// The denied attempts must not have pushed the window start forward.
	clock.Advance(61 * time.Second)
	if ok, _ := l.Allow(ctx, "w1", "s1", 0); !ok {
		t.Fatal("request after expiry denied; denied attempts consumed the window")
	}
}

func TestRateLimiter_SessionsAreIndependent(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	l, _ := NewRateLimiter(store.NewMemory(), WithRateClock(clock), WithRateLimit(1))

	if ok, _ := l.Allow(ctx, "w1", "s1", 0); !ok {
		t.Fatal("s1 denied")
	}
	if ok, _ := l.Allow(ctx, "w1", "s2", 0); !ok {
		t.Fatal("s2 denied; sessions should not share a window")
	}
}

func TestRateLimiter_OverridePrecedence(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	l, _ := NewRateLimiter(store.NewMemory(), WithRateClock(clock), WithRateLimit(1))

	// Override above the default admits a second request.
	if ok, _ := l.Allow(ctx, "w1", "s1", 5); !ok {
		t.Fatal("first request denied")
	}
	if ok, _ := l.Allow(ctx, "w1", "s1", 5); !ok {
		t.Fatal("second request denied despite override of 5")
	}
}

func TestUsageGuard_CapsDay(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	g, err := NewUsageGuard(store.NewMemory(), WithUsageClock(clock), WithDailyQuota(2))
	if err != nil {
		t.Fatalf("NewUsageGuard: %v", err)
	}

	for i := 0; i < 2; i++ {
		if ok, err := g.Allow(ctx, "w1", 0); err != nil || !ok {
			t.Fatalf("execution %d: ok=%v err=%v", i+1, ok, err)
		}
	}
	if ok, _ := g.Allow(ctx, "w1", 0); ok {
		t.Fatal("execution over daily quota allowed")
	}
}

func TestUsageGuard_ResetsAtUTCMidnight(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	g, _ := NewUsageGuard(store.NewMemory(), WithUsageClock(clock), WithDailyQuota(1))

	if ok, _ := g.Allow(ctx, "w1", 0); !ok {
		t.Fatal("first execution denied")
	}
	if ok, _ := g.Allow(ctx, "w1", 0); ok {
		t.Fatal("second execution same day allowed")
	}

	clock.Advance(24 * time.Hour)
	if ok, _ := g.Allow(ctx, "w1", 0); !ok {
		t.Fatal("execution on the next UTC day denied")
	}
}

func TestUsageGuard_WidgetsAreIndependent(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	g, _ := NewUsageGuard(store.NewMemory(), WithUsageClock(clock), WithDailyQuota(1))

	g.Allow(ctx, "w1", 0)
	if ok, _ := g.Allow(ctx, "w2", 0); !ok {
		t.Fatal("w2 denied; widgets should not share a quota")
	}
}
