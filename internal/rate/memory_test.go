package rate

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiterWindow(t *testing.T) {
	l := NewMemoryLimiter(3, time.Hour)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res, err := l.Allow(ctx, "1.2.3.4")
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("hit %d should be allowed", i)
		}
		if res.Remaining != int64(3-i) {
			t.Fatalf("hit %d: remaining = %d", i, res.Remaining)
		}
	}

	res, err := l.Allow(ctx, "1.2.3.4")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if res.Allowed {
		t.Fatal("fourth hit should be rejected")
	}
	if res.RetryAfter <= 0 {
		t.Fatalf("retry after = %v", res.RetryAfter)
	}

	// Otra key no comparte el contador.
	if res, _ := l.Allow(ctx, "5.6.7.8"); !res.Allowed {
		t.Fatal("a different key must have its own window")
	}
}

func TestMemoryLimiterResetsOnNewWindow(t *testing.T) {
	l := NewMemoryLimiter(1, 10*time.Millisecond)
	ctx := context.Background()

	if res, _ := l.Allow(ctx, "k"); !res.Allowed {
		t.Fatal("first hit rejected")
	}
	if res, _ := l.Allow(ctx, "k"); res.Allowed {
		t.Fatal("second hit in the same window should be rejected")
	}

	time.Sleep(15 * time.Millisecond)
	if res, _ := l.Allow(ctx, "k"); !res.Allowed {
		t.Fatal("new window should reset the counter")
	}
}
