package rate

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiter_AllowsUpToLimit(t *testing.T) {
	t.Parallel()
	l := NewMemoryLimiter()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res, err := l.AllowWithLimits(ctx, "ip:1.2.3.4", 5, time.Minute)
		if err != nil {
			t.Fatalf("AllowWithLimits err: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	res, err := l.AllowWithLimits(ctx, "ip:1.2.3.4", 5, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if res.Allowed {
		t.Fatalf("sixth request should be rejected")
	}
	if res.RetryAfter <= 0 {
		t.Fatalf("rejected result must carry RetryAfter, got %v", res.RetryAfter)
	}
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	t.Parallel()
	l := NewMemoryLimiter()
	ctx := context.Background()

	if _, err := l.AllowWithLimits(ctx, "ip:a", 1, time.Minute); err != nil {
		t.Fatal(err)
	}
	res, err := l.AllowWithLimits(ctx, "ip:b", 1, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Allowed {
		t.Fatalf("distinct keys must not share the window")
	}
}
