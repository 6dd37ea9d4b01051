package ratelimit

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/quiplabs/quip/internal/config"
)

func testLimits() map[string]config.RateLimit {
	return map[string]config.RateLimit{
		"info":    {Count: 2, WindowSeconds: 60},
		"default": {Count: 3, WindowSeconds: 60},
	}
}

func TestAllowWithinBudget(t *testing.T) {
	l := NewLimiter(testLimits())
	for i := 0; i < 2; i++ {
		if err := l.Allow("u1", "info"); err != nil {
			t.Fatalf("call %d: %v", i+1, err)
		}
	}
}

func TestDenyOverBudget(t *testing.T) {
	l := NewLimiter(testLimits())
	l.Allow("u1", "info")
	l.Allow("u1", "info")

	err := l.Allow("u1", "info")
	if err == nil {
		t.Fatal("third call should be denied")
	}
	var le *LimitError
	if !errors.As(err, &le) {
		t.Fatalf("error type = %T, want *LimitError", err)
	}
	if le.RetryAfter <= 0 || le.RetryAfter > time.Minute {
		t.Fatalf("retry after = %v, want within the window", le.RetryAfter)
	}
	if !strings.Contains(le.Error(), "Rate limited, try again in") {
		t.Fatalf("message = %q", le.Error())
	}
}

func TestUnknownActionUsesDefault(t *testing.T) {
	l := NewLimiter(testLimits())
	for i := 0; i < 3; i++ {
		if err := l.Allow("u1", "yodel"); err != nil {
			t.Fatalf("call %d: %v", i+1, err)
		}
	}
	if err := l.Allow("u1", "yodel"); err == nil {
		t.Fatal("fourth call should hit the default limit")
	}
}

func TestNoLimitsMeansUnlimited(t *testing.T) {
	l := NewLimiter(map[string]config.RateLimit{})
	for i := 0; i < 100; i++ {
		if err := l.Allow("u1", "chat"); err != nil {
			t.Fatalf("call %d: %v", i+1, err)
		}
	}
}

func TestUsersAndActionsIndependent(t *testing.T) {
	l := NewLimiter(testLimits())
	l.Allow("u1", "info")
	l.Allow("u1", "info")

	if err := l.Allow("u2", "info"); err != nil {
		t.Fatalf("u2 should have its own window: %v", err)
	}
	if err := l.Allow("u1", "chat"); err != nil {
		t.Fatalf("other actions should have their own window: %v", err)
	}
}

func TestExpiredStampsFreeBudget(t *testing.T) {
	l := NewLimiter(testLimits())
	l.Allow("u1", "info")
	l.Allow("u1", "info")

	// Age both stamps past the window.
	l.mu.Lock()
	for i := range l.history["u1"]["info"] {
		l.history["u1"]["info"][i] = time.Now().Add(-2 * time.Minute)
	}
	l.mu.Unlock()

	if err := l.Allow("u1", "info"); err != nil {
		t.Fatalf("expired stamps should not count: %v", err)
	}
}

func TestSweepClearsIdleUsers(t *testing.T) {
	l := NewLimiter(testLimits())
	l.Allow("stale", "info")
	l.Allow("fresh", "info")

	l.mu.Lock()
	l.history["stale"]["info"][0] = time.Now().Add(-time.Hour)
	l.mu.Unlock()

	if got := l.Sweep(); got != 1 {
		t.Fatalf("swept = %d, want 1", got)
	}
	l.mu.Lock()
	_, staleLeft := l.history["stale"]
	_, freshLeft := l.history["fresh"]
	l.mu.Unlock()
	if staleLeft {
		t.Fatal("stale user should be cleared")
	}
	if !freshLeft {
		t.Fatal("fresh user should survive the sweep")
	}
}
