package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/quiplabs/quip/internal/config"
)

// LimitError reports a denied action. Error() is user-facing text; the
// router sends it to the chat as-is.
type LimitError struct {
	Action     string
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("Rate limited, try again in %.1f seconds", e.RetryAfter.Seconds())
}

// Limiter tracks per-user per-action sliding windows. An action with no
// configured limit falls back to "default"; no default means unlimited.
type Limiter struct {
	limits map[string]config.RateLimit

	mu      sync.Mutex
	history map[string]map[string][]time.Time
}

func NewLimiter(limits map[string]config.RateLimit) *Limiter {
	return &Limiter{
		limits:  limits,
		history: make(map[string]map[string][]time.Time),
	}
}

// Allow records one use of action for the user, or denies it with a
// *LimitError once the window budget is spent.
func (l *Limiter) Allow(userID, action string) error {
	limit, ok := l.limits[action]
	if !ok {
		limit, ok = l.limits["default"]
	}
	if !ok || limit.Count <= 0 {
		return nil
	}
	window := limit.Window()
	now := time.Now()
	cutoff := now.Add(-window)

	l.mu.Lock()
	defer l.mu.Unlock()

	actions, ok := l.history[userID]
	if !ok {
		actions = make(map[string][]time.Time)
		l.history[userID] = actions
	}
	stamps := actions[action]
	kept := stamps[:0]
	for _, t := range stamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= limit.Count {
		actions[action] = kept
		return &LimitError{
			Action:     action,
			RetryAfter: kept[0].Add(window).Sub(now),
		}
	}
	actions[action] = append(kept, now)
	return nil
}

// Sweep drops history older than the largest configured window and
// reports how many users were cleared entirely. Run periodically so
// inactive users do not accumulate.
func (l *Limiter) Sweep() int {
	var maxWindow time.Duration
	for _, limit := range l.limits {
		if w := limit.Window(); w > maxWindow {
			maxWindow = w
		}
	}
	if maxWindow <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-maxWindow)

	l.mu.Lock()
	defer l.mu.Unlock()

	cleared := 0
	for userID, actions := range l.history {
		for action, stamps := range actions {
			kept := stamps[:0]
			for _, t := range stamps {
				if t.After(cutoff) {
					kept = append(kept, t)
				}
			}
			if len(kept) == 0 {
				delete(actions, action)
			} else {
				actions[action] = kept
			}
		}
		if len(actions) == 0 {
			delete(l.history, userID)
			cleared++
		}
	}
	return cleared
}
