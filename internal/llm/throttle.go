package llm

import (
	"context"
	"sync"
	"time"
)

const (
	retryBaseDelay = 250 * time.Millisecond
	retryMaxDelay  = 8 * time.Second
)

// Throttler bounds remote-call pressure: at most maxConcurrent calls in
// flight and at most perMinute calls started per rolling window. One
// instance is shared by every side-model call site.
type Throttler struct {
	sem       chan struct{}
	perMinute int
	window    time.Duration

	mu     sync.Mutex
	starts []time.Time
}

func NewThrottler(maxConcurrent, perMinute int) *Throttler {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Throttler{
		sem:       make(chan struct{}, maxConcurrent),
		perMinute: perMinute,
		window:    time.Minute,
	}
}

// Acquire blocks until a call slot and window budget are available, or the
// context ends. Every successful Acquire must be paired with Release.
func (t *Throttler) Acquire(ctx context.Context) error {
	select {
	case t.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	if t.perMinute <= 0 {
		return nil
	}

	for {
		t.mu.Lock()
		now := time.Now()
		cutoff := now.Add(-t.window)
		kept := t.starts[:0]
		for _, s := range t.starts {
			if s.After(cutoff) {
				kept = append(kept, s)
			}
		}
		t.starts = kept

		if len(t.starts) < t.perMinute {
			t.starts = append(t.starts, now)
			t.mu.Unlock()
			return nil
		}
		wait := t.starts[0].Add(t.window).Sub(now)
		t.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			<-t.sem
			return ctx.Err()
		}
	}
}

func (t *Throttler) Release() {
	<-t.sem
}

// Retry runs fn up to maxAttempts extra times after rate-limit failures,
// sleeping a doubling, capped delay between attempts. Other errors return
// immediately so classification failures degrade without stalling the
// message.
func Retry(ctx context.Context, maxAttempts int, fn func() error) error {
	attempts := 0
	for {
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !IsRateLimited(err) || attempts >= maxAttempts {
			return err
		}
		delay := retryBaseDelay << attempts
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
		attempts++
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Throttled decorates a client so every call passes through the shared
// throttle and the rate-limit retry policy.
func Throttled(inner Client, t *Throttler, maxAttempts int) Client {
	return &throttledClient{inner: inner, throttle: t, maxAttempts: maxAttempts}
}

type throttledClient struct {
	inner       Client
	throttle    *Throttler
	maxAttempts int
}

func (c *throttledClient) Complete(ctx context.Context, system, user string) (string, error) {
	if err := c.throttle.Acquire(ctx); err != nil {
		return "", err
	}
	defer c.throttle.Release()

	var out string
	err := Retry(ctx, c.maxAttempts, func() error {
		s, err := c.inner.Complete(ctx, system, user)
		if err != nil {
			return err
		}
		out = s
		return nil
	})
	return out, err
}
