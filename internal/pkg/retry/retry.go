// Package retry provides bounded retry with exponential backoff and jitter,
// both as a generic helper for provider batch calls and as an HTTP client
// wrapper for REST-style providers.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy controls attempt count and backoff shape.
type Policy struct {
	Attempts  int           // total attempts including the first
	BaseDelay time.Duration // first backoff, doubles per attempt
	MaxDelay  time.Duration // cap on any single backoff
}

// DefaultPolicy matches the provider-call defaults: 3 retries after the
// initial attempt, 1s base, 30s cap.
func DefaultPolicy() Policy {
	return Policy{Attempts: 4, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// Permanent wraps an error that must not be retried.
type Permanent struct{ Err error }

func (p *Permanent) Error() string { return p.Err.Error() }
func (p *Permanent) Unwrap() error { return p.Err }

// Do invokes fn until it succeeds, the attempts are exhausted, fn returns a
// Permanent error, or ctx is done. The backoff before attempt n is
// random(0, min(MaxDelay, BaseDelay*2^(n-1))) with a 100ms floor.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if p.Attempts <= 0 {
		p = DefaultPolicy()
	}

	var lastErr error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(p.delay(attempt))
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if perm, ok := err.(*Permanent); ok {
			return perm.Err
		}
		if ctx.Err() != nil {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (p Policy) delay(attempt int) time.Duration {
	exp := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if exp > float64(p.MaxDelay) {
		exp = float64(p.MaxDelay)
	}
	jittered := time.Duration(rand.Float64() * exp)
	if jittered < 100*time.Millisecond {
		jittered = 100 * time.Millisecond
	}
	return jittered
}
