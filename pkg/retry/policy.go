// Package retry provides an explicit backoff policy for I/O boundaries.
// Retry behavior is carried as a value so it can be tested without
// triggering real faults.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Policy defines retry behavior with exponential backoff and jitter.
type Policy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RandomizeFactor float64
}

// DefaultPolicy returns a sensible default retry policy
func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts:     3,
		InitialDelay:    time.Second,
		MaxDelay:        30 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0.25,
	}
}

// NoRetry returns a policy that attempts exactly once
func NoRetry() *Policy {
	return &Policy{MaxAttempts: 1}
}

// Execute runs fn until it succeeds or attempts are exhausted
func (p *Policy) Execute(ctx context.Context, fn func() error) error {
	return p.ExecuteIf(ctx, fn, func(error) bool { return true })
}

// ExecuteIf runs fn with retries only while shouldRetry returns true
func (p *Policy) ExecuteIf(ctx context.Context, fn func() error, shouldRetry func(error) bool) error {
	var lastErr error

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !shouldRetry(err) {
			return err
		}

		if attempt == p.MaxAttempts-1 {
			break
		}

		delay := p.delay(attempt)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", p.MaxAttempts, lastErr)
}

// delay calculates the backoff for a given attempt
func (p *Policy) delay(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))

	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	if p.RandomizeFactor > 0 {
		delta := delay * p.RandomizeFactor
		delay = delay - delta + rand.Float64()*2*delta
	}

	return time.Duration(delay)
}

// Delay returns the backoff for a specific attempt (for testing/preview)
func (p *Policy) Delay(attempt int) time.Duration {
	return p.delay(attempt)
}
