package engine

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryPolicy parameterizes per-fragment retry. It holds no state; the delay
// is a pure function of the attempt number, jitter aside.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	Jitter      time.Duration // upper bound of the random perturbation, 0 disables
}

func DefaultRetryPolicy(maxAttempts int) RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Second,
		Multiplier:  2,
		Jitter:      250 * time.Millisecond,
	}
}

// Delay returns the backoff before retrying after attempt k (k >= 1):
// BaseDelay * Multiplier^(k-1), before jitter.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
	}
	return time.Duration(d)
}

// Exhausted reports whether a fragment that has issued the given number of
// attempts is out of retries.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

// Wait sleeps the jittered backoff for the given attempt, aborting immediately
// when the context is cancelled.
func (p RetryPolicy) Wait(ctx context.Context, attempt int) error {
	d := p.Delay(attempt)
	if p.Jitter > 0 {
		d += time.Duration(rand.Int64N(int64(p.Jitter)))
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
