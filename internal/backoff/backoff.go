// Package backoff provides the retry delay schedule shared by the
// websocket ingest and the REST bootstrap.
package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Policy describes an exponential backoff schedule with uniform jitter.
type Policy struct {
	Base   time.Duration // delay before the first retry
	Cap    time.Duration // upper bound on any delay
	Factor float64       // multiplier between attempts
	Jitter float64       // ± fraction applied to each delay
}

// Default returns the schedule used across the pipeline: 500 ms doubling
// up to 30 s, with ±20% jitter.
func Default() Policy {
	return Policy{
		Base:   500 * time.Millisecond,
		Cap:    30 * time.Second,
		Factor: 2,
		Jitter: 0.2,
	}
}

// Delay returns the jittered delay for the given attempt, starting at 0.
// The jitter never pushes a delay above Cap.
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.Base)
	for i := 0; i < attempt; i++ {
		d *= p.Factor
		if d >= float64(p.Cap) {
			d = float64(p.Cap)
			break
		}
	}

	if p.Jitter > 0 {
		// Uniform in [1-Jitter, 1+Jitter].
		d *= 1 + p.Jitter*(2*rand.Float64()-1)
	}
	if d > float64(p.Cap) {
		d = float64(p.Cap)
	}
	return time.Duration(d)
}

// Sleep waits for the attempt's delay or until ctx is done.
func (p Policy) Sleep(ctx context.Context, attempt int) error {
	timer := time.NewTimer(p.Delay(attempt))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry runs fn up to maxAttempts times, sleeping the schedule between
// failures. It returns the last error once attempts are exhausted.
func Retry(ctx context.Context, p Policy, maxAttempts int, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := p.Sleep(ctx, attempt-1); err != nil {
				return err
			}
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
	}
	return lastErr
}
