package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrExhausted = errors.New("retries exhausted")

// Policy describes a bounded retry schedule. The first attempt runs
// immediately; Delays[i] is waited before attempt i+2, so a policy makes at
// most len(Delays)+1 attempts.
type Policy struct {
	Delays []time.Duration

	// Retryable decides whether a failed attempt may be retried. A nil
	// Retryable retries every error.
	Retryable func(error) bool

	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error

	// OnRetry is called before each wait with the attempt that just failed.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Fixed returns a policy making attempts tries separated by delay.
func Fixed(attempts int, delay time.Duration) Policy {
	if attempts < 1 {
		attempts = 1
	}
	delays := make([]time.Duration, attempts-1)
	for i := range delays {
		delays[i] = delay
	}
	return Policy{Delays: delays}
}

// Schedule returns a policy waiting the given delays between attempts.
func Schedule(delays ...time.Duration) Policy {
	return Policy{Delays: append([]time.Duration(nil), delays...)}
}

// Attempts reports the maximum number of calls Do makes.
func (p Policy) Attempts() int {
	return len(p.Delays) + 1
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// schedule runs out. fn receives the 1-based attempt number.
func Do(ctx context.Context, p Policy, fn func(attempt int) error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= p.Attempts(); attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("retry cancelled: %w", lastErr)
			}
			return err
		}

		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == p.Attempts() {
			break
		}

		delay := p.Delays[attempt-1]
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return fmt.Errorf("retry cancelled: %w", lastErr)
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, p.Attempts(), lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
