// ABOUTME: Exponential backoff between provider attempts
// ABOUTME: Delay doubles from a base interval and is capped at a maximum

package ai

import (
	"context"
	"time"
)

// Backoff returns the delay to wait after the given failed attempt (1-based):
// base, 2*base, 4*base, ... capped at maxDelay.
func Backoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < attempt; i++ {
		if maxDelay > 0 && delay > maxDelay/2 {
			return maxDelay
		}
		delay *= 2
	}
	if maxDelay > 0 && delay > maxDelay {
		return maxDelay
	}
	return delay
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
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
