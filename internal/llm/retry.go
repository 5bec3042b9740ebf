package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Default retry settings.
const (
	DefaultAttempts      = 3
	DefaultRetryDelay    = 2 * time.Second
	DefaultTimeout       = 180 * time.Second
	DefaultTimeoutGrowth = 1.5
)

// RetryPolicy controls how a provider retries a request.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// Delay is the wait before the second attempt; it doubles afterwards.
	Delay time.Duration
	// Timeout bounds the first attempt.
	Timeout time.Duration
	// TimeoutGrowth multiplies the timeout after an attempt timed out.
	TimeoutGrowth float64
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultAttempts
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	if p.TimeoutGrowth < 1 {
		p.TimeoutGrowth = DefaultTimeoutGrowth
	}
	return p
}

// do calls fn until it succeeds, fails with a non-retryable error, or the
// attempts are used up. Each call gets its own deadline.
func (p RetryPolicy) do(ctx context.Context, provider string, fn func(ctx context.Context) error) error {
	p = p.normalized()
	delay := p.Delay
	timeout := p.Timeout

	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", provider, ctx.Err())
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err

		if attempt == p.Attempts {
			break
		}
		if isTimeout(err) {
			timeout = time.Duration(float64(timeout) * p.TimeoutGrowth)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: context cancelled during retry wait: %w", provider, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}

	return fmt.Errorf("%s: exhausted %d attempts: %w", provider, p.Attempts, lastErr)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
