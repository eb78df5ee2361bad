// Package retry provides a bounded-attempt retry policy with a fixed
// inter-attempt delay.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Default policy values used by the download pipeline.
const (
	DefaultAttempts = 3
	DefaultDelay    = 5 * time.Second
)

// Policy retries a fallible action a fixed number of times with a fixed
// delay between attempts. The policy is stateless and safe for reuse
// across actions.
type Policy struct {
	Attempts int
	Delay    time.Duration
}

// NewPolicy returns a policy with the default attempt count and delay.
func NewPolicy() Policy {
	return Policy{
		Attempts: DefaultAttempts,
		Delay:    DefaultDelay,
	}
}

// ExhaustedError indicates that every attempt failed. It wraps the error
// from the final attempt.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d attempts failed, last error: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Do invokes op until it succeeds or the attempt budget is spent. It sleeps
// the configured delay between attempts; cancelling the context during the
// delay aborts immediately with the context's error.
//
// Returns nil on the first success, a wrapped ctx.Err() if cancelled, or an
// *ExhaustedError wrapping the final attempt's failure.
func (p Policy) Do(ctx context.Context, op func() error) error {
	if p.Attempts < 1 {
		return fmt.Errorf("retry policy requires at least one attempt, got %d", p.Attempts)
	}

	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry aborted: %w", err)
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}

		if attempt == p.Attempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry aborted: %w", ctx.Err())
		case <-time.After(p.Delay):
		}
	}

	return &ExhaustedError{Attempts: p.Attempts, Last: lastErr}
}

// Exhausted reports whether err wraps an *ExhaustedError, returning it
// when found.
func Exhausted(err error) (*ExhaustedError, bool) {
	var ee *ExhaustedError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}
