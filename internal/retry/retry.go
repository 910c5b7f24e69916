// Package retry runs a write with bounded exponential backoff.
//
// A Policy is shared by every mutation kind. Only errors accepted by
// Policy.Retryable are retried; anything else is returned after the first
// attempt.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/maruel/gridb/internal/store"
)

// Policy configures the retry loop.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first one.
	MaxAttempts int
	// BaseDelay is the delay before the second attempt.
	BaseDelay time.Duration
	// Multiplier scales the delay after every attempt.
	Multiplier float64
	// Retryable reports whether a failed attempt may be retried. A nil
	// Retryable retries nothing.
	Retryable func(error) bool
}

// Default returns 5 attempts spaced 1s, 2s, 4s and 8s apart, retrying
// transient store errors.
func Default() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		Multiplier:  2,
		Retryable:   store.IsTransient,
	}
}

// Validate checks the policy parameters.
func (p *Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.BaseDelay < 0 {
		return fmt.Errorf("base delay must not be negative, got %s", p.BaseDelay)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("multiplier must be at least 1, got %g", p.Multiplier)
	}
	return nil
}

// Schedule returns the delays slept between attempts.
func (p *Policy) Schedule() []time.Duration {
	if p.MaxAttempts <= 1 {
		return nil
	}
	b := p.backOff()
	out := make([]time.Duration, 0, p.MaxAttempts-1)
	for range p.MaxAttempts - 1 {
		out = append(out, b.NextBackOff())
	}
	return out
}

func (p *Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.BaseDelay),
		backoff.WithRandomizationFactor(0),
		backoff.WithMultiplier(max(p.Multiplier, 1)),
		backoff.WithMaxInterval(time.Duration(math.MaxInt64)),
		backoff.WithMaxElapsedTime(0),
	)
	b.Reset()
	return b
}

// ExhaustedError is returned when every attempt failed with a retryable
// error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Do calls fn until it succeeds, fails with a non-retryable error, the
// attempts are exhausted or ctx is done. It returns the number of calls made.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, int, error) {
	attempts := 0
	var last error
	op := func() (T, error) {
		attempts++
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		last = err
		if p.Retryable == nil || !p.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	var b backoff.BackOff = p.backOff()
	b = backoff.WithMaxRetries(b, uint64(max(p.MaxAttempts-1, 0)))
	v, err := backoff.RetryWithData(op, backoff.WithContext(b, ctx))
	if err == nil {
		return v, attempts, nil
	}
	if errors.Is(err, last) && attempts >= p.MaxAttempts && p.Retryable != nil && p.Retryable(last) {
		return v, attempts, &ExhaustedError{Attempts: attempts, Err: last}
	}
	return v, attempts, err
}
