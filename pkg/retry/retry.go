// Package retry runs an operation with bounded attempts and a backoff policy.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy bounds how often and how far apart an operation is retried.
// MaxAttempts counts the first call.
type Policy struct {
	MaxAttempts uint
	NewBackOff  func() backoff.BackOff
	OnRetry     func(attempt uint, err error, next time.Duration)
}

// Exponential starts at base and multiplies the wait by factor after each failure.
func Exponential(maxAttempts uint, base time.Duration, factor float64) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		NewBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = base
			b.Multiplier = factor
			b.RandomizationFactor = 0
			b.MaxInterval = base * 30
			return b
		},
	}
}

// Fixed waits the same interval between attempts.
func Fixed(maxAttempts uint, interval time.Duration) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		NewBackOff: func() backoff.BackOff {
			return backoff.NewConstantBackOff(interval)
		},
	}
}

// Immediate retries without waiting. Used by tests and in-process conflict retries.
func Immediate(maxAttempts uint) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		NewBackOff: func() backoff.BackOff {
			return &backoff.ZeroBackOff{}
		},
	}
}

// WithNotify returns a copy of p that reports every scheduled retry.
func (p Policy) WithNotify(fn func(attempt uint, err error, next time.Duration)) Policy {
	p.OnRetry = fn
	return p
}

// Do calls op until it succeeds, returns an error rejected by retryable, or the
// attempt budget is spent. The last error is returned unwrapped.
func Do[T any](ctx context.Context, p Policy, retryable func(error) bool, op func(ctx context.Context) (T, error)) (T, error) {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 1
	}
	newBackOff := p.NewBackOff
	if newBackOff == nil {
		newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	}

	var attempt uint
	operation := func() (T, error) {
		attempt++
		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		if retryable == nil || !retryable(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(newBackOff()),
		backoff.WithMaxTries(p.MaxAttempts),
	}
	if p.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(func(err error, next time.Duration) {
			p.OnRetry(attempt, err, next)
		}))
	}

	res, err := backoff.Retry(ctx, operation, opts...)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	return res, err
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, retryable func(error) bool, op func(ctx context.Context) error) error {
	_, err := Do(ctx, p, retryable, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
