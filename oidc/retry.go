// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hashicorp/go-hclog"
)

const (
	// DefaultBoundedDeadline is the overall deadline of BoundedThreeAttempts.
	DefaultBoundedDeadline = 3 * time.Second

	// DefaultRetryInterval is the delay between attempts of the unbounded
	// policy used to populate the cache.
	DefaultRetryInterval = 10 * time.Second
)

// RetryPolicy describes how an operation is retried.
type RetryPolicy struct {
	Name string

	// MaxTries is the total number of attempts, including the first one.
	// Zero means no limit.
	MaxTries uint

	// Interval is the fixed delay between attempts.
	Interval time.Duration

	// Deadline bounds all attempts together. Zero means no deadline.
	Deadline time.Duration
}

// BoundedThreeAttempts makes one attempt plus two immediate retries, all
// within deadline.
func BoundedThreeAttempts(deadline time.Duration) RetryPolicy {
	return RetryPolicy{
		Name:     "bounded",
		MaxTries: 3,
		Deadline: deadline,
	}
}

// UnboundedFixedInterval retries forever, waiting interval between attempts.
// It only stops when the context is done.
func UnboundedFixedInterval(interval time.Duration) RetryPolicy {
	return RetryPolicy{
		Name:     "unbounded",
		Interval: interval,
	}
}

// Retry runs fn under the policy and returns its first successful result.
// When the policy gives up the error of the last attempt is returned, joined
// with the context's error when the context ended the retries.
func Retry[T any](ctx context.Context, p RetryPolicy, logger hclog.Logger, fn func(context.Context) (T, error)) (T, error) {
	const op = "Retry"
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if p.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Deadline)
		defer cancel()
	}

	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if p.Interval > 0 {
		b = backoff.NewConstantBackOff(p.Interval)
	}

	var (
		attempts int
		lastErr  error
	)
	res, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		v, err := fn(ctx)
		if err != nil {
			lastErr = err
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.MaxTries),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("attempt failed, retrying", "policy", p.Name, "attempt", attempts, "next", next, "error", err)
		}),
	)
	if err == nil {
		return res, nil
	}
	var zero T
	switch {
	case lastErr == nil:
		return zero, fmt.Errorf("%s: %s policy: %w", op, p.Name, err)
	case ctx.Err() != nil:
		return zero, fmt.Errorf("%s: %s policy stopped after %d attempt(s): %w (%w)", op, p.Name, attempts, lastErr, ctx.Err())
	default:
		return zero, fmt.Errorf("%s: %s policy gave up after %d attempt(s): %w", op, p.Name, attempts, lastErr)
	}
}
