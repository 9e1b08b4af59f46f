// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"fmt"
	"time"
)

const (
	// DefaultMaxAttempts bounds attempts of registry and mirror I/O.
	DefaultMaxAttempts = 3
	// DefaultBaseBackoff is the delay before the second attempt. It doubles
	// for every further attempt.
	DefaultBaseBackoff = 2 * time.Second
)

// RetryPolicy bounds a retried operation.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
}

// DefaultRetryPolicy returns the default bounds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, BaseBackoff: DefaultBaseBackoff}
}

// Backoff returns the delay before the given attempt (0-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return p.BaseBackoff * time.Duration(1<<(attempt-1))
}

// RetryWithBackoff retries op up to policy.MaxAttempts times with exponential
// backoff. Cancellation of ctx stops the wait between attempts.
//
// op returns (retry, err). A nil err ends with success; a non-nil err with
// retry false is returned immediately. On exhaustion the last error is
// returned.
func RetryWithBackoff(
	ctx context.Context,
	policy RetryPolicy,
	op func(attempt int) (retry bool, err error),
) error {
	attempts := max(policy.MaxAttempts, 1)

	var lastErr error
	for attempt := range attempts {
		if attempt > 0 {
			if err := sleepContext(ctx, policy.Backoff(attempt)); err != nil {
				return fmt.Errorf("retry aborted: %w", err)
			}
		}

		retry, err := op(attempt)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// RetryTransient runs op under policy, retrying only errors classified by
// IsTransientError. onRetry, when non-nil, is called before each retry.
func RetryTransient(
	ctx context.Context,
	policy RetryPolicy,
	onRetry func(attempt int, err error),
	op func(attempt int) error,
) error {
	attempts := max(policy.MaxAttempts, 1)
	return RetryWithBackoff(ctx, policy, func(attempt int) (bool, error) {
		err := op(attempt)
		if err == nil || !IsTransientError(err) {
			return false, err
		}
		if onRetry != nil && attempt+1 < attempts {
			onRetry(attempt+1, err)
		}
		return true, err
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
