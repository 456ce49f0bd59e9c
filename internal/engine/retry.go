package engine

import (
	"context"
	"errors"
	"time"

	"github.com/petrijr/chatflow/pkg/api"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RetryPolicy controls ExecuteWithRetry.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the backoff unit; the delay before retry k (0-indexed)
	// is BaseDelay * 2^k.
	BaseDelay time.Duration
}

// Delay returns the wait before retry number k, counting from 0.
func (p RetryPolicy) Delay(k int) time.Duration {
	if p.BaseDelay <= 0 || k < 0 {
		return 0
	}
	return p.BaseDelay << uint(k)
}

// ExecuteWithRetry calls op until it succeeds or the policy is exhausted,
// and returns the last error. Pause requests, context cancellation and
// errors marked api.Permanent are returned without retrying.
func ExecuteWithRetry[T any](ctx context.Context, policy RetryPolicy, sleep SleepFunc, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var (
		zero    T
		lastErr error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		out, err := op(ctx, attempt)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !retryable(ctx, err) || attempt == maxAttempts {
			break
		}

		if sleepErr := sleep(ctx, policy.Delay(attempt-1)); sleepErr != nil {
			return zero, sleepErr
		}
	}
	return zero, lastErr
}

func retryable(ctx context.Context, err error) bool {
	if _, ok := api.IsWaitForInputError(err); ok {
		return false
	}
	if api.IsPermanent(err) || api.IsBudgetError(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return ctx.Err() == nil
}
