package orchestrator

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/zaplet/zaplet/pkg/models"
)

// Sleeper waits out retry delays. The default honors context
// cancellation; tests swap in a recorder.
type Sleeper func(ctx context.Context, delay time.Duration) error

func defaultSleeper(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoffFor builds the delay generator for a retry policy. A policy
// without an initial delay retries immediately.
func backoffFor(policy *models.RetryPolicy) retry.Backoff {
	if policy.InitialDelay <= 0 {
		return retry.BackoffFunc(func() (time.Duration, bool) { return 0, false })
	}

	switch policy.Backoff {
	case models.BackoffExponential:
		return retry.NewExponential(policy.InitialDelay)
	default:
		return retry.NewConstant(policy.InitialDelay)
	}
}
