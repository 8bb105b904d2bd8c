package orchestrator

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// RetryPolicy controls the opt-in retry wrapper around single-task
// execution. Retries apply only to transient failure classes; permanent
// failures and unknown workers surface immediately.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int

	// InitialBackoff is the delay before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential growth.
	MaxBackoff time.Duration

	// Multiplier scales the backoff between attempts.
	Multiplier float64

	// Jitter adds up to this fraction of the backoff as random noise so
	// concurrent retries do not synchronize.
	Jitter float64
}

// DefaultRetryPolicy returns the standard policy: three attempts with
// exponential backoff starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.2,
	}
}

// taskRunner executes one task and reports its outcome. Satisfied by the
// engine's single-task path.
type taskRunner func(ctx context.Context, task *Task) *TaskOutcome

// runWithRetry executes the task, retrying transient failures under the
// policy. The returned outcome is from the final attempt.
func runWithRetry(ctx context.Context, policy RetryPolicy, logger *slog.Logger, task *Task, run taskRunner) *TaskOutcome {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var outcome *TaskOutcome
	backoff := policy.InitialBackoff
	for attempt := 1; attempt <= attempts; attempt++ {
		outcome = run(ctx, task)
		if outcome.Success {
			return outcome
		}

		classified := ClassifyError(outcome.cause)
		if classified == nil || !classified.IsTransient() {
			if attempt > 1 {
				logger.Warn("retry: giving up on permanent failure",
					"worker", task.Worker,
					"attempt", attempt)
			}
			return outcome
		}
		if attempt == attempts {
			logger.Warn("retry: attempts exhausted",
				"worker", task.Worker,
				"attempts", attempts,
				"error", outcome.Err)
			return outcome
		}

		delay := backoff
		if suggested := classified.RetryAfter; suggested > delay {
			delay = suggested
		}
		if policy.MaxBackoff > 0 && delay > policy.MaxBackoff {
			delay = policy.MaxBackoff
		}
		if policy.Jitter > 0 {
			delay += time.Duration(rand.Float64() * policy.Jitter * float64(delay))
		}
		logger.Info("retry: transient failure, backing off",
			"worker", task.Worker,
			"attempt", attempt,
			"delay_ms", delay.Milliseconds(),
			"error", outcome.Err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return outcome
		}

		backoff = time.Duration(float64(backoff) * policy.Multiplier)
		if policy.MaxBackoff > 0 && backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}
	return outcome
}
