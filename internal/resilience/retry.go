package resilience

import (
	"context"
	"fmt"
	"time"
)

// Operation is one attempt of the guarded external call.
type Operation func(ctx context.Context) error

// Execute runs op until it succeeds, its category's attempt budget is
// exhausted, a non-retryable category is hit, or ctx is cancelled.
// MaximumAttempts == 0 means unlimited attempts.
// The returned error carries the final category via CategoryError.
func (c *Classifier) Execute(ctx context.Context, op Operation) error {
	attempt := 1
	for {
		err := op(ctx)
		if err == nil {
			return nil
		}

		decision := c.Classify(err)
		final := &CategoryError{Category: decision.Category, Err: err}

		if !decision.Retryable {
			return final
		}
		if decision.Policy.MaximumAttempts > 0 && attempt >= decision.Policy.MaximumAttempts {
			return fmt.Errorf("retries exhausted after %d attempts: %w", attempt, final)
		}

		delay := decision.Policy.BackoffDelay(attempt)
		if err := sleep(ctx, delay); err != nil {
			return fmt.Errorf("retry aborted: %w", err)
		}
		attempt++
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		// Still honor an already-cancelled context.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
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
