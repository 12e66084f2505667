package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyByName(t *testing.T) {
	tests := []struct {
		name     string
		policy   string
		expected string
	}{
		{"none preset", "none", "none"},
		{"conservative preset", "conservative", "conservative"},
		{"standard preset", "standard", "standard"},
		{"aggressive preset", "aggressive", "aggressive"},
		{"unknown falls back to standard", "bogus", "standard"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, PolicyByName(tt.policy).Name)
		})
	}
}

func TestBackoffDelay(t *testing.T) {
	p := RetryPolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    5 * time.Second,
		MaximumAttempts:    10,
	}

	assert.Equal(t, time.Second, p.BackoffDelay(1))
	assert.Equal(t, 2*time.Second, p.BackoffDelay(2))
	assert.Equal(t, 4*time.Second, p.BackoffDelay(3))
	assert.Equal(t, 5*time.Second, p.BackoffDelay(4), "capped at maximum interval")
	assert.Equal(t, 5*time.Second, p.BackoffDelay(10))
	assert.Equal(t, time.Duration(0), p.BackoffDelay(0))
	assert.Equal(t, time.Duration(0), PolicyNone.BackoffDelay(3))
}

func fastClassifier() *Classifier {
	c := NewClassifier()
	fast := RetryPolicy{
		Name:               "fast",
		InitialInterval:    time.Millisecond,
		BackoffCoefficient: 1.0,
		MaximumInterval:    time.Millisecond,
		MaximumAttempts:    3,
	}
	c.OverridePolicy(CategoryNetwork, fast)
	c.OverridePolicy(CategorySystem, fast)
	return c
}

func TestExecute_SucceedsFirstAttempt(t *testing.T) {
	c := fastClassifier()

	calls := 0
	err := c.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecute_RetriesUntilSuccess(t *testing.T) {
	c := fastClassifier()

	calls := 0
	err := c.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecute_ExhaustsAttempts(t *testing.T) {
	c := fastClassifier()

	calls := 0
	err := c.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("connection refused")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls, "network policy allows 3 attempts")

	var tagged *CategoryError
	require.ErrorAs(t, err, &tagged)
	assert.Equal(t, CategoryNetwork, tagged.Category)
}

func TestExecute_NonRetryableStopsImmediately(t *testing.T) {
	c := fastClassifier()

	calls := 0
	err := c.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("validation failed")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var tagged *CategoryError
	require.ErrorAs(t, err, &tagged)
	assert.Equal(t, CategoryValidation, tagged.Category)
}

func TestExecute_ContextCancelledDuringBackoff(t *testing.T) {
	c := NewClassifier()
	c.OverridePolicy(CategorySystem, RetryPolicy{
		Name:               "slow",
		InitialInterval:    time.Minute,
		BackoffCoefficient: 2.0,
		MaximumAttempts:    5,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	calls := 0
	err := c.Execute(ctx, func(ctx context.Context) error {
		calls++
		return errors.New("something odd")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
