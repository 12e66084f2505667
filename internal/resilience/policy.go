// Package resilience classifies task failures into categories and applies
// the retry policy mapped to each category.
package resilience

import "time"

// RetryPolicy is a named preset governing backoff and attempt limits.
// A policy is immutable once selected for a failure category.
type RetryPolicy struct {
	Name               string
	InitialInterval    time.Duration
	BackoffCoefficient float64
	MaximumInterval    time.Duration
	MaximumAttempts    int
}

var (
	PolicyNone = RetryPolicy{
		Name:            "none",
		MaximumAttempts: 1,
	}
	PolicyConservative = RetryPolicy{
		Name:               "conservative",
		InitialInterval:    5 * time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    5 * time.Minute,
		MaximumAttempts:    3,
	}
	PolicyStandard = RetryPolicy{
		Name:               "standard",
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    time.Minute,
		MaximumAttempts:    5,
	}
	PolicyAggressive = RetryPolicy{
		Name:               "aggressive",
		InitialInterval:    100 * time.Millisecond,
		BackoffCoefficient: 1.5,
		MaximumInterval:    10 * time.Second,
		MaximumAttempts:    10,
	}
)

// PolicyByName resolves a preset by its name, falling back to standard.
func PolicyByName(name string) RetryPolicy {
	switch name {
	case "none":
		return PolicyNone
	case "conservative":
		return PolicyConservative
	case "standard":
		return PolicyStandard
	case "aggressive":
		return PolicyAggressive
	default:
		return PolicyStandard
	}
}

// BackoffDelay computes the delay before the given retry attempt (1-based).
func (p RetryPolicy) BackoffDelay(attempt int) time.Duration {
	if attempt < 1 || p.InitialInterval <= 0 {
		return 0
	}
	delay := float64(p.InitialInterval)
	for i := 1; i < attempt; i++ {
		delay *= p.BackoffCoefficient
		if p.MaximumInterval > 0 && delay >= float64(p.MaximumInterval) {
			return p.MaximumInterval
		}
	}
	d := time.Duration(delay)
	if p.MaximumInterval > 0 && d > p.MaximumInterval {
		return p.MaximumInterval
	}
	return d
}
