package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Category is the failure category an error is classified into.
type Category string

const (
	CategoryValidation     Category = "validation"
	CategoryNetwork        Category = "network"
	CategoryAuthentication Category = "authentication"
	CategoryAuthorization  Category = "authorization"
	CategoryRateLimit      Category = "rate_limit"
	CategoryResource       Category = "resource"
	CategoryBusiness       Category = "business"
	CategorySystem         Category = "system"
)

// CategoryError tags an error with an explicit failure category so operation
// handlers can opt out of pattern matching entirely.
type CategoryError struct {
	Category Category
	Err      error
}

func (e *CategoryError) Error() string {
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *CategoryError) Unwrap() error {
	return e.Err
}

// NewCategoryError wraps err with a fixed failure category.
func NewCategoryError(category Category, err error) *CategoryError {
	return &CategoryError{Category: category, Err: err}
}

// Decision is the classification outcome for one error.
type Decision struct {
	Category  Category
	Retryable bool
	Policy    RetryPolicy
}

type matcher struct {
	category Category
	patterns []string
}

// Ordered: first match wins. Patterns are matched case-insensitively
// against the error text.
var matchers = []matcher{
	{CategoryValidation, []string{"validation", "invalid", "malformed", "missing"}},
	{CategoryNetwork, []string{"network", "connection", "timeout", "unreachable", "deadline exceeded", "broken pipe", "refused"}},
	{CategoryAuthentication, []string{"authentication", "unauthenticated", "credentials", "login"}},
	{CategoryAuthorization, []string{"authorization", "unauthorized", "forbidden", "permission"}},
	{CategoryRateLimit, []string{"rate limit", "too many requests", "throttl"}},
	{CategoryResource, []string{"resource exhausted", "out of memory", "quota", "capacity", "circuit"}},
	{CategoryBusiness, []string{"business rule", "business", "conflict", "duplicate"}},
}

// Never retried regardless of the caller's requested policy. A retry cannot
// fix bad input or revoked credentials, and re-running a rejected business
// action risks duplicated side effects.
var nonRetryable = map[Category]bool{
	CategoryValidation:     true,
	CategoryAuthentication: true,
	CategoryAuthorization:  true,
	CategoryBusiness:       true,
}

var categoryPolicies = map[Category]RetryPolicy{
	CategoryValidation:     PolicyNone,
	CategoryNetwork:        PolicyAggressive,
	CategoryAuthentication: PolicyNone,
	CategoryAuthorization:  PolicyNone,
	CategoryRateLimit:      PolicyConservative,
	CategoryResource:       PolicyConservative,
	CategoryBusiness:       PolicyNone,
	CategorySystem:         PolicyStandard,
}

// Classifier turns errors into retry decisions. The zero value is not
// usable; construct with NewClassifier.
type Classifier struct {
	overrides map[Category]RetryPolicy
}

func NewClassifier() *Classifier {
	return &Classifier{overrides: make(map[Category]RetryPolicy)}
}

// OverridePolicy replaces the retry policy for a category. Overrides are
// ignored for non-retryable categories; that rule is not caller-tunable.
func (c *Classifier) OverridePolicy(category Category, policy RetryPolicy) {
	c.overrides[category] = policy
}

// Classify maps an error to its failure category and retry decision.
// Unmatched errors fall back to a retryable system category.
func (c *Classifier) Classify(err error) Decision {
	category := categorize(err)

	if nonRetryable[category] {
		return Decision{Category: category, Retryable: false, Policy: PolicyNone}
	}

	policy := categoryPolicies[category]
	if override, ok := c.overrides[category]; ok {
		policy = override
	}
	return Decision{Category: category, Retryable: policy.MaximumAttempts != 1, Policy: policy}
}

func categorize(err error) Category {
	var tagged *CategoryError
	if errors.As(err, &tagged) {
		return tagged.Category
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryNetwork
	}

	msg := strings.ToLower(err.Error())
	for _, m := range matchers {
		for _, p := range m.patterns {
			if strings.Contains(msg, p) {
				return m.category
			}
		}
	}
	return CategorySystem
}
