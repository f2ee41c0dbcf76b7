// Package backoff computes reconnect delays for the widget connection.
package backoff

import (
	"math"
	"time"
)

const (
	DefaultBaseDelay    = 1000 * time.Millisecond
	DefaultGrowthFactor = 1.5
	DefaultMaxAttempts  = 15
)

// Policy is an exponential reconnect schedule. It is immutable and safe for
// concurrent use.
type Policy struct {
	baseDelay    time.Duration
	growthFactor float64
	maxAttempts  int
}

// Default returns the policy used when none is configured:
// 1s base delay growing by 1.5x, for at most 15 attempts.
func Default() Policy {
	return Policy{
		baseDelay:    DefaultBaseDelay,
		growthFactor: DefaultGrowthFactor,
		maxAttempts:  DefaultMaxAttempts,
	}
}

// Delay returns the wait before reconnect attempt n (1-based):
// BaseDelay * GrowthFactor^(n-1). Values of n below 1 are treated as 1.
// The result is not clamped.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(float64(p.baseDelay) * math.Pow(p.growthFactor, float64(attempt-1)))
}

// Allows reports whether another attempt may be scheduled when counter
// attempts have already been made.
func (p Policy) Allows(counter int) bool {
	return counter < p.maxAttempts
}

func (p Policy) BaseDelay() time.Duration {
	return p.baseDelay
}

func (p Policy) GrowthFactor() float64 {
	return p.growthFactor
}

func (p Policy) MaxAttempts() int {
	return p.maxAttempts
}

// PolicyBuilder provides a fluent interface for building a Policy.
// Invalid values are ignored and the defaults kept.
type PolicyBuilder struct {
	policy Policy
}

// NewPolicy creates a builder seeded with the default policy.
func NewPolicy() *PolicyBuilder {
	return &PolicyBuilder{policy: Default()}
}

// WithBaseDelay sets the delay before the first reconnect attempt.
func (b *PolicyBuilder) WithBaseDelay(delay time.Duration) *PolicyBuilder {
	if delay > 0 {
		b.policy.baseDelay = delay
	}
	return b
}

// WithGrowthFactor sets the multiplier applied per attempt. Factors below 1
// would shrink the delay and are ignored.
func (b *PolicyBuilder) WithGrowthFactor(factor float64) *PolicyBuilder {
	if factor >= 1 && !math.IsInf(factor, 0) && !math.IsNaN(factor) {
		b.policy.growthFactor = factor
	}
	return b
}

// WithMaxAttempts sets how many consecutive reconnects may be scheduled
// before giving up.
func (b *PolicyBuilder) WithMaxAttempts(attempts int) *PolicyBuilder {
	if attempts > 0 {
		b.policy.maxAttempts = attempts
	}
	return b
}

func (b *PolicyBuilder) Build() Policy {
	return b.policy
}
