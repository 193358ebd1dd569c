package tool

import (
	"math/rand"
	"time"
)

// RetryPolicy bounds re-execution of a failed tool call. Attempts count the
// first execution, so MaxAttempts of 3 allows two retries.
type RetryPolicy struct {
	// MaxAttempts is the total execution budget (minimum 1).
	MaxAttempts int
	// BaseDelay seeds the exponential backoff.
	BaseDelay time.Duration
	// MaxDelay caps a single backoff interval.
	MaxDelay time.Duration
	// Idempotent permits retrying MUTATING tools; ignored for READ_ONLY.
	Idempotent bool
	// RetryTimeouts extends the policy to TIMEOUT outcomes, which are
	// otherwise never retried automatically.
	RetryTimeouts bool
}

// DefaultRetryPolicy returns the policy applied to descriptors that leave
// Retry unset.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    2 * time.Second,
	}
}

// Backoff computes the pause before the given retry (attempt starts at 1 for
// the first retry): exponential growth from BaseDelay with full jitter,
// capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	max := p.MaxDelay
	if max <= 0 {
		max = 2 * time.Second
	}

	d := base << (attempt - 1)
	if d > max || d <= 0 {
		d = max
	}
	return time.Duration(rand.Int63n(int64(d)) + 1)
}

// normalized fills zero fields with defaults so callers can rely on a usable
// policy without nil checks.
func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts < 1 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	return p
}
