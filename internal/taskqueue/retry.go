package taskqueue

import (
	"time"

	"github.com/JakeFAU/web-monitor/internal/monitor"
)

// Default retry settings for scrape tasks.
const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 5 * time.Minute
)

// FixedRetryPolicy retries transient failures a bounded number of times with
// a constant delay between attempts.
type FixedRetryPolicy struct {
	maxRetries int
	delay      time.Duration
}

// NewFixedRetryPolicy builds a policy. Negative inputs fall back to zero.
func NewFixedRetryPolicy(maxRetries int, delay time.Duration) FixedRetryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if delay < 0 {
		delay = 0
	}
	return FixedRetryPolicy{maxRetries: maxRetries, delay: delay}
}

// ShouldRetry decides whether a task that failed on the given attempt (0 for
// the first run) gets another one. Permanent errors are never retried.
func (p FixedRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxRetries {
		return false
	}
	return !monitor.IsPermanent(err)
}

// Backoff returns the wait duration before the next attempt.
func (p FixedRetryPolicy) Backoff(int) time.Duration {
	return p.delay
}

// MaxRetries reports the retry bound.
func (p FixedRetryPolicy) MaxRetries() int {
	return p.maxRetries
}
