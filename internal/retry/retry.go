// Package retry provides the bounded exponential backoff used around every
// external call: inventory store operations, provisioning API calls and the
// compensation release. Deliberately simple — no jitter, no circuit breaker.
package retry

import (
	"context"
	"time"

	"github.com/hardik25812/caidene-order-sub000/internal/util"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 2 * time.Second
)

// Policy holds the backoff parameters for one class of operation.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultPolicy returns the standard 3-attempt, 2s-base policy.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	return p
}

// Do invokes op up to p.MaxAttempts times, sleeping baseDelay * 2^(attempt-1)
// between attempts. The last error is returned when every attempt fails.
// Cancelling ctx aborts the backoff sleep and returns the context error.
func (p Policy) Do(ctx context.Context, name string, op func() error) error {
	p = p.normalized()

	var lastErr error
	delay := p.BaseDelay

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			util.RetryAttemptsTotal.WithLabelValues(name).Inc()
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}

		if attempt == p.MaxAttempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}

	return lastErr
}

// Do runs op with the default policy.
func Do(ctx context.Context, name string, op func() error) error {
	return DefaultPolicy().Do(ctx, name, op)
}
