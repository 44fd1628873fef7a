// Package target holds the retry/backoff policy shared by every concrete
// target writer. Connection handling and upsert SQL live in the driver
// subpackages (mysql, oracle).
package target

import (
	"context"
	"math/rand"
	"time"

	"github.com/uschtwill/hermod-cdc/internal/cdcerr"
)

// BackoffPolicy computes retry delays as backoffFactor * 2^attempt plus up
// to one second of jitter (to avoid thundering-herd retries against the
// same target), with the sum capped at maxDelay.
type BackoffPolicy struct {
	BackoffFactor time.Duration
	MaxDelay      time.Duration
	MaxAttempts   int
}

// DefaultBackoffPolicy matches the defaults used across both mysql and
// oracle writers.
var DefaultBackoffPolicy = BackoffPolicy{
	BackoffFactor: 500 * time.Millisecond,
	MaxDelay:      30 * time.Second,
	MaxAttempts:   5,
}

func (p BackoffPolicy) delay(attempt int) time.Duration {
	jitter := time.Duration(rand.Int63n(int64(time.Second)))
	d := p.BackoffFactor*time.Duration(1<<uint(attempt)) + jitter
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// WithRetry runs fn, retrying with exponential backoff while the error is
// retryable per cdcerr.IsRetryable, up to MaxAttempts total tries.
func WithRetry(ctx context.Context, p BackoffPolicy, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !cdcerr.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.delay(attempt)):
		}
	}
	return lastErr
}
