package apperr

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	baseRetryDelay = time.Second
	maxRetryDelay  = 30 * time.Second
)

// Retryable reports whether a caller may retry after err.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch Normalize(err).Code {
	case CodeTimeout, CodeServiceUnavailable, CodeRateLimit,
		CodeDatabase, CodeSearch, CodeVectorSearch:
		return true
	}
	return false
}

// RetryDelay returns the backoff before retry number attempt (1-based):
// min(1s*2^(attempt-1), 30s) with ±25% jitter. rnd must return values in
// [0,1); nil uses math/rand.
func RetryDelay(attempt int, rnd func() float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if rnd == nil {
		rnd = rand.Float64
	}
	d := maxRetryDelay
	if attempt <= 6 {
		d = min(baseRetryDelay<<(attempt-1), maxRetryDelay)
	}
	jitter := (rnd()*2 - 1) * 0.25
	return time.Duration(float64(d) * (1 + jitter))
}

// Retry runs fn up to attempts times, sleeping RetryDelay between
// retryable failures. Non-retryable errors are returned immediately.
func Retry(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(ctx); err == nil || !Retryable(err) || i == attempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(RetryDelay(i, nil)):
		}
	}
	return err
}
