package stream

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ReconnectBackoff returns the exponential backoff policy cmd/ofssl-probe
// uses between failed Dial attempts: this package's streams have no
// built-in reconnect of their own (Non-goals exclude any background
// retry loop inside the state machine itself), so the caller driving the
// poll loop owns backoff, the same separation of concerns the original
// left to whatever invoked ssl_open.
func ReconnectBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.2
	return b
}

// DialWithBackoff retries dial, backing off between attempts, until it
// succeeds, ctx is done, or more than maxElapsed has passed since the first
// attempt. Every dial error is retried alike; a maxElapsed of zero leaves
// the backoff library's own default limit in place.
func DialWithBackoff(ctx context.Context, maxElapsed time.Duration, dial func() (*TLSStream, error)) (*TLSStream, error) {
	opts := []backoff.RetryOption{backoff.WithBackOff(ReconnectBackoff())}
	if maxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(maxElapsed))
	}
	return backoff.Retry(ctx, func() (*TLSStream, error) {
		s, err := dial()
		if err != nil {
			return nil, err
		}
		return s, nil
	}, opts...)
}
