package embedding

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
)

const (
	defaultMaxRetries    = 3
	defaultRetryInterval = 500 * time.Millisecond
)

// retryTransient runs fn, retrying with exponential backoff while it
// fails with a Transient error. Any other error kind stops the retry
// loop immediately, as does context cancellation.
func retryTransient(ctx context.Context, maxRetries int, initialInterval time.Duration, fn func() error) error {
	if maxRetries <= 0 {
		return fn()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialInterval

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(maxRetries)), ctx)
	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if apperr.IsTransient(err) && ctx.Err() == nil {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}
