package postgres

import (
	"context"
	"time"
)

const (
	readAttempts    = 3
	readBackoffBase = 25 * time.Millisecond
)

// retryRead re-runs a read whose failure is transient (serialization failure
// or deadlock), backing off between attempts. Mutations never go through
// this: the CAS answer can legitimately change between attempts, so retrying
// a write is the caller's call.
func retryRead[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var (
		out T
		err error
	)

	backoff := readBackoffBase
	for attempt := 0; attempt < readAttempts; attempt++ {
		out, err = fn()
		if err == nil || !IsRetryable(err) {
			return out, err
		}

		select {
		case <-ctx.Done():
			return out, err
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return out, err
}
