package executor

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	retryBaseDelay = 10 * time.Millisecond
	retryMaxDelay  = time.Second
)

// withRetry runs fn until it succeeds, backing off between attempts.
// Store errors are treated as transient and retried indefinitely; giving up
// would drop a certified transaction, which is never allowed. Cancellation
// of ctx is the only exit.
func withRetry(ctx context.Context, log *logrus.Entry, op string, fn func() error) error {
	delay := retryBaseDelay
	for {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		log.WithError(err).WithField("op", op).Warn("Transient failure, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay < retryMaxDelay {
			delay *= 2
		}
	}
}
