package errorbank

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryBusy runs fn, retrying with fibonacci backoff while it fails with a
// retryable busy error. After attempts retries the last busy error is
// surfaced to the caller, which is expected to back off and retry itself.
func RetryBusy(ctx context.Context, attempts uint64, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(attempts, retry.NewFibonacci(50*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var appErr *AppError
		if errors.As(err, &appErr) && appErr.Retryable() {
			return retry.RetryableError(err)
		}
		return err
	})
}
