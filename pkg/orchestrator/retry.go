package orchestrator

import (
	"context"
	"math/big"
	"time"
)

// Transient read policy: balance, allowance and fee queries get three
// attempts with exponential backoff (250ms, 500ms, 1s). Submissions are
// never retried here; resubmitting a transaction is not idempotent.
const (
	readAttempts    = 3
	readBackoffBase = 250 * time.Millisecond
)

// retryRead runs fn up to readAttempts times, backing off between
// attempts and honoring context cancellation.
func retryRead(ctx context.Context, fn func(context.Context) (*big.Int, error)) (*big.Int, error) {
	var lastErr error
	backoff := readBackoffBase
	for attempt := 0; attempt < readAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}
