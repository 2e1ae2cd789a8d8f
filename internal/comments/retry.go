package comments

import (
	"context"
	"errors"
	"time"
)

const (
	storeRetryAttempts = 3
	storeRetryBackoff  = 25 * time.Millisecond
)

// retryStore runs attempt until it succeeds, fails with something other than
// ErrStoreUnavailable, or storeRetryAttempts is reached. Only idempotent reads
// and the like toggle go through here; Create never does.
func retryStore(ctx context.Context, attempt func() error) error {
	var err error
	for try := 1; try <= storeRetryAttempts; try++ {
		err = attempt()
		if err == nil || !errors.Is(err, ErrStoreUnavailable) || try == storeRetryAttempts {
			return err
		}
		timer := time.NewTimer(time.Duration(try) * storeRetryBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}
