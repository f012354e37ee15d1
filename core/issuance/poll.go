package issuance

import (
	"context"
	"fmt"
	"time"
)

// pollUntil calls fn at fixed intervals until it reports done, fails, the
// deadline elapses, or the context is canceled. fn runs once immediately so
// an already-satisfied condition costs no sleep.
func pollUntil(ctx context.Context, interval, deadline time.Duration, fn func(ctx context.Context) (bool, error)) error {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return fmt.Errorf("%w after %s", ErrPollTimeout, deadline)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
