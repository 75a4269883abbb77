package objectstore

import (
	"context"
	"math/rand"
	"time"

	"github.com/INLOpen/nexusvault/core"
)

// RetryPolicy bounds retries of transient failures with exponential
// backoff and full jitter.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetry is used when the configuration does not override it.
func DefaultRetry() RetryPolicy {
	return RetryPolicy{Attempts: 4, BaseDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	backoff := p.BaseDelay << uint(attempt)
	if p.MaxDelay > 0 && backoff > p.MaxDelay {
		backoff = p.MaxDelay
	}
	if backoff <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(backoff)))
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. Cancellation is observed between attempts.
func Do(ctx context.Context, p RetryPolicy, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.delay(attempt - 1)):
			case <-ctx.Done():
				return core.NewError(ctxKind(ctx), "objectstore.retry", ctx.Err())
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		if !core.IsRetryable(err) {
			return err
		}
	}
	return err
}

func ctxKind(ctx context.Context) core.Kind {
	if ctx.Err() == context.DeadlineExceeded {
		return core.KindTimeout
	}
	return core.KindCancelled
}
