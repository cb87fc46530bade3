package resolver

import (
	"context"
	"time"
)

// RetryPolicy is a small reusable retry loop parameterized per call site.
// An operation runs at most MaxAttempts times; between attempts the policy
// sleeps for the provider's hint when one exists, otherwise an
// exponentially growing multiple of BaseDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Retryable   func(error) bool
	Hint        func(error) time.Duration

	// sleep is swapped out in tests
	sleep func(context.Context, time.Duration) error
}

func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if attempt >= p.MaxAttempts || p.Retryable == nil || !p.Retryable(err) {
			return err
		}
		delay := time.Duration(0)
		if p.Hint != nil {
			delay = p.Hint(err)
		}
		if delay <= 0 {
			delay = p.BaseDelay * (1 << attempt)
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
