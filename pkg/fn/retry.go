package fn

import (
	"context"
	"math/rand"
	"time"
)

// RetryOpts configures Retry.
type RetryOpts struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Jitter      bool
}

// DefaultRetry is a reasonable profile for calls to external services.
var DefaultRetry = RetryOpts{
	MaxAttempts: 3,
	InitialWait: time.Second,
	MaxWait:     30 * time.Second,
	Jitter:      true,
}

// Retry calls f until it succeeds or MaxAttempts runs out, sleeping an
// exponentially growing backoff between attempts. Cancellation wins
// over the remaining attempts; the last failure is returned otherwise.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	attempts := opts.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var last Result[T]
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return Err[T](ctx.Err())
			case <-time.After(opts.backoff(i)):
			}
		}
		if last = f(ctx); last.IsOk() {
			return last
		}
	}
	return last
}

// backoff returns the wait before the given retry (1-based), doubling
// InitialWait each time, capped at MaxWait, with optional jitter drawn
// from [0.5x, 1.5x).
func (o RetryOpts) backoff(retry int) time.Duration {
	d := o.InitialWait << (retry - 1)
	if o.MaxWait > 0 && d > o.MaxWait {
		d = o.MaxWait
	}
	if o.Jitter {
		d = time.Duration(float64(d) * (0.5 + rand.Float64()))
		if o.MaxWait > 0 && d > o.MaxWait {
			d = o.MaxWait
		}
	}
	return d
}
