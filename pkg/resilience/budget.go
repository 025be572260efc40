// Package resilience sizes and enforces the time a request may spend waiting
// on a search daemon.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Budget caps a daemon call. Limit is the configured daemon timeout and
// Reserve is kept back from the caller's deadline so the request can still
// answer after the daemon gives up. Zero values disable either bound.
type Budget struct {
	Limit   time.Duration
	Reserve time.Duration
}

// For returns how long a call under ctx may run: the smaller of Limit and
// the time to ctx's deadline minus Reserve. Zero means unbounded. The error
// wraps context.DeadlineExceeded when nothing is left.
func (b Budget) For(ctx context.Context) (time.Duration, error) {
	d := max(b.Limit, 0)
	deadline, ok := ctx.Deadline()
	if !ok {
		return d, nil
	}
	left := time.Until(deadline) - max(b.Reserve, 0)
	if left <= 0 {
		return 0, fmt.Errorf("%w: %v reserved after deadline", context.DeadlineExceeded, b.Reserve)
	}
	if d == 0 || left < d {
		d = left
	}
	return d, nil
}

// Run calls fn under a context bounded by the budget and hands it the
// effective limit. fn is abandoned once the limit passes; it must not block
// on sending its result.
func (b Budget) Run(ctx context.Context, name string, fn func(ctx context.Context, limit time.Duration) error) error {
	limit, err := b.For(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if limit == 0 {
		return fn(ctx, 0)
	}
	callCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- fn(callCtx, limit) }()
	select {
	case err := <-done:
		return err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", name, ctx.Err())
		}
		return fmt.Errorf("%s: %w after %v", name, context.DeadlineExceeded, limit)
	}
}

// IsTimeout reports whether err came from an expired deadline or budget.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
