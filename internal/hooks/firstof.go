package hooks

import (
	"context"
	"errors"
	"time"
)

// ErrContextTimeout is returned by FirstOf when the timer fires first.
var ErrContextTimeout = errors.New("context build timed out")

// FirstOf runs work on a context detached from ctx's cancellation and
// returns whichever settles first: the work result, the timer (with
// ErrContextTimeout) or ctx (with ctx.Err()). A losing work call keeps
// running and its result is dropped, so work must be free of side effects.
func FirstOf[T any](ctx context.Context, d time.Duration, work func(context.Context) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	detached := context.WithoutCancel(ctx)
	go func() {
		v, err := work(detached)
		ch <- result{v, err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	var zero T
	select {
	case r := <-ch:
		return r.v, r.err
	case <-timer.C:
		return zero, ErrContextTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
