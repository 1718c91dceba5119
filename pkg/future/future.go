package future

import (
	"context"

	"go.uber.org/atomic"
)

// Future is a one-shot result of an operation. It is resolved exactly once;
// later resolutions are ignored.
type Future struct {
	done     chan struct{}
	err      error
	resolved atomic.Bool
}

// New returns an unresolved Future and the function resolving it.
func New() (*Future, func(error)) {
	f := &Future{done: make(chan struct{})}
	return f, f.resolve
}

// Completed returns a Future already resolved with success.
func Completed() *Future {
	f, resolve := New()
	resolve(nil)
	return f
}

// Failed returns a Future already resolved with given error.
func Failed(err error) *Future {
	f, resolve := New()
	resolve(err)
	return f
}

func (f *Future) resolve(err error) {
	if !f.resolved.CompareAndSwap(false, true) {
		return
	}
	f.err = err
	close(f.done)
}

// Done returns a channel closed when the future is resolved.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Get blocks until the future is resolved and returns its error.
func (f *Future) Get() error {
	<-f.done
	return f.err
}

// Wait is Get bounded by the context.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsDone reports whether the future has been resolved, without blocking.
func (f *Future) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
