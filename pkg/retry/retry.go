package retry

import (
	"time"

	"github.com/pkg/errors"
)

// Do calls a given function until it succeeds or the retry count is exceeded.
func Do(fn func() error, opts ...OptionFunc) error {
	_, err := DoWithResult(func() (struct{}, error) {
		return struct{}{}, fn()
	}, opts...)
	return err
}

// DoWithResult do a given function with retry.
func DoWithResult[T any](fn func() (T, error), opts ...OptionFunc) (T, error) {
	opt := defaultOption()
	for _, o := range opts {
		o(&opt)
	}

	var retryCount int
	delay := opt.delay
	for {
		t, err := fn()
		if err != nil {
			retryCount++
			if retryCount >= opt.maxRetryCount {
				return t, errors.Wrapf(err, "retry count exceeded: %d", retryCount)
			}
			time.Sleep(delay)
			delay = time.Duration(float64(delay) * opt.backoff)
			continue
		}

		return t, nil
	}
}
