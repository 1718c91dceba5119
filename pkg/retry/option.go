package retry

import "time"

type option struct {
	maxRetryCount int
	delay         time.Duration
	backoff       float64
}

func defaultOption() option {
	return option{
		maxRetryCount: 3,
		delay:         100 * time.Millisecond,
		backoff:       1,
	}
}

// OptionFunc is a function that sets an option.
type OptionFunc func(*option)

// WithRetryCount sets the maximum number of attempts.
func WithRetryCount(count int) OptionFunc {
	return func(o *option) {
		o.maxRetryCount = count
	}
}

// WithDelay sets the delay before the first retry.
func WithDelay(delay time.Duration) OptionFunc {
	return func(o *option) {
		o.delay = delay
	}
}

// WithBackoff multiplies the delay by factor after every retry.
func WithBackoff(factor float64) OptionFunc {
	return func(o *option) {
		o.backoff = factor
	}
}
