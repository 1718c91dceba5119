package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDo(t *testing.T) {
	t.Run("succeeds after failures", func(t *testing.T) {
		calls := 0
		err := Do(func() error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		}, WithRetryCount(3), WithDelay(time.Millisecond))
		require.NoError(t, err)
		require.Equal(t, 3, calls)
	})

	t.Run("gives up", func(t *testing.T) {
		cause := errors.New("permanent")
		calls := 0
		err := Do(func() error {
			calls++
			return cause
		}, WithRetryCount(2), WithDelay(time.Millisecond))
		require.ErrorIs(t, err, cause)
		require.Equal(t, 2, calls)
	})
}

func TestDoWithResult(t *testing.T) {
	v, err := DoWithResult(func() (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestWithBackoff(t *testing.T) {
	var attempts []time.Time
	_ = Do(func() error {
		attempts = append(attempts, time.Now())
		return errors.New("transient")
	}, WithRetryCount(3), WithDelay(10*time.Millisecond), WithBackoff(3))

	require.Len(t, attempts, 3)
	require.GreaterOrEqual(t, attempts[2].Sub(attempts[1]), 30*time.Millisecond)
}
