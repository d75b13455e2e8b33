package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDoublesFromOneSecond(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, time.Second, Backoff(1, cfg))
	assert.Equal(t, 2*time.Second, Backoff(2, cfg))
	assert.Equal(t, 4*time.Second, Backoff(3, cfg))
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	res := Do(context.Background(), Config{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Factor: 2}, func(attempt int) error {
		calls++
		return Permanent(errors.New("bad request"))
	})
	require.Error(t, res.Err)
	assert.Equal(t, 1, calls)
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	res := Do(context.Background(), Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Factor: 2}, func(attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, res.Err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, res.Attempts)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	res := Do(context.Background(), Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Factor: 2}, func(attempt int) error {
		calls++
		return errors.New("still failing")
	})
	require.Error(t, res.Err)
	assert.Equal(t, 3, calls)
}
