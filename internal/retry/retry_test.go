package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	}, 3, WithBaseDelay(time.Millisecond))

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestDo_ReturnsOriginalErrorAfterLastAttempt(t *testing.T) {
	root := errors.New("quota exceeded")
	calls := 0
	_, err := Do(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		return 0, root
	}, 3, WithBaseDelay(time.Millisecond))

	assert.Same(t, root, err)
	assert.Equal(t, 3, calls)
}

func TestDo_BackoffDoubles(t *testing.T) {
	var waits []time.Duration
	var attempts []int
	_, _ = Do(context.Background(), func(ctx context.Context) (int, error) {
		return 0, errors.New("fail")
	}, 4, WithBaseDelay(time.Millisecond), WithNotify(func(attempt int, err error, wait time.Duration) {
		attempts = append(attempts, attempt)
		waits = append(waits, wait)
	}))

	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}, waits)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	root := errors.New("API_KEY_INVALID")
	calls := 0
	_, err := Do(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		return 0, Permanent(root)
	}, 5, WithBaseDelay(time.Millisecond))

	assert.Same(t, root, err)
	assert.Equal(t, 1, calls)
}

func TestDo_NonPositiveAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("fail")
	}, 0)

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("fail")
	}, 5, WithBaseDelay(time.Hour))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestPermanent_Nil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
}
