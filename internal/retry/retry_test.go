package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(context.Context, time.Duration) error { return nil }

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := New(3, time.Second).WithSleep(noSleep).Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return Transient(errors.New("boom"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("not found")
	calls := 0
	err := New(3, 0).Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDoExhausts(t *testing.T) {
	var observed []int
	var slept []time.Duration
	policy := New(3, 250*time.Millisecond).
		WithClassifier(Always).
		WithSleep(func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		}).
		WithObserver(func(attempt int, err error) { observed = append(observed, attempt) })

	last := errors.New("insert failed")
	err := policy.Do(context.Background(), func(ctx context.Context, attempt int) error {
		return fmt.Errorf("attempt %d: %w", attempt, last)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, last)
	assert.Equal(t, []int{1, 2, 3}, observed)
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond}, slept)
}

func TestDoHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := New(3, 0).Do(ctx, func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(errors.New("plain")))
	assert.True(t, IsTransient(Transient(errors.New("503"))))
	assert.True(t, IsTransient(fmt.Errorf("fetch: %w", ErrTransient)))
	assert.Nil(t, Transient(nil))
}
