// File: internal/navigator/poll_test.go
package navigator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPollUntilSucceeds(t *testing.T) {
	calls := 0
	err := pollUntil(context.Background(), zap.NewNop(), pollSpec{
		name:    "test",
		tick:    time.Millisecond,
		timeout: time.Second,
	}, func(context.Context) (bool, error) {
		calls++
		return calls >= 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPollUntilTimesOutWithinOneTick(t *testing.T) {
	tick := 10 * time.Millisecond
	ceiling := 100 * time.Millisecond

	start := time.Now()
	err := pollUntil(context.Background(), zap.NewNop(), pollSpec{
		name:    "never",
		tick:    tick,
		timeout: ceiling,
	}, func(context.Context) (bool, error) {
		return false, nil
	})
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrPollTimeout)
	assert.GreaterOrEqual(t, elapsed, ceiling)
	// Bounded by the ceiling plus one tick (with scheduler slack).
	assert.Less(t, elapsed, ceiling+tick+50*time.Millisecond)
}

func TestPollUntilPredicateErrorAborts(t *testing.T) {
	boom := errors.New("boom")
	err := pollUntil(context.Background(), zap.NewNop(), pollSpec{
		name:    "err",
		tick:    time.Millisecond,
		timeout: time.Second,
	}, func(context.Context) (bool, error) {
		return false, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestPollUntilContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := pollUntil(ctx, zap.NewNop(), pollSpec{
		name:    "canceled",
		tick:    50 * time.Millisecond,
		timeout: time.Minute,
	}, func(context.Context) (bool, error) {
		return false, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
