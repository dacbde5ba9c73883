package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForVisitsEveryIndexOnce(t *testing.T) {
	const n = 1037
	hits := make([]int32, n)
	err := For(context.Background(), n, 7, func(i int) error {
		atomic.AddInt32(&hits[i], 1)
		return nil
	})
	require.NoError(t, err)
	for i, h := range hits {
		assert.Equalf(t, int32(1), h, "index %d", i)
	}
}

func TestForPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	err := For(context.Background(), 100, 4, func(i int) error {
		if i == 42 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
}

func TestForCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var calls int32
	err := For(ctx, 50, 2, func(i int) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestForEmpty(t *testing.T) {
	assert.NoError(t, For(context.Background(), 0, 4, func(int) error {
		t.Fatal("fn must not be called")
		return nil
	}))
}

func TestWorkers(t *testing.T) {
	assert.Equal(t, 3, Workers(3))
	assert.Positive(t, Workers(0))
}
