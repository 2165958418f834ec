package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueTryPublish(t *testing.T) {
	q := NewQueue[int](2)
	require.NoError(t, q.TryPublish(1))
	require.NoError(t, q.TryPublish(2))
	assert.ErrorIs(t, q.TryPublish(3), ErrQueueFull)
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, 2, q.Cap())

	q.Close()
	q.Close()
	assert.ErrorIs(t, q.TryPublish(4), ErrQueueClosed)
	assert.Equal(t, []int{1, 2}, q.Drain(0))

	_, err := q.Next(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueueDrain(t *testing.T) {
	q := NewQueue[string](8)
	for _, s := range []string{"a", "b", "c"} {
		require.NoError(t, q.TryPublish(s))
	}
	assert.Equal(t, []string{"a", "b"}, q.Drain(2))
	assert.Equal(t, []string{"c"}, q.Drain(0))
	assert.Empty(t, q.Drain(0))
}

func TestQueueNextHonorsContext(t *testing.T) {
	q := NewQueue[int](1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := q.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueRun(t *testing.T) {
	q := NewQueue[int](4)
	for i := 1; i <= 3; i++ {
		require.NoError(t, q.TryPublish(i))
	}
	q.Close()

	var got []int
	q.Run(context.Background(), func(v int) { got = append(got, v) })
	assert.Equal(t, []int{1, 2, 3}, got)
}
