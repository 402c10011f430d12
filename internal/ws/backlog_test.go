package ws

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBacklogManager(t *testing.T) {
	t.Run("drain returns messages in publish order", func(t *testing.T) {
		b := NewBacklogManager(50, time.Minute)

		b.Enqueue("status:req-1", []byte("one"))
		b.Enqueue("status:req-1", []byte("two"))
		b.Enqueue("status:req-1", []byte("three"))

		drained := b.Drain("status:req-1")
		require.Len(t, drained, 3)
		require.Equal(t, "one", string(drained[0]))
		require.Equal(t, "two", string(drained[1]))
		require.Equal(t, "three", string(drained[2]))
	})

	t.Run("drain is destructive", func(t *testing.T) {
		b := NewBacklogManager(50, time.Minute)

		b.Enqueue("status:req-1", []byte("one"))

		require.Len(t, b.Drain("status:req-1"), 1)
		require.Empty(t, b.Drain("status:req-1"))
		require.Equal(t, 0, b.Size())
	})

	t.Run("oldest entries evicted at the cap", func(t *testing.T) {
		b := NewBacklogManager(3, time.Minute)

		for i := 0; i < 5; i++ {
			b.Enqueue("status:req-1", []byte(fmt.Sprintf("msg-%d", i)))
		}

		drained := b.Drain("status:req-1")
		require.Len(t, drained, 3)
		require.Equal(t, "msg-2", string(drained[0]))
		require.Equal(t, "msg-4", string(drained[2]))
	})

	t.Run("expired entries dropped on drain", func(t *testing.T) {
		b := NewBacklogManager(50, 10*time.Millisecond)

		b.Enqueue("status:req-1", []byte("stale"))
		time.Sleep(20 * time.Millisecond)
		b.Enqueue("status:req-1", []byte("fresh"))

		drained := b.Drain("status:req-1")
		require.Len(t, drained, 1)
		require.Equal(t, "fresh", string(drained[0]))
	})

	t.Run("cleanup removes expired entries across keys", func(t *testing.T) {
		b := NewBacklogManager(50, 10*time.Millisecond)

		b.Enqueue("status:req-1", []byte("stale"))
		b.Enqueue("narration:req-2", []byte("stale"))
		time.Sleep(20 * time.Millisecond)
		b.Enqueue("status:req-1", []byte("fresh"))

		b.CleanupExpired()

		require.Equal(t, 1, b.Size())
	})

	t.Run("keys are independent", func(t *testing.T) {
		b := NewBacklogManager(50, time.Minute)

		b.Enqueue("status:req-1", []byte("a"))
		b.Enqueue("narration:req-1", []byte("b"))

		require.Len(t, b.Drain("status:req-1"), 1)
		require.Len(t, b.Drain("narration:req-1"), 1)
	})
}
