package queue_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dashpay/llmq/queue"
)

func TestPushRejectsOverPeerCap(t *testing.T) {
	b := queue.NewBuffer(2)
	require.True(t, b.Push("peerA", []byte("m1")))
	require.True(t, b.Push("peerA", []byte("m2")))
	require.False(t, b.Push("peerA", []byte("m3")))
	require.Equal(t, 2, b.Len())
}

func TestPushRejectsDuplicateBytes(t *testing.T) {
	b := queue.NewBuffer(10)
	require.True(t, b.Push("peerA", []byte("same")))
	require.False(t, b.Push("peerB", []byte("same")))
	require.Equal(t, 1, b.Len())
}

func TestPopIsFIFOAndFreesPeerSlot(t *testing.T) {
	b := queue.NewBuffer(1)
	require.True(t, b.Push("peerA", []byte("m1")))
	require.False(t, b.Push("peerA", []byte("m2")))

	items := b.Pop(1)
	require.Len(t, items, 1)
	require.Equal(t, []byte("m1"), items[0].Bytes)

	require.True(t, b.Push("peerA", []byte("m2")))
}

func TestPopDoesNotClearSeenHashes(t *testing.T) {
	b := queue.NewBuffer(10)
	require.True(t, b.Push("peerA", []byte("m1")))
	b.Pop(10)
	require.False(t, b.Push("peerB", []byte("m1")))
}

func TestClearResetsEverything(t *testing.T) {
	b := queue.NewBuffer(10)
	require.True(t, b.Push("peerA", []byte("m1")))
	b.Clear()
	require.Equal(t, 0, b.Len())
	require.True(t, b.Push("peerA", []byte("m1")))
}

func TestHasSeen(t *testing.T) {
	b := queue.NewBuffer(10)
	d := queue.DigestOf([]byte("m1"))
	require.False(t, b.HasSeen(d))
	b.Push("peerA", []byte("m1"))
	require.True(t, b.HasSeen(d))
}

func TestConcurrentPushPop(t *testing.T) {
	b := queue.NewBuffer(1000)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b.Push("peer", []byte{byte(i)})
		}(i)
	}
	wg.Wait()
	require.LessOrEqual(t, b.Len(), 50)
}
