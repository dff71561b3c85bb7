package worker

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_LossAccounting(t *testing.T) {
	for _, capacity := range []int{1, 3, 16} {
		for _, k := range []int{0, 1, 5, 100} {
			channel := NewChannel(capacity)
			for i := 0; i < capacity+k; i++ {
				channel.EmitLatency(int64(i))
			}
			assert.Equal(t, int64(k), channel.MissedSamples(), "capacity %d, k %d", capacity, k)
			assert.Equal(t, capacity, channel.Buffered())

			// The oldest samples are the ones retained.
			for i := 0; i < capacity; i++ {
				s, ok := channel.poll()
				require.True(t, ok)
				assert.Equal(t, int64(i), s.latency)
			}
			_, ok := channel.poll()
			assert.False(t, ok)
		}
	}
}

func TestRing_Wraparound(t *testing.T) {
	ring := NewRing[int](4)
	for i := 0; i < 100; i++ {
		require.True(t, ring.Offer(i))
		v, ok := ring.Poll()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	assert.Equal(t, 0, ring.Len())
}

func TestRing_ConcurrentProducerConsumer(t *testing.T) {
	const n = 100_000
	ring := NewRing[int](64)
	var wg sync.WaitGroup
	wg.Add(1)
	received := make([]int, 0, n)
	go func() {
		defer wg.Done()
		for len(received) < n {
			if v, ok := ring.Poll(); ok {
				received = append(received, v)
			}
		}
	}()
	for i := 0; i < n; {
		if ring.Offer(i) {
			i++
		}
	}
	wg.Wait()
	for i, v := range received {
		if v != i {
			t.Fatalf("element %d is %d", i, v)
		}
	}
}

func TestChannel_EmitNotifies(t *testing.T) {
	channel := NewChannel(8)
	channel.EmitLatency(1)
	channel.EmitLatency(2)
	select {
	case <-channel.notify:
	default:
		t.Fatal("expected a notification")
	}
	// Notifications coalesce.
	select {
	case <-channel.notify:
		t.Fatal("expected a single notification")
	default:
	}
}
