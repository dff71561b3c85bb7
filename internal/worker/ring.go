package worker

import (
	"go.uber.org/atomic"
)

// Ring is a bounded single-producer/single-consumer queue holding exactly its capacity.
// Offer must only be called from one goroutine and Poll from one other goroutine.
type Ring[T any] struct {
	buf []T
	// next slot to read, owned by the consumer
	head atomic.Uint64
	// next slot to write, owned by the producer
	tail atomic.Uint64
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

func (r *Ring[T]) Capacity() int {
	return len(r.buf)
}

// Offer adds v unless the ring is full. It never blocks.
func (r *Ring[T]) Offer(v T) bool {
	tail := r.tail.Load()
	if tail-r.head.Load() == uint64(len(r.buf)) {
		return false
	}
	r.buf[tail%uint64(len(r.buf))] = v
	r.tail.Store(tail + 1)
	return true
}

// Poll removes the oldest element, if any.
func (r *Ring[T]) Poll() (T, bool) {
	var zero T
	head := r.head.Load()
	if head == r.tail.Load() {
		return zero, false
	}
	i := head % uint64(len(r.buf))
	v := r.buf[i]
	r.buf[i] = zero
	r.head.Store(head + 1)
	return v, true
}

// Len is a snapshot of the number of buffered elements.
func (r *Ring[T]) Len() int {
	return int(r.tail.Load() - r.head.Load())
}
