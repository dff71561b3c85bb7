package worker

import (
	"time"

	"go.uber.org/atomic"
)

type sampleKind uint8

const (
	rateSample sampleKind = iota
	latencySample
)

type sample struct {
	kind sampleKind
	// Unix nanoseconds.
	sent     int64
	received int64
	// Microseconds.
	latency int64
}

// Channel carries samples from a measuring goroutine to its Writer. Emitting never blocks:
// when the ring is full the sample is dropped and counted as missed.
type Channel struct {
	ring   *Ring[sample]
	missed atomic.Int64
	notify chan struct{}
}

func NewChannel(capacity int) *Channel {
	return &Channel{
		ring:   NewRing[sample](capacity),
		notify: make(chan struct{}, 1),
	}
}

// EmitRate records one message handled at the given times.
func (c *Channel) EmitRate(sent time.Time, received time.Time) {
	c.emit(sample{kind: rateSample, sent: sent.UnixNano(), received: received.UnixNano()})
}

// EmitLatency records one latency value, in microseconds.
func (c *Channel) EmitLatency(value int64) {
	c.emit(sample{kind: latencySample, latency: value})
}

func (c *Channel) emit(s sample) {
	if !c.ring.Offer(s) {
		c.missed.Inc()
		samplesMissed.Inc()
		return
	}
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// MissedSamples is the number of samples dropped so far.
func (c *Channel) MissedSamples() int64 {
	return c.missed.Load()
}

// Buffered is the number of samples waiting for the writer.
func (c *Channel) Buffered() int {
	return c.ring.Len()
}

func (c *Channel) poll() (sample, bool) {
	return c.ring.Poll()
}
