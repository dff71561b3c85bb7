package worker

import (
	"time"

	"go.uber.org/atomic"
)

// meter tracks what a worker has handled so far. It is written by the worker and read by snapshots.
type meter struct {
	count        atomic.Int64
	latencySum   atomic.Int64
	latencyCount atomic.Int64
	latencyMax   atomic.Int64
}

func (m *meter) message() {
	m.count.Inc()
}

func (m *meter) latency(d time.Duration) {
	us := d.Microseconds()
	m.latencySum.Add(us)
	m.latencyCount.Inc()
	for {
		current := m.latencyMax.Load()
		if us <= current || m.latencyMax.CompareAndSwap(current, us) {
			return
		}
	}
}
