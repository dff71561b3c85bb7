package controlplane

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/G-Research/maestro/pkg/note"
)

// Callback handles a dispatched note. Returning false stops the chain for that note.
type Callback func(n note.Note) bool

// Predicate selects the notes a Monitor waits for.
type Predicate func(n note.Note) bool

// Bus fans dispatched notes out to callbacks and monitors.
//
// Callbacks are invoked in registration order, on the dispatching goroutine. After the chain,
// every live monitor is offered the note, whether or not a callback stopped the chain.
type Bus struct {
	mu        sync.Mutex
	callbacks []Callback
	monitors  []*Monitor
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) AddCallback(callback Callback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks = append(b.callbacks, callback)
}

// Monitor registers a one-shot waiter for the first note matching predicate.
func (b *Bus) Monitor(predicate Predicate) *Monitor {
	m := &Monitor{
		bus:       b,
		predicate: predicate,
		c:         make(chan note.Note, 1),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.monitors = append(b.monitors, m)
	return m
}

// Await blocks until a note matching predicate is dispatched or ctx is done.
func (b *Bus) Await(ctx context.Context, predicate Predicate) (note.Note, error) {
	m := b.Monitor(predicate)
	defer m.Cancel()
	return m.Wait(ctx)
}

// Dispatch runs the callback chain and then the monitors for n.
func (b *Bus) Dispatch(n note.Note) {
	b.mu.Lock()
	callbacks := make([]Callback, len(b.callbacks))
	copy(callbacks, b.callbacks)
	monitors := make([]*Monitor, len(b.monitors))
	copy(monitors, b.monitors)
	b.mu.Unlock()

	for _, callback := range callbacks {
		if !callback(n) {
			break
		}
	}
	for _, m := range monitors {
		if m.predicate(n) {
			m.fire(n)
		}
	}
}

func (b *Bus) remove(m *Monitor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, candidate := range b.monitors {
		if candidate == m {
			b.monitors = append(b.monitors[:i], b.monitors[i+1:]...)
			return
		}
	}
}

// Monitors returns the number of live monitors.
func (b *Bus) Monitors() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.monitors)
}

type Monitor struct {
	bus       *Bus
	predicate Predicate
	c         chan note.Note
	once      sync.Once
}

func (m *Monitor) fire(n note.Note) {
	m.once.Do(func() {
		m.c <- n
		m.bus.remove(m)
	})
}

// C delivers the matching note once.
func (m *Monitor) C() <-chan note.Note {
	return m.c
}

func (m *Monitor) Wait(ctx context.Context) (note.Note, error) {
	select {
	case n := <-m.c:
		return n, nil
	case <-ctx.Done():
		return nil, errors.WithStack(ctx.Err())
	}
}

// Cancel unregisters the monitor. It is safe to call after the monitor fired.
func (m *Monitor) Cancel() {
	m.once.Do(func() {
		m.bus.remove(m)
	})
}
