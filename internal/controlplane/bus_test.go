package controlplane

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/maestro/pkg/note"
)

func TestBus_CallbacksRunInRegistrationOrder(t *testing.T) {
	bus := NewBus()
	var calls []int
	bus.AddCallback(func(note.Note) bool { calls = append(calls, 1); return true })
	bus.AddCallback(func(note.Note) bool { calls = append(calls, 2); return true })
	bus.AddCallback(func(note.Note) bool { calls = append(calls, 3); return true })

	bus.Dispatch(note.Halt())

	assert.Equal(t, []int{1, 2, 3}, calls)
}

func TestBus_FalseStopsTheChain(t *testing.T) {
	bus := NewBus()
	var calls []int
	bus.AddCallback(func(note.Note) bool { calls = append(calls, 1); return false })
	bus.AddCallback(func(note.Note) bool { calls = append(calls, 2); return true })
	m := bus.Monitor(func(note.Note) bool { return true })

	bus.Dispatch(note.Halt())

	assert.Equal(t, []int{1}, calls)
	select {
	case n := <-m.C():
		assert.Equal(t, note.CmdHalt, n.Command())
	default:
		t.Fatal("monitor was not offered the note")
	}
}

func TestBus_MonitorFiresOnce(t *testing.T) {
	bus := NewBus()
	m := bus.Monitor(func(n note.Note) bool { return n.Command() == note.CmdStats })

	bus.Dispatch(note.Halt())
	assert.Equal(t, 1, bus.Monitors())

	bus.Dispatch(note.StatsRequest())
	bus.Dispatch(note.StatsRequest())
	assert.Equal(t, 0, bus.Monitors())

	n, err := m.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, note.CmdStats, n.Command())
	assert.Len(t, m.C(), 0)
}

func TestBus_AwaitHonoursContext(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := bus.Await(ctx, func(note.Note) bool { return true })

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, bus.Monitors())
}

func TestBus_CallbackMayRegisterMonitor(t *testing.T) {
	bus := NewBus()
	var m *Monitor
	bus.AddCallback(func(note.Note) bool {
		if m == nil {
			m = bus.Monitor(func(note.Note) bool { return true })
		}
		return true
	})

	bus.Dispatch(note.Halt())
	require.NotNil(t, m)
	assert.Equal(t, 1, bus.Monitors())

	bus.Dispatch(note.StatsRequest())
	n, err := m.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, note.CmdStats, n.Command())
}
