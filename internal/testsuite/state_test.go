package testsuite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/maestro/internal/common/logging"
)

func newTestStateTracker() *stateTracker {
	return newStateTracker(logging.NullEntry(nil))
}

func TestStateTracker_IncrementalSession(t *testing.T) {
	tracker := newTestStateTracker()
	for _, next := range []State{
		Discovering,
		ParameterizingPeers, WarmingUp, Running, Evaluating,
		ParameterizingPeers, Running, Evaluating,
		Succeeded,
	} {
		require.NoError(t, tracker.To(next), "to %s", next)
	}
	assert.Equal(t, Succeeded, tracker.Current())

	history := tracker.History()
	require.Len(t, history, 9)
	assert.Equal(t, Idle, history[0].From)
	assert.Equal(t, WarmingUp, history[2].To)
	assert.Equal(t, Evaluating, history[8].From)
}

func TestStateTracker_FailedFromAnyState(t *testing.T) {
	for _, state := range []State{Idle, Discovering, ParameterizingPeers, WarmingUp, Running, Evaluating} {
		assert.True(t, canTransition(state, Failed), state.String())
	}
}

func TestStateTracker_InvalidTransitions(t *testing.T) {
	tests := map[string]struct {
		from State
		to   State
	}{
		"skip discovery":        {from: Idle, to: Running},
		"evaluate without run":  {from: ParameterizingPeers, to: Evaluating},
		"succeed while running": {from: Running, to: Succeeded},
		"leave succeeded":       {from: Succeeded, to: Discovering},
		"leave failed":          {from: Failed, to: Failed},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.False(t, canTransition(tc.from, tc.to))
		})
	}

	tracker := newTestStateTracker()
	assert.Error(t, tracker.To(Evaluating))
	assert.Equal(t, Idle, tracker.Current())
	assert.Empty(t, tracker.History())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "WarmingUp", WarmingUp.String())
	assert.Equal(t, "Unknown", State(42).String())
	assert.True(t, Failed.Terminal())
	assert.False(t, Evaluating.Terminal())
}
