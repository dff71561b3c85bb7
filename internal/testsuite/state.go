package testsuite

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// State is a stage of a test session.
type State int

const (
	Idle State = iota
	Discovering
	ParameterizingPeers
	WarmingUp
	Running
	Evaluating
	Succeeded
	Failed
)

var stateNames = map[State]string{
	Idle:                "Idle",
	Discovering:         "Discovering",
	ParameterizingPeers: "ParameterizingPeers",
	WarmingUp:           "WarmingUp",
	Running:             "Running",
	Evaluating:          "Evaluating",
	Succeeded:           "Succeeded",
	Failed:              "Failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "Unknown"
}

func (s State) Terminal() bool {
	return s == Succeeded || s == Failed
}

// Allowed transitions besides Failed, which is reachable from every non-terminal state.
var transitions = map[State][]State{
	Idle:                {Discovering},
	Discovering:         {ParameterizingPeers},
	ParameterizingPeers: {WarmingUp, Running},
	WarmingUp:           {Running},
	Running:             {Evaluating},
	Evaluating:          {ParameterizingPeers, Succeeded},
}

// Transition is one entry of the state history.
type Transition struct {
	From State
	To   State
	At   time.Time
}

type stateTracker struct {
	mu      sync.Mutex
	current State
	history []Transition
	log     *log.Entry
}

func newStateTracker(logger *log.Entry) *stateTracker {
	return &stateTracker{current: Idle, log: logger}
}

func (t *stateTracker) Current() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

func (t *stateTracker) History() []Transition {
	t.mu.Lock()
	defer t.mu.Unlock()
	history := make([]Transition, len(t.history))
	copy(history, t.history)
	return history
}

func (t *stateTracker) To(next State) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !canTransition(t.current, next) {
		return errors.Errorf("invalid state transition from %s to %s", t.current, next)
	}
	t.history = append(t.history, Transition{From: t.current, To: next, At: time.Now()})
	t.log.WithFields(log.Fields{"from": t.current.String(), "to": next.String()}).Info("state changed")
	t.current = next
	return nil
}

func canTransition(from State, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == Failed {
		return true
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
