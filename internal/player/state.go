package player

import (
	"fmt"
	"sync"
)

// State is one of the nine playback session states (spec.md §4.10).
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StatePlaying
	StatePaused
	StateSeeking
	StateBuffering
	StateEnded
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateSeeking:
		return "seeking"
	case StateBuffering:
		return "buffering"
	case StateEnded:
		return "ended"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// legalTransitions is spec.md §4.10's table verbatim: every (from, to) pair
// not present here is rejected with a warning rather than applied.
var legalTransitions = map[State]map[State]bool{
	StateIdle:      {StateLoading: true},
	StateLoading:   {StateReady: true, StateError: true},
	StateReady:     {StatePlaying: true, StateSeeking: true, StateError: true},
	StatePlaying:   {StatePaused: true, StateSeeking: true, StateBuffering: true, StateEnded: true, StateError: true},
	StatePaused:    {StatePlaying: true, StateSeeking: true, StateError: true},
	StateSeeking:   {StateReady: true, StatePlaying: true, StatePaused: true, StateBuffering: true, StateError: true, StateSeeking: true},
	StateBuffering: {StatePlaying: true, StatePaused: true, StateSeeking: true, StateError: true},
	StateEnded:     {StateSeeking: true, StateIdle: true},
	StateError:     {StateIdle: true},
}

// stateMachine guards the current State and notifies subscribers of legal
// transitions. Transition is called from every component that drives state
// (Player's own methods, the seek controller, the pipeline's EOF/error
// paths); illegal transitions are rejected rather than applied, matching
// spec.md's "rejected with a warning" wording.
type stateMachine struct {
	mu       sync.Mutex
	current  State
	onChange func(from, to State)
}

func newStateMachine(onChange func(from, to State)) *stateMachine {
	return &stateMachine{current: StateIdle, onChange: onChange}
}

// Transition attempts to move to next. It reports whether the transition
// was legal and applied.
func (m *stateMachine) Transition(next State) (ok bool, err error) {
	m.mu.Lock()
	from := m.current
	allowed := legalTransitions[from][next]
	if allowed {
		m.current = next
	}
	m.mu.Unlock()

	if !allowed {
		return false, fmt.Errorf("player: illegal state transition %s -> %s", from, next)
	}
	if m.onChange != nil {
		// Observers are never called while holding the lock — spec.md §9's
		// event-emitter note forbids re-entrant observer calls from inside
		// a state-machine transition.
		m.onChange(from, next)
	}
	return true, nil
}

// Current returns the current state.
func (m *stateMachine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}
