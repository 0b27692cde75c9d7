package orchestrator

import (
	"sync"
	"time"
)

// State is the session state. Exactly one holds at any instant; only the
// orchestrator mutates it.
type State int

const (
	StateIdle State = iota
	StateUserSpeaking
	StateProcessingUtterance
	StateAIThinking
	StateAISpeaking
	StateInterrupted
	StateError
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateUserSpeaking:
		return "USER_SPEAKING"
	case StateProcessingUtterance:
		return "PROCESSING_UTTERANCE"
	case StateAIThinking:
		return "AI_THINKING"
	case StateAISpeaking:
		return "AI_SPEAKING"
	case StateInterrupted:
		return "INTERRUPTED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// StateChange represents a state transition event.
type StateChange struct {
	FromState State
	ToState   State
	Timestamp time.Time
	Reason    string
}

// StateListener observes session state changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

// InvalidTransitionError represents an invalid state transition attempt.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}

// stateMachine implements the turn-taking finite state machine.
type stateMachine struct {
	mu           sync.RWMutex
	currentState State
	listeners    []StateListener
}

func newStateMachine() *stateMachine {
	return &stateMachine{currentState: StateIdle}
}

// transitionValid checks if a state transition is valid.
func transitionValid(from, to State) bool {
	validTransitions := map[State][]State{
		StateIdle:                {StateUserSpeaking, StateAIThinking},
		StateUserSpeaking:        {StateProcessingUtterance, StateIdle, StateError},
		StateProcessingUtterance: {StateAIThinking, StateIdle, StateError},
		StateAIThinking:          {StateAISpeaking, StateUserSpeaking, StateIdle, StateError},
		StateAISpeaking:          {StateInterrupted, StateUserSpeaking, StateIdle, StateError},
		StateInterrupted:         {StateAISpeaking, StateUserSpeaking, StateIdle, StateError},
		StateError:               {StateUserSpeaking, StateIdle},
	}

	allowed, exists := validTransitions[from]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// State returns the current state.
func (m *stateMachine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentState
}

// Transition moves to a new state with validation.
func (m *stateMachine) Transition(to State, reason string) error {
	m.mu.Lock()
	if !transitionValid(m.currentState, to) {
		from := m.currentState
		m.mu.Unlock()
		return &InvalidTransitionError{From: from, To: to}
	}
	m.applyLocked(to, reason)
	return nil
}

// TransitionIf moves to a new state only when the current state matches from.
// This is the single arbitration point for racing triggers: the first caller
// wins, later callers observe false and must no-op.
func (m *stateMachine) TransitionIf(from, to State, reason string) bool {
	m.mu.Lock()
	if m.currentState != from || !transitionValid(from, to) {
		m.mu.Unlock()
		return false
	}
	m.applyLocked(to, reason)
	return true
}

// applyLocked commits the transition and notifies listeners. The lock is
// released before notification so listeners may read state freely.
func (m *stateMachine) applyLocked(to State, reason string) {
	event := StateChange{
		FromState: m.currentState,
		ToState:   to,
		Timestamp: time.Now(),
		Reason:    reason,
	}
	m.currentState = to
	listeners := make([]StateListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, l := range listeners {
		l.OnStateChange(event)
	}
}

// AddListener registers a listener for state change events.
func (m *stateMachine) AddListener(l StateListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}
