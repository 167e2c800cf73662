package sessions

// SessionState is the lifecycle position of a connection.
type SessionState string

const (
	StateUninitialized SessionState = "uninitialized"
	StateInitializing  SessionState = "initializing"
	StateReady         SessionState = "ready"
	StateClosed        SessionState = "closed"
)

// Valid reports whether s is one of the defined states.
func (s SessionState) Valid() bool {
	switch s {
	case StateUninitialized, StateInitializing, StateReady, StateClosed:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// step. Any live state may close; otherwise states only advance one step.
func (s SessionState) CanTransition(next SessionState) bool {
	if s == StateClosed {
		return false
	}
	if next == StateClosed {
		return true
	}
	switch s {
	case StateUninitialized:
		return next == StateInitializing
	case StateInitializing:
		return next == StateReady
	}
	return false
}
