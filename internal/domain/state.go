package domain

import "fmt"

// State is the lifecycle state of a build attempt.
type State string

// Build states. created -> running -> {success | error}.
const (
	StateCreated State = "created"
	StateRunning State = "running"
	StateSuccess State = "success"
	StateError   State = "error"
)

var states = map[State]struct{}{
	StateCreated: {},
	StateRunning: {},
	StateSuccess: {},
	StateError:   {},
}

// StateFromString converts a string to a State and reports whether it is known.
func StateFromString(s string) (state State, known bool) {
	state = State(s)
	_, known = states[state]
	return state, known
}

// IsTerminal reports whether no further transition is allowed.
func (s State) IsTerminal() bool {
	return s == StateSuccess || s == StateError
}

// Transition validates a state change.
// created may fail before it starts running; terminal states never change.
func Transition(from, to State) error {
	ok := false
	switch from {
	case StateCreated:
		ok = to == StateRunning || to == StateError
	case StateRunning:
		ok = to == StateSuccess || to == StateError
	}
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Advance moves the record to the next state after validating the transition.
func (r *BuildRecord) Advance(to State) error {
	if err := Transition(r.State, to); err != nil {
		return err
	}
	r.State = to
	return nil
}
