package raffle

import (
	"encoding/json"
	"fmt"
)

// State is the lifecycle state of the current round.
type State int32

const (
	// StateOpen accepts entries; no draw is pending.
	StateOpen State = iota

	// StateCalculating has a randomness request outstanding; entries are rejected.
	StateCalculating
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateCalculating:
		return "calculating"
	default:
		return fmt.Sprintf("state(%d)", s)
	}
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	return s == StateOpen || s == StateCalculating
}

// MarshalJSON implements json.Marshaler.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *State) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseState(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseState converts a string to State.
func ParseState(s string) (State, error) {
	switch s {
	case "open", "OPEN", "0":
		return StateOpen, nil
	case "calculating", "CALCULATING", "1":
		return StateCalculating, nil
	default:
		return StateOpen, fmt.Errorf("unknown raffle state %q", s)
	}
}

// ValidTransitions defines allowed state transitions.
var ValidTransitions = map[State][]State{
	StateOpen:        {StateCalculating},
	StateCalculating: {StateOpen},
}

// CanTransition returns true if the transition from -> to is valid.
func CanTransition(from, to State) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError represents an invalid state transition.
type TransitionError struct {
	From State
	To   State
}

// Error implements error.
func (e TransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.From, e.To)
}
