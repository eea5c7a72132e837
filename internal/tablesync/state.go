package tablesync

import "fmt"

// State is the lifecycle state of a single replicated table
type State int

const (
	StateUnknown State = iota // Zero value, never produced by the controller

	// Transient states
	StateNeedsInit // Table has never been initialized
	StateNeedsSync // Awaiting the next incremental sync

	// Terminal states
	StateComplete           // Synced, no schema change
	StateCompleteWithUpdate // Synced after dependent objects were cycled for a schema change
	StateFailed             // Failed this cycle
)

// String returns the wire name of the state
func (s State) String() string {
	switch s {
	case StateNeedsInit:
		return "needs_init"
	case StateNeedsSync:
		return "needs_sync"
	case StateComplete:
		return "complete"
	case StateCompleteWithUpdate:
		return "complete_with_update"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParseState converts a wire name back into a State
func ParseState(s string) (State, error) {
	switch s {
	case "needs_init":
		return StateNeedsInit, nil
	case "needs_sync":
		return StateNeedsSync, nil
	case "complete":
		return StateComplete, nil
	case "complete_with_update":
		return StateCompleteWithUpdate, nil
	case "failed":
		return StateFailed, nil
	default:
		return StateUnknown, fmt.Errorf("unknown table state: %q", s)
	}
}

// Valid reports whether s is one of the five lifecycle states
func (s State) Valid() bool {
	return s >= StateNeedsInit && s <= StateFailed
}

// Failing reports whether a table in this state counts against the fleet
func (s State) Failing() bool {
	return s == StateFailed || s == StateNeedsInit || s == StateNeedsSync
}

// Succeeded reports whether the state is a terminal success
func (s State) Succeeded() bool {
	return s == StateComplete || s == StateCompleteWithUpdate
}

// Requeue returns the state a table enters at the start of the next cycle.
// Tables that still need initialization keep that requirement.
func (s State) Requeue() State {
	if s == StateNeedsInit {
		return StateNeedsInit
	}
	return StateNeedsSync
}

func (s State) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid table state %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
