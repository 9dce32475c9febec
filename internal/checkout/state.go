package checkout

import (
	"fmt"
	"strings"
)

// State is the sync state of one order within a checkout or sync attempt.
type State int

const (
	StateCreated State = iota
	StateReserving
	StateAssigned
	StateUnassigned
	StateSent
	StateFailed
)

var stateNames = map[State]string{
	StateCreated:    "CREATED",
	StateReserving:  "RESERVING",
	StateAssigned:   "ASSIGNED",
	StateUnassigned: "UNASSIGNED",
	StateSent:       "SENT",
	StateFailed:     "FAILED",
}

var transitions = map[State][]State{
	StateCreated:   {StateReserving, StateUnassigned},
	StateReserving: {StateAssigned, StateUnassigned},
	StateAssigned:  {StateSent, StateFailed},
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether the attempt ends in s.
func (s State) Terminal() bool {
	return s == StateUnassigned || s == StateSent || s == StateFailed
}

func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Trail records the states an attempt moved through.
type Trail struct {
	states []State
}

func newTrail(start State) *Trail {
	return &Trail{states: []State{start}}
}

func (t *Trail) Current() State {
	return t.states[len(t.states)-1]
}

func (t *Trail) advance(to State) error {
	from := t.Current()
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	t.states = append(t.states, to)
	return nil
}

func (t *Trail) States() []State {
	out := make([]State, len(t.states))
	copy(out, t.states)
	return out
}

func (t *Trail) Strings() []string {
	out := make([]string, 0, len(t.states))
	for _, s := range t.states {
		out = append(out, s.String())
	}
	return out
}

func (t *Trail) String() string {
	return strings.Join(t.Strings(), " -> ")
}
