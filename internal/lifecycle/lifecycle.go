// Package lifecycle holds the server's coarse operational phase.
package lifecycle

import (
	"errors"
	"fmt"
)

type State int

const (
	Uninitialized State = iota
	Ready
	ShuttingDown
	Stopped
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case ShuttingDown:
		return "shutting_down"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var ErrInvalidTransition = errors.New("invalid lifecycle transition")

var allowed = map[State][]State{
	Uninitialized: {Ready, ShuttingDown},
	Ready:         {ShuttingDown},
	ShuttingDown:  {Stopped},
}

// Machine is not safe for concurrent use; its owner serializes access.
type Machine struct {
	state   State
	observe func(from, to State)
}

// New returns a machine in Uninitialized. observe, when non-nil, runs after
// every successful transition.
func New(observe func(from, to State)) *Machine {
	return &Machine{state: Uninitialized, observe: observe}
}

func (m *Machine) State() State {
	return m.state
}

func (m *Machine) Is(s State) bool {
	return m.state == s
}

func (m *Machine) Transition(to State) error {
	from := m.state
	for _, next := range allowed[from] {
		if next == to {
			m.state = to
			if m.observe != nil {
				m.observe(from, to)
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
