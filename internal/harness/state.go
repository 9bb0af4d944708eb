package harness

import (
	"fmt"

	"github.com/arroschaves/brandaocontador-e2e/internal/scenario"
)

// transitions lists the legal successors of each state.
var transitions = map[scenario.State][]scenario.State{
	scenario.StatePending: {scenario.StateRunning, scenario.StateAborted, scenario.StateTimedOut},
	scenario.StateRunning: {scenario.StateCompleted, scenario.StateAborted, scenario.StateTimedOut},
}

// Transition reports whether moving from one state to another is legal.
func Transition(from, to scenario.State) error {
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("invalid state transition %s -> %s", from, to)
}

// machine tracks a scenario's lifecycle state.
type machine struct {
	state scenario.State
}

func newMachine() *machine {
	return &machine{state: scenario.StatePending}
}

func (m *machine) to(next scenario.State) error {
	if err := Transition(m.state, next); err != nil {
		return err
	}
	m.state = next
	return nil
}
