package core

import (
	"fmt"
	"sync"
)

// ExportState is the state of one export session.
type ExportState int

const (
	// StateIdle is a session that has not loaded anything yet
	StateIdle ExportState = iota
	// StateLoading is resolving a setlist against the catalog
	StateLoading
	// StateReviewing holds a resolved setlist the user may filter
	StateReviewing
	// StatePublishing is waiting on the provider
	StatePublishing
	// StateDone ended with a created playlist
	StateDone
	// StateFailed ended without a playlist
	StateFailed
)

func (s ExportState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReviewing:
		return "reviewing"
	case StatePublishing:
		return "publishing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

var exportTransitions = map[ExportState][]ExportState{
	StateIdle:       {StateLoading},
	StateLoading:    {StateReviewing, StateFailed},
	StateReviewing:  {StatePublishing, StateLoading},
	StatePublishing: {StateDone, StateFailed},
	// a failed publish may be retried with the same reviewed data
	StateFailed: {StateLoading, StatePublishing},
	StateDone:   {},
}

// ExportMachine guards the export flow against out-of-order actions such as publishing twice.
type ExportMachine struct {
	mu    sync.Mutex
	state ExportState
}

// NewExportMachine returns a machine in StateIdle.
func NewExportMachine() *ExportMachine {
	return &ExportMachine{state: StateIdle}
}

// State returns the current state.
func (m *ExportMachine) State() ExportState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves to the given state if the edge exists.
func (m *ExportMachine) Transition(to ExportState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, allowed := range exportTransitions[m.state] {
		if allowed == to {
			m.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, to)
}
