package app

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// State is the process lifecycle phase.
type State int

const (
	StateInit State = iota
	StateStarting
	StateRunning
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateDraining:
		return "Draining"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Lifecycle tracks the phase the process is in and rejects transitions that
// skip a phase. The only legal path is Init -> Starting -> Running ->
// Draining -> Terminated.
type Lifecycle struct {
	mu     sync.RWMutex
	state  State
	logger zerolog.Logger
}

func NewLifecycle(logger zerolog.Logger) *Lifecycle {
	return &Lifecycle{state: StateInit, logger: logger}
}

// State returns the current phase.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// TransitionTo advances to the next phase. Transitions that are not the
// immediate successor are rejected.
func (l *Lifecycle) TransitionTo(next State) error {
	l.mu.Lock()
	current := l.state
	if next != current+1 {
		l.mu.Unlock()
		return fmt.Errorf("invalid lifecycle transition %s -> %s", current, next)
	}
	l.state = next
	l.mu.Unlock()

	l.logger.Info().
		Stringer("from", current).
		Stringer("to", next).
		Msg("lifecycle transition")
	return nil
}
