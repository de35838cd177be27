package runstate

import (
	"errors"
	"fmt"
	"sync"
)

// ErrAlreadyTerminal indicates an observation after the run has already finished.
var ErrAlreadyTerminal = errors.New("run already reached a terminal status")

// Transition records one observed status change.
type Transition struct {
	From Status `json:"from"`
	To   Status `json:"to"`
}

// Tracker follows the statuses a poller observes for one run and rejects
// observations that would move the run backwards.
type Tracker struct {
	mu          sync.Mutex
	current     Status
	transitions []Transition
}

// NewTracker starts tracking from the first observed status.
func NewTracker(initial Status) (*Tracker, error) {
	if !IsKnown(initial) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, initial)
	}
	return &Tracker{current: initial}, nil
}

// Observe records the next polled status. Repeating the current status is a no-op.
func (t *Tracker) Observe(next Status) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !IsKnown(next) {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, next)
	}
	if next == t.current {
		return nil
	}
	if IsTerminal(t.current) {
		return fmt.Errorf("%w: %s, observed %s", ErrAlreadyTerminal, t.current, next)
	}
	if !Reachable(t.current, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.current, next)
	}

	t.transitions = append(t.transitions, Transition{From: t.current, To: next})
	t.current = next
	return nil
}

// Current returns the latest accepted status.
func (t *Tracker) Current() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Done reports whether the tracked run has reached its terminal state.
func (t *Tracker) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return IsTerminal(t.current)
}

// Transitions returns a copy of the accepted status changes in order.
func (t *Tracker) Transitions() []Transition {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Transition(nil), t.transitions...)
}
