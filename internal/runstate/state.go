package runstate

import (
	"errors"
	"fmt"
)

// Status is the life-cycle state of one agent run.
type Status string

const (
	StatusQueued         Status = "queued"
	StatusInProgress     Status = "in_progress"
	StatusRequiresAction Status = "requires_action"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
	StatusExpired        Status = "expired"
)

var (
	// ErrUnknownStatus indicates a status outside the run vocabulary.
	ErrUnknownStatus = errors.New("unknown run status")
	// ErrInvalidTransition indicates a status change the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid run status transition")
)

var allowedTransitions = map[Status]map[Status]struct{}{
	StatusQueued: {
		StatusInProgress: {},
		StatusCancelled:  {},
		StatusFailed:     {},
		StatusExpired:    {},
	},
	StatusInProgress: {
		StatusRequiresAction: {},
		StatusCompleted:      {},
		StatusFailed:         {},
		StatusCancelled:      {},
		StatusExpired:        {},
	},
	StatusRequiresAction: {
		StatusInProgress: {},
		StatusCancelled:  {},
		StatusFailed:     {},
		StatusExpired:    {},
	},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
	StatusExpired:   {},
}

// IsKnown reports whether s belongs to the run status vocabulary.
func IsKnown(s Status) bool {
	_, ok := allowedTransitions[s]
	return ok
}

// IsTerminal reports whether no further transition can leave s.
func IsTerminal(s Status) bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

// Terminal lists the terminal states in a stable order.
func Terminal() []Status {
	return []Status{StatusCompleted, StatusFailed, StatusCancelled, StatusExpired}
}

// ValidateTransition checks a single direct edge of the state machine.
// Staying in the same state is always allowed.
func ValidateTransition(from, to Status) error {
	if !IsKnown(from) {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, from)
	}
	if !IsKnown(to) {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, to)
	}
	if from == to {
		return nil
	}
	if _, ok := allowedTransitions[from][to]; !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Reachable reports whether to can be observed after from, possibly through
// intermediate states a poller never saw.
func Reachable(from, to Status) bool {
	if !IsKnown(from) || !IsKnown(to) {
		return false
	}
	if from == to {
		return true
	}

	seen := map[Status]bool{from: true}
	queue := []Status{from}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for next := range allowedTransitions[current] {
			if next == to {
				return true
			}
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}
