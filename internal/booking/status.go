package booking

import "fmt"

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// transitions is the full set of legal status changes. Completed and
// cancelled are terminal.
var transitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusConfirmed: true,
		StatusCancelled: true,
	},
	StatusConfirmed: {
		StatusCompleted: true,
		StatusCancelled: true,
	},
}

// ParseStatus converts a wire value into a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled:
		return Status(s), nil
	}
	return "", &ValidationError{Msg: fmt.Sprintf("unknown status %q", s)}
}

// Active reports whether the status keeps the appointment's slot occupied.
func (s Status) Active() bool {
	return s != StatusCancelled
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// Transition validates a status change, returning a TransitionError when
// the change is illegal. Every status mutation in the engine goes through
// this check; nothing else writes the status column.
func Transition(from, to Status) error {
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}
