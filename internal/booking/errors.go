package booking

import (
	"errors"
	"fmt"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrSlotTaken           = errors.New("slot already has an active appointment")
	ErrStorageUnavailable  = errors.New("appointment store unavailable")
)

// ValidationError covers malformed or unbookable input: a date in the
// past, a time that is not a generated slot, a holiday, bad payload.
// Terminal for the request; reported verbatim to the caller.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalidf(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ConflictError is the normal losing outcome of a booking race. It carries
// the refreshed booked set so the caller can offer other slots without a
// second round trip.
type ConflictError struct {
	Date        string
	Time        string
	BookedTimes []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("slot %s %s already booked", e.Date, e.Time)
}

func (e *ConflictError) Unwrap() error { return ErrSlotTaken }

// TransitionError is an illegal status change, e.g. completed -> pending.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal status transition %s -> %s", e.From, e.To)
}
