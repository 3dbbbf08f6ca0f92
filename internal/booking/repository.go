package booking

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ListFilter narrows and pages List results.
type ListFilter struct {
	Date   *time.Time
	Limit  int
	Offset int
}

// Repository contains all appointment store interactions needed by the
// service. Create and UpdateSchedule are the slot-reserving writes: both
// must fail with ErrSlotTaken when another active appointment already
// holds the target slot, atomically with the write itself.
type Repository interface {
	// Create persists a new pending appointment. The store assigns the
	// id and the sequential human-readable number.
	Create(ctx context.Context, date time.Time, timeLabel string, patient json.RawMessage) (*Appointment, error)

	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	List(ctx context.Context, f ListFilter) ([]Appointment, error)

	// UpdateStatus applies a compare-and-swap status change; it returns
	// ErrAppointmentNotFound when no row matches (id, from).
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)

	// UpdateSchedule moves a pending or confirmed appointment to a new
	// slot in a single atomic write. On ErrSlotTaken the row is unchanged.
	UpdateSchedule(ctx context.Context, id uuid.UUID, date time.Time, timeLabel string) (*Appointment, error)

	// BookedTimes returns the ordered preferred times of non-cancelled
	// appointments on date.
	BookedTimes(ctx context.Context, date time.Time) ([]string, error)

	// MonthlyCounts returns active-appointment counts per date for the
	// month starting at firstOfMonth. Dates with zero active
	// appointments are omitted.
	MonthlyCounts(ctx context.Context, firstOfMonth time.Time) (map[string]int, error)

	// Dayclose worker
	FindPastConfirmed(ctx context.Context, before time.Time) ([]Appointment, error)
}
