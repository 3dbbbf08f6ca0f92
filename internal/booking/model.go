package booking

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Appointment occupies exactly one (preferred_date, preferred_time) slot
// while its status is anything but cancelled. The patient payload is
// opaque to the engine; the patient module owns its shape.
type Appointment struct {
	ID            uuid.UUID
	Number        string // sequential human-readable identifier, e.g. APT-000042
	PreferredDate time.Time
	PreferredTime string
	Status        Status
	Patient       json.RawMessage
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DayAvailability is the booking-client view of one calendar date.
type DayAvailability struct {
	Date           string
	BookedTimes    []string
	AvailableTimes []string
}
