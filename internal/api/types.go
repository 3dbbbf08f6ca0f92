package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/booking-engine/internal/booking"
	"github.com/clinicdesk/booking-engine/internal/schedule"
)

type CreateAppointmentRequest struct {
	Date    string          `json:"date" validate:"required,datetime=2006-01-02"`
	Time    string          `json:"time" validate:"required,datetime=15:04"`
	Patient json.RawMessage `json:"patient" validate:"required"`
}

type RescheduleRequest struct {
	Date string `json:"date" validate:"required,datetime=2006-01-02"`
	Time string `json:"time" validate:"required,datetime=15:04"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending confirmed completed cancelled"`
}

type AppointmentResponse struct {
	ID        uuid.UUID       `json:"id"`
	Number    string          `json:"number"`
	Date      string          `json:"date"`
	Time      string          `json:"time"`
	Status    string          `json:"status"`
	Patient   json.RawMessage `json:"patient"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func toAppointmentResponse(a *booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:        a.ID,
		Number:    a.Number,
		Date:      schedule.FormatDate(a.PreferredDate),
		Time:      a.PreferredTime,
		Status:    string(a.Status),
		Patient:   a.Patient,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

type AvailabilityResponse struct {
	Date           string   `json:"date"`
	BookedTimes    []string `json:"booked_times"`
	AvailableTimes []string `json:"available_times"`
}

type CalendarResponse struct {
	Month  string         `json:"month"`
	Counts map[string]int `json:"counts"`
}

type ListAppointmentsResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
	Limit        int                   `json:"limit"`
	Offset       int                   `json:"offset"`
}

type ErrorResponse struct {
	Error       string   `json:"error"`
	Details     string   `json:"details,omitempty"`
	BookedTimes []string `json:"booked_times,omitempty"`
}
