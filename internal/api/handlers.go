package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/clinicdesk/booking-engine/internal/booking"
	"github.com/clinicdesk/booking-engine/internal/schedule"
)

var validate = validator.New()

func availabilityHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date := r.URL.Query().Get("date")
		if date == "" {
			writeError(w, http.StatusUnprocessableEntity, "missing_date", "date query parameter is required")
			return
		}

		day, err := svc.Availability(r.Context(), date)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, AvailabilityResponse{
			Date:           day.Date,
			BookedTimes:    day.BookedTimes,
			AvailableTimes: day.AvailableTimes,
		})
	}
}

func createAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
			return
		}

		appt, err := svc.Create(r.Context(), req.Date, req.Time, req.Patient)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r)
		if !ok {
			return
		}

		appt, err := svc.Get(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc *booking.Service, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var f booking.ListFilter
		f.Limit, f.Offset = parsePagination(r)

		if d := r.URL.Query().Get("date"); d != "" {
			date, err := schedule.ParseDate(d, loc)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
				return
			}
			f.Date = &date
		}

		appts, err := svc.List(r.Context(), f)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := ListAppointmentsResponse{
			Appointments: make([]AppointmentResponse, 0, len(appts)),
			Limit:        f.Limit,
			Offset:       f.Offset,
		}
		for i := range appts {
			resp.Appointments = append(resp.Appointments, toAppointmentResponse(&appts[i]))
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func updateStatusHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r)
		if !ok {
			return
		}

		var req UpdateStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
			return
		}

		status, err := booking.ParseStatus(req.Status)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		appt, err := svc.UpdateStatus(r.Context(), id, status)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func rescheduleHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r)
		if !ok {
			return
		}

		var req RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
			return
		}

		appt, err := svc.Reschedule(r.Context(), id, req.Date, req.Time)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func calendarHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		month := r.URL.Query().Get("month")
		if month == "" {
			writeError(w, http.StatusUnprocessableEntity, "missing_month", "month query parameter is required")
			return
		}

		counts, err := svc.Calendar(r.Context(), month)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, CalendarResponse{Month: month, Counts: counts})
	}
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parsePagination(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}

// handleServiceError maps the engine's error taxonomy onto HTTP. Conflicts
// carry the refreshed booked set so clients can re-render availability
// without another round trip.
func handleServiceError(w http.ResponseWriter, err error) {
	var conflictErr *booking.ConflictError
	var validationErr *booking.ValidationError
	var transitionErr *booking.TransitionError

	switch {
	case errors.As(err, &conflictErr):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:       "slot_conflict",
			Details:     conflictErr.Error(),
			BookedTimes: conflictErr.BookedTimes,
		})
	case errors.As(err, &validationErr):
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", validationErr.Error())
	case errors.As(err, &transitionErr):
		writeError(w, http.StatusConflict, "invalid_status_transition", transitionErr.Error())
	case errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, booking.ErrStorageUnavailable):
		writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "temporary storage fault, retry later")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
