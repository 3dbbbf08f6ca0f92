package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clinicdesk/booking-engine/internal/booking"
	"github.com/clinicdesk/booking-engine/internal/config"
	"github.com/clinicdesk/booking-engine/internal/schedule"
)

// memRepo is a minimal in-memory booking.Repository mirroring the store's
// active-slot uniqueness rule.
type memRepo struct {
	mu    sync.Mutex
	seq   int
	appts map[uuid.UUID]*booking.Appointment
}

func newMemRepo() *memRepo {
	return &memRepo{appts: make(map[uuid.UUID]*booking.Appointment)}
}

func (r *memRepo) slotHeld(date time.Time, timeLabel string, except uuid.UUID) bool {
	for _, a := range r.appts {
		if a.ID != except && a.Status.Active() &&
			a.PreferredDate.Equal(date) && a.PreferredTime == timeLabel {
			return true
		}
	}
	return false
}

func (r *memRepo) Create(_ context.Context, date time.Time, timeLabel string, patient json.RawMessage) (*booking.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.slotHeld(date, timeLabel, uuid.Nil) {
		return nil, booking.ErrSlotTaken
	}
	r.seq++
	a := &booking.Appointment{
		ID:            uuid.New(),
		Number:        fmt.Sprintf("APT-%06d", r.seq),
		PreferredDate: date,
		PreferredTime: timeLabel,
		Status:        booking.StatusPending,
		Patient:       patient,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	r.appts[a.ID] = a
	copied := *a
	return &copied, nil
}

func (r *memRepo) GetByID(_ context.Context, id uuid.UUID) (*booking.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appts[id]
	if !ok {
		return nil, booking.ErrAppointmentNotFound
	}
	copied := *a
	return &copied, nil
}

func (r *memRepo) List(_ context.Context, f booking.ListFilter) ([]booking.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []booking.Appointment
	for _, a := range r.appts {
		if f.Date != nil && !a.PreferredDate.Equal(*f.Date) {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

func (r *memRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to booking.Status) (*booking.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appts[id]
	if !ok || a.Status != from {
		return nil, booking.ErrAppointmentNotFound
	}
	a.Status = to
	copied := *a
	return &copied, nil
}

func (r *memRepo) UpdateSchedule(_ context.Context, id uuid.UUID, date time.Time, timeLabel string) (*booking.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appts[id]
	if !ok || (a.Status != booking.StatusPending && a.Status != booking.StatusConfirmed) {
		return nil, booking.ErrAppointmentNotFound
	}
	if r.slotHeld(date, timeLabel, id) {
		return nil, booking.ErrSlotTaken
	}
	a.PreferredDate = date
	a.PreferredTime = timeLabel
	copied := *a
	return &copied, nil
}

func (r *memRepo) BookedTimes(_ context.Context, date time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var times []string
	for _, a := range r.appts {
		if a.Status.Active() && a.PreferredDate.Equal(date) {
			times = append(times, a.PreferredTime)
		}
	}
	return times, nil
}

func (r *memRepo) MonthlyCounts(_ context.Context, firstOfMonth time.Time) (map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := firstOfMonth.AddDate(0, 1, 0)
	counts := make(map[string]int)
	for _, a := range r.appts {
		if a.Status.Active() && !a.PreferredDate.Before(firstOfMonth) && a.PreferredDate.Before(next) {
			counts[schedule.FormatDate(a.PreferredDate)]++
		}
	}
	return counts, nil
}

func (r *memRepo) FindPastConfirmed(_ context.Context, before time.Time) ([]booking.Appointment, error) {
	return nil, nil
}

func testRouter(t *testing.T) http.Handler {
	t.Helper()

	cfg := config.Config{
		Hours:          schedule.HoursConfig{Open: "09:00", Close: "12:00", Interval: 30},
		ClosedWeekdays: map[time.Weekday]bool{time.Sunday: true},
		Holidays:       map[string]bool{},
		Location:       time.UTC,
	}

	svc := booking.NewService(newMemRepo(), nil, cfg, zap.NewNop())

	r := chi.NewRouter()
	r.Get("/appointments/availability", availabilityHandler(svc))
	r.Get("/appointments/calendar", calendarHandler(svc))
	r.Post("/appointments", createAppointmentHandler(svc))
	r.Get("/appointments", listAppointmentsHandler(svc, cfg.Location))
	r.Get("/appointments/{id}", getAppointmentHandler(svc))
	r.Patch("/appointments/{id}/status", updateStatusHandler(svc))
	r.Patch("/appointments/{id}/reschedule", rescheduleHandler(svc))
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func futureDate(weeks int) string {
	d := time.Now().UTC().AddDate(0, 0, weeks*7)
	// Steer clear of the closed weekday.
	if d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, 1)
	}
	return schedule.FormatDate(d)
}

func createBody(date, timeLabel string) map[string]any {
	return map[string]any{
		"date":    date,
		"time":    timeLabel,
		"patient": map[string]string{"name": "Rosa Ibarra"},
	}
}

func TestCreateEndpoint(t *testing.T) {
	h := testRouter(t)
	date := futureDate(1)

	rec := doJSON(t, h, http.MethodPost, "/appointments", createBody(date, "10:00"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, date, resp.Date)
	assert.NotEmpty(t, resp.Number)

	// Same slot again conflicts and reports the booked set.
	rec = doJSON(t, h, http.MethodPost, "/appointments", createBody(date, "10:00"))
	require.Equal(t, http.StatusConflict, rec.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "slot_conflict", errResp.Error)
	assert.Contains(t, errResp.BookedTimes, "10:00")
}

func TestCreateEndpoint_Validation(t *testing.T) {
	h := testRouter(t)

	rec := doJSON(t, h, http.MethodPost, "/appointments", createBody("2020-01-06", "10:00"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "past date")

	rec = doJSON(t, h, http.MethodPost, "/appointments", createBody(futureDate(1), "10:17"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "off-grid time")

	rec = doJSON(t, h, http.MethodPost, "/appointments", map[string]any{"date": futureDate(1)})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "missing fields")

	req := httptest.NewRequest(http.MethodPost, "/appointments", bytes.NewBufferString("{not json"))
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusBadRequest, rec2.Code, "unparseable body")
}

func TestAvailabilityEndpoint(t *testing.T) {
	h := testRouter(t)
	date := futureDate(2)

	rec := doJSON(t, h, http.MethodPost, "/appointments", createBody(date, "09:30"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/appointments/availability?date="+date, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AvailabilityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"09:30"}, resp.BookedTimes)
	assert.NotContains(t, resp.AvailableTimes, "09:30")
	assert.Contains(t, resp.AvailableTimes, "09:00")

	rec = doJSON(t, h, http.MethodGet, "/appointments/availability", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "missing date")
}

func TestStatusEndpoint(t *testing.T) {
	h := testRouter(t)
	date := futureDate(1)

	rec := doJSON(t, h, http.MethodPost, "/appointments", createBody(date, "11:00"))
	require.Equal(t, http.StatusCreated, rec.Code)

	var created AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	path := "/appointments/" + created.ID.String() + "/status"

	rec = doJSON(t, h, http.MethodPatch, path, map[string]string{"status": "confirmed"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPatch, path, map[string]string{"status": "pending"})
	require.Equal(t, http.StatusConflict, rec.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "invalid_status_transition", errResp.Error)

	rec = doJSON(t, h, http.MethodPatch, path, map[string]string{"status": "archived"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doJSON(t, h, http.MethodPatch, "/appointments/"+uuid.NewString()+"/status",
		map[string]string{"status": "confirmed"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRescheduleEndpoint(t *testing.T) {
	h := testRouter(t)
	date := futureDate(1)
	other := futureDate(2)

	rec := doJSON(t, h, http.MethodPost, "/appointments", createBody(date, "09:00"))
	require.Equal(t, http.StatusCreated, rec.Code)
	var blocker AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &blocker))

	rec = doJSON(t, h, http.MethodPost, "/appointments", createBody(other, "10:30"))
	require.Equal(t, http.StatusCreated, rec.Code)
	var mover AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mover))

	path := "/appointments/" + mover.ID.String() + "/reschedule"

	// Into an occupied slot: conflict, original untouched.
	rec = doJSON(t, h, http.MethodPatch, path, map[string]string{"date": date, "time": "09:00"})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/appointments/"+mover.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var unchanged AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &unchanged))
	assert.Equal(t, other, unchanged.Date)
	assert.Equal(t, "10:30", unchanged.Time)

	// Into a free slot: moved.
	rec = doJSON(t, h, http.MethodPatch, path, map[string]string{"date": date, "time": "11:30"})
	require.Equal(t, http.StatusOK, rec.Code)
	var moved AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &moved))
	assert.Equal(t, date, moved.Date)
	assert.Equal(t, "11:30", moved.Time)
}

func TestCalendarEndpoint(t *testing.T) {
	h := testRouter(t)
	date := futureDate(3)

	rec := doJSON(t, h, http.MethodPost, "/appointments", createBody(date, "09:00"))
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doJSON(t, h, http.MethodPost, "/appointments", createBody(date, "09:30"))
	require.Equal(t, http.StatusCreated, rec.Code)

	month := date[:7]
	rec = doJSON(t, h, http.MethodGet, "/appointments/calendar?month="+month, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp CalendarResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Counts[date])
	assert.Len(t, resp.Counts, 1, "zero-count dates are omitted")

	rec = doJSON(t, h, http.MethodGet, "/appointments/calendar?month=2025-3", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGetAndListEndpoints(t *testing.T) {
	h := testRouter(t)
	date := futureDate(1)

	rec := doJSON(t, h, http.MethodPost, "/appointments", createBody(date, "10:00"))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, h, http.MethodGet, "/appointments/"+created.ID.String(), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/appointments/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/appointments/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/appointments?date="+date, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list ListAppointmentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Appointments, 1)
}
