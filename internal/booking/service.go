package booking

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicdesk/booking-engine/internal/config"
	"github.com/clinicdesk/booking-engine/internal/schedule"
)

// AvailabilityCache is the derived booked-times view keyed by date. It is
// advisory: a stale entry can at worst suggest a slot that the store then
// rejects with a conflict. Every slot-occupancy write invalidates the
// affected dates.
type AvailabilityCache interface {
	GetBookedTimes(ctx context.Context, dateKey string) ([]string, bool, error)
	SetBookedTimes(ctx context.Context, dateKey string, times []string) error
	Invalidate(ctx context.Context, dateKeys ...string) error
}

type Service struct {
	repo  Repository
	cache AvailabilityCache
	cfg   config.Config
	log   *zap.Logger

	now func() time.Time
}

func NewService(repo Repository, cache AvailabilityCache, cfg config.Config, log *zap.Logger) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
		cfg:   cfg,
		log:   log,
		now:   time.Now,
	}
}

// Create books a slot for a new pending appointment. The authoritative
// conflict decision is made by the store at insert time; on a lost race
// the returned ConflictError carries the refreshed booked set.
func (s *Service) Create(ctx context.Context, dateStr, timeLabel string, patient json.RawMessage) (*Appointment, error) {
	date, err := s.validateSlot(dateStr, timeLabel)
	if err != nil {
		return nil, err
	}
	if len(patient) == 0 || !json.Valid(patient) {
		return nil, invalidf("patient payload must be a JSON object")
	}

	appt, err := s.repo.Create(ctx, date, timeLabel, patient)
	if err != nil {
		if errors.Is(err, ErrSlotTaken) {
			return nil, s.conflict(ctx, date, timeLabel)
		}
		return nil, err
	}

	s.invalidate(ctx, date)

	s.log.Info("appointment created",
		zap.String("number", appt.Number),
		zap.String("date", schedule.FormatDate(appt.PreferredDate)),
		zap.String("time", appt.PreferredTime),
	)

	return appt, nil
}

// Reschedule moves an appointment to a new slot, all or nothing. When the
// new slot is taken the original booking is untouched.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, dateStr, timeLabel string) (*Appointment, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != StatusPending && current.Status != StatusConfirmed {
		return nil, invalidf("cannot reschedule a %s appointment", current.Status)
	}

	date, err := s.validateSlot(dateStr, timeLabel)
	if err != nil {
		return nil, err
	}

	appt, err := s.repo.UpdateSchedule(ctx, id, date, timeLabel)
	if err != nil {
		if errors.Is(err, ErrSlotTaken) {
			return nil, s.conflict(ctx, date, timeLabel)
		}
		return nil, err
	}

	s.invalidate(ctx, current.PreferredDate, date)

	s.log.Info("appointment rescheduled",
		zap.String("number", appt.Number),
		zap.String("from_date", schedule.FormatDate(current.PreferredDate)),
		zap.String("from_time", current.PreferredTime),
		zap.String("to_date", schedule.FormatDate(date)),
		zap.String("to_time", timeLabel),
	)

	return appt, nil
}

// UpdateStatus applies a status change through the transition table using
// a compare-and-swap write. Cancelling frees the slot immediately.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, to Status) (*Appointment, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := Transition(current.Status, to); err != nil {
		return nil, err
	}

	appt, err := s.repo.UpdateStatus(ctx, id, current.Status, to)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Lost a race with another status change; the table check no
			// longer reflects the stored row.
			return nil, &TransitionError{From: current.Status, To: to}
		}
		return nil, err
	}

	if to == StatusCancelled {
		s.invalidate(ctx, appt.PreferredDate)
	}

	s.log.Info("appointment status changed",
		zap.String("number", appt.Number),
		zap.String("from", string(current.Status)),
		zap.String("to", string(to)),
	)

	return appt, nil
}

// Cancel releases the appointment's slot by moving it to cancelled.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.UpdateStatus(ctx, id, StatusCancelled)
}

// Availability returns booked and still-bookable times for one date. The
// view is advisory; the create path re-validates at the write boundary.
func (s *Service) Availability(ctx context.Context, dateStr string) (*DayAvailability, error) {
	date, err := schedule.ParseDate(dateStr, s.cfg.Location)
	if err != nil {
		return nil, &ValidationError{Msg: err.Error()}
	}

	booked, err := s.bookedTimes(ctx, date)
	if err != nil {
		return nil, err
	}

	out := &DayAvailability{
		Date:           schedule.FormatDate(date),
		BookedTimes:    booked,
		AvailableTimes: []string{},
	}

	if !s.dateBookable(date) {
		return out, nil
	}

	slots, err := schedule.Generate(s.cfg.Hours)
	if err != nil {
		return nil, err
	}
	taken := make(map[string]bool, len(booked))
	for _, t := range booked {
		taken[t] = true
	}
	for _, slot := range slots {
		if !taken[slot] {
			out.AvailableTimes = append(out.AvailableTimes, slot)
		}
	}

	return out, nil
}

// Calendar returns active-appointment counts per date for a YYYY-MM month.
// Dates without active appointments are omitted.
func (s *Service) Calendar(ctx context.Context, monthStr string) (map[string]int, error) {
	first, err := schedule.ParseMonth(monthStr, s.cfg.Location)
	if err != nil {
		return nil, &ValidationError{Msg: err.Error()}
	}
	return s.repo.MonthlyCounts(ctx, first)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]Appointment, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.repo.List(ctx, f)
}

// CompletePastConfirmed moves confirmed appointments whose date has passed
// to completed. Called periodically by the dayclose worker.
func (s *Service) CompletePastConfirmed(ctx context.Context) (int, error) {
	today := schedule.DayOf(s.now(), s.cfg.Location)

	past, err := s.repo.FindPastConfirmed(ctx, today)
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, appt := range past {
		if _, err := s.repo.UpdateStatus(ctx, appt.ID, StatusConfirmed, StatusCompleted); err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				continue
			}
			s.log.Warn("dayclose: failed to complete appointment",
				zap.String("number", appt.Number), zap.Error(err))
			continue
		}
		closed++
	}

	return closed, nil
}

// validateSlot checks everything that can be decided without consulting
// other bookings: date shape, not in the past, clinic open that day, time
// a member of the generated slot sequence.
func (s *Service) validateSlot(dateStr, timeLabel string) (time.Time, error) {
	date, err := schedule.ParseDate(dateStr, s.cfg.Location)
	if err != nil {
		return time.Time{}, &ValidationError{Msg: err.Error()}
	}

	today := schedule.DayOf(s.now(), s.cfg.Location)
	if date.Before(today) {
		return time.Time{}, invalidf("date %s is in the past", dateStr)
	}
	if s.cfg.ClosedWeekdays[date.Weekday()] {
		return time.Time{}, invalidf("clinic is closed on %ss", date.Weekday())
	}
	if s.cfg.Holidays[schedule.FormatDate(date)] {
		return time.Time{}, invalidf("clinic is closed on %s", dateStr)
	}

	ok, err := schedule.Contains(s.cfg.Hours, timeLabel)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, invalidf("time %s is not a bookable slot", timeLabel)
	}

	return date, nil
}

func (s *Service) dateBookable(date time.Time) bool {
	today := schedule.DayOf(s.now(), s.cfg.Location)
	if date.Before(today) {
		return false
	}
	if s.cfg.ClosedWeekdays[date.Weekday()] {
		return false
	}
	return !s.cfg.Holidays[schedule.FormatDate(date)]
}

// bookedTimes reads through the availability cache. Cache failures degrade
// to store reads, never to request failures.
func (s *Service) bookedTimes(ctx context.Context, date time.Time) ([]string, error) {
	key := schedule.FormatDate(date)

	if s.cache != nil {
		times, hit, err := s.cache.GetBookedTimes(ctx, key)
		if err != nil {
			s.log.Warn("availability cache read failed", zap.String("date", key), zap.Error(err))
		} else if hit {
			return times, nil
		}
	}

	times, err := s.repo.BookedTimes(ctx, date)
	if err != nil {
		return nil, err
	}
	if times == nil {
		times = []string{}
	}

	if s.cache != nil {
		if err := s.cache.SetBookedTimes(ctx, key, times); err != nil {
			s.log.Warn("availability cache write failed", zap.String("date", key), zap.Error(err))
		}
	}

	return times, nil
}

// conflict builds the losing-race response: refresh the booked set first
// so the caller can immediately offer other slots.
func (s *Service) conflict(ctx context.Context, date time.Time, timeLabel string) *ConflictError {
	s.invalidate(ctx, date)

	booked, err := s.bookedTimes(ctx, date)
	if err != nil {
		s.log.Warn("failed to refresh booked times after conflict",
			zap.String("date", schedule.FormatDate(date)), zap.Error(err))
		booked = nil
	}

	return &ConflictError{
		Date:        schedule.FormatDate(date),
		Time:        timeLabel,
		BookedTimes: booked,
	}
}

func (s *Service) invalidate(ctx context.Context, dates ...time.Time) {
	if s.cache == nil {
		return
	}
	keys := make([]string, 0, len(dates))
	for _, d := range dates {
		keys = append(keys, schedule.FormatDate(d))
	}
	if err := s.cache.Invalidate(ctx, keys...); err != nil {
		s.log.Warn("availability cache invalidation failed",
			zap.Strings("dates", keys), zap.Error(err))
	}
}
