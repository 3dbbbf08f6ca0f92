package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the SQLSTATE raised when an insert or update collides
// with appointments_active_slot_idx, the partial unique index over
// (preferred_date, preferred_time) for non-cancelled rows. That index is
// the authoritative double-booking guard; application-level availability
// checks are advisory.
const uniqueViolation = "23505"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `id, number, preferred_date, preferred_time, status, patient, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string

	err := row.Scan(
		&a.ID,
		&a.Number,
		&a.PreferredDate,
		&a.PreferredTime,
		&status,
		&a.Patient,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, storagef("scan appointment", err)
	}

	a.Status = Status(status)
	return &a, nil
}

func storagef(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (r *PgRepository) Create(ctx context.Context, date time.Time, timeLabel string, patient json.RawMessage) (*Appointment, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, number, preferred_date, preferred_time, status, patient, created_at, updated_at)
		VALUES ($1, 'APT-' || lpad(nextval('appointment_number_seq')::text, 6, '0'), $2, $3, 'pending', $4, now(), now())
		RETURNING `+appointmentColumns+`
	`, id, date, timeLabel, patient)

	appt, err := scanAppointment(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSlotTaken
		}
		return nil, err
	}
	return appt, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) List(ctx context.Context, f ListFilter) ([]Appointment, error) {
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
	`
	args := []any{}
	if f.Date != nil {
		query += ` WHERE preferred_date = $1`
		args = append(args, *f.Date)
	}
	query += fmt.Sprintf(` ORDER BY preferred_date, preferred_time LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storagef("list appointments", err)
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, storagef("list appointments", err)
	}

	return result, nil
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, string(to), string(from))

	return scanAppointment(row)
}

func (r *PgRepository) UpdateSchedule(ctx context.Context, id uuid.UUID, date time.Time, timeLabel string) (*Appointment, error) {
	// Release of the old slot and reserve of the new one are a single
	// statement; the unique index either lets the whole row move or
	// rejects it untouched.
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET preferred_date = $2,
		    preferred_time = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('pending', 'confirmed')
		RETURNING `+appointmentColumns+`
	`, id, date, timeLabel)

	appt, err := scanAppointment(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSlotTaken
		}
		return nil, err
	}
	return appt, nil
}

func (r *PgRepository) BookedTimes(ctx context.Context, date time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT preferred_time
		FROM appointments
		WHERE preferred_date = $1
		  AND status <> 'cancelled'
		ORDER BY preferred_time
	`, date)
	if err != nil {
		return nil, storagef("booked times", err)
	}
	defer rows.Close()

	var times []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, storagef("booked times", err)
		}
		times = append(times, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storagef("booked times", err)
	}

	return times, nil
}

func (r *PgRepository) MonthlyCounts(ctx context.Context, firstOfMonth time.Time) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT preferred_date, count(*)
		FROM appointments
		WHERE preferred_date >= $1
		  AND preferred_date < $2
		  AND status <> 'cancelled'
		GROUP BY preferred_date
	`, firstOfMonth, firstOfMonth.AddDate(0, 1, 0))
	if err != nil {
		return nil, storagef("monthly counts", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var d time.Time
		var n int
		if err := rows.Scan(&d, &n); err != nil {
			return nil, storagef("monthly counts", err)
		}
		counts[d.Format("2006-01-02")] = n
	}
	if err := rows.Err(); err != nil {
		return nil, storagef("monthly counts", err)
	}

	return counts, nil
}

func (r *PgRepository) FindPastConfirmed(ctx context.Context, before time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'confirmed'
		  AND preferred_date < $1
	`, before)
	if err != nil {
		return nil, storagef("find past confirmed", err)
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, storagef("find past confirmed", err)
	}

	return result, nil
}
