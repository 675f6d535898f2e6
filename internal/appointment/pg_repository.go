package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hackgods/practicum-scheduling/internal/db"
)

const appointmentColumns = `id, patient_id, clinician_id, supervisor_id, starts_at, duration_mins,
		       modality, location, status, notes, cancellation_reason, version, created_at, updated_at`

const exclusionViolation = "23P01"

type PgRepository struct {
	pool db.Pool
}

func NewPgRepository(pool db.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// queryer is satisfied by both the pool and a transaction.
type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var modality, status string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.ClinicianID,
		&a.SupervisorID,
		&a.StartsAt,
		&a.DurationMins,
		&modality,
		&a.Location,
		&status,
		&a.Notes,
		&a.CancellationReason,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Modality = Modality(modality)
	a.Status = Status(status)
	return &a, nil
}

func (r *PgRepository) Create(ctx context.Context, a *Appointment) (*Appointment, error) {
	var created *Appointment

	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockClinician(ctx, tx, a.ClinicianID); err != nil {
			return err
		}

		existing, err := findOverlap(ctx, tx, a.ClinicianID, a.StartsAt, a.EndsAt(), nil)
		if err != nil {
			return err
		}
		if existing != nil {
			slot := existing.Slot()
			return &ConflictError{Slot: &slot}
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO appointments (id, patient_id, clinician_id, supervisor_id, starts_at, duration_mins,
			                          modality, location, status, notes, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'scheduled', $9, 1, now(), now())
			RETURNING `+appointmentColumns,
			uuid.New(), a.PatientID, a.ClinicianID, a.SupervisorID, a.StartsAt, a.DurationMins,
			string(a.Modality), a.Location, a.Notes)

		created, err = scanAppointment(row)
		if err != nil {
			return fmt.Errorf("insert appointment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, r.mapConflict(ctx, err, a.ClinicianID, a.StartsAt, a.EndsAt(), nil)
	}

	return created, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)

	a, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Resource: "appointment", ID: id}
		}
		return nil, err
	}
	return a, nil
}

func (r *PgRepository) FindOverlap(ctx context.Context, clinicianID uuid.UUID, start, end time.Time, exclude *uuid.UUID) (*Appointment, error) {
	return findOverlap(ctx, r.pool, clinicianID, start, end, exclude)
}

func findOverlap(ctx context.Context, q queryer, clinicianID uuid.UUID, start, end time.Time, exclude *uuid.UUID) (*Appointment, error) {
	row := q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE clinician_id = $1
		  AND status <> 'cancelled'
		  AND starts_at < $3
		  AND starts_at + make_interval(mins => duration_mins) > $2
		  AND ($4::uuid IS NULL OR id <> $4)
		ORDER BY starts_at
		LIMIT 1
	`, clinicianID, start, end, exclude)

	a, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find overlap: %w", err)
	}
	return a, nil
}

// lockClinician serializes booking writes for one clinician until the
// transaction ends.
func lockClinician(ctx context.Context, tx pgx.Tx, clinicianID uuid.UUID) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, clinicianID.String()); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	return nil
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, reason *string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    cancellation_reason = $4,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, string(to), string(from), reason)

	a, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStaleWrite
		}
		return nil, fmt.Errorf("update status: %w", err)
	}
	return a, nil
}

func (r *PgRepository) Reschedule(ctx context.Context, a *Appointment, startsAt time.Time) (*Appointment, error) {
	end := startsAt.Add(time.Duration(a.DurationMins) * time.Minute)
	var updated *Appointment

	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockClinician(ctx, tx, a.ClinicianID); err != nil {
			return err
		}

		existing, err := findOverlap(ctx, tx, a.ClinicianID, startsAt, end, &a.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			slot := existing.Slot()
			return &ConflictError{Slot: &slot}
		}

		row := tx.QueryRow(ctx, `
			UPDATE appointments
			SET starts_at = $2,
			    version = version + 1,
			    updated_at = now()
			WHERE id = $1
			  AND version = $3
			  AND status IN ('scheduled', 'confirmed')
			RETURNING `+appointmentColumns,
			a.ID, startsAt, a.Version)

		updated, err = scanAppointment(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrStaleWrite
			}
			return fmt.Errorf("reschedule appointment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, r.mapConflict(ctx, err, a.ClinicianID, startsAt, end, &a.ID)
	}

	return updated, nil
}

// mapConflict turns an exclusion-constraint violation into a ConflictError,
// looking up the winning appointment when it is visible.
func (r *PgRepository) mapConflict(ctx context.Context, err error, clinicianID uuid.UUID, start, end time.Time, exclude *uuid.UUID) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != exclusionViolation {
		return err
	}

	existing, findErr := r.FindOverlap(ctx, clinicianID, start, end, exclude)
	if findErr != nil || existing == nil {
		return &ConflictError{}
	}
	slot := existing.Slot()
	return &ConflictError{Slot: &slot}
}

func (r *PgRepository) List(ctx context.Context, f Filter) ([]Appointment, error) {
	query, args := buildListQuery(f)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func buildListQuery(f Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Day != nil {
		add("starts_at >= $%d", *f.Day)
		add("starts_at < $%d", f.Day.AddDate(0, 0, 1))
	}
	if f.From != nil {
		add("starts_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("starts_at < $%d", *f.To)
	}
	if f.ClinicianID != nil {
		add("clinician_id = $%d", *f.ClinicianID)
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		add("status = ANY($%d)", statuses)
	}

	var b strings.Builder
	b.WriteString("SELECT " + appointmentColumns + " FROM appointments")
	if len(conds) > 0 {
		b.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY starts_at, id")

	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}

	return b.String(), args
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointment_events (event_type, appointment_id, actor_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, ev.EventType, ev.AppointmentID, ev.ActorID, ev.Payload, ev.CreatedAt)
	return err
}
