package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/practicum-scheduling/internal/db"
)

type PgDirectory struct {
	pool db.Pool
}

func NewPgDirectory(pool db.Pool) *PgDirectory {
	return &PgDirectory{pool: pool}
}

func (d *PgDirectory) ResolvePatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	var email, phone *string

	err := d.pool.QueryRow(ctx, `
		SELECT id, name, email, phone, active
		FROM patients
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &email, &phone, &p.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	p.Email = deref(email)
	p.Phone = deref(phone)
	return &p, nil
}

func (d *PgDirectory) ResolveClinician(ctx context.Context, id uuid.UUID) (*Clinician, error) {
	var c Clinician
	var email, phone *string
	var role string

	err := d.pool.QueryRow(ctx, `
		SELECT id, name, email, phone, role, active
		FROM clinicians
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &email, &phone, &role, &c.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClinicianNotFound
		}
		return nil, fmt.Errorf("load clinician: %w", err)
	}

	c.Role, err = ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("clinician %s: %w", id, err)
	}
	c.Email = deref(email)
	c.Phone = deref(phone)
	return &c, nil
}

func (d *PgDirectory) AssignmentsFor(ctx context.Context, patientID uuid.UUID) ([]Assignment, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT patient_id, clinician_id, supervisor_id, active
		FROM assignments
		WHERE patient_id = $1
		  AND active
		ORDER BY created_at
	`, patientID)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	defer rows.Close()

	var result []Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.PatientID, &a.ClinicianID, &a.SupervisorID, &a.Active); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		result = append(result, a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
