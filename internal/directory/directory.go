// Package directory reads the people an appointment refers to. Patients,
// clinicians and assignments are owned by the surrounding CRUD application;
// this service only resolves them by identity.
package directory

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound   = errors.New("patient not found")
	ErrClinicianNotFound = errors.New("clinician not found")
)

// Role is the closed set of user roles in the practicum clinic.
type Role string

const (
	RoleCoordinator  Role = "coordinator"
	RolePsychologist Role = "psychologist"
	RoleIntern       Role = "intern"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleCoordinator, RolePsychologist, RoleIntern:
		return Role(s), nil
	}
	return "", errors.New("unknown role " + s)
}

type Patient struct {
	ID     uuid.UUID
	Name   string
	Email  string
	Phone  string
	Active bool
}

type Clinician struct {
	ID     uuid.UUID
	Name   string
	Email  string
	Phone  string
	Role   Role
	Active bool
}

// Assignment pairs a patient with a clinician. When the clinician is an
// intern, SupervisorID names the psychologist responsible for them.
type Assignment struct {
	PatientID    uuid.UUID
	ClinicianID  uuid.UUID
	SupervisorID *uuid.UUID
	Active       bool
}

// Directory is everything the appointment core needs from the people
// tables.
type Directory interface {
	ResolvePatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	ResolveClinician(ctx context.Context, id uuid.UUID) (*Clinician, error)
	AssignmentsFor(ctx context.Context, patientID uuid.UUID) ([]Assignment, error)
}
