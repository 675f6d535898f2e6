// Package authz decides whether an acting user may change an appointment.
package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hackgods/practicum-scheduling/internal/directory"
)

var ErrForbidden = errors.New("forbidden")

// Actor is the authenticated user performing an operation.
type Actor struct {
	ID   uuid.UUID
	Role directory.Role
}

// Participants identifies who an appointment belongs to.
type Participants struct {
	PatientID    uuid.UUID
	ClinicianID  uuid.UUID
	SupervisorID *uuid.UUID
}

// Relation describes how an actor is tied to an appointment.
type Relation int

const (
	RelationNone Relation = iota
	RelationCoordinator
	RelationClinician
	RelationSupervisor
)

func (r Relation) String() string {
	switch r {
	case RelationCoordinator:
		return "coordinator"
	case RelationClinician:
		return "clinician"
	case RelationSupervisor:
		return "supervisor"
	default:
		return "none"
	}
}

// AssignmentSource is the slice of the directory the resolver reads.
type AssignmentSource interface {
	AssignmentsFor(ctx context.Context, patientID uuid.UUID) ([]directory.Assignment, error)
}

type Resolver struct {
	assignments AssignmentSource
}

func NewResolver(assignments AssignmentSource) *Resolver {
	return &Resolver{assignments: assignments}
}

// Relation reports the strongest tie between actor and appointment. It has
// no side effects.
func (r *Resolver) Relation(ctx context.Context, actor Actor, p Participants) (Relation, error) {
	switch actor.Role {
	case directory.RoleCoordinator:
		return RelationCoordinator, nil

	case directory.RolePsychologist:
		if actor.ID == p.ClinicianID {
			return RelationClinician, nil
		}
		if p.SupervisorID != nil && *p.SupervisorID == actor.ID {
			return RelationSupervisor, nil
		}
		supervises, err := r.supervisesClinician(ctx, actor.ID, p)
		if err != nil {
			return RelationNone, err
		}
		if supervises {
			return RelationSupervisor, nil
		}
		return RelationNone, nil

	case directory.RoleIntern:
		if actor.ID == p.ClinicianID {
			return RelationClinician, nil
		}
		return RelationNone, nil

	default:
		return RelationNone, fmt.Errorf("unhandled role %q", actor.Role)
	}
}

// Authorize returns ErrForbidden (wrapped) unless the actor is the assigned
// clinician, their supervising psychologist or a coordinator.
func (r *Resolver) Authorize(ctx context.Context, actor Actor, p Participants) error {
	rel, err := r.Relation(ctx, actor, p)
	if err != nil {
		return err
	}
	if rel == RelationNone {
		return fmt.Errorf("%w: %s %s may not act for these participants", ErrForbidden, actor.Role, actor.ID)
	}
	return nil
}

func (r *Resolver) supervisesClinician(ctx context.Context, psychologistID uuid.UUID, p Participants) (bool, error) {
	if r.assignments == nil {
		return false, nil
	}
	assignments, err := r.assignments.AssignmentsFor(ctx, p.PatientID)
	if err != nil {
		return false, fmt.Errorf("load assignments: %w", err)
	}
	for _, a := range assignments {
		if !a.Active || a.ClinicianID != p.ClinicianID || a.SupervisorID == nil {
			continue
		}
		if *a.SupervisorID == psychologistID {
			return true, nil
		}
	}
	return false, nil
}
