package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// Create inserts a scheduled appointment. It re-checks the clinician's
	// calendar in the same transaction and returns *ConflictError on overlap.
	Create(ctx context.Context, a *Appointment) (*Appointment, error)

	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// FindOverlap returns the first non-cancelled appointment of the
	// clinician intersecting [start, end), or nil when the window is free.
	FindOverlap(ctx context.Context, clinicianID uuid.UUID, start, end time.Time, exclude *uuid.UUID) (*Appointment, error)

	// UpdateStatus moves id from one status to another. ErrStaleWrite means
	// the stored status was no longer from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, reason *string) (*Appointment, error)

	// Reschedule moves a to startsAt if its version is unchanged and it is
	// still open. ErrStaleWrite means either guard failed.
	Reschedule(ctx context.Context, a *Appointment, startsAt time.Time) (*Appointment, error)

	List(ctx context.Context, f Filter) ([]Appointment, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
