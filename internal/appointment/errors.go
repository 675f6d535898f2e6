package appointment

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hackgods/practicum-scheduling/internal/authz"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("appointment conflict")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrForbidden         = authz.ErrForbidden

	// ErrStaleWrite is returned by the repository when a compare-and-swap
	// update matched no row.
	ErrStaleWrite = errors.New("appointment changed concurrently")
)

// ValidationError lists every input problem found in one request.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Fields, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(fields ...string) *ValidationError {
	return &ValidationError{Fields: fields}
}

type NotFoundError struct {
	Resource string
	ID       uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConflictError reports a slot that is already taken. Slot is nil when the
// clinician's calendar was busy and the caller should retry.
type ConflictError struct {
	Slot *Slot
}

func (e *ConflictError) Error() string {
	if e.Slot == nil {
		return "clinician schedule is being updated, please retry"
	}
	return fmt.Sprintf("clinician already booked on %s at %s for %d minutes",
		e.Slot.Date, e.Slot.Time, e.Slot.DurationMins)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	if e.From == e.To {
		return fmt.Sprintf("appointment is already %s", e.From)
	}
	return fmt.Sprintf("cannot move appointment from %s to %s", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// AuthorizationError hides who the appointment belongs to. The underlying
// reason is kept for logs only.
type AuthorizationError struct {
	reason error
}

func (e *AuthorizationError) Error() string {
	return "not allowed to act on this appointment"
}

func (e *AuthorizationError) Is(target error) bool { return target == ErrForbidden }

func (e *AuthorizationError) Reason() error { return e.reason }
