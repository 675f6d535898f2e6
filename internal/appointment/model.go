package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/practicum-scheduling/internal/authz"
)

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

// State transitions:
//
//	scheduled → confirmed → completed
//	scheduled → completed
//	scheduled → cancelled
//	confirmed → cancelled
//
// completed and cancelled are terminal.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusScheduled: {StatusConfirmed, StatusCompleted, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
	StatusCompleted: {},
	StatusCancelled: {},
}

func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether to is reachable from from in one step. A
// status is never reachable from itself.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Modality string

const (
	ModalityInPerson Modality = "in_person"
	ModalityVirtual  Modality = "virtual"
)

func (m Modality) IsValid() bool {
	switch m {
	case ModalityInPerson, ModalityVirtual:
		return true
	}
	return false
}

// Appointment is one session between a patient and a clinician.
// StartsAt holds the clinic's wall-clock time with a UTC location.
type Appointment struct {
	ID                 uuid.UUID
	PatientID          uuid.UUID
	ClinicianID        uuid.UUID
	SupervisorID       *uuid.UUID
	StartsAt           time.Time
	DurationMins       int
	Modality           Modality
	Location           string
	Status             Status
	Notes              string
	CancellationReason *string
	Version            int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (a *Appointment) EndsAt() time.Time {
	return a.StartsAt.Add(time.Duration(a.DurationMins) * time.Minute)
}

func (a *Appointment) Date() string {
	return a.StartsAt.Format(DateLayout)
}

func (a *Appointment) Clock() string {
	return a.StartsAt.Format(ClockLayout)
}

// HoldsSlot reports whether the appointment still occupies clinician time.
func (a *Appointment) HoldsSlot() bool {
	return a.Status != StatusCancelled
}

// Overlaps reports whether [start, end) intersects the appointment's window.
func (a *Appointment) Overlaps(start, end time.Time) bool {
	return start.Before(a.EndsAt()) && a.StartsAt.Before(end)
}

func (a *Appointment) Participants() authz.Participants {
	return authz.Participants{
		PatientID:    a.PatientID,
		ClinicianID:  a.ClinicianID,
		SupervisorID: a.SupervisorID,
	}
}

func (a *Appointment) Slot() Slot {
	return Slot{
		AppointmentID: a.ID,
		ClinicianID:   a.ClinicianID,
		Date:          a.Date(),
		Time:          a.Clock(),
		DurationMins:  a.DurationMins,
	}
}

// Slot is the public description of a booked window, safe to show to any
// caller that hit a conflict.
type Slot struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	ClinicianID   uuid.UUID `json:"clinician_id"`
	Date          string    `json:"date"`
	Time          string    `json:"time"`
	DurationMins  int       `json:"duration_mins"`
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	ActorID       *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

type CreateCommand struct {
	PatientID    uuid.UUID
	ClinicianID  uuid.UUID
	Date         string
	Time         string
	DurationMins int
	Modality     Modality
	Location     string
	Notes        string
	Actor        authz.Actor
}

type TransitionCommand struct {
	Target Status
	Reason string
	Actor  authz.Actor
}

type RescheduleCommand struct {
	Date  string
	Time  string
	Actor authz.Actor
}

// UpdateCommand carries the PUT body: a move, a state change, or both.
// Both parts act for the same actor.
type UpdateCommand struct {
	Reschedule *RescheduleCommand
	Transition *TransitionCommand
}

// Filter selects appointments for the read views. Zero fields do not
// filter. Limit 0 means no limit at the repository level.
type Filter struct {
	Day         *time.Time
	From        *time.Time
	To          *time.Time
	ClinicianID *uuid.UUID
	PatientID   *uuid.UUID
	Statuses    []Status
	Limit       int
	Offset      int
}

// Policy carries the clinic scheduling rules.
type Policy struct {
	OpensAtMins               int
	ClosesAtMins              int
	DefaultDurationMins       int
	MaxDurationMins           int
	CancellationNotice        time.Duration
	EnforceCancellationNotice bool
	Location                  *time.Location
}

func DefaultPolicy() Policy {
	return Policy{
		OpensAtMins:         9 * 60,
		ClosesAtMins:        20 * 60,
		DefaultDurationMins: 50,
		MaxDurationMins:     480,
		CancellationNotice:  24 * time.Hour,
		Location:            time.UTC,
	}
}

// WallClock converts an instant into the clinic's wall-clock time, expressed
// with a UTC location so it compares directly with StartsAt.
func (p Policy) WallClock(t time.Time) time.Time {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), l.Hour(), l.Minute(), l.Second(), 0, time.UTC)
}
