package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// History rows written to appointment_events.
const (
	EventAppointmentCreated     = "APPOINTMENT_CREATED"
	EventAppointmentConfirmed   = "APPOINTMENT_CONFIRMED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted   = "APPOINTMENT_COMPLETED"
)

// EventType names a lifecycle event handed to the notification dispatcher.
type EventType string

const (
	EventCreated     EventType = "created"
	EventRescheduled EventType = "rescheduled"
	EventCancelled   EventType = "cancelled"
	EventCompleted   EventType = "completed"
	EventReminderDue EventType = "reminder_due"
)

type Event struct {
	Type             EventType
	Appointment      Appointment
	PreviousStartsAt *time.Time
	ActorID          *uuid.UUID
	OccurredAt       time.Time
}

// Publisher receives lifecycle events after they are committed. Publish
// must not block the caller.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) {}

// MultiPublisher fans an event out to every publisher in order.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, ev Event) {
	for _, p := range m {
		p.Publish(ctx, ev)
	}
}
