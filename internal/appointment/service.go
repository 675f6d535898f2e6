package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hackgods/practicum-scheduling/internal/authz"
	"github.com/hackgods/practicum-scheduling/internal/directory"
	"github.com/hackgods/practicum-scheduling/internal/metrics"
	redisclient "github.com/hackgods/practicum-scheduling/internal/redis"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200

	maxWriteAttempts = 3
)

// Authorizer reports how an actor relates to an appointment.
type Authorizer interface {
	Relation(ctx context.Context, actor authz.Actor, p authz.Participants) (authz.Relation, error)
}

type Service struct {
	repo    Repository
	people  directory.Directory
	authz   Authorizer
	locker  redisclient.Locker
	events  Publisher
	policy  Policy
	log     *zap.Logger
	metrics *metrics.Collector
	tracer  trace.Tracer
	now     func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(
	repo Repository,
	people directory.Directory,
	resolver Authorizer,
	locker redisclient.Locker,
	events Publisher,
	policy Policy,
	log *zap.Logger,
	opts ...Option,
) *Service {
	if events == nil {
		events = nopPublisher{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		repo:   repo,
		people: people,
		authz:  resolver,
		locker: locker,
		events: events,
		policy: policy,
		log:    log.Named("appointment"),
		tracer: otel.Tracer("github.com/hackgods/practicum-scheduling/internal/appointment"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create books a new scheduled appointment. The clinician's calendar is
// checked under a per-clinician-day lock so two overlapping requests cannot
// both succeed.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (_ *Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "appointment.Create", trace.WithAttributes(
		attribute.String("clinician.id", cmd.ClinicianID.String()),
		attribute.String("appointment.date", cmd.Date),
	))
	defer func() { s.finish(span, "create", err) }()

	draft, err := s.draft(cmd)
	if err != nil {
		return nil, err
	}

	if err := s.resolveParticipants(ctx, draft); err != nil {
		return nil, err
	}

	if _, err := s.authorize(ctx, cmd.Actor, draft); err != nil {
		return nil, err
	}

	var created *Appointment

	err = s.locker.WithClinicianLock(ctx, draft.ClinicianID, draft.Date(), func(lockCtx context.Context) error {
		existing, err := s.repo.FindOverlap(lockCtx, draft.ClinicianID, draft.StartsAt, draft.EndsAt(), nil)
		if err != nil {
			return fmt.Errorf("check overlap: %w", err)
		}
		if existing != nil {
			slot := existing.Slot()
			return &ConflictError{Slot: &slot}
		}

		appt, err := s.repo.Create(lockCtx, draft)
		if err != nil {
			if errors.Is(err, ErrConflict) {
				return err
			}
			return fmt.Errorf("create appointment: %w", err)
		}
		created = appt
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, &ConflictError{}
		}
		return nil, err
	}

	s.logEvent(ctx, created.ID, cmd.Actor, EventAppointmentCreated, map[string]any{
		"clinician_id":  created.ClinicianID.String(),
		"patient_id":    created.PatientID.String(),
		"starts_at":     created.StartsAt,
		"duration_mins": created.DurationMins,
	})
	s.publish(ctx, EventCreated, created, nil, cmd.Actor)

	s.log.Info("appointment created",
		zap.String("appointment_id", created.ID.String()),
		zap.String("clinician_id", created.ClinicianID.String()),
		zap.String("date", created.Date()),
		zap.String("time", created.Clock()),
	)

	return created, nil
}

// draft validates the request shape and builds the appointment to insert.
func (s *Service) draft(cmd CreateCommand) (*Appointment, error) {
	var fields []string

	if cmd.PatientID == uuid.Nil {
		fields = append(fields, "patient_id is required")
	}
	if cmd.ClinicianID == uuid.Nil {
		fields = append(fields, "clinician_id is required")
	}

	start, slotFields := parseStart(cmd.Date, cmd.Time)
	fields = append(fields, slotFields...)

	duration := cmd.DurationMins
	if duration == 0 {
		duration = s.policy.DefaultDurationMins
	}
	durationOK := duration >= 1 && duration <= s.policy.MaxDurationMins
	if !durationOK {
		fields = append(fields, fmt.Sprintf("duration_mins must be between 1 and %d", s.policy.MaxDurationMins))
	}

	modality := cmd.Modality
	if modality == "" {
		modality = ModalityInPerson
	}
	if !modality.IsValid() {
		fields = append(fields, "modality must be in_person or virtual")
	}
	if modality == ModalityVirtual && strings.TrimSpace(cmd.Location) == "" {
		fields = append(fields, "location is required for virtual appointments")
	}

	if len(slotFields) == 0 && durationOK && !s.policy.withinHours(start, duration) {
		fields = append(fields, s.policy.hoursMessage())
	}

	if len(fields) > 0 {
		return nil, invalid(fields...)
	}

	return &Appointment{
		PatientID:    cmd.PatientID,
		ClinicianID:  cmd.ClinicianID,
		StartsAt:     start,
		DurationMins: duration,
		Modality:     modality,
		Location:     strings.TrimSpace(cmd.Location),
		Status:       StatusScheduled,
		Notes:        cmd.Notes,
	}, nil
}

// resolveParticipants checks the patient and clinician against the
// directory and copies the supervising psychologist from the assignment.
func (s *Service) resolveParticipants(ctx context.Context, a *Appointment) error {
	patient, err := s.people.ResolvePatient(ctx, a.PatientID)
	if err != nil {
		if errors.Is(err, directory.ErrPatientNotFound) {
			return &NotFoundError{Resource: "patient", ID: a.PatientID}
		}
		return fmt.Errorf("resolve patient: %w", err)
	}

	clinician, err := s.people.ResolveClinician(ctx, a.ClinicianID)
	if err != nil {
		if errors.Is(err, directory.ErrClinicianNotFound) {
			return &NotFoundError{Resource: "clinician", ID: a.ClinicianID}
		}
		return fmt.Errorf("resolve clinician: %w", err)
	}

	var fields []string
	if !patient.Active {
		fields = append(fields, "patient is not active")
	}
	if !clinician.Active {
		fields = append(fields, "clinician is not active")
	}
	if clinician.Role != directory.RolePsychologist && clinician.Role != directory.RoleIntern {
		fields = append(fields, "clinician must be a psychologist or an intern")
	}
	if len(fields) > 0 {
		return invalid(fields...)
	}

	assignments, err := s.people.AssignmentsFor(ctx, patient.ID)
	if err != nil {
		return fmt.Errorf("load assignments: %w", err)
	}
	for _, as := range assignments {
		if as.Active && as.ClinicianID == clinician.ID {
			a.SupervisorID = as.SupervisorID
			break
		}
	}

	return nil
}

// Transition moves an appointment to target. The write is a compare-and-swap
// on the status that was read, so a concurrent change is re-evaluated
// against the graph instead of being overwritten.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, cmd TransitionCommand) (_ *Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "appointment.Transition", trace.WithAttributes(
		attribute.String("appointment.id", id.String()),
		attribute.String("appointment.target", string(cmd.Target)),
	))
	defer func() { s.finish(span, "transition", err) }()

	if fields := targetFields(cmd); len(fields) > 0 {
		return nil, invalid(fields...)
	}

	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	rel, err := s.authorize(ctx, cmd.Actor, current)
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		if !CanTransition(current.Status, cmd.Target) {
			return nil, &InvalidTransitionError{From: current.Status, To: cmd.Target}
		}
		if cmd.Target == StatusCancelled {
			if err := s.checkCancellationNotice(current, rel); err != nil {
				return nil, err
			}
		}

		var reason *string
		if cmd.Target == StatusCancelled {
			r := cmd.Reason
			reason = &r
		}

		updated, err := s.repo.UpdateStatus(ctx, id, current.Status, cmd.Target, reason)
		if err == nil {
			s.transitioned(ctx, current.Status, updated, cmd.Actor)
			return updated, nil
		}
		if !errors.Is(err, ErrStaleWrite) {
			return nil, fmt.Errorf("update status: %w", err)
		}

		if current, err = s.repo.GetByID(ctx, id); err != nil {
			return nil, err
		}
		if attempt == maxWriteAttempts {
			return nil, &InvalidTransitionError{From: current.Status, To: cmd.Target}
		}
	}
}

func targetFields(cmd TransitionCommand) []string {
	if !cmd.Target.IsValid() {
		return []string{"state must be one of scheduled, confirmed, completed, cancelled"}
	}
	if cmd.Reason != "" && cmd.Target != StatusCancelled {
		return []string{"reason is only accepted when cancelling"}
	}
	return nil
}

func (s *Service) checkCancellationNotice(a *Appointment, rel authz.Relation) error {
	if !s.policy.EnforceCancellationNotice || rel == authz.RelationCoordinator {
		return nil
	}
	now := s.policy.WallClock(s.now())
	if a.StartsAt.Sub(now) < s.policy.CancellationNotice {
		return invalid(fmt.Sprintf("cancellations require at least %d hours notice", int(s.policy.CancellationNotice.Hours())))
	}
	return nil
}

func (s *Service) transitioned(ctx context.Context, from Status, a *Appointment, actor authz.Actor) {
	payload := map[string]any{"from": string(from), "to": string(a.Status)}

	switch a.Status {
	case StatusConfirmed:
		s.logEvent(ctx, a.ID, actor, EventAppointmentConfirmed, payload)
		s.metrics.LifecycleEvent(string(StatusConfirmed))
	case StatusCancelled:
		if a.CancellationReason != nil {
			payload["reason"] = *a.CancellationReason
		}
		s.logEvent(ctx, a.ID, actor, EventAppointmentCancelled, payload)
		s.publish(ctx, EventCancelled, a, nil, actor)
	case StatusCompleted:
		s.logEvent(ctx, a.ID, actor, EventAppointmentCompleted, payload)
		s.publish(ctx, EventCompleted, a, nil, actor)
	}

	s.log.Info("appointment transitioned",
		zap.String("appointment_id", a.ID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(a.Status)),
	)
}

// Reschedule moves an open appointment to a new date and time. Its status
// is left as is.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, cmd RescheduleCommand) (_ *Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "appointment.Reschedule", trace.WithAttributes(
		attribute.String("appointment.id", id.String()),
		attribute.String("appointment.date", cmd.Date),
	))
	defer func() { s.finish(span, "reschedule", err) }()

	start, fields := parseStart(cmd.Date, cmd.Time)
	if len(fields) > 0 {
		return nil, invalid(fields...)
	}

	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if _, err := s.authorize(ctx, cmd.Actor, current); err != nil {
		return nil, err
	}

	if current.Status.IsTerminal() {
		return nil, &InvalidTransitionError{From: current.Status, To: current.Status}
	}
	if !s.policy.withinHours(start, current.DurationMins) {
		return nil, invalid(s.policy.hoursMessage())
	}
	if start.Equal(current.StartsAt) {
		return current, nil
	}

	var (
		updated  *Appointment
		previous time.Time
	)

	err = s.locker.WithClinicianLock(ctx, current.ClinicianID, start.Format(DateLayout), func(lockCtx context.Context) error {
		end := start.Add(time.Duration(current.DurationMins) * time.Minute)

		for attempt := 1; ; attempt++ {
			existing, err := s.repo.FindOverlap(lockCtx, current.ClinicianID, start, end, &current.ID)
			if err != nil {
				return fmt.Errorf("check overlap: %w", err)
			}
			if existing != nil {
				slot := existing.Slot()
				return &ConflictError{Slot: &slot}
			}

			previous = current.StartsAt
			updated, err = s.repo.Reschedule(lockCtx, current, start)
			if err == nil {
				return nil
			}
			if !errors.Is(err, ErrStaleWrite) {
				if errors.Is(err, ErrConflict) {
					return err
				}
				return fmt.Errorf("reschedule appointment: %w", err)
			}

			if current, err = s.repo.GetByID(lockCtx, id); err != nil {
				return err
			}
			if current.Status.IsTerminal() {
				return &InvalidTransitionError{From: current.Status, To: current.Status}
			}
			if attempt == maxWriteAttempts {
				return &ConflictError{}
			}
		}
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, &ConflictError{}
		}
		return nil, err
	}

	s.logEvent(ctx, updated.ID, cmd.Actor, EventAppointmentRescheduled, map[string]any{
		"previous_starts_at": previous,
		"starts_at":          updated.StartsAt,
	})
	s.publish(ctx, EventRescheduled, updated, &previous, cmd.Actor)

	s.log.Info("appointment rescheduled",
		zap.String("appointment_id", updated.ID.String()),
		zap.Time("previous", previous),
		zap.Time("starts_at", updated.StartsAt),
	)

	return updated, nil
}

// Update applies a PUT: the move first, then the state change. When both
// are requested, every check that needs no write runs against the moved
// appointment before anything is stored, so a state change that would be
// refused never leaves a committed move behind.
func (s *Service) Update(ctx context.Context, id uuid.UUID, cmd UpdateCommand) (*Appointment, error) {
	switch {
	case cmd.Reschedule == nil && cmd.Transition == nil:
		return nil, invalid("state or a new date and time is required")
	case cmd.Transition == nil:
		return s.Reschedule(ctx, id, *cmd.Reschedule)
	case cmd.Reschedule == nil:
		return s.Transition(ctx, id, *cmd.Transition)
	}

	if err := s.precheckUpdate(ctx, id, *cmd.Reschedule, *cmd.Transition); err != nil {
		s.metrics.Rejected("update", rejectionReason(err))
		return nil, err
	}

	if _, err := s.Reschedule(ctx, id, *cmd.Reschedule); err != nil {
		return nil, err
	}
	appt, err := s.Transition(ctx, id, *cmd.Transition)
	if err != nil {
		// Only a concurrent writer can get here after the precheck passed.
		s.log.Warn("state change refused after move",
			zap.String("appointment_id", id.String()),
			zap.String("target", string(cmd.Transition.Target)),
			zap.Error(err),
		)
		return nil, err
	}
	return appt, nil
}

func (s *Service) precheckUpdate(ctx context.Context, id uuid.UUID, move RescheduleCommand, change TransitionCommand) error {
	start, fields := parseStart(move.Date, move.Time)
	fields = append(fields, targetFields(change)...)
	if len(fields) > 0 {
		return invalid(fields...)
	}

	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.authorize(ctx, move.Actor, current); err != nil {
		return err
	}
	rel, err := s.authorize(ctx, change.Actor, current)
	if err != nil {
		return err
	}

	if current.Status.IsTerminal() {
		return &InvalidTransitionError{From: current.Status, To: current.Status}
	}
	if !s.policy.withinHours(start, current.DurationMins) {
		return invalid(s.policy.hoursMessage())
	}
	if !CanTransition(current.Status, change.Target) {
		return &InvalidTransitionError{From: current.Status, To: change.Target}
	}
	if change.Target == StatusCancelled {
		moved := *current
		moved.StartsAt = start
		if err := s.checkCancellationNotice(&moved, rel); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns one page of appointments ordered by start time.
func (s *Service) List(ctx context.Context, f Filter) ([]Appointment, error) {
	var fields []string
	for _, st := range f.Statuses {
		if !st.IsValid() {
			fields = append(fields, fmt.Sprintf("unknown state %q", st))
		}
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		fields = append(fields, "to must not be before from")
	}
	if len(fields) > 0 {
		return nil, invalid(fields...)
	}

	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	items, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return items, nil
}

// DueOn lists every open appointment starting on day.
func (s *Service) DueOn(ctx context.Context, day time.Time) ([]Appointment, error) {
	d := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	items, err := s.repo.List(ctx, Filter{
		Day:      &d,
		Statuses: []Status{StatusScheduled, StatusConfirmed},
	})
	if err != nil {
		return nil, fmt.Errorf("list due appointments: %w", err)
	}
	return items, nil
}

func (s *Service) Policy() Policy {
	return s.policy
}

func (s *Service) authorize(ctx context.Context, actor authz.Actor, a *Appointment) (authz.Relation, error) {
	if _, err := directory.ParseRole(string(actor.Role)); err != nil {
		return authz.RelationNone, &AuthorizationError{reason: err}
	}
	rel, err := s.authz.Relation(ctx, actor, a.Participants())
	if err != nil {
		return authz.RelationNone, fmt.Errorf("resolve relation: %w", err)
	}
	if rel == authz.RelationNone {
		return rel, &AuthorizationError{
			reason: fmt.Errorf("%w: %s %s", authz.ErrForbidden, actor.Role, actor.ID),
		}
	}
	return rel, nil
}

func (s *Service) publish(ctx context.Context, typ EventType, a *Appointment, previous *time.Time, actor authz.Actor) {
	ev := Event{
		Type:             typ,
		Appointment:      *a,
		PreviousStartsAt: previous,
		OccurredAt:       s.now(),
	}
	if actor.ID != uuid.Nil {
		id := actor.ID
		ev.ActorID = &id
	}
	s.events.Publish(ctx, ev)
	s.metrics.LifecycleEvent(string(typ))
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, actor authz.Actor, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	apptID := appointmentID
	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}
	if actor.ID != uuid.Nil {
		actorID := actor.ID
		ev.ActorID = &actorID
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn("insert appointment event",
			zap.String("event", eventType),
			zap.String("appointment_id", appointmentID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) finish(span trace.Span, operation string, err error) {
	defer span.End()
	if err == nil {
		return
	}

	reason := rejectionReason(err)
	s.metrics.Rejected(operation, reason)

	if reason == "internal" {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Error("appointment operation failed", zap.String("operation", operation), zap.Error(err))
		return
	}
	span.SetAttributes(attribute.String("rejection.reason", reason))

	var authErr *AuthorizationError
	if errors.As(err, &authErr) {
		s.log.Warn("appointment access denied", zap.String("operation", operation), zap.Error(authErr.Reason()))
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	default:
		return "internal"
	}
}

func parseStart(date, clock string) (time.Time, []string) {
	var fields []string

	d, err := time.Parse(DateLayout, strings.TrimSpace(date))
	if err != nil {
		fields = append(fields, "date must be YYYY-MM-DD")
	}
	c, err := time.Parse(ClockLayout, strings.TrimSpace(clock))
	if err != nil {
		fields = append(fields, "time must be HH:MM")
	}
	if len(fields) > 0 {
		return time.Time{}, fields
	}

	return time.Date(d.Year(), d.Month(), d.Day(), c.Hour(), c.Minute(), 0, 0, time.UTC), nil
}

func (p Policy) withinHours(start time.Time, durationMins int) bool {
	startMins := start.Hour()*60 + start.Minute()
	return startMins >= p.OpensAtMins && startMins+durationMins <= p.ClosesAtMins
}

func (p Policy) hoursMessage() string {
	return fmt.Sprintf("appointment must fall between %s and %s", formatClock(p.OpensAtMins), formatClock(p.ClosesAtMins))
}

func formatClock(mins int) string {
	return fmt.Sprintf("%02d:%02d", mins/60, mins%60)
}
