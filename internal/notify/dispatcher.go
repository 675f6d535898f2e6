package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/practicum-scheduling/internal/appointment"
	"github.com/hackgods/practicum-scheduling/internal/directory"
	"github.com/hackgods/practicum-scheduling/internal/metrics"
)

var (
	ErrQueueFull = errors.New("notification queue is full")
	ErrClosed    = errors.New("dispatcher is shut down")
)

// NotificationError records a message that could not be delivered. It is
// logged and counted, never returned to the caller of a lifecycle
// operation.
type NotificationError struct {
	Template  string
	Recipient string
	Err       error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notify %s to %s: %v", e.Template, e.Recipient, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

// People is the part of the directory the dispatcher reads.
type People interface {
	ResolvePatient(ctx context.Context, id uuid.UUID) (*directory.Patient, error)
	ResolveClinician(ctx context.Context, id uuid.UUID) (*directory.Clinician, error)
}

type DischargeNotice struct {
	PatientID       uuid.UUID
	ClinicianID     uuid.UUID
	DischargeDate   string
	Kind            string
	Recommendations string
	Attachments     []Attachment
}

type ObservationNotice struct {
	InternID     uuid.UUID
	SupervisorID uuid.UUID
	Date         string
	Score        int
	Aspects      []ObservationAspect
}

type ObservationAspect struct {
	Name    string `json:"name"`
	Score   int    `json:"score"`
	Comment string `json:"comment,omitempty"`
}

type Options struct {
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
	NoticeHours int
	Metrics     *metrics.Collector
}

type job struct {
	kind string
	run  func(ctx context.Context)
}

// Dispatcher turns lifecycle events into emails on a pool of workers.
// Enqueueing never blocks; when the queue is full the job is dropped.
type Dispatcher struct {
	sender    Sender
	people    People
	templates *Templates
	log       *zap.Logger
	metrics   *metrics.Collector
	opts      Options

	jobs   chan job
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(sender Sender, people People, log *zap.Logger, opts Options) (*Dispatcher, error) {
	if sender == nil {
		sender = NewNoopSender(log)
	}
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1000
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	if opts.NoticeHours <= 0 {
		opts.NoticeHours = 24
	}

	templates, err := NewTemplates()
	if err != nil {
		return nil, err
	}

	d := &Dispatcher{
		sender:    sender,
		people:    people,
		templates: templates,
		log:       log.Named("dispatcher"),
		metrics:   opts.Metrics,
		opts:      opts,
		jobs:      make(chan job, opts.QueueSize),
	}

	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d, nil
}

// Publish implements appointment.Publisher.
func (d *Dispatcher) Publish(ctx context.Context, ev appointment.Event) {
	if err := d.Enqueue(ctx, ev); err != nil {
		d.log.Warn("dropping lifecycle event",
			zap.String("event", string(ev.Type)),
			zap.String("appointment_id", ev.Appointment.ID.String()),
			zap.Error(err),
		)
	}
}

// Enqueue queues ev and reports ErrQueueFull or ErrClosed when it could
// not be accepted.
func (d *Dispatcher) Enqueue(_ context.Context, ev appointment.Event) error {
	return d.enqueue(job{
		kind: string(ev.Type),
		run:  func(ctx context.Context) { d.handleEvent(ctx, ev) },
	})
}

// NotifyDischarge queues the discharge notice for the patient.
func (d *Dispatcher) NotifyDischarge(_ context.Context, n DischargeNotice) error {
	var fields []string
	if n.PatientID == uuid.Nil {
		fields = append(fields, "patient_id is required")
	}
	if n.ClinicianID == uuid.Nil {
		fields = append(fields, "clinician_id is required")
	}
	if _, err := time.Parse(appointment.DateLayout, n.DischargeDate); err != nil {
		fields = append(fields, "discharge_date must be YYYY-MM-DD")
	}
	if strings.TrimSpace(n.Kind) == "" {
		fields = append(fields, "kind is required")
	}
	if len(fields) > 0 {
		return &appointment.ValidationError{Fields: fields}
	}

	return d.enqueue(job{
		kind: TemplateDischarge,
		run:  func(ctx context.Context) { d.sendDischarge(ctx, n) },
	})
}

// NotifyObservation queues the supervision observation notice for the
// intern.
func (d *Dispatcher) NotifyObservation(_ context.Context, n ObservationNotice) error {
	var fields []string
	if n.InternID == uuid.Nil {
		fields = append(fields, "intern_id is required")
	}
	if n.SupervisorID == uuid.Nil {
		fields = append(fields, "supervisor_id is required")
	}
	if _, err := time.Parse(appointment.DateLayout, n.Date); err != nil {
		fields = append(fields, "date must be YYYY-MM-DD")
	}
	if n.Score < 0 || n.Score > 10 {
		fields = append(fields, "score must be between 0 and 10")
	}
	for _, a := range n.Aspects {
		if strings.TrimSpace(a.Name) == "" || a.Score < 0 || a.Score > 10 {
			fields = append(fields, "aspects need a name and a score between 0 and 10")
			break
		}
	}
	if len(fields) > 0 {
		return &appointment.ValidationError{Fields: fields}
	}

	return d.enqueue(job{
		kind: TemplateObservation,
		run:  func(ctx context.Context) { d.sendObservation(ctx, n) },
	})
}

func (d *Dispatcher) enqueue(j job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.metrics.NotificationDropped()
		return ErrClosed
	}

	select {
	case d.jobs <- j:
		return nil
	default:
		d.metrics.NotificationDropped()
		return ErrQueueFull
	}
}

// Shutdown stops accepting work and waits for queued jobs to finish or for
// ctx to expire.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		d.log.Warn("dispatcher shutdown timed out; queued notifications may be lost")
		return ctx.Err()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.jobs {
		d.runJob(j)
	}
}

func (d *Dispatcher) runJob(j job) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("notification job panicked", zap.String("kind", j.kind), zap.Any("panic", r))
		}
	}()
	j.run(context.Background())
}

type recipient struct {
	Name  string
	Email string
}

func (d *Dispatcher) handleEvent(ctx context.Context, ev appointment.Event) {
	a := ev.Appointment

	switch ev.Type {
	case appointment.EventCompleted:
		d.metrics.Notification("none", "skipped")
		return

	case appointment.EventReminderDue:
		patient, err := d.people.ResolvePatient(ctx, a.PatientID)
		if err != nil {
			d.fail(TemplateReminder, a.PatientID.String(), err)
			return
		}
		clinician := d.clinicianName(ctx, a.ClinicianID)
		view := d.appointmentView(a, clinician)
		view.RecipientName = patient.Name
		d.deliver(ctx, TemplateReminder, recipient{Name: patient.Name, Email: patient.Email},
			"Recordatorio de Cita - "+a.Date(), "", view)

	case appointment.EventCreated, appointment.EventRescheduled, appointment.EventCancelled:
		recipients, clinician := d.participants(ctx, a)
		title, intro, subject := genericCopy(ev.Type, a)

		for _, r := range recipients {
			view := d.appointmentView(a, clinician)
			view.RecipientName = r.Name
			view.Intro = intro
			if ev.PreviousStartsAt != nil {
				view.PreviousDate = ev.PreviousStartsAt.Format(appointment.DateLayout)
				view.PreviousTime = ev.PreviousStartsAt.Format(appointment.ClockLayout)
			}
			if ev.Type == appointment.EventCancelled && a.CancellationReason != nil {
				view.Reason = *a.CancellationReason
			}
			d.deliver(ctx, TemplateGeneric, r, subject, title, view)
		}

	default:
		d.log.Warn("unknown lifecycle event", zap.String("event", string(ev.Type)))
	}
}

func genericCopy(typ appointment.EventType, a appointment.Appointment) (title, intro, subject string) {
	switch typ {
	case appointment.EventRescheduled:
		return "Cita Reprogramada", "Su cita ha sido reprogramada.", "Cita reprogramada - " + a.Date()
	case appointment.EventCancelled:
		return "Cita Cancelada", "La siguiente cita ha sido cancelada.", "Cita cancelada - " + a.Date()
	default:
		return "Nueva Cita Programada", "Se ha programado una cita de terapia psicológica.", "Nueva cita - " + a.Date()
	}
}

// participants returns the patient, clinician and supervisor that have an
// email address, without duplicates.
func (d *Dispatcher) participants(ctx context.Context, a appointment.Appointment) ([]recipient, string) {
	var (
		out           []recipient
		seen          = map[string]bool{}
		clinicianName string
	)
	add := func(name, email string) {
		key := strings.ToLower(strings.TrimSpace(email))
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, recipient{Name: name, Email: strings.TrimSpace(email)})
	}

	if p, err := d.people.ResolvePatient(ctx, a.PatientID); err != nil {
		d.fail(TemplateGeneric, "patient "+a.PatientID.String(), err)
	} else {
		add(p.Name, p.Email)
	}

	if c, err := d.people.ResolveClinician(ctx, a.ClinicianID); err != nil {
		d.fail(TemplateGeneric, "clinician "+a.ClinicianID.String(), err)
	} else {
		clinicianName = c.Name
		add(c.Name, c.Email)
	}

	if a.SupervisorID != nil {
		if s, err := d.people.ResolveClinician(ctx, *a.SupervisorID); err != nil {
			d.fail(TemplateGeneric, "supervisor "+a.SupervisorID.String(), err)
		} else {
			add(s.Name, s.Email)
		}
	}

	return out, clinicianName
}

func (d *Dispatcher) clinicianName(ctx context.Context, id uuid.UUID) string {
	c, err := d.people.ResolveClinician(ctx, id)
	if err != nil {
		d.log.Warn("resolve clinician for notification", zap.String("clinician_id", id.String()), zap.Error(err))
		return ""
	}
	return c.Name
}

func (d *Dispatcher) appointmentView(a appointment.Appointment, clinicianName string) appointmentView {
	return appointmentView{
		Date:          a.Date(),
		Time:          a.Clock(),
		Virtual:       a.Modality == appointment.ModalityVirtual,
		Location:      a.Location,
		ClinicianName: clinicianName,
		NoticeHours:   d.opts.NoticeHours,
	}
}

func (d *Dispatcher) sendDischarge(ctx context.Context, n DischargeNotice) {
	patient, err := d.people.ResolvePatient(ctx, n.PatientID)
	if err != nil {
		d.fail(TemplateDischarge, n.PatientID.String(), err)
		return
	}
	view := dischargeView{
		PatientName:     patient.Name,
		DischargeDate:   n.DischargeDate,
		KindLabel:       dischargeLabel(n.Kind),
		ClinicianName:   d.clinicianName(ctx, n.ClinicianID),
		Recommendations: n.Recommendations,
	}
	d.deliver(ctx, TemplateDischarge, recipient{Name: patient.Name, Email: patient.Email},
		"Proceso de Alta - "+patient.Name, "", view, n.Attachments...)
}

func (d *Dispatcher) sendObservation(ctx context.Context, n ObservationNotice) {
	intern, err := d.people.ResolveClinician(ctx, n.InternID)
	if err != nil {
		d.fail(TemplateObservation, n.InternID.String(), err)
		return
	}
	view := observationView{
		InternName:     intern.Name,
		SupervisorName: d.clinicianName(ctx, n.SupervisorID),
		Date:           n.Date,
		Score:          n.Score,
		Aspects:        n.Aspects,
	}
	d.deliver(ctx, TemplateObservation, recipient{Name: intern.Name, Email: intern.Email},
		"Nueva Observación - "+n.Date, "", view)
}

func (d *Dispatcher) deliver(ctx context.Context, tmpl string, r recipient, subject, title string, view any, attachments ...Attachment) {
	if strings.TrimSpace(r.Email) == "" {
		d.metrics.Notification(tmpl, "skipped")
		d.log.Debug("recipient has no email", zap.String("template", tmpl), zap.String("name", r.Name))
		return
	}

	html, err := d.templates.Render(tmpl, title, view)
	if err != nil {
		d.fail(tmpl, r.Email, err)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
	defer cancel()

	if err := d.sender.Send(sendCtx, Email{To: r.Email, ToName: r.Name, Subject: subject, HTML: html, Attachments: attachments}); err != nil {
		d.fail(tmpl, r.Email, err)
		return
	}

	d.metrics.Notification(tmpl, "sent")
	d.log.Info("notification sent", zap.String("template", tmpl), zap.String("to", r.Email))
}

func (d *Dispatcher) fail(tmpl, recipient string, err error) {
	nerr := &NotificationError{Template: tmpl, Recipient: recipient, Err: err}
	d.metrics.Notification(tmpl, "failed")
	d.log.Error("notification failed", zap.Error(nerr))
}

var _ appointment.Publisher = (*Dispatcher)(nil)
