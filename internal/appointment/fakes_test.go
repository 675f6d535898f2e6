package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/practicum-scheduling/internal/directory"
)

// memRepo mirrors PgRepository's guarantees in memory: overlap checks and
// compare-and-swap writes happen under one mutex.
type memRepo struct {
	mu     sync.Mutex
	items  map[uuid.UUID]*Appointment
	events []EventLog

	// beforeWrite runs once, outside the mutex, ahead of the next status
	// or schedule write. Tests use it to interleave a competing writer.
	beforeWrite func()
	listErr     error
	eventErr    error
}

func newMemRepo() *memRepo {
	return &memRepo{items: map[uuid.UUID]*Appointment{}}
}

func (r *memRepo) hook() {
	r.mu.Lock()
	h := r.beforeWrite
	r.beforeWrite = nil
	r.mu.Unlock()
	if h != nil {
		h()
	}
}

func (r *memRepo) Create(_ context.Context, a *Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing := r.overlap(a.ClinicianID, a.StartsAt, a.EndsAt(), nil); existing != nil {
		slot := existing.Slot()
		return nil, &ConflictError{Slot: &slot}
	}

	stored := *a
	stored.ID = uuid.New()
	stored.Status = StatusScheduled
	stored.Version = 1
	stored.CreatedAt = time.Now()
	stored.UpdatedAt = stored.CreatedAt
	r.items[stored.ID] = &stored

	out := stored
	return &out, nil
}

func (r *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.items[id]
	if !ok {
		return nil, &NotFoundError{Resource: "appointment", ID: id}
	}
	out := *a
	return &out, nil
}

func (r *memRepo) FindOverlap(_ context.Context, clinicianID uuid.UUID, start, end time.Time, exclude *uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a := r.overlap(clinicianID, start, end, exclude); a != nil {
		out := *a
		return &out, nil
	}
	return nil, nil
}

func (r *memRepo) overlap(clinicianID uuid.UUID, start, end time.Time, exclude *uuid.UUID) *Appointment {
	var found *Appointment
	for _, a := range r.items {
		if a.ClinicianID != clinicianID || !a.HoldsSlot() {
			continue
		}
		if exclude != nil && a.ID == *exclude {
			continue
		}
		if a.Overlaps(start, end) && (found == nil || a.StartsAt.Before(found.StartsAt)) {
			found = a
		}
	}
	return found
}

func (r *memRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status, reason *string) (*Appointment, error) {
	r.hook()

	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.items[id]
	if !ok || a.Status != from {
		return nil, ErrStaleWrite
	}
	a.Status = to
	a.CancellationReason = reason
	a.Version++
	a.UpdatedAt = time.Now()

	out := *a
	return &out, nil
}

func (r *memRepo) Reschedule(_ context.Context, cur *Appointment, startsAt time.Time) (*Appointment, error) {
	r.hook()

	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.items[cur.ID]
	if !ok || a.Version != cur.Version || a.Status.IsTerminal() {
		return nil, ErrStaleWrite
	}
	end := startsAt.Add(time.Duration(a.DurationMins) * time.Minute)
	if existing := r.overlap(a.ClinicianID, startsAt, end, &a.ID); existing != nil {
		slot := existing.Slot()
		return nil, &ConflictError{Slot: &slot}
	}
	a.StartsAt = startsAt
	a.Version++
	a.UpdatedAt = time.Now()

	out := *a
	return &out, nil
}

func (r *memRepo) List(_ context.Context, f Filter) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.listErr != nil {
		return nil, r.listErr
	}

	var out []Appointment
	for _, a := range r.items {
		if f.Day != nil && (a.StartsAt.Before(*f.Day) || !a.StartsAt.Before(f.Day.AddDate(0, 0, 1))) {
			continue
		}
		if f.From != nil && a.StartsAt.Before(*f.From) {
			continue
		}
		if f.To != nil && !a.StartsAt.Before(*f.To) {
			continue
		}
		if f.ClinicianID != nil && a.ClinicianID != *f.ClinicianID {
			continue
		}
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, a.Status) {
			continue
		}
		out = append(out, *a)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].StartsAt.Before(out[j].StartsAt)
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (r *memRepo) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.eventErr != nil {
		return r.eventErr
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *memRepo) setStatus(id uuid.UUID, s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[id].Status = s
	r.items[id].Version++
}

func (r *memRepo) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.EventType)
	}
	return out
}

type fakeDirectory struct {
	patients    map[uuid.UUID]*directory.Patient
	clinicians  map[uuid.UUID]*directory.Clinician
	assignments map[uuid.UUID][]directory.Assignment
}

func (d *fakeDirectory) ResolvePatient(_ context.Context, id uuid.UUID) (*directory.Patient, error) {
	p, ok := d.patients[id]
	if !ok {
		return nil, directory.ErrPatientNotFound
	}
	return p, nil
}

func (d *fakeDirectory) ResolveClinician(_ context.Context, id uuid.UUID) (*directory.Clinician, error) {
	c, ok := d.clinicians[id]
	if !ok {
		return nil, directory.ErrClinicianNotFound
	}
	return c, nil
}

func (d *fakeDirectory) AssignmentsFor(_ context.Context, patientID uuid.UUID) ([]directory.Assignment, error) {
	return d.assignments[patientID], nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) types() []EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]EventType, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

func (p *recordingPublisher) last() Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

// mutexLocker stands in for the Redis lock with one process-wide mutex.
type mutexLocker struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (l *mutexLocker) WithClinicianLock(ctx context.Context, clinicianID uuid.UUID, day string, fn func(ctx context.Context) error) error {
	if l.err != nil {
		return l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, clinicianID.String()+":"+day)
	return fn(ctx)
}
