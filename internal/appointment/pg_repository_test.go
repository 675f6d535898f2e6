package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var appointmentCols = []string{
	"id", "patient_id", "clinician_id", "supervisor_id", "starts_at", "duration_mins",
	"modality", "location", "status", "notes", "cancellation_reason", "version", "created_at", "updated_at",
}

func sampleAppointment() *Appointment {
	sup := uuid.New()
	return &Appointment{
		ID:           uuid.New(),
		PatientID:    uuid.New(),
		ClinicianID:  uuid.New(),
		SupervisorID: &sup,
		StartsAt:     time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC),
		DurationMins: 50,
		Modality:     ModalityInPerson,
		Location:     "Cubículo 3",
		Status:       StatusScheduled,
		Version:      1,
	}
}

func appointmentRows(list ...*Appointment) *pgxmock.Rows {
	rows := pgxmock.NewRows(appointmentCols)
	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	for _, a := range list {
		rows.AddRow(a.ID, a.PatientID, a.ClinicianID, a.SupervisorID, a.StartsAt, a.DurationMins,
			string(a.Modality), a.Location, string(a.Status), a.Notes, a.CancellationReason, a.Version, now, now)
	}
	return rows
}

func TestPgCreateInsertsInsideClinicianLock(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	a := sampleAppointment()

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").
		WithArgs(a.ClinicianID.String()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("status <> 'cancelled'").
		WithArgs(a.ClinicianID, a.StartsAt, a.EndsAt(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(appointmentCols))
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), a.PatientID, a.ClinicianID, pgxmock.AnyArg(), a.StartsAt, 50,
			"in_person", "Cubículo 3", "").
		WillReturnRows(appointmentRows(a))
	mock.ExpectCommit()

	created, err := NewPgRepository(mock).Create(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, a.ID, created.ID)
	assert.Equal(t, StatusScheduled, created.Status)
	assert.Equal(t, ModalityInPerson, created.Modality)
	require.NotNil(t, created.SupervisorID)
	assert.Equal(t, *a.SupervisorID, *created.SupervisorID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgCreateRollsBackOnOverlap(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	a := sampleAppointment()
	existing := sampleAppointment()
	existing.ClinicianID = a.ClinicianID
	existing.StartsAt = a.StartsAt.Add(-30 * time.Minute)

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").
		WithArgs(a.ClinicianID.String()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("status <> 'cancelled'").
		WithArgs(a.ClinicianID, a.StartsAt, a.EndsAt(), pgxmock.AnyArg()).
		WillReturnRows(appointmentRows(existing))
	mock.ExpectRollback()

	_, err = NewPgRepository(mock).Create(context.Background(), a)
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, existing.ID, conflict.Slot.AppointmentID)
	assert.Equal(t, "09:30", conflict.Slot.Time)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgCreateMapsExclusionViolation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	a := sampleAppointment()
	winner := sampleAppointment()
	winner.ClinicianID = a.ClinicianID

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").
		WithArgs(a.ClinicianID.String()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("status <> 'cancelled'").
		WithArgs(a.ClinicianID, a.StartsAt, a.EndsAt(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(appointmentCols))
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23P01", ConstraintName: "appointments_no_overlap"})
	mock.ExpectRollback()
	mock.ExpectQuery("status <> 'cancelled'").
		WithArgs(a.ClinicianID, a.StartsAt, a.EndsAt(), pgxmock.AnyArg()).
		WillReturnRows(appointmentRows(winner))

	_, err = NewPgRepository(mock).Create(context.Background(), a)
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	require.NotNil(t, conflict.Slot)
	assert.Equal(t, winner.ID, conflict.Slot.AppointmentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgGetByIDNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery("FROM appointments").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(appointmentCols))

	_, err = NewPgRepository(mock).GetByID(context.Background(), id)
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, id, nf.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPgUpdateStatusCompareAndSwap(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	a := sampleAppointment()
	reason := "patient request"
	a.Status = StatusCancelled
	a.CancellationReason = &reason
	a.Version = 2

	mock.ExpectQuery("UPDATE appointments").
		WithArgs(a.ID, "cancelled", "scheduled", &reason).
		WillReturnRows(appointmentRows(a))

	updated, err := NewPgRepository(mock).UpdateStatus(context.Background(), a.ID, StatusScheduled, StatusCancelled, &reason)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, updated.Status)
	require.NotNil(t, updated.CancellationReason)
	assert.Equal(t, "patient request", *updated.CancellationReason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgUpdateStatusStale(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery("UPDATE appointments").
		WithArgs(id, "completed", "confirmed", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(appointmentCols))

	_, err = NewPgRepository(mock).UpdateStatus(context.Background(), id, StatusConfirmed, StatusCompleted, nil)
	assert.ErrorIs(t, err, ErrStaleWrite)
}

func TestPgRescheduleStaleVersion(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	a := sampleAppointment()
	newStart := a.StartsAt.Add(4 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").
		WithArgs(a.ClinicianID.String()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("status <> 'cancelled'").
		WithArgs(a.ClinicianID, newStart, newStart.Add(50*time.Minute), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(appointmentCols))
	mock.ExpectQuery("UPDATE appointments").
		WithArgs(a.ID, newStart, a.Version).
		WillReturnRows(pgxmock.NewRows(appointmentCols))
	mock.ExpectRollback()

	_, err = NewPgRepository(mock).Reschedule(context.Background(), a, newStart)
	assert.ErrorIs(t, err, ErrStaleWrite)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRescheduleMovesStart(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	a := sampleAppointment()
	newStart := a.StartsAt.Add(4 * time.Hour)
	moved := *a
	moved.StartsAt = newStart
	moved.Version = 2

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").
		WithArgs(a.ClinicianID.String()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("status <> 'cancelled'").
		WithArgs(a.ClinicianID, newStart, newStart.Add(50*time.Minute), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(appointmentCols))
	mock.ExpectQuery("UPDATE appointments").
		WithArgs(a.ID, newStart, a.Version).
		WillReturnRows(appointmentRows(&moved))
	mock.ExpectCommit()

	got, err := NewPgRepository(mock).Reschedule(context.Background(), a, newStart)
	require.NoError(t, err)
	assert.Equal(t, "14:00", got.Clock())
	assert.Equal(t, 2, got.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildListQuery(t *testing.T) {
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	clinician := uuid.New()

	query, args := buildListQuery(Filter{
		Day:         &day,
		ClinicianID: &clinician,
		Statuses:    []Status{StatusScheduled, StatusConfirmed},
		Limit:       50,
		Offset:      100,
	})

	assert.Contains(t, query, "WHERE starts_at >= $1 AND starts_at < $2 AND clinician_id = $3 AND status = ANY($4)")
	assert.Contains(t, query, "ORDER BY starts_at, id LIMIT $5 OFFSET $6")
	assert.Equal(t, []any{day, day.AddDate(0, 0, 1), clinician, []string{"scheduled", "confirmed"}, 50, 100}, args)

	query, args = buildListQuery(Filter{})
	assert.NotContains(t, query, "WHERE")
	assert.NotContains(t, query, "LIMIT")
	assert.Empty(t, args)
}

func TestPgList(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	patient := uuid.New()
	first, second := sampleAppointment(), sampleAppointment()
	first.PatientID, second.PatientID = patient, patient
	second.StartsAt = first.StartsAt.Add(time.Hour)

	mock.ExpectQuery("FROM appointments WHERE patient_id = \\$1 ORDER BY starts_at").
		WithArgs(patient, 50).
		WillReturnRows(appointmentRows(first, second))

	items, err := NewPgRepository(mock).List(context.Background(), Filter{PatientID: &patient, Limit: 50})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, first.ID, items[0].ID)
	assert.Equal(t, second.ID, items[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgInsertEvent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	ev := EventLog{EventType: EventAppointmentCreated, AppointmentID: &id, Payload: []byte(`{"a":1}`), CreatedAt: at}

	mock.ExpectExec("INSERT INTO appointment_events").
		WithArgs(EventAppointmentCreated, &id, pgxmock.AnyArg(), []byte(`{"a":1}`), at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, NewPgRepository(mock).InsertEvent(context.Background(), ev))
	assert.NoError(t, mock.ExpectationsWereMet())
}
