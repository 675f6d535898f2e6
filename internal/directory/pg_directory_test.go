package directory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestResolvePatient(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery("FROM patients").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "email", "phone", "active"}).
			AddRow(id, "Ana Torres", strPtr("ana@example.com"), (*string)(nil), true))

	p, err := NewPgDirectory(mock).ResolvePatient(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Ana Torres", p.Name)
	assert.Equal(t, "ana@example.com", p.Email)
	assert.Empty(t, p.Phone)
	assert.True(t, p.Active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolvePatientNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery("FROM patients").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "email", "phone", "active"}))

	_, err = NewPgDirectory(mock).ResolvePatient(context.Background(), id)
	assert.ErrorIs(t, err, ErrPatientNotFound)
}

func TestResolveClinicianParsesRole(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery("FROM clinicians").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "email", "phone", "role", "active"}).
			AddRow(id, "Luis Vega", strPtr("luis@example.com"), strPtr("555-0101"), "intern", true))

	c, err := NewPgDirectory(mock).ResolveClinician(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, RoleIntern, c.Role)
	assert.Equal(t, "555-0101", c.Phone)
}

func TestResolveClinicianUnknownRole(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery("FROM clinicians").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "email", "phone", "role", "active"}).
			AddRow(id, "Luis Vega", (*string)(nil), (*string)(nil), "janitor", true))

	_, err = NewPgDirectory(mock).ResolveClinician(context.Background(), id)
	assert.ErrorContains(t, err, "unknown role")
}

func TestAssignmentsFor(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	patientID := uuid.New()
	intern := uuid.New()
	supervisor := uuid.New()
	psych := uuid.New()

	mock.ExpectQuery("FROM assignments").
		WithArgs(patientID).
		WillReturnRows(pgxmock.NewRows([]string{"patient_id", "clinician_id", "supervisor_id", "active"}).
			AddRow(patientID, intern, &supervisor, true).
			AddRow(patientID, psych, (*uuid.UUID)(nil), true))

	got, err := NewPgDirectory(mock).AssignmentsFor(context.Background(), patientID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.NotNil(t, got[0].SupervisorID)
	assert.Equal(t, supervisor, *got[0].SupervisorID)
	assert.Nil(t, got[1].SupervisorID)
}

func TestParseRole(t *testing.T) {
	for _, r := range []Role{RoleCoordinator, RolePsychologist, RoleIntern} {
		got, err := ParseRole(string(r))
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}
	_, err := ParseRole("becario")
	assert.Error(t, err)
}
