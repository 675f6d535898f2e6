package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/practicum-scheduling/internal/directory"
)

type stubAssignments struct {
	byPatient map[uuid.UUID][]directory.Assignment
	err       error
	calls     int
}

func (s *stubAssignments) AssignmentsFor(_ context.Context, patientID uuid.UUID) ([]directory.Assignment, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.byPatient[patientID], nil
}

func TestRelation(t *testing.T) {
	patient := uuid.New()
	intern := uuid.New()
	supervisor := uuid.New()
	otherPsych := uuid.New()
	assignedSupervisor := uuid.New()

	src := &stubAssignments{byPatient: map[uuid.UUID][]directory.Assignment{
		patient: {{PatientID: patient, ClinicianID: intern, SupervisorID: &assignedSupervisor, Active: true}},
	}}
	r := NewResolver(src)

	p := Participants{PatientID: patient, ClinicianID: intern, SupervisorID: &supervisor}

	tests := []struct {
		name  string
		actor Actor
		want  Relation
	}{
		{"coordinator", Actor{ID: uuid.New(), Role: directory.RoleCoordinator}, RelationCoordinator},
		{"assigned intern", Actor{ID: intern, Role: directory.RoleIntern}, RelationClinician},
		{"other intern", Actor{ID: uuid.New(), Role: directory.RoleIntern}, RelationNone},
		{"appointment supervisor", Actor{ID: supervisor, Role: directory.RolePsychologist}, RelationSupervisor},
		{"assignment supervisor", Actor{ID: assignedSupervisor, Role: directory.RolePsychologist}, RelationSupervisor},
		{"unrelated psychologist", Actor{ID: otherPsych, Role: directory.RolePsychologist}, RelationNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Relation(context.Background(), tt.actor, p)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRelationPsychologistAsClinicianSkipsLookup(t *testing.T) {
	src := &stubAssignments{}
	r := NewResolver(src)
	psych := uuid.New()

	got, err := r.Relation(context.Background(), Actor{ID: psych, Role: directory.RolePsychologist},
		Participants{PatientID: uuid.New(), ClinicianID: psych})
	require.NoError(t, err)
	assert.Equal(t, RelationClinician, got)
	assert.Zero(t, src.calls)
}

func TestRelationIgnoresInactiveAssignments(t *testing.T) {
	patient := uuid.New()
	intern := uuid.New()
	sup := uuid.New()
	src := &stubAssignments{byPatient: map[uuid.UUID][]directory.Assignment{
		patient: {{PatientID: patient, ClinicianID: intern, SupervisorID: &sup, Active: false}},
	}}

	got, err := NewResolver(src).Relation(context.Background(), Actor{ID: sup, Role: directory.RolePsychologist},
		Participants{PatientID: patient, ClinicianID: intern})
	require.NoError(t, err)
	assert.Equal(t, RelationNone, got)
}

func TestAuthorize(t *testing.T) {
	r := NewResolver(&stubAssignments{})
	p := Participants{PatientID: uuid.New(), ClinicianID: uuid.New()}

	err := r.Authorize(context.Background(), Actor{ID: uuid.New(), Role: directory.RoleIntern}, p)
	assert.ErrorIs(t, err, ErrForbidden)

	err = r.Authorize(context.Background(), Actor{ID: uuid.New(), Role: directory.RoleCoordinator}, p)
	assert.NoError(t, err)
}

func TestAuthorizePropagatesLookupFailure(t *testing.T) {
	boom := errors.New("db down")
	r := NewResolver(&stubAssignments{err: boom})

	err := r.Authorize(context.Background(), Actor{ID: uuid.New(), Role: directory.RolePsychologist},
		Participants{PatientID: uuid.New(), ClinicianID: uuid.New()})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrForbidden)
}

func TestRelationUnknownRole(t *testing.T) {
	_, err := NewResolver(nil).Relation(context.Background(), Actor{ID: uuid.New(), Role: "janitor"}, Participants{})
	assert.Error(t, err)
}
