package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/practicum-scheduling/internal/appointment"
	"github.com/hackgods/practicum-scheduling/internal/notify"
)

// Envelope is the body of every response.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

type CreateAppointmentRequest struct {
	PatientID    string `json:"patient_id"`
	ClinicianID  string `json:"clinician_id"`
	Date         string `json:"date"`
	Time         string `json:"time"`
	DurationMins int    `json:"duration_mins"`
	Modality     string `json:"modality"`
	Location     string `json:"location"`
	Notes        string `json:"notes"`
}

// UpdateAppointmentRequest moves an appointment. When both a new slot and a
// state are given the reschedule is applied first.
type UpdateAppointmentRequest struct {
	State  *string `json:"state"`
	Reason *string `json:"reason"`
	Date   *string `json:"date"`
	Time   *string `json:"time"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID  `json:"id"`
	PatientID          uuid.UUID  `json:"patient_id"`
	ClinicianID        uuid.UUID  `json:"clinician_id"`
	SupervisorID       *uuid.UUID `json:"supervisor_id,omitempty"`
	Date               string     `json:"date"`
	Time               string     `json:"time"`
	DurationMins       int        `json:"duration_mins"`
	Modality           string     `json:"modality"`
	Location           string     `json:"location,omitempty"`
	Status             string     `json:"status"`
	Notes              string     `json:"notes,omitempty"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`
	Version            int        `json:"version"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func toResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                 a.ID,
		PatientID:          a.PatientID,
		ClinicianID:        a.ClinicianID,
		SupervisorID:       a.SupervisorID,
		Date:               a.Date(),
		Time:               a.Clock(),
		DurationMins:       a.DurationMins,
		Modality:           string(a.Modality),
		Location:           a.Location,
		Status:             string(a.Status),
		Notes:              a.Notes,
		CancellationReason: a.CancellationReason,
		Version:            a.Version,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}

type ListResponse struct {
	Items  []AppointmentResponse `json:"items"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

type DischargeRequest struct {
	PatientID       string              `json:"patient_id"`
	ClinicianID     string              `json:"clinician_id"`
	DischargeDate   string              `json:"discharge_date"`
	Kind            string              `json:"kind"`
	Recommendations string              `json:"recommendations"`
	Attachments     []AttachmentRequest `json:"attachments,omitempty"`
}

// AttachmentRequest carries a file inline; content is base64 in JSON.
type AttachmentRequest struct {
	Filename string `json:"filename"`
	Content  []byte `json:"content"`
}

type ObservationRequest struct {
	InternID     string                     `json:"intern_id"`
	SupervisorID string                     `json:"supervisor_id"`
	Date         string                     `json:"date"`
	Score        int                        `json:"score"`
	Aspects      []notify.ObservationAspect `json:"aspects"`
}

type transitionConflict struct {
	Current   string `json:"current"`
	Requested string `json:"requested"`
}
