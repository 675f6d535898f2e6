package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/hackgods/practicum-scheduling/internal/appointment"
	"github.com/hackgods/practicum-scheduling/internal/authz"
	"github.com/hackgods/practicum-scheduling/internal/directory"
	"github.com/hackgods/practicum-scheduling/internal/notify"
)

// Notifier sends the notices that are not tied to an appointment event.
type Notifier interface {
	NotifyDischarge(ctx context.Context, n notify.DischargeNotice) error
	NotifyObservation(ctx context.Context, n notify.ObservationNotice) error
}

// NoticeAuthorizer checks that an actor is tied to the people a notice
// is about.
type NoticeAuthorizer interface {
	Authorize(ctx context.Context, actor authz.Actor, p authz.Participants) error
}

type notificationHandler struct {
	notifier Notifier
	authz    NoticeAuthorizer
	log      *zap.Logger
}

// Discharge and observation notices come from clinical staff only. A
// psychologist must also treat or supervise the people named.
func (h *notificationHandler) allowed(w http.ResponseWriter, r *http.Request, p authz.Participants) bool {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing actor", nil)
		return false
	}
	switch actor.Role {
	case directory.RoleCoordinator, directory.RolePsychologist:
	default:
		writeError(w, http.StatusForbidden, "not allowed to send notices", nil)
		return false
	}

	if err := h.authz.Authorize(r.Context(), actor, p); err != nil {
		respondError(w, r, h.log, err)
		return false
	}
	return true
}

func (h *notificationHandler) discharge(w http.ResponseWriter, r *http.Request) {
	var req DischargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "could not parse JSON body", nil)
		return
	}

	var fields []string
	patientID, err := parseOptionalUUID(req.PatientID)
	if err != nil {
		fields = append(fields, "patient_id must be a valid UUID")
	}
	clinicianID, err := parseOptionalUUID(req.ClinicianID)
	if err != nil {
		fields = append(fields, "clinician_id must be a valid UUID")
	}
	attachments := make([]notify.Attachment, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		if strings.TrimSpace(a.Filename) == "" {
			fields = append(fields, "attachment filename is required")
			continue
		}
		attachments = append(attachments, notify.NewAttachment(a.Filename, a.Content))
	}
	if len(fields) > 0 {
		respondError(w, r, h.log, &appointment.ValidationError{Fields: fields})
		return
	}

	if !h.allowed(w, r, authz.Participants{PatientID: patientID, ClinicianID: clinicianID}) {
		return
	}

	err = h.notifier.NotifyDischarge(r.Context(), notify.DischargeNotice{
		PatientID:       patientID,
		ClinicianID:     clinicianID,
		DischargeDate:   req.DischargeDate,
		Kind:            req.Kind,
		Recommendations: req.Recommendations,
		Attachments:     attachments,
	})
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, Envelope{Success: true, Message: "discharge notice queued"})
}

func (h *notificationHandler) observation(w http.ResponseWriter, r *http.Request) {
	var req ObservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "could not parse JSON body", nil)
		return
	}

	var fields []string
	internID, err := parseOptionalUUID(req.InternID)
	if err != nil {
		fields = append(fields, "intern_id must be a valid UUID")
	}
	supervisorID, err := parseOptionalUUID(req.SupervisorID)
	if err != nil {
		fields = append(fields, "supervisor_id must be a valid UUID")
	}
	if len(fields) > 0 {
		respondError(w, r, h.log, &appointment.ValidationError{Fields: fields})
		return
	}

	if !h.allowed(w, r, authz.Participants{ClinicianID: internID, SupervisorID: &supervisorID}) {
		return
	}

	err = h.notifier.NotifyObservation(r.Context(), notify.ObservationNotice{
		InternID:     internID,
		SupervisorID: supervisorID,
		Date:         req.Date,
		Score:        req.Score,
		Aspects:      req.Aspects,
	})
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, Envelope{Success: true, Message: "observation notice queued"})
}
