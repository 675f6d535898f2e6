package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/practicum-scheduling/internal/appointment"
)

type AppointmentService interface {
	Create(ctx context.Context, cmd appointment.CreateCommand) (*appointment.Appointment, error)
	Update(ctx context.Context, id uuid.UUID, cmd appointment.UpdateCommand) (*appointment.Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	List(ctx context.Context, f appointment.Filter) ([]appointment.Appointment, error)
}

type appointmentHandler struct {
	svc AppointmentService
	log *zap.Logger
}

func (h *appointmentHandler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing actor", nil)
		return
	}

	var req CreateAppointmentRequest
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
	if len(fields) > 0 {
		respondError(w, r, h.log, &appointment.ValidationError{Fields: fields})
		return
	}

	appt, err := h.svc.Create(r.Context(), appointment.CreateCommand{
		PatientID:    patientID,
		ClinicianID:  clinicianID,
		Date:         req.Date,
		Time:         req.Time,
		DurationMins: req.DurationMins,
		Modality:     appointment.Modality(req.Modality),
		Location:     req.Location,
		Notes:        req.Notes,
		Actor:        actor,
	})
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}

	writeData(w, http.StatusCreated, toResponse(appt))
}

func (h *appointmentHandler) update(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing actor", nil)
		return
	}

	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req UpdateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "could not parse JSON body", nil)
		return
	}

	reschedule := req.Date != nil || req.Time != nil
	if !reschedule && req.State == nil {
		respondError(w, r, h.log, &appointment.ValidationError{
			Fields: []string{"state or a new date and time is required"},
		})
		return
	}

	var cmd appointment.UpdateCommand
	if reschedule {
		if req.Date == nil || req.Time == nil {
			respondError(w, r, h.log, &appointment.ValidationError{
				Fields: []string{"date and time must be given together"},
			})
			return
		}
		cmd.Reschedule = &appointment.RescheduleCommand{
			Date:  *req.Date,
			Time:  *req.Time,
			Actor: actor,
		}
	}
	if req.State != nil {
		cmd.Transition = &appointment.TransitionCommand{
			Target: appointment.Status(strings.ToLower(*req.State)),
			Actor:  actor,
		}
		if req.Reason != nil {
			cmd.Transition.Reason = *req.Reason
		}
	}

	appt, err := h.svc.Update(r.Context(), id, cmd)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}

	writeData(w, http.StatusOK, toResponse(appt))
}

func (h *appointmentHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	appt, err := h.svc.Get(r.Context(), id)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	writeData(w, http.StatusOK, toResponse(appt))
}

func (h *appointmentHandler) list(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r.URL.Query())
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}

	items, err := h.svc.List(r.Context(), f)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}

	limit := f.Limit
	if limit <= 0 {
		limit = appointment.DefaultListLimit
	}
	if limit > appointment.MaxListLimit {
		limit = appointment.MaxListLimit
	}

	resp := ListResponse{
		Items:  make([]AppointmentResponse, 0, len(items)),
		Limit:  limit,
		Offset: f.Offset,
	}
	for i := range items {
		resp.Items = append(resp.Items, toResponse(&items[i]))
	}
	writeData(w, http.StatusOK, resp)
}

func (h *appointmentHandler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, h.log, &appointment.ValidationError{Fields: []string{"id must be a valid UUID"}})
		return uuid.Nil, false
	}
	return id, true
}

// parseFilter reads the list query. Dates are clinic wall-clock values;
// from and to accept either a date or a date with HH:MM.
func parseFilter(q url.Values) (appointment.Filter, error) {
	var f appointment.Filter
	var fields []string

	if v := q.Get("date"); v != "" {
		d, err := time.Parse(appointment.DateLayout, v)
		if err != nil {
			fields = append(fields, "date must be YYYY-MM-DD")
		} else {
			f.Day = &d
		}
	}
	if v := q.Get("from"); v != "" {
		t, err := parseBound(v)
		if err != nil {
			fields = append(fields, "from must be YYYY-MM-DD or YYYY-MM-DDTHH:MM")
		} else {
			f.From = &t
		}
	}
	if v := q.Get("to"); v != "" {
		t, err := parseBound(v)
		if err != nil {
			fields = append(fields, "to must be YYYY-MM-DD or YYYY-MM-DDTHH:MM")
		} else {
			f.To = &t
		}
	}
	if v := q.Get("clinicianId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			fields = append(fields, "clinicianId must be a valid UUID")
		} else {
			f.ClinicianID = &id
		}
	}
	if v := q.Get("patientId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			fields = append(fields, "patientId must be a valid UUID")
		} else {
			f.PatientID = &id
		}
	}
	for _, raw := range q["state"] {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				f.Statuses = append(f.Statuses, appointment.Status(strings.ToLower(s)))
			}
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			fields = append(fields, "limit must be a non-negative integer")
		} else {
			f.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			fields = append(fields, "offset must be a non-negative integer")
		} else {
			f.Offset = n
		}
	}

	if len(fields) > 0 {
		return appointment.Filter{}, &appointment.ValidationError{Fields: fields}
	}
	return f, nil
}

func parseBound(v string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02T15:04", v); err == nil {
		return t, nil
	}
	return time.Parse(appointment.DateLayout, v)
}

// parseOptionalUUID leaves an empty string as uuid.Nil so the service can
// report the missing field itself.
func parseOptionalUUID(s string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(s)
}
