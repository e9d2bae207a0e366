package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/conflicts"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/storage"
)

type AppointmentHandler struct {
	svc      *booking.Service
	store    storage.Appointments
	detector *conflicts.Detector
	logger   *slog.Logger
}

func NewAppointmentHandler(svc *booking.Service, store storage.Appointments, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{
		svc:      svc,
		store:    store,
		detector: conflicts.NewDetector(store),
		logger:   logger,
	}
}

type bookRequest struct {
	PatientID            string `json:"patient_id"`
	ProfessionalID       string `json:"professional_id"`
	ResourceID           string `json:"resource_id"`
	StartTime            string `json:"start_time"`
	EndTime              string `json:"end_time"`
	Title                string `json:"title"`
	NotificationsEnabled *bool  `json:"notifications_enabled"`
	LeadMinutes          int    `json:"lead_minutes"`
}

func (h *AppointmentHandler) Book(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.PatientID) == "" {
		http.Error(w, "patient_id required", http.StatusBadRequest)
		return
	}
	start, ok := parseInstant(req.StartTime)
	if !ok {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}
	end, ok := parseInstant(req.EndTime)
	if !ok {
		http.Error(w, "invalid end_time", http.StatusBadRequest)
		return
	}
	if req.LeadMinutes < 0 {
		http.Error(w, "lead_minutes must not be negative", http.StatusBadRequest)
		return
	}

	res, err := h.svc.Book(r.Context(), booking.BookRequest{
		PatientID:             strings.TrimSpace(req.PatientID),
		ProfessionalID:        strings.TrimSpace(req.ProfessionalID),
		ResourceID:            strings.TrimSpace(req.ResourceID),
		Start:                 start,
		End:                   end,
		Title:                 strings.TrimSpace(req.Title),
		NotificationsDisabled: req.NotificationsEnabled != nil && !*req.NotificationsEnabled,
		LeadTime:              time.Duration(req.LeadMinutes) * time.Minute,
	})
	if err != nil {
		writeError(w, h.logger, "failed to book appointment", err)
		return
	}
	if res.Conflicted() {
		writeConflicts(w, res.Conflicts)
		return
	}
	writeJSON(w, http.StatusCreated, toItem(res.Appointment))
}

type moveRequest struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

func (h *AppointmentHandler) Move(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if !decode(w, r, &req) {
		return
	}
	start, ok := parseInstant(req.StartTime)
	if !ok {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}
	end, ok := parseInstant(req.EndTime)
	if !ok {
		http.Error(w, "invalid end_time", http.StatusBadRequest)
		return
	}

	res, err := h.svc.Move(r.Context(), chi.URLParam(r, "id"), start, end)
	if err != nil {
		writeError(w, h.logger, "failed to move appointment", err)
		return
	}
	if res.Conflicted() {
		writeConflicts(w, res.Conflicts)
		return
	}
	writeJSON(w, http.StatusOK, toItem(res.Appointment))
}

func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	appt, err := h.svc.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, "failed to cancel appointment", err)
		return
	}
	writeJSON(w, http.StatusOK, toItem(appt))
}

func (h *AppointmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, h.logger, "failed to delete appointment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *AppointmentHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decode(w, r, &req) {
		return
	}
	appt, err := h.svc.SetStatus(r.Context(), chi.URLParam(r, "id"), model.Status(strings.ToLower(strings.TrimSpace(req.Status))))
	if err != nil {
		writeError(w, h.logger, "failed to update status", err)
		return
	}
	writeJSON(w, http.StatusOK, toItem(appt))
}

type notificationsRequest struct {
	Enabled *bool `json:"enabled"`
}

func (h *AppointmentHandler) SetNotifications(w http.ResponseWriter, r *http.Request) {
	var req notificationsRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		http.Error(w, "enabled required", http.StatusBadRequest)
		return
	}
	appt, err := h.svc.SetNotifications(r.Context(), chi.URLParam(r, "id"), *req.Enabled)
	if err != nil {
		writeError(w, h.logger, "failed to update notifications", err)
		return
	}
	writeJSON(w, http.StatusOK, toItem(appt))
}

func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, ok := parseInstant(q.Get("from"))
	if !ok {
		http.Error(w, "invalid from", http.StatusBadRequest)
		return
	}
	to, ok := parseInstant(q.Get("to"))
	if !ok || !to.After(from) {
		http.Error(w, "invalid to", http.StatusBadRequest)
		return
	}
	filter := model.Filter{
		ProfessionalID:   strings.TrimSpace(q.Get("professional_id")),
		ResourceID:       strings.TrimSpace(q.Get("resource_id")),
		PatientID:        strings.TrimSpace(q.Get("patient_id")),
		IncludeCancelled: q.Get("include_cancelled") == "true",
	}

	appts, err := h.store.ListInRange(r.Context(), from, to, filter)
	if err != nil {
		writeError(w, h.logger, "failed to list appointments", err)
		return
	}
	writeJSON(w, http.StatusOK, toItems(appts))
}

func (h *AppointmentHandler) ListByProfessional(w http.ResponseWriter, r *http.Request) {
	from := time.Now().UTC()
	if raw := r.URL.Query().Get("from"); raw != "" {
		t, ok := parseInstant(raw)
		if !ok {
			http.Error(w, "invalid from", http.StatusBadRequest)
			return
		}
		from = t
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	appts, err := h.store.ListByProfessional(r.Context(), chi.URLParam(r, "id"), from, limit)
	if err != nil {
		writeError(w, h.logger, "failed to list appointments", err)
		return
	}
	writeJSON(w, http.StatusOK, toItems(appts))
}

// Conflicts answers a dry-run overlap check without booking anything.
func (h *AppointmentHandler) Conflicts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, ok := parseInstant(q.Get("start_time"))
	if !ok {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}
	end, ok := parseInstant(q.Get("end_time"))
	if !ok {
		http.Error(w, "invalid end_time", http.StatusBadRequest)
		return
	}

	found, err := h.detector.FindConflicts(r.Context(), conflicts.Query{
		ProfessionalID: strings.TrimSpace(q.Get("professional_id")),
		ResourceID:     strings.TrimSpace(q.Get("resource_id")),
		Start:          start,
		End:            end,
		ExcludeID:      strings.TrimSpace(q.Get("exclude_id")),
	})
	if err != nil {
		writeError(w, h.logger, "failed to check conflicts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conflict":  len(found) > 0,
		"conflicts": toItems(found),
	})
}
