package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/storage"
)

type appointmentItem struct {
	AppointmentID        string `json:"appointment_id"`
	PatientID            string `json:"patient_id"`
	ProfessionalID       string `json:"professional_id,omitempty"`
	ResourceID           string `json:"resource_id,omitempty"`
	StartTime            string `json:"start_time"`
	EndTime              string `json:"end_time"`
	Title                string `json:"title,omitempty"`
	Status               string `json:"status"`
	NotificationsEnabled bool   `json:"notifications_enabled"`
	NotificationSent     bool   `json:"notification_sent"`
	NotifyAttempts       int    `json:"notify_attempts,omitempty"`
	SessionID            string `json:"session_id,omitempty"`
}

func toItem(a model.Appointment) appointmentItem {
	return appointmentItem{
		AppointmentID:        a.ID,
		PatientID:            a.PatientID,
		ProfessionalID:       model.Deref(a.ProfessionalID),
		ResourceID:           model.Deref(a.ResourceID),
		StartTime:            a.StartTime.UTC().Format(time.RFC3339),
		EndTime:              a.EndTime.UTC().Format(time.RFC3339),
		Title:                a.Title,
		Status:               string(a.Status),
		NotificationsEnabled: a.NotificationsEnabled,
		NotificationSent:     a.NotificationSent,
		NotifyAttempts:       a.NotifyAttempts,
		SessionID:            model.Deref(a.SessionID),
	}
}

func toItems(appts []model.Appointment) []appointmentItem {
	items := make([]appointmentItem, 0, len(appts))
	for _, a := range appts {
		items = append(items, toItem(a))
	}
	return items
}

type conflictResponse struct {
	Error     string            `json:"error"`
	Conflicts []appointmentItem `json:"conflicts"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeConflicts(w http.ResponseWriter, found []model.Appointment) {
	writeJSON(w, http.StatusConflict, conflictResponse{
		Error:     model.ErrConflict.Error(),
		Conflicts: toItems(found),
	})
}

// writeError maps domain errors onto status codes and hides everything else.
func writeError(w http.ResponseWriter, logger *slog.Logger, msg string, err error) {
	switch {
	case booking.IsClientError(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case storage.IsNotFound(err):
		http.Error(w, "not found", http.StatusNotFound)
	case storage.IsConflict(err):
		http.Error(w, model.ErrConflict.Error(), http.StatusConflict)
	case errors.Is(err, model.ErrPlanInactive):
		http.Error(w, model.ErrPlanInactive.Error(), http.StatusConflict)
	default:
		logger.Error(msg, "err", err)
		http.Error(w, msg, http.StatusInternalServerError)
	}
}

func parseInstant(raw string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	return model.StoredInstant(t), err == nil
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return false
	}
	return true
}
