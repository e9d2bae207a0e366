package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/recurrence"
)

type PlanHandler struct {
	gen    *recurrence.Generator
	logger *slog.Logger
}

func NewPlanHandler(gen *recurrence.Generator, logger *slog.Logger) *PlanHandler {
	return &PlanHandler{gen: gen, logger: logger}
}

type generateRequest struct {
	StartDate       string   `json:"start_date"`
	Weekdays        []string `json:"weekdays"`
	TimeOfDay       string   `json:"time_of_day"`
	DurationMinutes int      `json:"duration_minutes"`
	ProfessionalID  string   `json:"professional_id"`
	ResourceID      string   `json:"resource_id"`
	Title           string   `json:"title"`
	SessionCount    int      `json:"session_count"`
	Timezone        string   `json:"timezone"`
}

type sessionItem struct {
	SessionID   string          `json:"session_id"`
	Ordinal     int             `json:"ordinal"`
	Appointment appointmentItem `json:"appointment"`
}

type slotItem struct {
	StartTime   string   `json:"start_time"`
	EndTime     string   `json:"end_time"`
	ConflictIDs []string `json:"conflict_ids"`
}

type generateResponse struct {
	Created         []sessionItem `json:"created"`
	Conflicts       []slotItem    `json:"conflicts"`
	HorizonExceeded bool          `json:"horizon_exceeded"`
}

func (h *PlanHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !decode(w, r, &req) {
		return
	}

	var loc *time.Location
	if tz := strings.TrimSpace(req.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			http.Error(w, "invalid timezone", http.StatusBadRequest)
			return
		}
		loc = l
	}
	startDate, err := recurrence.ParseDate(req.StartDate)
	if err != nil {
		http.Error(w, "invalid start_date", http.StatusBadRequest)
		return
	}
	weekdays, err := recurrence.ParseWeekdays(req.Weekdays)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	tod, err := recurrence.ParseTimeOfDay(req.TimeOfDay)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.gen.Generate(r.Context(), recurrence.Request{
		PlanID:         chi.URLParam(r, "id"),
		StartDate:      startDate,
		Weekdays:       weekdays,
		TimeOfDay:      tod,
		Duration:       time.Duration(req.DurationMinutes) * time.Minute,
		ProfessionalID: strings.TrimSpace(req.ProfessionalID),
		ResourceID:     strings.TrimSpace(req.ResourceID),
		Title:          strings.TrimSpace(req.Title),
		SessionCount:   req.SessionCount,
		Location:       loc,
	})
	if err != nil {
		writeError(w, h.logger, "failed to generate sessions", err)
		return
	}

	resp := generateResponse{
		Created:         make([]sessionItem, 0, len(res.Created)),
		Conflicts:       make([]slotItem, 0, len(res.Conflicts)),
		HorizonExceeded: res.HorizonExceeded,
	}
	for _, p := range res.Created {
		resp.Created = append(resp.Created, sessionItem{
			SessionID:   p.Session.ID,
			Ordinal:     p.Session.Ordinal,
			Appointment: toItem(p.Appointment),
		})
	}
	for _, c := range res.Conflicts {
		resp.Conflicts = append(resp.Conflicts, slotItem{
			StartTime:   c.Start.UTC().Format(time.RFC3339),
			EndTime:     c.End.UTC().Format(time.RFC3339),
			ConflictIDs: c.ConflictIDs,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
