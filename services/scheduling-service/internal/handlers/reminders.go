package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/reminders"
)

type Sweeper interface {
	RescheduleUpcoming(ctx context.Context, daysAhead int) (int, error)
}

type PendingLister interface {
	Pending() []reminders.PendingJob
}

type ReminderHandler struct {
	sweep   Sweeper
	pending PendingLister
	logger  *slog.Logger
}

func NewReminderHandler(sweep Sweeper, pending PendingLister, logger *slog.Logger) *ReminderHandler {
	return &ReminderHandler{sweep: sweep, pending: pending, logger: logger}
}

func (h *ReminderHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	days := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("days")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid days", http.StatusBadRequest)
			return
		}
		days = n
	}
	n, err := h.sweep.RescheduleUpcoming(r.Context(), days)
	if err != nil {
		writeError(w, h.logger, "failed to sweep reminders", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"rescheduled": n})
}

type pendingItem struct {
	AppointmentID string `json:"appointment_id"`
	FireAt        string `json:"fire_at"`
	StartTime     string `json:"start_time"`
}

func (h *ReminderHandler) Pending(w http.ResponseWriter, _ *http.Request) {
	jobs := h.pending.Pending()
	items := make([]pendingItem, 0, len(jobs))
	for _, j := range jobs {
		items = append(items, pendingItem{
			AppointmentID: j.AppointmentID,
			FireAt:        j.FireAt.UTC().Format(time.RFC3339),
			StartTime:     j.StartTime.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, items)
}
