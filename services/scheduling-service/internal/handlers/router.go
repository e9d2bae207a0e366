package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes mounts the scheduling API under /v1. Nil handlers leave their routes out.
type Routes struct {
	Appointments *AppointmentHandler
	Plans        *PlanHandler
	Reminders    *ReminderHandler
}

func NewRouter(rt Routes) http.Handler {
	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		if h := rt.Appointments; h != nil {
			r.Route("/appointments", func(r chi.Router) {
				r.Get("/", h.List)
				r.Post("/", h.Book)
				r.Delete("/{id}", h.Delete)
				r.Post("/{id}/move", h.Move)
				r.Post("/{id}/cancel", h.Cancel)
				r.Patch("/{id}/status", h.SetStatus)
				r.Patch("/{id}/notifications", h.SetNotifications)
			})
			r.Get("/professionals/{id}/appointments", h.ListByProfessional)
			r.Get("/conflicts", h.Conflicts)
		}
		if h := rt.Plans; h != nil {
			r.Post("/plans/{id}/sessions/generate", h.Generate)
		}
		if h := rt.Reminders; h != nil {
			r.Post("/reminders/sweep", h.Sweep)
			r.Get("/reminders/pending", h.Pending)
		}
	})
	return r
}
