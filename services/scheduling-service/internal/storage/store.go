package storage

import (
	"context"
	"errors"
	"time"

	"github.com/md-rashed-zaman/clinicsched/libs/db"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/conflicts"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

// Appointments is the appointment store accessor used by the scheduling core.
type Appointments interface {
	Create(ctx context.Context, appt *model.Appointment) error
	Get(ctx context.Context, id string) (model.Appointment, error)
	Update(ctx context.Context, id string, upd model.Update) (model.Appointment, error)
	Delete(ctx context.Context, id string) error
	ListInRange(ctx context.Context, start, end time.Time, f model.Filter) ([]model.Appointment, error)
	ListByProfessional(ctx context.Context, professionalID string, from time.Time, limit int) ([]model.Appointment, error)
	ListOverlapping(ctx context.Context, q conflicts.Query) ([]model.Appointment, error)

	// ListUpcomingUnnotified returns reminder candidates starting in [from, to].
	// maxAttempts <= 0 disables the failed-attempt bound.
	ListUpcomingUnnotified(ctx context.Context, from, to time.Time, maxAttempts int) ([]model.Appointment, error)
	// MarkNotified sets the sent flag only while the appointment still starts at
	// expectedStart, so a reminder for a moved appointment is never recorded as sent.
	MarkNotified(ctx context.Context, id string, expectedStart time.Time) (bool, error)
	// RecordNotifyFailure increments the failed attempt counter and returns the new value.
	RecordNotifyFailure(ctx context.Context, id string) (int, error)
	ReminderDetails(ctx context.Context, id string) (model.ReminderDetails, error)
}

// Sessions is the session/plan store accessor.
type Sessions interface {
	GetPlan(ctx context.Context, planID string) (model.Plan, error)
	NextOrdinal(ctx context.Context, planID string) (int, error)
	CreateSession(ctx context.Context, planID string, ordinal int) (model.Session, error)
	LinkToAppointment(ctx context.Context, sessionID, appointmentID string) error
	ListSessions(ctx context.Context, planID string) ([]model.Session, error)
	// CompleteSession marks the session done and bumps the plan's completed count,
	// never past the target. Completing an already completed session is a no-op.
	CompleteSession(ctx context.Context, sessionID string) error
}

type Store interface {
	Appointments
	Sessions
	// InTx runs fn against a transaction-bound store; every write fn makes is committed
	// together or rolled back together.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

func IsConflict(err error) bool {
	return errors.Is(err, model.ErrConflict) || db.IsExclusionViolation(err)
}

func IsNotFound(err error) bool {
	return errors.Is(err, model.ErrNotFound) || db.IsNoRows(err)
}
