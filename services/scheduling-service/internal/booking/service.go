// Package booking coordinates appointment mutations with conflict checks and the
// reminder scheduler.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/conflicts"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/storage"
)

// Reminders is the scheduler surface bookings drive.
type Reminders interface {
	Schedule(ctx context.Context, appt model.Appointment)
	ScheduleWithLeadTime(ctx context.Context, appt model.Appointment, lead time.Duration)
	Cancel(id string) bool
}

type Service struct {
	store     storage.Store
	reminders Reminders
	logger    *slog.Logger
}

func NewService(store storage.Store, reminders Reminders, logger *slog.Logger) *Service {
	return &Service{store: store, reminders: reminders, logger: logger}
}

type BookRequest struct {
	PatientID      string
	ProfessionalID string
	ResourceID     string
	Start          time.Time
	End            time.Time
	Title          string
	// NotificationsDisabled opts the appointment out of reminders.
	NotificationsDisabled bool
	// LeadTime overrides the scheduler default when positive.
	LeadTime time.Duration
}

// Result carries either the stored appointment or the bookings it collides with.
type Result struct {
	Appointment model.Appointment
	Conflicts   []model.Appointment
}

func (r Result) Conflicted() bool { return len(r.Conflicts) > 0 }

func (s *Service) Book(ctx context.Context, req BookRequest) (Result, error) {
	if req.PatientID == "" {
		return Result{}, fmt.Errorf("%w: patient id is required", model.ErrInvalidRequest)
	}
	req.Start, req.End = model.StoredInstant(req.Start), model.StoredInstant(req.End)
	if !req.End.After(req.Start) {
		return Result{}, model.ErrInvalidInterval
	}
	q := conflicts.Query{
		ProfessionalID: req.ProfessionalID,
		ResourceID:     req.ResourceID,
		Start:          req.Start,
		End:            req.End,
	}

	var res Result
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Store) error {
		found, err := conflicts.NewDetector(tx).FindConflicts(ctx, q)
		if err != nil {
			return err
		}
		if len(found) > 0 {
			res.Conflicts = found
			return nil
		}
		appt := model.Appointment{
			PatientID:            req.PatientID,
			ProfessionalID:       model.StringPtr(req.ProfessionalID),
			ResourceID:           model.StringPtr(req.ResourceID),
			StartTime:            req.Start,
			EndTime:              req.End,
			Title:                req.Title,
			Status:               model.StatusScheduled,
			NotificationsEnabled: !req.NotificationsDisabled,
		}
		if err := tx.Create(ctx, &appt); err != nil {
			return err
		}
		res.Appointment = appt
		return nil
	})
	if err != nil {
		if storage.IsConflict(err) {
			return s.conflictResult(ctx, q)
		}
		return Result{}, fmt.Errorf("booking: book: %w", err)
	}
	if res.Conflicted() {
		return res, nil
	}

	s.reminders.ScheduleWithLeadTime(ctx, res.Appointment, req.LeadTime)
	s.logger.Info("appointment booked", "appointment_id", res.Appointment.ID)
	return res, nil
}

// conflictResult re-reads the winners after the store rejected a write that raced
// with another booking.
func (s *Service) conflictResult(ctx context.Context, q conflicts.Query) (Result, error) {
	found, err := conflicts.NewDetector(s.store).FindConflicts(ctx, q)
	if err != nil {
		return Result{}, fmt.Errorf("booking: reload conflicts: %w", err)
	}
	if len(found) == 0 {
		return Result{}, model.ErrConflict
	}
	return Result{Conflicts: found}, nil
}

// Move reschedules id to [start, end), resetting its reminder for the new time.
func (s *Service) Move(ctx context.Context, id string, start, end time.Time) (Result, error) {
	start, end = model.StoredInstant(start), model.StoredInstant(end)
	if !end.After(start) {
		return Result{}, model.ErrInvalidInterval
	}

	var res Result
	var q conflicts.Query
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Store) error {
		current, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if current.Cancelled() {
			return fmt.Errorf("%w: cannot move a cancelled appointment", model.ErrInvalidStatus)
		}
		q = conflicts.Query{
			ProfessionalID: model.Deref(current.ProfessionalID),
			ResourceID:     model.Deref(current.ResourceID),
			Start:          start,
			End:            end,
			ExcludeID:      id,
		}
		found, err := conflicts.NewDetector(tx).FindConflicts(ctx, q)
		if err != nil {
			return err
		}
		if len(found) > 0 {
			res.Conflicts = found
			return nil
		}
		updated, err := tx.Update(ctx, id, model.Update{StartTime: &start, EndTime: &end, ResetNotification: true})
		if err != nil {
			return err
		}
		res.Appointment = updated
		return nil
	})
	if err != nil {
		if storage.IsConflict(err) {
			return s.conflictResult(ctx, q)
		}
		return Result{}, fmt.Errorf("booking: move: %w", err)
	}
	if res.Conflicted() {
		return res, nil
	}

	s.reminders.Cancel(id)
	s.reminders.Schedule(ctx, res.Appointment)
	s.logger.Info("appointment moved", "appointment_id", id, "start", start)
	return res, nil
}

// Cancel frees the slot of a scheduled or confirmed appointment. Cancelling twice is a
// no-op; completed appointments cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, id string) (model.Appointment, error) {
	status := model.StatusCancelled
	var appt model.Appointment
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Store) error {
		current, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if !allowed(current.Status, status) {
			return fmt.Errorf("%w: %s to %s", model.ErrInvalidStatus, current.Status, status)
		}
		if current.Cancelled() {
			appt = current
			return nil
		}
		appt, err = tx.Update(ctx, id, model.Update{Status: &status})
		return err
	})
	if err != nil {
		return model.Appointment{}, fmt.Errorf("booking: cancel: %w", err)
	}
	s.reminders.Cancel(id)
	s.logger.Info("appointment cancelled", "appointment_id", id)
	return appt, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("booking: delete: %w", err)
	}
	s.reminders.Cancel(id)
	s.logger.Info("appointment deleted", "appointment_id", id)
	return nil
}

var transitions = map[model.Status][]model.Status{
	model.StatusScheduled: {model.StatusConfirmed, model.StatusCompleted, model.StatusCancelled},
	model.StatusConfirmed: {model.StatusCompleted, model.StatusCancelled},
}

func allowed(from, to model.Status) bool {
	if from == to {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SetStatus applies a lifecycle transition. Completing an appointment completes its
// linked session; cancelling retires its reminder.
func (s *Service) SetStatus(ctx context.Context, id string, status model.Status) (model.Appointment, error) {
	if !status.Valid() {
		return model.Appointment{}, fmt.Errorf("%w: unknown status %q", model.ErrInvalidRequest, status)
	}

	var appt model.Appointment
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Store) error {
		current, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if !allowed(current.Status, status) {
			return fmt.Errorf("%w: %s to %s", model.ErrInvalidStatus, current.Status, status)
		}
		appt, err = tx.Update(ctx, id, model.Update{Status: &status})
		if err != nil {
			return err
		}
		if status == model.StatusCompleted && appt.SessionID != nil {
			return tx.CompleteSession(ctx, *appt.SessionID)
		}
		return nil
	})
	if err != nil {
		return model.Appointment{}, fmt.Errorf("booking: set status: %w", err)
	}

	switch status {
	case model.StatusCancelled, model.StatusCompleted:
		s.reminders.Cancel(id)
	}
	return appt, nil
}

func (s *Service) SetNotifications(ctx context.Context, id string, enabled bool) (model.Appointment, error) {
	appt, err := s.store.Update(ctx, id, model.Update{NotificationsEnabled: &enabled})
	if err != nil {
		return model.Appointment{}, fmt.Errorf("booking: set notifications: %w", err)
	}
	if enabled {
		s.reminders.Schedule(ctx, appt)
	} else {
		s.reminders.Cancel(id)
	}
	return appt, nil
}

// Refresh reloads id and brings its reminder in line with the stored state. It is
// used when another system changed the appointment.
func (s *Service) Refresh(ctx context.Context, id string) error {
	appt, err := s.store.Get(ctx, id)
	if storage.IsNotFound(err) {
		s.reminders.Cancel(id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("booking: refresh: %w", err)
	}
	s.reminders.Cancel(id)
	s.reminders.Schedule(ctx, appt)
	return nil
}

// Forget drops any reminder for id without touching the store.
func (s *Service) Forget(id string) {
	s.reminders.Cancel(id)
}

// IsClientError reports errors caused by the request rather than the system.
func IsClientError(err error) bool {
	return errors.Is(err, model.ErrInvalidRequest) ||
		errors.Is(err, model.ErrInvalidInterval) ||
		errors.Is(err, model.ErrInvalidStatus)
}
