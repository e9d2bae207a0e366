// Package reminders owns the in-memory table of one-shot reminder jobs.
//
// Each appointment has at most one live job. A job fires once at start - lead time,
// resolves the patient's contact data, sends the reminder and records the outcome on
// the appointment. Jobs do not survive a restart; the recovery sweep rebuilds them
// from persisted appointment state.
package reminders

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	otelx "github.com/md-rashed-zaman/clinicsched/libs/otel"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/clock"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/metrics"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/outbox"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/sms"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultLeadTime    = 30 * time.Minute
	DefaultMaxAttempts = 5
)

// Store is the appointment state a firing job reads and writes.
type Store interface {
	ReminderDetails(ctx context.Context, id string) (model.ReminderDetails, error)
	MarkNotified(ctx context.Context, id string, expectedStart time.Time) (bool, error)
	RecordNotifyFailure(ctx context.Context, id string) (int, error)
}

// EventSink receives delivery outcome events. outbox.Repository implements it.
type EventSink interface {
	Emit(ctx context.Context, eventType, appointmentID string, payload any) error
}

type Config struct {
	LeadTime time.Duration
	// MaxAttempts bounds failed deliveries before an appointment is dead-lettered.
	// Zero uses DefaultMaxAttempts; a negative value retries forever.
	MaxAttempts int
	Clock       clock.Clock
	Formatter   *Formatter
}

type Scheduler struct {
	store       Store
	sender      sms.Sender
	events      EventSink
	logger      *slog.Logger
	metrics     *metrics.Metrics
	clock       clock.Clock
	format      *Formatter
	leadTime    time.Duration
	maxAttempts int

	mu       sync.Mutex
	jobs     map[string]*job
	inflight map[string]bool
	stopped  bool
}

type job struct {
	appointmentID string
	start         time.Time
	fireAt        time.Time
	trace         otelx.TraceContext
	timer         clock.Timer
}

// PendingJob is a read-only view of a live job.
type PendingJob struct {
	AppointmentID string    `json:"appointment_id"`
	FireAt        time.Time `json:"fire_at"`
	StartTime     time.Time `json:"start_time"`
}

func NewScheduler(store Store, sender sms.Sender, events EventSink, logger *slog.Logger, m *metrics.Metrics, cfg Config) *Scheduler {
	if cfg.LeadTime <= 0 {
		cfg.LeadTime = DefaultLeadTime
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Formatter == nil {
		cfg.Formatter, _ = NewFormatter("", "", time.UTC)
	}
	return &Scheduler{
		store:       store,
		sender:      sender,
		events:      events,
		logger:      logger,
		metrics:     m,
		clock:       cfg.Clock,
		format:      cfg.Formatter,
		leadTime:    cfg.LeadTime,
		maxAttempts: cfg.MaxAttempts,
		jobs:        map[string]*job{},
		inflight:    map[string]bool{},
	}
}

func (s *Scheduler) LeadTime() time.Duration { return s.leadTime }

// MaxAttempts is the failed-delivery bound, or 0 when unbounded.
func (s *Scheduler) MaxAttempts() int {
	if s.maxAttempts < 0 {
		return 0
	}
	return s.maxAttempts
}

func (s *Scheduler) Schedule(ctx context.Context, appt model.Appointment) {
	s.ScheduleWithLeadTime(ctx, appt, s.leadTime)
}

// ScheduleWithLeadTime registers the reminder for appt, replacing any existing job.
// Cancelled, opted-out, already notified and dead-lettered appointments get no job.
// When the fire instant has passed, even for an appointment that has already
// started, the reminder is sent synchronously and no timer is registered.
func (s *Scheduler) ScheduleWithLeadTime(ctx context.Context, appt model.Appointment, lead time.Duration) {
	if lead <= 0 {
		lead = s.leadTime
	}
	now := s.clock.Now()

	if reason := s.ineligible(appt); reason != "" {
		s.Cancel(appt.ID)
		s.metrics.ObserveScheduled("skipped")
		s.logger.Debug("reminder not scheduled", "appointment_id", appt.ID, "reason", reason)
		return
	}

	fireAt := appt.StartTime.Add(-lead)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.cancelLocked(appt.ID)

	if !fireAt.After(now) {
		if s.inflight[appt.ID] {
			s.mu.Unlock()
			s.logger.Debug("reminder already being sent", "appointment_id", appt.ID)
			return
		}
		s.inflight[appt.ID] = true
		s.metrics.SetPending(len(s.jobs))
		s.mu.Unlock()

		s.metrics.ObserveScheduled("immediate")
		s.deliver(context.WithoutCancel(ctx), appt.ID, appt.StartTime)
		return
	}

	j := &job{
		appointmentID: appt.ID,
		start:         appt.StartTime,
		fireAt:        fireAt,
		trace:         otelx.CaptureTraceContext(ctx),
	}
	j.timer = s.clock.AfterFunc(fireAt.Sub(now), func() { s.fire(j) })
	s.jobs[appt.ID] = j
	s.metrics.SetPending(len(s.jobs))
	s.mu.Unlock()

	s.metrics.ObserveScheduled("timer")
	s.logger.Debug("reminder scheduled", "appointment_id", appt.ID, "fire_at", fireAt)
}

func (s *Scheduler) ineligible(appt model.Appointment) string {
	switch {
	case appt.ID == "":
		return "missing id"
	case !appt.NotificationsEnabled:
		return "notifications disabled"
	case appt.NotificationSent:
		return "already notified"
	case appt.Cancelled():
		return "cancelled"
	case s.exhausted(appt.NotifyAttempts):
		return "attempts exhausted"
	}
	return ""
}

func (s *Scheduler) exhausted(attempts int) bool {
	return s.maxAttempts > 0 && attempts >= s.maxAttempts
}

// Cancel stops and removes the pending job for id. It reports whether one existed.
// A reminder whose send is already under way is not interrupted.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := s.cancelLocked(id)
	s.metrics.SetPending(len(s.jobs))
	return ok
}

func (s *Scheduler) cancelLocked(id string) bool {
	j, ok := s.jobs[id]
	if !ok {
		return false
	}
	j.timer.Stop()
	delete(s.jobs, id)
	return true
}

// Pending returns the live jobs ordered by fire time.
func (s *Scheduler) Pending() []PendingJob {
	s.mu.Lock()
	out := make([]PendingJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, PendingJob{AppointmentID: j.appointmentID, FireAt: j.fireAt, StartTime: j.start})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, k int) bool {
		if out[i].FireAt.Equal(out[k].FireAt) {
			return out[i].AppointmentID < out[k].AppointmentID
		}
		return out[i].FireAt.Before(out[k].FireAt)
	})
	return out
}

// Stop cancels every pending job and rejects later schedules.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id := range s.jobs {
		s.cancelLocked(id)
	}
	s.metrics.SetPending(0)
}

func (s *Scheduler) fire(j *job) {
	s.mu.Lock()
	if s.jobs[j.appointmentID] != j {
		// cancelled or replaced after the timer went off
		s.mu.Unlock()
		return
	}
	delete(s.jobs, j.appointmentID)
	if s.inflight[j.appointmentID] {
		s.mu.Unlock()
		return
	}
	s.inflight[j.appointmentID] = true
	s.metrics.SetPending(len(s.jobs))
	s.mu.Unlock()

	s.metrics.ObserveFired()
	s.deliver(j.trace.Restore(context.Background()), j.appointmentID, j.start)
}

// deliver sends the reminder for id if the appointment still starts at expectedStart.
// The caller must have set the in-flight mark.
func (s *Scheduler) deliver(ctx context.Context, id string, expectedStart time.Time) {
	defer func() {
		s.mu.Lock()
		delete(s.inflight, id)
		s.mu.Unlock()
	}()

	ctx, span := otelx.Tracer("reminders").Start(ctx, "reminders.deliver",
		trace.WithAttributes(
			attribute.String("appointment.id", id),
			attribute.String("sms.provider", s.sender.ProviderID()),
		),
	)
	defer span.End()

	details, err := s.store.ReminderDetails(ctx, id)
	if err != nil {
		if storage.IsNotFound(err) {
			s.logger.Info("reminder dropped, appointment gone", "appointment_id", id)
			return
		}
		span.RecordError(err)
		s.logger.Error("reminder details lookup failed", "appointment_id", id, "err", err)
		return
	}
	appt := details.Appointment
	if !appt.StartTime.Equal(expectedStart) {
		s.logger.Info("reminder dropped, appointment moved", "appointment_id", id)
		return
	}
	if reason := s.ineligible(appt); reason != "" {
		s.metrics.ObserveOutcome("skipped")
		s.logger.Info("reminder dropped", "appointment_id", id, "reason", reason)
		return
	}

	if details.PatientPhone == "" {
		s.failed(ctx, span, appt, sms.ErrNoDestination)
		return
	}
	body, err := s.format.Format(details)
	if err != nil {
		s.failed(ctx, span, appt, err)
		return
	}

	began := time.Now()
	err = s.sender.Send(ctx, details.PatientPhone, body)
	s.metrics.ObserveSendLatency(time.Since(began).Seconds())
	if err != nil {
		s.failed(ctx, span, appt, err)
		return
	}

	marked, err := s.store.MarkNotified(ctx, id, expectedStart)
	if err != nil {
		span.RecordError(err)
		s.logger.Error("mark notified failed", "appointment_id", id, "err", err)
	} else if !marked {
		s.logger.Warn("reminder sent but appointment changed meanwhile", "appointment_id", id)
	}
	s.metrics.ObserveOutcome("sent")
	s.logger.Info("reminder sent", "appointment_id", id, "provider", s.sender.ProviderID())
	s.emit(ctx, outbox.TypeNotificationSent, id, map[string]any{
		"appointment_id": id,
		"provider":       s.sender.ProviderID(),
		"start_time":     expectedStart.UTC().Format(time.RFC3339),
		"sent_at":        s.clock.Now().UTC().Format(time.RFC3339),
	})
}

// failed records an unsuccessful attempt. The sent flag stays false so the next
// sweep retries, until the attempt bound dead-letters the appointment.
func (s *Scheduler) failed(ctx context.Context, span trace.Span, appt model.Appointment, cause error) {
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())
	s.metrics.ObserveOutcome("failed")

	attempts, err := s.store.RecordNotifyFailure(ctx, appt.ID)
	if err != nil {
		s.logger.Error("record notify failure failed", "appointment_id", appt.ID, "err", err)
		attempts = appt.NotifyAttempts + 1
	}

	level := slog.LevelError
	if errors.Is(cause, sms.ErrNoDestination) {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "reminder send failed", "appointment_id", appt.ID, "attempts", attempts, "err", cause)

	payload := map[string]any{
		"appointment_id": appt.ID,
		"attempts":       attempts,
		"error_reason":   cause.Error(),
		"failed_at":      s.clock.Now().UTC().Format(time.RFC3339),
	}
	s.emit(ctx, outbox.TypeNotificationFailed, appt.ID, payload)

	if s.exhausted(attempts) {
		s.metrics.ObserveOutcome("dead_lettered")
		s.logger.Warn("reminder dead-lettered", "appointment_id", appt.ID, "attempts", attempts)
		payload["error_reason"] = "max attempts reached: " + cause.Error()
		s.emit(ctx, outbox.TypeReminderDLQ, appt.ID, payload)
	}
}

func (s *Scheduler) emit(ctx context.Context, eventType, id string, payload any) {
	if s.events == nil {
		return
	}
	if err := s.events.Emit(ctx, eventType, id, payload); err != nil {
		s.logger.Error("outcome event not recorded", "appointment_id", id, "event_type", eventType, "err", err)
	}
}
