// Package recurrence expands weekly therapy patterns into sessions and their
// calendar appointments.
package recurrence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	otelx "github.com/md-rashed-zaman/clinicsched/libs/otel"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/conflicts"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/metrics"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const DefaultMaxScanDays = 366

// Notifier receives every appointment the generator books.
type Notifier interface {
	Schedule(ctx context.Context, appt model.Appointment)
}

type Request struct {
	PlanID    string
	// StartDate is the first calendar day considered, read in the generation zone.
	StartDate Date
	Weekdays  []time.Weekday
	// TimeOfDay is the offset from local midnight.
	TimeOfDay      time.Duration
	Duration       time.Duration
	ProfessionalID string
	ResourceID     string
	// PatientID defaults to the plan's patient.
	PatientID    string
	Title        string
	SessionCount int
	// Location defaults to the generator's configured zone.
	Location *time.Location
}

type Pair struct {
	Session     model.Session
	Appointment model.Appointment
}

// CandidateSlot is a qualifying day that could not be booked.
type CandidateSlot struct {
	Start       time.Time
	End         time.Time
	ConflictIDs []string
}

type Result struct {
	Created   []Pair
	Conflicts []CandidateSlot
	// HorizonExceeded reports that the scan horizon ran out before SessionCount
	// sessions were placed.
	HorizonExceeded bool
}

type Config struct {
	MaxScanDays int
	Location    *time.Location
}

type Generator struct {
	store       storage.Store
	notifier    Notifier
	logger      *slog.Logger
	metrics     *metrics.Metrics
	maxScanDays int
	loc         *time.Location
}

func NewGenerator(store storage.Store, notifier Notifier, logger *slog.Logger, m *metrics.Metrics, cfg Config) *Generator {
	if cfg.MaxScanDays <= 0 {
		cfg.MaxScanDays = DefaultMaxScanDays
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Generator{
		store:       store,
		notifier:    notifier,
		logger:      logger,
		metrics:     m,
		maxScanDays: cfg.MaxScanDays,
		loc:         cfg.Location,
	}
}

func validate(req Request) error {
	switch {
	case req.PlanID == "":
		return fmt.Errorf("%w: plan id is required", model.ErrInvalidRequest)
	case req.ProfessionalID == "":
		return fmt.Errorf("%w: professional id is required", model.ErrInvalidRequest)
	case len(req.Weekdays) == 0:
		return fmt.Errorf("%w: weekday set is empty", model.ErrInvalidRequest)
	case req.Duration <= 0:
		return fmt.Errorf("%w: duration must be positive", model.ErrInvalidRequest)
	case req.SessionCount <= 0:
		return fmt.Errorf("%w: session count must be positive", model.ErrInvalidRequest)
	case req.TimeOfDay < 0 || req.TimeOfDay >= 24*time.Hour:
		return fmt.Errorf("%w: time of day out of range", model.ErrInvalidRequest)
	case req.StartDate.IsZero():
		return fmt.Errorf("%w: start date is required", model.ErrInvalidRequest)
	}
	return nil
}

// Generate walks forward from req.StartDate booking one session per qualifying day
// until SessionCount sessions exist or the scan horizon is exhausted. Conflicting slots
// are reported in the result and consume nothing. Each booked slot commits on its own;
// a store error aborts the walk and returns the slots committed so far.
func (g *Generator) Generate(ctx context.Context, req Request) (Result, error) {
	if err := validate(req); err != nil {
		return Result{}, err
	}

	ctx, span := otelx.Tracer("recurrence").Start(ctx, "recurrence.generate",
		trace.WithAttributes(
			attribute.String("plan.id", req.PlanID),
			attribute.Int("plan.session_count", req.SessionCount),
		),
	)
	defer span.End()

	plan, err := g.store.GetPlan(ctx, req.PlanID)
	if err != nil {
		return Result{}, fmt.Errorf("recurrence: load plan: %w", err)
	}
	if !plan.Active {
		return Result{}, model.ErrPlanInactive
	}
	if req.PatientID == "" {
		req.PatientID = plan.PatientID
	}
	loc := req.Location
	if loc == nil {
		loc = g.loc
	}

	days := map[time.Weekday]bool{}
	for _, d := range req.Weekdays {
		days[d] = true
	}

	var res Result
	y, m, d := req.StartDate.Year, req.StartDate.Month, req.StartDate.Day
	for i := 0; i < g.maxScanDays && len(res.Created) < req.SessionCount; i++ {
		day := time.Date(y, m, d+i, 0, 0, 0, 0, loc)
		if !days[day.Weekday()] {
			continue
		}
		start, end := slotOn(day.Year(), day.Month(), day.Day(), req.TimeOfDay, req.Duration, loc)

		pair, slot, err := g.bookSlot(ctx, req, start, end)
		if err != nil {
			span.RecordError(err)
			g.notify(ctx, res.Created)
			return res, fmt.Errorf("recurrence: book %s: %w", start.Format(time.RFC3339), err)
		}
		if slot != nil {
			g.metrics.ObserveGeneratorSlot("conflict")
			res.Conflicts = append(res.Conflicts, *slot)
			continue
		}
		g.metrics.ObserveGeneratorSlot("created")
		res.Created = append(res.Created, pair)
	}

	res.HorizonExceeded = len(res.Created) < req.SessionCount
	if res.HorizonExceeded {
		g.metrics.ObserveGeneratorSlot("horizon_exceeded")
		g.logger.Warn("recurrence horizon exceeded",
			"plan_id", req.PlanID,
			"created", len(res.Created),
			"wanted", req.SessionCount,
			"scan_days", g.maxScanDays,
		)
	}
	span.SetAttributes(
		attribute.Int("recurrence.created", len(res.Created)),
		attribute.Int("recurrence.conflicts", len(res.Conflicts)),
	)

	g.notify(ctx, res.Created)
	return res, nil
}

// bookSlot checks and books one candidate inside a single store transaction. It
// returns a CandidateSlot instead of a pair when the slot is taken.
func (g *Generator) bookSlot(ctx context.Context, req Request, start, end time.Time) (Pair, *CandidateSlot, error) {
	q := conflicts.Query{
		ProfessionalID: req.ProfessionalID,
		ResourceID:     req.ResourceID,
		Start:          start,
		End:            end,
	}

	var pair Pair
	var slot *CandidateSlot
	err := g.store.InTx(ctx, func(ctx context.Context, tx storage.Store) error {
		found, err := conflicts.NewDetector(tx).FindConflicts(ctx, q)
		if err != nil {
			return err
		}
		if len(found) > 0 {
			slot = &CandidateSlot{Start: start, End: end, ConflictIDs: conflicts.IDs(found)}
			return nil
		}

		ordinal, err := tx.NextOrdinal(ctx, req.PlanID)
		if err != nil {
			return err
		}
		session, err := tx.CreateSession(ctx, req.PlanID, ordinal)
		if err != nil {
			return err
		}
		appt := model.Appointment{
			PatientID:            req.PatientID,
			ProfessionalID:       model.StringPtr(req.ProfessionalID),
			ResourceID:           model.StringPtr(req.ResourceID),
			StartTime:            start,
			EndTime:              end,
			Title:                titleFor(req.Title, ordinal),
			Status:               model.StatusScheduled,
			NotificationsEnabled: true,
		}
		if err := tx.Create(ctx, &appt); err != nil {
			return err
		}
		if err := tx.LinkToAppointment(ctx, session.ID, appt.ID); err != nil {
			return err
		}
		session.AppointmentID = &appt.ID
		appt.SessionID = &session.ID
		pair = Pair{Session: session, Appointment: appt}
		return nil
	})

	if err != nil && storage.IsConflict(err) {
		// Lost a race with a concurrent booking; the transaction rolled back.
		taken := &CandidateSlot{Start: start, End: end}
		if found, ferr := conflicts.NewDetector(g.store).FindConflicts(ctx, q); ferr == nil {
			taken.ConflictIDs = conflicts.IDs(found)
		}
		return Pair{}, taken, nil
	}
	if err != nil {
		return Pair{}, nil, err
	}
	return pair, slot, nil
}

func (g *Generator) notify(ctx context.Context, created []Pair) {
	if g.notifier == nil {
		return
	}
	for _, p := range created {
		g.notifier.Schedule(ctx, p.Appointment)
	}
}

func titleFor(title string, ordinal int) string {
	if title == "" {
		title = "Therapy session"
	}
	return fmt.Sprintf("%s #%d", title, ordinal)
}

// IsValidation reports whether err rejects the request before any mutation.
func IsValidation(err error) bool {
	return errors.Is(err, model.ErrInvalidRequest) || errors.Is(err, model.ErrPlanInactive)
}
