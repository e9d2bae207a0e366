// Package recovery rebuilds the reminder job table from persisted appointments.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/clock"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/metrics"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

const DefaultDaysAhead = 7

type Lister interface {
	ListUpcomingUnnotified(ctx context.Context, from, to time.Time, maxAttempts int) ([]model.Appointment, error)
}

type Scheduler interface {
	Schedule(ctx context.Context, appt model.Appointment)
	MaxAttempts() int
}

type Sweep struct {
	store     Lister
	scheduler Scheduler
	logger    *slog.Logger
	metrics   *metrics.Metrics
	clock     clock.Clock
	daysAhead int
	interval  time.Duration
}

type Config struct {
	DaysAhead int
	Interval  time.Duration
	Clock     clock.Clock
}

func New(store Lister, scheduler Scheduler, logger *slog.Logger, m *metrics.Metrics, cfg Config) *Sweep {
	if cfg.DaysAhead <= 0 {
		cfg.DaysAhead = DefaultDaysAhead
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	return &Sweep{
		store:     store,
		scheduler: scheduler,
		logger:    logger,
		metrics:   m,
		clock:     cfg.Clock,
		daysAhead: cfg.DaysAhead,
		interval:  cfg.Interval,
	}
}

func (s *Sweep) DaysAhead() int { return s.daysAhead }

// RescheduleUpcoming hands every reminder candidate starting within the next
// daysAhead days to the scheduler and returns how many it handed over. Running it
// again without changes leaves the job table as it was.
func (s *Sweep) RescheduleUpcoming(ctx context.Context, daysAhead int) (int, error) {
	if daysAhead <= 0 {
		daysAhead = s.daysAhead
	}
	now := s.clock.Now()
	appts, err := s.store.ListUpcomingUnnotified(ctx, now, now.AddDate(0, 0, daysAhead), s.scheduler.MaxAttempts())
	if err != nil {
		return 0, fmt.Errorf("recovery: list upcoming: %w", err)
	}
	for _, a := range appts {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		s.scheduler.Schedule(ctx, a)
	}
	s.metrics.ObserveSweep(len(appts))
	s.logger.Info("reminder sweep complete", "rescheduled", len(appts), "days_ahead", daysAhead)
	return len(appts), nil
}

// Run sweeps every interval until ctx is done. The startup sweep is the caller's job.
func (s *Sweep) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RescheduleUpcoming(ctx, s.daysAhead); err != nil && ctx.Err() == nil {
				s.logger.Error("reminder sweep failed", "err", err)
			}
		}
	}
}
