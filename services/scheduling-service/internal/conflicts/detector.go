package conflicts

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

// Query selects bookings that would collide with [Start, End).
type Query struct {
	ProfessionalID string
	ResourceID     string
	Start          time.Time
	End            time.Time
	ExcludeID      string
}

// Lister returns candidate appointments for q. Backends may over-select; the detector
// re-applies the overlap rule and filters.
type Lister interface {
	ListOverlapping(ctx context.Context, q Query) ([]model.Appointment, error)
}

type Detector struct {
	store Lister
}

func NewDetector(store Lister) *Detector {
	return &Detector{store: store}
}

// Overlaps reports whether half-open intervals [s1,e1) and [s2,e2) intersect.
// Back-to-back intervals (e1 == s2) do not.
func Overlaps(s1, e1, s2, e2 time.Time) bool {
	return s1.Before(e2) && s2.Before(e1)
}

// FindConflicts returns the non-cancelled appointments sharing the professional or the
// resource whose interval overlaps [q.Start, q.End), sorted by start then id.
// A query naming neither a professional nor a resource has no conflicts.
func (d *Detector) FindConflicts(ctx context.Context, q Query) ([]model.Appointment, error) {
	if !q.End.After(q.Start) {
		return nil, model.ErrInvalidInterval
	}
	if q.ProfessionalID == "" && q.ResourceID == "" {
		return nil, nil
	}

	candidates, err := d.store.ListOverlapping(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("conflicts: list overlapping: %w", err)
	}

	var out []model.Appointment
	for _, a := range candidates {
		if Matches(a, q) {
			out = append(out, a)
		}
	}
	SortByStart(out)
	return out, nil
}

// Matches applies the conflict rule to one appointment.
func Matches(a model.Appointment, q Query) bool {
	if a.Cancelled() || (q.ExcludeID != "" && a.ID == q.ExcludeID) {
		return false
	}
	sameProfessional := q.ProfessionalID != "" && model.Deref(a.ProfessionalID) == q.ProfessionalID
	sameResource := q.ResourceID != "" && model.Deref(a.ResourceID) == q.ResourceID
	if !sameProfessional && !sameResource {
		return false
	}
	return Overlaps(a.StartTime, a.EndTime, q.Start, q.End)
}

func SortByStart(appts []model.Appointment) {
	sort.SliceStable(appts, func(i, j int) bool {
		if appts[i].StartTime.Equal(appts[j].StartTime) {
			return appts[i].ID < appts[j].ID
		}
		return appts[i].StartTime.Before(appts[j].StartTime)
	})
}

// IDs returns the ids of appts in order.
func IDs(appts []model.Appointment) []string {
	ids := make([]string, 0, len(appts))
	for _, a := range appts {
		ids = append(ids, a.ID)
	}
	return ids
}
