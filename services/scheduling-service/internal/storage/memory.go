package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/conflicts"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

// Memory is an in-process Store used when no database is configured and in tests.
// It enforces the same per-professional and per-resource overlap rule as the
// Postgres exclusion constraints. Transactions serialize on the store lock and
// roll back by restoring a snapshot.
type Memory struct {
	s    *memState
	inTx bool
}

type memState struct {
	mu            sync.Mutex
	appointments  map[string]model.Appointment
	plans         map[string]model.Plan
	sessions      map[string]model.Session
	patients      map[string]Person
	professionals map[string]Person
}

// Person is the display data the reminder join reads.
type Person struct {
	Name  string
	Phone string
}

func NewMemory() *Memory {
	return &Memory{s: &memState{
		appointments:  map[string]model.Appointment{},
		plans:         map[string]model.Plan{},
		sessions:      map[string]model.Session{},
		patients:      map[string]Person{},
		professionals: map[string]Person{},
	}}
}

func (m *Memory) lock() func() {
	if m.inTx {
		return func() {}
	}
	m.s.mu.Lock()
	return m.s.mu.Unlock
}

func (m *Memory) PutPlan(p model.Plan) {
	defer m.lock()()
	m.s.plans[p.ID] = p
}

func (m *Memory) PutPatient(id string, p Person) {
	defer m.lock()()
	m.s.patients[id] = p
}

func (m *Memory) PutProfessional(id string, p Person) {
	defer m.lock()()
	m.s.professionals[id] = p
}

func (m *Memory) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if m.inTx {
		return fn(ctx, m)
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	snap := m.s.snapshot()
	if err := fn(ctx, &Memory{s: m.s, inTx: true}); err != nil {
		m.s.restore(snap)
		return err
	}
	return nil
}

type memSnapshot struct {
	appointments map[string]model.Appointment
	plans        map[string]model.Plan
	sessions     map[string]model.Session
}

func (s *memState) snapshot() memSnapshot {
	snap := memSnapshot{
		appointments: make(map[string]model.Appointment, len(s.appointments)),
		plans:        make(map[string]model.Plan, len(s.plans)),
		sessions:     make(map[string]model.Session, len(s.sessions)),
	}
	for k, v := range s.appointments {
		snap.appointments[k] = v
	}
	for k, v := range s.plans {
		snap.plans[k] = v
	}
	for k, v := range s.sessions {
		snap.sessions[k] = v
	}
	return snap
}

func (s *memState) restore(snap memSnapshot) {
	s.appointments = snap.appointments
	s.plans = snap.plans
	s.sessions = snap.sessions
}

// blockingLocked returns the first stored appointment that would violate the overlap
// exclusion if a were written.
func (s *memState) blockingLocked(a model.Appointment) (model.Appointment, bool) {
	if a.Cancelled() {
		return model.Appointment{}, false
	}
	q := conflicts.Query{
		ProfessionalID: model.Deref(a.ProfessionalID),
		ResourceID:     model.Deref(a.ResourceID),
		Start:          a.StartTime,
		End:            a.EndTime,
		ExcludeID:      a.ID,
	}
	if q.ProfessionalID == "" && q.ResourceID == "" {
		return model.Appointment{}, false
	}
	for _, other := range s.appointments {
		if conflicts.Matches(other, q) {
			return other, true
		}
	}
	return model.Appointment{}, false
}

func (m *Memory) Create(_ context.Context, appt *model.Appointment) error {
	defer m.lock()()
	if !appt.EndTime.After(appt.StartTime) {
		return fmt.Errorf("storage: create appointment: %w", model.ErrInvalidInterval)
	}
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	if _, ok := m.s.appointments[appt.ID]; ok {
		return fmt.Errorf("storage: create appointment %s: already exists", appt.ID)
	}
	if appt.Status == "" {
		appt.Status = model.StatusScheduled
	}
	if other, blocked := m.s.blockingLocked(*appt); blocked {
		return fmt.Errorf("storage: create appointment: %w: overlaps %s", model.ErrConflict, other.ID)
	}
	now := time.Now().UTC()
	appt.CreatedAt = now
	appt.UpdatedAt = now
	m.s.appointments[appt.ID] = *appt
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (model.Appointment, error) {
	defer m.lock()()
	a, ok := m.s.appointments[id]
	if !ok {
		return model.Appointment{}, fmt.Errorf("storage: get appointment: %w", model.ErrNotFound)
	}
	return a, nil
}

func (m *Memory) Update(_ context.Context, id string, upd model.Update) (model.Appointment, error) {
	defer m.lock()()
	a, ok := m.s.appointments[id]
	if !ok {
		return model.Appointment{}, fmt.Errorf("storage: update appointment: %w", model.ErrNotFound)
	}
	if upd.StartTime != nil {
		a.StartTime = *upd.StartTime
	}
	if upd.EndTime != nil {
		a.EndTime = *upd.EndTime
	}
	if upd.Status != nil {
		a.Status = *upd.Status
	}
	if upd.NotificationsEnabled != nil {
		a.NotificationsEnabled = *upd.NotificationsEnabled
	}
	if upd.ResetNotification {
		a.NotificationSent = false
		a.NotifyAttempts = 0
	}
	if !a.EndTime.After(a.StartTime) {
		return model.Appointment{}, fmt.Errorf("storage: update appointment: %w", model.ErrInvalidInterval)
	}
	if other, blocked := m.s.blockingLocked(a); blocked {
		return model.Appointment{}, fmt.Errorf("storage: update appointment: %w: overlaps %s", model.ErrConflict, other.ID)
	}
	a.UpdatedAt = time.Now().UTC()
	m.s.appointments[id] = a
	return a, nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	defer m.lock()()
	a, ok := m.s.appointments[id]
	if !ok {
		return fmt.Errorf("storage: delete appointment: %w", model.ErrNotFound)
	}
	if a.SessionID != nil {
		if s, ok := m.s.sessions[*a.SessionID]; ok {
			s.AppointmentID = nil
			m.s.sessions[s.ID] = s
		}
	}
	delete(m.s.appointments, id)
	return nil
}

func (m *Memory) collect(keep func(model.Appointment) bool) []model.Appointment {
	var out []model.Appointment
	for _, a := range m.s.appointments {
		if keep(a) {
			out = append(out, a)
		}
	}
	conflicts.SortByStart(out)
	return out
}

func (m *Memory) ListInRange(_ context.Context, start, end time.Time, f model.Filter) ([]model.Appointment, error) {
	defer m.lock()()
	return m.collect(func(a model.Appointment) bool {
		switch {
		case !conflicts.Overlaps(a.StartTime, a.EndTime, start, end):
			return false
		case f.ProfessionalID != "" && model.Deref(a.ProfessionalID) != f.ProfessionalID:
			return false
		case f.ResourceID != "" && model.Deref(a.ResourceID) != f.ResourceID:
			return false
		case f.PatientID != "" && a.PatientID != f.PatientID:
			return false
		case !f.IncludeCancelled && a.Cancelled():
			return false
		}
		return true
	}), nil
}

func (m *Memory) ListByProfessional(_ context.Context, professionalID string, from time.Time, limit int) ([]model.Appointment, error) {
	defer m.lock()()
	if limit <= 0 {
		limit = 50
	}
	out := m.collect(func(a model.Appointment) bool {
		return model.Deref(a.ProfessionalID) == professionalID && !a.StartTime.Before(from)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ListOverlapping(_ context.Context, q conflicts.Query) ([]model.Appointment, error) {
	defer m.lock()()
	return m.collect(func(a model.Appointment) bool {
		return conflicts.Matches(a, q)
	}), nil
}

func (m *Memory) ListUpcomingUnnotified(_ context.Context, from, to time.Time, maxAttempts int) ([]model.Appointment, error) {
	defer m.lock()()
	return m.collect(func(a model.Appointment) bool {
		return !a.StartTime.Before(from) && !a.StartTime.After(to) &&
			a.NotificationsEnabled && !a.NotificationSent && !a.Cancelled() &&
			(maxAttempts <= 0 || a.NotifyAttempts < maxAttempts)
	}), nil
}

func (m *Memory) MarkNotified(_ context.Context, id string, expectedStart time.Time) (bool, error) {
	defer m.lock()()
	a, ok := m.s.appointments[id]
	if !ok || a.NotificationSent || !a.StartTime.Equal(expectedStart) {
		return false, nil
	}
	a.NotificationSent = true
	a.UpdatedAt = time.Now().UTC()
	m.s.appointments[id] = a
	return true, nil
}

func (m *Memory) RecordNotifyFailure(_ context.Context, id string) (int, error) {
	defer m.lock()()
	a, ok := m.s.appointments[id]
	if !ok {
		return 0, fmt.Errorf("storage: record notify failure: %w", model.ErrNotFound)
	}
	a.NotifyAttempts++
	a.UpdatedAt = time.Now().UTC()
	m.s.appointments[id] = a
	return a.NotifyAttempts, nil
}

func (m *Memory) ReminderDetails(_ context.Context, id string) (model.ReminderDetails, error) {
	defer m.lock()()
	a, ok := m.s.appointments[id]
	if !ok {
		return model.ReminderDetails{}, fmt.Errorf("storage: reminder details: %w", model.ErrNotFound)
	}
	patient := m.s.patients[a.PatientID]
	return model.ReminderDetails{
		Appointment:      a,
		PatientName:      patient.Name,
		PatientPhone:     patient.Phone,
		ProfessionalName: m.s.professionals[model.Deref(a.ProfessionalID)].Name,
	}, nil
}

func (m *Memory) GetPlan(_ context.Context, planID string) (model.Plan, error) {
	defer m.lock()()
	p, ok := m.s.plans[planID]
	if !ok {
		return model.Plan{}, fmt.Errorf("storage: get plan: %w", model.ErrNotFound)
	}
	return p, nil
}

func (m *Memory) NextOrdinal(_ context.Context, planID string) (int, error) {
	defer m.lock()()
	next := 1
	for _, s := range m.s.sessions {
		if s.PlanID == planID && s.Ordinal >= next {
			next = s.Ordinal + 1
		}
	}
	return next, nil
}

func (m *Memory) CreateSession(_ context.Context, planID string, ordinal int) (model.Session, error) {
	defer m.lock()()
	if _, ok := m.s.plans[planID]; !ok {
		return model.Session{}, fmt.Errorf("storage: create session: plan %w", model.ErrNotFound)
	}
	for _, s := range m.s.sessions {
		if s.PlanID == planID && s.Ordinal == ordinal {
			return model.Session{}, fmt.Errorf("storage: create session: ordinal %d already used", ordinal)
		}
	}
	s := model.Session{ID: uuid.NewString(), PlanID: planID, Ordinal: ordinal}
	m.s.sessions[s.ID] = s
	return s, nil
}

func (m *Memory) LinkToAppointment(_ context.Context, sessionID, appointmentID string) error {
	defer m.lock()()
	s, ok := m.s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("storage: link session: %w", model.ErrNotFound)
	}
	a, ok := m.s.appointments[appointmentID]
	if !ok {
		return fmt.Errorf("storage: link appointment: %w", model.ErrNotFound)
	}
	if s.AppointmentID != nil && *s.AppointmentID != appointmentID {
		return fmt.Errorf("storage: link session %s: %w", sessionID, errAlreadyLinked)
	}
	if a.SessionID != nil && *a.SessionID != sessionID {
		return fmt.Errorf("storage: link appointment %s: %w", appointmentID, errAlreadyLinked)
	}
	s.AppointmentID = &a.ID
	a.SessionID = &s.ID
	m.s.sessions[s.ID] = s
	m.s.appointments[a.ID] = a
	return nil
}

func (m *Memory) ListSessions(_ context.Context, planID string) ([]model.Session, error) {
	defer m.lock()()
	var out []model.Session
	for _, s := range m.s.sessions {
		if s.PlanID == planID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out, nil
}

func (m *Memory) CompleteSession(_ context.Context, sessionID string) error {
	defer m.lock()()
	s, ok := m.s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("storage: complete session: %w", model.ErrNotFound)
	}
	if s.Completed {
		return nil
	}
	s.Completed = true
	m.s.sessions[s.ID] = s
	if p, ok := m.s.plans[s.PlanID]; ok && p.CompletedSessions < p.TargetSessions {
		p.CompletedSessions++
		m.s.plans[p.ID] = p
	}
	return nil
}
