package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/clinicsched/libs/db"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/conflicts"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

// Postgres implements Store on pgx. A repository returned by InTx is bound to the
// transaction; its own InTx runs inline.
type Postgres struct {
	q        db.Querier
	beginner db.TxBeginner
}

func NewPostgres(pool db.TxBeginner) *Postgres {
	return &Postgres{q: pool, beginner: pool}
}

func (r *Postgres) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if r.beginner == nil {
		return fn(ctx, r)
	}
	return db.InTx(ctx, r.beginner, func(tx pgx.Tx) error {
		return fn(ctx, &Postgres{q: tx})
	})
}

func appointmentColumns(prefix string) string {
	cols := []string{
		"id::text", "patient_id::text", "professional_id::text", "resource_id",
		"start_time", "end_time", "title", "status",
		"notifications_enabled", "notification_sent", "notify_attempts",
		"session_id::text", "created_at", "updated_at",
	}
	if prefix != "" {
		for i, c := range cols {
			cols[i] = prefix + "." + c
		}
	}
	return strings.Join(cols, ", ")
}

func scanAppointment(row pgx.Row, extra ...any) (model.Appointment, error) {
	var a model.Appointment
	var status string
	dest := []any{
		&a.ID, &a.PatientID, &a.ProfessionalID, &a.ResourceID,
		&a.StartTime, &a.EndTime, &a.Title, &status,
		&a.NotificationsEnabled, &a.NotificationSent, &a.NotifyAttempts,
		&a.SessionID, &a.CreatedAt, &a.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return model.Appointment{}, err
	}
	a.Status = model.Status(status)
	return a, nil
}

func scanAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	defer rows.Close()
	var out []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan appointment: %w", err)
		}
		out = append(out, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// translate maps driver errors onto the model sentinels.
func translate(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case db.IsNoRows(err):
		return fmt.Errorf("storage: %s: %w", op, model.ErrNotFound)
	case db.IsExclusionViolation(err):
		return fmt.Errorf("storage: %s: %w: %v", op, model.ErrConflict, err)
	default:
		return fmt.Errorf("storage: %s: %w", op, err)
	}
}

func (r *Postgres) Create(ctx context.Context, appt *model.Appointment) error {
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	if appt.Status == "" {
		appt.Status = model.StatusScheduled
	}
	now := time.Now().UTC()
	appt.CreatedAt = now
	appt.UpdatedAt = now

	_, err := r.q.Exec(ctx, `
		INSERT INTO appointments
			(id, patient_id, professional_id, resource_id, start_time, end_time, title, status,
			 notifications_enabled, notification_sent, notify_attempts, session_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
	`, appt.ID, appt.PatientID, appt.ProfessionalID, appt.ResourceID, appt.StartTime, appt.EndTime,
		appt.Title, string(appt.Status), appt.NotificationsEnabled, appt.NotificationSent,
		appt.NotifyAttempts, appt.SessionID, now)
	return translate("create appointment", err)
}

func (r *Postgres) Get(ctx context.Context, id string) (model.Appointment, error) {
	a, err := scanAppointment(r.q.QueryRow(ctx, `
		SELECT `+appointmentColumns("")+`
		FROM appointments
		WHERE id = $1
	`, id))
	return a, translate("get appointment", err)
}

func (r *Postgres) Update(ctx context.Context, id string, upd model.Update) (model.Appointment, error) {
	var status *string
	if upd.Status != nil {
		s := string(*upd.Status)
		status = &s
	}
	a, err := scanAppointment(r.q.QueryRow(ctx, `
		UPDATE appointments
		SET start_time = COALESCE($2, start_time),
			end_time = COALESCE($3, end_time),
			status = COALESCE($4, status),
			notifications_enabled = COALESCE($5, notifications_enabled),
			notification_sent = CASE WHEN $6 THEN false ELSE notification_sent END,
			notify_attempts = CASE WHEN $6 THEN 0 ELSE notify_attempts END,
			updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns("")+`
	`, id, upd.StartTime, upd.EndTime, status, upd.NotificationsEnabled, upd.ResetNotification))
	return a, translate("update appointment", err)
}

func (r *Postgres) Delete(ctx context.Context, id string) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return translate("delete appointment", err)
	}
	if tag.RowsAffected() == 0 {
		return translate("delete appointment", pgx.ErrNoRows)
	}
	return nil
}

func (r *Postgres) ListInRange(ctx context.Context, start, end time.Time, f model.Filter) ([]model.Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentColumns("")+`
		FROM appointments
		WHERE start_time < $2
			AND end_time > $1
			AND ($3 = '' OR professional_id = NULLIF($3, '')::uuid)
			AND ($4 = '' OR resource_id = $4)
			AND ($5 = '' OR patient_id = NULLIF($5, '')::uuid)
			AND ($6 OR status <> 'cancelled')
		ORDER BY start_time ASC, id ASC
	`, start, end, f.ProfessionalID, f.ResourceID, f.PatientID, f.IncludeCancelled)
	if err != nil {
		return nil, translate("list in range", err)
	}
	return scanAppointments(rows)
}

func (r *Postgres) ListByProfessional(ctx context.Context, professionalID string, from time.Time, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentColumns("")+`
		FROM appointments
		WHERE professional_id = $1
			AND start_time >= $2
		ORDER BY start_time ASC, id ASC
		LIMIT $3
	`, professionalID, from, limit)
	if err != nil {
		return nil, translate("list by professional", err)
	}
	return scanAppointments(rows)
}

func (r *Postgres) ListOverlapping(ctx context.Context, q conflicts.Query) ([]model.Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentColumns("")+`
		FROM appointments
		WHERE status <> 'cancelled'
			AND start_time < $2
			AND end_time > $1
			AND (professional_id = NULLIF($3, '')::uuid OR resource_id = NULLIF($4, ''))
			AND ($5 = '' OR id <> NULLIF($5, '')::uuid)
		ORDER BY start_time ASC, id ASC
	`, q.Start, q.End, q.ProfessionalID, q.ResourceID, q.ExcludeID)
	if err != nil {
		return nil, translate("list overlapping", err)
	}
	return scanAppointments(rows)
}

func (r *Postgres) ListUpcomingUnnotified(ctx context.Context, from, to time.Time, maxAttempts int) ([]model.Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentColumns("")+`
		FROM appointments
		WHERE start_time >= $1
			AND start_time <= $2
			AND notifications_enabled
			AND NOT notification_sent
			AND status <> 'cancelled'
			AND ($3 <= 0 OR notify_attempts < $3)
		ORDER BY start_time ASC, id ASC
	`, from, to, maxAttempts)
	if err != nil {
		return nil, translate("list upcoming unnotified", err)
	}
	return scanAppointments(rows)
}

func (r *Postgres) MarkNotified(ctx context.Context, id string, expectedStart time.Time) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE appointments
		SET notification_sent = true,
			updated_at = now()
		WHERE id = $1
			AND start_time = $2
			AND NOT notification_sent
	`, id, expectedStart)
	if err != nil {
		return false, translate("mark notified", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Postgres) RecordNotifyFailure(ctx context.Context, id string) (int, error) {
	var attempts int
	err := r.q.QueryRow(ctx, `
		UPDATE appointments
		SET notify_attempts = notify_attempts + 1,
			updated_at = now()
		WHERE id = $1
		RETURNING notify_attempts
	`, id).Scan(&attempts)
	return attempts, translate("record notify failure", err)
}

func (r *Postgres) ReminderDetails(ctx context.Context, id string) (model.ReminderDetails, error) {
	var d model.ReminderDetails
	a, err := scanAppointment(r.q.QueryRow(ctx, `
		SELECT `+appointmentColumns("a")+`,
			COALESCE(p.full_name, ''), COALESCE(p.phone, ''), COALESCE(pr.full_name, '')
		FROM appointments a
		LEFT JOIN patients p ON p.id = a.patient_id
		LEFT JOIN professionals pr ON pr.id = a.professional_id
		WHERE a.id = $1
	`, id), &d.PatientName, &d.PatientPhone, &d.ProfessionalName)
	if err != nil {
		return model.ReminderDetails{}, translate("reminder details", err)
	}
	d.Appointment = a
	return d, nil
}

func (r *Postgres) GetPlan(ctx context.Context, planID string) (model.Plan, error) {
	var p model.Plan
	err := r.q.QueryRow(ctx, `
		SELECT id::text, patient_id::text, target_sessions, completed_sessions, active
		FROM plans
		WHERE id = $1
	`, planID).Scan(&p.ID, &p.PatientID, &p.TargetSessions, &p.CompletedSessions, &p.Active)
	return p, translate("get plan", err)
}

func (r *Postgres) NextOrdinal(ctx context.Context, planID string) (int, error) {
	var next int
	err := r.q.QueryRow(ctx, `
		SELECT COALESCE(MAX(ordinal), 0) + 1
		FROM sessions
		WHERE plan_id = $1
	`, planID).Scan(&next)
	return next, translate("next ordinal", err)
}

func (r *Postgres) CreateSession(ctx context.Context, planID string, ordinal int) (model.Session, error) {
	s := model.Session{ID: uuid.NewString(), PlanID: planID, Ordinal: ordinal}
	_, err := r.q.Exec(ctx, `
		INSERT INTO sessions (id, plan_id, ordinal)
		VALUES ($1, $2, $3)
	`, s.ID, s.PlanID, s.Ordinal)
	if err != nil {
		return model.Session{}, translate("create session", err)
	}
	return s, nil
}

var errAlreadyLinked = errors.New("already linked")

func (r *Postgres) LinkToAppointment(ctx context.Context, sessionID, appointmentID string) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE sessions
		SET appointment_id = $2
		WHERE id = $1
			AND (appointment_id IS NULL OR appointment_id = $2)
	`, sessionID, appointmentID)
	if err != nil {
		return translate("link session", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: link session %s: %w", sessionID, errAlreadyLinked)
	}

	tag, err = r.q.Exec(ctx, `
		UPDATE appointments
		SET session_id = $1,
			updated_at = now()
		WHERE id = $2
			AND (session_id IS NULL OR session_id = $1)
	`, sessionID, appointmentID)
	if err != nil {
		return translate("link appointment", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: link appointment %s: %w", appointmentID, errAlreadyLinked)
	}
	return nil
}

func (r *Postgres) ListSessions(ctx context.Context, planID string) ([]model.Session, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id::text, plan_id::text, ordinal, appointment_id::text, completed, COALESCE(notes, '')
		FROM sessions
		WHERE plan_id = $1
		ORDER BY ordinal ASC
	`, planID)
	if err != nil {
		return nil, translate("list sessions", err)
	}
	defer rows.Close()

	var out []model.Session
	for rows.Next() {
		var s model.Session
		if err := rows.Scan(&s.ID, &s.PlanID, &s.Ordinal, &s.AppointmentID, &s.Completed, &s.Notes); err != nil {
			return nil, fmt.Errorf("storage: scan session: %w", err)
		}
		out = append(out, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *Postgres) CompleteSession(ctx context.Context, sessionID string) error {
	var planID string
	err := r.q.QueryRow(ctx, `
		UPDATE sessions
		SET completed = true
		WHERE id = $1
			AND NOT completed
		RETURNING plan_id::text
	`, sessionID).Scan(&planID)
	if db.IsNoRows(err) {
		return nil
	}
	if err != nil {
		return translate("complete session", err)
	}

	_, err = r.q.Exec(ctx, `
		UPDATE plans
		SET completed_sessions = completed_sessions + 1
		WHERE id = $1
			AND completed_sessions < target_sessions
	`, planID)
	return translate("advance plan", err)
}
