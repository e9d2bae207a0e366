package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/conflicts"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

var appointmentCols = []string{
	"id", "patient_id", "professional_id", "resource_id", "start_time", "end_time", "title", "status",
	"notifications_enabled", "notification_sent", "notify_attempts", "session_id", "created_at", "updated_at",
}

func appointmentRow(id string, pro *string, start time.Time) []any {
	return []any{
		id, "patient-1", pro, (*string)(nil), start, start.Add(45 * time.Minute), "Therapy", "scheduled",
		true, false, 0, (*string)(nil), start, start,
	}
}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

// insertAppointmentArgs matches the 13 bind parameters of the appointment INSERT.
func insertAppointmentArgs() []any {
	args := make([]any, 13)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestPostgresCreateAssignsIDAndTranslatesExclusion(t *testing.T) {
	mock := newMock(t)
	repo := NewPostgres(mock)
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO appointments").WithArgs(insertAppointmentArgs()...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	appt := &model.Appointment{PatientID: "patient-1", StartTime: start, EndTime: start.Add(time.Hour)}
	require.NoError(t, repo.Create(context.Background(), appt))
	assert.NotEmpty(t, appt.ID)
	assert.Equal(t, model.StatusScheduled, appt.Status)

	mock.ExpectExec("INSERT INTO appointments").WithArgs(insertAppointmentArgs()...).
		WillReturnError(&pgconn.PgError{Code: "23P01"})
	err := repo.Create(context.Background(), &model.Appointment{PatientID: "patient-1", StartTime: start, EndTime: start.Add(time.Hour)})
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.ErrorIs(t, err, model.ErrConflict)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetNotFound(t *testing.T) {
	mock := newMock(t)
	repo := NewPostgres(mock)

	mock.ExpectQuery("FROM appointments").WithArgs("missing").WillReturnError(pgx.ErrNoRows)
	_, err := repo.Get(context.Background(), "missing")
	assert.True(t, IsNotFound(err))
	assert.ErrorIs(t, err, model.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListOverlapping(t *testing.T) {
	mock := newMock(t)
	repo := NewPostgres(mock)
	pro := model.StringPtr("pro-1")
	start := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows(appointmentCols).
		AddRow(appointmentRow("a-1", pro, start)...).
		AddRow(appointmentRow("a-2", pro, start.Add(15*time.Minute))...)
	q := conflicts.Query{ProfessionalID: "pro-1", Start: start, End: start.Add(time.Hour)}
	mock.ExpectQuery("status <> 'cancelled'").
		WithArgs(q.Start, q.End, "pro-1", "", "").
		WillReturnRows(rows)

	got, err := repo.ListOverlapping(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a-1", got[0].ID)
	assert.Equal(t, "pro-1", model.Deref(got[0].ProfessionalID))
	assert.Equal(t, model.StatusScheduled, got[1].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMarkNotifiedReportsStaleStart(t *testing.T) {
	mock := newMock(t)
	repo := NewPostgres(mock)
	start := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec("SET notification_sent = true").
		WithArgs("a-1", start).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("SET notification_sent = true").
		WithArgs("a-1", start).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := repo.MarkNotified(context.Background(), "a-1", start)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkNotified(context.Background(), "a-1", start)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecordNotifyFailure(t *testing.T) {
	mock := newMock(t)
	repo := NewPostgres(mock)

	mock.ExpectQuery("notify_attempts = notify_attempts \\+ 1").
		WithArgs("a-1").
		WillReturnRows(pgxmock.NewRows([]string{"notify_attempts"}).AddRow(3))

	n, err := repo.RecordNotifyFailure(context.Background(), "a-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReminderDetails(t *testing.T) {
	mock := newMock(t)
	repo := NewPostgres(mock)
	start := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)

	cols := append(append([]string{}, appointmentCols...), "patient_name", "patient_phone", "professional_name")
	row := append(appointmentRow("a-1", model.StringPtr("pro-1"), start), "Ana", "+15550001111", "Dr. Ruiz")
	mock.ExpectQuery("LEFT JOIN patients").WithArgs("a-1").WillReturnRows(pgxmock.NewRows(cols).AddRow(row...))

	d, err := repo.ReminderDetails(context.Background(), "a-1")
	require.NoError(t, err)
	assert.Equal(t, "a-1", d.Appointment.ID)
	assert.Equal(t, "+15550001111", d.PatientPhone)
	assert.Equal(t, "Dr. Ruiz", d.ProfessionalName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresInTxCommitsAndRollsBack(t *testing.T) {
	mock := newMock(t)
	repo := NewPostgres(mock)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO sessions").WithArgs(pgxmock.AnyArg(), "plan-1", 1).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	err := repo.InTx(ctx, func(ctx context.Context, tx Store) error {
		_, err := tx.CreateSession(ctx, "plan-1", 1)
		return err
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO sessions").WithArgs(pgxmock.AnyArg(), "plan-1", 2).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectRollback()
	err = repo.InTx(ctx, func(ctx context.Context, tx Store) error {
		if _, err := tx.CreateSession(ctx, "plan-1", 2); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLinkRejectsRelink(t *testing.T) {
	mock := newMock(t)
	repo := NewPostgres(mock)

	mock.ExpectExec("UPDATE sessions").WithArgs("s-1", "a-1").WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err := repo.LinkToAppointment(context.Background(), "s-1", "a-1")
	assert.ErrorIs(t, err, errAlreadyLinked)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCompleteSessionAdvancesPlan(t *testing.T) {
	mock := newMock(t)
	repo := NewPostgres(mock)

	mock.ExpectQuery("UPDATE sessions").WithArgs("s-1").
		WillReturnRows(pgxmock.NewRows([]string{"plan_id"}).AddRow("plan-1"))
	mock.ExpectExec("UPDATE plans").WithArgs("plan-1").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, repo.CompleteSession(context.Background(), "s-1"))

	mock.ExpectQuery("UPDATE sessions").WithArgs("s-1").WillReturnError(pgx.ErrNoRows)
	require.NoError(t, repo.CompleteSession(context.Background(), "s-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
