package booking

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/storage"
)

type call struct {
	op   string
	id   string
	lead time.Duration
}

type recordingReminders struct {
	calls []call
}

func (r *recordingReminders) Schedule(_ context.Context, appt model.Appointment) {
	r.calls = append(r.calls, call{op: "schedule", id: appt.ID})
}

func (r *recordingReminders) ScheduleWithLeadTime(_ context.Context, appt model.Appointment, lead time.Duration) {
	r.calls = append(r.calls, call{op: "schedule", id: appt.ID, lead: lead})
}

func (r *recordingReminders) Cancel(id string) bool {
	r.calls = append(r.calls, call{op: "cancel", id: id})
	return true
}

func (r *recordingReminders) ops() []string {
	var out []string
	for _, c := range r.calls {
		out = append(out, c.op)
	}
	return out
}

var nine = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newService() (*Service, *storage.Memory, *recordingReminders) {
	store := storage.NewMemory()
	rem := &recordingReminders{}
	return NewService(store, rem, slog.New(slog.NewTextHandler(io.Discard, nil))), store, rem
}

func bookReq(start time.Time) BookRequest {
	return BookRequest{
		PatientID:      "patient-1",
		ProfessionalID: "pro-1",
		Start:          start,
		End:            start.Add(time.Hour),
		Title:          "Evaluation",
	}
}

func TestBookSchedulesReminder(t *testing.T) {
	svc, _, rem := newService()
	req := bookReq(nine)
	req.LeadTime = 2 * time.Hour

	res, err := svc.Book(context.Background(), req)
	require.NoError(t, err)
	require.False(t, res.Conflicted())
	assert.NotEmpty(t, res.Appointment.ID)
	assert.True(t, res.Appointment.NotificationsEnabled)
	assert.Equal(t, []call{{op: "schedule", id: res.Appointment.ID, lead: 2 * time.Hour}}, rem.calls)
}

func TestBookReturnsConflicts(t *testing.T) {
	svc, store, rem := newService()
	ctx := context.Background()
	first, err := svc.Book(ctx, bookReq(nine))
	require.NoError(t, err)
	rem.calls = nil

	res, err := svc.Book(ctx, bookReq(nine.Add(30*time.Minute)))
	require.NoError(t, err)
	require.True(t, res.Conflicted())
	assert.Equal(t, first.Appointment.ID, res.Conflicts[0].ID)
	assert.Empty(t, res.Appointment.ID)
	assert.Empty(t, rem.calls)

	all, err := store.ListByProfessional(ctx, "pro-1", nine.Add(-time.Hour), 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// back-to-back is fine
	res, err = svc.Book(ctx, bookReq(nine.Add(time.Hour)))
	require.NoError(t, err)
	assert.False(t, res.Conflicted())
}

func TestBookValidation(t *testing.T) {
	svc, _, _ := newService()
	req := bookReq(nine)
	req.End = req.Start
	_, err := svc.Book(context.Background(), req)
	assert.ErrorIs(t, err, model.ErrInvalidInterval)
	assert.True(t, IsClientError(err))

	req = bookReq(nine)
	req.PatientID = ""
	_, err = svc.Book(context.Background(), req)
	assert.ErrorIs(t, err, model.ErrInvalidRequest)
}

func TestBookTruncatesToStoredPrecision(t *testing.T) {
	svc, store, _ := newService()
	ctx := context.Background()
	req := bookReq(nine.Add(1500 * time.Nanosecond))

	res, err := svc.Book(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, nine.Add(time.Microsecond), res.Appointment.StartTime)
	assert.Equal(t, nine.Add(time.Hour+time.Microsecond), res.Appointment.EndTime)

	stored, err := store.Get(ctx, res.Appointment.ID)
	require.NoError(t, err)
	assert.True(t, stored.StartTime.Equal(res.Appointment.StartTime))

	moved, err := svc.Move(ctx, res.Appointment.ID, nine.Add(3*time.Hour+999), nine.Add(4*time.Hour+999))
	require.NoError(t, err)
	assert.Equal(t, nine.Add(3*time.Hour), moved.Appointment.StartTime)
}

func TestMoveResetsReminder(t *testing.T) {
	svc, store, rem := newService()
	ctx := context.Background()
	booked, err := svc.Book(ctx, bookReq(nine))
	require.NoError(t, err)
	id := booked.Appointment.ID
	_, err = store.MarkNotified(ctx, id, nine)
	require.NoError(t, err)
	rem.calls = nil

	// moving within its own slot does not conflict with itself
	res, err := svc.Move(ctx, id, nine.Add(30*time.Minute), nine.Add(90*time.Minute))
	require.NoError(t, err)
	require.False(t, res.Conflicted())
	assert.False(t, res.Appointment.NotificationSent)
	assert.Equal(t, nine.Add(30*time.Minute), res.Appointment.StartTime)
	assert.Equal(t, []string{"cancel", "schedule"}, rem.ops())
}

func TestMoveIntoConflict(t *testing.T) {
	svc, _, rem := newService()
	ctx := context.Background()
	a, err := svc.Book(ctx, bookReq(nine))
	require.NoError(t, err)
	b, err := svc.Book(ctx, bookReq(nine.Add(2*time.Hour)))
	require.NoError(t, err)
	rem.calls = nil

	res, err := svc.Move(ctx, b.Appointment.ID, nine.Add(30*time.Minute), nine.Add(90*time.Minute))
	require.NoError(t, err)
	require.True(t, res.Conflicted())
	assert.Equal(t, a.Appointment.ID, res.Conflicts[0].ID)
	assert.Empty(t, rem.calls)

	_, err = svc.Move(ctx, "missing", nine, nine.Add(time.Hour))
	assert.True(t, storage.IsNotFound(err))
}

func TestCancelFreesSlotAndCancelsReminder(t *testing.T) {
	svc, _, rem := newService()
	ctx := context.Background()
	a, err := svc.Book(ctx, bookReq(nine))
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, a.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, cancelled.Status)
	assert.Equal(t, call{op: "cancel", id: a.Appointment.ID}, rem.calls[len(rem.calls)-1])

	res, err := svc.Book(ctx, bookReq(nine))
	require.NoError(t, err)
	assert.False(t, res.Conflicted())

	_, err = svc.Move(ctx, a.Appointment.ID, nine.Add(3*time.Hour), nine.Add(4*time.Hour))
	assert.ErrorIs(t, err, model.ErrInvalidStatus)
}

func TestCancelHonoursLifecycle(t *testing.T) {
	svc, _, rem := newService()
	ctx := context.Background()
	a, err := svc.Book(ctx, bookReq(nine))
	require.NoError(t, err)
	_, err = svc.SetStatus(ctx, a.Appointment.ID, model.StatusCompleted)
	require.NoError(t, err)
	rem.calls = nil

	_, err = svc.Cancel(ctx, a.Appointment.ID)
	assert.ErrorIs(t, err, model.ErrInvalidStatus)
	assert.True(t, IsClientError(err))
	assert.Empty(t, rem.calls)

	b, err := svc.Book(ctx, bookReq(nine.Add(2*time.Hour)))
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, b.Appointment.ID)
	require.NoError(t, err)
	again, err := svc.Cancel(ctx, b.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, again.Status)

	_, err = svc.Cancel(ctx, "missing")
	assert.True(t, storage.IsNotFound(err))
}

func TestDelete(t *testing.T) {
	svc, store, rem := newService()
	ctx := context.Background()
	a, err := svc.Book(ctx, bookReq(nine))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, a.Appointment.ID))
	assert.Equal(t, "cancel", rem.ops()[len(rem.calls)-1])
	_, err = store.Get(ctx, a.Appointment.ID)
	assert.True(t, storage.IsNotFound(err))

	assert.True(t, storage.IsNotFound(svc.Delete(ctx, a.Appointment.ID)))
}

func TestSetStatusCompletesSession(t *testing.T) {
	svc, store, rem := newService()
	ctx := context.Background()
	store.PutPlan(model.Plan{ID: "plan-1", PatientID: "patient-1", TargetSessions: 4, Active: true})
	a, err := svc.Book(ctx, bookReq(nine))
	require.NoError(t, err)
	s, err := store.CreateSession(ctx, "plan-1", 1)
	require.NoError(t, err)
	require.NoError(t, store.LinkToAppointment(ctx, s.ID, a.Appointment.ID))
	rem.calls = nil

	got, err := svc.SetStatus(ctx, a.Appointment.ID, model.StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, got.Status)
	assert.Empty(t, rem.calls)

	_, err = svc.SetStatus(ctx, a.Appointment.ID, model.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, []string{"cancel"}, rem.ops())

	plan, err := store.GetPlan(ctx, "plan-1")
	require.NoError(t, err)
	assert.Equal(t, 1, plan.CompletedSessions)

	_, err = svc.SetStatus(ctx, a.Appointment.ID, model.StatusScheduled)
	assert.ErrorIs(t, err, model.ErrInvalidStatus)
	_, err = svc.SetStatus(ctx, a.Appointment.ID, model.Status("noshow"))
	assert.ErrorIs(t, err, model.ErrInvalidRequest)
}

func TestSetNotifications(t *testing.T) {
	svc, _, rem := newService()
	ctx := context.Background()
	a, err := svc.Book(ctx, bookReq(nine))
	require.NoError(t, err)
	rem.calls = nil

	off, err := svc.SetNotifications(ctx, a.Appointment.ID, false)
	require.NoError(t, err)
	assert.False(t, off.NotificationsEnabled)
	on, err := svc.SetNotifications(ctx, a.Appointment.ID, true)
	require.NoError(t, err)
	assert.True(t, on.NotificationsEnabled)
	assert.Equal(t, []string{"cancel", "schedule"}, rem.ops())
}

func TestRefresh(t *testing.T) {
	svc, _, rem := newService()
	ctx := context.Background()
	a, err := svc.Book(ctx, bookReq(nine))
	require.NoError(t, err)
	rem.calls = nil

	require.NoError(t, svc.Refresh(ctx, a.Appointment.ID))
	require.NoError(t, svc.Refresh(ctx, "gone"))
	assert.Equal(t, []call{
		{op: "cancel", id: a.Appointment.ID},
		{op: "schedule", id: a.Appointment.ID},
		{op: "cancel", id: "gone"},
	}, rem.calls)
}
