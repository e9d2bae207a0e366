package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/clock"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/recovery"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/recurrence"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/reminders"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/sms"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/storage"
)

var now = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	store *storage.Memory
	sched *reminders.Scheduler
	srv   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureIn(t, nil)
}

// newFixtureIn builds the API with the generator defaulting to loc.
func newFixtureIn(t *testing.T, loc *time.Location) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemory()
	store.PutPlan(model.Plan{ID: "plan-1", PatientID: "patient-1", TargetSessions: 10, Active: true})
	store.PutPlan(model.Plan{ID: "plan-off", PatientID: "patient-1", TargetSessions: 10})

	fake := clock.NewFake(now)
	sched := reminders.NewScheduler(store, sms.NewNoopSender(), nil, logger, nil, reminders.Config{Clock: fake})
	t.Cleanup(sched.Stop)
	svc := booking.NewService(store, sched, logger)
	gen := recurrence.NewGenerator(store, sched, logger, nil, recurrence.Config{Location: loc})
	sweep := recovery.New(store, sched, logger, nil, recovery.Config{Clock: fake})

	router := NewRouter(Routes{
		Appointments: NewAppointmentHandler(svc, store, logger),
		Plans:        NewPlanHandler(gen, logger),
		Reminders:    NewReminderHandler(sweep, sched, logger),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &fixture{store: store, sched: sched, srv: srv}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, r)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func (f *fixture) book(t *testing.T, start, end string) appointmentItem {
	t.Helper()
	status, body := f.do(t, http.MethodPost, "/v1/appointments",
		`{"patient_id":"patient-1","professional_id":"pro-1","start_time":"`+start+`","end_time":"`+end+`","title":"Evaluation"}`)
	require.Equal(t, http.StatusCreated, status, string(body))
	var item appointmentItem
	require.NoError(t, json.Unmarshal(body, &item))
	return item
}

func TestBookAndPending(t *testing.T) {
	f := newFixture(t)
	item := f.book(t, "2026-03-02T09:00:00Z", "2026-03-02T10:00:00Z")
	assert.NotEmpty(t, item.AppointmentID)
	assert.Equal(t, "scheduled", item.Status)
	assert.True(t, item.NotificationsEnabled)

	status, body := f.do(t, http.MethodGet, "/v1/reminders/pending", "")
	require.Equal(t, http.StatusOK, status)
	var pending []pendingItem
	require.NoError(t, json.Unmarshal(body, &pending))
	require.Len(t, pending, 1)
	assert.Equal(t, item.AppointmentID, pending[0].AppointmentID)
	assert.Equal(t, "2026-03-02T08:30:00Z", pending[0].FireAt)
}

func TestBookOverlapReturnsConflicts(t *testing.T) {
	f := newFixture(t)
	first := f.book(t, "2026-03-02T09:00:00Z", "2026-03-02T10:00:00Z")

	status, body := f.do(t, http.MethodPost, "/v1/appointments",
		`{"patient_id":"patient-2","professional_id":"pro-1","start_time":"2026-03-02T09:30:00Z","end_time":"2026-03-02T10:30:00Z"}`)
	require.Equal(t, http.StatusConflict, status)
	var resp conflictResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	require.Len(t, resp.Conflicts, 1)
	assert.Equal(t, first.AppointmentID, resp.Conflicts[0].AppointmentID)
}

func TestBookAdjacentIsAllowed(t *testing.T) {
	f := newFixture(t)
	f.book(t, "2026-03-02T09:00:00Z", "2026-03-02T10:00:00Z")
	f.book(t, "2026-03-02T10:00:00Z", "2026-03-02T11:00:00Z")
}

func TestBookValidation(t *testing.T) {
	f := newFixture(t)
	cases := map[string]string{
		"bad json":      `{`,
		"no patient":    `{"start_time":"2026-03-02T09:00:00Z","end_time":"2026-03-02T10:00:00Z"}`,
		"bad start":     `{"patient_id":"p","start_time":"tomorrow","end_time":"2026-03-02T10:00:00Z"}`,
		"end <= start":  `{"patient_id":"p","start_time":"2026-03-02T10:00:00Z","end_time":"2026-03-02T10:00:00Z"}`,
		"negative lead": `{"patient_id":"p","start_time":"2026-03-02T09:00:00Z","end_time":"2026-03-02T10:00:00Z","lead_minutes":-5}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			status, _ := f.do(t, http.MethodPost, "/v1/appointments", body)
			assert.Equal(t, http.StatusBadRequest, status)
		})
	}
}

func TestMoveReschedulesReminder(t *testing.T) {
	f := newFixture(t)
	item := f.book(t, "2026-03-02T09:00:00Z", "2026-03-02T10:00:00Z")

	status, body := f.do(t, http.MethodPost, "/v1/appointments/"+item.AppointmentID+"/move",
		`{"start_time":"2026-03-02T11:00:00Z","end_time":"2026-03-02T12:00:00Z"}`)
	require.Equal(t, http.StatusOK, status, string(body))

	pending := f.sched.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC), pending[0].FireAt.UTC())
}

func TestMoveUnknownIsNotFound(t *testing.T) {
	f := newFixture(t)
	status, _ := f.do(t, http.MethodPost, "/v1/appointments/missing/move",
		`{"start_time":"2026-03-02T11:00:00Z","end_time":"2026-03-02T12:00:00Z"}`)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCancelDropsReminderAndFreesSlot(t *testing.T) {
	f := newFixture(t)
	item := f.book(t, "2026-03-02T09:00:00Z", "2026-03-02T10:00:00Z")

	status, body := f.do(t, http.MethodPost, "/v1/appointments/"+item.AppointmentID+"/cancel", "")
	require.Equal(t, http.StatusOK, status)
	var cancelled appointmentItem
	require.NoError(t, json.Unmarshal(body, &cancelled))
	assert.Equal(t, "cancelled", cancelled.Status)
	assert.Empty(t, f.sched.Pending())

	f.book(t, "2026-03-02T09:00:00Z", "2026-03-02T10:00:00Z")
}

func TestCancelCompletedIsRejected(t *testing.T) {
	f := newFixture(t)
	item := f.book(t, "2026-03-02T09:00:00Z", "2026-03-02T10:00:00Z")

	status, _ := f.do(t, http.MethodPatch, "/v1/appointments/"+item.AppointmentID+"/status", `{"status":"completed"}`)
	require.Equal(t, http.StatusOK, status)
	status, _ = f.do(t, http.MethodPost, "/v1/appointments/"+item.AppointmentID+"/cancel", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestSetStatusRejectsInvalidTransition(t *testing.T) {
	f := newFixture(t)
	item := f.book(t, "2026-03-02T09:00:00Z", "2026-03-02T10:00:00Z")

	status, _ := f.do(t, http.MethodPatch, "/v1/appointments/"+item.AppointmentID+"/status", `{"status":"confirmed"}`)
	require.Equal(t, http.StatusOK, status)
	status, _ = f.do(t, http.MethodPatch, "/v1/appointments/"+item.AppointmentID+"/status", `{"status":"scheduled"}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestSetNotificationsDisableCancelsJob(t *testing.T) {
	f := newFixture(t)
	item := f.book(t, "2026-03-02T09:00:00Z", "2026-03-02T10:00:00Z")

	status, _ := f.do(t, http.MethodPatch, "/v1/appointments/"+item.AppointmentID+"/notifications", `{}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body := f.do(t, http.MethodPatch, "/v1/appointments/"+item.AppointmentID+"/notifications", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, status)
	var updated appointmentItem
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.False(t, updated.NotificationsEnabled)
	assert.Empty(t, f.sched.Pending())
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	item := f.book(t, "2026-03-02T09:00:00Z", "2026-03-02T10:00:00Z")

	status, _ := f.do(t, http.MethodDelete, "/v1/appointments/"+item.AppointmentID, "")
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = f.do(t, http.MethodDelete, "/v1/appointments/"+item.AppointmentID, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestListAndConflictCheck(t *testing.T) {
	f := newFixture(t)
	item := f.book(t, "2026-03-02T09:00:00Z", "2026-03-02T10:00:00Z")
	f.book(t, "2026-03-03T09:00:00Z", "2026-03-03T10:00:00Z")

	status, body := f.do(t, http.MethodGet, "/v1/appointments?from=2026-03-02T00:00:00Z&to=2026-03-03T00:00:00Z&professional_id=pro-1", "")
	require.Equal(t, http.StatusOK, status)
	var items []appointmentItem
	require.NoError(t, json.Unmarshal(body, &items))
	require.Len(t, items, 1)
	assert.Equal(t, item.AppointmentID, items[0].AppointmentID)

	status, _ = f.do(t, http.MethodGet, "/v1/appointments?from=2026-03-02T00:00:00Z", "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = f.do(t, http.MethodGet, "/v1/conflicts?professional_id=pro-1&start_time=2026-03-02T09:59:00Z&end_time=2026-03-02T10:30:00Z", "")
	require.Equal(t, http.StatusOK, status)
	var check struct {
		Conflict  bool              `json:"conflict"`
		Conflicts []appointmentItem `json:"conflicts"`
	}
	require.NoError(t, json.Unmarshal(body, &check))
	assert.True(t, check.Conflict)
	require.Len(t, check.Conflicts, 1)
	assert.Equal(t, item.AppointmentID, check.Conflicts[0].AppointmentID)

	status, body = f.do(t, http.MethodGet, "/v1/conflicts?professional_id=pro-1&start_time=2026-03-02T10:00:00Z&end_time=2026-03-02T10:30:00Z", "")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &check))
	assert.False(t, check.Conflict)

	status, body = f.do(t, http.MethodGet, "/v1/professionals/pro-1/appointments?from=2026-03-01T00:00:00Z", "")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &items))
	assert.Len(t, items, 2)
}

func TestGenerateSessions(t *testing.T) {
	f := newFixture(t)
	status, body := f.do(t, http.MethodPost, "/v1/plans/plan-1/sessions/generate",
		`{"start_date":"2026-03-02","weekdays":["mon","wed","fri"],"time_of_day":"10:00","duration_minutes":60,"professional_id":"pro-1","session_count":3}`)
	require.Equal(t, http.StatusOK, status, string(body))

	var resp generateResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	require.Len(t, resp.Created, 3)
	assert.Empty(t, resp.Conflicts)
	assert.False(t, resp.HorizonExceeded)
	assert.Equal(t, "2026-03-02T10:00:00Z", resp.Created[0].Appointment.StartTime)
	assert.Equal(t, "2026-03-04T10:00:00Z", resp.Created[1].Appointment.StartTime)
	assert.Equal(t, "2026-03-06T10:00:00Z", resp.Created[2].Appointment.StartTime)
	assert.Len(t, f.sched.Pending(), 3)
}

func TestGenerateUsesDefaultZoneForStartDate(t *testing.T) {
	lima, err := time.LoadLocation("America/Lima")
	if err != nil {
		t.Skip("zone database unavailable")
	}
	f := newFixtureIn(t, lima)

	status, body := f.do(t, http.MethodPost, "/v1/plans/plan-1/sessions/generate",
		`{"start_date":"2026-03-02","weekdays":["sun","mon"],"time_of_day":"09:00","duration_minutes":60,"professional_id":"pro-1","session_count":1}`)
	require.Equal(t, http.StatusOK, status, string(body))

	var resp generateResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	require.Len(t, resp.Created, 1)
	assert.Equal(t, "2026-03-02T14:00:00Z", resp.Created[0].Appointment.StartTime)
}

func TestGenerateErrors(t *testing.T) {
	f := newFixture(t)
	valid := `"start_date":"2026-03-02","time_of_day":"10:00","duration_minutes":60,"professional_id":"pro-1","session_count":3`

	status, _ := f.do(t, http.MethodPost, "/v1/plans/plan-1/sessions/generate", `{"weekdays":["someday"],`+valid+`}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = f.do(t, http.MethodPost, "/v1/plans/plan-off/sessions/generate", `{"weekdays":["mon"],`+valid+`}`)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = f.do(t, http.MethodPost, "/v1/plans/missing/sessions/generate", `{"weekdays":["mon"],`+valid+`}`)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSweepIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.book(t, "2026-03-02T09:00:00Z", "2026-03-02T10:00:00Z")
	before := f.sched.Pending()

	for i := 0; i < 2; i++ {
		status, body := f.do(t, http.MethodPost, "/v1/reminders/sweep?days=3", "")
		require.Equal(t, http.StatusOK, status)
		assert.JSONEq(t, `{"rescheduled":1}`, string(body))
	}
	assert.Equal(t, before, f.sched.Pending())

	status, _ := f.do(t, http.MethodPost, "/v1/reminders/sweep?days=zero", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

type failingSweep struct{}

func (failingSweep) RescheduleUpcoming(context.Context, int) (int, error) {
	return 0, io.ErrUnexpectedEOF
}

func TestSweepFailureIsInternal(t *testing.T) {
	h := NewReminderHandler(failingSweep{}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	rec := httptest.NewRecorder()
	h.Sweep(rec, httptest.NewRequest(http.MethodPost, "/v1/reminders/sweep", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
