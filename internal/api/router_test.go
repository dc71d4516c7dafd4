package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-flow/internal/api"
	"github.com/hackgods/clinic-flow/internal/app"
	"github.com/hackgods/clinic-flow/internal/appointment"
	"github.com/hackgods/clinic-flow/internal/clock"
	"github.com/hackgods/clinic-flow/internal/metrics"
	"github.com/hackgods/clinic-flow/internal/patient"
	redisclient "github.com/hackgods/clinic-flow/internal/redis"
	"github.com/hackgods/clinic-flow/internal/store/memory"
)

var nine = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type server struct {
	handler   http.Handler
	clock     *clock.Manual
	patient   uuid.UUID
	clinician uuid.UUID
}

func newServer(t *testing.T, checks ...api.Check) *server {
	t.Helper()

	store := memory.New()
	clk := clock.NewManual(nine)
	reg := prometheus.NewRegistry()
	a := app.New(app.MemoryBackend(store), redisclient.NewLocalLocker(), clk, appointment.DefaultPolicy(), metrics.New(reg))

	s := &server{
		clock:     clk,
		patient:   uuid.New(),
		clinician: uuid.New(),
	}
	store.Patients().AddPatient(patient.Patient{ID: s.patient, Name: "Ana Pérez"})
	store.Patients().AddClinician(patient.Clinician{ID: s.clinician, Name: "Dr. Soto", IsClinician: true})

	s.handler = api.NewRouter(api.RouterConfig{
		App:     a,
		Checks:  checks,
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Env:     "test",
		Version: "dev",
	})
	return s
}

func (s *server) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func (s *server) createRoom(t *testing.T, code string) api.RoomResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/rooms", map[string]any{"code": code, "capacity": 1})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[api.RoomResponse](t, rec)
}

func (s *server) schedule(t *testing.T, roomID uuid.UUID, start time.Time, planned int) api.AppointmentResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/appointments", map[string]any{
		"patient_id":      s.patient,
		"clinician_id":    s.clinician,
		"room_id":         roomID,
		"scheduled_start": start,
		"planned_minutes": planned,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[api.AppointmentResponse](t, rec)
}

func TestAppointmentFlow(t *testing.T) {
	s := newServer(t)
	box := s.createRoom(t, "BOX-1")
	appt := s.schedule(t, box.ID, nine, 30)
	assert.Equal(t, "SCHEDULED", appt.Status)

	s.clock.Advance(5 * time.Minute)
	rec := s.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/start", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	started := decodeBody[api.AppointmentResponse](t, rec)
	assert.Equal(t, "IN_PROGRESS", started.Status)
	require.NotNil(t, started.ArrivalDelay)
	assert.Equal(t, 5, *started.ArrivalDelay)

	rec = s.do(t, http.MethodGet, "/rooms/"+box.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	occupied := decodeBody[api.RoomResponse](t, rec)
	assert.Equal(t, "OCUPADO", occupied.Status)
	require.NotNil(t, occupied.Occupant)
	assert.Equal(t, appt.ID, occupied.Occupant.ID)

	s.clock.Advance(35 * time.Minute)
	rec = s.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/finalize", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	done := decodeBody[api.AppointmentResponse](t, rec)
	assert.Equal(t, "COMPLETED", done.Status)
	require.NotNil(t, done.Variance)
	assert.Equal(t, 5, *done.Variance)

	rec = s.do(t, http.MethodGet, "/appointments?patient_id="+s.patient.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]api.AppointmentResponse](t, rec), 1)
}

func TestInvalidTransitionCarriesState(t *testing.T) {
	s := newServer(t)
	box := s.createRoom(t, "BOX-1")
	appt := s.schedule(t, box.ID, nine, 30)

	rec := s.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/finalize", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeBody[api.ErrorResponse](t, rec)
	assert.Equal(t, "invalid_transition", resp.Error)
	assert.Equal(t, "SCHEDULED", resp.State)
}

func TestBookingOnBusyRoomConflicts(t *testing.T) {
	s := newServer(t)
	box := s.createRoom(t, "BOX-1")

	rec := s.do(t, http.MethodPost, "/rooms/"+box.ID.String()+"/bookings", map[string]any{"duration_minutes": 30})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	booking := decodeBody[api.BookingResponse](t, rec)

	rec = s.do(t, http.MethodPost, "/rooms/"+box.ID.String()+"/bookings", map[string]any{"duration_minutes": 15})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/rooms/"+box.ID.String()+"/release", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/bookings/"+booking.ID.String()+"/finalize", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[api.BookingResponse](t, rec).Active)

	rec = s.do(t, http.MethodGet, "/rooms?status=DISPONIBLE", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]api.RoomResponse](t, rec), 1)
}

func TestRequestValidation(t *testing.T) {
	s := newServer(t)
	box := s.createRoom(t, "BOX-1")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"malformed json", http.MethodPost, "/rooms", "{", http.StatusBadRequest},
		{"missing code", http.MethodPost, "/rooms", map[string]any{"capacity": 1}, http.StatusUnprocessableEntity},
		{"bad duration", http.MethodPost, "/rooms/" + box.ID.String() + "/bookings", map[string]any{"duration_minutes": 20}, http.StatusUnprocessableEntity},
		{"bad id", http.MethodGet, "/appointments/not-a-uuid", nil, http.StatusBadRequest},
		{"missing filter", http.MethodGet, "/appointments", nil, http.StatusBadRequest},
		{"bad status filter", http.MethodGet, "/rooms?status=CLOSED", nil, http.StatusBadRequest},
		{"empty pathway", http.MethodPost, "/pathways", map[string]any{"patient_id": uuid.New(), "stages": []any{}}, http.StatusUnprocessableEntity},
		{"unknown appointment", http.MethodGet, "/appointments/" + uuid.New().String(), nil, http.StatusNotFound},
		{"unknown patient", http.MethodPost, "/appointments", map[string]any{
			"patient_id":      uuid.New(),
			"clinician_id":    uuid.New(),
			"room_id":         box.ID,
			"scheduled_start": nine,
			"planned_minutes": 30,
		}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestPathwayMirrorsCurrentStage(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, http.MethodPost, "/pathways", map[string]any{
		"patient_id": s.patient,
		"stages": []map[string]any{
			{"name": "Triage", "estimated_minutes": 10},
			{"name": "Consultation", "estimated_minutes": 20},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	p := decodeBody[api.PathwayResponse](t, rec)
	assert.Equal(t, "INICIADA", p.Status)
	require.Len(t, p.Stages, 2)

	rec = s.do(t, http.MethodPost, "/pathways/"+p.ID.String()+"/advance", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	p = decodeBody[api.PathwayResponse](t, rec)
	assert.Equal(t, "EN_PROGRESO", p.Status)
	assert.Equal(t, "Triage", p.CurrentStage)

	rec = s.do(t, http.MethodPost, "/patients/"+s.patient.String()+"/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Triage", decodeBody[api.SyncResponse](t, rec).CurrentStage)

	s.clock.Advance(15 * time.Minute)
	rec = s.do(t, http.MethodGet, "/pathways/"+p.ID.String()+"/delays", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	delays := decodeBody[[]api.StageDelayResponse](t, rec)
	require.Len(t, delays, 1)
	assert.Equal(t, "Triage", delays[0].Name)
	assert.Equal(t, 15, delays[0].ElapsedMinutes)

	rec = s.do(t, http.MethodPost, "/pathways/"+p.ID.String()+"/pause", map[string]any{"reason": "lab results"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PAUSADA", decodeBody[api.PathwayResponse](t, rec).Status)

	rec = s.do(t, http.MethodPost, "/pathways/"+p.ID.String()+"/stages/"+p.Stages[0].ID.String()+"/resume", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodDelete, "/pathways/"+p.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/pathways/"+p.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSweepEndpoint(t *testing.T) {
	s := newServer(t)
	box := s.createRoom(t, "BOX-1")
	s.schedule(t, box.ID, nine, 30)

	s.clock.Advance(time.Minute)
	rec := s.do(t, http.MethodPost, "/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rep := decodeBody[api.SweepResponse](t, rec)
	assert.Equal(t, 1, rep.Actions["started"])
	assert.Equal(t, 1, rep.Changes)

	rec = s.do(t, http.MethodPost, "/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decodeBody[api.SweepResponse](t, rec).Changes)

	rec = s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "clinic_sweep_actions_total")
}

func TestReadiness(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("down") }

	tests := []struct {
		name   string
		checks []api.Check
		status int
		state  string
	}{
		{"no dependencies", nil, http.StatusOK, "ok"},
		{"all up", []api.Check{{Name: "postgres", Critical: true, Ping: ok}, {Name: "redis", Ping: ok}}, http.StatusOK, "ok"},
		{"redis down", []api.Check{{Name: "postgres", Critical: true, Ping: ok}, {Name: "redis", Ping: down}}, http.StatusOK, "degraded"},
		{"postgres down", []api.Check{{Name: "postgres", Critical: true, Ping: down}, {Name: "redis", Ping: ok}}, http.StatusServiceUnavailable, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newServer(t, tt.checks...)
			rec := s.do(t, http.MethodGet, "/health/ready", nil)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.state, decodeBody[api.ReadinessResponse](t, rec).Status)
		})
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	s := newServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}
