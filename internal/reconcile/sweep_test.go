package reconcile_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-flow/internal/app"
	"github.com/hackgods/clinic-flow/internal/appointment"
	"github.com/hackgods/clinic-flow/internal/clock"
	"github.com/hackgods/clinic-flow/internal/failure"
	"github.com/hackgods/clinic-flow/internal/metrics"
	"github.com/hackgods/clinic-flow/internal/patient"
	"github.com/hackgods/clinic-flow/internal/reconcile"
	redisclient "github.com/hackgods/clinic-flow/internal/redis"
	"github.com/hackgods/clinic-flow/internal/room"
	"github.com/hackgods/clinic-flow/internal/store/memory"
)

var nine = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type env struct {
	ctx       context.Context
	clock     *clock.Manual
	app       *app.App
	reg       *prometheus.Registry
	patient   uuid.UUID
	clinician uuid.UUID
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := memory.New()
	clk := clock.NewManual(nine.Add(-time.Hour))
	reg := prometheus.NewRegistry()

	e := &env{
		ctx:       context.Background(),
		clock:     clk,
		reg:       reg,
		app:       app.New(app.MemoryBackend(store), redisclient.NewLocalLocker(), clk, appointment.DefaultPolicy(), metrics.New(reg)),
		patient:   uuid.New(),
		clinician: uuid.New(),
	}
	store.Patients().AddPatient(patient.Patient{ID: e.patient, Name: "Marta Díaz"})
	store.Patients().AddClinician(patient.Clinician{ID: e.clinician, Name: "Dr. Vega", IsClinician: true})
	return e
}

func (e *env) room(t *testing.T, code string) *room.Room {
	t.Helper()
	r, err := e.app.Rooms.CreateRoom(e.ctx, room.NewRoomParams{Code: code, Capacity: 1})
	require.NoError(t, err)
	return r
}

func (e *env) schedule(t *testing.T, roomID uuid.UUID, start time.Time, planned int) uuid.UUID {
	t.Helper()
	a, err := e.app.Appointments.Schedule(e.ctx, appointment.ScheduleParams{
		PatientID:      e.patient,
		ClinicianID:    e.clinician,
		RoomID:         roomID,
		ScheduledStart: start,
		PlannedMinutes: planned,
	})
	require.NoError(t, err)
	return a.ID
}

func (e *env) status(t *testing.T, id uuid.UUID) appointment.Status {
	t.Helper()
	a, err := e.app.Appointments.Get(e.ctx, id)
	require.NoError(t, err)
	return a.Status
}

func (e *env) roomOf(t *testing.T, id uuid.UUID) *room.Room {
	t.Helper()
	r, err := e.app.Rooms.GetRoom(e.ctx, id)
	require.NoError(t, err)
	return r
}

// sweepTwice runs the sweep and asserts the immediate second pass is a no-op.
func (e *env) sweepTwice(t *testing.T) reconcile.Report {
	t.Helper()
	first, err := e.app.Sweep.Run(e.ctx)
	require.NoError(t, err)
	require.Empty(t, first.Errors)

	second, err := e.app.Sweep.Run(e.ctx)
	require.NoError(t, err)
	assert.Zero(t, second.Changes(), "second pass changed state: %v", second.Actions)
	return first
}

// assertExclusive checks every OCUPADO room is held by exactly one IN_PROGRESS
// appointment or one active booking, never both and never neither.
func (e *env) assertExclusive(t *testing.T) {
	t.Helper()
	rooms, err := e.app.Rooms.ListRooms(e.ctx)
	require.NoError(t, err)
	inProgress, err := e.app.Appointments.ListInProgress(e.ctx)
	require.NoError(t, err)
	bookings, err := e.app.Rooms.ListActiveBookings(e.ctx)
	require.NoError(t, err)

	for _, r := range rooms {
		holders := 0
		for _, a := range inProgress {
			if a.RoomID == r.ID {
				holders++
			}
		}
		for _, b := range bookings {
			if b.RoomID == r.ID {
				holders++
			}
		}
		if r.Status == room.StatusOccupied {
			assert.Equal(t, 1, holders, "room %s", r.Code)
		} else {
			assert.Zero(t, holders, "room %s is %s", r.Code, r.Status)
		}
	}
}

func TestSweepStartsDueAppointment(t *testing.T) {
	e := newEnv(t)
	r := e.room(t, "BOX-1")
	id := e.schedule(t, r.ID, nine, 30)

	e.clock.Set(nine.Add(5 * time.Minute))
	rep := e.sweepTwice(t)

	assert.Equal(t, 1, rep.Actions[reconcile.ActionStarted])
	assert.Equal(t, appointment.StatusInProgress, e.status(t, id))
	assert.True(t, e.roomOf(t, r.ID).OccupiedBy(room.AppointmentOccupant(id)))
	e.assertExclusive(t)
}

func TestSweepIgnoresFutureAppointments(t *testing.T) {
	e := newEnv(t)
	r := e.room(t, "BOX-1")
	id := e.schedule(t, r.ID, nine, 30)

	e.clock.Set(nine.Add(-time.Minute))
	rep := e.sweepTwice(t)

	assert.Zero(t, rep.Changes())
	assert.Equal(t, appointment.StatusScheduled, e.status(t, id))
}

func TestSweepFinalizesElapsedAppointment(t *testing.T) {
	e := newEnv(t)
	r := e.room(t, "BOX-1")
	id := e.schedule(t, r.ID, nine, 30)

	e.clock.Set(nine)
	_, err := e.app.Appointments.Start(e.ctx, id)
	require.NoError(t, err)

	e.clock.Set(nine.Add(30 * time.Minute))
	rep := e.sweepTwice(t)

	assert.Equal(t, 1, rep.Actions[reconcile.ActionFinalized])
	a, err := e.app.Appointments.Get(e.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCompleted, a.Status)
	assert.Equal(t, 30, *a.ActualMinutes)
	assert.Equal(t, room.StatusAvailable, e.roomOf(t, r.ID).Status)
	e.assertExclusive(t)
}

func TestSweepFinalizesPastGraceEvenWhenStartedLate(t *testing.T) {
	e := newEnv(t)
	r := e.room(t, "BOX-1")
	id := e.schedule(t, r.ID, nine, 30)

	e.clock.Set(nine.Add(40 * time.Minute))
	_, err := e.app.Appointments.Start(e.ctx, id)
	require.NoError(t, err)

	e.clock.Set(nine.Add(50 * time.Minute))
	rep := e.sweepTwice(t)

	assert.Equal(t, 1, rep.Actions[reconcile.ActionFinalized])
	assert.Equal(t, appointment.StatusCompleted, e.status(t, id))
}

func TestSweepLeavesMissedAppointmentAlone(t *testing.T) {
	e := newEnv(t)
	r := e.room(t, "BOX-1")
	id := e.schedule(t, r.ID, nine, 30)

	e.clock.Set(nine.Add(46 * time.Minute))
	rep := e.sweepTwice(t)

	assert.Zero(t, rep.Changes())
	assert.Equal(t, appointment.StatusScheduled, e.status(t, id))
	assert.Equal(t, room.StatusAvailable, e.roomOf(t, r.ID).Status)
}

func TestSweepReassertsDriftedRoom(t *testing.T) {
	e := newEnv(t)
	r := e.room(t, "BOX-1")
	id := e.schedule(t, r.ID, nine, 30)

	e.clock.Set(nine)
	_, err := e.app.Appointments.Start(e.ctx, id)
	require.NoError(t, err)
	_, err = e.app.Rooms.Release(e.ctx, r.ID, nil)
	require.NoError(t, err)

	e.clock.Set(nine.Add(10 * time.Minute))
	rep := e.sweepTwice(t)

	assert.Equal(t, 1, rep.Actions[reconcile.ActionReasserted])
	assert.True(t, e.roomOf(t, r.ID).OccupiedBy(room.AppointmentOccupant(id)))
	e.assertExclusive(t)
}

func TestSweepReleasesOrphanRoomButNotBookedRoom(t *testing.T) {
	e := newEnv(t)
	orphan := e.room(t, "BOX-1")
	booked := e.room(t, "BOX-2")

	_, err := e.app.Rooms.Occupy(e.ctx, orphan.ID, room.AppointmentOccupant(uuid.New()))
	require.NoError(t, err)
	_, err = e.app.Rooms.CreateManualBooking(e.ctx, booked.ID, 60, "sterilisation")
	require.NoError(t, err)

	e.clock.Advance(10 * time.Minute)
	rep := e.sweepTwice(t)

	assert.Equal(t, 1, rep.Actions[reconcile.ActionRoomReleased])
	assert.Equal(t, room.StatusAvailable, e.roomOf(t, orphan.ID).Status)
	assert.Equal(t, room.StatusOccupied, e.roomOf(t, booked.ID).Status)
	e.assertExclusive(t)
}

func TestSweepFinalizesExpiredBooking(t *testing.T) {
	e := newEnv(t)
	r := e.room(t, "BOX-1")

	b, err := e.app.Rooms.CreateManualBooking(e.ctx, r.ID, 15, "cleaning")
	require.NoError(t, err)

	e.clock.Advance(14 * time.Minute)
	rep := e.sweepTwice(t)
	assert.Zero(t, rep.Changes())
	assert.Equal(t, room.StatusOccupied, e.roomOf(t, r.ID).Status)

	e.clock.Advance(time.Minute)
	rep = e.sweepTwice(t)
	assert.Equal(t, 1, rep.Actions[reconcile.ActionBookingFinalized])

	got, err := e.app.Rooms.GetBooking(e.ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Equal(t, room.StatusAvailable, e.roomOf(t, r.ID).Status)
}

func TestSweepAppliesDelayWindow(t *testing.T) {
	e := newEnv(t)
	r := e.room(t, "BOX-1")
	id := e.schedule(t, r.ID, nine, 30)

	e.clock.Set(nine)
	_, err := e.app.Appointments.ReportDelay(e.ctx, id, "traffic")
	require.NoError(t, err)

	e.clock.Set(nine.Add(3 * time.Minute))
	rep := e.sweepTwice(t)
	assert.Zero(t, rep.Changes(), "a reported delay inside its window is not auto-started")
	assert.Equal(t, appointment.StatusScheduled, e.status(t, id))

	e.clock.Set(nine.Add(5 * time.Minute))
	rep = e.sweepTwice(t)
	assert.Equal(t, 1, rep.Actions[reconcile.ActionNoShow])
	assert.Equal(t, appointment.StatusNoShow, e.status(t, id))
	assert.Equal(t, room.StatusAvailable, e.roomOf(t, r.ID).Status)
}

func TestSweepNoShowReleasesRoomOfStartedAppointment(t *testing.T) {
	e := newEnv(t)
	r := e.room(t, "BOX-1")
	id := e.schedule(t, r.ID, nine, 60)

	e.clock.Set(nine)
	_, err := e.app.Appointments.Start(e.ctx, id)
	require.NoError(t, err)
	e.clock.Set(nine.Add(2 * time.Minute))
	_, err = e.app.Appointments.ReportDelay(e.ctx, id, "patient stepped out")
	require.NoError(t, err)

	e.clock.Set(nine.Add(8 * time.Minute))
	rep := e.sweepTwice(t)

	assert.Equal(t, 1, rep.Actions[reconcile.ActionNoShow])
	assert.Equal(t, appointment.StatusNoShow, e.status(t, id))
	assert.Equal(t, room.StatusAvailable, e.roomOf(t, r.ID).Status)
	e.assertExclusive(t)
}

func TestSweepIsolatesBlockedRoom(t *testing.T) {
	e := newEnv(t)
	blocked := e.room(t, "BOX-1")
	open := e.room(t, "BOX-2")

	stuck := e.schedule(t, blocked.ID, nine, 30)
	fine := e.schedule(t, open.ID, nine, 30)

	_, err := e.app.Rooms.SetMaintenance(e.ctx, blocked.ID)
	require.NoError(t, err)

	e.clock.Set(nine.Add(time.Minute))
	rep, err := e.app.Sweep.Run(e.ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Contended)
	assert.Equal(t, 1, rep.Actions[reconcile.ActionStarted])
	assert.Equal(t, appointment.StatusScheduled, e.status(t, stuck))
	assert.Equal(t, appointment.StatusInProgress, e.status(t, fine))

	rep, err = e.app.Sweep.Run(e.ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Changes())
}

func TestConcurrentSweepsConverge(t *testing.T) {
	e := newEnv(t)
	var ids []uuid.UUID
	for _, code := range []string{"BOX-1", "BOX-2", "BOX-3", "BOX-4"} {
		r := e.room(t, code)
		ids = append(ids, e.schedule(t, r.ID, nine, 30))
		ids = append(ids, e.schedule(t, r.ID, nine, 30))
	}

	e.clock.Set(nine.Add(2 * time.Minute))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.app.Sweep.Run(e.ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	e.assertExclusive(t)

	// Whatever contention the parallel passes saw, a quiet pass settles it
	// and the one after changes nothing.
	_, err := e.app.Sweep.Run(e.ctx)
	require.NoError(t, err)
	e.sweepTwice(t)
	e.assertExclusive(t)

	started := 0
	for _, id := range ids {
		if e.status(t, id) == appointment.StatusInProgress {
			started++
		}
	}
	assert.Equal(t, 4, started)
}

func TestSweepRecordsMetrics(t *testing.T) {
	e := newEnv(t)
	r := e.room(t, "BOX-1")
	e.schedule(t, r.ID, nine, 30)

	e.clock.Set(nine)
	_, err := e.app.Sweep.Run(e.ctx)
	require.NoError(t, err)

	families, err := e.reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["clinic_sweep_actions_total"])
	assert.True(t, names["clinic_sweep_duration_seconds"])
	assert.Equal(t, 1, testutil.CollectAndCount(e.reg, "clinic_sweep_actions_total"))
}

// rejectingStarts refuses every Start. With cancel set it first cancels the
// appointment, the way a concurrent caller would.
type rejectingStarts struct {
	*appointment.Service
	cancel bool
}

func (r *rejectingStarts) Start(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	if r.cancel {
		if _, err := r.Service.Cancel(ctx, id, "cancelled at the desk"); err != nil {
			return nil, err
		}
	}
	return nil, failure.Transition("start", "appointment", string(appointment.StatusScheduled))
}

func TestSweepRejectedTransitionWithoutRaceIsAnError(t *testing.T) {
	e := newEnv(t)
	r := e.room(t, "BOX-1")
	id := e.schedule(t, r.ID, nine, 30)
	e.clock.Set(nine.Add(time.Minute))

	reg := prometheus.NewRegistry()
	sweep := reconcile.New(&rejectingStarts{Service: e.app.Appointments}, e.app.Rooms, metrics.New(reg))
	rep, err := sweep.Run(e.ctx)
	require.NoError(t, err)

	assert.Zero(t, rep.Contended)
	require.Len(t, rep.Errors, 1)
	assert.Equal(t, id, rep.Errors[0].ID)
	assert.Equal(t, reconcile.ActionStarted, rep.Errors[0].Action)
	assert.True(t, failure.Is(rep.Errors[0], failure.InvalidTransition))
	assert.Equal(t, 1.0, sweepErrors(t, reg))
	assert.Equal(t, appointment.StatusScheduled, e.status(t, id))
}

func TestSweepRejectedTransitionAfterConcurrentChangeIsContended(t *testing.T) {
	e := newEnv(t)
	r := e.room(t, "BOX-1")
	id := e.schedule(t, r.ID, nine, 30)
	e.clock.Set(nine.Add(time.Minute))

	reg := prometheus.NewRegistry()
	sweep := reconcile.New(&rejectingStarts{Service: e.app.Appointments, cancel: true}, e.app.Rooms, metrics.New(reg))
	rep, err := sweep.Run(e.ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Contended)
	assert.Empty(t, rep.Errors)
	assert.Zero(t, sweepErrors(t, reg))
	assert.Equal(t, appointment.StatusCancelled, e.status(t, id))
}

func sweepErrors(t *testing.T, reg *prometheus.Registry) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "clinic_sweep_errors_total" {
			return f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}
