// Package reconcile heals drift between appointments, manual bookings and
// room state. Nothing here runs on its own; a caller or the worker decides
// when to pass.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-flow/internal/appointment"
	"github.com/hackgods/clinic-flow/internal/failure"
	"github.com/hackgods/clinic-flow/internal/metrics"
	"github.com/hackgods/clinic-flow/internal/room"
	"github.com/hackgods/clinic-flow/internal/tracing"
)

const scopeName = "github.com/hackgods/clinic-flow/internal/reconcile"

// Sweep actions, also used as the metric label.
const (
	ActionNoShow           = "no_show"
	ActionStarted          = "started"
	ActionFinalized        = "finalized"
	ActionReasserted       = "reasserted"
	ActionBookingFinalized = "booking_finalized"
	ActionRoomReleased     = "room_released"
)

// Lifecycle is what the sweep needs from the appointment service.
type Lifecycle interface {
	Now() time.Time
	Policy() appointment.Policy
	ListPendingDelay(ctx context.Context) ([]appointment.Appointment, error)
	ListDue(ctx context.Context) ([]appointment.Appointment, error)
	ListInProgress(ctx context.Context) ([]appointment.Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	VerifyDelay(ctx context.Context, id uuid.UUID) (*appointment.Appointment, bool, error)
	Start(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	Finalize(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ReassertOccupancy(ctx context.Context, id uuid.UUID) (bool, error)
}

// Rooms is what the sweep needs from the room arbiter.
type Rooms interface {
	ListRoomsByStatus(ctx context.Context, status room.Status) ([]room.Room, error)
	ListActiveBookings(ctx context.Context) ([]room.ManualBooking, error)
	GetBooking(ctx context.Context, id uuid.UUID) (*room.ManualBooking, error)
	FinalizeManualBooking(ctx context.Context, bookingID uuid.UUID) (*room.ManualBooking, error)
	ReleaseIfStale(ctx context.Context, roomID uuid.UUID, observed *room.Occupant) (bool, error)
}

// EntityError is a failure confined to one appointment, booking or room.
type EntityError struct {
	Entity string    `json:"entity"`
	ID     uuid.UUID `json:"id"`
	Action string    `json:"action"`
	Err    error     `json:"-"`
}

func (e EntityError) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.Action, e.Entity, e.ID, e.Err)
}

func (e EntityError) Unwrap() error { return e.Err }

type Report struct {
	StartedAt  time.Time      `json:"started_at"`
	Duration   time.Duration  `json:"duration"`
	Actions    map[string]int `json:"actions"`
	Contended  int            `json:"contended"`
	Errors     []EntityError  `json:"-"`
	ErrorCount int            `json:"errors"`
}

// Changes is the number of state transitions the run made.
func (r Report) Changes() int {
	n := 0
	for _, c := range r.Actions {
		n += c
	}
	return n
}

type Sweep struct {
	appointments Lifecycle
	rooms        Rooms
	metrics      *metrics.Metrics
}

func New(appointments Lifecycle, rooms Rooms, m *metrics.Metrics) *Sweep {
	return &Sweep{appointments: appointments, rooms: rooms, metrics: m}
}

type run struct {
	report Report
	steps  []error
}

func (r *run) done(action string) {
	r.report.Actions[action]++
}

// fail records an entity failure. A busy resource is counted apart and
// retried by the next pass. So is a rejected transition, but only when moved
// confirms that another caller changed the entity after it was listed; any
// other rejected transition is a real error.
func (r *run) fail(entity string, id uuid.UUID, action string, err error, moved func() bool) {
	contended := failure.Is(err, failure.ResourceConflict) ||
		(failure.Is(err, failure.InvalidTransition) && moved != nil && moved())
	if contended {
		r.report.Contended++
		log.Debug().Err(err).Str("entity", entity).Str("id", id.String()).Str("action", action).Msg("sweep skipped contended entity")
		return
	}
	r.report.Errors = append(r.report.Errors, EntityError{Entity: entity, ID: id, Action: action, Err: err})
	log.Error().Err(err).Str("entity", entity).Str("id", id.String()).Str("action", action).Msg("sweep entity failed")
}

// Run makes one pass. Entity failures land in the report and never stop
// the pass; the returned error only reports steps that could not list
// their input at all.
func (s *Sweep) Run(ctx context.Context) (rep Report, err error) {
	ctx, scope := tracing.Start(ctx, scopeName, "Sweep.Run")
	defer func() { scope.End(err) }()

	r := &run{report: Report{StartedAt: s.appointments.Now(), Actions: map[string]int{}}}
	began := time.Now()

	s.verifyDelays(ctx, r)
	s.finalizeOverruns(ctx, r)
	s.finalizeExpiredBookings(ctx, r)
	s.releaseOrphanRooms(ctx, r)
	s.ensureOccupancy(ctx, r)

	r.report.Duration = time.Since(began)
	r.report.ErrorCount = len(r.report.Errors)

	for action, n := range r.report.Actions {
		s.metrics.SweepAction(action, n)
	}
	s.metrics.SweepErrors(r.report.ErrorCount)
	s.metrics.ObserveSweep(r.report.Duration.Seconds())

	log.Info().
		Int("changes", r.report.Changes()).
		Int("contended", r.report.Contended).
		Int("errors", r.report.ErrorCount).
		Dur("duration", r.report.Duration).
		Msg("sweep complete")

	return r.report, errors.Join(r.steps...)
}

// appointmentMoved re-reads listed and reports whether it left the state it
// was listed in.
func (s *Sweep) appointmentMoved(ctx context.Context, listed appointment.Appointment) func() bool {
	return func() bool {
		cur, err := s.appointments.Get(ctx, listed.ID)
		if err != nil {
			return false
		}
		return cur.Status != listed.Status || cur.DelayReported != listed.DelayReported
	}
}

func (s *Sweep) bookingMoved(ctx context.Context, id uuid.UUID) func() bool {
	return func() bool {
		b, err := s.rooms.GetBooking(ctx, id)
		return err == nil && !b.Active
	}
}

func (s *Sweep) verifyDelays(ctx context.Context, r *run) {
	pending, err := s.appointments.ListPendingDelay(ctx)
	if err != nil {
		r.steps = append(r.steps, fmt.Errorf("list pending delays: %w", err))
		return
	}
	for _, a := range pending {
		_, changed, err := s.appointments.VerifyDelay(ctx, a.ID)
		if err != nil {
			r.fail("appointment", a.ID, ActionNoShow, err, s.appointmentMoved(ctx, a))
			continue
		}
		if changed {
			r.done(ActionNoShow)
		}
	}
}

// overrun reports whether a due appointment has run out its time: either
// its planned duration since actual start or the grace past its slot.
func overrun(a appointment.Appointment, now time.Time, grace time.Duration) bool {
	if a.Status != appointment.StatusInProgress {
		return false
	}
	planned := time.Duration(a.PlannedMinutes) * time.Minute
	if a.ActualStart != nil && now.Sub(*a.ActualStart) >= planned {
		return true
	}
	return now.Sub(a.ScheduledStart) > planned+grace
}

func withinGrace(a appointment.Appointment, now time.Time, grace time.Duration) bool {
	planned := time.Duration(a.PlannedMinutes) * time.Minute
	return now.Sub(a.ScheduledStart) <= planned+grace
}

func (s *Sweep) finalizeOverruns(ctx context.Context, r *run) {
	due, err := s.appointments.ListDue(ctx)
	if err != nil {
		r.steps = append(r.steps, fmt.Errorf("list due appointments: %w", err))
		return
	}
	grace := s.appointments.Policy().OverrunGrace
	for _, a := range due {
		if overrun(a, s.appointments.Now(), grace) {
			s.finalize(ctx, r, a)
		}
	}
}

// ensureOccupancy holds the room of every due appointment still inside its
// slot plus grace, starting the ones nobody started. Appointments with a
// reported delay are left to the delay window.
func (s *Sweep) ensureOccupancy(ctx context.Context, r *run) {
	due, err := s.appointments.ListDue(ctx)
	if err != nil {
		r.steps = append(r.steps, fmt.Errorf("list due appointments: %w", err))
		return
	}
	grace := s.appointments.Policy().OverrunGrace
	for _, a := range due {
		now := s.appointments.Now()
		if !withinGrace(a, now, grace) || overrun(a, now, grace) {
			continue
		}

		if a.Status == appointment.StatusInProgress {
			changed, err := s.appointments.ReassertOccupancy(ctx, a.ID)
			if err != nil {
				r.fail("appointment", a.ID, ActionReasserted, err, s.appointmentMoved(ctx, a))
				continue
			}
			if changed {
				r.done(ActionReasserted)
			}
			continue
		}

		if a.DelayReported {
			continue
		}
		if _, err := s.appointments.Start(ctx, a.ID); err != nil {
			r.fail("appointment", a.ID, ActionStarted, err, s.appointmentMoved(ctx, a))
			continue
		}
		r.done(ActionStarted)
	}
}

func (s *Sweep) finalize(ctx context.Context, r *run, a appointment.Appointment) {
	if _, err := s.appointments.Finalize(ctx, a.ID); err != nil {
		r.fail("appointment", a.ID, ActionFinalized, err, s.appointmentMoved(ctx, a))
		return
	}
	r.done(ActionFinalized)
}

func (s *Sweep) finalizeExpiredBookings(ctx context.Context, r *run) {
	bookings, err := s.rooms.ListActiveBookings(ctx)
	if err != nil {
		r.steps = append(r.steps, fmt.Errorf("list active bookings: %w", err))
		return
	}
	now := s.appointments.Now()
	for _, b := range bookings {
		if !b.Expired(now) {
			continue
		}
		if _, err := s.rooms.FinalizeManualBooking(ctx, b.ID); err != nil {
			r.fail("manual_booking", b.ID, ActionBookingFinalized, err, s.bookingMoved(ctx, b.ID))
			continue
		}
		r.done(ActionBookingFinalized)
	}
}

// releaseOrphanRooms frees OCUPADO rooms that neither an IN_PROGRESS
// appointment nor an active booking accounts for. Rooms are listed before
// their coverage so an occupation that starts mid-pass is never mistaken
// for an orphan; ReleaseIfStale also refuses rooms whose occupant changed.
func (s *Sweep) releaseOrphanRooms(ctx context.Context, r *run) {
	occupied, err := s.rooms.ListRoomsByStatus(ctx, room.StatusOccupied)
	if err != nil {
		r.steps = append(r.steps, fmt.Errorf("list occupied rooms: %w", err))
		return
	}
	if len(occupied) == 0 {
		return
	}

	covered := map[uuid.UUID]bool{}
	inProgress, err := s.appointments.ListInProgress(ctx)
	if err != nil {
		r.steps = append(r.steps, fmt.Errorf("list in-progress appointments: %w", err))
		return
	}
	for _, a := range inProgress {
		covered[a.RoomID] = true
	}
	bookings, err := s.rooms.ListActiveBookings(ctx)
	if err != nil {
		r.steps = append(r.steps, fmt.Errorf("list active bookings: %w", err))
		return
	}
	for _, b := range bookings {
		covered[b.RoomID] = true
	}

	for _, rm := range occupied {
		if covered[rm.ID] {
			continue
		}
		released, err := s.rooms.ReleaseIfStale(ctx, rm.ID, rm.Occupant)
		if err != nil {
			r.fail("room", rm.ID, ActionRoomReleased, err, nil)
			continue
		}
		if released {
			log.Warn().Str("room_id", rm.ID.String()).Str("code", rm.Code).Msg("released orphaned room")
			r.done(ActionRoomReleased)
		}
	}
}
