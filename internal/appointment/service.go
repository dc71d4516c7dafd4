package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-flow/internal/clock"
	"github.com/hackgods/clinic-flow/internal/db"
	"github.com/hackgods/clinic-flow/internal/failure"
	"github.com/hackgods/clinic-flow/internal/metrics"
	"github.com/hackgods/clinic-flow/internal/patient"
	redisclient "github.com/hackgods/clinic-flow/internal/redis"
	"github.com/hackgods/clinic-flow/internal/room"
	"github.com/hackgods/clinic-flow/internal/tracing"
)

const scopeName = "github.com/hackgods/clinic-flow/internal/appointment"

const (
	EventAppointmentScheduled   = "APPOINTMENT_SCHEDULED"
	EventAppointmentWaiting     = "APPOINTMENT_WAITING"
	EventAppointmentStarted     = "APPOINTMENT_STARTED"
	EventAppointmentCompleted   = "APPOINTMENT_COMPLETED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventDelayReported          = "APPOINTMENT_DELAY_REPORTED"
	EventDelayCleared           = "APPOINTMENT_DELAY_CLEARED"
	EventAppointmentNoShow      = "APPOINTMENT_NO_SHOW"
	EventOccupancyReasserted    = "APPOINTMENT_OCCUPANCY_REASSERTED"
)

// Rooms is the slice of the room arbiter the lifecycle depends on.
type Rooms interface {
	GetRoom(ctx context.Context, id uuid.UUID) (*room.Room, error)
	Occupy(ctx context.Context, roomID uuid.UUID, occ room.Occupant) (*room.Room, error)
	Release(ctx context.Context, roomID uuid.UUID, by *room.Occupant) (*room.Room, error)
}

// Policy holds the soft time windows of the lifecycle. Both are evaluated
// lazily: nothing fires until a caller or the sweep looks.
type Policy struct {
	DelayWindow  time.Duration
	OverrunGrace time.Duration
}

func DefaultPolicy() Policy {
	return Policy{DelayWindow: 5 * time.Minute, OverrunGrace: 15 * time.Minute}
}

type Service struct {
	repo     Repository
	rooms    Rooms
	patients patient.Registry
	tx       db.Transactor
	locker   redisclient.Locker
	clock    clock.Clock
	policy   Policy
	metrics  *metrics.Metrics
}

func NewService(
	repo Repository,
	rooms Rooms,
	patients patient.Registry,
	tx db.Transactor,
	locker redisclient.Locker,
	clk clock.Clock,
	policy Policy,
	m *metrics.Metrics,
) *Service {
	return &Service{
		repo:     repo,
		rooms:    rooms,
		patients: patients,
		tx:       tx,
		locker:   locker,
		clock:    clk,
		policy:   policy,
		metrics:  m,
	}
}

func (s *Service) Policy() Policy { return s.policy }

// mutate loads the appointment under its lock and row lock, applies fn and
// persists the result in the same transaction as any room change fn made.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, a *Appointment, now time.Time) (string, error)) (*Appointment, error) {
	var out *Appointment
	err := s.locker.WithLock(ctx, redisclient.AppointmentKey(id), func(lockCtx context.Context) error {
		return s.tx.WithinTx(lockCtx, func(txCtx context.Context) error {
			a, err := s.repo.GetForUpdate(txCtx, id)
			if err != nil {
				return err
			}
			before := a.Status
			now := s.clock.Now()

			event, err := fn(txCtx, a, now)
			if err != nil {
				return err
			}
			if event == "" {
				out = a
				return nil
			}
			if err := s.repo.Update(txCtx, a); err != nil {
				return err
			}
			if err := s.logEvent(txCtx, a, event, now); err != nil {
				return err
			}
			if a.Status != before {
				s.metrics.AppointmentTransition(string(a.Status))
			}
			out = a
			return nil
		})
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return nil, failure.Conflict("lock", "appointment", "", "appointment is being modified, retry shortly")
	}
	return out, err
}

// acquireRoom starts a and occupies its room. Both must succeed together.
func (s *Service) acquireRoom(ctx context.Context, a *Appointment, now time.Time) error {
	if err := a.Start(now); err != nil {
		return err
	}
	if _, err := s.rooms.Occupy(ctx, a.RoomID, room.AppointmentOccupant(a.ID)); err != nil {
		return fmt.Errorf("acquire room: %w", err)
	}
	return nil
}

// releaseRoom frees the room if, and only if, a holds it.
func (s *Service) releaseRoom(ctx context.Context, a *Appointment) error {
	r, err := s.rooms.GetRoom(ctx, a.RoomID)
	if err != nil {
		return fmt.Errorf("load room: %w", err)
	}
	occ := room.AppointmentOccupant(a.ID)
	if !r.OccupiedBy(occ) {
		log.Warn().
			Str("appointment_id", a.ID.String()).
			Str("room_id", a.RoomID.String()).
			Str("room_status", string(r.Status)).
			Msg("room not held by appointment, nothing to release")
		return nil
	}
	if _, err := s.rooms.Release(ctx, a.RoomID, &occ); err != nil {
		return fmt.Errorf("release room: %w", err)
	}
	return nil
}

// Schedule creates a SCHEDULED appointment. This is the entry point used by
// the external scheduling collaborator.
func (s *Service) Schedule(ctx context.Context, p ScheduleParams) (a *Appointment, err error) {
	ctx, scope := tracing.Start(ctx, scopeName, "Service.Schedule")
	defer func() { scope.End(err) }()

	if err := p.validate(); err != nil {
		return nil, err
	}

	if _, err := s.patients.GetPatient(ctx, p.PatientID); err != nil {
		return nil, err
	}

	ok, err := s.patients.IsClinician(ctx, p.ClinicianID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, failure.Validation("schedule", "clinician reference does not carry the clinician role")
	}

	if err := s.checkRoom(ctx, "schedule", p.RoomID, p.ScheduledStart, p.PlannedMinutes); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	a = newAppointment(p, now)

	err = s.tx.WithinTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.Insert(txCtx, a); err != nil {
			return err
		}
		return s.logEvent(txCtx, a, EventAppointmentScheduled, now)
	})
	if err != nil {
		return nil, fmt.Errorf("schedule appointment: %w", err)
	}

	s.metrics.AppointmentTransition(string(a.Status))
	log.Info().
		Str("appointment_id", a.ID.String()).
		Str("room_id", a.RoomID.String()).
		Time("scheduled_start", a.ScheduledStart).
		Msg("appointment scheduled")
	return a, nil
}

func (s *Service) checkRoom(ctx context.Context, op string, roomID uuid.UUID, start time.Time, planned int) error {
	r, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if !r.Active {
		return failure.Validation(op, "room is inactive")
	}
	if !r.Availability.Covers(start, start.Add(minutes(planned))) {
		return failure.Validation(op, "room is not available at the requested time")
	}
	return nil
}

// MarkWaiting checks the patient in (SCHEDULED -> WAITING).
func (s *Service) MarkWaiting(ctx context.Context, id uuid.UUID) (a *Appointment, err error) {
	ctx, scope := tracing.Start(ctx, scopeName, "Service.MarkWaiting")
	defer func() { scope.End(err) }()

	return s.mutate(ctx, id, func(_ context.Context, a *Appointment, now time.Time) (string, error) {
		return EventAppointmentWaiting, a.MarkWaiting(now)
	})
}

// Start moves a SCHEDULED or WAITING appointment to IN_PROGRESS and
// occupies its room atomically.
func (s *Service) Start(ctx context.Context, id uuid.UUID) (a *Appointment, err error) {
	ctx, scope := tracing.Start(ctx, scopeName, "Service.Start")
	defer func() { scope.End(err) }()
	scope.SetAttribute("appointment_id", id)

	return s.mutate(ctx, id, func(txCtx context.Context, a *Appointment, now time.Time) (string, error) {
		return EventAppointmentStarted, s.acquireRoom(txCtx, a, now)
	})
}

// Finalize completes an IN_PROGRESS appointment and releases its room.
func (s *Service) Finalize(ctx context.Context, id uuid.UUID) (a *Appointment, err error) {
	ctx, scope := tracing.Start(ctx, scopeName, "Service.Finalize")
	defer func() { scope.End(err) }()
	scope.SetAttribute("appointment_id", id)

	return s.mutate(ctx, id, func(txCtx context.Context, a *Appointment, now time.Time) (string, error) {
		if err := a.Finalize(now); err != nil {
			return "", err
		}
		return EventAppointmentCompleted, s.releaseRoom(txCtx, a)
	})
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (a *Appointment, err error) {
	ctx, scope := tracing.Start(ctx, scopeName, "Service.Cancel")
	defer func() { scope.End(err) }()

	if reason == "" {
		return nil, failure.Validation("cancel", "cancellation reason is required")
	}

	return s.mutate(ctx, id, func(txCtx context.Context, a *Appointment, now time.Time) (string, error) {
		wasInProgress := a.Status == StatusInProgress
		if err := a.Cancel(now, reason); err != nil {
			return "", err
		}
		if wasInProgress {
			if err := s.releaseRoom(txCtx, a); err != nil {
				return "", err
			}
		}
		return EventAppointmentCancelled, nil
	})
}

// Reschedule moves a not-yet-started appointment. newRoom is optional.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newStart time.Time, newRoom *uuid.UUID) (a *Appointment, err error) {
	ctx, scope := tracing.Start(ctx, scopeName, "Service.Reschedule")
	defer func() { scope.End(err) }()

	if newStart.IsZero() {
		return nil, failure.Validation("reschedule", "new start time is required")
	}
	if newRoom != nil && *newRoom == uuid.Nil {
		return nil, failure.Validation("reschedule", "reschedule room is missing")
	}

	return s.mutate(ctx, id, func(txCtx context.Context, a *Appointment, now time.Time) (string, error) {
		roomID := a.RoomID
		if newRoom != nil {
			roomID = *newRoom
		}
		if err := s.checkRoom(txCtx, "reschedule", roomID, newStart, a.PlannedMinutes); err != nil {
			return "", err
		}
		return EventAppointmentRescheduled, a.Reschedule(now, newStart, newRoom)
	})
}

func (s *Service) ReportDelay(ctx context.Context, id uuid.UUID, reason string) (a *Appointment, err error) {
	ctx, scope := tracing.Start(ctx, scopeName, "Service.ReportDelay")
	defer func() { scope.End(err) }()

	return s.mutate(ctx, id, func(_ context.Context, a *Appointment, now time.Time) (string, error) {
		return EventDelayReported, a.ReportDelay(now, reason, s.policy.DelayWindow)
	})
}

// VerifyDelay applies the NO_SHOW rule to a reported delay whose window has
// elapsed. Repeated calls after the transition change nothing.
func (s *Service) VerifyDelay(ctx context.Context, id uuid.UUID) (a *Appointment, changed bool, err error) {
	ctx, scope := tracing.Start(ctx, scopeName, "Service.VerifyDelay")
	defer func() { scope.End(err) }()

	a, err = s.mutate(ctx, id, func(txCtx context.Context, a *Appointment, now time.Time) (string, error) {
		wasInProgress := a.Status == StatusInProgress
		ok, err := a.VerifyDelay(now, s.policy.DelayWindow)
		if err != nil || !ok {
			return "", err
		}
		changed = true
		if wasInProgress {
			if err := s.releaseRoom(txCtx, a); err != nil {
				return "", err
			}
		}
		return EventAppointmentNoShow, nil
	})
	if err != nil {
		return nil, false, err
	}
	if changed {
		log.Info().Str("appointment_id", id.String()).Msg("appointment marked no-show after delay window")
	}
	return a, changed, nil
}

// ResumeAfterDelay clears a delay still inside its window and starts the
// appointment when it had not started yet.
func (s *Service) ResumeAfterDelay(ctx context.Context, id uuid.UUID) (a *Appointment, err error) {
	ctx, scope := tracing.Start(ctx, scopeName, "Service.ResumeAfterDelay")
	defer func() { scope.End(err) }()

	return s.mutate(ctx, id, func(txCtx context.Context, a *Appointment, now time.Time) (string, error) {
		needsStart, err := a.ResumeAfterDelay(now, s.policy.DelayWindow)
		if err != nil {
			return "", err
		}
		if needsStart {
			if err := s.acquireRoom(txCtx, a, now); err != nil {
				return "", err
			}
			return EventAppointmentStarted, nil
		}
		return EventDelayCleared, nil
	})
}

// ReassertOccupancy re-occupies the room of an IN_PROGRESS appointment whose
// room drifted back to DISPONIBLE. It reports whether anything changed.
func (s *Service) ReassertOccupancy(ctx context.Context, id uuid.UUID) (changed bool, err error) {
	ctx, scope := tracing.Start(ctx, scopeName, "Service.ReassertOccupancy")
	defer func() { scope.End(err) }()

	_, err = s.mutate(ctx, id, func(txCtx context.Context, a *Appointment, now time.Time) (string, error) {
		if a.Status != StatusInProgress {
			return "", nil
		}
		r, err := s.rooms.GetRoom(txCtx, a.RoomID)
		if err != nil {
			return "", err
		}
		occ := room.AppointmentOccupant(a.ID)
		if r.OccupiedBy(occ) {
			return "", nil
		}
		if _, err := s.rooms.Occupy(txCtx, a.RoomID, occ); err != nil {
			return "", err
		}
		changed = true
		a.UpdatedAt = now
		return EventOccupancyReasserted, nil
	})
	return changed, err
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.Get(ctx, id)
}

// ListByPatient retrieves appointments for a specific patient
func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	appointments, err := s.repo.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appointments, nil
}

func (s *Service) ListByRoom(ctx context.Context, roomID uuid.UUID) ([]Appointment, error) {
	appointments, err := s.repo.ListByRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("list appointments by room: %w", err)
	}
	return appointments, nil
}

func (s *Service) ListDue(ctx context.Context) ([]Appointment, error) {
	return s.repo.ListDue(ctx, s.clock.Now())
}

func (s *Service) ListInProgress(ctx context.Context) ([]Appointment, error) {
	return s.repo.ListInProgress(ctx)
}

func (s *Service) ListPendingDelay(ctx context.Context) ([]Appointment, error) {
	return s.repo.ListPendingDelay(ctx)
}

func (s *Service) Now() time.Time { return s.clock.Now() }

// logEvent writes the audit row of a change. It shares the change's
// transaction, so a failed insert rejects the change as a whole.
func (s *Service) logEvent(ctx context.Context, a *Appointment, eventType string, now time.Time) error {
	payload := map[string]any{
		"status":  a.Status,
		"room_id": a.RoomID.String(),
	}
	if a.DelayReported {
		payload["delay_reason"] = a.DelayReason
	}
	if a.ActualMinutes != nil {
		payload["actual_minutes"] = *a.ActualMinutes
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	apptID := a.ID
	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     now,
	}
	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		log.Error().Err(err).
			Str("event", eventType).
			Str("appointment_id", a.ID.String()).
			Msg("failed to insert event log")
		return err
	}
	return nil
}
