package appointment

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-flow/internal/failure"
)

type Status string

const (
	StatusScheduled  Status = "SCHEDULED"
	StatusWaiting    Status = "WAITING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
	StatusNoShow     Status = "NO_SHOW"
)

// transitions lists every legal move. Anything absent is rejected.
var transitions = map[Status][]Status{
	StatusScheduled:  {StatusWaiting, StatusInProgress, StatusCancelled, StatusNoShow},
	StatusWaiting:    {StatusInProgress, StatusCancelled, StatusNoShow},
	StatusInProgress: {StatusCompleted, StatusCancelled, StatusNoShow},
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// Open reports whether the appointment still awaits or holds a room.
func (s Status) Open() bool {
	return s == StatusScheduled || s == StatusWaiting || s == StatusInProgress
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Appointment struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	ClinicianID     uuid.UUID
	RoomID          uuid.UUID
	ScheduledStart  time.Time
	ScheduledEnd    time.Time
	PlannedMinutes  int
	ActualStart     *time.Time
	ActualEnd       *time.Time
	ActualMinutes   *int
	Status          Status
	DelayReported   bool
	DelayReportTime *time.Time
	DelayReason     string
	Notes           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

type ScheduleParams struct {
	PatientID      uuid.UUID
	ClinicianID    uuid.UUID
	RoomID         uuid.UUID
	ScheduledStart time.Time
	PlannedMinutes int
	Notes          string
}

func (p ScheduleParams) validate() error {
	switch {
	case p.PatientID == uuid.Nil:
		return failure.Validation("schedule", "patient reference is required")
	case p.ClinicianID == uuid.Nil:
		return failure.Validation("schedule", "clinician reference is required")
	case p.RoomID == uuid.Nil:
		return failure.Validation("schedule", "room reference is required")
	case p.ScheduledStart.IsZero():
		return failure.Validation("schedule", "scheduled start is required")
	case p.PlannedMinutes < 1:
		return failure.Validation("schedule", "planned duration must be at least 1 minute")
	}
	return nil
}

func newAppointment(p ScheduleParams, now time.Time) *Appointment {
	return &Appointment{
		ID:             uuid.New(),
		PatientID:      p.PatientID,
		ClinicianID:    p.ClinicianID,
		RoomID:         p.RoomID,
		ScheduledStart: p.ScheduledStart,
		ScheduledEnd:   p.ScheduledStart.Add(minutes(p.PlannedMinutes)),
		PlannedMinutes: p.PlannedMinutes,
		Status:         StatusScheduled,
		Notes:          p.Notes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}

// wholeMinutes rounds d to the nearest minute.
func wholeMinutes(d time.Duration) int {
	return int(math.Round(d.Minutes()))
}

func (a *Appointment) transitionErr(op string) error {
	return failure.Transition(op, "appointment", string(a.Status))
}

func (a *Appointment) moveTo(to Status, now time.Time) {
	a.Status = to
	a.UpdatedAt = now
}

func (a *Appointment) appendNote(now time.Time, format string, args ...any) {
	line := fmt.Sprintf("[%s] %s", now.UTC().Format(time.RFC3339), fmt.Sprintf(format, args...))
	if a.Notes == "" {
		a.Notes = line
		return
	}
	a.Notes += "\n" + line
}

// MarkWaiting records the patient's arrival in the waiting area.
func (a *Appointment) MarkWaiting(now time.Time) error {
	if a.Status != StatusScheduled {
		return a.transitionErr("mark_waiting")
	}
	a.moveTo(StatusWaiting, now)
	return nil
}

// Start opens the stopwatch. Acquiring the room is the caller's job and
// must happen in the same transaction.
func (a *Appointment) Start(now time.Time) error {
	if !CanTransition(a.Status, StatusInProgress) {
		return a.transitionErr("start")
	}
	a.ActualStart = &now
	a.moveTo(StatusInProgress, now)
	return nil
}

// Finalize closes the stopwatch and fixes actual duration in whole minutes.
func (a *Appointment) Finalize(now time.Time) error {
	if a.Status != StatusInProgress || a.ActualStart == nil {
		return a.transitionErr("finalize")
	}
	d := wholeMinutes(now.Sub(*a.ActualStart))
	a.ActualEnd = &now
	a.ActualMinutes = &d
	a.moveTo(StatusCompleted, now)
	return nil
}

func (a *Appointment) Cancel(now time.Time, reason string) error {
	if reason == "" {
		return failure.Validation("cancel", "cancellation reason is required")
	}
	if a.Status.Terminal() {
		return a.transitionErr("cancel")
	}
	a.appendNote(now, "cancelled: %s", reason)
	a.moveTo(StatusCancelled, now)
	return nil
}

// Reschedule moves the appointment, and optionally its room, before it starts.
func (a *Appointment) Reschedule(now, newStart time.Time, newRoom *uuid.UUID) error {
	if newStart.IsZero() {
		return failure.Validation("reschedule", "new start time is required")
	}
	if newRoom != nil && *newRoom == uuid.Nil {
		return failure.Validation("reschedule", "reschedule room is missing")
	}
	if a.Status != StatusScheduled && a.Status != StatusWaiting {
		return a.transitionErr("reschedule")
	}
	a.ScheduledStart = newStart
	a.ScheduledEnd = newStart.Add(minutes(a.PlannedMinutes))
	if newRoom != nil {
		a.RoomID = *newRoom
	}
	a.UpdatedAt = now
	return nil
}

// ReportDelay opens the delay window. An appointment already in progress
// can only report within window of its actual start.
func (a *Appointment) ReportDelay(now time.Time, reason string, window time.Duration) error {
	if a.DelayReported {
		return &failure.Error{Kind: failure.InvalidTransition, Op: "report_delay", Entity: "appointment", State: string(a.Status), Message: "delay already reported"}
	}
	switch a.Status {
	case StatusScheduled, StatusWaiting:
	case StatusInProgress:
		if a.ActualStart == nil || now.Sub(*a.ActualStart) > window {
			return failure.Timeout("report_delay", "appointment", string(a.Status), "too late to report a delay for a started appointment")
		}
	default:
		return a.transitionErr("report_delay")
	}
	a.DelayReported = true
	a.DelayReportTime = &now
	a.DelayReason = reason
	a.UpdatedAt = now
	return nil
}

// DelayElapsed reports whether a reported delay has outlived window.
func (a *Appointment) DelayElapsed(now time.Time, window time.Duration) bool {
	return a.DelayReported && a.DelayReportTime != nil && now.Sub(*a.DelayReportTime) >= window
}

// VerifyDelay turns an expired delay report into NO_SHOW. It is a no-op
// while the window is open and on appointments already terminal, so it can
// be called any number of times.
func (a *Appointment) VerifyDelay(now time.Time, window time.Duration) (bool, error) {
	if a.Status.Terminal() {
		return false, nil
	}
	if !a.DelayReported {
		return false, a.transitionErr("verify_delay")
	}
	if !a.DelayElapsed(now, window) {
		return false, nil
	}
	a.appendNote(now, "no-show: delay reported at %s not cleared within %s",
		a.DelayReportTime.UTC().Format(time.RFC3339), window)
	a.moveTo(StatusNoShow, now)
	return true, nil
}

// ResumeAfterDelay clears an open delay report. It returns true when the
// appointment still has to be started; an appointment already in progress
// keeps its stopwatch untouched.
func (a *Appointment) ResumeAfterDelay(now time.Time, window time.Duration) (bool, error) {
	if !a.DelayReported || a.Status.Terminal() {
		return false, a.transitionErr("resume_after_delay")
	}
	if a.DelayElapsed(now, window) {
		return false, failure.Timeout("resume_after_delay", "appointment", string(a.Status), "delay window elapsed, verify the delay instead")
	}
	a.DelayReported = false
	a.DelayReportTime = nil
	a.DelayReason = ""
	a.UpdatedAt = now
	return a.Status != StatusInProgress, nil
}

// ArrivalDelay is max(0, actual start - scheduled start) in minutes.
func (a *Appointment) ArrivalDelay() (int, bool) {
	if a.ActualStart == nil {
		return 0, false
	}
	d := wholeMinutes(a.ActualStart.Sub(a.ScheduledStart))
	if d < 0 {
		d = 0
	}
	return d, true
}

// DurationVariance is actual minus planned duration, once finalized.
func (a *Appointment) DurationVariance() (int, bool) {
	if a.ActualMinutes == nil {
		return 0, false
	}
	return *a.ActualMinutes - a.PlannedMinutes, true
}

func (a *Appointment) Elapsed(now time.Time) time.Duration {
	if a.ActualStart == nil {
		return 0
	}
	return now.Sub(*a.ActualStart)
}

// IsRunningLate is true for an in-progress appointment past its planned duration.
func (a *Appointment) IsRunningLate(now time.Time) bool {
	return a.Status == StatusInProgress && a.Elapsed(now) > minutes(a.PlannedMinutes)
}
