package room

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-flow/internal/failure"
)

type Status string

const (
	StatusAvailable    Status = "DISPONIBLE"
	StatusOccupied     Status = "OCUPADO"
	StatusMaintenance  Status = "MANTENIMIENTO"
	StatusOutOfService Status = "FUERA_SERVICIO"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusOccupied, StatusMaintenance, StatusOutOfService:
		return true
	}
	return false
}

func (s Status) Administrative() bool {
	return s == StatusMaintenance || s == StatusOutOfService
}

type OccupantKind string

const (
	OccupantAppointment   OccupantKind = "appointment"
	OccupantManualBooking OccupantKind = "manual_booking"
)

// Occupant names who holds an OCUPADO room. Exactly one appointment or one
// manual booking owns the occupancy it created.
type Occupant struct {
	Kind OccupantKind `json:"kind"`
	ID   uuid.UUID    `json:"id"`
}

func AppointmentOccupant(id uuid.UUID) Occupant {
	return Occupant{Kind: OccupantAppointment, ID: id}
}

func BookingOccupant(id uuid.UUID) Occupant {
	return Occupant{Kind: OccupantManualBooking, ID: id}
}

// Window is a weekly availability slot, in minutes from midnight UTC.
type Window struct {
	Weekday     time.Weekday `json:"weekday"`
	StartMinute int          `json:"start_minute"`
	EndMinute   int          `json:"end_minute"`
}

func (w Window) valid() bool {
	return w.Weekday >= time.Sunday && w.Weekday <= time.Saturday &&
		w.StartMinute >= 0 && w.EndMinute <= 24*60 && w.StartMinute < w.EndMinute
}

// Availability is the weekly schedule of a room. An empty schedule means
// the room is bookable at any time.
type Availability []Window

// Covers reports whether [start, end) falls inside a single window.
func (a Availability) Covers(start, end time.Time) bool {
	if len(a) == 0 {
		return true
	}
	start = start.UTC()
	from := start.Hour()*60 + start.Minute()
	to := from + int(end.Sub(start)/time.Minute)
	if to > 24*60 {
		return false
	}
	for _, w := range a {
		if w.Weekday == start.Weekday() && from >= w.StartMinute && to <= w.EndMinute {
			return true
		}
	}
	return false
}

type Room struct {
	ID             uuid.UUID
	Code           string
	Name           string
	Specialty      string
	Status         Status
	Capacity       int
	Equipment      []string
	Availability   Availability
	OccupiedToday  time.Duration
	LastOccupiedAt *time.Time
	LastReleasedAt *time.Time
	Occupant       *Occupant
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type NewRoomParams struct {
	Code         string
	Name         string
	Specialty    string
	Capacity     int
	Equipment    []string
	Availability Availability
}

func NewRoom(p NewRoomParams, at time.Time) (*Room, error) {
	if p.Code == "" {
		return nil, failure.Validation("create_room", "code is required")
	}
	if p.Capacity < 1 {
		return nil, failure.Validation("create_room", "capacity must be at least 1")
	}
	for _, w := range p.Availability {
		if !w.valid() {
			return nil, failure.Validation("create_room", "availability window is malformed")
		}
	}
	name := p.Name
	if name == "" {
		name = p.Code
	}
	return &Room{
		ID:           uuid.New(),
		Code:         p.Code,
		Name:         name,
		Specialty:    p.Specialty,
		Status:       StatusAvailable,
		Capacity:     p.Capacity,
		Equipment:    slices.Clone(p.Equipment),
		Availability: slices.Clone(p.Availability),
		Active:       true,
		CreatedAt:    at,
		UpdatedAt:    at,
	}, nil
}

// Occupy moves DISPONIBLE to OCUPADO on behalf of occ.
func (r *Room) Occupy(at time.Time, occ Occupant) error {
	if !r.Active {
		return failure.Conflict("occupy", "room", string(r.Status), "room is inactive")
	}
	if r.Status != StatusAvailable {
		return failure.Conflict("occupy", "room", string(r.Status), "room is not available")
	}
	r.Status = StatusOccupied
	r.LastOccupiedAt = &at
	r.Occupant = &occ
	r.UpdatedAt = at
	return nil
}

// Release moves OCUPADO back to DISPONIBLE and accumulates the occupied time.
// by names the releasing owner; nil is a generic release. An active manual
// booking blocks every release that does not come from that booking.
func (r *Room) Release(at time.Time, by *Occupant, bookingActive bool) error {
	if r.Status != StatusOccupied {
		return failure.Transition("release", "room", string(r.Status))
	}
	if bookingActive && (by == nil || by.Kind != OccupantManualBooking) {
		return failure.Conflict("release", "room", string(r.Status), "room is held by an active manual booking")
	}
	if by != nil && r.Occupant != nil && *by != *r.Occupant {
		return failure.Conflict("release", "room", string(r.Status), "room is occupied by another owner")
	}
	if r.LastOccupiedAt != nil && at.After(*r.LastOccupiedAt) {
		r.OccupiedToday += at.Sub(*r.LastOccupiedAt)
	}
	r.Status = StatusAvailable
	r.LastReleasedAt = &at
	r.Occupant = nil
	r.UpdatedAt = at
	return nil
}

// OccupiedBy reports whether occ currently holds the room.
func (r *Room) OccupiedBy(occ Occupant) bool {
	return r.Status == StatusOccupied && r.Occupant != nil && *r.Occupant == occ
}

// OccupancyPercentage is today's accumulated occupation over 24h, capped at 100.
func (r *Room) OccupancyPercentage() float64 {
	pct := r.OccupiedToday.Seconds() / (24 * time.Hour).Seconds() * 100
	if pct > 100 {
		return 100
	}
	return pct
}

// Rollover starts a new accounting day. A room still occupied keeps its
// occupant but only accrues time from at onwards.
func (r *Room) Rollover(at time.Time) {
	r.OccupiedToday = 0
	if r.Status == StatusOccupied {
		r.LastOccupiedAt = &at
	}
	r.UpdatedAt = at
}

// SetAdministrative enters MANTENIMIENTO or FUERA_SERVICIO. Occupied rooms
// must be released first.
func (r *Room) SetAdministrative(target Status, at time.Time) error {
	if !target.Administrative() {
		return failure.Validation("set_administrative", "target status must be MANTENIMIENTO or FUERA_SERVICIO")
	}
	if r.Status == StatusOccupied {
		return failure.Conflict("set_administrative", "room", string(r.Status), "room is occupied")
	}
	r.Status = target
	r.UpdatedAt = at
	return nil
}

func (r *Room) ReturnToService(at time.Time) error {
	if !r.Status.Administrative() {
		return failure.Transition("return_to_service", "room", string(r.Status))
	}
	r.Status = StatusAvailable
	r.UpdatedAt = at
	return nil
}

// AllowedBookingDurations are the only manual booking lengths, in minutes.
var AllowedBookingDurations = []int{15, 30, 45, 60, 75, 90, 105, 120}

func ValidBookingDuration(minutes int) bool {
	return slices.Contains(AllowedBookingDurations, minutes)
}

type ManualBooking struct {
	ID               uuid.UUID
	RoomID           uuid.UUID
	DurationMinutes  int
	StartTime        time.Time
	ScheduledEndTime time.Time
	ActualEndTime    *time.Time
	Reason           string
	Active           bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func NewManualBooking(roomID uuid.UUID, minutes int, reason string, at time.Time) (*ManualBooking, error) {
	if !ValidBookingDuration(minutes) {
		return nil, failure.Validation("create_manual_booking", "duration must be one of 15, 30, 45, 60, 75, 90, 105 or 120 minutes")
	}
	return &ManualBooking{
		ID:               uuid.New(),
		RoomID:           roomID,
		DurationMinutes:  minutes,
		StartTime:        at,
		ScheduledEndTime: at.Add(time.Duration(minutes) * time.Minute),
		Reason:           reason,
		Active:           true,
		CreatedAt:        at,
		UpdatedAt:        at,
	}, nil
}

func (b *ManualBooking) Finalize(at time.Time) error {
	if !b.Active {
		return failure.Transition("finalize_manual_booking", "manual_booking", "inactive")
	}
	b.ActualEndTime = &at
	b.Active = false
	b.UpdatedAt = at
	return nil
}

// Expired reports whether the booking outlived its scheduled end.
func (b *ManualBooking) Expired(now time.Time) bool {
	return b.Active && !now.Before(b.ScheduledEndTime)
}
