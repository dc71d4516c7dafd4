package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-flow/internal/appointment"
	"github.com/hackgods/clinic-flow/internal/pathway"
	"github.com/hackgods/clinic-flow/internal/reconcile"
	"github.com/hackgods/clinic-flow/internal/room"
)

// Requests

type WindowRequest struct {
	Weekday     int `json:"weekday" validate:"gte=0,lte=6"`
	StartMinute int `json:"start_minute" validate:"gte=0,lte=1440"`
	EndMinute   int `json:"end_minute" validate:"gtfield=StartMinute,lte=1440"`
}

type CreateRoomRequest struct {
	Code         string          `json:"code" validate:"required,max=32"`
	Name         string          `json:"name" validate:"max=128"`
	Specialty    string          `json:"specialty" validate:"max=128"`
	Capacity     int             `json:"capacity" validate:"gte=1"`
	Equipment    []string        `json:"equipment"`
	Availability []WindowRequest `json:"availability" validate:"dive"`
}

func (r CreateRoomRequest) params() room.NewRoomParams {
	p := room.NewRoomParams{
		Code:      r.Code,
		Name:      r.Name,
		Specialty: r.Specialty,
		Capacity:  r.Capacity,
		Equipment: r.Equipment,
	}
	for _, w := range r.Availability {
		p.Availability = append(p.Availability, room.Window{
			Weekday:     time.Weekday(w.Weekday),
			StartMinute: w.StartMinute,
			EndMinute:   w.EndMinute,
		})
	}
	return p
}

type CreateBookingRequest struct {
	DurationMinutes int    `json:"duration_minutes" validate:"required,oneof=15 30 45 60 75 90 105 120"`
	Reason          string `json:"reason" validate:"max=500"`
}

type ScheduleAppointmentRequest struct {
	PatientID      string    `json:"patient_id" validate:"required,uuid"`
	ClinicianID    string    `json:"clinician_id" validate:"required,uuid"`
	RoomID         string    `json:"room_id" validate:"required,uuid"`
	ScheduledStart time.Time `json:"scheduled_start" validate:"required"`
	PlannedMinutes int       `json:"planned_minutes" validate:"gte=1"`
	Notes          string    `json:"notes" validate:"max=2000"`
}

func (r ScheduleAppointmentRequest) params() appointment.ScheduleParams {
	return appointment.ScheduleParams{
		PatientID:      uuid.MustParse(r.PatientID),
		ClinicianID:    uuid.MustParse(r.ClinicianID),
		RoomID:         uuid.MustParse(r.RoomID),
		ScheduledStart: r.ScheduledStart,
		PlannedMinutes: r.PlannedMinutes,
		Notes:          r.Notes,
	}
}

type RescheduleRequest struct {
	ScheduledStart time.Time `json:"scheduled_start" validate:"required"`
	RoomID         string    `json:"room_id" validate:"omitempty,uuid"`
}

func (r RescheduleRequest) room() *uuid.UUID {
	if r.RoomID == "" {
		return nil
	}
	id := uuid.MustParse(r.RoomID)
	return &id
}

// ReasonRequest is the optional body of cancel, pause and delay actions.
type ReasonRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type StageRequest struct {
	Name             string `json:"name" validate:"required,max=128"`
	Type             string `json:"type" validate:"max=64"`
	EstimatedMinutes int    `json:"estimated_minutes" validate:"gte=1"`
}

type CreatePathwayRequest struct {
	PatientID string         `json:"patient_id" validate:"required,uuid"`
	Stages    []StageRequest `json:"stages" validate:"required,min=1,dive"`
	Metadata  map[string]any `json:"metadata"`
}

func (r CreatePathwayRequest) params() pathway.CreateParams {
	p := pathway.CreateParams{
		PatientID: uuid.MustParse(r.PatientID),
		Metadata:  r.Metadata,
	}
	for _, s := range r.Stages {
		p.Stages = append(p.Stages, pathway.StageSpec{
			Name:             s.Name,
			Type:             s.Type,
			EstimatedMinutes: s.EstimatedMinutes,
		})
	}
	return p
}

// Responses

type OccupantResponse struct {
	Kind string    `json:"kind"`
	ID   uuid.UUID `json:"id"`
}

type RoomResponse struct {
	ID                  uuid.UUID         `json:"id"`
	Code                string            `json:"code"`
	Name                string            `json:"name"`
	Specialty           string            `json:"specialty,omitempty"`
	Status              string            `json:"status"`
	Capacity            int               `json:"capacity"`
	Equipment           []string          `json:"equipment,omitempty"`
	Availability        room.Availability `json:"availability,omitempty"`
	OccupiedMinutes     int               `json:"occupied_minutes_today"`
	OccupancyPercentage float64           `json:"occupancy_percentage"`
	Occupant            *OccupantResponse `json:"occupant,omitempty"`
	LastOccupiedAt      *time.Time        `json:"last_occupied_at,omitempty"`
	LastReleasedAt      *time.Time        `json:"last_released_at,omitempty"`
	Active              bool              `json:"active"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

func toRoomResponse(r *room.Room) RoomResponse {
	resp := RoomResponse{
		ID:                  r.ID,
		Code:                r.Code,
		Name:                r.Name,
		Specialty:           r.Specialty,
		Status:              string(r.Status),
		Capacity:            r.Capacity,
		Equipment:           r.Equipment,
		Availability:        r.Availability,
		OccupiedMinutes:     int(r.OccupiedToday / time.Minute),
		OccupancyPercentage: r.OccupancyPercentage(),
		LastOccupiedAt:      r.LastOccupiedAt,
		LastReleasedAt:      r.LastReleasedAt,
		Active:              r.Active,
		UpdatedAt:           r.UpdatedAt,
	}
	if r.Occupant != nil {
		resp.Occupant = &OccupantResponse{Kind: string(r.Occupant.Kind), ID: r.Occupant.ID}
	}
	return resp
}

type BookingResponse struct {
	ID               uuid.UUID  `json:"id"`
	RoomID           uuid.UUID  `json:"room_id"`
	DurationMinutes  int        `json:"duration_minutes"`
	StartTime        time.Time  `json:"start_time"`
	ScheduledEndTime time.Time  `json:"scheduled_end_time"`
	ActualEndTime    *time.Time `json:"actual_end_time,omitempty"`
	Reason           string     `json:"reason,omitempty"`
	Active           bool       `json:"active"`
}

func toBookingResponse(b *room.ManualBooking) BookingResponse {
	return BookingResponse{
		ID:               b.ID,
		RoomID:           b.RoomID,
		DurationMinutes:  b.DurationMinutes,
		StartTime:        b.StartTime,
		ScheduledEndTime: b.ScheduledEndTime,
		ActualEndTime:    b.ActualEndTime,
		Reason:           b.Reason,
		Active:           b.Active,
	}
}

type AppointmentResponse struct {
	ID              uuid.UUID  `json:"id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	ClinicianID     uuid.UUID  `json:"clinician_id"`
	RoomID          uuid.UUID  `json:"room_id"`
	Status          string     `json:"status"`
	ScheduledStart  time.Time  `json:"scheduled_start"`
	ScheduledEnd    time.Time  `json:"scheduled_end"`
	PlannedMinutes  int        `json:"planned_minutes"`
	ActualStart     *time.Time `json:"actual_start,omitempty"`
	ActualEnd       *time.Time `json:"actual_end,omitempty"`
	ActualMinutes   *int       `json:"actual_minutes,omitempty"`
	ArrivalDelay    *int       `json:"arrival_delay_minutes,omitempty"`
	Variance        *int       `json:"duration_variance_minutes,omitempty"`
	RunningLate     bool       `json:"running_late"`
	DelayReported   bool       `json:"delay_reported"`
	DelayReportTime *time.Time `json:"delay_report_time,omitempty"`
	DelayReason     string     `json:"delay_reason,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment, now time.Time) AppointmentResponse {
	resp := AppointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		ClinicianID:     a.ClinicianID,
		RoomID:          a.RoomID,
		Status:          string(a.Status),
		ScheduledStart:  a.ScheduledStart,
		ScheduledEnd:    a.ScheduledEnd,
		PlannedMinutes:  a.PlannedMinutes,
		ActualStart:     a.ActualStart,
		ActualEnd:       a.ActualEnd,
		ActualMinutes:   a.ActualMinutes,
		RunningLate:     a.IsRunningLate(now),
		DelayReported:   a.DelayReported,
		DelayReportTime: a.DelayReportTime,
		DelayReason:     a.DelayReason,
		Notes:           a.Notes,
		UpdatedAt:       a.UpdatedAt,
	}
	if d, ok := a.ArrivalDelay(); ok {
		resp.ArrivalDelay = &d
	}
	if v, ok := a.DurationVariance(); ok {
		resp.Variance = &v
	}
	return resp
}

type StageResponse struct {
	ID               uuid.UUID  `json:"id"`
	Order            int        `json:"order"`
	Name             string     `json:"name"`
	Type             string     `json:"type,omitempty"`
	Status           string     `json:"status"`
	EstimatedMinutes int        `json:"estimated_minutes"`
	ActualMinutes    *int       `json:"actual_minutes,omitempty"`
	StartTime        *time.Time `json:"start_time,omitempty"`
	EndTime          *time.Time `json:"end_time,omitempty"`
	IsStatic         bool       `json:"is_static"`
	PauseReason      string     `json:"pause_reason,omitempty"`
	Delayed          bool       `json:"delayed"`
}

type PathwayResponse struct {
	ID           uuid.UUID       `json:"id"`
	PatientID    uuid.UUID       `json:"patient_id"`
	Status       string          `json:"status"`
	Completion   float64         `json:"completion_percentage"`
	CurrentStage string          `json:"current_stage,omitempty"`
	StartTime    time.Time       `json:"start_time"`
	EstimatedEnd time.Time       `json:"estimated_end"`
	ActualEnd    *time.Time      `json:"actual_end,omitempty"`
	PauseReason  string          `json:"pause_reason,omitempty"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	Stages       []StageResponse `json:"stages"`
}

func toPathwayResponse(p *pathway.Pathway, now time.Time) PathwayResponse {
	resp := PathwayResponse{
		ID:           p.ID,
		PatientID:    p.PatientID,
		Status:       string(p.Status),
		Completion:   p.Completion,
		StartTime:    p.StartTime,
		EstimatedEnd: p.EstimatedEnd,
		ActualEnd:    p.ActualEnd,
		PauseReason:  p.PauseReason,
		Metadata:     p.Metadata,
		Stages:       make([]StageResponse, 0, len(p.Stages)),
	}
	if cur := p.CurrentStage(); cur != nil {
		resp.CurrentStage = cur.Name
	}
	for _, s := range p.Stages {
		resp.Stages = append(resp.Stages, StageResponse{
			ID:               s.ID,
			Order:            s.Order,
			Name:             s.Name,
			Type:             s.Type,
			Status:           string(s.Status),
			EstimatedMinutes: s.EstimatedMinutes,
			ActualMinutes:    s.ActualMinutes,
			StartTime:        s.StartTime,
			EndTime:          s.EndTime,
			IsStatic:         s.IsStatic,
			PauseReason:      s.PauseReason,
			Delayed:          s.Delayed(now),
		})
	}
	return resp
}

type StageDelayResponse struct {
	StageID          uuid.UUID `json:"stage_id"`
	Name             string    `json:"name"`
	Order            int       `json:"order"`
	ElapsedMinutes   int       `json:"elapsed_minutes"`
	EstimatedMinutes int       `json:"estimated_minutes"`
}

func toStageDelays(delays []pathway.StageDelay) []StageDelayResponse {
	out := make([]StageDelayResponse, 0, len(delays))
	for _, d := range delays {
		out = append(out, StageDelayResponse{
			StageID:          d.StageID,
			Name:             d.Name,
			Order:            d.Order,
			ElapsedMinutes:   int(d.Elapsed / time.Minute),
			EstimatedMinutes: int(d.Estimated / time.Minute),
		})
	}
	return out
}

type SweepResponse struct {
	StartedAt  time.Time      `json:"started_at"`
	DurationMS int64          `json:"duration_ms"`
	Actions    map[string]int `json:"actions"`
	Changes    int            `json:"changes"`
	Contended  int            `json:"contended"`
	Errors     []string       `json:"errors,omitempty"`
}

func toSweepResponse(rep reconcile.Report) SweepResponse {
	resp := SweepResponse{
		StartedAt:  rep.StartedAt,
		DurationMS: rep.Duration.Milliseconds(),
		Actions:    rep.Actions,
		Changes:    rep.Changes(),
		Contended:  rep.Contended,
	}
	for _, e := range rep.Errors {
		resp.Errors = append(resp.Errors, e.Error())
	}
	return resp
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	State   string `json:"state,omitempty"`
}
