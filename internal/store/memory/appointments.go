package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-flow/internal/appointment"
)

// Appointments implements appointment.Repository.
type Appointments struct{ s *Store }

var _ appointment.Repository = (*Appointments)(nil)

func (m *Appointments) Insert(ctx context.Context, a *appointment.Appointment) error {
	return m.s.write(ctx, func(st *state) error {
		st.appointments[a.ID] = *a
		return nil
	})
}

func (m *Appointments) Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	var (
		a  appointment.Appointment
		ok bool
	)
	m.s.read(ctx, func(st *state) { a, ok = st.appointments[id] })
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *Appointments) GetForUpdate(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	return m.Get(ctx, id)
}

func (m *Appointments) Update(ctx context.Context, a *appointment.Appointment) error {
	return m.s.write(ctx, func(st *state) error {
		if _, ok := st.appointments[a.ID]; !ok {
			return appointment.ErrAppointmentNotFound
		}
		st.appointments[a.ID] = *a
		return nil
	})
}

func (m *Appointments) filter(ctx context.Context, keep func(appointment.Appointment) bool, less func(a, b appointment.Appointment) bool) []appointment.Appointment {
	var out []appointment.Appointment
	m.s.read(ctx, func(st *state) {
		for _, a := range st.appointments {
			if keep(a) {
				out = append(out, a)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func byStart(a, b appointment.Appointment) bool { return a.ScheduledStart.Before(b.ScheduledStart) }

func (m *Appointments) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]appointment.Appointment, error) {
	out := m.filter(ctx,
		func(a appointment.Appointment) bool { return a.PatientID == patientID },
		func(a, b appointment.Appointment) bool { return a.ScheduledStart.After(b.ScheduledStart) },
	)
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *Appointments) ListByRoom(ctx context.Context, roomID uuid.UUID) ([]appointment.Appointment, error) {
	return m.filter(ctx, func(a appointment.Appointment) bool { return a.RoomID == roomID }, byStart), nil
}

func (m *Appointments) ListDue(ctx context.Context, now time.Time) ([]appointment.Appointment, error) {
	return m.filter(ctx, func(a appointment.Appointment) bool {
		return a.Status.Open() && !a.ScheduledStart.After(now)
	}, byStart), nil
}

func (m *Appointments) ListInProgress(ctx context.Context) ([]appointment.Appointment, error) {
	return m.filter(ctx, func(a appointment.Appointment) bool {
		return a.Status == appointment.StatusInProgress
	}, byStart), nil
}

func (m *Appointments) ListPendingDelay(ctx context.Context) ([]appointment.Appointment, error) {
	return m.filter(ctx, func(a appointment.Appointment) bool {
		return a.DelayReported && a.Status.Open()
	}, byStart), nil
}

func (m *Appointments) InsertEvent(ctx context.Context, ev appointment.EventLog) error {
	return m.s.write(ctx, func(st *state) error {
		ev.ID = int64(len(st.events) + 1)
		st.events = append(st.events, ev)
		return nil
	})
}

// Events returns the event log of one appointment in insertion order.
func (m *Appointments) Events(appointmentID uuid.UUID) []appointment.EventLog {
	var out []appointment.EventLog
	m.s.read(context.Background(), func(st *state) {
		for _, ev := range st.events {
			if ev.AppointmentID != nil && *ev.AppointmentID == appointmentID {
				out = append(out, ev)
			}
		}
	})
	return out
}
