package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var appointmentCols = []string{"id", "patient_id", "clinician_id", "room_id", "scheduled_start",
	"scheduled_end", "planned_minutes", "actual_start", "actual_end", "actual_minutes", "status",
	"delay_reported", "delay_report_time", "delay_reason", "notes", "created_at", "updated_at"}

func fixture(status Status) *Appointment {
	a := newAppointment(ScheduleParams{
		PatientID:      uuid.New(),
		ClinicianID:    uuid.New(),
		RoomID:         uuid.New(),
		ScheduledStart: nine,
		PlannedMinutes: 30,
	}, nine.Add(-time.Hour))
	a.Status = status
	return a
}

func addRow(rows *pgxmock.Rows, a *Appointment) *pgxmock.Rows {
	return rows.AddRow(a.ID, a.PatientID, a.ClinicianID, a.RoomID, a.ScheduledStart,
		a.ScheduledEnd, a.PlannedMinutes, a.ActualStart, a.ActualEnd, a.ActualMinutes, a.Status,
		a.DelayReported, a.DelayReportTime, a.DelayReason, a.Notes, a.CreatedAt, a.UpdatedAt)
}

func TestGetForUpdateLocksRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	want := fixture(StatusInProgress)
	started := nine.Add(2 * time.Minute)
	want.ActualStart = &started

	mock.ExpectQuery(`FROM appointments\s+WHERE id = \$1\s+FOR UPDATE`).
		WithArgs(want.ID).
		WillReturnRows(addRow(pgxmock.NewRows(appointmentCols), want))

	got, err := NewPgRepository(mock).GetForUpdate(context.Background(), want.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, got.Status)
	assert.Equal(t, want.RoomID, got.RoomID)
	require.NotNil(t, got.ActualStart)
	assert.Equal(t, started, *got.ActualStart)
	assert.Equal(t, 30, got.PlannedMinutes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissingAppointment(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery("FROM appointments").WithArgs(id).WillReturnRows(pgxmock.NewRows(appointmentCols))

	_, err = NewPgRepository(mock).Get(context.Background(), id)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListDueSelectsOpenAppointmentsStartedBy(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := nine.Add(5 * time.Minute)
	scheduled := fixture(StatusScheduled)
	waiting := fixture(StatusWaiting)

	mock.ExpectQuery(`WHERE scheduled_start <= \$1\s+AND status IN \('SCHEDULED', 'WAITING', 'IN_PROGRESS'\)\s+ORDER BY scheduled_start`).
		WithArgs(now).
		WillReturnRows(addRow(addRow(pgxmock.NewRows(appointmentCols), scheduled), waiting))

	due, err := NewPgRepository(mock).ListDue(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, scheduled.ID, due[0].ID)
	assert.Equal(t, StatusWaiting, due[1].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListPendingDelay(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	delayed := fixture(StatusScheduled)
	reported := nine.Add(-10 * time.Minute)
	delayed.DelayReported = true
	delayed.DelayReportTime = &reported
	delayed.DelayReason = "traffic"

	mock.ExpectQuery(`WHERE delay_reported\s+AND status IN \('SCHEDULED', 'WAITING', 'IN_PROGRESS'\)\s+ORDER BY delay_report_time`).
		WillReturnRows(addRow(pgxmock.NewRows(appointmentCols), delayed))

	pending, err := NewPgRepository(mock).ListPendingDelay(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].DelayReported)
	assert.Equal(t, "traffic", pending[0].DelayReason)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateMissingAppointment(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	a := fixture(StatusWaiting)
	mock.ExpectExec("UPDATE appointments").
		WithArgs(a.ID, a.RoomID, a.ScheduledStart, a.ScheduledEnd, a.ActualStart, a.ActualEnd,
			a.ActualMinutes, a.Status, a.DelayReported, a.DelayReportTime, a.DelayReason,
			a.Notes, a.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = NewPgRepository(mock).Update(context.Background(), a)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertEventDefaultsCreatedAt(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	payload := []byte(`{"to":"WAITING"}`)
	mock.ExpectExec("INSERT INTO event_logs").
		WithArgs("appointment.waiting", &id, payload, (*time.Time)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = NewPgRepository(mock).InsertEvent(context.Background(), EventLog{
		EventType:     "appointment.waiting",
		AppointmentID: &id,
		Payload:       payload,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
