package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-flow/internal/failure"
	"github.com/hackgods/clinic-flow/internal/patient"
	"github.com/hackgods/clinic-flow/internal/room"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func newRoom(t *testing.T, code string) *room.Room {
	t.Helper()
	r, err := room.NewRoom(room.NewRoomParams{Code: code, Capacity: 1}, t0)
	require.NoError(t, err)
	return r
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	rooms := s.Rooms()

	r := newRoom(t, "BOX-1")
	require.NoError(t, rooms.CreateRoom(ctx, r))

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context) error {
		got, err := rooms.GetRoomForUpdate(ctx, r.ID)
		require.NoError(t, err)
		require.NoError(t, got.Occupy(t0, room.AppointmentOccupant(uuid.New())))
		require.NoError(t, rooms.UpdateRoom(ctx, got))
		require.NoError(t, rooms.CreateRoom(ctx, newRoom(t, "BOX-2")))
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := rooms.GetRoom(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, room.StatusAvailable, got.Status)
	assert.Nil(t, got.Occupant)

	all, err := rooms.ListRooms(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestNestedTxJoinsOuter(t *testing.T) {
	s := New()
	ctx := context.Background()
	rooms := s.Rooms()

	err := s.WithinTx(ctx, func(ctx context.Context) error {
		require.NoError(t, rooms.CreateRoom(ctx, newRoom(t, "BOX-1")))
		return s.WithinTx(ctx, func(ctx context.Context) error {
			return rooms.CreateRoom(ctx, newRoom(t, "BOX-2"))
		})
	})
	require.NoError(t, err)

	all, err := rooms.ListRooms(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "BOX-1", all[0].Code)
	assert.Equal(t, "BOX-2", all[1].Code)
}

func TestNestedFailureUndoesWholeTx(t *testing.T) {
	s := New()
	ctx := context.Background()
	rooms := s.Rooms()

	err := s.WithinTx(ctx, func(ctx context.Context) error {
		require.NoError(t, rooms.CreateRoom(ctx, newRoom(t, "BOX-1")))
		return s.WithinTx(ctx, func(ctx context.Context) error {
			return rooms.CreateRoom(ctx, newRoom(t, "BOX-1"))
		})
	})
	assert.True(t, failure.Is(err, failure.ResourceConflict))

	all, err := rooms.ListRooms(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSingleActiveBookingPerRoom(t *testing.T) {
	s := New()
	ctx := context.Background()
	rooms := s.Rooms()

	r := newRoom(t, "BOX-1")
	require.NoError(t, rooms.CreateRoom(ctx, r))

	first, err := room.NewManualBooking(r.ID, 30, "cleaning", t0)
	require.NoError(t, err)
	require.NoError(t, rooms.InsertBooking(ctx, first))

	second, err := room.NewManualBooking(r.ID, 15, "audit", t0)
	require.NoError(t, err)
	err = rooms.InsertBooking(ctx, second)
	assert.True(t, failure.Is(err, failure.ResourceConflict))

	require.NoError(t, first.Finalize(t0.Add(10*time.Minute)))
	require.NoError(t, rooms.UpdateBooking(ctx, first))
	require.NoError(t, rooms.InsertBooking(ctx, second))

	active, err := rooms.GetActiveBooking(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)

	orphan, err := room.NewManualBooking(uuid.New(), 15, "", t0)
	require.NoError(t, err)
	assert.ErrorIs(t, rooms.InsertBooking(ctx, orphan), room.ErrRoomNotFound)
}

func TestReturnedRoomsAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	rooms := s.Rooms()

	r := newRoom(t, "BOX-1")
	r.Equipment = []string{"ecg"}
	require.NoError(t, rooms.CreateRoom(ctx, r))

	got, err := rooms.GetRoom(ctx, r.ID)
	require.NoError(t, err)
	got.Equipment[0] = "changed"
	got.Status = room.StatusMaintenance

	again, err := rooms.GetRoom(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"ecg"}, again.Equipment)
	assert.Equal(t, room.StatusAvailable, again.Status)
}

func TestPatientRegistry(t *testing.T) {
	s := New()
	ctx := context.Background()
	reg := s.Patients()

	p := patient.Patient{ID: uuid.New(), Name: "Ana"}
	reg.AddPatient(p)
	reg.AddClinician(patient.Clinician{ID: uuid.New(), Name: "Receptionist", IsClinician: false})

	require.NoError(t, reg.SetCurrentStage(ctx, p.ID, "Triage"))
	got, err := reg.GetPatient(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Triage", got.CurrentStage)

	assert.ErrorIs(t, reg.SetCurrentStage(ctx, uuid.New(), "x"), patient.ErrPatientNotFound)

	ok, err := reg.IsClinician(ctx, uuid.New())
	assert.False(t, ok)
	assert.ErrorIs(t, err, patient.ErrClinicianNotFound)
}
