package memory

import (
	"context"
	"slices"
	"sort"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-flow/internal/failure"
	"github.com/hackgods/clinic-flow/internal/room"
)

// Rooms implements room.Repository.
type Rooms struct{ s *Store }

var _ room.Repository = (*Rooms)(nil)

func cloneRoom(r room.Room) room.Room {
	r.Equipment = slices.Clone(r.Equipment)
	r.Availability = slices.Clone(r.Availability)
	if r.Occupant != nil {
		occ := *r.Occupant
		r.Occupant = &occ
	}
	return r
}

func (m *Rooms) CreateRoom(ctx context.Context, r *room.Room) error {
	return m.s.write(ctx, func(st *state) error {
		for _, existing := range st.rooms {
			if existing.Code == r.Code {
				return failure.Conflict("create_room", "room", "", "room code already exists")
			}
		}
		st.rooms[r.ID] = cloneRoom(*r)
		return nil
	})
}

func (m *Rooms) GetRoom(ctx context.Context, id uuid.UUID) (*room.Room, error) {
	var (
		r  room.Room
		ok bool
	)
	m.s.read(ctx, func(st *state) { r, ok = st.rooms[id] })
	if !ok {
		return nil, room.ErrRoomNotFound
	}
	r = cloneRoom(r)
	return &r, nil
}

// GetRoomForUpdate relies on the store serializing transactions.
func (m *Rooms) GetRoomForUpdate(ctx context.Context, id uuid.UUID) (*room.Room, error) {
	return m.GetRoom(ctx, id)
}

func (m *Rooms) list(ctx context.Context, keep func(room.Room) bool) []room.Room {
	var out []room.Room
	m.s.read(ctx, func(st *state) {
		for _, r := range st.rooms {
			if keep(r) {
				out = append(out, cloneRoom(r))
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (m *Rooms) ListRooms(ctx context.Context) ([]room.Room, error) {
	return m.list(ctx, func(room.Room) bool { return true }), nil
}

func (m *Rooms) ListRoomsByStatus(ctx context.Context, status room.Status) ([]room.Room, error) {
	return m.list(ctx, func(r room.Room) bool { return r.Status == status }), nil
}

func (m *Rooms) UpdateRoom(ctx context.Context, r *room.Room) error {
	return m.s.write(ctx, func(st *state) error {
		if _, ok := st.rooms[r.ID]; !ok {
			return room.ErrRoomNotFound
		}
		st.rooms[r.ID] = cloneRoom(*r)
		return nil
	})
}

func (m *Rooms) InsertBooking(ctx context.Context, b *room.ManualBooking) error {
	return m.s.write(ctx, func(st *state) error {
		if _, ok := st.rooms[b.RoomID]; !ok {
			return room.ErrRoomNotFound
		}
		for _, existing := range st.bookings {
			if existing.RoomID == b.RoomID && existing.Active {
				return failure.Conflict("create_manual_booking", "room", "", "room already has an active manual booking")
			}
		}
		st.bookings[b.ID] = *b
		return nil
	})
}

func (m *Rooms) GetBooking(ctx context.Context, id uuid.UUID) (*room.ManualBooking, error) {
	var (
		b  room.ManualBooking
		ok bool
	)
	m.s.read(ctx, func(st *state) { b, ok = st.bookings[id] })
	if !ok {
		return nil, room.ErrBookingNotFound
	}
	return &b, nil
}

func (m *Rooms) GetActiveBooking(ctx context.Context, roomID uuid.UUID) (*room.ManualBooking, error) {
	var found *room.ManualBooking
	m.s.read(ctx, func(st *state) {
		for _, b := range st.bookings {
			if b.RoomID == roomID && b.Active {
				found = &b
				return
			}
		}
	})
	if found == nil {
		return nil, room.ErrBookingNotFound
	}
	return found, nil
}

func (m *Rooms) ListActiveBookings(ctx context.Context) ([]room.ManualBooking, error) {
	var out []room.ManualBooking
	m.s.read(ctx, func(st *state) {
		for _, b := range st.bookings {
			if b.Active {
				out = append(out, b)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledEndTime.Before(out[j].ScheduledEndTime) })
	return out, nil
}

func (m *Rooms) UpdateBooking(ctx context.Context, b *room.ManualBooking) error {
	return m.s.write(ctx, func(st *state) error {
		if _, ok := st.bookings[b.ID]; !ok {
			return room.ErrBookingNotFound
		}
		st.bookings[b.ID] = *b
		return nil
	})
}
