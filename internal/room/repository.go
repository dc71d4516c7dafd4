package room

import (
	"context"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-flow/internal/failure"
)

var (
	ErrRoomNotFound    = failure.Missing("room")
	ErrBookingNotFound = failure.Missing("manual_booking")
)

// Repository contains all storage interactions needed by the arbiter.
// Methods join the transaction bound to ctx when there is one.
type Repository interface {
	CreateRoom(ctx context.Context, r *Room) error
	GetRoom(ctx context.Context, id uuid.UUID) (*Room, error)
	// GetRoomForUpdate loads the room and holds its row lock until the
	// surrounding transaction ends.
	GetRoomForUpdate(ctx context.Context, id uuid.UUID) (*Room, error)
	ListRooms(ctx context.Context) ([]Room, error)
	ListRoomsByStatus(ctx context.Context, status Status) ([]Room, error)
	UpdateRoom(ctx context.Context, r *Room) error

	InsertBooking(ctx context.Context, b *ManualBooking) error
	GetBooking(ctx context.Context, id uuid.UUID) (*ManualBooking, error)
	// GetActiveBooking returns ErrBookingNotFound when the room has none.
	GetActiveBooking(ctx context.Context, roomID uuid.UUID) (*ManualBooking, error)
	ListActiveBookings(ctx context.Context) ([]ManualBooking, error)
	UpdateBooking(ctx context.Context, b *ManualBooking) error
}
