package room

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-flow/internal/clock"
	"github.com/hackgods/clinic-flow/internal/db"
	"github.com/hackgods/clinic-flow/internal/failure"
	"github.com/hackgods/clinic-flow/internal/metrics"
	redisclient "github.com/hackgods/clinic-flow/internal/redis"
	"github.com/hackgods/clinic-flow/internal/tracing"
)

const scopeName = "github.com/hackgods/clinic-flow/internal/room"

// Arbiter owns exclusive occupancy of rooms. Every mutation of a room runs
// under that room's lock and inside one transaction, so occupy, release and
// manual booking creation are mutually exclusive per room.
type Arbiter struct {
	repo    Repository
	tx      db.Transactor
	locker  redisclient.Locker
	clock   clock.Clock
	metrics *metrics.Metrics
}

func NewArbiter(repo Repository, tx db.Transactor, locker redisclient.Locker, clk clock.Clock, m *metrics.Metrics) *Arbiter {
	return &Arbiter{
		repo:    repo,
		tx:      tx,
		locker:  locker,
		clock:   clk,
		metrics: m,
	}
}

// withRoom runs fn on the locked, row-locked room and persists it afterwards.
func (a *Arbiter) withRoom(ctx context.Context, roomID uuid.UUID, fn func(ctx context.Context, r *Room) error) (*Room, error) {
	var out *Room
	err := a.locker.WithLock(ctx, redisclient.RoomKey(roomID), func(lockCtx context.Context) error {
		return a.tx.WithinTx(lockCtx, func(txCtx context.Context) error {
			r, err := a.repo.GetRoomForUpdate(txCtx, roomID)
			if err != nil {
				return err
			}
			before := r.Status
			if err := fn(txCtx, r); err != nil {
				return err
			}
			if err := a.repo.UpdateRoom(txCtx, r); err != nil {
				return fmt.Errorf("update room: %w", err)
			}
			if r.Status != before {
				a.metrics.RoomTransition(string(r.Status))
			}
			out = r
			return nil
		})
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return nil, failure.Conflict("lock", "room", "", "room is being modified, retry shortly")
	}
	return out, err
}

func (a *Arbiter) CreateRoom(ctx context.Context, p NewRoomParams) (r *Room, err error) {
	ctx, scope := tracing.Start(ctx, scopeName, "Arbiter.CreateRoom")
	defer func() { scope.End(err) }()

	r, err = NewRoom(p, a.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := a.repo.CreateRoom(ctx, r); err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	log.Info().Str("room_id", r.ID.String()).Str("code", r.Code).Msg("room created")
	return r, nil
}

func (a *Arbiter) GetRoom(ctx context.Context, id uuid.UUID) (*Room, error) {
	return a.repo.GetRoom(ctx, id)
}

func (a *Arbiter) ListRooms(ctx context.Context) ([]Room, error) {
	return a.repo.ListRooms(ctx)
}

func (a *Arbiter) ListRoomsByStatus(ctx context.Context, status Status) ([]Room, error) {
	return a.repo.ListRoomsByStatus(ctx, status)
}

// Occupy gives the room to occ. It fails with ResourceConflict unless the
// room is DISPONIBLE and active.
func (a *Arbiter) Occupy(ctx context.Context, roomID uuid.UUID, occ Occupant) (r *Room, err error) {
	ctx, scope := tracing.Start(ctx, scopeName, "Arbiter.Occupy")
	defer func() { scope.End(err) }()
	scope.SetAttribute("room_id", roomID)

	return a.withRoom(ctx, roomID, func(_ context.Context, r *Room) error {
		return r.Occupy(a.clock.Now(), occ)
	})
}

// Release frees the room on behalf of by (nil for a generic release). It is
// refused while an active manual booking holds the room unless by is that
// booking.
func (a *Arbiter) Release(ctx context.Context, roomID uuid.UUID, by *Occupant) (r *Room, err error) {
	ctx, scope := tracing.Start(ctx, scopeName, "Arbiter.Release")
	defer func() { scope.End(err) }()
	scope.SetAttribute("room_id", roomID)

	return a.withRoom(ctx, roomID, func(txCtx context.Context, r *Room) error {
		active, err := a.hasActiveBooking(txCtx, roomID)
		if err != nil {
			return err
		}
		return r.Release(a.clock.Now(), by, active)
	})
}

// ReleaseIfStale releases a room only if it is still OCUPADO by observed
// (nil meaning no recorded occupant) and no manual booking is active. It
// reports whether a release happened; a room that changed hands since the
// caller looked at it is left alone.
func (a *Arbiter) ReleaseIfStale(ctx context.Context, roomID uuid.UUID, observed *Occupant) (released bool, err error) {
	ctx, scope := tracing.Start(ctx, scopeName, "Arbiter.ReleaseIfStale")
	defer func() { scope.End(err) }()

	errUnchanged := errors.New("unchanged")
	_, err = a.withRoom(ctx, roomID, func(txCtx context.Context, r *Room) error {
		if r.Status != StatusOccupied || !sameOccupant(r.Occupant, observed) {
			return errUnchanged
		}
		active, err := a.hasActiveBooking(txCtx, roomID)
		if err != nil {
			return err
		}
		if active {
			return errUnchanged
		}
		return r.Release(a.clock.Now(), nil, false)
	})
	if errors.Is(err, errUnchanged) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func sameOccupant(a, b *Occupant) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (a *Arbiter) hasActiveBooking(ctx context.Context, roomID uuid.UUID) (bool, error) {
	_, err := a.repo.GetActiveBooking(ctx, roomID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrBookingNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("check active booking: %w", err)
	}
}

// CreateManualBooking occupies a DISPONIBLE room for one of the allowed
// durations. Availability is re-checked under the room lock.
func (a *Arbiter) CreateManualBooking(ctx context.Context, roomID uuid.UUID, minutes int, reason string) (b *ManualBooking, err error) {
	ctx, scope := tracing.Start(ctx, scopeName, "Arbiter.CreateManualBooking")
	defer func() { scope.End(err) }()
	scope.SetAttribute("room_id", roomID)

	if !ValidBookingDuration(minutes) {
		return nil, failure.Validation("create_manual_booking", "duration must be one of 15, 30, 45, 60, 75, 90, 105 or 120 minutes")
	}

	_, err = a.withRoom(ctx, roomID, func(txCtx context.Context, r *Room) error {
		active, err := a.hasActiveBooking(txCtx, roomID)
		if err != nil {
			return err
		}
		if active {
			return failure.Conflict("create_manual_booking", "room", string(r.Status), "room already has an active manual booking")
		}

		now := a.clock.Now()
		booking, err := NewManualBooking(roomID, minutes, reason, now)
		if err != nil {
			return err
		}
		if err := r.Occupy(now, BookingOccupant(booking.ID)); err != nil {
			return err
		}
		if err := a.repo.InsertBooking(txCtx, booking); err != nil {
			return fmt.Errorf("insert manual booking: %w", err)
		}
		b = booking
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("room_id", roomID.String()).
		Str("booking_id", b.ID.String()).
		Int("minutes", minutes).
		Msg("manual booking created")
	return b, nil
}

// FinalizeManualBooking closes the booking and releases its room.
func (a *Arbiter) FinalizeManualBooking(ctx context.Context, bookingID uuid.UUID) (b *ManualBooking, err error) {
	ctx, scope := tracing.Start(ctx, scopeName, "Arbiter.FinalizeManualBooking")
	defer func() { scope.End(err) }()

	existing, err := a.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	_, err = a.withRoom(ctx, existing.RoomID, func(txCtx context.Context, r *Room) error {
		booking, err := a.repo.GetBooking(txCtx, bookingID)
		if err != nil {
			return err
		}
		now := a.clock.Now()
		if err := booking.Finalize(now); err != nil {
			return err
		}
		if err := a.repo.UpdateBooking(txCtx, booking); err != nil {
			return fmt.Errorf("update manual booking: %w", err)
		}
		occ := BookingOccupant(booking.ID)
		if r.OccupiedBy(occ) {
			if err := r.Release(now, &occ, false); err != nil {
				return err
			}
		} else {
			log.Warn().
				Str("room_id", r.ID.String()).
				Str("booking_id", booking.ID.String()).
				Str("room_status", string(r.Status)).
				Msg("finalized manual booking whose room was not held by it")
		}
		b = booking
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (a *Arbiter) GetBooking(ctx context.Context, id uuid.UUID) (*ManualBooking, error) {
	return a.repo.GetBooking(ctx, id)
}

func (a *Arbiter) ListActiveBookings(ctx context.Context) ([]ManualBooking, error) {
	return a.repo.ListActiveBookings(ctx)
}

func (a *Arbiter) OccupancyPercentage(ctx context.Context, roomID uuid.UUID) (float64, error) {
	r, err := a.repo.GetRoom(ctx, roomID)
	if err != nil {
		return 0, err
	}
	return r.OccupancyPercentage(), nil
}

// DailyRollover resets today's occupied duration on every room. Rooms that
// cannot be locked are reported in the returned error and left for the next
// call; the others are still reset.
func (a *Arbiter) DailyRollover(ctx context.Context) (int, error) {
	rooms, err := a.repo.ListRooms(ctx)
	if err != nil {
		return 0, fmt.Errorf("list rooms: %w", err)
	}

	var errs []error
	reset := 0
	for _, r := range rooms {
		_, err := a.withRoom(ctx, r.ID, func(_ context.Context, locked *Room) error {
			locked.Rollover(a.clock.Now())
			return nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("rollover room %s: %w", r.ID, err))
			continue
		}
		reset++
	}
	return reset, errors.Join(errs...)
}

func (a *Arbiter) SetMaintenance(ctx context.Context, roomID uuid.UUID) (*Room, error) {
	return a.withRoom(ctx, roomID, func(_ context.Context, r *Room) error {
		return r.SetAdministrative(StatusMaintenance, a.clock.Now())
	})
}

func (a *Arbiter) SetOutOfService(ctx context.Context, roomID uuid.UUID) (*Room, error) {
	return a.withRoom(ctx, roomID, func(_ context.Context, r *Room) error {
		return r.SetAdministrative(StatusOutOfService, a.clock.Now())
	})
}

func (a *Arbiter) ReturnToService(ctx context.Context, roomID uuid.UUID) (*Room, error) {
	return a.withRoom(ctx, roomID, func(_ context.Context, r *Room) error {
		return r.ReturnToService(a.clock.Now())
	})
}
