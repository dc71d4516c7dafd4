package room

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-flow/internal/db"
)

type PgRepository struct {
	pool db.DBTX
}

func NewPgRepository(pool db.DBTX) *PgRepository {
	return &PgRepository{pool: pool}
}

const roomColumns = `id, code, name, specialty, status, capacity, equipment, availability,
	occupied_seconds_today, last_occupied_at, last_released_at, occupant_kind, occupant_id,
	active, created_at, updated_at`

const bookingColumns = `id, room_id, duration_minutes, start_time, scheduled_end_time,
	actual_end_time, reason, active, created_at, updated_at`

// Helpers

func scanRoom(row pgx.Row) (*Room, error) {
	var r Room
	var occupiedSeconds int64
	var occupantKind *string
	var occupantID *uuid.UUID

	err := row.Scan(
		&r.ID,
		&r.Code,
		&r.Name,
		&r.Specialty,
		&r.Status,
		&r.Capacity,
		&r.Equipment,
		&r.Availability,
		&occupiedSeconds,
		&r.LastOccupiedAt,
		&r.LastReleasedAt,
		&occupantKind,
		&occupantID,
		&r.Active,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}

	r.OccupiedToday = time.Duration(occupiedSeconds) * time.Second
	if occupantKind != nil && occupantID != nil {
		r.Occupant = &Occupant{Kind: OccupantKind(*occupantKind), ID: *occupantID}
	}
	return &r, nil
}

func scanBooking(row pgx.Row) (*ManualBooking, error) {
	var b ManualBooking

	err := row.Scan(
		&b.ID,
		&b.RoomID,
		&b.DurationMinutes,
		&b.StartTime,
		&b.ScheduledEndTime,
		&b.ActualEndTime,
		&b.Reason,
		&b.Active,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	return &b, nil
}

func occupantArgs(o *Occupant) (*string, *uuid.UUID) {
	if o == nil {
		return nil, nil
	}
	kind := string(o.Kind)
	id := o.ID
	return &kind, &id
}

func collectRooms(rows pgx.Rows) ([]Room, error) {
	defer rows.Close()

	var result []Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Interface methods

func (p *PgRepository) CreateRoom(ctx context.Context, r *Room) error {
	kind, id := occupantArgs(r.Occupant)
	_, err := db.Conn(ctx, p.pool).Exec(ctx, `
		INSERT INTO rooms (`+roomColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, r.ID, r.Code, r.Name, r.Specialty, r.Status, r.Capacity, r.Equipment, r.Availability,
		int64(r.OccupiedToday/time.Second), r.LastOccupiedAt, r.LastReleasedAt, kind, id,
		r.Active, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert room: %w", err)
	}
	return nil
}

func (p *PgRepository) GetRoom(ctx context.Context, id uuid.UUID) (*Room, error) {
	row := db.Conn(ctx, p.pool).QueryRow(ctx, `
		SELECT `+roomColumns+`
		FROM rooms
		WHERE id = $1
	`, id)
	return scanRoom(row)
}

func (p *PgRepository) GetRoomForUpdate(ctx context.Context, id uuid.UUID) (*Room, error) {
	row := db.Conn(ctx, p.pool).QueryRow(ctx, `
		SELECT `+roomColumns+`
		FROM rooms
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanRoom(row)
}

func (p *PgRepository) ListRooms(ctx context.Context) ([]Room, error) {
	rows, err := db.Conn(ctx, p.pool).Query(ctx, `
		SELECT `+roomColumns+`
		FROM rooms
		ORDER BY code
	`)
	if err != nil {
		return nil, err
	}
	return collectRooms(rows)
}

func (p *PgRepository) ListRoomsByStatus(ctx context.Context, status Status) ([]Room, error) {
	rows, err := db.Conn(ctx, p.pool).Query(ctx, `
		SELECT `+roomColumns+`
		FROM rooms
		WHERE status = $1
		ORDER BY code
	`, status)
	if err != nil {
		return nil, err
	}
	return collectRooms(rows)
}

func (p *PgRepository) UpdateRoom(ctx context.Context, r *Room) error {
	kind, id := occupantArgs(r.Occupant)
	tag, err := db.Conn(ctx, p.pool).Exec(ctx, `
		UPDATE rooms
		SET name = $2,
		    specialty = $3,
		    status = $4,
		    capacity = $5,
		    equipment = $6,
		    availability = $7,
		    occupied_seconds_today = $8,
		    last_occupied_at = $9,
		    last_released_at = $10,
		    occupant_kind = $11,
		    occupant_id = $12,
		    active = $13,
		    updated_at = $14
		WHERE id = $1
	`, r.ID, r.Name, r.Specialty, r.Status, r.Capacity, r.Equipment, r.Availability,
		int64(r.OccupiedToday/time.Second), r.LastOccupiedAt, r.LastReleasedAt, kind, id,
		r.Active, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRoomNotFound
	}
	return nil
}

func (p *PgRepository) InsertBooking(ctx context.Context, b *ManualBooking) error {
	_, err := db.Conn(ctx, p.pool).Exec(ctx, `
		INSERT INTO manual_bookings (`+bookingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, b.ID, b.RoomID, b.DurationMinutes, b.StartTime, b.ScheduledEndTime,
		b.ActualEndTime, b.Reason, b.Active, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert manual booking: %w", err)
	}
	return nil
}

func (p *PgRepository) GetBooking(ctx context.Context, id uuid.UUID) (*ManualBooking, error) {
	row := db.Conn(ctx, p.pool).QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM manual_bookings
		WHERE id = $1
	`, id)
	return scanBooking(row)
}

func (p *PgRepository) GetActiveBooking(ctx context.Context, roomID uuid.UUID) (*ManualBooking, error) {
	row := db.Conn(ctx, p.pool).QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM manual_bookings
		WHERE room_id = $1 AND active
	`, roomID)
	return scanBooking(row)
}

func (p *PgRepository) ListActiveBookings(ctx context.Context) ([]ManualBooking, error) {
	rows, err := db.Conn(ctx, p.pool).Query(ctx, `
		SELECT `+bookingColumns+`
		FROM manual_bookings
		WHERE active
		ORDER BY scheduled_end_time
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ManualBooking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (p *PgRepository) UpdateBooking(ctx context.Context, b *ManualBooking) error {
	tag, err := db.Conn(ctx, p.pool).Exec(ctx, `
		UPDATE manual_bookings
		SET actual_end_time = $2,
		    active = $3,
		    updated_at = $4
		WHERE id = $1
	`, b.ID, b.ActualEndTime, b.Active, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update manual booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBookingNotFound
	}
	return nil
}
