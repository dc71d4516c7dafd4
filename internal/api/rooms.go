package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-flow/internal/room"
)

func createRoomHandler(arb *room.Arbiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateRoomRequest
		if !decode(w, r, &req) {
			return
		}

		rm, err := arb.CreateRoom(r.Context(), req.params())
		if err != nil {
			writeFailure(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toRoomResponse(rm))
	}
}

func listRoomsHandler(arb *room.Arbiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			rooms []room.Room
			err   error
		)
		if status := room.Status(r.URL.Query().Get("status")); status != "" {
			if !status.Valid() {
				writeError(w, http.StatusBadRequest, "invalid_status", "unknown room status")
				return
			}
			rooms, err = arb.ListRoomsByStatus(r.Context(), status)
		} else {
			rooms, err = arb.ListRooms(r.Context())
		}
		if err != nil {
			writeFailure(w, r, err)
			return
		}

		resp := make([]RoomResponse, 0, len(rooms))
		for i := range rooms {
			resp = append(resp, toRoomResponse(&rooms[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func roomAction(op func(ctx context.Context, id uuid.UUID) (*room.Room, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r, "id")
		if !ok {
			return
		}

		rm, err := op(r.Context(), id)
		if err != nil {
			writeFailure(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toRoomResponse(rm))
	}
}

func releaseRoomHandler(arb *room.Arbiter) http.HandlerFunc {
	return roomAction(func(ctx context.Context, id uuid.UUID) (*room.Room, error) {
		return arb.Release(ctx, id, nil)
	})
}

type RolloverResponse struct {
	Reset int `json:"reset"`
}

func rolloverHandler(arb *room.Arbiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := arb.DailyRollover(r.Context())
		if err != nil {
			writeFailure(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, RolloverResponse{Reset: n})
	}
}

func createBookingHandler(arb *room.Arbiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r, "id")
		if !ok {
			return
		}
		var req CreateBookingRequest
		if !decode(w, r, &req) {
			return
		}

		b, err := arb.CreateManualBooking(r.Context(), id, req.DurationMinutes, req.Reason)
		if err != nil {
			writeFailure(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toBookingResponse(b))
	}
}

func bookingAction(op func(ctx context.Context, id uuid.UUID) (*room.ManualBooking, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r, "id")
		if !ok {
			return
		}

		b, err := op(r.Context(), id)
		if err != nil {
			writeFailure(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toBookingResponse(b))
	}
}

func listBookingsHandler(arb *room.Arbiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bookings, err := arb.ListActiveBookings(r.Context())
		if err != nil {
			writeFailure(w, r, err)
			return
		}

		resp := make([]BookingResponse, 0, len(bookings))
		for i := range bookings {
			resp = append(resp, toBookingResponse(&bookings[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
