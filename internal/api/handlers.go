package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-flow/internal/appointment"
)

func scheduleAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ScheduleAppointmentRequest
		if !decode(w, r, &req) {
			return
		}

		appt, err := svc.Schedule(r.Context(), req.params())
		if err != nil {
			writeFailure(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt, svc.Now()))
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.Get(r.Context(), id)
		if err != nil {
			writeFailure(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt, svc.Now()))
	}
}

// listAppointmentsHandler lists by patient (paged) or by room.
func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := queryID(w, r, "patient_id")
		if !ok {
			return
		}
		roomID, ok := queryID(w, r, "room_id")
		if !ok {
			return
		}

		var (
			list []appointment.Appointment
			err  error
		)
		switch {
		case patientID != uuid.Nil:
			limit, offset, ok := paging(w, r)
			if !ok {
				return
			}
			list, err = svc.ListByPatient(r.Context(), patientID, limit, offset)
		case roomID != uuid.Nil:
			list, err = svc.ListByRoom(r.Context(), roomID)
		default:
			writeError(w, http.StatusBadRequest, "missing_filter", "patient_id or room_id is required")
			return
		}
		if err != nil {
			writeFailure(w, r, err)
			return
		}

		now := svc.Now()
		resp := make([]AppointmentResponse, 0, len(list))
		for i := range list {
			resp = append(resp, toAppointmentResponse(&list[i], now))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func paging(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	limit, offset = 50, 0
	q := r.URL.Query()
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 500")
			return 0, 0, false
		}
		limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_offset", "offset must be a non-negative integer")
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}

// appointmentAction adapts a body-less lifecycle operation.
func appointmentAction(svc *appointment.Service, op func(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := op(r.Context(), id)
		if err != nil {
			writeFailure(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt, svc.Now()))
	}
}

// appointmentReasonAction adapts an operation taking an optional reason.
func appointmentReasonAction(svc *appointment.Service, op func(ctx context.Context, id uuid.UUID, reason string) (*appointment.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r, "id")
		if !ok {
			return
		}
		var req ReasonRequest
		if !decodeOptional(w, r, &req) {
			return
		}

		appt, err := op(r.Context(), id, req.Reason)
		if err != nil {
			writeFailure(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt, svc.Now()))
	}
}

func rescheduleAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r, "id")
		if !ok {
			return
		}
		var req RescheduleRequest
		if !decode(w, r, &req) {
			return
		}

		appt, err := svc.Reschedule(r.Context(), id, req.ScheduledStart, req.room())
		if err != nil {
			writeFailure(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt, svc.Now()))
	}
}

type VerifyDelayResponse struct {
	Appointment AppointmentResponse `json:"appointment"`
	Changed     bool                `json:"changed"`
}

func verifyDelayHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r, "id")
		if !ok {
			return
		}

		appt, changed, err := svc.VerifyDelay(r.Context(), id)
		if err != nil {
			writeFailure(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, VerifyDelayResponse{
			Appointment: toAppointmentResponse(appt, svc.Now()),
			Changed:     changed,
		})
	}
}

func reassertOccupancyHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r, "id")
		if !ok {
			return
		}

		changed, err := svc.ReassertOccupancy(r.Context(), id)
		if err != nil {
			writeFailure(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]bool{"changed": changed})
	}
}
