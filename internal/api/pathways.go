package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-flow/internal/clock"
	"github.com/hackgods/clinic-flow/internal/pathway"
)

func createPathwayHandler(svc *pathway.Service, clk clock.Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreatePathwayRequest
		if !decode(w, r, &req) {
			return
		}

		p, err := svc.Create(r.Context(), req.params())
		if err != nil {
			writeFailure(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toPathwayResponse(p, clk.Now()))
	}
}

func getPathwayHandler(svc *pathway.Service, clk clock.Clock) http.HandlerFunc {
	return pathwayAction(clk, svc.Get)
}

func listPathwaysHandler(svc *pathway.Service, clk clock.Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := queryID(w, r, "patient_id")
		if !ok {
			return
		}
		if patientID == uuid.Nil {
			writeError(w, http.StatusBadRequest, "missing_filter", "patient_id is required")
			return
		}

		list, err := svc.ListByPatient(r.Context(), patientID)
		if err != nil {
			writeFailure(w, r, err)
			return
		}

		now := clk.Now()
		resp := make([]PathwayResponse, 0, len(list))
		for i := range list {
			resp = append(resp, toPathwayResponse(&list[i], now))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func deletePathwayHandler(svc *pathway.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r, "id")
		if !ok {
			return
		}
		if err := svc.Delete(r.Context(), id); err != nil {
			writeFailure(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func pathwayAction(clk clock.Clock, op func(ctx context.Context, id uuid.UUID) (*pathway.Pathway, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r, "id")
		if !ok {
			return
		}

		p, err := op(r.Context(), id)
		if err != nil {
			writeFailure(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toPathwayResponse(p, clk.Now()))
	}
}

func pathwayReasonAction(clk clock.Clock, op func(ctx context.Context, id uuid.UUID, reason string) (*pathway.Pathway, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r, "id")
		if !ok {
			return
		}
		var req ReasonRequest
		if !decodeOptional(w, r, &req) {
			return
		}

		p, err := op(r.Context(), id, req.Reason)
		if err != nil {
			writeFailure(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toPathwayResponse(p, clk.Now()))
	}
}

func stageAction(clk clock.Clock, op func(ctx context.Context, pathwayID, stageID uuid.UUID) (*pathway.Pathway, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r, "id")
		if !ok {
			return
		}
		stageID, ok := idParam(w, r, "stageID")
		if !ok {
			return
		}

		p, err := op(r.Context(), id, stageID)
		if err != nil {
			writeFailure(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toPathwayResponse(p, clk.Now()))
	}
}

func stageReasonAction(clk clock.Clock, op func(ctx context.Context, pathwayID, stageID uuid.UUID, reason string) (*pathway.Pathway, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r, "id")
		if !ok {
			return
		}
		stageID, ok := idParam(w, r, "stageID")
		if !ok {
			return
		}
		var req ReasonRequest
		if !decodeOptional(w, r, &req) {
			return
		}

		p, err := op(r.Context(), id, stageID, req.Reason)
		if err != nil {
			writeFailure(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toPathwayResponse(p, clk.Now()))
	}
}

func pathwayDelaysHandler(svc *pathway.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r, "id")
		if !ok {
			return
		}

		delays, err := svc.DelayedStages(r.Context(), id)
		if err != nil {
			writeFailure(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toStageDelays(delays))
	}
}

type SyncResponse struct {
	PatientID    uuid.UUID `json:"patient_id"`
	CurrentStage string    `json:"current_stage"`
}

func syncPatientHandler(svc *pathway.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r, "id")
		if !ok {
			return
		}

		stage, err := svc.SyncPatient(r.Context(), id)
		if err != nil {
			writeFailure(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, SyncResponse{PatientID: id, CurrentStage: stage})
	}
}
