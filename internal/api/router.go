package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hackgods/clinic-flow/internal/app"
	"github.com/hackgods/clinic-flow/internal/reconcile"
)

type RouterConfig struct {
	App     *app.App
	Checks  []Check
	Metrics http.Handler
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	a := cfg.App
	clk := a.Clock

	r.Route("/rooms", func(r chi.Router) {
		r.Post("/", createRoomHandler(a.Rooms))
		r.Get("/", listRoomsHandler(a.Rooms))
		r.Post("/rollover", rolloverHandler(a.Rooms))
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", roomAction(a.Rooms.GetRoom))
			r.Post("/release", releaseRoomHandler(a.Rooms))
			r.Post("/maintenance", roomAction(a.Rooms.SetMaintenance))
			r.Post("/out-of-service", roomAction(a.Rooms.SetOutOfService))
			r.Post("/return-to-service", roomAction(a.Rooms.ReturnToService))
			r.Post("/bookings", createBookingHandler(a.Rooms))
		})
	})

	r.Get("/bookings", listBookingsHandler(a.Rooms))
	r.Get("/bookings/{id}", bookingAction(a.Rooms.GetBooking))
	r.Post("/bookings/{id}/finalize", bookingAction(a.Rooms.FinalizeManualBooking))

	svc := a.Appointments
	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", scheduleAppointmentHandler(svc))
		r.Get("/", listAppointmentsHandler(svc))
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", getAppointmentHandler(svc))
			r.Post("/waiting", appointmentAction(svc, svc.MarkWaiting))
			r.Post("/start", appointmentAction(svc, svc.Start))
			r.Post("/finalize", appointmentAction(svc, svc.Finalize))
			r.Post("/cancel", appointmentReasonAction(svc, svc.Cancel))
			r.Post("/reschedule", rescheduleAppointmentHandler(svc))
			r.Post("/delay", appointmentReasonAction(svc, svc.ReportDelay))
			r.Post("/delay/verify", verifyDelayHandler(svc))
			r.Post("/delay/resume", appointmentAction(svc, svc.ResumeAfterDelay))
			r.Post("/reassert", reassertOccupancyHandler(svc))
		})
	})

	pw := a.Pathways
	r.Route("/pathways", func(r chi.Router) {
		r.Post("/", createPathwayHandler(pw, clk))
		r.Get("/", listPathwaysHandler(pw, clk))
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", getPathwayHandler(pw, clk))
			r.Delete("/", deletePathwayHandler(pw))
			r.Get("/delays", pathwayDelaysHandler(pw))
			r.Post("/advance", pathwayAction(clk, pw.Advance))
			r.Post("/pause", pathwayReasonAction(clk, pw.PauseRoute))
			r.Post("/resume", pathwayAction(clk, pw.ResumeRoute))
			r.Post("/cancel", pathwayReasonAction(clk, pw.CancelRoute))
			r.Route("/stages/{stageID}", func(r chi.Router) {
				r.Post("/start", stageAction(clk, pw.StartStage))
				r.Post("/finish", stageAction(clk, pw.FinishStage))
				r.Post("/pause", stageReasonAction(clk, pw.PauseStage))
				r.Post("/resume", stageAction(clk, pw.ResumeStage))
				r.Post("/cancel", stageReasonAction(clk, pw.CancelStage))
			})
		})
	})

	r.Post("/patients/{id}/sync", syncPatientHandler(pw))
	r.Post("/sweep", sweepHandler(a.Sweep))

	return r
}

// sweepHandler runs one reconciliation pass on demand. Entity failures are
// reported in the body; only a failed listing step is a server error.
func sweepHandler(sweep *reconcile.Sweep) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, err := sweep.Run(r.Context())
		if err != nil {
			writeFailure(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toSweepResponse(rep))
	}
}
