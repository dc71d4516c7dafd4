package reconcile

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Worker runs the sweep on a fixed interval until ctx is cancelled. The
// interval is the upper bound on how late a delay or overrun is acted on.
type Worker struct {
	sweep    *Sweep
	interval time.Duration
	timeout  time.Duration
}

func NewWorker(sweep *Sweep, interval time.Duration) *Worker {
	timeout := interval
	if timeout > 30*time.Second || timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Worker{sweep: sweep, interval: interval, timeout: timeout}
}

func (w *Worker) Run(ctx context.Context) {
	w.runOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutdown signal received, stopping reconcile worker")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *Worker) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	if _, err := w.sweep.Run(runCtx); err != nil {
		log.Error().Err(err).Msg("sweep run error")
	}
}
