package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-flow/internal/app"
	"github.com/hackgods/clinic-flow/internal/config"
	"github.com/hackgods/clinic-flow/internal/logger"
	"github.com/hackgods/clinic-flow/internal/reconcile"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}
	logger.Init(cfg.Env, cfg.LogLevel)

	if cfg.Store == config.StoreMemory {
		log.Fatal().Msg("reconcile-worker needs a shared store; the api-server sweeps the in-memory store itself")
	}

	log.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Msg("reconcile-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancelConnect := context.WithTimeout(rootCtx, 10*time.Second)
	rt, err := app.Open(connectCtx, cfg, prometheus.NewRegistry())
	cancelConnect()
	if err != nil {
		log.Fatal().Err(err).Msg("runtime setup error")
	}
	defer rt.Close()

	reconcile.NewWorker(rt.Sweep, cfg.WorkerInterval).Run(rootCtx)
}
