package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-flow/internal/api"
	"github.com/hackgods/clinic-flow/internal/app"
	"github.com/hackgods/clinic-flow/internal/config"
	"github.com/hackgods/clinic-flow/internal/logger"
	"github.com/hackgods/clinic-flow/internal/reconcile"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}
	logger.Init(cfg.Env, cfg.LogLevel)

	log.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("store", cfg.Store).
		Str("locks", cfg.LockBackend).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	connectCtx, cancelConnect := context.WithTimeout(rootCtx, 10*time.Second)
	rt, err := app.Open(connectCtx, cfg, reg)
	cancelConnect()
	if err != nil {
		log.Fatal().Err(err).Msg("runtime setup error")
	}
	defer rt.Close()

	var checks []api.Check
	if rt.Pool != nil {
		checks = append(checks, api.Check{Name: "postgres", Critical: true, Ping: rt.Pool.Ping})
	}
	if rt.Redis != nil {
		checks = append(checks, api.Check{Name: "redis", Ping: func(ctx context.Context) error {
			return rt.Redis.Ping(ctx).Err()
		}})
	}

	// The in-memory store lives in this process, so its sweep must too.
	if rt.Memory != nil {
		go reconcile.NewWorker(rt.Sweep, cfg.WorkerInterval).Run(rootCtx)
	}

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			App:     rt.App,
			Checks:  checks,
			Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			Env:     cfg.Env,
			Version: version,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-rootCtx.Done()
	log.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
