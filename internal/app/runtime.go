package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-flow/internal/appointment"
	"github.com/hackgods/clinic-flow/internal/clock"
	"github.com/hackgods/clinic-flow/internal/config"
	"github.com/hackgods/clinic-flow/internal/db"
	"github.com/hackgods/clinic-flow/internal/metrics"
	redisclient "github.com/hackgods/clinic-flow/internal/redis"
	"github.com/hackgods/clinic-flow/internal/store/memory"
)

// Runtime is an App wired from configuration together with the connections
// it owns. Pool and Redis are nil when the configuration does not use them.
type Runtime struct {
	*App
	Pool   *pgxpool.Pool
	Redis  *redis.Client
	Memory *memory.Store
}

func PolicyFrom(cfg config.Config) appointment.Policy {
	return appointment.Policy{DelayWindow: cfg.DelayWindow, OverrunGrace: cfg.OverrunGrace}
}

func PoolSettingsFrom(cfg config.Config, name string) db.PoolSettings {
	return db.PoolSettings{MaxConns: cfg.PgMaxConns, MinConns: cfg.PgMinConns, ApplicationName: name}
}

// Open connects the configured store and lock backend and wires the App.
// Metrics register on reg; a nil reg uses the default registerer.
func Open(ctx context.Context, cfg config.Config, reg prometheus.Registerer) (*Runtime, error) {
	rt := &Runtime{}

	var backend Backend
	switch cfg.Store {
	case config.StorePostgres:
		pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, PoolSettingsFrom(cfg, "clinic-flow"))
		if err != nil {
			return nil, fmt.Errorf("postgres connection: %w", err)
		}
		rt.Pool = pool
		backend = PostgresBackend(pool)
		log.Info().Msg("connected to Postgres")
	default:
		rt.Memory = memory.New()
		backend = MemoryBackend(rt.Memory)
		log.Warn().Msg("using in-memory store, state is lost on exit")
	}

	var locker redisclient.Locker
	switch cfg.LockBackend {
	case config.LockRedis:
		rdb, err := redisclient.NewRedisClient(ctx, redisclient.ClientOptions{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
			PoolSize: cfg.RedisPoolSize,
		})
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("redis connection: %w", err)
		}
		rt.Redis = rdb
		locker = redisclient.NewRedisLocker(rdb, cfg.LockTTL)
		log.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")
	default:
		locker = redisclient.NewLocalLocker()
		if cfg.Store == config.StorePostgres {
			log.Warn().Msg("local locks only serialize this process; run a single instance")
		}
	}

	rt.App = New(backend, locker, clock.System(), PolicyFrom(cfg), metrics.New(reg))
	return rt, nil
}

func (rt *Runtime) Close() {
	if rt.Redis != nil {
		if err := rt.Redis.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis")
		}
	}
	if rt.Pool != nil {
		rt.Pool.Close()
	}
}
