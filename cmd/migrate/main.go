package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-flow/internal/config"
	"github.com/hackgods/clinic-flow/internal/logger"
	"github.com/hackgods/clinic-flow/migrations"
)

// Usage: migrate [up|down|step|drop|force <version>]. Defaults to up.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}
	logger.Init(cfg.Env, cfg.LogLevel)

	if cfg.Store != config.StorePostgres {
		log.Fatal().Str("store", cfg.Store).Msg("migrations only apply to the postgres store")
	}

	action, args := "up", []string(nil)
	if len(os.Args) > 1 {
		action, args = os.Args[1], os.Args[2:]
	}

	db, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("ping db")
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("db driver")
	}

	srcDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		log.Fatal().Err(err).Msg("source driver")
	}

	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		log.Fatal().Err(err).Msg("create migrator")
	}
	defer func() { _, _ = m.Close() }()

	if err := run(m, action, args); err != nil {
		log.Fatal().Err(err).Str("action", action).Msg("migration failed")
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		log.Fatal().Err(err).Msg("read version")
	}
	log.Info().Str("action", action).Uint("version", version).Bool("dirty", dirty).Msg("migrations complete")
}

func run(m *migrate.Migrate, action string, args []string) error {
	var err error
	switch action {
	case "up":
		err = m.Up()
	case "down":
		err = m.Steps(-1)
	case "step":
		err = m.Steps(1)
	case "drop":
		err = m.Down()
	case "force":
		if len(args) != 1 {
			return errors.New("force needs a version")
		}
		version, convErr := strconv.Atoi(args[0])
		if convErr != nil {
			return fmt.Errorf("invalid version: %w", convErr)
		}
		return m.Force(version)
	default:
		return fmt.Errorf("unknown action %q", action)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
