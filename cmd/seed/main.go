package main

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-flow/internal/config"
	"github.com/hackgods/clinic-flow/internal/db"
	"github.com/hackgods/clinic-flow/internal/logger"
	"github.com/hackgods/clinic-flow/internal/room"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

var equipment = []string{"ecg", "ultrasound", "otoscope", "dermatoscope", "spirometer", "defibrillator"}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}
	logger.Init(cfg.Env, cfg.LogLevel)

	if cfg.Store != config.StorePostgres {
		log.Fatal().Str("store", cfg.Store).Msg("seeding only applies to the postgres store")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolSettings{MaxConns: 4, ApplicationName: "clinic-seed"})
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	faker := gofakeit.New(uint64(time.Now().UnixNano()))
	work := context.Background()

	if err := seedRooms(work, pool, faker, 20); err != nil {
		log.Fatal().Err(err).Msg("seed rooms")
	}
	if err := seedClinicians(work, pool, faker, 100); err != nil {
		log.Fatal().Err(err).Msg("seed clinicians")
	}
	if err := seedPatients(work, pool, faker, 9000); err != nil {
		log.Fatal().Err(err).Msg("seed patients")
	}

	log.Info().Msg("seed complete")
}

// seedRooms goes through the room repository so seeded rows match what the
// arbiter writes. Every room is open weekdays 08:00-20:00 UTC.
func seedRooms(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int) error {
	repo := room.NewPgRepository(pool)
	tx := db.NewPgTransactor(pool)

	var weekdays room.Availability
	for d := time.Monday; d <= time.Friday; d++ {
		weekdays = append(weekdays, room.Window{Weekday: d, StartMinute: 8 * 60, EndMinute: 20 * 60})
	}

	return tx.WithinTx(ctx, func(txCtx context.Context) error {
		for i := 0; i < count; i++ {
			r, err := room.NewRoom(room.NewRoomParams{
				Code:         fmt.Sprintf("BOX-%03d", i+1),
				Name:         fmt.Sprintf("Box %d", i+1),
				Specialty:    specialties[faker.Number(0, len(specialties)-1)],
				Capacity:     faker.Number(1, 3),
				Equipment:    pickEquipment(faker),
				Availability: weekdays,
			}, time.Now().UTC())
			if err != nil {
				return err
			}
			if err := repo.CreateRoom(txCtx, r); err != nil {
				return err
			}
		}
		log.Info().Int("count", count).Msg("rooms seeded")
		return nil
	})
}

func pickEquipment(faker *gofakeit.Faker) []string {
	var out []string
	for _, e := range equipment {
		if faker.Bool() {
			out = append(out, e)
		}
	}
	return out
}

// seedClinicians also adds a few registry members without the clinician
// role, such as front-desk staff, so the role check has something to reject.
func seedClinicians(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		isClinician := i%10 != 0
		_, err := tx.Exec(ctx, `
			INSERT INTO clinicians (id, name, specialty, is_clinician, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, uuid.New(), faker.Name(), specialties[faker.Number(0, len(specialties)-1)], isClinician)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Info().Int("count", count).Msg("clinicians seeded")
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int) error {
	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, uuid.New(), faker.Name(), faker.Email())
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Debug().Int("seeded", end).Int("total", count).Msg("patients batch committed")
	}

	log.Info().Int("count", count).Msg("patients seeded")
	return nil
}
