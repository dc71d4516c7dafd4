// Package app wires the clinic services onto a storage backend. Every
// binary and the service-level tests build through it.
package app

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-flow/internal/appointment"
	"github.com/hackgods/clinic-flow/internal/clock"
	"github.com/hackgods/clinic-flow/internal/db"
	"github.com/hackgods/clinic-flow/internal/metrics"
	"github.com/hackgods/clinic-flow/internal/pathway"
	"github.com/hackgods/clinic-flow/internal/patient"
	"github.com/hackgods/clinic-flow/internal/reconcile"
	redisclient "github.com/hackgods/clinic-flow/internal/redis"
	"github.com/hackgods/clinic-flow/internal/room"
	"github.com/hackgods/clinic-flow/internal/store/memory"
)

// Backend is one storage implementation of every repository plus the
// transactor that scopes them.
type Backend struct {
	Rooms        room.Repository
	Appointments appointment.Repository
	Pathways     pathway.Repository
	Patients     patient.Registry
	Tx           db.Transactor
}

func PostgresBackend(pool *pgxpool.Pool) Backend {
	return Backend{
		Rooms:        room.NewPgRepository(pool),
		Appointments: appointment.NewPgRepository(pool),
		Pathways:     pathway.NewPgRepository(pool),
		Patients:     patient.NewPgRegistry(pool),
		Tx:           db.NewPgTransactor(pool),
	}
}

func MemoryBackend(s *memory.Store) Backend {
	return Backend{
		Rooms:        s.Rooms(),
		Appointments: s.Appointments(),
		Pathways:     s.Pathways(),
		Patients:     s.Patients(),
		Tx:           s,
	}
}

type App struct {
	Clock        clock.Clock
	Patients     patient.Registry
	Rooms        *room.Arbiter
	Appointments *appointment.Service
	Pathways     *pathway.Service
	Sweep        *reconcile.Sweep
}

func New(b Backend, locker redisclient.Locker, clk clock.Clock, policy appointment.Policy, m *metrics.Metrics) *App {
	rooms := room.NewArbiter(b.Rooms, b.Tx, locker, clk, m)
	appointments := appointment.NewService(b.Appointments, rooms, b.Patients, b.Tx, locker, clk, policy, m)
	pathways := pathway.NewService(b.Pathways, b.Patients, b.Tx, locker, clk, m)

	return &App{
		Clock:        clk,
		Patients:     b.Patients,
		Rooms:        rooms,
		Appointments: appointments,
		Pathways:     pathways,
		Sweep:        reconcile.New(appointments, rooms, m),
	}
}
