// Package memory is an in-process store that satisfies every repository
// the services depend on. Transactions are serialized and roll back by
// restoring the state captured when they began.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-flow/internal/appointment"
	"github.com/hackgods/clinic-flow/internal/pathway"
	"github.com/hackgods/clinic-flow/internal/patient"
	"github.com/hackgods/clinic-flow/internal/room"
)

type state struct {
	rooms        map[uuid.UUID]room.Room
	bookings     map[uuid.UUID]room.ManualBooking
	appointments map[uuid.UUID]appointment.Appointment
	events       []appointment.EventLog
	pathways     map[uuid.UUID]pathway.Pathway
	patients     map[uuid.UUID]patient.Patient
	clinicians   map[uuid.UUID]patient.Clinician
}

func newState() state {
	return state{
		rooms:        map[uuid.UUID]room.Room{},
		bookings:     map[uuid.UUID]room.ManualBooking{},
		appointments: map[uuid.UUID]appointment.Appointment{},
		pathways:     map[uuid.UUID]pathway.Pathway{},
		patients:     map[uuid.UUID]patient.Patient{},
		clinicians:   map[uuid.UUID]patient.Clinician{},
	}
}

// snapshot is cheap because stored values are never mutated in place:
// every write replaces the map entry with a fresh clone.
func (s state) snapshot() state {
	return state{
		rooms:        maps.Clone(s.rooms),
		bookings:     maps.Clone(s.bookings),
		appointments: maps.Clone(s.appointments),
		events:       slices.Clone(s.events),
		pathways:     maps.Clone(s.pathways),
		patients:     maps.Clone(s.patients),
		clinicians:   maps.Clone(s.clinicians),
	}
}

// Store serializes every transaction. Reads and writes outside a
// transaction wait for the running one, so no caller observes uncommitted
// state.
type Store struct {
	mu sync.Mutex
	st state
}

func New() *Store {
	return &Store{st: newState()}
}

type txKey struct{}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// WithinTx runs fn as one serialized unit. Nested calls join the outer
// transaction; an error from the outermost fn restores the prior state.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	saved := s.st.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.st = saved
		return err
	}
	return nil
}

func (s *Store) Rooms() *Rooms               { return &Rooms{s: s} }
func (s *Store) Appointments() *Appointments { return &Appointments{s: s} }
func (s *Store) Pathways() *Pathways         { return &Pathways{s: s} }
func (s *Store) Patients() *Patients         { return &Patients{s: s} }

func (s *Store) read(ctx context.Context, fn func(st *state)) {
	_ = s.write(ctx, func(st *state) error {
		fn(st)
		return nil
	})
}

func (s *Store) write(ctx context.Context, fn func(st *state) error) error {
	if !s.inTx(ctx) {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return fn(&s.st)
}
