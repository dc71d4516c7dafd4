package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-flow/internal/failure"
)

var (
	ErrAppointmentNotFound = failure.Missing("appointment")
)

// Repository contains all DB interactions needed by the service. Methods
// join the transaction bound to ctx when there is one.
type Repository interface {
	Insert(ctx context.Context, a *Appointment) error
	Get(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error

	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListByRoom(ctx context.Context, roomID uuid.UUID) ([]Appointment, error)

	// For the reconciliation sweep
	ListDue(ctx context.Context, now time.Time) ([]Appointment, error)
	ListInProgress(ctx context.Context) ([]Appointment, error)
	ListPendingDelay(ctx context.Context) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
