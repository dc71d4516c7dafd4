package patient

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-flow/internal/failure"
)

var (
	ErrPatientNotFound   = failure.Missing("patient")
	ErrClinicianNotFound = failure.Missing("clinician")
)

type Patient struct {
	ID           uuid.UUID
	Name         string
	Email        *string
	CurrentStage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Clinician is a registry member carrying the clinician role flag. The older
// standalone clinician entity is retired; only the role flag is consulted.
type Clinician struct {
	ID          uuid.UUID
	Name        string
	Specialty   *string
	IsClinician bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Registry is the external patient/clinician collaborator. The core only
// reads identities and reads/writes the mirrored current stage.
type Registry interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	// GetPatientForUpdate reads the patient and holds its row until the
	// surrounding transaction ends.
	GetPatientForUpdate(ctx context.Context, id uuid.UUID) (*Patient, error)
	SetCurrentStage(ctx context.Context, patientID uuid.UUID, stage string) error
	IsClinician(ctx context.Context, id uuid.UUID) (bool, error)
}
