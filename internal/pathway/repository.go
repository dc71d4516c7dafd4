package pathway

import (
	"context"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-flow/internal/failure"
)

var ErrPathwayNotFound = failure.Missing("pathway")

// Repository persists pathways together with their stages. Every read
// returns stages ordered by position.
type Repository interface {
	Insert(ctx context.Context, p *Pathway) error
	Get(ctx context.Context, id uuid.UUID) (*Pathway, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Pathway, error)
	Update(ctx context.Context, p *Pathway) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Pathway, error)
	ListActiveByPatient(ctx context.Context, patientID uuid.UUID) ([]Pathway, error)
}
