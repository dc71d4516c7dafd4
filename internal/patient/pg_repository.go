package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-flow/internal/db"
)

type PgRegistry struct {
	pool db.DBTX
}

func NewPgRegistry(pool db.DBTX) *PgRegistry {
	return &PgRegistry{pool: pool}
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Email,
		&p.CurrentStage,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PgRegistry) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, name, email, current_stage, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRegistry) GetPatientForUpdate(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, name, email, current_stage, created_at, updated_at
		FROM patients
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanPatient(row)
}

func (r *PgRegistry) SetCurrentStage(ctx context.Context, patientID uuid.UUID, stage string) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE patients
		SET current_stage = $2,
		    updated_at = now()
		WHERE id = $1
	`, patientID, stage)
	if err != nil {
		return fmt.Errorf("set current stage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPatientNotFound
	}
	return nil
}

func (r *PgRegistry) IsClinician(ctx context.Context, id uuid.UUID) (bool, error) {
	var isClinician bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT is_clinician
		FROM clinicians
		WHERE id = $1
	`, id).Scan(&isClinician)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrClinicianNotFound
		}
		return false, err
	}
	return isClinician, nil
}
