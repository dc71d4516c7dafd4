package pathway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-flow/internal/db"
)

type PgRepository struct {
	pool db.DBTX
}

func NewPgRepository(pool db.DBTX) *PgRepository {
	return &PgRepository{pool: pool}
}

const pathwayColumns = `id, patient_id, start_time, estimated_end, actual_end, completion,
	status, pause_reason, metadata, created_at, updated_at`

const stageColumns = `id, pathway_id, stage_order, name, stage_type, estimated_minutes,
	actual_minutes, start_time, end_time, status, is_static, pause_reason, created_at, updated_at`

func scanPathway(row pgx.Row) (*Pathway, error) {
	var (
		p    Pathway
		meta []byte
	)
	err := row.Scan(
		&p.ID,
		&p.PatientID,
		&p.StartTime,
		&p.EstimatedEnd,
		&p.ActualEnd,
		&p.Completion,
		&p.Status,
		&p.PauseReason,
		&meta,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPathwayNotFound
		}
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &p.Metadata); err != nil {
			return nil, fmt.Errorf("decode pathway metadata: %w", err)
		}
	}
	return &p, nil
}

func scanStage(row pgx.Row) (*Stage, error) {
	var s Stage
	err := row.Scan(
		&s.ID,
		&s.PathwayID,
		&s.Order,
		&s.Name,
		&s.Type,
		&s.EstimatedMinutes,
		&s.ActualMinutes,
		&s.StartTime,
		&s.EndTime,
		&s.Status,
		&s.IsStatic,
		&s.PauseReason,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *PgRepository) loadStages(ctx context.Context, p *Pathway) error {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+stageColumns+`
		FROM pathway_stages
		WHERE pathway_id = $1
		ORDER BY stage_order
	`, p.ID)
	if err != nil {
		return fmt.Errorf("load stages: %w", err)
	}
	defer rows.Close()

	p.Stages = p.Stages[:0]
	for rows.Next() {
		s, err := scanStage(rows)
		if err != nil {
			return err
		}
		p.Stages = append(p.Stages, *s)
	}
	return rows.Err()
}

func (r *PgRepository) one(ctx context.Context, query string, id uuid.UUID) (*Pathway, error) {
	p, err := scanPathway(db.Conn(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadStages(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *PgRepository) list(ctx context.Context, query string, args ...any) ([]Pathway, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	var result []Pathway
	for rows.Next() {
		p, err := scanPathway(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		result = append(result, *p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range result {
		if err := r.loadStages(ctx, &result[i]); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func encodeMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (r *PgRepository) Insert(ctx context.Context, p *Pathway) error {
	meta, err := encodeMetadata(p.Metadata)
	if err != nil {
		return fmt.Errorf("encode pathway metadata: %w", err)
	}

	conn := db.Conn(ctx, r.pool)
	_, err = conn.Exec(ctx, `
		INSERT INTO pathways (`+pathwayColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, p.ID, p.PatientID, p.StartTime, p.EstimatedEnd, p.ActualEnd, p.Completion,
		p.Status, p.PauseReason, meta, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert pathway: %w", err)
	}

	for _, s := range p.Stages {
		_, err := conn.Exec(ctx, `
			INSERT INTO pathway_stages (`+stageColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`, s.ID, p.ID, s.Order, s.Name, s.Type, s.EstimatedMinutes, s.ActualMinutes,
			s.StartTime, s.EndTime, s.Status, s.IsStatic, s.PauseReason, s.CreatedAt, s.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert stage %d: %w", s.Order, err)
		}
	}
	return nil
}

func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (*Pathway, error) {
	return r.one(ctx, `
		SELECT `+pathwayColumns+`
		FROM pathways
		WHERE id = $1
	`, id)
}

func (r *PgRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*Pathway, error) {
	return r.one(ctx, `
		SELECT `+pathwayColumns+`
		FROM pathways
		WHERE id = $1
		FOR UPDATE
	`, id)
}

func (r *PgRepository) Update(ctx context.Context, p *Pathway) error {
	meta, err := encodeMetadata(p.Metadata)
	if err != nil {
		return fmt.Errorf("encode pathway metadata: %w", err)
	}

	conn := db.Conn(ctx, r.pool)
	tag, err := conn.Exec(ctx, `
		UPDATE pathways
		SET actual_end = $2,
		    completion = $3,
		    status = $4,
		    pause_reason = $5,
		    metadata = $6,
		    updated_at = $7
		WHERE id = $1
	`, p.ID, p.ActualEnd, p.Completion, p.Status, p.PauseReason, meta, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update pathway: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPathwayNotFound
	}

	for _, s := range p.Stages {
		_, err := conn.Exec(ctx, `
			UPDATE pathway_stages
			SET actual_minutes = $2,
			    start_time = $3,
			    end_time = $4,
			    status = $5,
			    is_static = $6,
			    pause_reason = $7,
			    updated_at = $8
			WHERE id = $1
		`, s.ID, s.ActualMinutes, s.StartTime, s.EndTime, s.Status, s.IsStatic, s.PauseReason, s.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update stage %d: %w", s.Order, err)
		}
	}
	return nil
}

// Delete removes the pathway; stages go with it through ON DELETE CASCADE.
func (r *PgRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM pathways WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete pathway: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPathwayNotFound
	}
	return nil
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Pathway, error) {
	return r.list(ctx, `
		SELECT `+pathwayColumns+`
		FROM pathways
		WHERE patient_id = $1
		ORDER BY start_time DESC
	`, patientID)
}

func (r *PgRepository) ListActiveByPatient(ctx context.Context, patientID uuid.UUID) ([]Pathway, error) {
	return r.list(ctx, `
		SELECT `+pathwayColumns+`
		FROM pathways
		WHERE patient_id = $1
		  AND status IN ('INICIADA', 'EN_PROGRESO', 'PAUSADA')
		ORDER BY start_time DESC
	`, patientID)
}
