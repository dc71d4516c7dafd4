package pathway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-flow/internal/clock"
	"github.com/hackgods/clinic-flow/internal/db"
	"github.com/hackgods/clinic-flow/internal/failure"
	"github.com/hackgods/clinic-flow/internal/metrics"
	"github.com/hackgods/clinic-flow/internal/patient"
	redisclient "github.com/hackgods/clinic-flow/internal/redis"
	"github.com/hackgods/clinic-flow/internal/tracing"
)

const scopeName = "github.com/hackgods/clinic-flow/internal/pathway"

type Service struct {
	repo     Repository
	patients patient.Registry
	bridge   *Bridge
	tx       db.Transactor
	locker   redisclient.Locker
	clock    clock.Clock
	metrics  *metrics.Metrics
}

func NewService(
	repo Repository,
	patients patient.Registry,
	tx db.Transactor,
	locker redisclient.Locker,
	clk clock.Clock,
	m *metrics.Metrics,
) *Service {
	return &Service{
		repo:     repo,
		patients: patients,
		bridge:   NewBridge(repo, patients),
		tx:       tx,
		locker:   locker,
		clock:    clk,
		metrics:  m,
	}
}

type CreateParams struct {
	PatientID uuid.UUID
	Stages    []StageSpec
	Metadata  map[string]any
}

func (s *Service) Create(ctx context.Context, params CreateParams) (p *Pathway, err error) {
	ctx, scope := tracing.Start(ctx, scopeName, "Service.Create")
	defer func() { scope.End(err) }()

	p, err = NewPathway(params.PatientID, params.Stages, params.Metadata, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if _, err := s.patients.GetPatient(ctx, params.PatientID); err != nil {
		return nil, err
	}

	err = s.tx.WithinTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.Insert(txCtx, p); err != nil {
			return err
		}
		_, err := s.bridge.Sync(txCtx, p.PatientID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create pathway: %w", err)
	}

	log.Info().
		Str("pathway_id", p.ID.String()).
		Str("patient_id", p.PatientID.String()).
		Int("stages", len(p.Stages)).
		Msg("pathway created")
	return p, nil
}

// mutate applies fn to the pathway under its lock, persists it, and mirrors
// the patient's current stage inside the same transaction.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, fn func(p *Pathway, now time.Time) error) (*Pathway, error) {
	var out *Pathway
	err := s.locker.WithLock(ctx, redisclient.PathwayKey(id), func(lockCtx context.Context) error {
		return s.tx.WithinTx(lockCtx, func(txCtx context.Context) error {
			p, err := s.repo.GetForUpdate(txCtx, id)
			if err != nil {
				return err
			}
			before := stageStatuses(p)

			if err := fn(p, s.clock.Now()); err != nil {
				return err
			}
			if err := s.repo.Update(txCtx, p); err != nil {
				return err
			}
			if _, err := s.bridge.Sync(txCtx, p.PatientID); err != nil {
				return err
			}

			for _, st := range p.Stages {
				if before[st.ID] != st.Status {
					s.metrics.StageTransition(string(st.Status))
				}
			}
			out = p
			return nil
		})
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return nil, failure.Conflict("lock", "pathway", "", "pathway is being modified, retry shortly")
	}
	return out, err
}

func stageStatuses(p *Pathway) map[uuid.UUID]StageStatus {
	m := make(map[uuid.UUID]StageStatus, len(p.Stages))
	for _, st := range p.Stages {
		m[st.ID] = st.Status
	}
	return m
}

func (s *Service) StartStage(ctx context.Context, pathwayID, stageID uuid.UUID) (p *Pathway, err error) {
	ctx, scope := tracing.Start(ctx, scopeName, "Service.StartStage")
	defer func() { scope.End(err) }()

	return s.mutate(ctx, pathwayID, func(p *Pathway, now time.Time) error {
		return p.StartStage(stageID, now)
	})
}

func (s *Service) FinishStage(ctx context.Context, pathwayID, stageID uuid.UUID) (p *Pathway, err error) {
	ctx, scope := tracing.Start(ctx, scopeName, "Service.FinishStage")
	defer func() { scope.End(err) }()

	p, err = s.mutate(ctx, pathwayID, func(p *Pathway, now time.Time) error {
		return p.FinishStage(stageID, now)
	})
	if err == nil && p.Status == StatusCompleted {
		log.Info().Str("pathway_id", p.ID.String()).Msg("pathway completed")
	}
	return p, err
}

// Advance finishes the current stage and starts the next pending one.
func (s *Service) Advance(ctx context.Context, pathwayID uuid.UUID) (p *Pathway, err error) {
	ctx, scope := tracing.Start(ctx, scopeName, "Service.Advance")
	defer func() { scope.End(err) }()

	return s.mutate(ctx, pathwayID, func(p *Pathway, now time.Time) error {
		_, err := p.Advance(now)
		return err
	})
}

func (s *Service) PauseStage(ctx context.Context, pathwayID, stageID uuid.UUID, reason string) (p *Pathway, err error) {
	ctx, scope := tracing.Start(ctx, scopeName, "Service.PauseStage")
	defer func() { scope.End(err) }()

	return s.mutate(ctx, pathwayID, func(p *Pathway, now time.Time) error {
		return p.PauseStage(stageID, reason, now)
	})
}

func (s *Service) ResumeStage(ctx context.Context, pathwayID, stageID uuid.UUID) (p *Pathway, err error) {
	ctx, scope := tracing.Start(ctx, scopeName, "Service.ResumeStage")
	defer func() { scope.End(err) }()

	return s.mutate(ctx, pathwayID, func(p *Pathway, now time.Time) error {
		return p.ResumeStage(stageID, now)
	})
}

func (s *Service) PauseRoute(ctx context.Context, pathwayID uuid.UUID, reason string) (p *Pathway, err error) {
	ctx, scope := tracing.Start(ctx, scopeName, "Service.PauseRoute")
	defer func() { scope.End(err) }()

	return s.mutate(ctx, pathwayID, func(p *Pathway, now time.Time) error {
		return p.PauseRoute(reason, now)
	})
}

func (s *Service) ResumeRoute(ctx context.Context, pathwayID uuid.UUID) (p *Pathway, err error) {
	ctx, scope := tracing.Start(ctx, scopeName, "Service.ResumeRoute")
	defer func() { scope.End(err) }()

	return s.mutate(ctx, pathwayID, func(p *Pathway, now time.Time) error {
		return p.ResumeRoute(now)
	})
}

func (s *Service) CancelStage(ctx context.Context, pathwayID, stageID uuid.UUID, reason string) (p *Pathway, err error) {
	ctx, scope := tracing.Start(ctx, scopeName, "Service.CancelStage")
	defer func() { scope.End(err) }()

	return s.mutate(ctx, pathwayID, func(p *Pathway, now time.Time) error {
		return p.CancelStage(stageID, reason, now)
	})
}

func (s *Service) CancelRoute(ctx context.Context, pathwayID uuid.UUID, reason string) (p *Pathway, err error) {
	ctx, scope := tracing.Start(ctx, scopeName, "Service.CancelRoute")
	defer func() { scope.End(err) }()

	return s.mutate(ctx, pathwayID, func(p *Pathway, now time.Time) error {
		return p.CancelRoute(reason, now)
	})
}

// Delete removes a pathway and re-mirrors the patient's stage.
func (s *Service) Delete(ctx context.Context, pathwayID uuid.UUID) (err error) {
	ctx, scope := tracing.Start(ctx, scopeName, "Service.Delete")
	defer func() { scope.End(err) }()

	err = s.locker.WithLock(ctx, redisclient.PathwayKey(pathwayID), func(lockCtx context.Context) error {
		return s.tx.WithinTx(lockCtx, func(txCtx context.Context) error {
			p, err := s.repo.GetForUpdate(txCtx, pathwayID)
			if err != nil {
				return err
			}
			if err := s.repo.Delete(txCtx, pathwayID); err != nil {
				return err
			}
			_, err = s.bridge.Sync(txCtx, p.PatientID)
			return err
		})
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return failure.Conflict("lock", "pathway", "", "pathway is being modified, retry shortly")
	}
	return err
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Pathway, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Pathway, error) {
	pathways, err := s.repo.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list pathways by patient: %w", err)
	}
	return pathways, nil
}

func (s *Service) DelayedStages(ctx context.Context, id uuid.UUID) ([]StageDelay, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.DelayedStages(s.clock.Now()), nil
}

// SyncPatient re-mirrors the current stage of a patient on demand.
func (s *Service) SyncPatient(ctx context.Context, patientID uuid.UUID) (string, error) {
	var stage string
	err := s.tx.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		stage, err = s.bridge.Sync(txCtx, patientID)
		return err
	})
	return stage, err
}
