package pathway

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-flow/internal/patient"
)

type activeLister interface {
	ListActiveByPatient(ctx context.Context, patientID uuid.UUID) ([]Pathway, error)
}

// Bridge mirrors the stage a patient is currently in onto the patient
// record. Sync must run in the same transaction as the pathway change.
type Bridge struct {
	pathways activeLister
	patients patient.Registry
}

func NewBridge(pathways activeLister, patients patient.Registry) *Bridge {
	return &Bridge{pathways: pathways, patients: patients}
}

// Sync recomputes the mirrored stage of patientID and writes it when it
// differs from what the record holds. The patient row is locked before the
// pathways are read, so concurrent syncs for one patient run one at a time.
func (b *Bridge) Sync(ctx context.Context, patientID uuid.UUID) (string, error) {
	p, err := b.patients.GetPatientForUpdate(ctx, patientID)
	if err != nil {
		return "", err
	}

	active, err := b.pathways.ListActiveByPatient(ctx, patientID)
	if err != nil {
		return "", fmt.Errorf("list active pathways: %w", err)
	}
	stage := MirroredStage(active)
	if p.CurrentStage == stage {
		return stage, nil
	}
	if err := b.patients.SetCurrentStage(ctx, patientID, stage); err != nil {
		return "", fmt.Errorf("set current stage: %w", err)
	}

	log.Debug().
		Str("patient_id", patientID.String()).
		Str("from", p.CurrentStage).
		Str("to", stage).
		Msg("patient stage mirrored")
	return stage, nil
}

// MirroredStage returns the name of the stage in progress on the most
// recently started active pathway that has one. A newer pathway with nothing
// running does not hide the stage of an older one; "" means no active
// pathway has a stage in progress.
func MirroredStage(pathways []Pathway) string {
	var (
		latest  *Pathway
		current *Stage
	)
	for i := range pathways {
		p := &pathways[i]
		if !p.Status.Active() {
			continue
		}
		cur := p.CurrentStage()
		if cur == nil {
			continue
		}
		if latest == nil || p.StartTime.After(latest.StartTime) ||
			(p.StartTime.Equal(latest.StartTime) && p.CreatedAt.After(latest.CreatedAt)) {
			latest, current = p, cur
		}
	}
	if current == nil {
		return ""
	}
	return current.Name
}
