package pathway

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-flow/internal/patient"
)

type recordingRegistry struct {
	calls   *[]string
	patient patient.Patient
}

func (r *recordingRegistry) GetPatient(_ context.Context, _ uuid.UUID) (*patient.Patient, error) {
	*r.calls = append(*r.calls, "get")
	p := r.patient
	return &p, nil
}

func (r *recordingRegistry) GetPatientForUpdate(_ context.Context, _ uuid.UUID) (*patient.Patient, error) {
	*r.calls = append(*r.calls, "lock")
	p := r.patient
	return &p, nil
}

func (r *recordingRegistry) SetCurrentStage(_ context.Context, _ uuid.UUID, stage string) error {
	*r.calls = append(*r.calls, "set:"+stage)
	r.patient.CurrentStage = stage
	return nil
}

func (r *recordingRegistry) IsClinician(context.Context, uuid.UUID) (bool, error) {
	return true, nil
}

type recordingLister struct {
	calls    *[]string
	pathways []Pathway
}

func (l *recordingLister) ListActiveByPatient(context.Context, uuid.UUID) ([]Pathway, error) {
	*l.calls = append(*l.calls, "list")
	return l.pathways, nil
}

func TestSyncLocksPatientBeforeReadingPathways(t *testing.T) {
	var calls []string
	older := fourStages(t)
	require.NoError(t, older.StartStage(older.Stages[0].ID, intake))

	newer := fourStages(t)
	newer.StartTime = intake.Add(time.Hour)

	reg := &recordingRegistry{calls: &calls, patient: patient.Patient{ID: older.PatientID}}
	lister := &recordingLister{calls: &calls, pathways: []Pathway{*older, *newer}}

	stage, err := NewBridge(lister, reg).Sync(context.Background(), older.PatientID)
	require.NoError(t, err)
	assert.Equal(t, "Triage", stage)
	assert.Equal(t, []string{"lock", "list", "set:Triage"}, calls)

	calls = calls[:0]
	stage, err = NewBridge(lister, reg).Sync(context.Background(), older.PatientID)
	require.NoError(t, err)
	assert.Equal(t, "Triage", stage)
	assert.Equal(t, []string{"lock", "list"}, calls, "an unchanged mirror is not rewritten")
}
