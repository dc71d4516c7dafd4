package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-flow/internal/patient"
)

// Patients implements patient.Registry and lets callers seed identities.
type Patients struct{ s *Store }

var _ patient.Registry = (*Patients)(nil)

func (m *Patients) AddPatient(p patient.Patient) {
	_ = m.s.write(context.Background(), func(st *state) error {
		st.patients[p.ID] = p
		return nil
	})
}

func (m *Patients) AddClinician(c patient.Clinician) {
	_ = m.s.write(context.Background(), func(st *state) error {
		st.clinicians[c.ID] = c
		return nil
	})
}

func (m *Patients) GetPatient(ctx context.Context, id uuid.UUID) (*patient.Patient, error) {
	var (
		p  patient.Patient
		ok bool
	)
	m.s.read(ctx, func(st *state) { p, ok = st.patients[id] })
	if !ok {
		return nil, patient.ErrPatientNotFound
	}
	return &p, nil
}

// GetPatientForUpdate is GetPatient: the store already serializes access.
func (m *Patients) GetPatientForUpdate(ctx context.Context, id uuid.UUID) (*patient.Patient, error) {
	return m.GetPatient(ctx, id)
}

func (m *Patients) SetCurrentStage(ctx context.Context, patientID uuid.UUID, stage string) error {
	return m.s.write(ctx, func(st *state) error {
		p, ok := st.patients[patientID]
		if !ok {
			return patient.ErrPatientNotFound
		}
		p.CurrentStage = stage
		p.UpdatedAt = time.Now().UTC()
		st.patients[patientID] = p
		return nil
	})
}

func (m *Patients) IsClinician(ctx context.Context, id uuid.UUID) (bool, error) {
	var (
		c  patient.Clinician
		ok bool
	)
	m.s.read(ctx, func(st *state) { c, ok = st.clinicians[id] })
	if !ok {
		return false, patient.ErrClinicianNotFound
	}
	return c.IsClinician, nil
}
