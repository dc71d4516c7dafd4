package memory

import (
	"context"
	"maps"
	"slices"
	"sort"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-flow/internal/pathway"
)

// Pathways implements pathway.Repository.
type Pathways struct{ s *Store }

var _ pathway.Repository = (*Pathways)(nil)

func clonePathway(p pathway.Pathway) pathway.Pathway {
	p.Stages = slices.Clone(p.Stages)
	p.Metadata = maps.Clone(p.Metadata)
	p.SortStages()
	return p
}

func (m *Pathways) Insert(ctx context.Context, p *pathway.Pathway) error {
	return m.s.write(ctx, func(st *state) error {
		st.pathways[p.ID] = clonePathway(*p)
		return nil
	})
}

func (m *Pathways) Get(ctx context.Context, id uuid.UUID) (*pathway.Pathway, error) {
	var (
		p  pathway.Pathway
		ok bool
	)
	m.s.read(ctx, func(st *state) { p, ok = st.pathways[id] })
	if !ok {
		return nil, pathway.ErrPathwayNotFound
	}
	p = clonePathway(p)
	return &p, nil
}

func (m *Pathways) GetForUpdate(ctx context.Context, id uuid.UUID) (*pathway.Pathway, error) {
	return m.Get(ctx, id)
}

func (m *Pathways) Update(ctx context.Context, p *pathway.Pathway) error {
	return m.s.write(ctx, func(st *state) error {
		if _, ok := st.pathways[p.ID]; !ok {
			return pathway.ErrPathwayNotFound
		}
		st.pathways[p.ID] = clonePathway(*p)
		return nil
	})
}

func (m *Pathways) Delete(ctx context.Context, id uuid.UUID) error {
	return m.s.write(ctx, func(st *state) error {
		if _, ok := st.pathways[id]; !ok {
			return pathway.ErrPathwayNotFound
		}
		delete(st.pathways, id)
		return nil
	})
}

func (m *Pathways) byPatient(ctx context.Context, patientID uuid.UUID, activeOnly bool) []pathway.Pathway {
	var out []pathway.Pathway
	m.s.read(ctx, func(st *state) {
		for _, p := range st.pathways {
			if p.PatientID != patientID || (activeOnly && !p.Status.Active()) {
				continue
			}
			out = append(out, clonePathway(p))
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out
}

func (m *Pathways) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]pathway.Pathway, error) {
	return m.byPatient(ctx, patientID, false), nil
}

func (m *Pathways) ListActiveByPatient(ctx context.Context, patientID uuid.UUID) ([]pathway.Pathway, error) {
	return m.byPatient(ctx, patientID, true), nil
}
