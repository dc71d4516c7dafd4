package pathway

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-flow/internal/failure"
)

type Status string

const (
	StatusStarted    Status = "INICIADA"
	StatusInProgress Status = "EN_PROGRESO"
	StatusPaused     Status = "PAUSADA"
	StatusCompleted  Status = "COMPLETADA"
	StatusCancelled  Status = "CANCELADA"
)

// Active pathways are the ones mirrored onto the patient record.
func (s Status) Active() bool {
	return s == StatusStarted || s == StatusInProgress || s == StatusPaused
}

type StageStatus string

const (
	StagePending    StageStatus = "PENDING"
	StageInProgress StageStatus = "IN_PROGRESS"
	StagePaused     StageStatus = "PAUSED"
	StageCompleted  StageStatus = "COMPLETED"
	StageCancelled  StageStatus = "CANCELLED"
)

func (s StageStatus) Terminal() bool {
	return s == StageCompleted || s == StageCancelled
}

type Stage struct {
	ID               uuid.UUID
	PathwayID        uuid.UUID
	Order            int
	Name             string
	Type             string
	EstimatedMinutes int
	ActualMinutes    *int
	StartTime        *time.Time
	EndTime          *time.Time
	Status           StageStatus
	IsStatic         bool
	PauseReason      string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Delayed is true for an in-progress stage running past its estimate.
func (s *Stage) Delayed(now time.Time) bool {
	return s.Status == StageInProgress && s.StartTime != nil &&
		now.Sub(*s.StartTime) > time.Duration(s.EstimatedMinutes)*time.Minute
}

type Pathway struct {
	ID           uuid.UUID
	PatientID    uuid.UUID
	StartTime    time.Time
	EstimatedEnd time.Time
	ActualEnd    *time.Time
	Completion   float64
	Status       Status
	PauseReason  string
	Metadata     map[string]any
	Stages       []Stage
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type StageSpec struct {
	Name             string
	Type             string
	EstimatedMinutes int
}

func NewPathway(patientID uuid.UUID, specs []StageSpec, metadata map[string]any, now time.Time) (*Pathway, error) {
	if patientID == uuid.Nil {
		return nil, failure.Validation("create_pathway", "patient reference is required")
	}
	if len(specs) == 0 {
		return nil, failure.Validation("create_pathway", "a pathway needs at least one stage")
	}

	p := &Pathway{
		ID:        uuid.New(),
		PatientID: patientID,
		StartTime: now,
		Status:    StatusStarted,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	total := 0
	for i, spec := range specs {
		if spec.Name == "" {
			return nil, failure.Validation("create_pathway", "stage name is required")
		}
		if spec.EstimatedMinutes < 1 {
			return nil, failure.Validation("create_pathway", "stage estimated duration must be at least 1 minute")
		}
		total += spec.EstimatedMinutes
		p.Stages = append(p.Stages, Stage{
			ID:               uuid.New(),
			PathwayID:        p.ID,
			Order:            i + 1,
			Name:             spec.Name,
			Type:             spec.Type,
			EstimatedMinutes: spec.EstimatedMinutes,
			Status:           StagePending,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
	}
	p.EstimatedEnd = now.Add(time.Duration(total) * time.Minute)
	return p, nil
}

// SortStages orders stages by their position in the pathway.
func (p *Pathway) SortStages() {
	sort.Slice(p.Stages, func(i, j int) bool { return p.Stages[i].Order < p.Stages[j].Order })
}

func (p *Pathway) stage(id uuid.UUID) (*Stage, error) {
	for i := range p.Stages {
		if p.Stages[i].ID == id {
			return &p.Stages[i], nil
		}
	}
	return nil, failure.Missing("stage")
}

func (p *Pathway) transitionErr(op string) error {
	return failure.Transition(op, "pathway", string(p.Status))
}

func stageErr(op string, s *Stage) error {
	return failure.Transition(op, "stage", string(s.Status))
}

// CurrentStage is the stage IN_PROGRESS, if any.
func (p *Pathway) CurrentStage() *Stage {
	for i := range p.Stages {
		if p.Stages[i].Status == StageInProgress {
			return &p.Stages[i]
		}
	}
	return nil
}

// NextStage is the lowest-order stage still PENDING or IN_PROGRESS.
func (p *Pathway) NextStage() *Stage {
	var next *Stage
	for i := range p.Stages {
		s := &p.Stages[i]
		if s.Status != StagePending && s.Status != StageInProgress {
			continue
		}
		if next == nil || s.Order < next.Order {
			next = s
		}
	}
	return next
}

func (p *Pathway) running() *Stage {
	for i := range p.Stages {
		if p.Stages[i].Status == StageInProgress || p.Stages[i].Status == StagePaused {
			return &p.Stages[i]
		}
	}
	return nil
}

func (p *Pathway) StartStage(id uuid.UUID, now time.Time) error {
	if p.Status != StatusStarted && p.Status != StatusInProgress {
		return p.transitionErr("start_stage")
	}
	s, err := p.stage(id)
	if err != nil {
		return err
	}
	if s.Status != StagePending {
		return stageErr("start_stage", s)
	}
	if other := p.running(); other != nil {
		return &failure.Error{Kind: failure.InvalidTransition, Op: "start_stage", Entity: "stage", State: string(other.Status),
			Message: "stage " + other.Name + " has not finished"}
	}
	for _, prior := range p.Stages {
		if prior.Order < s.Order && !prior.Status.Terminal() {
			return &failure.Error{Kind: failure.InvalidTransition, Op: "start_stage", Entity: "stage", State: string(prior.Status),
				Message: "earlier stage " + prior.Name + " is not done"}
		}
	}
	s.Status = StageInProgress
	s.StartTime = &now
	s.UpdatedAt = now
	p.Status = StatusInProgress
	p.UpdatedAt = now
	return nil
}

func (p *Pathway) FinishStage(id uuid.UUID, now time.Time) error {
	s, err := p.stage(id)
	if err != nil {
		return err
	}
	if s.Status != StageInProgress || s.StartTime == nil {
		return stageErr("finish_stage", s)
	}
	d := int(math.Round(now.Sub(*s.StartTime).Minutes()))
	s.Status = StageCompleted
	s.EndTime = &now
	s.ActualMinutes = &d
	s.UpdatedAt = now
	p.recompute(now)
	return nil
}

// Advance finishes the current stage, if any, and starts the next one.
// It returns the stage now in progress, or nil when the pathway is done.
func (p *Pathway) Advance(now time.Time) (*Stage, error) {
	if cur := p.CurrentStage(); cur != nil {
		if err := p.FinishStage(cur.ID, now); err != nil {
			return nil, err
		}
	}
	next := p.NextStage()
	if next == nil {
		return nil, nil
	}
	if err := p.StartStage(next.ID, now); err != nil {
		return nil, err
	}
	return next, nil
}

func (p *Pathway) PauseStage(id uuid.UUID, reason string, now time.Time) error {
	s, err := p.stage(id)
	if err != nil {
		return err
	}
	if s.Status != StageInProgress {
		return stageErr("pause_stage", s)
	}
	s.Status = StagePaused
	s.IsStatic = true
	s.PauseReason = reason
	s.UpdatedAt = now
	p.UpdatedAt = now
	return nil
}

func (p *Pathway) ResumeStage(id uuid.UUID, now time.Time) error {
	if p.Status == StatusPaused {
		return &failure.Error{Kind: failure.InvalidTransition, Op: "resume_stage", Entity: "pathway", State: string(p.Status),
			Message: "resume the pathway instead"}
	}
	s, err := p.stage(id)
	if err != nil {
		return err
	}
	if s.Status != StagePaused {
		return stageErr("resume_stage", s)
	}
	s.Status = StageInProgress
	s.IsStatic = false
	s.PauseReason = ""
	s.UpdatedAt = now
	p.UpdatedAt = now
	return nil
}

// PauseRoute pauses the pathway and, with it, the stage in progress.
func (p *Pathway) PauseRoute(reason string, now time.Time) error {
	if p.Status != StatusStarted && p.Status != StatusInProgress {
		return p.transitionErr("pause_route")
	}
	if cur := p.CurrentStage(); cur != nil {
		if err := p.PauseStage(cur.ID, reason, now); err != nil {
			return err
		}
	}
	p.Status = StatusPaused
	p.PauseReason = reason
	p.UpdatedAt = now
	return nil
}

// ResumeRoute resumes the pathway and every stage left PAUSED.
func (p *Pathway) ResumeRoute(now time.Time) error {
	if p.Status != StatusPaused {
		return p.transitionErr("resume_route")
	}
	p.Status = StatusStarted
	for i := range p.Stages {
		s := &p.Stages[i]
		if s.Status == StagePaused {
			s.Status = StageInProgress
			s.IsStatic = false
			s.PauseReason = ""
			s.UpdatedAt = now
		}
		if s.StartTime != nil {
			p.Status = StatusInProgress
		}
	}
	p.PauseReason = ""
	p.UpdatedAt = now
	return nil
}

func (p *Pathway) CancelStage(id uuid.UUID, reason string, now time.Time) error {
	if !p.Status.Active() {
		return p.transitionErr("cancel_stage")
	}
	s, err := p.stage(id)
	if err != nil {
		return err
	}
	if s.Status.Terminal() {
		return stageErr("cancel_stage", s)
	}
	s.Status = StageCancelled
	s.PauseReason = reason
	s.IsStatic = false
	s.EndTime = &now
	s.UpdatedAt = now
	p.recompute(now)
	return nil
}

func (p *Pathway) CancelRoute(reason string, now time.Time) error {
	if !p.Status.Active() {
		return p.transitionErr("cancel_route")
	}
	for i := range p.Stages {
		s := &p.Stages[i]
		if !s.Status.Terminal() {
			s.Status = StageCancelled
			s.IsStatic = false
			s.EndTime = &now
			s.UpdatedAt = now
		}
	}
	p.Status = StatusCancelled
	p.PauseReason = reason
	p.ActualEnd = &now
	p.UpdatedAt = now
	return nil
}

// recompute derives completion from completed over total stages and closes
// the pathway once no stage is left to run.
func (p *Pathway) recompute(now time.Time) {
	p.UpdatedAt = now
	if len(p.Stages) == 0 {
		p.Completion = 0
		return
	}
	done, open := 0, 0
	for _, s := range p.Stages {
		switch {
		case s.Status == StageCompleted:
			done++
		case !s.Status.Terminal():
			open++
		}
	}
	p.Completion = float64(done) / float64(len(p.Stages)) * 100
	if done == len(p.Stages) {
		p.Completion = 100
	}
	// Nothing left to run: the pathway ends even when some stage was
	// cancelled, and its completion stays below 100.
	if open == 0 && p.Status.Active() {
		p.Status = StatusCompleted
		p.ActualEnd = &now
	}
}

type StageDelay struct {
	StageID   uuid.UUID     `json:"stage_id"`
	Name      string        `json:"name"`
	Order     int           `json:"order"`
	Elapsed   time.Duration `json:"elapsed"`
	Estimated time.Duration `json:"estimated"`
}

// DelayedStages is the pathway-level delay report.
func (p *Pathway) DelayedStages(now time.Time) []StageDelay {
	var out []StageDelay
	for i := range p.Stages {
		s := &p.Stages[i]
		if !s.Delayed(now) {
			continue
		}
		out = append(out, StageDelay{
			StageID:   s.ID,
			Name:      s.Name,
			Order:     s.Order,
			Elapsed:   now.Sub(*s.StartTime),
			Estimated: time.Duration(s.EstimatedMinutes) * time.Minute,
		})
	}
	return out
}
