package pathway

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-flow/internal/failure"
)

var intake = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

func fourStages(t *testing.T) *Pathway {
	t.Helper()
	p, err := NewPathway(uuid.New(), []StageSpec{
		{Name: "Triage", Type: "assessment", EstimatedMinutes: 10},
		{Name: "Lab", Type: "diagnostic", EstimatedMinutes: 30},
		{Name: "Imaging", Type: "diagnostic", EstimatedMinutes: 20},
		{Name: "Consult", Type: "consultation", EstimatedMinutes: 15},
	}, nil, intake)
	require.NoError(t, err)
	return p
}

func TestNewPathway(t *testing.T) {
	p := fourStages(t)
	assert.Equal(t, StatusStarted, p.Status)
	assert.Equal(t, intake.Add(75*time.Minute), p.EstimatedEnd)
	for i, s := range p.Stages {
		assert.Equal(t, i+1, s.Order)
		assert.Equal(t, StagePending, s.Status)
	}
	assert.Nil(t, p.CurrentStage())
	assert.Equal(t, "Triage", p.NextStage().Name)

	_, err := NewPathway(uuid.New(), nil, nil, intake)
	assert.True(t, failure.Is(err, failure.ValidationError))

	_, err = NewPathway(uuid.New(), []StageSpec{{Name: "x", EstimatedMinutes: 0}}, nil, intake)
	assert.True(t, failure.Is(err, failure.ValidationError))

	_, err = NewPathway(uuid.Nil, []StageSpec{{Name: "x", EstimatedMinutes: 5}}, nil, intake)
	assert.True(t, failure.Is(err, failure.ValidationError))
}

func TestDelayedStageAtHalfway(t *testing.T) {
	p := fourStages(t)
	now := intake

	for i := 0; i < 2; i++ {
		now = now.Add(5 * time.Minute)
		require.NoError(t, p.StartStage(p.Stages[i].ID, now))
		now = now.Add(10 * time.Minute)
		require.NoError(t, p.FinishStage(p.Stages[i].ID, now))
	}
	require.NoError(t, p.StartStage(p.Stages[2].ID, now))

	later := now.Add(25 * time.Minute)
	delayed := p.DelayedStages(later)
	require.Len(t, delayed, 1)
	assert.Equal(t, "Imaging", delayed[0].Name)
	assert.Equal(t, 25*time.Minute, delayed[0].Elapsed)
	assert.Equal(t, 20*time.Minute, delayed[0].Estimated)

	assert.Equal(t, 50.0, p.Completion)
	assert.Equal(t, StatusInProgress, p.Status)
	assert.Equal(t, "Imaging", p.CurrentStage().Name)
	assert.Equal(t, "Imaging", p.NextStage().Name)
}

func TestCompletionIsMonotonicAndReachesHundredOnlyWhenAllComplete(t *testing.T) {
	p := fourStages(t)
	now := intake
	last := p.Completion

	for range p.Stages {
		now = now.Add(time.Minute)
		_, err := p.Advance(now)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, p.Completion, last)
		last = p.Completion
		if p.Completion == 100 {
			t.Fatalf("reached 100 with stage %s still open", p.CurrentStage().Name)
		}
	}

	now = now.Add(time.Minute)
	next, err := p.Advance(now)
	require.NoError(t, err)
	assert.Nil(t, next)
	assert.Equal(t, 100.0, p.Completion)
	assert.Equal(t, StatusCompleted, p.Status)
	require.NotNil(t, p.ActualEnd)
	assert.Equal(t, now, *p.ActualEnd)
}

func TestCancelledStageKeepsCompletionBelowHundred(t *testing.T) {
	p, err := NewPathway(uuid.New(), []StageSpec{
		{Name: "A", EstimatedMinutes: 5},
		{Name: "B", EstimatedMinutes: 5},
	}, nil, intake)
	require.NoError(t, err)

	require.NoError(t, p.CancelStage(p.Stages[0].ID, "not needed", intake))
	require.NoError(t, p.StartStage(p.Stages[1].ID, intake))
	require.NoError(t, p.FinishStage(p.Stages[1].ID, intake.Add(5*time.Minute)))

	assert.Equal(t, 50.0, p.Completion)
	assert.Equal(t, StatusCompleted, p.Status)
}

func TestStagesStartInOrder(t *testing.T) {
	p := fourStages(t)

	err := p.StartStage(p.Stages[1].ID, intake)
	assert.True(t, failure.Is(err, failure.InvalidTransition))

	require.NoError(t, p.StartStage(p.Stages[0].ID, intake))
	err = p.StartStage(p.Stages[0].ID, intake)
	assert.True(t, failure.Is(err, failure.InvalidTransition))

	err = p.FinishStage(p.Stages[1].ID, intake)
	assert.True(t, failure.Is(err, failure.InvalidTransition))

	err = p.StartStage(uuid.New(), intake)
	assert.True(t, failure.Is(err, failure.NotFound))
}

func TestFinishRecordsActualDuration(t *testing.T) {
	p := fourStages(t)
	s := p.Stages[0].ID
	require.NoError(t, p.StartStage(s, intake))
	require.NoError(t, p.FinishStage(s, intake.Add(12*time.Minute)))

	assert.Equal(t, StageCompleted, p.Stages[0].Status)
	require.NotNil(t, p.Stages[0].ActualMinutes)
	assert.Equal(t, 12, *p.Stages[0].ActualMinutes)
	assert.Equal(t, 25.0, p.Completion)
}

func TestPauseRouteCascades(t *testing.T) {
	p := fourStages(t)
	require.NoError(t, p.StartStage(p.Stages[0].ID, intake))

	require.NoError(t, p.PauseRoute("waiting for interpreter", intake.Add(time.Minute)))
	assert.Equal(t, StatusPaused, p.Status)
	assert.Equal(t, StagePaused, p.Stages[0].Status)
	assert.True(t, p.Stages[0].IsStatic)
	assert.Equal(t, "waiting for interpreter", p.Stages[0].PauseReason)
	assert.Nil(t, p.CurrentStage())
	assert.Empty(t, p.DelayedStages(intake.Add(time.Hour)))

	err := p.ResumeStage(p.Stages[0].ID, intake.Add(2*time.Minute))
	assert.True(t, failure.Is(err, failure.InvalidTransition))

	err = p.StartStage(p.Stages[1].ID, intake.Add(2*time.Minute))
	assert.True(t, failure.Is(err, failure.InvalidTransition))

	require.NoError(t, p.ResumeRoute(intake.Add(3*time.Minute)))
	assert.Equal(t, StatusInProgress, p.Status)
	assert.Equal(t, StageInProgress, p.Stages[0].Status)
	assert.False(t, p.Stages[0].IsStatic)
	assert.Empty(t, p.Stages[0].PauseReason)
	assert.Empty(t, p.PauseReason)
}

func TestPauseRouteBeforeAnyStage(t *testing.T) {
	p := fourStages(t)
	require.NoError(t, p.PauseRoute("patient left", intake))
	require.NoError(t, p.ResumeRoute(intake.Add(time.Minute)))
	assert.Equal(t, StatusStarted, p.Status)

	err := p.ResumeRoute(intake)
	assert.True(t, failure.Is(err, failure.InvalidTransition))
}

func TestPauseAndResumeStage(t *testing.T) {
	p := fourStages(t)
	id := p.Stages[0].ID

	err := p.PauseStage(id, "x", intake)
	assert.True(t, failure.Is(err, failure.InvalidTransition))

	require.NoError(t, p.StartStage(id, intake))
	require.NoError(t, p.PauseStage(id, "equipment", intake))
	assert.True(t, p.Stages[0].IsStatic)

	err = p.StartStage(p.Stages[1].ID, intake)
	assert.True(t, failure.Is(err, failure.InvalidTransition), "a paused stage still blocks the next one")

	require.NoError(t, p.ResumeStage(id, intake))
	assert.Equal(t, StageInProgress, p.Stages[0].Status)
}

func TestCancelRoute(t *testing.T) {
	p := fourStages(t)
	require.NoError(t, p.StartStage(p.Stages[0].ID, intake))
	require.NoError(t, p.FinishStage(p.Stages[0].ID, intake.Add(time.Minute)))
	require.NoError(t, p.StartStage(p.Stages[1].ID, intake.Add(time.Minute)))

	require.NoError(t, p.CancelRoute("transferred", intake.Add(2*time.Minute)))
	assert.Equal(t, StatusCancelled, p.Status)
	assert.Equal(t, StageCompleted, p.Stages[0].Status)
	for _, s := range p.Stages[1:] {
		assert.Equal(t, StageCancelled, s.Status)
	}
	assert.Equal(t, 25.0, p.Completion)

	err := p.CancelRoute("again", intake)
	assert.True(t, failure.Is(err, failure.InvalidTransition))
	err = p.CancelStage(p.Stages[0].ID, "x", intake)
	assert.True(t, failure.Is(err, failure.InvalidTransition))
}

func TestMirroredStage(t *testing.T) {
	older := fourStages(t)
	require.NoError(t, older.StartStage(older.Stages[0].ID, intake))

	newer := fourStages(t)
	newer.StartTime = intake.Add(time.Hour)
	require.NoError(t, newer.StartStage(newer.Stages[0].ID, intake.Add(time.Hour)))
	require.NoError(t, newer.FinishStage(newer.Stages[0].ID, intake.Add(time.Hour)))
	require.NoError(t, newer.StartStage(newer.Stages[1].ID, intake.Add(time.Hour)))

	assert.Equal(t, "Lab", MirroredStage([]Pathway{*older, *newer}))
	assert.Equal(t, "Lab", MirroredStage([]Pathway{*newer, *older}))
	assert.Equal(t, "Triage", MirroredStage([]Pathway{*older}))

	require.NoError(t, newer.PauseRoute("hold", intake.Add(2*time.Hour)))
	assert.Equal(t, "Triage", MirroredStage([]Pathway{*older, *newer}))
	assert.Equal(t, "", MirroredStage([]Pathway{*newer}))

	idle := fourStages(t)
	idle.StartTime = intake.Add(3 * time.Hour)
	assert.Equal(t, "Triage", MirroredStage([]Pathway{*idle, *older}))
	assert.Equal(t, "", MirroredStage([]Pathway{*idle}))

	require.NoError(t, newer.CancelRoute("done", intake.Add(2*time.Hour)))
	assert.Equal(t, "Triage", MirroredStage([]Pathway{*older, *newer}))

	assert.Equal(t, "", MirroredStage(nil))
}
