package registry_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagegate/internal/domain"
	"stagegate/internal/registry"
)

func entity(id string, cat domain.Category, caps ...string) domain.Entity {
	return domain.Entity{ID: id, DisplayName: id, Category: cat, IsActive: true, Capabilities: caps}
}

func TestValidateAssignmentTable(t *testing.T) {
	cases := []struct {
		cat  domain.Category
		kind domain.StageKind
		ok   bool
	}{
		{domain.CategoryExecutor, domain.StageExecution, true},
		{domain.CategoryCoordinator, domain.StageExecution, true},
		{domain.CategoryObserver, domain.StageExecution, false},
		{domain.CategoryPartner, domain.StageExecution, false},
		{domain.CategoryExecutor, domain.StageApproval, true},
		{domain.CategoryTriggerSource, domain.StageApproval, false},
		{domain.CategoryObserver, domain.StageObservation, true},
		{domain.CategoryExecutor, domain.StageObservation, true},
		{domain.CategoryCoordinator, domain.StageObservation, false},
		{domain.CategoryTriggerSource, domain.StageTrigger, true},
		{domain.CategoryPartner, domain.StageTrigger, true},
		{domain.CategoryObserver, domain.StageTrigger, false},
		{domain.CategoryCoordinator, domain.StageCoordination, true},
		{domain.CategoryPartner, domain.StageCoordination, false},
	}
	for _, tc := range cases {
		err := registry.ValidateAssignment(entity("e", tc.cat), tc.kind)
		if tc.ok {
			assert.NoError(t, err, "%s/%s", tc.cat, tc.kind)
			continue
		}
		var mismatch *domain.CategoryMismatchError
		require.True(t, errors.As(err, &mismatch), "%s/%s", tc.cat, tc.kind)
		assert.Equal(t, tc.kind, mismatch.StageKind)
	}
}

func TestValidateWorkflowHappyPath(t *testing.T) {
	entities := []domain.Entity{
		entity("exec", domain.CategoryExecutor, "task_execution"),
		entity("obs", domain.CategoryObserver, "monitoring"),
	}
	report := registry.ValidateWorkflow([]domain.StageBinding{
		{ID: "s1", Kind: "execution", EntityID: "exec"},
		{ID: "s2", Kind: "observation", EntityID: "obs"},
	}, entities)
	assert.True(t, report.IsValid)
	assert.Empty(t, report.Errors)
	assert.Empty(t, report.Warnings)
}

func TestValidateWorkflowAccumulatesProblems(t *testing.T) {
	inactive := entity("sleepy", domain.CategoryExecutor, "analysis")
	inactive.IsActive = false
	entities := []domain.Entity{
		entity("obs", domain.CategoryObserver),
		inactive,
	}
	report := registry.ValidateWorkflow([]domain.StageBinding{
		{ID: "a", Kind: "observation", EntityID: "ghost"},
		{ID: "b", Kind: "bogus", EntityID: "obs"},
		{ID: "c", Kind: "approval", EntityID: "obs"},
		{ID: "d", Kind: "observation", EntityID: "sleepy", RequiredCapabilities: []string{"analysis", "x-ray"}},
	}, entities)

	require.False(t, report.IsValid)
	joined := strings.Join(report.Errors, "\n")
	assert.Contains(t, joined, "unknown entity ghost")
	assert.Contains(t, joined, "unknown stage kind")
	assert.Contains(t, joined, "cannot be assigned to approval")
	assert.Contains(t, joined, "no execution stage")
	assert.NotContains(t, joined, "no stage bound to an executor")

	warnings := strings.Join(report.Warnings, "\n")
	assert.Contains(t, warnings, "inactive entity sleepy")
	assert.Contains(t, warnings, "x-ray")
	assert.NotContains(t, warnings, "no observer")
}

func TestValidateWorkflowNeedsExecutor(t *testing.T) {
	report := registry.ValidateWorkflow([]domain.StageBinding{
		{ID: "s1", Kind: "execution", EntityID: "coord"},
	}, []domain.Entity{entity("coord", domain.CategoryCoordinator)})
	assert.False(t, report.IsValid)
	assert.Contains(t, report.Errors, "workflow has no stage bound to an executor")
	assert.Contains(t, report.Warnings, "workflow has no observer stage; consider adding oversight")
}

func TestSuggestOptimalEntity(t *testing.T) {
	entities := []domain.Entity{
		entity("half", domain.CategoryExecutor, "analysis"),
		entity("obs", domain.CategoryObserver, "task_execution", "analysis"),
		entity("full", domain.CategoryExecutor, "task_execution", "analysis"),
		entity("full-too", domain.CategoryCoordinator, "task_execution", "analysis"),
	}
	got, ok := registry.SuggestOptimalEntity(domain.StageExecution, entities, nil)
	require.True(t, ok)
	assert.Equal(t, "full", got.ID)

	ranked := registry.RankEntities(domain.StageExecution, entities, []string{"analysis", "gpu"})
	require.Len(t, ranked, 3)
	assert.Equal(t, "full", ranked[0].Entity.ID)
	assert.InDelta(t, 2.0/3.0, ranked[0].MatchScore, 1e-9)
	assert.Equal(t, "half", ranked[2].Entity.ID)
}

func TestSuggestSkipsInactiveAndIncompatible(t *testing.T) {
	off := entity("off", domain.CategoryObserver, "monitoring", "reporting")
	off.IsActive = false
	_, ok := registry.SuggestOptimalEntity(domain.StageObservation, []domain.Entity{
		off, entity("partner", domain.CategoryPartner, "monitoring"),
	}, nil)
	assert.False(t, ok)
}

func TestRegistryBindAndSetActive(t *testing.T) {
	r := registry.New([]domain.Entity{
		entity("exec", domain.CategoryExecutor),
		entity("obs", domain.CategoryObserver),
	}, nil)

	_, err := r.Bind("exec", domain.StageApproval)
	require.NoError(t, err)

	_, err = r.Bind("obs", domain.StageExecution)
	var mismatch *domain.CategoryMismatchError
	require.ErrorAs(t, err, &mismatch)

	_, err = r.Bind("ghost", domain.StageExecution)
	require.ErrorIs(t, err, domain.ErrNotFound)

	e, err := r.SetActive("obs", false)
	require.NoError(t, err)
	assert.False(t, e.IsActive)
	assert.Equal(t, []string{"exec", "obs"}, []string{r.List()[0].ID, r.List()[1].ID})
	got, _ := r.Get("obs")
	assert.False(t, got.IsActive)
}
