package store_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagegate/internal/domain"
	"stagegate/internal/store"
)

func TestMemoryWorkflowsReturnCopies(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	wf := domain.Workflow{ID: "wf-1", Stages: []domain.StageRecord{{Role: "intake-analyst", Status: domain.StagePending}}}
	require.NoError(t, m.SaveWorkflow(ctx, wf))

	got, err := m.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	got.Stages[0].Status = domain.StageCompleted

	again, err := m.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StagePending, again.Stages[0].Status)

	_, err = m.GetWorkflow(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryWorkflowsCopyResultDetails(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	wf := domain.Workflow{ID: "wf-1", Stages: []domain.StageRecord{{
		Role:   "evaluator",
		Status: domain.StageCompleted,
		Result: &domain.StageResult{Recommendation: "proceed", Details: map[string]any{
			"score":  0.8,
			"checks": map[string]any{"budget": true},
			"notes":  []string{"ok"},
		}},
	}}}
	require.NoError(t, m.SaveWorkflow(ctx, wf))
	wf.Stages[0].Result.Details["score"] = 0.1

	got, err := m.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, 0.8, got.Stages[0].Result.Details["score"])
	got.Stages[0].Result.Details["checks"].(map[string]any)["budget"] = false
	got.Stages[0].Result.Details["notes"].([]string)[0] = "changed"

	again, err := m.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, true, again.Stages[0].Result.Details["checks"].(map[string]any)["budget"])
	assert.Equal(t, []string{"ok"}, again.Stages[0].Result.Details["notes"])
}

func TestMemoryWorkflowsKeepCreationOrder(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	for _, id := range []string{"b", "a", "c"} {
		require.NoError(t, m.SaveWorkflow(ctx, domain.Workflow{ID: id}))
	}
	require.NoError(t, m.SaveWorkflow(ctx, domain.Workflow{ID: "a", CurrentStageIndex: 2}))
	list, err := m.ListWorkflows(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"b", "a", "c"}, []string{list[0].ID, list[1].ID, list[2].ID})
	assert.Equal(t, 2, list[1].CurrentStageIndex)
}

func TestMemoryDocumentsCapacity(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	var evicted []string
	for i := 0; i < 35; i++ {
		ids, err := m.InsertDocument(ctx, domain.Document{ID: fmt.Sprintf("doc-%02d", i)}, 30)
		require.NoError(t, err)
		evicted = append(evicted, ids...)
	}
	list, err := m.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, list, 30)
	assert.Equal(t, "doc-34", list[0].ID)
	assert.Equal(t, "doc-05", list[29].ID)
	assert.Equal(t, []string{"doc-00", "doc-01", "doc-02", "doc-03", "doc-04"}, evicted)

	err = m.UpdateDocument(ctx, domain.Document{ID: "doc-00"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
