package repo_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagegate/internal/db"
	"stagegate/internal/domain"
	"stagegate/internal/migrate"
	"stagegate/internal/repo"
	"stagegate/internal/store"
)

var (
	_ store.WorkflowStore = repo.Repo{}
	_ store.DocumentStore = repo.Repo{}
)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return repo.Repo{DB: conn}
}

func TestWorkflowRoundTripAndOrder(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	wf := domain.Workflow{
		ID: "wf-1",
		Request: domain.Request{
			ID: "req-1", Title: "POC", RequestedBy: "alice", Priority: domain.PriorityHigh,
			EstimatedCost: 1200, Requirements: []string{"gpu"}, Status: domain.RequestPending,
		},
		Stages:    []domain.StageRecord{{Role: "intake-analyst", Status: domain.StagePending}},
		CreatedAt: "2024-01-01T00:00:00Z",
		UpdatedAt: "2024-01-01T00:00:00Z",
	}
	require.NoError(t, r.SaveWorkflow(ctx, wf))
	require.NoError(t, r.SaveWorkflow(ctx, domain.Workflow{ID: "wf-2", Request: domain.Request{Status: domain.RequestPending}}))

	wf.Request.Status = domain.RequestAwaitingGate
	wf.CurrentStageIndex = 3
	wf.Stages[0].Status = domain.StageCompleted
	wf.Stages[0].Result = &domain.StageResult{Recommendation: "proceed", Score: 0.8}
	require.NoError(t, r.SaveWorkflow(ctx, wf))

	got, err := r.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.CurrentStageIndex)
	assert.Equal(t, domain.RequestAwaitingGate, got.Request.Status)
	require.NotNil(t, got.Stages[0].Result)
	assert.Equal(t, "proceed", got.Stages[0].Result.Recommendation)

	list, err := r.ListWorkflows(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "wf-1", list[0].ID)

	gated, err := r.ListWorkflowsByStatus(ctx, domain.RequestAwaitingGate)
	require.NoError(t, err)
	require.Len(t, gated, 1)

	_, err = r.GetWorkflow(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDocumentCapacityAndUpdate(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	for i := 0; i < 5; i++ {
		_, err := r.InsertDocument(ctx, domain.Document{
			ID: fmt.Sprintf("doc-%d", i), DocumentType: "contract", GeneratingActor: "legal",
			Status: domain.DocumentPending, CreatedAt: "2024-01-01T00:00:00Z",
		}, 3)
		require.NoError(t, err)
	}
	list, err := r.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "doc-4", list[0].ID)
	assert.Equal(t, "doc-2", list[2].ID)

	doc := list[0]
	doc.Status = domain.DocumentSigned
	doc.FollowUpTriggered = true
	doc.FollowUp = &domain.FollowUp{Message: "thanks", NextAction: "File", GeneratedAt: "2024-01-01T00:00:01Z"}
	require.NoError(t, r.UpdateDocument(ctx, doc))

	got, err := r.GetDocument(ctx, "doc-4")
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentSigned, got.Status)
	assert.True(t, got.FollowUpTriggered)
	require.NotNil(t, got.FollowUp)
	assert.Equal(t, "File", got.FollowUp.NextAction)

	assert.ErrorIs(t, r.UpdateDocument(ctx, domain.Document{ID: "doc-0"}), domain.ErrNotFound)
}
