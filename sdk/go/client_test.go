package stagegatesdk_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagegate/internal/app"
	"stagegate/internal/config"
	"stagegate/internal/server"
	stagegatesdk "stagegate/sdk/go"
)

func newClient(t *testing.T) (*stagegatesdk.Client, *app.App) {
	t.Helper()
	cfg := config.Default()
	cfg.Pipeline.StageDelay = 0
	a, err := app.New(context.Background(), cfg, app.Options{})
	require.NoError(t, err)
	handler, err := server.New(server.Config{App: a, Auth: server.AuthConfig{JWTSecret: "sdk-secret"}})
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	t.Cleanup(func() {
		ts.Close()
		a.Close(context.Background())
	})
	token, err := server.SignToken("sdk-secret", "alice", []string{"admin"}, nil, time.Hour)
	require.NoError(t, err)
	return stagegatesdk.New(ts.URL, token), a
}

func TestClientWorkflowRoundTrip(t *testing.T) {
	c, a := newClient(t)
	ctx := context.Background()

	wf, err := c.Submit(ctx, stagegatesdk.Request{
		ID: "req-9", Title: "Chatbot POC", Priority: "medium", EstimatedCost: 8000, Justification: "deflection",
	})
	require.NoError(t, err)
	assert.Equal(t, "pending", wf.Request.Status)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, a.Pipeline.Wait(waitCtx, "req-9"))

	pending, err := c.PendingApprovals(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	wf, err = c.Approve(ctx, "req-9", false, "not now")
	require.NoError(t, err)
	assert.Equal(t, "rejected", wf.Request.Status)

	_, err = c.Approve(ctx, "req-9", true, "")
	var apiErr *stagegatesdk.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)

	all, err := c.Workflows(ctx, "rejected")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	evts, err := c.Events(ctx, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, evts)
	assert.Equal(t, "workflow.rejected", evts[0].Type)
}

func TestClientDocuments(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()

	doc, err := c.RegisterDocument(ctx, "budget", "apollo", "finance-reviewer", "Finance")
	require.NoError(t, err)
	doc, err = c.SetDocumentStatus(ctx, doc.ID, "rejected")
	require.NoError(t, err)
	require.NotNil(t, doc.FollowUp)
	assert.Equal(t, "Update Budget Ledger", doc.FollowUp.NextAction)

	doc, err = c.AcknowledgeDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, doc.ActorAcknowledged)

	docs, err := c.Documents(ctx, "", "finance")
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}
