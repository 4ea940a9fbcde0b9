package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagegate/internal/app"
	"stagegate/internal/config"
	"stagegate/internal/domain"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	App    *app.App
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, mutate func(*config.Config)) (*testServer, func()) {
	t.Helper()
	cfg := config.Default()
	cfg.Pipeline.StageDelay = 0
	if mutate != nil {
		mutate(cfg)
	}
	a, err := app.New(context.Background(), cfg, app.Options{})
	if err != nil {
		t.Fatalf("build app: %v", err)
	}
	handler, err := New(Config{
		App:      a,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowLegacyActorHeader: cfg.Auth.AllowLegacyActorHeader},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		App:    a,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			a.Close(context.Background())
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func bearer(t *testing.T, subject string, roles ...string) map[string]string {
	t.Helper()
	token, err := SignToken(testSecret, subject, roles, nil, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env.Error.Code
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/workflows", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode, string(data))
	assert.Equal(t, "unauthorized", errorCode(t, data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/workflows", nil, map[string]string{"Authorization": "Bearer nope"})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode, string(data))
	assert.Equal(t, "invalid_credentials", errorCode(t, data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/workflows", nil, map[string]string{"X-Actor-Id": "alice"})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, bearer(t, "carol", "executive"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var me WhoAmIResponse
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, "carol", me.ActorID)
	assert.Equal(t, []string{"workflow.approve"}, me.Permissions)
}

func TestLegacyActorHeader(t *testing.T) {
	srv, cleanup := newTestServer(t, func(c *config.Config) { c.Auth.AllowLegacyActorHeader = true })
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/documents", map[string]any{
		"document_type": "contract", "generating_actor": "legal",
	}, map[string]string{"X-Actor-Id": "alice", "X-Actor-Roles": "requester"})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/documents", map[string]any{
		"document_type": "contract", "generating_actor": "legal",
	}, map[string]string{"X-Actor-Id": "bob"})
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))
	assert.Equal(t, "forbidden", errorCode(t, data))
}

func TestWorkflowSubmitAndApprove(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	client := srv.Client()
	requester := bearer(t, "alice", "requester")
	exec := bearer(t, "ceo", "executive")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/workflows", map[string]any{
		"id":             "req-1",
		"title":          "Vector search POC",
		"priority":       "high",
		"estimated_cost": 12000,
		"justification":  "support latency",
	}, requester)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var wf domain.Workflow
	require.NoError(t, json.Unmarshal(data, &wf))
	assert.Equal(t, "alice", wf.Request.RequestedBy)
	assert.Len(t, wf.Stages, 4)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/workflows", map[string]any{"id": "req-1", "title": "again"}, requester)
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/workflows", map[string]any{"title": "x"}, exec)
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.App.Pipeline.Wait(ctx, "req-1"))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/approvals/pending", nil, exec)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var pending itemsResponse[domain.Request]
	require.NoError(t, json.Unmarshal(data, &pending))
	require.Len(t, pending.Items, 1)
	assert.Equal(t, domain.RequestAwaitingGate, pending.Items[0].Status)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/workflows/req-1/approval", map[string]any{"approved": true}, requester)
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/workflows/req-1/approval", map[string]any{"approved": true, "notes": "go"}, exec)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &wf))
	assert.Equal(t, domain.RequestApproved, wf.Request.Status)
	assert.Equal(t, "go", wf.Stages[3].Notes)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/workflows/req-1/approval", map[string]any{"approved": false}, exec)
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	assert.Equal(t, "invalid_transition", errorCode(t, data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/workflows/missing", nil, exec)
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/workflows?status=approved", nil, exec)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var list itemsResponse[domain.Workflow]
	require.NoError(t, json.Unmarshal(data, &list))
	assert.Len(t, list.Items, 1)
}

func TestRoutingSimulation(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	headers := bearer(t, "alice", "requester")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/routing/simulate", map[string]any{
		"trigger_actor": "intake-analyst",
		"trigger_event": "POC Submitted",
		"metrics":       map[string]any{"estimatedCost": 30000},
	}, headers)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var result domain.SimulationResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, "finance-reviewer", result.TargetAgent)
	assert.Equal(t, "high-cost-poc", result.MatchedRuleID)
	assert.False(t, result.FallbackUsed)

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/routing/simulate", map[string]any{
		"trigger_actor": "intake-analyst",
		"trigger_event": "Contract Drafted",
		"rules":         []any{},
	}, headers)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &result))
	assert.True(t, result.FallbackUsed)
	assert.Equal(t, "legal", result.TargetAgent)

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/routing/simulate", map[string]any{
		"trigger_actor": "x", "trigger_event": "y",
	}, bearer(t, "ceo", "executive"))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))
}

func TestEntitiesEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	admin := bearer(t, "root", "admin")
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/entities/validate-workflow", map[string]any{
		"stages": []map[string]any{
			{"id": "s1", "kind": "execution", "entity_id": "oversight"},
			{"id": "s2", "kind": "approval", "entity_id": "ghost"},
		},
	}, admin)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var report domain.ValidationReport
	require.NoError(t, json.Unmarshal(data, &report))
	assert.False(t, report.IsValid)
	assert.GreaterOrEqual(t, len(report.Errors), 2)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/entities/suggest", map[string]any{
		"stage_kind": "observation",
	}, admin)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var suggestion SuggestResponse
	require.NoError(t, json.Unmarshal(data, &suggestion))
	require.NotNil(t, suggestion.Suggested)
	assert.Equal(t, "oversight", suggestion.Suggested.ID)

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/entities/oversight/active", map[string]any{"active": false}, admin)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var entity domain.Entity
	require.NoError(t, json.Unmarshal(data, &entity))
	assert.False(t, entity.IsActive)

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/entities/ghost/active", map[string]any{"active": true}, admin)
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/entities?category=observer", nil, admin)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var list itemsResponse[domain.Entity]
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list.Items, 1)
	assert.False(t, list.Items[0].IsActive)
}

func TestDocumentLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	headers := bearer(t, "alice", "requester")
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/documents", map[string]any{
		"document_type": "contract", "project": "apollo", "generating_actor": "legal", "department": "Legal",
	}, headers)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var doc domain.Document
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, domain.DocumentPending, doc.Status)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/documents", map[string]any{
		"document_type": "", "generating_actor": "legal",
	}, headers)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/documents/"+doc.ID+"/status", map[string]any{"status": "signed"}, headers)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &doc))
	require.NotNil(t, doc.FollowUp)
	assert.Equal(t, "File Legal Record", doc.FollowUp.NextAction)

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/documents/"+doc.ID+"/status", map[string]any{"status": "pending"}, headers)
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/documents/nope/status", map[string]any{"status": "signed"}, headers)
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/documents/"+doc.ID+"/acknowledge", nil, headers)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.True(t, doc.ActorAcknowledged)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/documents?department=legal", nil, headers)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var list itemsResponse[domain.Document]
	require.NoError(t, json.Unmarshal(data, &list))
	assert.Len(t, list.Items, 1)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/documents?status=rejected", nil, headers)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &list))
	assert.Empty(t, list.Items)
}

func TestEventsPagination(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	headers := bearer(t, "alice", "requester")
	for i := 0; i < 3; i++ {
		res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/documents", map[string]any{
			"document_type": "memo", "generating_actor": "planner",
		}, headers)
		require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/events?entity_kind=document&limit=2", nil, headers)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var page paginatedEvents
	require.NoError(t, json.Unmarshal(data, &page))
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/events?entity_kind=document&limit=2&cursor="+page.NextCursor, nil, headers)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var last paginatedEvents
	require.NoError(t, json.Unmarshal(data, &last))
	require.Len(t, last.Items, 1)
	assert.Empty(t, last.NextCursor)
	assert.Equal(t, "document.registered", last.Items[0].Type)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/events?cursor=abc", nil, headers)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
}

func TestMetricsAndOpenAPI(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.True(t, strings.Contains(string(data), "go_goroutines"))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Contains(t, string(data), "bearerAuth")
	assert.Contains(t, string(data), "/v1/workflows/{id}/approval")
	assert.Contains(t, string(data), "#/components/schemas/ApiError")

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
}
