package stagegatesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal stagegate HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no bearer token is set; the server
	// only honors it with auth.allow_legacy_actor_header.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

// Request is a submitted request (partial).
type Request struct {
	ID            string   `json:"id,omitempty"`
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	RequestedBy   string   `json:"requested_by,omitempty"`
	Priority      string   `json:"priority,omitempty"`
	EstimatedCost float64  `json:"estimated_cost,omitempty"`
	Justification string   `json:"justification,omitempty"`
	Requirements  []string `json:"requirements,omitempty"`
	Risks         []string `json:"risks,omitempty"`
	Status        string   `json:"status,omitempty"`
	SubmittedAt   string   `json:"submitted_at,omitempty"`
}

// StageResult is a stage processor output.
type StageResult struct {
	Recommendation string         `json:"recommendation"`
	Summary        string         `json:"summary,omitempty"`
	Score          float64        `json:"score,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
}

// Stage is one pipeline stage record.
type Stage struct {
	Role        string       `json:"role"`
	Status      string       `json:"status"`
	Result      *StageResult `json:"result,omitempty"`
	StartedAt   string       `json:"started_at,omitempty"`
	CompletedAt string       `json:"completed_at,omitempty"`
	Notes       string       `json:"notes,omitempty"`
}

// Workflow represents a request moving through the pipeline.
type Workflow struct {
	ID                string  `json:"id"`
	Request           Request `json:"request"`
	Stages            []Stage `json:"stages"`
	CurrentStageIndex int     `json:"current_stage_index"`
	CreatedAt         string  `json:"created_at"`
	UpdatedAt         string  `json:"updated_at"`
}

// FollowUp is the message a generating actor sends after a decision.
type FollowUp struct {
	Message     string `json:"message"`
	NextAction  string `json:"next_action"`
	GeneratedAt string `json:"generated_at"`
}

// Document is a tracked generated document.
type Document struct {
	ID                string    `json:"id"`
	DocumentType      string    `json:"document_type"`
	Project           string    `json:"project"`
	GeneratingActor   string    `json:"generating_actor"`
	Department        string    `json:"department"`
	Status            string    `json:"status"`
	CreatedAt         string    `json:"created_at"`
	FollowUpTriggered bool      `json:"follow_up_triggered"`
	ActorAcknowledged bool      `json:"actor_acknowledged"`
	FollowUp          *FollowUp `json:"follow_up,omitempty"`
}

// Event represents an audit log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// Submit sends a request into the approval pipeline.
func (c *Client) Submit(ctx context.Context, req Request) (Workflow, error) {
	var resp Workflow
	err := c.do(ctx, http.MethodPost, "workflows", req, &resp)
	return resp, err
}

// Approve records the gate decision for a workflow.
func (c *Client) Approve(ctx context.Context, id string, approved bool, notes string) (Workflow, error) {
	body := map[string]any{"approved": approved, "notes": notes}
	var resp Workflow
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("workflows/%s/approval", url.PathEscape(id)), body, &resp)
	return resp, err
}

// Workflow fetches a workflow by id.
func (c *Client) Workflow(ctx context.Context, id string) (Workflow, error) {
	var resp Workflow
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("workflows/%s", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// Workflows lists workflows, optionally filtered by request status.
func (c *Client) Workflows(ctx context.Context, status string) ([]Workflow, error) {
	endpoint := "workflows"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp struct {
		Items []Workflow `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// PendingApprovals lists requests waiting at the gate.
func (c *Client) PendingApprovals(ctx context.Context) ([]Request, error) {
	var resp struct {
		Items []Request `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "approvals/pending", nil, &resp)
	return resp.Items, err
}

// RegisterDocument adds a document to the queue.
func (c *Client) RegisterDocument(ctx context.Context, documentType, project, generatingActor, department string) (Document, error) {
	body := map[string]any{
		"document_type":    documentType,
		"project":          project,
		"generating_actor": generatingActor,
		"department":       department,
	}
	var resp Document
	err := c.do(ctx, http.MethodPost, "documents", body, &resp)
	return resp, err
}

// SetDocumentStatus signs, rejects or otherwise moves a document.
func (c *Client) SetDocumentStatus(ctx context.Context, id, status string) (Document, error) {
	var resp Document
	endpoint := fmt.Sprintf("documents/%s/status", url.PathEscape(id))
	err := c.do(ctx, http.MethodPatch, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// AcknowledgeDocument records the generating actor's acknowledgment.
func (c *Client) AcknowledgeDocument(ctx context.Context, id string) (Document, error) {
	var resp Document
	endpoint := fmt.Sprintf("documents/%s/acknowledge", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Documents lists the queue filtered by status and/or department.
func (c *Client) Documents(ctx context.Context, status, department string) ([]Document, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if department != "" {
		q.Set("department", department)
	}
	endpoint := "documents"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []Document `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// EventQuery filters an event listing. Zero values are ignored.
type EventQuery struct {
	Type       string
	EntityKind string
	EntityID   string
	Limit      int
	Cursor     string
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, EventQuery{Limit: limit})
	return page.Items, err
}

// EventsPage returns a paginated event listing, newest first.
func (c *Client) EventsPage(ctx context.Context, query EventQuery) (PaginatedEvents, error) {
	q := url.Values{}
	if query.Type != "" {
		q.Set("type", query.Type)
	}
	if query.EntityKind != "" {
		q.Set("entity_kind", query.EntityKind)
	}
	if query.EntityID != "" {
		q.Set("entity_id", query.EntityID)
	}
	if query.Limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", query.Limit))
	}
	if query.Cursor != "" {
		q.Set("cursor", query.Cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
