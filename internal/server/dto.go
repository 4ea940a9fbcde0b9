package server

import (
	"encoding/json"

	"stagegate/internal/documents"
	"stagegate/internal/domain"
	"stagegate/internal/registry"
)

// Request payloads

type SimulateRequest struct {
	TriggerActor string         `json:"trigger_actor"`
	TriggerEvent string         `json:"trigger_event"`
	Metrics      map[string]any `json:"metrics,omitempty"`
	RuleID       string         `json:"rule_id,omitempty" doc:"Evaluate only this rule when it is active"`
	// Rules replaces the configured rules for this simulation when set.
	Rules []domain.RoutingRule `json:"rules,omitempty"`
}

type SetActiveRequest struct {
	Active bool `json:"active"`
}

type ValidateWorkflowRequest struct {
	Stages []domain.StageBinding `json:"stages"`
}

type SuggestRequest struct {
	StageKind    string   `json:"stage_kind" enum:"execution,observation,trigger,coordination,approval"`
	Capabilities []string `json:"capabilities,omitempty"`
}

type SubmitRequest struct {
	ID            string   `json:"id,omitempty"`
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	RequestedBy   string   `json:"requested_by,omitempty"`
	Priority      string   `json:"priority,omitempty" enum:"low,medium,high,critical"`
	EstimatedCost float64  `json:"estimated_cost,omitempty"`
	Justification string   `json:"justification,omitempty"`
	Requirements  []string `json:"requirements,omitempty"`
	Risks         []string `json:"risks,omitempty"`
}

type ApprovalRequest struct {
	Approved bool   `json:"approved"`
	Notes    string `json:"notes,omitempty"`
}

type RegisterDocumentRequest struct {
	DocumentType    string `json:"document_type"`
	Project         string `json:"project,omitempty"`
	GeneratingActor string `json:"generating_actor"`
	Department      string `json:"department,omitempty"`
}

type DocumentStatusRequest struct {
	Status string `json:"status" enum:"pending,signed,rejected,acknowledged,agent_notified"`
}

// Responses

type SuggestResponse struct {
	Suggested  *domain.Entity       `json:"suggested,omitempty"`
	Candidates []registry.Candidate `json:"candidates"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Source      string   `json:"source"`
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts" format:"date-time"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type itemsResponse[T any] struct {
	Items []T `json:"items"`
}

func eventResponse(evt domain.Event) EventResponse {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}

func (r SubmitRequest) toDomain() domain.Request {
	return domain.Request{
		ID:            r.ID,
		Title:         r.Title,
		Description:   r.Description,
		RequestedBy:   r.RequestedBy,
		Priority:      domain.Priority(r.Priority),
		EstimatedCost: r.EstimatedCost,
		Justification: r.Justification,
		Requirements:  r.Requirements,
		Risks:         r.Risks,
	}
}

func documentsRegisterParams(r RegisterDocumentRequest) documents.RegisterParams {
	return documents.RegisterParams{
		DocumentType:    r.DocumentType,
		Project:         r.Project,
		GeneratingActor: r.GeneratingActor,
		Department:      r.Department,
	}
}

func nonNilSlice(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
