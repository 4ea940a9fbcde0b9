// Package store defines persistence contracts for workflows and documents
// and an in-memory implementation of them.
package store

import (
	"context"

	"stagegate/internal/domain"
)

// WorkflowStore persists workflow instances. Implementations must be safe for
// concurrent use and must return copies, never shared state.
type WorkflowStore interface {
	SaveWorkflow(ctx context.Context, wf domain.Workflow) error
	GetWorkflow(ctx context.Context, id string) (domain.Workflow, error)
	// ListWorkflows returns instances in creation order.
	ListWorkflows(ctx context.Context) ([]domain.Workflow, error)
}

// DocumentStore persists the capped document queue.
type DocumentStore interface {
	// InsertDocument adds doc as the most recent entry and evicts the oldest
	// entries beyond capacity. It returns the evicted ids.
	InsertDocument(ctx context.Context, doc domain.Document, capacity int) ([]string, error)
	// UpdateDocument overwrites an existing document in place.
	UpdateDocument(ctx context.Context, doc domain.Document) error
	GetDocument(ctx context.Context, id string) (domain.Document, error)
	// ListDocuments returns documents most recent first.
	ListDocuments(ctx context.Context) ([]domain.Document, error)
}
