// Package documents tracks sign-off of generated documents and the follow-up
// each generating actor sends once a decision is made.
package documents

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"stagegate/internal/config"
	"stagegate/internal/domain"
	"stagegate/internal/events"
	"stagegate/internal/observability"
	"stagegate/internal/store"
)

// Scheduler runs f after d and returns a function that cancels it.
type Scheduler func(d time.Duration, f func()) (stop func() bool)

func afterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

type Options struct {
	Config    config.Documents
	Store     store.DocumentStore
	Events    events.Recorder
	Log       observability.Logger
	Now       func() time.Time
	NewID     func() string
	Rand      func() float64
	Scheduler Scheduler
}

// Tracker owns the document queue. Read-modify-write sequences are
// serialized by mu.
type Tracker struct {
	cfg      config.Documents
	store    store.DocumentStore
	events   events.Recorder
	log      observability.Logger
	now      func() time.Time
	newID    func() string
	rand     func() float64
	schedule Scheduler

	mu      sync.Mutex
	pending map[string]func() bool
	closed  bool
}

func New(opts Options) (*Tracker, error) {
	if opts.Store == nil {
		return nil, errors.New("documents: store is required")
	}
	if opts.Config.Capacity <= 0 {
		opts.Config.Capacity = 30
	}
	if opts.Events == nil {
		opts.Events = events.NewMemoryLog(0)
	}
	if opts.Log == nil {
		opts.Log = observability.NopLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Rand == nil {
		src := rand.New(rand.NewSource(time.Now().UnixNano()))
		var mu sync.Mutex
		opts.Rand = func() float64 {
			mu.Lock()
			defer mu.Unlock()
			return src.Float64()
		}
	}
	if opts.Scheduler == nil {
		opts.Scheduler = afterFunc
	}
	return &Tracker{
		cfg:      opts.Config,
		store:    opts.Store,
		events:   opts.Events,
		log:      opts.Log.With("component", "documents"),
		now:      opts.Now,
		newID:    opts.NewID,
		rand:     opts.Rand,
		schedule: opts.Scheduler,
		pending:  map[string]func() bool{},
	}, nil
}

type RegisterParams struct {
	DocumentType    string
	Project         string
	GeneratingActor string
	Department      string
}

// Register adds a pending document at the head of the queue, evicting the
// oldest entries beyond capacity.
func (t *Tracker) Register(ctx context.Context, p RegisterParams) (domain.Document, error) {
	if strings.TrimSpace(p.DocumentType) == "" {
		return domain.Document{}, errors.New("document_type is required")
	}
	if strings.TrimSpace(p.GeneratingActor) == "" {
		return domain.Document{}, errors.New("generating_actor is required")
	}
	doc := domain.Document{
		ID:              t.newID(),
		DocumentType:    p.DocumentType,
		Project:         p.Project,
		GeneratingActor: p.GeneratingActor,
		Department:      p.Department,
		Status:          domain.DocumentPending,
		CreatedAt:       t.now().UTC().Format(time.RFC3339Nano),
	}
	t.mu.Lock()
	evicted, err := t.store.InsertDocument(ctx, doc, t.cfg.Capacity)
	for _, id := range evicted {
		if stop, ok := t.pending[id]; ok {
			stop()
			delete(t.pending, id)
		}
	}
	t.mu.Unlock()
	if err != nil {
		return domain.Document{}, fmt.Errorf("insert document: %w", err)
	}
	observability.RecordDocumentTransition(string(doc.Status))
	t.record(ctx, "document.registered", doc.ID, events.EventPayload{
		"document_type": doc.DocumentType, "generating_actor": doc.GeneratingActor, "evicted": evicted,
	})
	if len(evicted) > 0 {
		t.log.Debug("documents evicted", "ids", evicted)
	}
	return doc, nil
}

// UpdateStatus applies a status change. The first time a document reaches
// signed or rejected its follow-up is generated and a deferred
// acknowledgment is scheduled; later decisions only change the status.
func (t *Tracker) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus) (domain.Document, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	doc, err := t.store.GetDocument(ctx, id)
	if err != nil {
		return domain.Document{}, err
	}
	if err := ensureDocumentTransition(id, doc.Status, status); err != nil {
		return domain.Document{}, err
	}
	doc.Status = status
	triggered := false
	if (status == domain.DocumentSigned || status == domain.DocumentRejected) && !doc.FollowUpTriggered {
		doc.FollowUpTriggered = true
		doc.FollowUp = t.followUp(doc.GeneratingActor)
		triggered = true
	}
	if err := t.store.UpdateDocument(ctx, doc); err != nil {
		return domain.Document{}, fmt.Errorf("update document: %w", err)
	}
	observability.RecordDocumentTransition(string(status))
	t.record(ctx, "document.status_changed", id, events.EventPayload{"status": status, "follow_up_triggered": triggered})
	if triggered {
		observability.RecordFollowUp("pending")
		t.scheduleAck(id)
		t.log.Info("follow-up generated", "document_id", id, "actor", doc.GeneratingActor, "next_action", doc.FollowUp.NextAction)
	}
	return doc, nil
}

// ensureDocumentTransition allows any move except back to pending and
// unknown statuses.
func ensureDocumentTransition(id string, from, to domain.DocumentStatus) error {
	if !to.Valid() || (to == domain.DocumentPending && from != domain.DocumentPending) {
		return &domain.InvalidTransitionError{Entity: "document", ID: id, From: string(from), To: string(to)}
	}
	return nil
}

func (t *Tracker) followUp(actor string) *domain.FollowUp {
	tmpl, ok := t.cfg.FollowUps[actor]
	if !ok {
		tmpl = t.cfg.Generic
	}
	return &domain.FollowUp{
		Message:     tmpl.Message,
		NextAction:  tmpl.NextAction,
		GeneratedAt: t.now().UTC().Format(time.RFC3339Nano),
	}
}

// scheduleAck arms the deferred acknowledgment. Caller holds t.mu.
func (t *Tracker) scheduleAck(id string) {
	if t.closed {
		return
	}
	t.pending[id] = t.schedule(t.cfg.AckDelay, func() { t.acknowledge(id) })
}

// nextAfterDecision maps a decision to the status the deferred step moves
// it to.
var nextAfterDecision = map[domain.DocumentStatus]domain.DocumentStatus{
	domain.DocumentSigned:   domain.DocumentAcknowledged,
	domain.DocumentRejected: domain.DocumentAgentNotified,
}

// acknowledge advances the document's current decision (signed becomes
// acknowledged, rejected becomes agent_notified) and, with probability
// AckProbability, records the actor's acknowledgment. The status moves
// whether or not the actor acknowledged.
func (t *Tracker) acknowledge(id string) {
	ctx := context.Background()
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, id)
	doc, err := t.store.GetDocument(ctx, id)
	if err != nil {
		t.log.Debug("deferred acknowledgment skipped", "document_id", id, "error", err)
		return
	}
	next, ok := nextAfterDecision[doc.Status]
	if !ok {
		t.log.Debug("deferred acknowledgment skipped; already advanced", "document_id", id, "status", doc.Status)
		return
	}
	doc.Status = next
	if t.rand() < t.cfg.AckProbability {
		doc.ActorAcknowledged = true
	}
	if err := t.store.UpdateDocument(ctx, doc); err != nil {
		t.log.Error("deferred acknowledgment failed", "document_id", id, "error", err)
		return
	}
	observability.RecordDocumentTransition(string(doc.Status))
	observability.RecordFollowUp(fmt.Sprint(doc.ActorAcknowledged))
	t.record(ctx, "document.follow_up_delivered", id, events.EventPayload{"status": doc.Status, "actor_acknowledged": doc.ActorAcknowledged})
}

// MarkAcknowledged records an explicit acknowledgment from the actor. Only
// the flag changes; the status is left alone.
func (t *Tracker) MarkAcknowledged(ctx context.Context, id string) (domain.Document, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	doc, err := t.store.GetDocument(ctx, id)
	if err != nil {
		return domain.Document{}, err
	}
	if doc.ActorAcknowledged {
		return doc, nil
	}
	doc.ActorAcknowledged = true
	if err := t.store.UpdateDocument(ctx, doc); err != nil {
		return domain.Document{}, fmt.Errorf("update document: %w", err)
	}
	t.record(ctx, "document.acknowledged", id, events.EventPayload{"status": doc.Status})
	return doc, nil
}

func (t *Tracker) Get(ctx context.Context, id string) (domain.Document, error) {
	return t.store.GetDocument(ctx, id)
}

// GetQueue returns every document, most recent first.
func (t *Tracker) GetQueue(ctx context.Context) ([]domain.Document, error) {
	return t.store.ListDocuments(ctx)
}

func (t *Tracker) GetByStatus(ctx context.Context, status domain.DocumentStatus) ([]domain.Document, error) {
	return t.filter(ctx, func(d domain.Document) bool { return d.Status == status })
}

func (t *Tracker) GetByDepartment(ctx context.Context, department string) ([]domain.Document, error) {
	return t.filter(ctx, func(d domain.Document) bool { return strings.EqualFold(d.Department, department) })
}

func (t *Tracker) filter(ctx context.Context, keep func(domain.Document) bool) ([]domain.Document, error) {
	all, err := t.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	res := []domain.Document{}
	for _, d := range all {
		if keep(d) {
			res = append(res, d)
		}
	}
	return res, nil
}

// Close cancels outstanding deferred acknowledgments.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for id, stop := range t.pending {
		stop()
		delete(t.pending, id)
	}
}

func (t *Tracker) record(ctx context.Context, evtType, id string, payload events.EventPayload) {
	if err := t.events.Record(ctx, evtType, "document", id, "", payload); err != nil {
		t.log.Warn("record event failed", "type", evtType, "document_id", id, "error", err)
	}
}
