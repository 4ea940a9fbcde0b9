// Package pipeline runs requests through the ordered review stages and the
// executive approval gate.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"stagegate/internal/config"
	"stagegate/internal/domain"
	"stagegate/internal/events"
	"stagegate/internal/observability"
	"stagegate/internal/registry"
	"stagegate/internal/store"
)

// Stage keys used in config.pipeline.stages and DefaultProcessors.
const (
	StageIntake     = "intake"
	StageEvaluation = "evaluation"
	StagePlanning   = "planning"
	StageGate       = "gate"
)

type stageDef struct {
	key    string
	kind   domain.StageKind
	status domain.RequestStatus
}

var layout = []stageDef{
	{StageIntake, domain.StageExecution, domain.RequestIntakeReview},
	{StageEvaluation, domain.StageExecution, domain.RequestEvaluation},
	{StagePlanning, domain.StageCoordination, domain.RequestPlanning},
	{StageGate, domain.StageApproval, domain.RequestAwaitingGate},
}

const gateIndex = 3

// TimeoutNote is recorded on a gate rejected by the opt-in gate timeout.
const TimeoutNote = "approval timed out"

type Options struct {
	Config     config.Pipeline
	Registry   *registry.Registry
	Store      store.WorkflowStore
	Events     events.Recorder
	Processors map[string]Processor
	Log        observability.Logger
	Now        func() time.Time
	NewID      func() string
}

// Machine owns every workflow instance. Stages of one instance run
// sequentially on that instance's runner goroutine; all mutations of an
// instance hold its lock.
type Machine struct {
	cfg        config.Pipeline
	reg        *registry.Registry
	store      store.WorkflowStore
	events     events.Recorder
	processors map[string]Processor
	log        observability.Logger
	now        func() time.Time
	newID      func() string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	instances map[string]*instance
	closed    bool
}

type instance struct {
	mu   sync.Mutex
	idle chan struct{}
	gate *time.Timer
}

func idleInstance() *instance {
	inst := &instance{idle: make(chan struct{})}
	close(inst.idle)
	return inst
}

func New(opts Options) (*Machine, error) {
	if opts.Store == nil {
		return nil, errors.New("pipeline: store is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("pipeline: registry is required")
	}
	for _, def := range layout {
		if opts.Config.Stages[def.key] == "" {
			return nil, &domain.ConfigurationError{Field: "pipeline.stages." + def.key, Reason: "no entity configured"}
		}
	}
	procs := DefaultProcessors(opts.Config.EvaluationThreshold)
	for k, p := range opts.Processors {
		procs[k] = p
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
	ctx, cancel := context.WithCancel(context.Background())
	return &Machine{
		cfg:        opts.Config,
		reg:        opts.Registry,
		store:      opts.Store,
		events:     opts.Events,
		processors: procs,
		log:        opts.Log.With("component", "pipeline"),
		now:        opts.Now,
		newID:      opts.NewID,
		ctx:        ctx,
		cancel:     cancel,
		instances:  map[string]*instance{},
	}, nil
}

func (m *Machine) timestamp() string {
	return m.now().UTC().Format(time.RFC3339Nano)
}

// Initiate validates and stores a new request with four pending stages and
// starts its runner. The workflow id equals the request id.
func (m *Machine) Initiate(ctx context.Context, req domain.Request, actorID string) (domain.Workflow, error) {
	if strings.TrimSpace(req.Title) == "" {
		return domain.Workflow{}, errors.New("title is required")
	}
	if strings.TrimSpace(req.RequestedBy) == "" {
		req.RequestedBy = actorID
	}
	if req.RequestedBy == "" {
		return domain.Workflow{}, errors.New("requested_by is required")
	}
	if req.Priority == "" {
		req.Priority = domain.PriorityMedium
	}
	if !req.Priority.Valid() {
		return domain.Workflow{}, fmt.Errorf("invalid priority %q", req.Priority)
	}
	if req.EstimatedCost < 0 {
		return domain.Workflow{}, errors.New("estimated_cost must not be negative")
	}

	stages := make([]domain.StageRecord, len(layout))
	for i, def := range layout {
		entity, err := m.reg.Bind(m.cfg.Stages[def.key], def.kind)
		if err != nil {
			return domain.Workflow{}, fmt.Errorf("bind %s stage: %w", def.key, err)
		}
		stages[i] = domain.StageRecord{Role: entity.ID, Status: domain.StagePending}
	}

	now := m.timestamp()
	if req.ID == "" {
		req.ID = m.newID()
	}
	req.Status = domain.RequestPending
	req.SubmittedAt = now
	wf := domain.Workflow{ID: req.ID, Request: req, Stages: stages, CreatedAt: now, UpdatedAt: now}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return domain.Workflow{}, errors.New("pipeline is shut down")
	}
	if _, exists := m.instances[wf.ID]; exists {
		m.mu.Unlock()
		return domain.Workflow{}, fmt.Errorf("workflow %s already exists", wf.ID)
	}
	if _, err := m.store.GetWorkflow(ctx, wf.ID); err == nil {
		m.mu.Unlock()
		return domain.Workflow{}, fmt.Errorf("workflow %s already exists", wf.ID)
	} else if !errors.Is(err, domain.ErrNotFound) {
		m.mu.Unlock()
		return domain.Workflow{}, fmt.Errorf("lookup workflow %s: %w", wf.ID, err)
	}
	inst := &instance{idle: make(chan struct{})}
	m.instances[wf.ID] = inst
	m.mu.Unlock()

	if err := m.store.SaveWorkflow(ctx, wf); err != nil {
		m.mu.Lock()
		delete(m.instances, wf.ID)
		m.mu.Unlock()
		return domain.Workflow{}, fmt.Errorf("save workflow: %w", err)
	}
	m.record(ctx, "workflow.initiated", wf.ID, actorID, events.EventPayload{
		"title": req.Title, "priority": req.Priority, "estimated_cost": req.EstimatedCost,
	})
	m.log.Info("workflow initiated", "workflow_id", wf.ID, "title", req.Title, "requested_by", req.RequestedBy)

	m.start(wf.ID, inst)
	return wf.Clone(), nil
}

func (m *Machine) start(id string, inst *instance) {
	m.wg.Add(1)
	go m.run(id, inst)
}

func (m *Machine) run(id string, inst *instance) {
	defer m.wg.Done()
	defer close(inst.idle)
	for {
		if m.ctx.Err() != nil {
			return
		}
		more, err := m.advance(id, inst)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				m.log.Error("stage run failed", "workflow_id", id, "error", err)
			}
			return
		}
		if !more {
			return
		}
	}
}

// advance runs the current stage and reports whether another non-gate stage
// follows.
func (m *Machine) advance(id string, inst *instance) (bool, error) {
	// store writes must land even when Shutdown cancels processing
	ctx := context.WithoutCancel(m.ctx)

	inst.mu.Lock()
	wf, err := m.store.GetWorkflow(ctx, id)
	if err != nil {
		inst.mu.Unlock()
		return false, err
	}
	idx := wf.CurrentStageIndex
	if wf.Request.Status.Terminal() || idx >= gateIndex {
		inst.mu.Unlock()
		return false, nil
	}
	def := layout[idx]
	wf.Stages[idx].Status = domain.StageInProgress
	wf.Stages[idx].StartedAt = m.timestamp()
	wf.Request.Status = def.status
	wf.UpdatedAt = wf.Stages[idx].StartedAt
	err = m.store.SaveWorkflow(ctx, wf)
	inst.mu.Unlock()
	if err != nil {
		return false, err
	}
	m.record(ctx, "workflow.stage_started", id, "", events.EventPayload{"stage": def.key, "role": wf.Stages[idx].Role})

	started := time.Now()
	result, procErr := m.process(m.ctx, def, wf)
	if errors.Is(procErr, context.Canceled) {
		return false, procErr
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	wf, err = m.store.GetWorkflow(ctx, id)
	if err != nil {
		return false, err
	}
	if wf.CurrentStageIndex != idx || wf.Request.Status.Terminal() {
		return false, nil
	}
	stage := &wf.Stages[idx]
	stage.CompletedAt = m.timestamp()
	wf.UpdatedAt = stage.CompletedAt

	switch {
	case procErr != nil:
		stage.Status = domain.StageFailed
		stage.Notes = procErr.Error()
		wf.Request.Status = domain.RequestRejected
	case !result.Proceeds():
		stage.Status = domain.StageCompleted
		stage.Result = &result
		wf.Request.Status = domain.RequestRejected
	default:
		stage.Status = domain.StageCompleted
		stage.Result = &result
		wf.CurrentStageIndex++
		if wf.CurrentStageIndex == gateIndex {
			wf.Request.Status = domain.RequestAwaitingGate
			wf.Stages[gateIndex].Status = domain.StageInProgress
			wf.Stages[gateIndex].StartedAt = stage.CompletedAt
		}
	}
	if err := m.store.SaveWorkflow(ctx, wf); err != nil {
		return false, err
	}
	observability.RecordStage(stage.Role, string(stage.Status), time.Since(started))

	switch {
	case procErr != nil:
		m.log.Warn("stage failed", "workflow_id", id, "stage", def.key, "error", procErr)
		m.record(ctx, "workflow.stage_failed", id, "", events.EventPayload{"stage": def.key, "error": procErr.Error()})
		m.finished(ctx, wf, "")
		return false, nil
	case wf.Request.Status == domain.RequestRejected:
		m.log.Info("stage rejected request", "workflow_id", id, "stage", def.key, "recommendation", result.Recommendation)
		m.record(ctx, "workflow.stage_completed", id, "", events.EventPayload{"stage": def.key, "recommendation": result.Recommendation, "score": result.Score})
		m.finished(ctx, wf, "")
		return false, nil
	}
	m.record(ctx, "workflow.stage_completed", id, "", events.EventPayload{"stage": def.key, "recommendation": result.Recommendation, "score": result.Score})
	if wf.CurrentStageIndex == gateIndex {
		observability.GateEntered()
		m.armGate(id, inst)
		m.record(ctx, "workflow.gate_reached", id, "", nil)
		m.log.Info("workflow awaiting approval", "workflow_id", id)
		return false, nil
	}
	return true, nil
}

// process waits the configured stage delay and runs the stage processor.
func (m *Machine) process(ctx context.Context, def stageDef, wf domain.Workflow) (domain.StageResult, error) {
	ctx, span := observability.Tracer().Start(ctx, "pipeline.stage")
	defer span.End()
	span.SetAttributes(
		attribute.String("workflow.id", wf.ID),
		attribute.String("stage.key", def.key),
	)
	if err := sleep(ctx, m.cfg.StageDelay); err != nil {
		return domain.StageResult{}, err
	}
	proc, ok := m.processors[def.key]
	if !ok {
		return domain.StageResult{}, fmt.Errorf("no processor for stage %s", def.key)
	}
	res, err := proc.Process(ctx, wf.Clone())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	span.SetAttributes(attribute.String("stage.recommendation", res.Recommendation))
	return res, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// armGate starts the opt-in gate timeout. Caller holds inst.mu.
func (m *Machine) armGate(id string, inst *instance) {
	if m.cfg.GateTimeout <= 0 {
		return
	}
	inst.gate = time.AfterFunc(m.cfg.GateTimeout, func() {
		_, err := m.Approve(context.Background(), id, false, TimeoutNote, "system")
		var invalid *domain.InvalidTransitionError
		if err != nil && !errors.As(err, &invalid) {
			m.log.Error("gate timeout rejection failed", "workflow_id", id, "error", err)
		}
	})
}

// Approve records the executive decision. It is only legal while the request
// is awaiting the gate; otherwise nothing changes.
func (m *Machine) Approve(ctx context.Context, id string, approved bool, notes, actorID string) (domain.Workflow, error) {
	inst, err := m.instanceFor(ctx, id)
	if err != nil {
		return domain.Workflow{}, err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()

	wf, err := m.store.GetWorkflow(ctx, id)
	if err != nil {
		return domain.Workflow{}, err
	}
	target := domain.RequestRejected
	if approved {
		target = domain.RequestApproved
	}
	if wf.Request.Status != domain.RequestAwaitingGate {
		return domain.Workflow{}, &domain.InvalidTransitionError{Entity: "workflow", ID: id, From: string(wf.Request.Status), To: string(target)}
	}

	now := m.timestamp()
	gate := &wf.Stages[gateIndex]
	if gate.StartedAt == "" {
		gate.StartedAt = now
	}
	gate.CompletedAt = now
	gate.Notes = notes
	if approved {
		gate.Status = domain.StageCompleted
		gate.Result = &domain.StageResult{Recommendation: "approve", Summary: notes}
	} else {
		gate.Status = domain.StageFailed
		gate.Result = &domain.StageResult{Recommendation: "reject", Summary: notes}
	}
	wf.Request.Status = target
	wf.UpdatedAt = now
	if err := m.store.SaveWorkflow(ctx, wf); err != nil {
		return domain.Workflow{}, fmt.Errorf("save workflow: %w", err)
	}
	if inst.gate != nil {
		inst.gate.Stop()
		inst.gate = nil
	}
	observability.GateLeft()
	m.finished(ctx, wf, actorID)
	return wf, nil
}

func (m *Machine) finished(ctx context.Context, wf domain.Workflow, actorID string) {
	observability.RecordWorkflowOutcome(string(wf.Request.Status))
	evt := "workflow.rejected"
	if wf.Request.Status == domain.RequestApproved {
		evt = "workflow.approved"
	}
	notes := ""
	if gate := wf.Stages[gateIndex]; gate.CompletedAt != "" {
		notes = gate.Notes
	}
	m.record(ctx, evt, wf.ID, actorID, events.EventPayload{"stage_index": wf.CurrentStageIndex, "notes": notes})
	m.log.Info("workflow finished", "workflow_id", wf.ID, "status", wf.Request.Status)
}

// instanceFor returns the live instance, creating an idle one for workflows
// that exist only in the store.
func (m *Machine) instanceFor(ctx context.Context, id string) (*instance, error) {
	m.mu.Lock()
	inst, ok := m.instances[id]
	m.mu.Unlock()
	if ok {
		return inst, nil
	}
	if _, err := m.store.GetWorkflow(ctx, id); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst, ok := m.instances[id]; ok {
		return inst, nil
	}
	inst = idleInstance()
	m.instances[id] = inst
	return inst, nil
}

func (m *Machine) GetWorkflow(ctx context.Context, id string) (domain.Workflow, error) {
	return m.store.GetWorkflow(ctx, id)
}

func (m *Machine) GetAllWorkflows(ctx context.Context) ([]domain.Workflow, error) {
	return m.store.ListWorkflows(ctx)
}

// GetPendingApprovals lists requests waiting at the gate.
func (m *Machine) GetPendingApprovals(ctx context.Context) ([]domain.Request, error) {
	all, err := m.store.ListWorkflows(ctx)
	if err != nil {
		return nil, err
	}
	res := []domain.Request{}
	for _, wf := range all {
		if wf.Request.Status == domain.RequestAwaitingGate {
			res = append(res, wf.Request)
		}
	}
	return res, nil
}

// Wait blocks until the runner of id is idle: the request reached the gate,
// a terminal status, or the machine was shut down.
func (m *Machine) Wait(ctx context.Context, id string) error {
	inst, err := m.instanceFor(ctx, id)
	if err != nil {
		return err
	}
	select {
	case <-inst.idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resume restarts runners for stored workflows that are mid-pipeline and
// re-arms gate timeouts. An interrupted stage runs again from the start.
func (m *Machine) Resume(ctx context.Context) (int, error) {
	all, err := m.store.ListWorkflows(ctx)
	if err != nil {
		return 0, err
	}
	resumed := 0
	for _, wf := range all {
		if wf.Request.Status.Terminal() {
			continue
		}
		m.mu.Lock()
		if _, live := m.instances[wf.ID]; live || m.closed {
			m.mu.Unlock()
			continue
		}
		var inst *instance
		if wf.CurrentStageIndex >= gateIndex {
			inst = idleInstance()
		} else {
			inst = &instance{idle: make(chan struct{})}
		}
		m.instances[wf.ID] = inst
		m.mu.Unlock()

		if wf.CurrentStageIndex >= gateIndex {
			inst.mu.Lock()
			observability.GateEntered()
			m.armGate(wf.ID, inst)
			inst.mu.Unlock()
		} else {
			m.start(wf.ID, inst)
		}
		resumed++
	}
	if resumed > 0 {
		m.log.Info("resumed workflows", "count", resumed)
	}
	return resumed, nil
}

// Shutdown stops runners and gate timers and waits for runners to exit. A
// stage interrupted mid-processing is left in_progress.
func (m *Machine) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	insts := make([]*instance, 0, len(m.instances))
	for _, inst := range m.instances {
		insts = append(insts, inst)
	}
	m.mu.Unlock()
	m.cancel()
	for _, inst := range insts {
		inst.mu.Lock()
		if inst.gate != nil {
			inst.gate.Stop()
			inst.gate = nil
		}
		inst.mu.Unlock()
	}
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Machine) record(ctx context.Context, evtType, id, actorID string, payload events.EventPayload) {
	if err := m.events.Record(ctx, evtType, "workflow", id, actorID, payload); err != nil {
		m.log.Warn("record event failed", "type", evtType, "workflow_id", id, "error", err)
	}
}
