package domain

// Category classifies an entity for stage compatibility checks.
type Category string

const (
	CategoryExecutor      Category = "executor"
	CategoryCoordinator   Category = "coordinator"
	CategoryObserver      Category = "observer"
	CategoryTriggerSource Category = "trigger_source"
	CategoryPartner       Category = "partner"
)

// Categories lists every known category in declaration order.
var Categories = []Category{CategoryExecutor, CategoryCoordinator, CategoryObserver, CategoryTriggerSource, CategoryPartner}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// StageKind is the kind of work a workflow stage performs.
type StageKind string

const (
	StageExecution    StageKind = "execution"
	StageObservation  StageKind = "observation"
	StageTrigger      StageKind = "trigger"
	StageCoordination StageKind = "coordination"
	StageApproval     StageKind = "approval"
)

var StageKinds = []StageKind{StageExecution, StageObservation, StageTrigger, StageCoordination, StageApproval}

// ParseStageKind resolves a raw stage kind or returns a ConfigurationError.
func ParseStageKind(raw string) (StageKind, error) {
	for _, k := range StageKinds {
		if string(k) == raw {
			return k, nil
		}
	}
	return "", &ConfigurationError{Field: "stage_kind", Value: raw, Reason: "unknown stage kind"}
}

type Entity struct {
	ID           string   `json:"id" yaml:"id"`
	DisplayName  string   `json:"display_name" yaml:"display_name"`
	Category     Category `json:"category" yaml:"category" enum:"executor,coordinator,observer,trigger_source,partner"`
	IsActive     bool     `json:"is_active" yaml:"active"`
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities"`
}

// HasCapability reports whether the entity declares capability c.
func (e Entity) HasCapability(c string) bool {
	for _, have := range e.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// StageBinding is a designer-side stage definition bound to an entity.
type StageBinding struct {
	ID                   string   `json:"id" yaml:"id"`
	Name                 string   `json:"name,omitempty" yaml:"name"`
	Kind                 string   `json:"kind" yaml:"kind" enum:"execution,observation,trigger,coordination,approval"`
	EntityID             string   `json:"entity_id" yaml:"entity_id"`
	RequiredCapabilities []string `json:"required_capabilities,omitempty" yaml:"required_capabilities"`
}

type ValidationReport struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

type Condition struct {
	Metric     string `json:"metric" yaml:"metric"`
	Comparator string `json:"comparator" yaml:"comparator" enum:">,<,>=,<=,=,!="`
	Value      any    `json:"value" yaml:"value"`
}

type RoutingRule struct {
	ID           string      `json:"id" yaml:"id"`
	Name         string      `json:"name" yaml:"name"`
	IsActive     bool        `json:"is_active" yaml:"active"`
	TriggerActor string      `json:"trigger_actor" yaml:"trigger_actor"`
	TriggerEvent string      `json:"trigger_event" yaml:"trigger_event"`
	Conditions   []Condition `json:"conditions" yaml:"conditions"`
	TargetAgent  string      `json:"target_agent" yaml:"target_agent"`
	ActionType   string      `json:"action_type" yaml:"action_type"`
}

type StepType string

const (
	StepRuleEvaluation  StepType = "rule_evaluation"
	StepAgentAssignment StepType = "agent_assignment"
	StepFallback        StepType = "fallback"
	StepError           StepType = "error"
)

type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepFailure StepStatus = "failure"
)

type SimulationStep struct {
	Type       StepType   `json:"type"`
	Status     StepStatus `json:"status"`
	RuleID     string     `json:"rule_id,omitempty"`
	Agent      string     `json:"agent,omitempty"`
	Reasoning  string     `json:"reasoning"`
	Timestamp  string     `json:"timestamp" format:"date-time"`
	DurationMS int64      `json:"duration_ms"`
}

type SimulationResult struct {
	ID              string           `json:"id"`
	TriggerActor    string           `json:"trigger_actor"`
	TriggerEvent    string           `json:"trigger_event"`
	Steps           []SimulationStep `json:"steps"`
	TargetAgent     string           `json:"target_agent"`
	ActionType      string           `json:"action_type"`
	MatchedRuleID   string           `json:"matched_rule_id,omitempty"`
	FallbackUsed    bool             `json:"fallback_used"`
	TotalDurationMS int64            `json:"total_duration_ms"`
	CompletedAt     string           `json:"completed_at" format:"date-time"`
}

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// RequestStatus values name the pipeline position of a request.
type RequestStatus string

const (
	RequestPending      RequestStatus = "pending"
	RequestIntakeReview RequestStatus = "bob_review"
	RequestEvaluation   RequestStatus = "ada_evaluation"
	RequestPlanning     RequestStatus = "max_prompt"
	RequestAwaitingGate RequestStatus = "ceo_approval"
	RequestApproved     RequestStatus = "approved"
	RequestRejected     RequestStatus = "rejected"
)

func (s RequestStatus) Terminal() bool {
	return s == RequestApproved || s == RequestRejected
}

type Request struct {
	ID            string        `json:"id"`
	Title         string        `json:"title"`
	Description   string        `json:"description,omitempty"`
	RequestedBy   string        `json:"requested_by"`
	Priority      Priority      `json:"priority" enum:"low,medium,high,critical"`
	EstimatedCost float64       `json:"estimated_cost"`
	Justification string        `json:"justification,omitempty"`
	Requirements  []string      `json:"requirements,omitempty"`
	Risks         []string      `json:"risks,omitempty"`
	Status        RequestStatus `json:"status"`
	SubmittedAt   string        `json:"submitted_at" format:"date-time"`
}

type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageInProgress StageStatus = "in_progress"
	StageCompleted  StageStatus = "completed"
	StageFailed     StageStatus = "failed"
)

// StageResult is the structured output of a stage processor.
type StageResult struct {
	Recommendation string         `json:"recommendation"`
	Summary        string         `json:"summary,omitempty"`
	Score          float64        `json:"score,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
}

// Proceeds reports whether the recommendation lets the pipeline advance.
func (r StageResult) Proceeds() bool {
	return r.Recommendation == "proceed" || r.Recommendation == "approve"
}

type StageRecord struct {
	Role        string       `json:"role"`
	Status      StageStatus  `json:"status" enum:"pending,in_progress,completed,failed"`
	Result      *StageResult `json:"result,omitempty"`
	StartedAt   string       `json:"started_at,omitempty" format:"date-time"`
	CompletedAt string       `json:"completed_at,omitempty" format:"date-time"`
	Notes       string       `json:"notes,omitempty"`
}

type Workflow struct {
	ID                string        `json:"id"`
	Request           Request       `json:"request"`
	Stages            []StageRecord `json:"stages"`
	CurrentStageIndex int           `json:"current_stage_index"`
	CreatedAt         string        `json:"created_at" format:"date-time"`
	UpdatedAt         string        `json:"updated_at" format:"date-time"`
}

// Clone returns a deep copy so callers never share stage slices with the store.
func (w Workflow) Clone() Workflow {
	out := w
	out.Request.Requirements = append([]string(nil), w.Request.Requirements...)
	out.Request.Risks = append([]string(nil), w.Request.Risks...)
	out.Stages = make([]StageRecord, len(w.Stages))
	for i, s := range w.Stages {
		out.Stages[i] = s
		if s.Result != nil {
			r := *s.Result
			r.Details = cloneDetails(s.Result.Details)
			out.Stages[i].Result = &r
		}
	}
	return out
}

func cloneDetails(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneDetails(t)
	case []any:
		c := make([]any, len(t))
		for i, e := range t {
			c[i] = cloneValue(e)
		}
		return c
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

type DocumentStatus string

const (
	DocumentPending       DocumentStatus = "pending"
	DocumentSigned        DocumentStatus = "signed"
	DocumentRejected      DocumentStatus = "rejected"
	DocumentAcknowledged  DocumentStatus = "acknowledged"
	DocumentAgentNotified DocumentStatus = "agent_notified"
)

func (s DocumentStatus) Valid() bool {
	switch s {
	case DocumentPending, DocumentSigned, DocumentRejected, DocumentAcknowledged, DocumentAgentNotified:
		return true
	}
	return false
}

type FollowUp struct {
	Message     string `json:"message"`
	NextAction  string `json:"next_action"`
	GeneratedAt string `json:"generated_at" format:"date-time"`
}

type Document struct {
	ID                string         `json:"id"`
	DocumentType      string         `json:"document_type"`
	Project           string         `json:"project"`
	GeneratingActor   string         `json:"generating_actor"`
	Department        string         `json:"department"`
	Status            DocumentStatus `json:"status" enum:"pending,signed,rejected,acknowledged,agent_notified"`
	CreatedAt         string         `json:"created_at" format:"date-time"`
	FollowUpTriggered bool           `json:"follow_up_triggered"`
	ActorAcknowledged bool           `json:"actor_acknowledged"`
	FollowUp          *FollowUp      `json:"follow_up,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
