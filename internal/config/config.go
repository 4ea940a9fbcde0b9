package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"stagegate/internal/domain"
)

// Config models stagegate.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Storage struct {
		Driver    string `yaml:"driver"`
		Workspace string `yaml:"workspace"`
	} `yaml:"storage"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
	Tracing struct {
		Enabled     bool   `yaml:"enabled"`
		ServiceName string `yaml:"service_name"`
	} `yaml:"tracing"`
	Auth struct {
		AllowLegacyActorHeader bool `yaml:"allow_legacy_actor_header"`
	} `yaml:"auth"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
	Entities []domain.Entity `yaml:"entities"`
	Routing  struct {
		Rules         []domain.RoutingRule `yaml:"rules"`
		Heuristics    []Heuristic          `yaml:"heuristics"`
		StepDurations StepDurations        `yaml:"step_durations"`
	} `yaml:"routing"`
	Pipeline  Pipeline        `yaml:"pipeline"`
	Documents Documents       `yaml:"documents"`
	Webhooks  []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig posts matching audit events to URL. Empty Events means all.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// Heuristic is one ordered fallback entry. Exactly one of Metric/Above,
// EventContains or Default selects the predicate.
type Heuristic struct {
	Name          string   `yaml:"name"`
	Metric        string   `yaml:"metric,omitempty"`
	Above         *float64 `yaml:"above,omitempty"`
	EventContains []string `yaml:"event_contains,omitempty"`
	Default       bool     `yaml:"default,omitempty"`
	Target        string   `yaml:"target"`
	Action        string   `yaml:"action"`
}

type StepDurations struct {
	Evaluation time.Duration `yaml:"evaluation"`
	Assignment time.Duration `yaml:"assignment"`
	Fallback   time.Duration `yaml:"fallback"`
	Error      time.Duration `yaml:"error"`
}

type Pipeline struct {
	StageDelay          time.Duration     `yaml:"stage_delay"`
	GateTimeout         time.Duration     `yaml:"gate_timeout"`
	EvaluationThreshold float64           `yaml:"evaluation_threshold"`
	Stages              map[string]string `yaml:"stages"`
}

type Documents struct {
	Capacity       int                 `yaml:"capacity"`
	AckDelay       time.Duration       `yaml:"ack_delay"`
	AckProbability float64             `yaml:"ack_probability"`
	FollowUps      map[string]FollowUp `yaml:"follow_ups"`
	Generic        FollowUp            `yaml:"generic_follow_up"`
}

type FollowUp struct {
	Message    string `yaml:"message"`
	NextAction string `yaml:"next_action"`
}

var comparators = map[string]bool{">": true, "<": true, ">=": true, "<=": true, "=": true, "!=": true}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("config.storage.driver must be 'memory' or 'sqlite'")
	}
	seen := map[string]bool{}
	for _, e := range c.Entities {
		if e.ID == "" {
			return fmt.Errorf("config.entities contains empty id")
		}
		if seen[e.ID] {
			return fmt.Errorf("config.entities has duplicate id %s", e.ID)
		}
		seen[e.ID] = true
		if !e.Category.Valid() {
			return fmt.Errorf("entity %s has unknown category %s", e.ID, e.Category)
		}
	}
	for _, r := range c.Routing.Rules {
		if r.ID == "" {
			return fmt.Errorf("config.routing.rules contains empty id")
		}
		if r.TargetAgent == "" || r.ActionType == "" {
			return fmt.Errorf("rule %s requires target_agent and action_type", r.ID)
		}
		for _, cond := range r.Conditions {
			if cond.Metric == "" {
				return fmt.Errorf("rule %s has condition without metric", r.ID)
			}
			if !comparators[cond.Comparator] {
				return &domain.ConfigurationError{Field: "rule " + r.ID + " comparator", Value: cond.Comparator, Reason: "unknown comparator"}
			}
		}
	}
	if len(c.Routing.Heuristics) == 0 {
		return fmt.Errorf("config.routing.heuristics is required")
	}
	for i, h := range c.Routing.Heuristics {
		if err := h.validate(); err != nil {
			return fmt.Errorf("heuristic %d (%s): %w", i, h.Name, err)
		}
	}
	if !c.Routing.Heuristics[len(c.Routing.Heuristics)-1].Default {
		return fmt.Errorf("last routing heuristic must be the default entry")
	}
	if c.Pipeline.EvaluationThreshold < 0 || c.Pipeline.EvaluationThreshold > 1 {
		return fmt.Errorf("config.pipeline.evaluation_threshold must be within [0,1]")
	}
	if c.Pipeline.GateTimeout < 0 || c.Pipeline.StageDelay < 0 {
		return fmt.Errorf("config.pipeline durations must not be negative")
	}
	for role, entityID := range c.Pipeline.Stages {
		if len(c.Entities) > 0 && !seen[entityID] {
			return fmt.Errorf("pipeline stage %s references unknown entity %s", role, entityID)
		}
	}
	if c.Documents.Capacity <= 0 {
		return fmt.Errorf("config.documents.capacity must be positive")
	}
	if c.Documents.AckProbability < 0 || c.Documents.AckProbability > 1 {
		return fmt.Errorf("config.documents.ack_probability must be within [0,1]")
	}
	for i, hook := range c.Webhooks {
		u, err := url.Parse(hook.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("webhooks[%d].url must be an absolute http(s) url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	if len(c.RBAC.Roles) > 0 {
		if _, ok := c.RBAC.Roles["admin"]; !ok {
			return fmt.Errorf("config.rbac.roles must include admin")
		}
		for roleID, role := range c.RBAC.Roles {
			for _, perm := range role.Permissions {
				if perm == "" {
					return fmt.Errorf("role %s has empty permission id", roleID)
				}
			}
		}
	}
	return nil
}

func (h Heuristic) validate() error {
	predicates := 0
	if h.Metric != "" || h.Above != nil {
		if h.Metric == "" || h.Above == nil {
			return fmt.Errorf("metric and above must be set together")
		}
		predicates++
	}
	if len(h.EventContains) > 0 {
		predicates++
	}
	if h.Default {
		predicates++
	}
	if predicates != 1 {
		return fmt.Errorf("exactly one of metric/above, event_contains or default is required")
	}
	if h.Target == "" || h.Action == "" {
		return fmt.Errorf("target and action are required")
	}
	return nil
}

// Permissions resolves role ids to the union of their permissions.
func (c *Config) Permissions(roles []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, r := range roles {
		for _, p := range c.RBAC.Roles[r].Permissions {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "stagegate.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with sg config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional falls back to the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := FromYAML([]byte(DefaultYAML))
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// FromYAML parses and validates config from raw YAML bytes. Scalars and maps
// missing from data keep their default values; lists replace the defaults.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(DefaultYAML), &cfg); err != nil {
		return nil, fmt.Errorf("invalid default config yaml: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const DefaultYAML = `server:
  addr: 127.0.0.1:8080
  base_path: /v1

storage:
  driver: memory
  workspace: .

logging:
  level: info
  format: console

tracing:
  enabled: false
  service_name: stagegate

auth:
  allow_legacy_actor_header: false

rbac:
  roles:
    admin:
      description: "Full access"
      permissions: [workflow.submit, workflow.approve, document.write, entity.write, routing.simulate]
    executive:
      description: "Human approval gate"
      permissions: [workflow.approve]
    requester:
      description: "Submits requests and manages documents"
      permissions: [workflow.submit, document.write, routing.simulate]

entities:
  - {id: intake-analyst, display_name: Bob, category: executor, active: true, capabilities: [task_execution, analysis, intake]}
  - {id: evaluator, display_name: Ada, category: executor, active: true, capabilities: [task_execution, analysis, evaluation]}
  - {id: planner, display_name: Max, category: coordinator, active: true, capabilities: [coordination, delegation, planning, prompt_engineering]}
  - {id: executive-gate, display_name: CEO, category: executor, active: true, capabilities: [decision_making, review]}
  - {id: finance-reviewer, display_name: Finance Reviewer, category: executor, active: true, capabilities: [analysis, review, finance]}
  - {id: oversight, display_name: Oversight, category: observer, active: true, capabilities: [monitoring, reporting, usage]}
  - {id: legal, display_name: Legal, category: partner, active: true, capabilities: [review, legal]}
  - {id: strategy, display_name: Strategy, category: coordinator, active: true, capabilities: [coordination, planning, strategy]}
  - {id: engineering, display_name: Engineering, category: executor, active: true, capabilities: [task_execution, analysis, engineering]}
  - {id: coordinator, display_name: Coordinator, category: coordinator, active: true, capabilities: [coordination, delegation]}
  - {id: event-gateway, display_name: Event Gateway, category: trigger_source, active: true, capabilities: [event_detection]}

routing:
  rules:
    - id: high-cost-poc
      name: High cost POC goes to finance
      active: true
      trigger_actor: intake-analyst
      trigger_event: POC Submitted
      conditions:
        - {metric: estimatedCost, comparator: ">", value: 25000}
      target_agent: finance-reviewer
      action_type: Budget Review
  heuristics:
    - {name: budget, metric: projectBudget, above: 50000, target: finance-reviewer, action: Financial Review}
    - {name: usage, metric: tokenUsage, above: 10000, target: oversight, action: Usage Review}
    - {name: legal, event_contains: [Legal, Contract], target: legal, action: Legal Review}
    - {name: strategy, event_contains: [Strategic, Plan], target: strategy, action: Strategic Analysis}
    - {name: technical, event_contains: [Technical, Prompt], target: engineering, action: Technical Review}
    - {name: default, default: true, target: coordinator, action: Coordination}
  step_durations:
    evaluation: 120ms
    assignment: 80ms
    fallback: 200ms
    error: 10ms

pipeline:
  stage_delay: 250ms
  gate_timeout: 0s
  evaluation_threshold: 0.5
  stages:
    intake: intake-analyst
    evaluation: evaluator
    planning: planner
    gate: executive-gate

documents:
  capacity: 30
  ack_delay: 3s
  ack_probability: 0.7
  follow_ups:
    intake-analyst:
      message: "Thanks for the decision. I'll update the intake record and notify the requester."
      next_action: Update Intake Record
    evaluator:
      message: "Decision received. I'll fold it into the evaluation history for future scoring."
      next_action: Record Evaluation Outcome
    planner:
      message: "Got it. I'll adjust the execution plan and prompts accordingly."
      next_action: Revise Execution Plan
    finance-reviewer:
      message: "Decision noted. Budget allocations will be updated in the next cycle."
      next_action: Update Budget Ledger
    legal:
      message: "Acknowledged. I'll file the document and track any obligations."
      next_action: File Legal Record
    engineering:
      message: "Understood. Engineering will schedule the follow-up work."
      next_action: Schedule Implementation
    strategy:
      message: "Thanks. I'll reflect this in the strategic roadmap."
      next_action: Update Roadmap
  generic_follow_up:
    message: "Acknowledged. Thank you for your decision."
    next_action: Acknowledge
`
