// Package routing decides which actor owns a piece of work, first by
// configured rules and then by an ordered heuristic fallback.
package routing

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stagegate/internal/config"
	"stagegate/internal/domain"
	"stagegate/internal/observability"
)

// Metrics is the bag of observed values rules and heuristics inspect.
type Metrics map[string]any

// Engine evaluates routing rules. It holds no mutable state; Route may be
// called concurrently.
type Engine struct {
	Heuristics []config.Heuristic
	Durations  config.StepDurations
	Log        observability.Logger
	Now        func() time.Time
	NewID      func() string
}

// New builds an Engine from the routing section of cfg.
func New(cfg *config.Config, log observability.Logger) Engine {
	if log == nil {
		log = observability.NopLogger()
	}
	return Engine{
		Heuristics: cfg.Routing.Heuristics,
		Durations:  cfg.Routing.StepDurations,
		Log:        log,
		Now:        time.Now,
		NewID:      func() string { return uuid.NewString() },
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) logger() observability.Logger {
	if e.Log == nil {
		return observability.NopLogger()
	}
	return e.Log
}

// Route evaluates rules for one trigger. It never fails: an unmatched
// trigger is resolved by the heuristic fallback.
func (e Engine) Route(ctx context.Context, rules []domain.RoutingRule, triggerActor, triggerEvent string, metrics Metrics, ruleIDHint string) domain.SimulationResult {
	_, span := observability.Tracer().Start(ctx, "routing.Route")
	defer span.End()
	span.SetAttributes(
		attribute.String("routing.trigger_actor", triggerActor),
		attribute.String("routing.trigger_event", triggerEvent),
	)

	start := e.now()
	res := domain.SimulationResult{
		ID:           e.newID(),
		TriggerActor: triggerActor,
		TriggerEvent: triggerEvent,
		Steps:        []domain.SimulationStep{},
	}

	var candidates []domain.RoutingRule
	for _, r := range rules {
		if !r.IsActive || r.TriggerActor != triggerActor || r.TriggerEvent != triggerEvent {
			continue
		}
		if ruleIDHint != "" && r.ID != ruleIDHint {
			continue
		}
		candidates = append(candidates, r)
	}

	for _, r := range candidates {
		failed, cfgErrs := evaluate(r.Conditions, metrics)
		for _, cerr := range cfgErrs {
			span.RecordError(cerr)
			res.Steps = append(res.Steps, e.step(domain.StepError, domain.StepFailure, r.ID, "", cerr.Error(), e.Durations.Error))
		}
		if len(failed) > 0 || len(cfgErrs) > 0 {
			reason := "conditions not met: " + strings.Join(failed, ", ")
			if len(failed) == 0 {
				reason = "rule has invalid conditions"
			}
			res.Steps = append(res.Steps, e.step(domain.StepRuleEvaluation, domain.StepFailure, r.ID, "", reason, e.Durations.Evaluation))
			continue
		}
		res.Steps = append(res.Steps,
			e.step(domain.StepRuleEvaluation, domain.StepSuccess, r.ID, "", fmt.Sprintf("all %d conditions of rule %q matched", len(r.Conditions), r.Name), e.Durations.Evaluation),
			e.step(domain.StepAgentAssignment, domain.StepSuccess, r.ID, r.TargetAgent, fmt.Sprintf("assigned %s to %s", r.ActionType, r.TargetAgent), e.Durations.Assignment),
		)
		res.TargetAgent = r.TargetAgent
		res.ActionType = r.ActionType
		res.MatchedRuleID = r.ID
		return e.finish(span, res, start)
	}

	h := e.fallback(triggerEvent, metrics)
	reason := "no active rule for trigger; heuristic " + h.Name
	if len(candidates) > 0 {
		reason = fmt.Sprintf("%d candidate rules failed; heuristic %s", len(candidates), h.Name)
	}
	res.Steps = append(res.Steps, e.step(domain.StepFallback, domain.StepSuccess, "", h.Target, reason, e.Durations.Fallback))
	res.TargetAgent = h.Target
	res.ActionType = h.Action
	res.FallbackUsed = true
	return e.finish(span, res, start)
}

func (e Engine) finish(span trace.Span, res domain.SimulationResult, start time.Time) domain.SimulationResult {
	end := e.now()
	elapsed := end.Sub(start)
	res.TotalDurationMS = elapsed.Milliseconds()
	res.CompletedAt = end.UTC().Format(time.RFC3339Nano)
	span.SetAttributes(
		attribute.String("routing.target", res.TargetAgent),
		attribute.Bool("routing.fallback", res.FallbackUsed),
	)
	span.SetStatus(codes.Ok, "")
	observability.RecordRoute(res.FallbackUsed, res.TargetAgent, elapsed)
	e.logger().Debug("route decided",
		"result_id", res.ID,
		"trigger_actor", res.TriggerActor,
		"trigger_event", res.TriggerEvent,
		"target", res.TargetAgent,
		"rule_id", res.MatchedRuleID,
		"fallback", res.FallbackUsed,
	)
	return res
}

func (e Engine) step(typ domain.StepType, status domain.StepStatus, ruleID, agent, reasoning string, d time.Duration) domain.SimulationStep {
	return domain.SimulationStep{
		Type:       typ,
		Status:     status,
		RuleID:     ruleID,
		Agent:      agent,
		Reasoning:  reasoning,
		Timestamp:  e.now().UTC().Format(time.RFC3339Nano),
		DurationMS: d.Milliseconds(),
	}
}

// Decide runs only the heuristic fallback.
func (e Engine) Decide(triggerEvent string, metrics Metrics) config.Heuristic {
	return e.fallback(triggerEvent, metrics)
}

func (e Engine) fallback(triggerEvent string, metrics Metrics) config.Heuristic {
	for _, h := range e.Heuristics {
		if matches(h, triggerEvent, metrics) {
			return h
		}
	}
	// Validate guarantees a trailing default; this covers a hand-built Engine.
	return config.Heuristic{Name: "default", Default: true, Target: "coordinator", Action: "Coordination"}
}

func matches(h config.Heuristic, triggerEvent string, metrics Metrics) bool {
	switch {
	case h.Default:
		return true
	case h.Metric != "" && h.Above != nil:
		v, ok := metrics[h.Metric]
		if !ok {
			return false
		}
		f, ok := toFloat(v)
		return ok && f > *h.Above
	case len(h.EventContains) > 0:
		for _, kw := range h.EventContains {
			if strings.Contains(triggerEvent, kw) {
				return true
			}
		}
	}
	return false
}

// evaluate returns the failed condition expressions and any comparator
// configuration errors.
func evaluate(conds []domain.Condition, metrics Metrics) ([]string, []error) {
	var failed []string
	var cfgErrs []error
	for _, c := range conds {
		actual, present := metrics[c.Metric]
		ok, err := compare(actual, present, c.Comparator, c.Value)
		if err != nil {
			cfgErrs = append(cfgErrs, err)
			continue
		}
		if !ok {
			failed = append(failed, Expression(c))
		}
	}
	return failed, cfgErrs
}

// Expression renders a condition as "metric op value".
func Expression(c domain.Condition) string {
	return fmt.Sprintf("%s %s %v", c.Metric, c.Comparator, c.Value)
}

func compare(actual any, present bool, op string, expected any) (bool, error) {
	switch op {
	case ">", "<", ">=", "<=", "=", "!=":
	default:
		return false, &domain.ConfigurationError{Field: "comparator", Value: op, Reason: "unknown comparator"}
	}
	// An absent metric differs from every value and satisfies nothing else.
	if !present {
		return op == "!=", nil
	}
	a, aNum := toFloat(actual)
	b, bNum := toFloat(expected)
	if aNum && bNum {
		switch op {
		case ">":
			return a > b, nil
		case "<":
			return a < b, nil
		case ">=":
			return a >= b, nil
		case "<=":
			return a <= b, nil
		case "=":
			return a == b, nil
		default:
			return a != b, nil
		}
	}
	switch op {
	case "=":
		return fmt.Sprint(actual) == fmt.Sprint(expected), nil
	case "!=":
		return fmt.Sprint(actual) != fmt.Sprint(expected), nil
	}
	return false, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
