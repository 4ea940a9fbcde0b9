package routing_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagegate/internal/config"
	"stagegate/internal/domain"
	"stagegate/internal/routing"
)

func newEngine(t *testing.T) routing.Engine {
	t.Helper()
	eng := routing.New(config.Default(), nil)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	eng.NewID = func() string { return "sim-1" }
	return eng
}

func rule(id string, conds ...domain.Condition) domain.RoutingRule {
	return domain.RoutingRule{
		ID: id, Name: id, IsActive: true,
		TriggerActor: "intake-analyst", TriggerEvent: "POC Submitted",
		Conditions:  conds,
		TargetAgent: "target-" + id, ActionType: "Action " + id,
	}
}

func TestRouteEmptyRulesFallsBackToBudget(t *testing.T) {
	res := newEngine(t).Route(context.Background(), nil, "Bob", "AnyEvent", routing.Metrics{"projectBudget": 60000}, "")
	assert.True(t, res.FallbackUsed)
	assert.Equal(t, "finance-reviewer", res.TargetAgent)
	assert.Equal(t, "Financial Review", res.ActionType)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, domain.StepFallback, res.Steps[0].Type)
	assert.Equal(t, "sim-1", res.ID)
}

func TestRouteFirstFullMatchShortCircuits(t *testing.T) {
	rules := []domain.RoutingRule{
		rule("a", domain.Condition{Metric: "estimatedCost", Comparator: ">", Value: 100000}),
		rule("b", domain.Condition{Metric: "estimatedCost", Comparator: ">=", Value: 30000}, domain.Condition{Metric: "team", Comparator: "=", Value: "core"}),
		rule("c"),
	}
	res := newEngine(t).Route(context.Background(), rules, "intake-analyst", "POC Submitted",
		routing.Metrics{"estimatedCost": 30000, "team": "core", "projectBudget": 99999999}, "")

	assert.False(t, res.FallbackUsed)
	assert.Equal(t, "b", res.MatchedRuleID)
	assert.Equal(t, "target-b", res.TargetAgent)
	require.Len(t, res.Steps, 3)
	assert.Equal(t, domain.StepRuleEvaluation, res.Steps[0].Type)
	assert.Equal(t, domain.StepFailure, res.Steps[0].Status)
	assert.Contains(t, res.Steps[0].Reasoning, "estimatedCost > 100000")
	assert.Equal(t, domain.StepSuccess, res.Steps[1].Status)
	assert.Equal(t, domain.StepAgentAssignment, res.Steps[2].Type)
	assert.Equal(t, "target-b", res.Steps[2].Agent)
}

func TestRouteSkipsInactiveAndHonoursHint(t *testing.T) {
	off := rule("off")
	off.IsActive = false
	rules := []domain.RoutingRule{off, rule("first"), rule("second")}
	eng := newEngine(t)

	res := eng.Route(context.Background(), rules, "intake-analyst", "POC Submitted", nil, "")
	assert.Equal(t, "first", res.MatchedRuleID)

	res = eng.Route(context.Background(), rules, "intake-analyst", "POC Submitted", nil, "second")
	assert.Equal(t, "second", res.MatchedRuleID)

	res = eng.Route(context.Background(), rules, "intake-analyst", "POC Submitted", nil, "off")
	assert.True(t, res.FallbackUsed)
	assert.Equal(t, "coordinator", res.TargetAgent)
}

func TestRouteAllCandidatesFailUsesHeuristic(t *testing.T) {
	rules := []domain.RoutingRule{
		rule("a", domain.Condition{Metric: "estimatedCost", Comparator: "<", Value: 10}),
		rule("b", domain.Condition{Metric: "missing", Comparator: "=", Value: 1}),
	}
	res := newEngine(t).Route(context.Background(), rules, "intake-analyst", "POC Submitted", routing.Metrics{"estimatedCost": 50}, "")
	assert.True(t, res.FallbackUsed)
	require.Len(t, res.Steps, 3)
	assert.Equal(t, domain.StepFallback, res.Steps[2].Type)
}

func TestRouteMissingMetricOnlySatisfiesNotEqual(t *testing.T) {
	eng := newEngine(t)
	for _, op := range []string{">", "<", ">=", "<=", "="} {
		rules := []domain.RoutingRule{rule("r", domain.Condition{Metric: "region", Comparator: op, Value: 1})}
		res := eng.Route(context.Background(), rules, "intake-analyst", "POC Submitted", routing.Metrics{}, "")
		assert.True(t, res.FallbackUsed, op)
	}
	rules := []domain.RoutingRule{rule("r", domain.Condition{Metric: "region", Comparator: "!=", Value: "emea"})}
	res := eng.Route(context.Background(), rules, "intake-analyst", "POC Submitted", routing.Metrics{}, "")
	assert.False(t, res.FallbackUsed)
	assert.Equal(t, "r", res.MatchedRuleID)
}

func TestRouteUnknownComparatorRecordsErrorStep(t *testing.T) {
	rules := []domain.RoutingRule{rule("bad", domain.Condition{Metric: "x", Comparator: "~", Value: 1})}
	res := newEngine(t).Route(context.Background(), rules, "intake-analyst", "POC Submitted", routing.Metrics{"x": 1}, "")
	require.True(t, res.FallbackUsed)
	require.Len(t, res.Steps, 3)
	assert.Equal(t, domain.StepError, res.Steps[0].Type)
	assert.Contains(t, res.Steps[0].Reasoning, "unknown comparator")
	assert.Equal(t, domain.StepFailure, res.Steps[1].Status)
}

func TestHeuristicPrecedence(t *testing.T) {
	eng := newEngine(t)
	cases := []struct {
		event   string
		metrics routing.Metrics
		target  string
		action  string
	}{
		{"Legal Plan", routing.Metrics{"projectBudget": 50001, "tokenUsage": 20000}, "finance-reviewer", "Financial Review"},
		{"Legal Plan", routing.Metrics{"projectBudget": 50000, "tokenUsage": 20000}, "oversight", "Usage Review"},
		{"Contract Plan", nil, "legal", "Legal Review"},
		{"Strategic Prompt", nil, "strategy", "Strategic Analysis"},
		{"Prompt Update", nil, "engineering", "Technical Review"},
		{"Something else", routing.Metrics{"projectBudget": "lots"}, "coordinator", "Coordination"},
	}
	for _, tc := range cases {
		h := eng.Decide(tc.event, tc.metrics)
		assert.Equal(t, tc.target, h.Target, tc.event)
		assert.Equal(t, tc.action, h.Action, tc.event)
	}
}

func TestComparatorCoercion(t *testing.T) {
	eng := newEngine(t)
	match := func(metric any, op string, value any) bool {
		r := rule("r", domain.Condition{Metric: "m", Comparator: op, Value: value})
		return !eng.Route(context.Background(), []domain.RoutingRule{r}, "intake-analyst", "POC Submitted", routing.Metrics{"m": metric}, "").FallbackUsed
	}
	assert.True(t, match(json.Number("25001"), ">", 25000))
	assert.True(t, match("42", "=", 42))
	assert.True(t, match(3, "<=", 3.0))
	assert.True(t, match("blue", "!=", "green"))
	assert.False(t, match("blue", ">", "green"))
	assert.True(t, match(true, "=", true))
}
