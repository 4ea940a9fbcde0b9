package pipeline

import (
	"context"
	"fmt"
	"math"
	"strings"

	"stagegate/internal/domain"
)

// Processor produces the structured result of one non-gate stage. A returned
// error fails the stage and rejects the request.
type Processor interface {
	Process(ctx context.Context, wf domain.Workflow) (domain.StageResult, error)
}

type ProcessorFunc func(ctx context.Context, wf domain.Workflow) (domain.StageResult, error)

func (f ProcessorFunc) Process(ctx context.Context, wf domain.Workflow) (domain.StageResult, error) {
	return f(ctx, wf)
}

// DefaultProcessors returns the built-in processors keyed by stage
// (intake, evaluation, planning).
func DefaultProcessors(threshold float64) map[string]Processor {
	return map[string]Processor{
		StageIntake:     ProcessorFunc(intakeCheck),
		StageEvaluation: FeasibilityScorer{Threshold: threshold},
		StagePlanning:   ProcessorFunc(planExecution),
	}
}

// intakeCheck rejects requests missing the fields later stages rely on.
func intakeCheck(_ context.Context, wf domain.Workflow) (domain.StageResult, error) {
	req := wf.Request
	fields := map[string]bool{
		"title":         strings.TrimSpace(req.Title) != "",
		"description":   strings.TrimSpace(req.Description) != "",
		"justification": strings.TrimSpace(req.Justification) != "",
		"requirements":  len(req.Requirements) > 0,
	}
	var missing []string
	present := 0
	for _, name := range []string{"title", "description", "justification", "requirements"} {
		if fields[name] {
			present++
			continue
		}
		missing = append(missing, name)
	}
	score := float64(present) / float64(len(fields))
	res := domain.StageResult{
		Score:   score,
		Details: map[string]any{"completeness": score, "missing": missing},
	}
	if !fields["title"] || !fields["justification"] {
		res.Recommendation = "reject"
		res.Summary = "request is incomplete: missing " + strings.Join(missing, ", ")
		return res, nil
	}
	res.Recommendation = "proceed"
	res.Summary = fmt.Sprintf("intake complete (%d of %d fields)", present, len(fields))
	return res, nil
}

// FeasibilityScorer scores a request in [0,1] from priority, cost, risks and
// requirements, and proceeds when the score reaches Threshold.
type FeasibilityScorer struct {
	Threshold float64
}

func (s FeasibilityScorer) Process(_ context.Context, wf domain.Workflow) (domain.StageResult, error) {
	req := wf.Request
	if req.EstimatedCost < 0 {
		return domain.StageResult{}, fmt.Errorf("estimated cost %.2f is negative", req.EstimatedCost)
	}
	score := 0.7
	switch req.Priority {
	case domain.PriorityCritical:
		score += 0.15
	case domain.PriorityHigh:
		score += 0.1
	case domain.PriorityLow:
		score -= 0.05
	}
	switch {
	case req.EstimatedCost > 100000:
		score -= 0.35
	case req.EstimatedCost > 50000:
		score -= 0.2
	case req.EstimatedCost > 25000:
		score -= 0.1
	}
	score -= math.Min(0.3, 0.05*float64(len(req.Risks)))
	if len(req.Requirements) > 0 {
		score += 0.05
	}
	score = math.Round(math.Max(0, math.Min(1, score))*100) / 100

	res := domain.StageResult{
		Score: score,
		Details: map[string]any{
			"threshold":      s.Threshold,
			"risk_count":     len(req.Risks),
			"estimated_cost": req.EstimatedCost,
		},
	}
	if score >= s.Threshold {
		res.Recommendation = "proceed"
		res.Summary = fmt.Sprintf("feasibility %.2f meets threshold %.2f", score, s.Threshold)
	} else {
		res.Recommendation = "reject"
		res.Summary = fmt.Sprintf("feasibility %.2f below threshold %.2f", score, s.Threshold)
	}
	return res, nil
}

// planExecution turns the requirements into phases and an execution prompt.
func planExecution(_ context.Context, wf domain.Workflow) (domain.StageResult, error) {
	req := wf.Request
	phases := []string{"Setup"}
	for _, r := range req.Requirements {
		phases = append(phases, "Deliver: "+r)
	}
	if len(req.Risks) > 0 {
		phases = append(phases, "Mitigate risks")
	}
	phases = append(phases, "Review")

	var b strings.Builder
	fmt.Fprintf(&b, "Build a proof of concept for %q.", req.Title)
	if req.Description != "" {
		fmt.Fprintf(&b, " Context: %s.", strings.TrimSuffix(req.Description, "."))
	}
	if len(req.Requirements) > 0 {
		fmt.Fprintf(&b, " It must cover: %s.", strings.Join(req.Requirements, "; "))
	}
	if len(req.Risks) > 0 {
		fmt.Fprintf(&b, " Watch for: %s.", strings.Join(req.Risks, "; "))
	}

	// carry the feasibility score forward for the gate
	var evaluation float64
	if len(wf.Stages) > 1 && wf.Stages[1].Result != nil {
		evaluation = wf.Stages[1].Result.Score
	}
	return domain.StageResult{
		Recommendation: "proceed",
		Summary:        fmt.Sprintf("execution plan with %d phases", len(phases)),
		Score:          evaluation,
		Details:        map[string]any{"phases": phases, "prompt": b.String()},
	}, nil
}
