// Package registry holds the configured entities and decides which entity
// categories may own which workflow stage kinds.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"stagegate/internal/domain"
	"stagegate/internal/observability"
)

var permitted = map[domain.StageKind][]domain.Category{
	domain.StageExecution:    {domain.CategoryExecutor, domain.CategoryCoordinator},
	domain.StageApproval:     {domain.CategoryExecutor, domain.CategoryCoordinator},
	domain.StageCoordination: {domain.CategoryExecutor, domain.CategoryCoordinator},
	domain.StageObservation:  {domain.CategoryObserver, domain.CategoryExecutor},
	domain.StageTrigger: {
		domain.CategoryExecutor, domain.CategoryCoordinator,
		domain.CategoryTriggerSource, domain.CategoryPartner,
	},
}

// required capabilities per stage kind, unioned with any stage extras.
var kindCapabilities = map[domain.StageKind][]string{
	domain.StageExecution:    {"task_execution", "analysis"},
	domain.StageObservation:  {"monitoring", "reporting"},
	domain.StageTrigger:      {"event_detection"},
	domain.StageCoordination: {"coordination", "delegation"},
	domain.StageApproval:     {"decision_making", "review"},
}

// ValidateAssignment returns nil when entity may own a stage of the given kind,
// otherwise a *domain.CategoryMismatchError.
func ValidateAssignment(entity domain.Entity, kind domain.StageKind) error {
	for _, c := range permitted[kind] {
		if entity.Category == c {
			return nil
		}
	}
	return &domain.CategoryMismatchError{EntityID: entity.ID, Category: entity.Category, StageKind: kind}
}

// ValidateWorkflow checks a designer-side stage list against the entity set.
// Every problem is collected; nothing short-circuits.
func ValidateWorkflow(stages []domain.StageBinding, entities []domain.Entity) domain.ValidationReport {
	report := domain.ValidationReport{Errors: []string{}, Warnings: []string{}}
	byID := make(map[string]domain.Entity, len(entities))
	for _, e := range entities {
		byID[e.ID] = e
	}

	var hasExecution, hasExecutor, hasObserver bool
	for _, st := range stages {
		label := st.ID
		if st.Name != "" {
			label = st.Name
		}
		kind, err := domain.ParseStageKind(st.Kind)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("stage %s: %v", label, err))
		}
		if kind == domain.StageExecution {
			hasExecution = true
		}
		if st.EntityID == "" {
			report.Errors = append(report.Errors, fmt.Sprintf("stage %s has no entity assigned", label))
			continue
		}
		entity, ok := byID[st.EntityID]
		if !ok {
			report.Errors = append(report.Errors, fmt.Sprintf("stage %s references unknown entity %s", label, st.EntityID))
			continue
		}
		switch entity.Category {
		case domain.CategoryExecutor:
			hasExecutor = true
		case domain.CategoryObserver:
			hasObserver = true
		}
		if kind != "" {
			if err := ValidateAssignment(entity, kind); err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("stage %s: %v", label, err))
			}
		}
		if !entity.IsActive {
			report.Warnings = append(report.Warnings, fmt.Sprintf("stage %s is bound to inactive entity %s", label, entity.ID))
		}
		if missing := missingCapabilities(entity, st.RequiredCapabilities); len(missing) > 0 {
			report.Warnings = append(report.Warnings, fmt.Sprintf("entity %s lacks capabilities %v required by stage %s", entity.ID, missing, label))
		}
	}

	if !hasExecution {
		report.Errors = append(report.Errors, "workflow has no execution stage")
	}
	if !hasExecutor {
		report.Errors = append(report.Errors, "workflow has no stage bound to an executor")
	}
	if !hasObserver {
		report.Warnings = append(report.Warnings, "workflow has no observer stage; consider adding oversight")
	}
	report.IsValid = len(report.Errors) == 0
	return report
}

func missingCapabilities(entity domain.Entity, required []string) []string {
	var missing []string
	for _, c := range required {
		if !entity.HasCapability(c) {
			missing = append(missing, c)
		}
	}
	return missing
}

// Candidate is one scored entity for a stage kind.
type Candidate struct {
	Entity     domain.Entity `json:"entity"`
	MatchScore float64       `json:"match_score"`
}

// RankEntities scores every active, compatible entity for kind. The result is
// ordered by score descending; equal scores keep input order.
func RankEntities(kind domain.StageKind, entities []domain.Entity, extra []string) []Candidate {
	required := requiredCapabilities(kind, extra)
	var out []Candidate
	for _, e := range entities {
		if !e.IsActive || ValidateAssignment(e, kind) != nil {
			continue
		}
		out = append(out, Candidate{Entity: e, MatchScore: matchScore(e, required)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].MatchScore > out[j].MatchScore })
	return out
}

// SuggestOptimalEntity returns the best-scoring candidate for kind. The first
// entity in input order wins a tie. ok is false when nothing qualifies.
func SuggestOptimalEntity(kind domain.StageKind, entities []domain.Entity, extra []string) (domain.Entity, bool) {
	ranked := RankEntities(kind, entities, extra)
	if len(ranked) == 0 {
		return domain.Entity{}, false
	}
	return ranked[0].Entity, true
}

func requiredCapabilities(kind domain.StageKind, extra []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range append(append([]string(nil), kindCapabilities[kind]...), extra...) {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func matchScore(e domain.Entity, required []string) float64 {
	if len(required) == 0 {
		return 1
	}
	hits := 0
	for _, c := range required {
		if e.HasCapability(c) {
			hits++
		}
	}
	return float64(hits) / float64(len(required))
}

// Registry is the runtime holder of configured entities. Only the active flag
// changes after construction.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	entities map[string]domain.Entity
	log      observability.Logger
}

func New(entities []domain.Entity, log observability.Logger) *Registry {
	if log == nil {
		log = observability.NopLogger()
	}
	r := &Registry{entities: make(map[string]domain.Entity, len(entities)), log: log}
	for _, e := range entities {
		if _, dup := r.entities[e.ID]; !dup {
			r.order = append(r.order, e.ID)
		}
		e.Capabilities = append([]string(nil), e.Capabilities...)
		r.entities[e.ID] = e
	}
	return r
}

func (r *Registry) Get(id string) (domain.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[id]
	if !ok {
		return domain.Entity{}, domain.NotFound("entity", id)
	}
	return e, nil
}

// List returns entities in configuration order.
func (r *Registry) List() []domain.Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Entity, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entities[id])
	}
	return out
}

func (r *Registry) SetActive(id string, active bool) (domain.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entities[id]
	if !ok {
		return domain.Entity{}, domain.NotFound("entity", id)
	}
	if e.IsActive != active {
		e.IsActive = active
		r.entities[id] = e
		r.log.Info("entity active flag changed", "entity_id", id, "active", active)
	}
	return e, nil
}

// Bind resolves entityID and checks it may own a stage of kind.
func (r *Registry) Bind(entityID string, kind domain.StageKind) (domain.Entity, error) {
	e, err := r.Get(entityID)
	if err != nil {
		return domain.Entity{}, err
	}
	if err := ValidateAssignment(e, kind); err != nil {
		return domain.Entity{}, err
	}
	if !e.IsActive {
		r.log.Warn("binding inactive entity", "entity_id", entityID, "stage_kind", kind)
	}
	return e, nil
}
