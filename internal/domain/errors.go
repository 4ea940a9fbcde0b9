package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned (wrapped with the id) for unknown workflows and documents.
var ErrNotFound = errors.New("not found")

// NotFound wraps ErrNotFound with the kind and id that were looked up.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

// InvalidTransitionError reports an operation that is illegal for the current state.
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition %s -> %s (id %s)", e.Entity, e.From, e.To, e.ID)
}

// CategoryMismatchError indicates an entity category that may not own a stage kind.
type CategoryMismatchError struct {
	EntityID  string
	Category  Category
	StageKind StageKind
}

func (e *CategoryMismatchError) Error() string {
	return fmt.Sprintf("entity %s of category %s cannot be assigned to %s stage", e.EntityID, e.Category, e.StageKind)
}

// ConfigurationError reports an unknown stage kind, comparator or similar static mistake.
type ConfigurationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("configuration error: %s %q: %s", e.Field, e.Value, e.Reason)
}
