// Package errs defines the battle engine's single top-level error taxonomy.
package errs

import "fmt"

// Kind enumerates the fatal error classes a battle build/run can produce.
type Kind string

const (
	InvalidAction     Kind = "invalid_action"
	MissingResource   Kind = "missing_resource"
	InvalidUnitStats  Kind = "invalid_unit_stats"
	UnitNotFound      Kind = "unit_not_found"
)

// BattleError is fatal to the current battle; there is no partial recovery.
type BattleError struct {
	Kind     Kind
	Resource string
	Reason   string
}

func (e *BattleError) Error() string {
	switch e.Kind {
	case MissingResource:
		return fmt.Sprintf("missing resource: %s", e.Resource)
	case InvalidUnitStats:
		return fmt.Sprintf("invalid unit stats: %s", e.Reason)
	default:
		if e.Reason != "" {
			return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
		}
		return string(e.Kind)
	}
}

func NewInvalidAction(reason string) *BattleError {
	return &BattleError{Kind: InvalidAction, Reason: reason}
}

func NewMissingResource(resource string) *BattleError {
	return &BattleError{Kind: MissingResource, Resource: resource}
}

func NewInvalidUnitStats(reason string) *BattleError {
	return &BattleError{Kind: InvalidUnitStats, Reason: reason}
}

func NewUnitNotFound(reason string) *BattleError {
	return &BattleError{Kind: UnitNotFound, Reason: reason}
}
