// Package remove plans, validates, and executes staged column removals with
// rollback guarantees. A removal advances through an explicit stage machine;
// any failure in a non-terminal stage compensates everything the attempt did
// and lands in RolledBack, leaving schema and data unchanged.
package remove

import "fmt"

// Stage is one state of the removal state machine.
type Stage string

const (
	StagePlanned           Stage = "planned"
	StageSafetyValidated   Stage = "safety_validated"
	StageBackupCreated     Stage = "backup_created"
	StageDependentsHandled Stage = "dependents_handled"
	StageColumnDropped     Stage = "column_dropped"
	StageVerified          Stage = "verified"
	StageCommitted         Stage = "committed"
	StageRolledBack        Stage = "rolled_back"
)

// transitions is the legal forward edge set. DependentsHandled is optional:
// a removal with nothing to handle goes straight from BackupCreated to
// ColumnDropped. RolledBack is reachable from every non-terminal stage and is
// handled separately in CanTransition.
var transitions = map[Stage][]Stage{
	StagePlanned:           {StageSafetyValidated},
	StageSafetyValidated:   {StageBackupCreated},
	StageBackupCreated:     {StageDependentsHandled, StageColumnDropped},
	StageDependentsHandled: {StageColumnDropped},
	StageColumnDropped:     {StageVerified},
	StageVerified:          {StageCommitted},
	StageCommitted:         {},
	StageRolledBack:        {},
}

// Terminal reports whether s is a terminal stage.
func (s Stage) Terminal() bool {
	return s == StageCommitted || s == StageRolledBack
}

// CanTransition reports whether moving from one stage to another is legal.
func CanTransition(from, to Stage) bool {
	if to == StageRolledBack {
		return !from.Terminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Gate is a caller-supplied hook invoked before each stage transition.
// Returning an error vetoes the transition and rolls the attempt back. It
// doubles as a CI/CD approval hook and a fault-injection point for rollback
// testing.
type Gate func(next Stage) error

type transitionError struct {
	from, to Stage
}

func (e *transitionError) Error() string {
	return fmt.Sprintf("illegal stage transition %s -> %s", e.from, e.to)
}
