package remove

import (
	"github.com/scalpeldb/scalpel/backup"
	"github.com/scalpeldb/scalpel/depend"
	"github.com/scalpeldb/scalpel/schema"
)

// Plan is a prepared column removal. Building a plan never touches the
// schema; it only records what the removal will do and how to undo it.
type Plan struct {
	ID       string          `json:"id"`
	Table    string          `json:"table"`
	Column   string          `json:"column"`
	Strategy backup.Strategy `json:"strategy"`

	// ColumnDef is the column's definition at planning time, used to
	// generate RollbackSQL and to restore from a backup.
	ColumnDef schema.Column `json:"column_def"`

	// RollbackSQL re-adds the column with its original definition.
	RollbackSQL string `json:"rollback_sql"`

	// BackupID identifies the backup artifact; empty for StrategyNone.
	BackupID string `json:"backup_id,omitempty"`

	// SnapshotTable is the in-database copy made by StrategyTableSnapshot.
	SnapshotTable string `json:"snapshot_table,omitempty"`

	// RowCount is the table's row count at planning time.
	RowCount int64 `json:"row_count"`

	stage      Stage
	validation *SafetyValidation
	report     *depend.Report
}

// Stage returns the plan's current stage.
func (p *Plan) Stage() Stage { return p.stage }

// Validation returns the most recent safety validation, or nil if the plan
// has not been validated.
func (p *Plan) Validation() *SafetyValidation { return p.validation }

// transition advances the plan's stage, enforcing the transition table.
func (p *Plan) transition(to Stage) error {
	if !CanTransition(p.stage, to) {
		return &transitionError{from: p.stage, to: to}
	}
	p.stage = to
	return nil
}
