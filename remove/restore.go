package remove

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/scalpeldb/scalpel/backup"
)

// RestoreColumn re-adds a removed column and writes its backed-up values
// back. The plan must have been executed with a data-preserving strategy.
func (e *Executor) RestoreColumn(ctx context.Context, plan *Plan) error {
	exists, err := e.adapter.ColumnExists(ctx, e.adapter.DB(), plan.Table, plan.Column)
	if err != nil {
		return fmt.Errorf("check column %s.%s: %w", plan.Table, plan.Column, err)
	}
	if exists {
		return fmt.Errorf("column %s.%s already present", plan.Table, plan.Column)
	}

	if _, err := e.adapter.DB().ExecContext(ctx, plan.RollbackSQL); err != nil {
		return fmt.Errorf("re-add column %s.%s: %w", plan.Table, plan.Column, err)
	}

	switch plan.Strategy {
	case backup.StrategyColumnOnly:
		if err := e.restoreData(ctx, plan); err != nil {
			return err
		}
	case backup.StrategyTableSnapshot:
		if err := e.restoreFromSnapshot(ctx, plan); err != nil {
			return err
		}
	}

	e.log.Info("column restored",
		"plan_id", plan.ID, "table", plan.Table, "column", plan.Column)
	return nil
}

// restoreData writes a ColumnOnly artifact's values back row by row, matching
// on the primary key recorded at export time.
func (e *Executor) restoreData(ctx context.Context, plan *Plan) error {
	if e.store == nil {
		return fmt.Errorf("no backup store configured")
	}
	artifact, err := e.store.GetArtifact(ctx, plan.BackupID)
	if err != nil {
		return fmt.Errorf("load artifact %s: %w", plan.BackupID, err)
	}
	if artifact.Strategy != backup.StrategyColumnOnly {
		return fmt.Errorf("artifact %s has strategy %q, expected %q",
			artifact.ID, artifact.Strategy, backup.StrategyColumnOnly)
	}
	rows, err := e.store.Rows(ctx, plan.BackupID)
	if err != nil {
		return fmt.Errorf("load artifact rows: %w", err)
	}

	pk, err := e.adapter.PrimaryKey(ctx, plan.Table)
	if err != nil {
		return fmt.Errorf("primary key of %s: %w", plan.Table, err)
	}
	if len(pk) == 0 {
		return fmt.Errorf("table %s has no primary key", plan.Table)
	}

	q := e.adapter.QuoteIdentifier
	preds := make([]string, 0, len(pk))
	for _, c := range pk {
		preds = append(preds, q(c)+" = ?")
	}
	db := e.adapter.DB()
	update := db.Rebind(fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s",
		q(plan.Table), q(plan.Column), strings.Join(preds, " AND ")))

	for _, r := range rows {
		var key map[string]any
		if err := json.Unmarshal([]byte(r.KeyJSON), &key); err != nil {
			return fmt.Errorf("unmarshal key at ordinal %d: %w", r.Ordinal, err)
		}
		var value any
		if err := json.Unmarshal([]byte(r.ValueJSON), &value); err != nil {
			return fmt.Errorf("unmarshal value at ordinal %d: %w", r.Ordinal, err)
		}
		args := make([]any, 0, len(pk)+1)
		args = append(args, value)
		for _, c := range pk {
			args = append(args, key[c])
		}
		if _, err := db.ExecContext(ctx, update, args...); err != nil {
			return fmt.Errorf("restore row at ordinal %d: %w", r.Ordinal, err)
		}
	}
	return nil
}

// restoreFromSnapshot copies the column's values back from the in-database
// table snapshot with a correlated subquery on the primary key.
func (e *Executor) restoreFromSnapshot(ctx context.Context, plan *Plan) error {
	if plan.SnapshotTable == "" {
		return fmt.Errorf("plan %s has no snapshot table", plan.ID)
	}
	pk, err := e.adapter.PrimaryKey(ctx, plan.Table)
	if err != nil {
		return fmt.Errorf("primary key of %s: %w", plan.Table, err)
	}
	if len(pk) == 0 {
		return fmt.Errorf("table %s has no primary key", plan.Table)
	}

	q := e.adapter.QuoteIdentifier
	preds := make([]string, 0, len(pk))
	for _, c := range pk {
		preds = append(preds, fmt.Sprintf("snap.%s = %s.%s", q(c), q(plan.Table), q(c)))
	}
	update := fmt.Sprintf("UPDATE %s SET %s = (SELECT snap.%s FROM %s snap WHERE %s)",
		q(plan.Table), q(plan.Column), q(plan.Column),
		q(plan.SnapshotTable), strings.Join(preds, " AND "))

	if _, err := e.adapter.DB().ExecContext(ctx, update); err != nil {
		return fmt.Errorf("restore from snapshot %s: %w", plan.SnapshotTable, err)
	}
	return nil
}
