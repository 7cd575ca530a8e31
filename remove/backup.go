package remove

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/scalpeldb/scalpel/backup"
)

// createBackup applies the plan's strategy before any mutation happens.
// StrategyNone is only honored for columns the report found dependency-free.
func (e *Executor) createBackup(ctx context.Context, plan *Plan) error {
	switch plan.Strategy {
	case backup.StrategyNone:
		if plan.report != nil && plan.report.Total() > 0 {
			return fmt.Errorf("strategy %q requires a dependency-free column, found %d dependencies",
				plan.Strategy, plan.report.Total())
		}
		return nil
	case backup.StrategyColumnOnly:
		return e.exportColumn(ctx, plan)
	case backup.StrategyTableSnapshot:
		return e.snapshotTable(ctx, plan)
	}
	return fmt.Errorf("unknown backup strategy %q", plan.Strategy)
}

// exportColumn copies the column's values into the artifact store, keyed by
// primary key so they can be written back after a restore.
func (e *Executor) exportColumn(ctx context.Context, plan *Plan) error {
	if e.store == nil {
		return fmt.Errorf("strategy %q requires a backup store", plan.Strategy)
	}

	pk, err := e.adapter.PrimaryKey(ctx, plan.Table)
	if err != nil {
		return fmt.Errorf("primary key of %s: %w", plan.Table, err)
	}
	if len(pk) == 0 {
		return fmt.Errorf("table %s has no primary key; use strategy %q instead",
			plan.Table, backup.StrategyTableSnapshot)
	}

	q := e.adapter.QuoteIdentifier
	cols := make([]string, 0, len(pk)+1)
	for _, c := range pk {
		cols = append(cols, q(c))
	}
	cols = append(cols, q(plan.Column))
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), q(plan.Table))

	dbRows, err := e.adapter.DB().QueryxContext(ctx, query)
	if err != nil {
		return fmt.Errorf("export %s.%s: %w", plan.Table, plan.Column, err)
	}
	defer dbRows.Close()

	var exported []backup.Row
	ordinal := 0
	for dbRows.Next() {
		row := make(map[string]any)
		if err := dbRows.MapScan(row); err != nil {
			return fmt.Errorf("scan export row: %w", err)
		}
		key := make(map[string]any, len(pk))
		for _, c := range pk {
			key[c] = normalizeValue(row[c])
		}
		keyJSON, err := json.Marshal(key)
		if err != nil {
			return fmt.Errorf("marshal key: %w", err)
		}
		valueJSON, err := json.Marshal(normalizeValue(row[plan.Column]))
		if err != nil {
			return fmt.Errorf("marshal value: %w", err)
		}
		exported = append(exported, backup.Row{
			Ordinal:   ordinal,
			KeyJSON:   string(keyJSON),
			ValueJSON: string(valueJSON),
		})
		ordinal++
	}
	if err := dbRows.Err(); err != nil {
		return fmt.Errorf("export %s.%s: %w", plan.Table, plan.Column, err)
	}

	artifact := &backup.Artifact{
		ID:         plan.BackupID,
		TableName:  plan.Table,
		ColumnName: plan.Column,
		Strategy:   plan.Strategy,
		ColumnType: plan.ColumnDef.Type,
		RowCount:   int64(len(exported)),
	}
	if err := e.store.CreateArtifact(ctx, artifact); err != nil {
		return err
	}
	if err := e.store.PutRows(ctx, plan.BackupID, exported); err != nil {
		return err
	}

	e.log.Info("column exported",
		"plan_id", plan.ID, "backup_id", plan.BackupID, "rows", len(exported))
	return nil
}

// snapshotTable copies the whole table inside the target database and, when a
// store is configured, records a manifest pointing at the copy.
func (e *Executor) snapshotTable(ctx context.Context, plan *Plan) error {
	name := fmt.Sprintf("%s_scalpel_%s", plan.Table, plan.ID[:8])
	if _, err := e.adapter.DB().ExecContext(ctx, e.adapter.BuildCopyTable(plan.Table, name)); err != nil {
		return fmt.Errorf("snapshot %s: %w", plan.Table, err)
	}
	plan.SnapshotTable = name

	if e.store != nil {
		artifact := &backup.Artifact{
			ID:            plan.BackupID,
			TableName:     plan.Table,
			ColumnName:    plan.Column,
			Strategy:      plan.Strategy,
			SnapshotTable: name,
			ColumnType:    plan.ColumnDef.Type,
			RowCount:      plan.RowCount,
		}
		if err := e.store.CreateArtifact(ctx, artifact); err != nil {
			return err
		}
	}

	e.log.Info("table snapshot created",
		"plan_id", plan.ID, "table", plan.Table, "snapshot", name)
	return nil
}

// normalizeValue converts driver byte slices to strings so values round-trip
// through JSON as text rather than base64.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
