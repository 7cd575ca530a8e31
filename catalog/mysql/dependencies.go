package mysql

import (
	"context"
	"fmt"

	"github.com/scalpeldb/scalpel/depend"
)

// FindForeignKeys returns every foreign key referencing (table, column).
// Composite keys emit one record per participating source column. Always
// Critical impact.
func (a *Adapter) FindForeignKeys(ctx context.Context, table, column string) ([]depend.Record, error) {
	const query = `SELECT kcu.CONSTRAINT_NAME AS constraint_name,
			kcu.TABLE_NAME AS source_table,
			kcu.COLUMN_NAME AS source_column,
			kcu.REFERENCED_TABLE_NAME AS target_table,
			kcu.REFERENCED_COLUMN_NAME AS target_column,
			rc.DELETE_RULE AS delete_rule,
			rc.UPDATE_RULE AS update_rule
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
		JOIN INFORMATION_SCHEMA.REFERENTIAL_CONSTRAINTS rc
			ON kcu.CONSTRAINT_NAME = rc.CONSTRAINT_NAME
			AND kcu.TABLE_SCHEMA = rc.CONSTRAINT_SCHEMA
		WHERE kcu.TABLE_SCHEMA = ?
			AND kcu.REFERENCED_TABLE_NAME = ?
			AND kcu.REFERENCED_COLUMN_NAME = ?
		ORDER BY kcu.TABLE_NAME, kcu.ORDINAL_POSITION`

	type fkRow struct {
		ConstraintName string `db:"constraint_name"`
		SourceTable    string `db:"source_table"`
		SourceColumn   string `db:"source_column"`
		TargetTable    string `db:"target_table"`
		TargetColumn   string `db:"target_column"`
		DeleteRule     string `db:"delete_rule"`
		UpdateRule     string `db:"update_rule"`
	}

	var rows []fkRow
	if err := a.db.SelectContext(ctx, &rows, query, a.schemaName, table, column); err != nil {
		return nil, fmt.Errorf("find foreign keys referencing %s.%s: %w", table, column, err)
	}

	records := make([]depend.Record, 0, len(rows))
	for _, r := range rows {
		records = append(records, depend.Record{
			Kind:         depend.KindForeignKey,
			SourceTable:  r.SourceTable,
			SourceColumn: r.SourceColumn,
			TargetTable:  r.TargetTable,
			TargetColumn: r.TargetColumn,
			ObjectName:   r.ConstraintName,
			Definition: fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s(%s) ON DELETE %s ON UPDATE %s",
				r.SourceColumn, r.TargetTable, r.TargetColumn, r.DeleteRule, r.UpdateRule),
			OnDelete: depend.ReferentialAction(r.DeleteRule),
			OnUpdate: depend.ReferentialAction(r.UpdateRule),
			Impact:   depend.Critical,
		})
	}
	return records, nil
}

// FindViews returns stored views whose definitions reference (table, column)
// directly. View-on-view chains are not resolved.
func (a *Adapter) FindViews(ctx context.Context, table, column string) ([]depend.Record, error) {
	const query = `SELECT TABLE_NAME AS view_name, VIEW_DEFINITION AS view_definition
		FROM INFORMATION_SCHEMA.VIEWS
		WHERE TABLE_SCHEMA = ?
			AND VIEW_DEFINITION LIKE CONCAT('%', ?, '%')
			AND VIEW_DEFINITION LIKE CONCAT('%', ?, '%')
		ORDER BY TABLE_NAME`

	type viewRow struct {
		ViewName   string `db:"view_name"`
		Definition string `db:"view_definition"`
	}

	var rows []viewRow
	if err := a.db.SelectContext(ctx, &rows, query, a.schemaName, table, column); err != nil {
		return nil, fmt.Errorf("find views referencing %s.%s: %w", table, column, err)
	}

	records := make([]depend.Record, 0, len(rows))
	for _, r := range rows {
		records = append(records, depend.Record{
			Kind:         depend.KindView,
			SourceTable:  table,
			SourceColumn: column,
			ObjectName:   r.ViewName,
			Definition:   r.Definition,
			Impact:       depend.High,
		})
	}
	return records, nil
}

// FindTriggers returns triggers attached to the table. Trigger bodies are not
// parsed for column references.
func (a *Adapter) FindTriggers(ctx context.Context, table, column string) ([]depend.Record, error) {
	const query = `SELECT TRIGGER_NAME AS trigger_name,
			EVENT_MANIPULATION AS event, ACTION_TIMING AS timing,
			ACTION_STATEMENT AS statement
		FROM INFORMATION_SCHEMA.TRIGGERS
		WHERE TRIGGER_SCHEMA = ? AND EVENT_OBJECT_TABLE = ?
		ORDER BY TRIGGER_NAME`

	type triggerRow struct {
		TriggerName string `db:"trigger_name"`
		Event       string `db:"event"`
		Timing      string `db:"timing"`
		Statement   string `db:"statement"`
	}

	var rows []triggerRow
	if err := a.db.SelectContext(ctx, &rows, query, a.schemaName, table); err != nil {
		return nil, fmt.Errorf("find triggers on %s: %w", table, err)
	}

	records := make([]depend.Record, 0, len(rows))
	for _, r := range rows {
		records = append(records, depend.Record{
			Kind:         depend.KindTrigger,
			SourceTable:  table,
			SourceColumn: column,
			ObjectName:   r.TriggerName,
			Definition:   fmt.Sprintf("%s %s %s", r.Timing, r.Event, r.Statement),
			Impact:       depend.High,
		})
	}
	return records, nil
}

// FindIndexes returns non-primary indexes that include the column. Unique
// indexes are flagged distinctly.
func (a *Adapter) FindIndexes(ctx context.Context, table, column string) ([]depend.Record, error) {
	const query = `SELECT INDEX_NAME AS index_name, NON_UNIQUE AS non_unique
		FROM INFORMATION_SCHEMA.STATISTICS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND COLUMN_NAME = ?
			AND INDEX_NAME <> 'PRIMARY'
		ORDER BY INDEX_NAME`

	type indexRow struct {
		IndexName string `db:"index_name"`
		NonUnique int    `db:"non_unique"`
	}

	var rows []indexRow
	if err := a.db.SelectContext(ctx, &rows, query, a.schemaName, table, column); err != nil {
		return nil, fmt.Errorf("find indexes on %s.%s: %w", table, column, err)
	}

	records := make([]depend.Record, 0, len(rows))
	for _, r := range rows {
		records = append(records, depend.Record{
			Kind:         depend.KindIndex,
			SourceTable:  table,
			SourceColumn: column,
			ObjectName:   r.IndexName,
			Definition:   fmt.Sprintf("INDEX %s ON %s (%s)", r.IndexName, table, column),
			Unique:       r.NonUnique == 0,
			Impact:       depend.Medium,
		})
	}
	return records, nil
}

// FindConstraints returns CHECK and UNIQUE constraints referencing the
// column. CHECK constraint introspection requires MySQL 8.0.16 or later;
// earlier servers simply report none.
func (a *Adapter) FindConstraints(ctx context.Context, table, column string) ([]depend.Record, error) {
	const query = `SELECT tc.CONSTRAINT_NAME AS constraint_name,
			tc.CONSTRAINT_TYPE AS constraint_type,
			COALESCE(cc.CHECK_CLAUSE, '') AS check_clause
		FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
		LEFT JOIN INFORMATION_SCHEMA.CHECK_CONSTRAINTS cc
			ON tc.CONSTRAINT_NAME = cc.CONSTRAINT_NAME
			AND tc.CONSTRAINT_SCHEMA = cc.CONSTRAINT_SCHEMA
		LEFT JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
			ON tc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME
			AND tc.TABLE_SCHEMA = kcu.TABLE_SCHEMA
			AND tc.TABLE_NAME = kcu.TABLE_NAME
		WHERE tc.TABLE_SCHEMA = ? AND tc.TABLE_NAME = ?
			AND tc.CONSTRAINT_TYPE IN ('CHECK', 'UNIQUE')
			AND (kcu.COLUMN_NAME = ? OR cc.CHECK_CLAUSE LIKE CONCAT('%', ?, '%'))
		ORDER BY tc.CONSTRAINT_NAME`

	type constraintRow struct {
		ConstraintName string `db:"constraint_name"`
		ConstraintType string `db:"constraint_type"`
		CheckClause    string `db:"check_clause"`
	}

	var rows []constraintRow
	if err := a.db.SelectContext(ctx, &rows, query, a.schemaName, table, column, column); err != nil {
		return nil, fmt.Errorf("find constraints on %s.%s: %w", table, column, err)
	}

	records := make([]depend.Record, 0, len(rows))
	for _, r := range rows {
		def := r.ConstraintType
		if r.CheckClause != "" {
			def = fmt.Sprintf("CHECK (%s)", r.CheckClause)
		}
		records = append(records, depend.Record{
			Kind:         depend.KindConstraint,
			SourceTable:  table,
			SourceColumn: column,
			ObjectName:   r.ConstraintName,
			Definition:   def,
			Unique:       r.ConstraintType == "UNIQUE",
			Impact:       depend.Medium,
		})
	}
	return records, nil
}
