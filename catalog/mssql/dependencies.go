package mssql

import (
	"context"
	"fmt"
	"strings"

	"github.com/scalpeldb/scalpel/depend"
)

// referentialAction maps sys.foreign_keys action descriptions (NO_ACTION,
// SET_NULL) to the SQL standard spellings used across engines.
func referentialAction(desc string) depend.ReferentialAction {
	return depend.ReferentialAction(strings.ReplaceAll(desc, "_", " "))
}

// FindForeignKeys returns every foreign key referencing (table, column).
// Composite keys emit one record per participating source column. Always
// Critical impact.
func (a *Adapter) FindForeignKeys(ctx context.Context, table, column string) ([]depend.Record, error) {
	const query = `SELECT fk.name AS constraint_name,
			src_tab.name AS source_table,
			src_col.name AS source_column,
			ref_tab.name AS target_table,
			ref_col.name AS target_column,
			fk.delete_referential_action_desc AS delete_rule,
			fk.update_referential_action_desc AS update_rule
		FROM sys.foreign_keys fk
		JOIN sys.foreign_key_columns fkc ON fk.object_id = fkc.constraint_object_id
		JOIN sys.tables src_tab ON fkc.parent_object_id = src_tab.object_id
		JOIN sys.columns src_col
			ON fkc.parent_object_id = src_col.object_id
			AND fkc.parent_column_id = src_col.column_id
		JOIN sys.tables ref_tab ON fkc.referenced_object_id = ref_tab.object_id
		JOIN sys.columns ref_col
			ON fkc.referenced_object_id = ref_col.object_id
			AND fkc.referenced_column_id = ref_col.column_id
		JOIN sys.schemas s ON ref_tab.schema_id = s.schema_id
		WHERE s.name = @p1 AND ref_tab.name = @p2 AND ref_col.name = @p3
		ORDER BY src_tab.name, fkc.constraint_column_id`

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
		onDelete := referentialAction(r.DeleteRule)
		onUpdate := referentialAction(r.UpdateRule)
		records = append(records, depend.Record{
			Kind:         depend.KindForeignKey,
			SourceTable:  r.SourceTable,
			SourceColumn: r.SourceColumn,
			TargetTable:  r.TargetTable,
			TargetColumn: r.TargetColumn,
			ObjectName:   r.ConstraintName,
			Definition: fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s(%s) ON DELETE %s ON UPDATE %s",
				r.SourceColumn, r.TargetTable, r.TargetColumn, onDelete, onUpdate),
			OnDelete: onDelete,
			OnUpdate: onUpdate,
			Impact:   depend.Critical,
		})
	}
	return records, nil
}

// FindViews returns views whose module definitions reference (table, column)
// directly. View-on-view chains are not resolved.
func (a *Adapter) FindViews(ctx context.Context, table, column string) ([]depend.Record, error) {
	const query = `SELECT v.name AS view_name, m.definition AS definition
		FROM sys.views v
		JOIN sys.sql_modules m ON v.object_id = m.object_id
		JOIN sys.schemas s ON v.schema_id = s.schema_id
		WHERE s.name = @p1
			AND m.definition LIKE '%' + @p2 + '%'
			AND m.definition LIKE '%' + @p3 + '%'
		ORDER BY v.name`

	type viewRow struct {
		ViewName   string `db:"view_name"`
		Definition string `db:"definition"`
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
	const query = `SELECT tr.name AS trigger_name,
			COALESCE(m.definition, '') AS definition
		FROM sys.triggers tr
		JOIN sys.tables t ON tr.parent_id = t.object_id
		JOIN sys.schemas s ON t.schema_id = s.schema_id
		LEFT JOIN sys.sql_modules m ON tr.object_id = m.object_id
		WHERE s.name = @p1 AND t.name = @p2
		ORDER BY tr.name`

	type triggerRow struct {
		TriggerName string `db:"trigger_name"`
		Definition  string `db:"definition"`
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
			Definition:   r.Definition,
			Impact:       depend.High,
		})
	}
	return records, nil
}

// FindIndexes returns non-primary-key indexes that include the column. Unique
// indexes are flagged distinctly.
func (a *Adapter) FindIndexes(ctx context.Context, table, column string) ([]depend.Record, error) {
	const query = `SELECT i.name AS index_name, i.is_unique AS is_unique
		FROM sys.indexes i
		JOIN sys.index_columns ic
			ON i.object_id = ic.object_id AND i.index_id = ic.index_id
		JOIN sys.columns c
			ON ic.object_id = c.object_id AND ic.column_id = c.column_id
		JOIN sys.tables t ON i.object_id = t.object_id
		JOIN sys.schemas s ON t.schema_id = s.schema_id
		WHERE s.name = @p1 AND t.name = @p2 AND c.name = @p3
			AND i.is_primary_key = 0 AND i.name IS NOT NULL
		ORDER BY i.name`

	type indexRow struct {
		IndexName string `db:"index_name"`
		IsUnique  bool   `db:"is_unique"`
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
			Unique:       r.IsUnique,
			Impact:       depend.Medium,
		})
	}
	return records, nil
}

// FindConstraints returns CHECK and UNIQUE constraints referencing the column.
func (a *Adapter) FindConstraints(ctx context.Context, table, column string) ([]depend.Record, error) {
	const query = `SELECT cc.name AS constraint_name,
			'CHECK' AS constraint_type,
			cc.definition AS definition
		FROM sys.check_constraints cc
		JOIN sys.tables t ON cc.parent_object_id = t.object_id
		JOIN sys.schemas s ON t.schema_id = s.schema_id
		WHERE s.name = @p1 AND t.name = @p2
			AND cc.definition LIKE '%' + @p3 + '%'
		UNION ALL
		SELECT kc.name, 'UNIQUE', ''
		FROM sys.key_constraints kc
		JOIN sys.index_columns ic
			ON kc.parent_object_id = ic.object_id AND kc.unique_index_id = ic.index_id
		JOIN sys.columns c
			ON ic.object_id = c.object_id AND ic.column_id = c.column_id
		JOIN sys.tables t ON kc.parent_object_id = t.object_id
		JOIN sys.schemas s ON t.schema_id = s.schema_id
		WHERE kc.type = 'UQ' AND s.name = @p4 AND t.name = @p5 AND c.name = @p6
		ORDER BY constraint_name`

	type constraintRow struct {
		ConstraintName string `db:"constraint_name"`
		ConstraintType string `db:"constraint_type"`
		Definition     string `db:"definition"`
	}

	var rows []constraintRow
	if err := a.db.SelectContext(ctx, &rows, query,
		a.schemaName, table, column, a.schemaName, table, column); err != nil {
		return nil, fmt.Errorf("find constraints on %s.%s: %w", table, column, err)
	}

	records := make([]depend.Record, 0, len(rows))
	for _, r := range rows {
		def := r.Definition
		if def == "" {
			def = r.ConstraintType
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
