package postgres

import (
	"context"
	"fmt"

	"github.com/scalpeldb/scalpel/depend"
)

// inboundFKRow holds a foreign key referencing the analyzed column.
type inboundFKRow struct {
	ConstraintName string `db:"constraint_name"`
	SourceTable    string `db:"source_table"`
	SourceColumn   string `db:"source_column"`
	TargetTable    string `db:"target_table"`
	TargetColumn   string `db:"target_column"`
	DeleteRule     string `db:"delete_rule"`
	UpdateRule     string `db:"update_rule"`
}

// FindForeignKeys returns every foreign key referencing (table, column),
// including composite keys, which emit one record per participating source
// column. Foreign key dependencies are always Critical: dropping the
// referenced column breaks referential integrity, and a CASCADE delete rule
// widens the blast radius to dependent rows.
func (a *Adapter) FindForeignKeys(ctx context.Context, table, column string) ([]depend.Record, error) {
	const query = `SELECT
			tc.constraint_name,
			tc.table_name AS source_table,
			kcu.column_name AS source_column,
			ccu.table_name AS target_table,
			ccu.column_name AS target_column,
			rc.delete_rule,
			rc.update_rule
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON tc.constraint_name = ccu.constraint_name
			AND tc.table_schema = ccu.table_schema
		JOIN information_schema.referential_constraints rc
			ON tc.constraint_name = rc.constraint_name
			AND tc.table_schema = rc.constraint_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
			AND tc.table_schema = $1
			AND ccu.table_name = $2
			AND ccu.column_name = $3
		ORDER BY tc.table_name, kcu.ordinal_position`

	var rows []inboundFKRow
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
// directly. Transitive view-on-view dependencies are not resolved: a view
// built on another view that reads the column is not reported.
func (a *Adapter) FindViews(ctx context.Context, table, column string) ([]depend.Record, error) {
	const query = `SELECT table_name AS view_name, view_definition
		FROM information_schema.views
		WHERE table_schema = $1
			AND view_definition ILIKE '%' || $2 || '%'
			AND view_definition ILIKE '%' || $3 || '%'
		ORDER BY table_name`

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
// parsed: a trigger on another table whose function reads this column is not
// detected, and triggers reported here may not actually touch the column.
func (a *Adapter) FindTriggers(ctx context.Context, table, column string) ([]depend.Record, error) {
	const query = `SELECT trigger_name,
			string_agg(DISTINCT event_manipulation, ', ' ORDER BY event_manipulation) AS events,
			MIN(action_timing) AS timing,
			MIN(action_statement) AS statement
		FROM information_schema.triggers
		WHERE trigger_schema = $1 AND event_object_table = $2
		GROUP BY trigger_name
		ORDER BY trigger_name`

	type triggerRow struct {
		TriggerName string `db:"trigger_name"`
		Events      string `db:"events"`
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
			Definition:   fmt.Sprintf("%s %s %s", r.Timing, r.Events, r.Statement),
			Impact:       depend.High,
		})
	}
	return records, nil
}

// FindIndexes returns non-primary-key indexes that include the column. Unique
// indexes are flagged distinctly since dropping their column also drops a
// uniqueness guarantee other code may rely on.
func (a *Adapter) FindIndexes(ctx context.Context, table, column string) ([]depend.Record, error) {
	const query = `SELECT i.relname AS index_name,
			ix.indisunique AS is_unique,
			pg_get_indexdef(ix.indexrelid) AS definition
		FROM pg_index ix
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
		WHERE n.nspname = $1
			AND t.relname = $2
			AND a.attname = $3
			AND NOT ix.indisprimary
		ORDER BY i.relname`

	type indexRow struct {
		IndexName  string `db:"index_name"`
		IsUnique   bool   `db:"is_unique"`
		Definition string `db:"definition"`
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
			Definition:   r.Definition,
			Unique:       r.IsUnique,
			Impact:       depend.Medium,
		})
	}
	return records, nil
}

// FindConstraints returns CHECK and UNIQUE constraints referencing the column.
func (a *Adapter) FindConstraints(ctx context.Context, table, column string) ([]depend.Record, error) {
	const query = `SELECT tc.constraint_name,
			tc.constraint_type,
			COALESCE(cc.check_clause, '') AS check_clause
		FROM information_schema.table_constraints tc
		JOIN information_schema.constraint_column_usage ccu
			ON tc.constraint_name = ccu.constraint_name
			AND tc.table_schema = ccu.table_schema
		LEFT JOIN information_schema.check_constraints cc
			ON tc.constraint_name = cc.constraint_name
			AND tc.table_schema = cc.constraint_schema
		WHERE tc.table_schema = $1
			AND tc.constraint_type IN ('CHECK', 'UNIQUE')
			AND ccu.table_name = $2
			AND ccu.column_name = $3
		ORDER BY tc.constraint_name`

	type constraintRow struct {
		ConstraintName string `db:"constraint_name"`
		ConstraintType string `db:"constraint_type"`
		CheckClause    string `db:"check_clause"`
	}

	var rows []constraintRow
	if err := a.db.SelectContext(ctx, &rows, query, a.schemaName, table, column); err != nil {
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
