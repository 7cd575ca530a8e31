package sqlite

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/scalpeldb/scalpel/depend"
)

// foreignKeyRow holds a row from PRAGMA foreign_key_list().
type foreignKeyRow struct {
	ID       int    `db:"id"`
	Seq      int    `db:"seq"`
	Table    string `db:"table"`
	From     string `db:"from"`
	To       string `db:"to"`
	OnUpdate string `db:"on_update"`
	OnDelete string `db:"on_delete"`
	Match    string `db:"match"`
}

// indexListRow holds a row from PRAGMA index_list().
type indexListRow struct {
	Seq     int    `db:"seq"`
	Name    string `db:"name"`
	Unique  int    `db:"unique"`
	Origin  string `db:"origin"`
	Partial int    `db:"partial"`
}

// indexInfoRow holds a row from PRAGMA index_info().
type indexInfoRow struct {
	SeqNo int     `db:"seqno"`
	CID   int     `db:"cid"`
	Name  *string `db:"name"`
}

// userTables returns the names of all user tables.
func (a *Adapter) userTables(ctx context.Context) ([]string, error) {
	const query = `SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`

	var names []string
	if err := a.db.SelectContext(ctx, &names, query); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return names, nil
}

// FindForeignKeys returns every foreign key referencing (table, column).
// SQLite has no inbound-reference catalog, so each user table's
// foreign_key_list PRAGMA is scanned. A NULL "to" column means the key
// references the target table's primary key; it matches when the analyzed
// column is that primary key. Always Critical impact.
func (a *Adapter) FindForeignKeys(ctx context.Context, table, column string) ([]depend.Record, error) {
	tables, err := a.userTables(ctx)
	if err != nil {
		return nil, err
	}

	pk, err := a.PrimaryKey(ctx, table)
	if err != nil {
		return nil, err
	}
	columnIsPK := len(pk) == 1 && pk[0] == column

	var records []depend.Record
	for _, src := range tables {
		query := fmt.Sprintf("PRAGMA foreign_key_list(%s)", a.QuoteIdentifier(src))
		var fks []foreignKeyRow
		if err := a.db.SelectContext(ctx, &fks, query); err != nil {
			return nil, fmt.Errorf("foreign_key_list for %q: %w", src, err)
		}

		// Composite keys span several rows sharing one id; a match on any
		// participating column reports every sibling column of that key.
		groups := make(map[int][]foreignKeyRow)
		var ids []int
		for _, fk := range fks {
			if fk.Table != table {
				continue
			}
			if _, ok := groups[fk.ID]; !ok {
				ids = append(ids, fk.ID)
			}
			groups[fk.ID] = append(groups[fk.ID], fk)
		}
		sort.Ints(ids)

		for _, id := range ids {
			group := groups[id]
			matched := false
			for _, fk := range group {
				if targetColumn(fk, column, columnIsPK) == column {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
			for _, fk := range group {
				target := targetColumn(fk, column, columnIsPK)
				records = append(records, depend.Record{
					Kind:         depend.KindForeignKey,
					SourceTable:  src,
					SourceColumn: fk.From,
					TargetTable:  table,
					TargetColumn: target,
					ObjectName:   fmt.Sprintf("fk_%s_%s", src, fk.From),
					Definition: fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s(%s) ON DELETE %s ON UPDATE %s",
						fk.From, table, target, fk.OnDelete, fk.OnUpdate),
					OnDelete: depend.ReferentialAction(fk.OnDelete),
					OnUpdate: depend.ReferentialAction(fk.OnUpdate),
					Impact:   depend.Critical,
				})
			}
		}
	}
	return records, nil
}

// targetColumn resolves a foreign_key_list row's referenced column. A NULL
// "to" means the key references the target table's primary key.
func targetColumn(fk foreignKeyRow, column string, columnIsPK bool) string {
	if fk.To == "" && columnIsPK {
		return column
	}
	return fk.To
}

// FindViews returns views whose stored SQL references both the table and the
// column. Matching is textual; view-on-view chains are not resolved.
func (a *Adapter) FindViews(ctx context.Context, table, column string) ([]depend.Record, error) {
	const query = `SELECT name, sql FROM sqlite_master
		WHERE type = 'view' ORDER BY name`

	type viewRow struct {
		Name string `db:"name"`
		SQL  string `db:"sql"`
	}

	var rows []viewRow
	if err := a.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list views: %w", err)
	}

	var records []depend.Record
	for _, r := range rows {
		if !strings.Contains(r.SQL, table) || !strings.Contains(r.SQL, column) {
			continue
		}
		records = append(records, depend.Record{
			Kind:         depend.KindView,
			SourceTable:  table,
			SourceColumn: column,
			ObjectName:   r.Name,
			Definition:   r.SQL,
			Impact:       depend.High,
		})
	}
	return records, nil
}

// FindTriggers returns triggers attached to the table. Trigger bodies are not
// parsed for column references.
func (a *Adapter) FindTriggers(ctx context.Context, table, column string) ([]depend.Record, error) {
	const query = `SELECT name, sql FROM sqlite_master
		WHERE type = 'trigger' AND tbl_name = ? ORDER BY name`

	type triggerRow struct {
		Name string `db:"name"`
		SQL  string `db:"sql"`
	}

	var rows []triggerRow
	if err := a.db.SelectContext(ctx, &rows, query, table); err != nil {
		return nil, fmt.Errorf("find triggers on %s: %w", table, err)
	}

	records := make([]depend.Record, 0, len(rows))
	for _, r := range rows {
		records = append(records, depend.Record{
			Kind:         depend.KindTrigger,
			SourceTable:  table,
			SourceColumn: column,
			ObjectName:   r.Name,
			Definition:   r.SQL,
			Impact:       depend.High,
		})
	}
	return records, nil
}

// FindIndexes returns non-primary-key indexes that include the column. Unique
// indexes are flagged distinctly. Indexes backing UNIQUE constraints show up
// here with origin "u" and are reported by FindConstraints instead.
func (a *Adapter) FindIndexes(ctx context.Context, table, column string) ([]depend.Record, error) {
	indexes, err := a.indexesOnColumn(ctx, table, column)
	if err != nil {
		return nil, err
	}

	var records []depend.Record
	for _, idx := range indexes {
		if idx.Origin == "pk" || idx.Origin == "u" {
			continue
		}
		records = append(records, depend.Record{
			Kind:         depend.KindIndex,
			SourceTable:  table,
			SourceColumn: column,
			ObjectName:   idx.Name,
			Definition:   fmt.Sprintf("INDEX %s ON %s (%s)", idx.Name, table, column),
			Unique:       idx.Unique == 1,
			Impact:       depend.Medium,
		})
	}
	return records, nil
}

// checkClauseRe extracts CHECK clauses from a table's stored DDL. SQLite has
// no constraint catalog, so the original CREATE TABLE text is the only
// introspection surface for CHECK constraints.
var checkClauseRe = regexp.MustCompile(`(?i)CHECK\s*\(([^)]*)\)`)

// FindConstraints returns UNIQUE constraints (via their backing indexes) and
// CHECK constraints (via DDL text) referencing the column.
func (a *Adapter) FindConstraints(ctx context.Context, table, column string) ([]depend.Record, error) {
	var records []depend.Record

	indexes, err := a.indexesOnColumn(ctx, table, column)
	if err != nil {
		return nil, err
	}
	for _, idx := range indexes {
		if idx.Origin != "u" {
			continue
		}
		records = append(records, depend.Record{
			Kind:         depend.KindConstraint,
			SourceTable:  table,
			SourceColumn: column,
			ObjectName:   idx.Name,
			Definition:   fmt.Sprintf("UNIQUE (%s)", column),
			Unique:       true,
			Impact:       depend.Medium,
		})
	}

	const ddlQuery = `SELECT COALESCE(sql, '') FROM sqlite_master
		WHERE type = 'table' AND name = ?`
	var ddl string
	if err := a.db.GetContext(ctx, &ddl, ddlQuery, table); err != nil {
		return nil, fmt.Errorf("table DDL for %q: %w", table, err)
	}

	for i, m := range checkClauseRe.FindAllStringSubmatch(ddl, -1) {
		clause := m[1]
		if !strings.Contains(clause, column) {
			continue
		}
		records = append(records, depend.Record{
			Kind:         depend.KindConstraint,
			SourceTable:  table,
			SourceColumn: column,
			ObjectName:   fmt.Sprintf("check_%s_%d", table, i+1),
			Definition:   fmt.Sprintf("CHECK (%s)", clause),
			Impact:       depend.Medium,
		})
	}
	return records, nil
}

// indexesOnColumn returns the index_list entries for indexes that include the
// column.
func (a *Adapter) indexesOnColumn(ctx context.Context, table, column string) ([]indexListRow, error) {
	listQuery := fmt.Sprintf("PRAGMA index_list(%s)", a.QuoteIdentifier(table))
	var list []indexListRow
	if err := a.db.SelectContext(ctx, &list, listQuery); err != nil {
		return nil, fmt.Errorf("index_list for %q: %w", table, err)
	}

	var out []indexListRow
	for _, idx := range list {
		infoQuery := fmt.Sprintf("PRAGMA index_info(%s)", a.QuoteIdentifier(idx.Name))
		var info []indexInfoRow
		if err := a.db.SelectContext(ctx, &info, infoQuery); err != nil {
			return nil, fmt.Errorf("index_info for %q: %w", idx.Name, err)
		}
		for _, col := range info {
			if col.Name != nil && *col.Name == column {
				out = append(out, idx)
				break
			}
		}
	}
	return out, nil
}
