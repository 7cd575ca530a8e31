// Package sqlite implements the catalog adapter for SQLite.
package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/scalpeldb/scalpel/catalog"
	"github.com/scalpeldb/scalpel/schema"
)

// Adapter implements catalog.Adapter for SQLite databases.
type Adapter struct {
	db *sqlx.DB
}

// New creates a new SQLite adapter with default settings.
func New() catalog.Adapter {
	return &Adapter{}
}

// Connect opens the SQLite database at the DSN path, or ":memory:" for an
// in-memory database.
func (a *Adapter) Connect(cfg catalog.ConnectionConfig) error {
	db, err := sqlx.Connect("sqlite", cfg.DSN)
	if err != nil {
		return fmt.Errorf("sqlite connect: %w", err)
	}

	if strings.Contains(cfg.DSN, ":memory:") {
		// Every pooled connection to :memory: opens a distinct database;
		// a single connection keeps all queries on the same one.
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}

	a.db = db
	return nil
}

// Close closes the database connection.
func (a *Adapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (a *Adapter) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (a *Adapter) DB() *sqlx.DB { return a.db }

// DriverName returns the driver identifier for SQLite.
func (a *Adapter) DriverName() string { return "sqlite" }

// SupportsTransactionalDDL reports that SQLite can roll back DDL.
func (a *Adapter) SupportsTransactionalDDL() bool { return true }

// QuoteIdentifier wraps a SQL identifier in double quotes, escaping any
// embedded double quotes.
func (a *Adapter) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// BuildDropColumn returns the ALTER TABLE statement that drops a column
// (SQLite 3.35+).
func (a *Adapter) BuildDropColumn(table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s",
		a.QuoteIdentifier(table), a.QuoteIdentifier(column))
}

// BuildAddColumn returns the ALTER TABLE statement that re-adds a column.
func (a *Adapter) BuildAddColumn(table string, col schema.Column) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
		a.QuoteIdentifier(table), a.QuoteIdentifier(col.Name), catalog.ColumnDefinitionSQL(col))
}

func (a *Adapter) BuildCopyTable(src, dst string) string {
	return fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s",
		a.QuoteIdentifier(dst), a.QuoteIdentifier(src))
}

func (a *Adapter) BuildDropIndex(table, index string) string {
	return fmt.Sprintf("DROP INDEX %s", a.QuoteIdentifier(index))
}

// SQLite can only drop a constraint by rebuilding the table, which is not a
// single statement.
func (a *Adapter) BuildDropConstraint(table, constraint string) string {
	return ""
}

// tableInfoRow holds a row from PRAGMA table_info().
type tableInfoRow struct {
	CID     int     `db:"cid"`
	Name    string  `db:"name"`
	Type    string  `db:"type"`
	NotNull int     `db:"notnull"`
	Default *string `db:"dflt_value"`
	PK      int     `db:"pk"`
}

func (a *Adapter) tableInfo(ctx context.Context, q sqlx.QueryerContext, table string) ([]tableInfoRow, error) {
	// PRAGMA arguments cannot be bound; the identifier is quoted instead.
	query := fmt.Sprintf("PRAGMA table_info(%s)", a.QuoteIdentifier(table))
	var rows []tableInfoRow
	if err := sqlx.SelectContext(ctx, q, &rows, query); err != nil {
		return nil, fmt.Errorf("table_info for %q: %w", table, err)
	}
	return rows, nil
}

// DescribeTable returns the descriptor for a single table.
func (a *Adapter) DescribeTable(ctx context.Context, table string) (*schema.Table, error) {
	cols, err := a.tableInfo(ctx, a.db, table)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %q not found", table)
	}

	columns := make([]schema.Column, 0, len(cols))
	pkCols := []string{}
	for _, c := range cols {
		columns = append(columns, schema.Column{
			Name:         c.Name,
			Position:     c.CID + 1,
			Type:         c.Type,
			Nullable:     c.NotNull == 0,
			Default:      c.Default,
			IsPrimaryKey: c.PK > 0,
		})
		if c.PK > 0 {
			pkCols = append(pkCols, c.Name)
		}
	}

	fkQuery := fmt.Sprintf("PRAGMA foreign_key_list(%s)", a.QuoteIdentifier(table))
	var fks []foreignKeyRow
	if err := a.db.SelectContext(ctx, &fks, fkQuery); err != nil {
		return nil, fmt.Errorf("foreign_key_list for %q: %w", table, err)
	}

	foreignKeys := make([]schema.ForeignKey, 0, len(fks))
	for _, fk := range fks {
		foreignKeys = append(foreignKeys, schema.ForeignKey{
			Name:             fmt.Sprintf("fk_%s_%s", table, fk.From),
			ColumnName:       fk.From,
			ReferencedTable:  fk.Table,
			ReferencedColumn: fk.To,
			OnDelete:         fk.OnDelete,
			OnUpdate:         fk.OnUpdate,
		})
	}

	return &schema.Table{
		Name:        table,
		Type:        "table",
		Columns:     columns,
		PrimaryKey:  pkCols,
		ForeignKeys: foreignKeys,
		Indexes:     []schema.Index{},
	}, nil
}

// DescribeColumn returns the descriptor for a single column.
func (a *Adapter) DescribeColumn(ctx context.Context, table, column string) (*schema.Column, error) {
	cols, err := a.tableInfo(ctx, a.db, table)
	if err != nil {
		return nil, err
	}
	for _, c := range cols {
		if c.Name == column {
			return &schema.Column{
				Name:         c.Name,
				Position:     c.CID + 1,
				Type:         c.Type,
				Nullable:     c.NotNull == 0,
				Default:      c.Default,
				IsPrimaryKey: c.PK > 0,
			}, nil
		}
	}
	return nil, fmt.Errorf("column %s.%s not found", table, column)
}

// PrimaryKey returns the ordered primary key column names for a table.
func (a *Adapter) PrimaryKey(ctx context.Context, table string) ([]string, error) {
	cols, err := a.tableInfo(ctx, a.db, table)
	if err != nil {
		return nil, err
	}

	// PRAGMA table_info reports pk as a 1-based position within the key.
	byPos := make(map[int]string)
	max := 0
	for _, c := range cols {
		if c.PK > 0 {
			byPos[c.PK] = c.Name
			if c.PK > max {
				max = c.PK
			}
		}
	}
	pk := make([]string, 0, len(byPos))
	for i := 1; i <= max; i++ {
		if name, ok := byPos[i]; ok {
			pk = append(pk, name)
		}
	}
	return pk, nil
}

// CountRows returns the row count of a table.
func (a *Adapter) CountRows(ctx context.Context, table string) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", a.QuoteIdentifier(table))
	var n int64
	if err := a.db.GetContext(ctx, &n, query); err != nil {
		return 0, fmt.Errorf("count rows in %q: %w", table, err)
	}
	return n, nil
}

// ColumnExists reports whether a column exists, using the given queryer so it
// can run inside an open transaction during removal verification.
func (a *Adapter) ColumnExists(ctx context.Context, q sqlx.QueryerContext, table, column string) (bool, error) {
	cols, err := a.tableInfo(ctx, q, table)
	if err != nil {
		return false, err
	}
	for _, c := range cols {
		if c.Name == column {
			return true, nil
		}
	}
	return false, nil
}
