// Package postgres implements the catalog adapter for PostgreSQL.
package postgres

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/scalpeldb/scalpel/catalog"
	"github.com/scalpeldb/scalpel/schema"
)

// Adapter implements catalog.Adapter for PostgreSQL databases.
type Adapter struct {
	db         *sqlx.DB
	schemaName string
}

// New creates a new PostgreSQL adapter with default settings.
func New() catalog.Adapter {
	return &Adapter{schemaName: "public"}
}

// Connect establishes a connection pool to the PostgreSQL database and stores
// the schema name used by catalog queries.
func (a *Adapter) Connect(cfg catalog.ConnectionConfig) error {
	db, err := sqlx.Connect("pgx", cfg.DSN)
	if err != nil {
		return fmt.Errorf("postgres connect: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
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

	if cfg.SchemaName != "" {
		a.schemaName = cfg.SchemaName
	}

	a.db = db
	return nil
}

// Close closes the connection pool.
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

// DriverName returns the driver identifier for PostgreSQL.
func (a *Adapter) DriverName() string { return "postgres" }

// SupportsTransactionalDDL reports that PostgreSQL can roll back DDL.
func (a *Adapter) SupportsTransactionalDDL() bool { return true }

// QuoteIdentifier wraps a SQL identifier in double quotes, escaping any
// embedded double quotes.
func (a *Adapter) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// BuildDropColumn returns the ALTER TABLE statement that drops a column.
func (a *Adapter) BuildDropColumn(table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s",
		a.QuoteIdentifier(table), a.QuoteIdentifier(column))
}

// BuildAddColumn returns the ALTER TABLE statement that re-adds a column with
// the given definition.
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

func (a *Adapter) BuildDropConstraint(table, constraint string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s",
		a.QuoteIdentifier(table), a.QuoteIdentifier(constraint))
}

// columnRow holds a row from information_schema.columns.
type columnRow struct {
	ColumnName string  `db:"column_name"`
	DataType   string  `db:"data_type"`
	UDTName    string  `db:"udt_name"`
	IsNullable string  `db:"is_nullable"`
	Default    *string `db:"column_default"`
	MaxLength  *int64  `db:"character_maximum_length"`
	Position   int     `db:"ordinal_position"`
}

func (r columnRow) toSchema(pk map[string]bool) schema.Column {
	isAuto := r.Default != nil && strings.Contains(*r.Default, "nextval")
	return schema.Column{
		Name:            r.ColumnName,
		Position:        r.Position,
		Type:            r.UDTName,
		Nullable:        r.IsNullable == "YES",
		Default:         r.Default,
		MaxLength:       r.MaxLength,
		IsPrimaryKey:    pk[r.ColumnName],
		IsAutoIncrement: isAuto,
	}
}

// DescribeTable returns the descriptor for a single table: columns, primary
// key, outbound foreign keys, and indexes.
func (a *Adapter) DescribeTable(ctx context.Context, table string) (*schema.Table, error) {
	const colQuery = `SELECT column_name, data_type, udt_name, is_nullable,
			column_default, character_maximum_length, ordinal_position
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`

	var cols []columnRow
	if err := a.db.SelectContext(ctx, &cols, colQuery, a.schemaName, table); err != nil {
		return nil, fmt.Errorf("describe columns for %q: %w", table, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %q not found in schema %q", table, a.schemaName)
	}

	pkCols, err := a.PrimaryKey(ctx, table)
	if err != nil {
		return nil, err
	}
	pkSet := make(map[string]bool, len(pkCols))
	for _, c := range pkCols {
		pkSet[c] = true
	}

	columns := make([]schema.Column, 0, len(cols))
	for _, c := range cols {
		columns = append(columns, c.toSchema(pkSet))
	}

	const fkQuery = `SELECT
			tc.constraint_name,
			kcu.column_name,
			ccu.table_name AS referenced_table,
			ccu.column_name AS referenced_column,
			rc.delete_rule,
			rc.update_rule
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON tc.constraint_name = ccu.constraint_name
		JOIN information_schema.referential_constraints rc
			ON tc.constraint_name = rc.constraint_name
		WHERE tc.constraint_type = 'FOREIGN KEY'
			AND tc.table_schema = $1
			AND tc.table_name = $2`

	type fkRow struct {
		ConstraintName   string `db:"constraint_name"`
		ColumnName       string `db:"column_name"`
		ReferencedTable  string `db:"referenced_table"`
		ReferencedColumn string `db:"referenced_column"`
		DeleteRule       string `db:"delete_rule"`
		UpdateRule       string `db:"update_rule"`
	}

	var fks []fkRow
	if err := a.db.SelectContext(ctx, &fks, fkQuery, a.schemaName, table); err != nil {
		return nil, fmt.Errorf("describe foreign keys for %q: %w", table, err)
	}

	foreignKeys := make([]schema.ForeignKey, 0, len(fks))
	for _, fk := range fks {
		foreignKeys = append(foreignKeys, schema.ForeignKey{
			Name:             fk.ConstraintName,
			ColumnName:       fk.ColumnName,
			ReferencedTable:  fk.ReferencedTable,
			ReferencedColumn: fk.ReferencedColumn,
			OnDelete:         fk.DeleteRule,
			OnUpdate:         fk.UpdateRule,
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

// DescribeColumn returns the descriptor for a single column, or an error if
// the column does not exist.
func (a *Adapter) DescribeColumn(ctx context.Context, table, column string) (*schema.Column, error) {
	const query = `SELECT column_name, data_type, udt_name, is_nullable,
			column_default, character_maximum_length, ordinal_position
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2 AND column_name = $3`

	var row columnRow
	if err := a.db.GetContext(ctx, &row, query, a.schemaName, table, column); err != nil {
		return nil, fmt.Errorf("column %s.%s not found: %w", table, column, err)
	}

	pkCols, err := a.PrimaryKey(ctx, table)
	if err != nil {
		return nil, err
	}
	pkSet := make(map[string]bool, len(pkCols))
	for _, c := range pkCols {
		pkSet[c] = true
	}

	col := row.toSchema(pkSet)
	return &col, nil
}

// PrimaryKey returns the ordered primary key column names for a table.
func (a *Adapter) PrimaryKey(ctx context.Context, table string) ([]string, error) {
	const query = `SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY'
			AND tc.table_schema = $1
			AND tc.table_name = $2
		ORDER BY kcu.ordinal_position`

	var cols []string
	if err := a.db.SelectContext(ctx, &cols, query, a.schemaName, table); err != nil {
		return nil, fmt.Errorf("primary key for %q: %w", table, err)
	}
	return cols, nil
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
	const query = `SELECT COUNT(*) FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2 AND column_name = $3`

	var n int
	if err := sqlx.GetContext(ctx, q, &n, query, a.schemaName, table, column); err != nil {
		return false, fmt.Errorf("check column %s.%s: %w", table, column, err)
	}
	return n > 0, nil
}
