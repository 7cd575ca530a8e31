// Package mssql implements the catalog adapter for Microsoft SQL Server.
package mssql

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/microsoft/go-mssqldb"

	"github.com/scalpeldb/scalpel/catalog"
	"github.com/scalpeldb/scalpel/schema"
)

// Adapter implements catalog.Adapter for SQL Server databases.
type Adapter struct {
	db         *sqlx.DB
	schemaName string
}

// New creates a new SQL Server adapter with default settings.
func New() catalog.Adapter {
	return &Adapter{schemaName: "dbo"}
}

// Connect establishes a connection pool to the SQL Server database.
func (a *Adapter) Connect(cfg catalog.ConnectionConfig) error {
	db, err := sqlx.Connect("sqlserver", cfg.DSN)
	if err != nil {
		return fmt.Errorf("mssql connect: %w", err)
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

// DriverName returns the driver identifier for SQL Server.
func (a *Adapter) DriverName() string { return "mssql" }

// SupportsTransactionalDDL reports false: while SQL Server can roll back most
// DDL, ALTER TABLE statements take schema locks that interact badly with
// long-open transactions, so the executor uses compensation replay instead.
func (a *Adapter) SupportsTransactionalDDL() bool { return false }

// QuoteIdentifier wraps a SQL identifier in square brackets, escaping any
// embedded closing brackets.
func (a *Adapter) QuoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// BuildDropColumn returns the ALTER TABLE statement that drops a column.
func (a *Adapter) BuildDropColumn(table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s.%s DROP COLUMN %s",
		a.QuoteIdentifier(a.schemaName), a.QuoteIdentifier(table), a.QuoteIdentifier(column))
}

// BuildAddColumn returns the ALTER TABLE statement that re-adds a column.
func (a *Adapter) BuildAddColumn(table string, col schema.Column) string {
	return fmt.Sprintf("ALTER TABLE %s.%s ADD %s %s",
		a.QuoteIdentifier(a.schemaName), a.QuoteIdentifier(table),
		a.QuoteIdentifier(col.Name), catalog.ColumnDefinitionSQL(col))
}

// SELECT INTO is the T-SQL spelling of CREATE TABLE AS.
func (a *Adapter) BuildCopyTable(src, dst string) string {
	return fmt.Sprintf("SELECT * INTO %s.%s FROM %s.%s",
		a.QuoteIdentifier(a.schemaName), a.QuoteIdentifier(dst),
		a.QuoteIdentifier(a.schemaName), a.QuoteIdentifier(src))
}

func (a *Adapter) BuildDropIndex(table, index string) string {
	return fmt.Sprintf("DROP INDEX %s ON %s.%s",
		a.QuoteIdentifier(index), a.QuoteIdentifier(a.schemaName), a.QuoteIdentifier(table))
}

func (a *Adapter) BuildDropConstraint(table, constraint string) string {
	return fmt.Sprintf("ALTER TABLE %s.%s DROP CONSTRAINT %s",
		a.QuoteIdentifier(a.schemaName), a.QuoteIdentifier(table), a.QuoteIdentifier(constraint))
}

// columnRow holds a row from INFORMATION_SCHEMA.COLUMNS.
type columnRow struct {
	ColumnName string  `db:"column_name"`
	DataType   string  `db:"data_type"`
	IsNullable string  `db:"is_nullable"`
	Default    *string `db:"column_default"`
	MaxLength  *int64  `db:"character_maximum_length"`
	Position   int     `db:"ordinal_position"`
}

// DescribeTable returns the descriptor for a single table.
func (a *Adapter) DescribeTable(ctx context.Context, table string) (*schema.Table, error) {
	const colQuery = `SELECT COLUMN_NAME AS column_name, DATA_TYPE AS data_type,
			IS_NULLABLE AS is_nullable, COLUMN_DEFAULT AS column_default,
			CHARACTER_MAXIMUM_LENGTH AS character_maximum_length,
			ORDINAL_POSITION AS ordinal_position
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2
		ORDER BY ORDINAL_POSITION`

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
		columns = append(columns, schema.Column{
			Name:         c.ColumnName,
			Position:     c.Position,
			Type:         c.DataType,
			Nullable:     c.IsNullable == "YES",
			Default:      c.Default,
			MaxLength:    c.MaxLength,
			IsPrimaryKey: pkSet[c.ColumnName],
		})
	}

	return &schema.Table{
		Name:        table,
		Type:        "table",
		Columns:     columns,
		PrimaryKey:  pkCols,
		ForeignKeys: []schema.ForeignKey{},
		Indexes:     []schema.Index{},
	}, nil
}

// DescribeColumn returns the descriptor for a single column.
func (a *Adapter) DescribeColumn(ctx context.Context, table, column string) (*schema.Column, error) {
	const query = `SELECT COLUMN_NAME AS column_name, DATA_TYPE AS data_type,
			IS_NULLABLE AS is_nullable, COLUMN_DEFAULT AS column_default,
			CHARACTER_MAXIMUM_LENGTH AS character_maximum_length,
			ORDINAL_POSITION AS ordinal_position
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2 AND COLUMN_NAME = @p3`

	var row columnRow
	if err := a.db.GetContext(ctx, &row, query, a.schemaName, table, column); err != nil {
		return nil, fmt.Errorf("column %s.%s not found: %w", table, column, err)
	}

	pkCols, err := a.PrimaryKey(ctx, table)
	if err != nil {
		return nil, err
	}
	isPK := false
	for _, c := range pkCols {
		if c == column {
			isPK = true
		}
	}

	return &schema.Column{
		Name:         row.ColumnName,
		Position:     row.Position,
		Type:         row.DataType,
		Nullable:     row.IsNullable == "YES",
		Default:      row.Default,
		MaxLength:    row.MaxLength,
		IsPrimaryKey: isPK,
	}, nil
}

// PrimaryKey returns the ordered primary key column names for a table.
func (a *Adapter) PrimaryKey(ctx context.Context, table string) ([]string, error) {
	const query = `SELECT kcu.COLUMN_NAME
		FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
		JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
			ON tc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME
			AND tc.TABLE_SCHEMA = kcu.TABLE_SCHEMA
		WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
			AND tc.TABLE_SCHEMA = @p1
			AND tc.TABLE_NAME = @p2
		ORDER BY kcu.ORDINAL_POSITION`

	var cols []string
	if err := a.db.SelectContext(ctx, &cols, query, a.schemaName, table); err != nil {
		return nil, fmt.Errorf("primary key for %q: %w", table, err)
	}
	return cols, nil
}

// CountRows returns the row count of a table.
func (a *Adapter) CountRows(ctx context.Context, table string) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT_BIG(*) FROM %s.%s",
		a.QuoteIdentifier(a.schemaName), a.QuoteIdentifier(table))
	var n int64
	if err := a.db.GetContext(ctx, &n, query); err != nil {
		return 0, fmt.Errorf("count rows in %q: %w", table, err)
	}
	return n, nil
}

// ColumnExists reports whether a column exists, using the given queryer.
func (a *Adapter) ColumnExists(ctx context.Context, q sqlx.QueryerContext, table, column string) (bool, error) {
	const query = `SELECT COUNT(*) FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2 AND COLUMN_NAME = @p3`

	var n int
	if err := sqlx.GetContext(ctx, q, &n, query, a.schemaName, table, column); err != nil {
		return false, fmt.Errorf("check column %s.%s: %w", table, column, err)
	}
	return n > 0, nil
}
