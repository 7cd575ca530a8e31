// Package mysql implements the catalog adapter for MySQL.
package mysql

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/scalpeldb/scalpel/catalog"
	"github.com/scalpeldb/scalpel/schema"
)

// Adapter implements catalog.Adapter for MySQL databases.
type Adapter struct {
	db         *sqlx.DB
	schemaName string
}

// New creates a new MySQL adapter with default settings.
func New() catalog.Adapter {
	return &Adapter{}
}

// Connect establishes a connection pool to the MySQL database. If no schema
// name is configured, the current database name is used.
func (a *Adapter) Connect(cfg catalog.ConnectionConfig) error {
	db, err := sqlx.Connect("mysql", cfg.DSN)
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
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
	if a.schemaName == "" {
		var dbName string
		if err := db.Get(&dbName, "SELECT DATABASE()"); err == nil && dbName != "" {
			a.schemaName = dbName
		}
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

// DriverName returns the driver identifier for MySQL.
func (a *Adapter) DriverName() string { return "mysql" }

// SupportsTransactionalDDL reports that MySQL commits each DDL statement
// implicitly; a failed removal is undone by replaying reverse statements, not
// by transaction rollback.
func (a *Adapter) SupportsTransactionalDDL() bool { return false }

// QuoteIdentifier wraps a SQL identifier in backticks, escaping any embedded
// backticks.
func (a *Adapter) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// BuildDropColumn returns the ALTER TABLE statement that drops a column.
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
	return fmt.Sprintf("ALTER TABLE %s DROP INDEX %s",
		a.QuoteIdentifier(table), a.QuoteIdentifier(index))
}

// DROP CONSTRAINT covers foreign keys, checks, and unique constraints on
// MySQL 8.0.19 and later.
func (a *Adapter) BuildDropConstraint(table, constraint string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s",
		a.QuoteIdentifier(table), a.QuoteIdentifier(constraint))
}

// columnRow holds a row from INFORMATION_SCHEMA.COLUMNS.
type columnRow struct {
	ColumnName string  `db:"column_name"`
	DataType   string  `db:"data_type"`
	IsNullable string  `db:"is_nullable"`
	Default    *string `db:"column_default"`
	MaxLength  *int64  `db:"character_maximum_length"`
	Position   int     `db:"ordinal_position"`
	ColumnKey  string  `db:"column_key"`
	Extra      string  `db:"extra"`
}

func (r columnRow) toSchema() schema.Column {
	return schema.Column{
		Name:            r.ColumnName,
		Position:        r.Position,
		Type:            r.DataType,
		Nullable:        r.IsNullable == "YES",
		Default:         r.Default,
		MaxLength:       r.MaxLength,
		IsPrimaryKey:    r.ColumnKey == "PRI",
		IsAutoIncrement: strings.Contains(r.Extra, "auto_increment"),
	}
}

// DescribeTable returns the descriptor for a single table.
func (a *Adapter) DescribeTable(ctx context.Context, table string) (*schema.Table, error) {
	const colQuery = `SELECT COLUMN_NAME AS column_name, DATA_TYPE AS data_type,
			IS_NULLABLE AS is_nullable, COLUMN_DEFAULT AS column_default,
			CHARACTER_MAXIMUM_LENGTH AS character_maximum_length,
			ORDINAL_POSITION AS ordinal_position, COLUMN_KEY AS column_key, EXTRA AS extra
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`

	var cols []columnRow
	if err := a.db.SelectContext(ctx, &cols, colQuery, a.schemaName, table); err != nil {
		return nil, fmt.Errorf("describe columns for %q: %w", table, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %q not found in schema %q", table, a.schemaName)
	}

	columns := make([]schema.Column, 0, len(cols))
	pkCols := []string{}
	for _, c := range cols {
		sc := c.toSchema()
		columns = append(columns, sc)
		if sc.IsPrimaryKey {
			pkCols = append(pkCols, sc.Name)
		}
	}

	const fkQuery = `SELECT kcu.CONSTRAINT_NAME AS constraint_name,
			kcu.COLUMN_NAME AS column_name,
			kcu.REFERENCED_TABLE_NAME AS referenced_table,
			kcu.REFERENCED_COLUMN_NAME AS referenced_column,
			rc.DELETE_RULE AS delete_rule,
			rc.UPDATE_RULE AS update_rule
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
		JOIN INFORMATION_SCHEMA.REFERENTIAL_CONSTRAINTS rc
			ON kcu.CONSTRAINT_NAME = rc.CONSTRAINT_NAME
			AND kcu.TABLE_SCHEMA = rc.CONSTRAINT_SCHEMA
		WHERE kcu.TABLE_SCHEMA = ? AND kcu.TABLE_NAME = ?
			AND kcu.REFERENCED_TABLE_NAME IS NOT NULL`

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

// DescribeColumn returns the descriptor for a single column.
func (a *Adapter) DescribeColumn(ctx context.Context, table, column string) (*schema.Column, error) {
	const query = `SELECT COLUMN_NAME AS column_name, DATA_TYPE AS data_type,
			IS_NULLABLE AS is_nullable, COLUMN_DEFAULT AS column_default,
			CHARACTER_MAXIMUM_LENGTH AS character_maximum_length,
			ORDINAL_POSITION AS ordinal_position, COLUMN_KEY AS column_key, EXTRA AS extra
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND COLUMN_NAME = ?`

	var row columnRow
	if err := a.db.GetContext(ctx, &row, query, a.schemaName, table, column); err != nil {
		return nil, fmt.Errorf("column %s.%s not found: %w", table, column, err)
	}
	col := row.toSchema()
	return &col, nil
}

// PrimaryKey returns the ordered primary key column names for a table.
func (a *Adapter) PrimaryKey(ctx context.Context, table string) ([]string, error) {
	const query = `SELECT COLUMN_NAME
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND CONSTRAINT_NAME = 'PRIMARY'
		ORDER BY ORDINAL_POSITION`

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

// ColumnExists reports whether a column exists, using the given queryer.
func (a *Adapter) ColumnExists(ctx context.Context, q sqlx.QueryerContext, table, column string) (bool, error) {
	const query = `SELECT COUNT(*) FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND COLUMN_NAME = ?`

	var n int
	if err := sqlx.GetContext(ctx, q, &n, query, a.schemaName, table, column); err != nil {
		return false, fmt.Errorf("check column %s.%s: %w", table, column, err)
	}
	return n > 0, nil
}
