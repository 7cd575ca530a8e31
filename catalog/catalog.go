// Package catalog defines the per-engine adapter interface for system catalog
// access. Each supported database engine gets exactly one adapter; the
// analyzer and executors are engine-agnostic and work through this interface.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/scalpeldb/scalpel/depend"
	"github.com/scalpeldb/scalpel/schema"
)

// ConnectionConfig holds database connection parameters. The DSN is an opaque
// caller-supplied string; no parsing or credential handling happens here.
type ConnectionConfig struct {
	Driver          string
	DSN             string
	SchemaName      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Adapter is the interface every engine-specific catalog adapter implements.
// Catalog queries take identifiers as bound parameters only; identifiers are
// never interpolated into a query except through QuoteIdentifier, and then
// only into DDL the caller explicitly builds.
type Adapter interface {
	depend.Source

	// Connection management
	Connect(cfg ConnectionConfig) error
	Close() error
	Ping(ctx context.Context) error
	DB() *sqlx.DB

	// Table metadata used by the removal planner
	DescribeTable(ctx context.Context, table string) (*schema.Table, error)
	DescribeColumn(ctx context.Context, table, column string) (*schema.Column, error)
	PrimaryKey(ctx context.Context, table string) ([]string, error)
	CountRows(ctx context.Context, table string) (int64, error)
	ColumnExists(ctx context.Context, q sqlx.QueryerContext, table, column string) (bool, error)

	// DDL construction
	QuoteIdentifier(name string) string
	BuildDropColumn(table, column string) string
	BuildAddColumn(table string, col schema.Column) string
	BuildCopyTable(src, dst string) string
	// BuildDropIndex and BuildDropConstraint return empty when the engine
	// cannot express the drop as a single statement.
	BuildDropIndex(table, index string) string
	BuildDropConstraint(table, constraint string) string

	// Dialect metadata
	DriverName() string
	SupportsTransactionalDDL() bool
}

// ColumnDefinitionSQL renders the type portion of a column definition shared
// by the ANSI-ish engines: type, length, nullability, default.
func ColumnDefinitionSQL(col schema.Column) string {
	def := col.Type
	if col.MaxLength != nil && *col.MaxLength > 0 {
		def += fmt.Sprintf("(%d)", *col.MaxLength)
	}
	if !col.Nullable {
		def += " NOT NULL"
	}
	if col.Default != nil && *col.Default != "" {
		def += " DEFAULT " + *col.Default
	}
	return def
}
