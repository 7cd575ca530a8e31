// Package backup persists data-preservation artifacts created before
// destructive schema changes. ColumnOnly artifacts carry the removed column's
// values keyed by primary key; TableSnapshot artifacts record a manifest
// pointing at a full table copy left in the target database.
package backup

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Strategy is the data-preservation approach applied before a destructive
// operation.
type Strategy string

const (
	// StrategyNone takes no backup. Only valid for provably dependency-free
	// columns.
	StrategyNone Strategy = "none"
	// StrategyColumnOnly exports the column's current values keyed by
	// primary key, enough to rebuild the column later.
	StrategyColumnOnly Strategy = "column_only"
	// StrategyTableSnapshot copies the whole table inside the target
	// database. Required whenever removal risk is Medium or higher.
	StrategyTableSnapshot Strategy = "table_snapshot"
)

// Valid reports whether s is a recognized strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyNone, StrategyColumnOnly, StrategyTableSnapshot:
		return true
	}
	return false
}

// Artifact is the durable record of one backup.
type Artifact struct {
	ID            string    `json:"id" db:"id"`
	TableName     string    `json:"table_name" db:"table_name"`
	ColumnName    string    `json:"column_name" db:"column_name"`
	Strategy      Strategy  `json:"strategy" db:"strategy"`
	SnapshotTable string    `json:"snapshot_table,omitempty" db:"snapshot_table"`
	ColumnType    string    `json:"column_type" db:"column_type"`
	RowCount      int64     `json:"row_count" db:"row_count"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Row is one exported (primary key, column value) pair of a ColumnOnly
// artifact. Keys and values are stored as JSON so mixed types round-trip.
type Row struct {
	Ordinal   int    `json:"ordinal" db:"ordinal"`
	KeyJSON   string `json:"key" db:"key_json"`
	ValueJSON string `json:"value" db:"value_json"`
}

// Store persists backup artifacts in a local SQLite database.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a backup store under dataDir. Pass empty string for
// in-memory.
func NewStore(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "scalpel-backups.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open backup database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate backup database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateArtifact inserts a new artifact record. The CreatedAt field is
// populated on success.
func (s *Store) CreateArtifact(ctx context.Context, a *Artifact) error {
	a.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO artifacts
		(id, table_name, column_name, strategy, snapshot_table, column_type, row_count, created_at)
		VALUES
		(:id, :table_name, :column_name, :strategy, :snapshot_table, :column_type, :row_count, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, q, a); err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

// GetArtifact returns an artifact by ID.
func (s *Store) GetArtifact(ctx context.Context, id string) (*Artifact, error) {
	var a Artifact
	if err := s.db.GetContext(ctx, &a, "SELECT * FROM artifacts WHERE id = ?", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return &a, nil
}

// ListArtifacts returns all artifacts, newest first.
func (s *Store) ListArtifacts(ctx context.Context) ([]Artifact, error) {
	var artifacts []Artifact
	if err := s.db.SelectContext(ctx, &artifacts,
		"SELECT * FROM artifacts ORDER BY created_at DESC, id"); err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	return artifacts, nil
}

// DeleteArtifact removes an artifact and its exported rows.
func (s *Store) DeleteArtifact(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM artifacts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete artifact rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PutRows stores the exported rows of a ColumnOnly artifact within one
// transaction.
func (s *Store) PutRows(ctx context.Context, artifactID string, rows []Row) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const q = `INSERT INTO artifact_rows (artifact_id, ordinal, key_json, value_json)
		VALUES (?, ?, ?, ?)`

	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, q, artifactID, r.Ordinal, r.KeyJSON, r.ValueJSON); err != nil {
			return fmt.Errorf("insert artifact row: %w", err)
		}
	}
	return tx.Commit()
}

// Rows returns the exported rows of an artifact in export order.
func (s *Store) Rows(ctx context.Context, artifactID string) ([]Row, error) {
	var rows []Row
	if err := s.db.SelectContext(ctx, &rows,
		"SELECT ordinal, key_json, value_json FROM artifact_rows WHERE artifact_id = ? ORDER BY ordinal",
		artifactID); err != nil {
		return nil, fmt.Errorf("get artifact rows: %w", err)
	}
	return rows, nil
}

// Prune removes artifacts created before the cutoff and returns how many
// were deleted. Exported rows are cascade deleted.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM artifacts WHERE created_at < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune artifacts: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rows affected: %w", err)
	}
	return n, nil
}
