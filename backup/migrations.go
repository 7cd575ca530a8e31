package backup

import (
	"fmt"
	"strings"
)

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS artifacts (
			id TEXT PRIMARY KEY,
			table_name TEXT NOT NULL,
			column_name TEXT NOT NULL,
			strategy TEXT NOT NULL,
			snapshot_table TEXT NOT NULL DEFAULT '',
			column_type TEXT NOT NULL DEFAULT '',
			row_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS artifact_rows (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			artifact_id TEXT NOT NULL REFERENCES artifacts(id) ON DELETE CASCADE,
			ordinal INTEGER NOT NULL,
			key_json TEXT NOT NULL,
			value_json TEXT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_artifact_rows_artifact_id
			ON artifact_rows(artifact_id)`,

		`CREATE INDEX IF NOT EXISTS idx_artifacts_table
			ON artifacts(table_name, column_name)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// SQLite ALTER TABLE ADD COLUMN fails if column already exists;
			// treat "duplicate column" as a no-op for idempotent migrations.
			if strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
