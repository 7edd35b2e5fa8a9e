package dedupe

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// schemaVersion is the current expected schema version.
const schemaVersion = 2

type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is applied in order, each exactly once, tracked in schema_version.
var migrations = []migration{
	{
		Version:     1,
		Description: "processed_events",
		SQL: `
		CREATE TABLE IF NOT EXISTS processed_events (
			event_id     TEXT PRIMARY KEY,
			processed_at INTEGER NOT NULL
		);
		`,
	},
	{
		Version:     2,
		Description: "v2: processed_at index for expiry sweeps",
		SQL: `
		CREATE INDEX IF NOT EXISTS idx_processed_events_time ON processed_events(processed_at);
		`,
	},
}

// runMigrations applies all pending schema migrations.
func runMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := schemaVersionOf(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Info("applying migration", "version", m.Version, "description", m.Description)

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}
		for _, stmt := range splitSQL(m.SQL) {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration v%d: %w", m.Version, err)
			}
		}
		if _, err := tx.Exec(
			"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.Version, err)
		}
	}
	return nil
}

func schemaVersionOf(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return version, nil
}

func splitSQL(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ";") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
