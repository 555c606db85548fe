package db

import (
	"database/sql"
	"fmt"
)

// Migration is a single forward schema change
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations lists schema changes applied after the base schema
var Migrations = []Migration{
	{
		Version:     1,
		Description: "base schema",
		SQL:         "",
	},
	{
		Version:     2,
		Description: "sync run history",
		SQL: `CREATE TABLE IF NOT EXISTS sync_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    trigger TEXT NOT NULL,
    synced INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0,
    refreshed INTEGER NOT NULL DEFAULT 0,
    errors INTEGER NOT NULL DEFAULT 0,
    started_at TEXT NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at);`,
	},
	{
		Version:     3,
		Description: "permanent rejection flag on drafts",
		SQL:         `ALTER TABLE drafts ADD COLUMN rejected INTEGER NOT NULL DEFAULT 0;`,
	},
}

// RunMigrations runs any pending database migrations
func (db *DB) RunMigrations() (int, error) {
	// Quick check without lock - if already at current version, skip
	currentVersion, _ := db.GetSchemaVersion()
	if currentVersion >= SchemaVersion {
		return 0, nil
	}

	var migrationsRun int
	err := db.withTx(func(tx *sql.Tx) error {
		var version int
		err := tx.QueryRow("SELECT CAST(value AS INTEGER) FROM schema_info WHERE key = 'version'").Scan(&version)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("get schema version: %w", err)
		}

		for _, m := range Migrations {
			if m.Version <= version {
				continue
			}
			if m.SQL != "" {
				if _, err := tx.Exec(m.SQL); err != nil {
					return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
				}
			}
			if err := db.setSchemaVersion(tx, m.Version); err != nil {
				return fmt.Errorf("set version %d: %w", m.Version, err)
			}
			migrationsRun++
		}
		return nil
	})
	return migrationsRun, err
}
