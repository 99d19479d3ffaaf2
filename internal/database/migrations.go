package database

import (
	"database/sql"
	"fmt"
	"log"
)

// Migration represents a database migration
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations run in version order; each applies exactly once
var migrations = []Migration{
	{
		Version: 1,
		Name:    "create_grid_cells",
		SQL: `
			CREATE TABLE IF NOT EXISTS grid_cells (
				region            TEXT NOT NULL,
				cell_key          TEXT NOT NULL,
				center_lat        REAL NOT NULL,
				center_lon        REAL NOT NULL,
				score_clear       REAL NOT NULL DEFAULT 0,
				score_muddy       REAL NOT NULL DEFAULT 0,
				last_update_clear INTEGER NOT NULL DEFAULT 0,
				last_update_muddy INTEGER NOT NULL DEFAULT 0,
				final_state       INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (region, cell_key)
			);
			CREATE INDEX IF NOT EXISTS idx_grid_cells_center
				ON grid_cells(region, center_lat, center_lon);
		`,
	},
	{
		Version: 2,
		Name:    "create_changed_sets",
		SQL: `
			CREATE TABLE IF NOT EXISTS changed_cells (
				region     TEXT NOT NULL,
				cell_key   TEXT NOT NULL,
				expires_at INTEGER NOT NULL,
				PRIMARY KEY (region, cell_key)
			);
			CREATE TABLE IF NOT EXISTS changed_tiles (
				region     TEXT NOT NULL,
				zoom       INTEGER NOT NULL,
				x          INTEGER NOT NULL,
				y          INTEGER NOT NULL,
				expires_at INTEGER NOT NULL,
				PRIMARY KEY (region, zoom, x, y)
			);
		`,
	},
	{
		Version: 3,
		Name:    "create_tile_artifacts",
		SQL: `
			CREATE TABLE IF NOT EXISTS tile_artifacts (
				region         TEXT NOT NULL,
				zoom           INTEGER NOT NULL,
				x              INTEGER NOT NULL,
				y              INTEGER NOT NULL,
				version        TEXT NOT NULL,
				last_update    INTEGER NOT NULL,
				grid_checksum  TEXT NOT NULL,
				affected_cells TEXT NOT NULL DEFAULT '[]',
				size_bytes     INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (region, zoom, x, y)
			);
			CREATE INDEX IF NOT EXISTS idx_tile_artifacts_last_update
				ON tile_artifacts(region, last_update);
			CREATE TABLE IF NOT EXISTS region_versions (
				region  TEXT PRIMARY KEY,
				version TEXT NOT NULL
			);
		`,
	},
	{
		Version: 4,
		Name:    "create_report_audit",
		SQL: `
			CREATE TABLE IF NOT EXISTS report_audit (
				id         TEXT PRIMARY KEY,
				region     TEXT NOT NULL,
				lat        REAL NOT NULL,
				lon        REAL NOT NULL,
				state      INTEGER NOT NULL,
				created_at INTEGER NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_report_audit_created
				ON report_audit(region, created_at);
		`,
	},
}

// Migrate applies all pending migrations in version order
func Migrate(db *sql.DB) error {
	if err := initMigrationsTable(db); err != nil {
		return err
	}

	applied, err := appliedMigrations(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		if _, err := db.Exec(m.SQL); err != nil {
			return fmt.Errorf("failed to apply migration %d (%s): %w", m.Version, m.Name, err)
		}
		if _, err := db.Exec(
			"INSERT INTO migrations (version, name) VALUES (?, ?)", m.Version, m.Name,
		); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
		log.Printf("Applied migration %d: %s", m.Version, m.Name)
	}
	return nil
}

// initMigrationsTable creates the migrations tracking table
func initMigrationsTable(db *sql.DB) error {
	query := `
		CREATE TABLE IF NOT EXISTS migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := db.Exec(query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// appliedMigrations returns the set of applied migration versions
func appliedMigrations(db *sql.DB) (map[int]bool, error) {
	rows, err := db.Query("SELECT version FROM migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}
