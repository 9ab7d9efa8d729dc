package db

import (
	"database/sql"
	"fmt"
)

// migrations is an ordered list of SQL migration statements.
// Each entry is applied once in order. New migrations are appended at the end.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id            TEXT PRIMARY KEY,
		created_at    DATETIME NOT NULL,
		last_activity DATETIME NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS nutrition_info (
		id             TEXT PRIMARY KEY,
		total_calories REAL NOT NULL DEFAULT 0,
		total_protein  REAL NOT NULL DEFAULT 0,
		total_carbs    REAL NOT NULL DEFAULT 0,
		total_fat      REAL NOT NULL DEFAULT 0,
		total_fiber    REAL,
		total_sugar    REAL,
		total_sodium   REAL,
		analysis_notes TEXT,
		created_at     DATETIME NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS food_items (
		id                TEXT PRIMARY KEY,
		nutrition_info_id TEXT NOT NULL REFERENCES nutrition_info(id) ON DELETE CASCADE,
		position          INTEGER NOT NULL DEFAULT 0,
		name              TEXT NOT NULL,
		name_local        TEXT,
		amount            TEXT NOT NULL,
		unit              TEXT,
		calories          REAL NOT NULL DEFAULT 0,
		protein           REAL NOT NULL DEFAULT 0,
		carbs             REAL NOT NULL DEFAULT 0,
		fat               REAL NOT NULL DEFAULT 0,
		fiber             REAL,
		sugar             REAL,
		sodium            REAL
	)`,

	`CREATE TABLE IF NOT EXISTS messages (
		id           TEXT PRIMARY KEY,
		session_id   TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		role         TEXT NOT NULL,
		content      TEXT NOT NULL,
		nutrition_id TEXT REFERENCES nutrition_info(id) ON DELETE SET NULL,
		created_at   DATETIME NOT NULL,
		seq          INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE INDEX IF NOT EXISTS idx_messages_session_created ON messages(session_id, created_at, seq)`,
	`CREATE INDEX IF NOT EXISTS idx_food_items_nutrition     ON food_items(nutrition_info_id)`,
	`CREATE INDEX IF NOT EXISTS idx_food_items_name          ON food_items(name)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_activity        ON sessions(last_activity DESC)`,
}

// applyMigrations runs any migrations that have not yet been applied.
func applyMigrations(conn *sql.DB) error {
	if _, err := conn.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for i, stmt := range migrations {
		var count int
		row := conn.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, i)
		if err := row.Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", i, err)
		}
		if count > 0 {
			continue
		}

		tx, err := conn.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i, err)
		}
		if _, err := tx.Exec(stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", i, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, i); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", i, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i, err)
		}
	}

	return nil
}
