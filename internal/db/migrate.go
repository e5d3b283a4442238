package db

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Migration is one forward-only schema step.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Checksum fingerprints the migration SQL so edits to applied steps are
// detected.
func (m Migration) Checksum() string {
	sum := sha256.Sum256([]byte(m.SQL))
	return hex.EncodeToString(sum[:])
}

// migrations is the ordered schema history.
var migrations = []Migration{
	{
		Version:     1,
		Description: "key/value store for client-only state",
		SQL: `
		CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY CHECK(length(key) > 0),
			value BLOB NOT NULL,
			updated_at INTEGER NOT NULL CHECK(updated_at > 0)
		);`,
	},
}

// CurrentVersion returns the highest applied schema version.
func (db *DB) CurrentVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

func (db *DB) migrate() error {
	if _, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0),
		checksum TEXT NOT NULL CHECK(length(checksum) = 64)
	);`); err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}

	applied := make(map[int]string)
	rows, err := db.Query("SELECT version, checksum FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}
	for rows.Next() {
		var version int
		var checksum string
		if err := rows.Scan(&version, &checksum); err != nil {
			rows.Close()
			return fmt.Errorf("failed to read migrations: %w", err)
		}
		applied[version] = checksum
	}
	rows.Close()

	for _, m := range migrations {
		if checksum, ok := applied[m.Version]; ok {
			if checksum != m.Checksum() {
				return fmt.Errorf("migration %d was modified after it was applied", m.Version)
			}
			continue
		}
		if err := db.apply(m); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) apply(m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration %d: %w", m.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return fmt.Errorf("migration %d failed: %w", m.Version, err)
	}
	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, applied_at, description, checksum) VALUES (?, ?, ?, ?)",
		m.Version, time.Now().Unix(), m.Description, m.Checksum(),
	); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
	}
	return tx.Commit()
}
