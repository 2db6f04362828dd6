package seen

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS first_seen (
	key           TEXT PRIMARY KEY,
	first_seen_ms INTEGER NOT NULL
)`

// SQLite stores one row per identity. Rows are only ever inserted.
type SQLite struct {
	path string
	db   *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; the Store mutex already serializes access.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLite{path: path, db: db}, nil
}

// Describe implements Backend.
func (s *SQLite) Describe() string { return "sqlite:" + s.path }

// Load implements Backend.
func (s *SQLite) Load() (map[string]int64, error) {
	rows, err := s.db.Query("SELECT key, first_seen_ms FROM first_seen")
	if err != nil {
		return nil, fmt.Errorf("query first_seen: %w", err)
	}
	defer rows.Close()

	state := make(map[string]int64)
	for rows.Next() {
		var (
			key string
			ms  int64
		)
		if err := rows.Scan(&key, &ms); err != nil {
			return nil, fmt.Errorf("scan first_seen: %w", err)
		}
		state[key] = ms
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate first_seen: %w", err)
	}
	return state, nil
}

// Save implements Backend. Only the added keys are written; existing rows
// are never replaced.
func (s *SQLite) Save(snap Snapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare("INSERT OR IGNORE INTO first_seen (key, first_seen_ms) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, key := range snap.Added {
		ms, ok := snap.FirstSeen[key]
		if !ok {
			continue
		}
		if _, err := stmt.Exec(key, ms); err != nil {
			return fmt.Errorf("insert %q: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
