package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// KV is an opaque string key-value store. Adapters are safe for concurrent use.
type KV interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Delete(key string) error
}

// SQLiteKV stores entries in the kv_entries table.
type SQLiteKV struct {
	db *DB
}

// NewSQLiteKV creates a key-value store using the given database.
func NewSQLiteKV(db *DB) *SQLiteKV {
	return &SQLiteKV{db: db}
}

// Get returns the value under key. ok is false when the key is absent.
func (s *SQLiteKV) Get(key string) (string, bool, error) {
	var value string
	err := s.db.sql.QueryRow(`SELECT value FROM kv_entries WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %q: %w", key, err)
	}
	return value, true, nil
}

// Set inserts or replaces the value under key.
func (s *SQLiteKV) Set(key, value string) error {
	_, err := s.db.sql.Exec(
		`INSERT INTO kv_entries (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   value = excluded.value,
		   updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.DateTime),
	)
	if err != nil {
		return fmt.Errorf("writing %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *SQLiteKV) Delete(key string) error {
	if _, err := s.db.sql.Exec(`DELETE FROM kv_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting %q: %w", key, err)
	}
	return nil
}

// UpdatedAt returns when key was last written.
func (s *SQLiteKV) UpdatedAt(key string) (time.Time, bool, error) {
	var raw string
	err := s.db.sql.QueryRow(`SELECT updated_at FROM kv_entries WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("reading %q: %w", key, err)
	}
	t, err := time.Parse(time.DateTime, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parsing updated_at for %q: %w", key, err)
	}
	return t, true, nil
}

// Revision is a value that was overwritten or deleted.
type Revision struct {
	Value      string
	WrittenAt  time.Time
	ReplacedAt time.Time
}

// History returns the most recent replaced values of key, newest first.
func (s *SQLiteKV) History(key string, limit int) ([]Revision, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.sql.Query(
		`SELECT value, written_at, replaced_at FROM kv_history
		 WHERE key = ? ORDER BY id DESC LIMIT ?`,
		key, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("reading history of %q: %w", key, err)
	}
	defer rows.Close()

	var out []Revision
	for rows.Next() {
		var rev Revision
		var written, replaced string
		if err := rows.Scan(&rev.Value, &written, &replaced); err != nil {
			return nil, fmt.Errorf("scanning history of %q: %w", key, err)
		}
		// Timestamps come from Set or from SQLite's datetime(), both UTC.
		rev.WrittenAt, _ = time.Parse(time.DateTime, written)
		rev.ReplacedAt, _ = time.Parse(time.DateTime, replaced)
		out = append(out, rev)
	}
	return out, rows.Err()
}
