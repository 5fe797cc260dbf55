// Package scancache persists (sha256 -> ScanResult JSON) using a pure-Go,
// CGo-free sqlite driver. A supplemented feature (spec.md SPEC_FULL §4
// "Batch scan cache"). No command opens the cache: `scan-batch` rescans
// every assembly on every run.
package scancache

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Cache wraps a sqlite-backed (sha256 -> result JSON) store.
type Cache struct {
	db *sql.DB
}

// Open opens (creating if needed) the cache database at path and ensures
// its schema exists.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open scan cache: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS scan_results (
			sha256      TEXT PRIMARY KEY,
			result_json TEXT NOT NULL,
			scanned_at  TEXT NOT NULL
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init scan cache schema: %w", err)
	}
	return &Cache{db: db}, nil
}

// Get returns the cached result JSON for sha256Hash, if present.
func (c *Cache) Get(sha256Hash string) (string, bool, error) {
	var resultJSON string
	err := c.db.QueryRow(`SELECT result_json FROM scan_results WHERE sha256 = ?`, sha256Hash).Scan(&resultJSON)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query scan cache: %w", err)
	}
	return resultJSON, true, nil
}

// Put stores (or replaces) the result JSON for sha256Hash, stamped with
// scannedAt (an ISO-8601 string the caller supplies, matching spec.md §6's
// result timestamp convention).
func (c *Cache) Put(sha256Hash, resultJSON, scannedAt string) error {
	_, err := c.db.Exec(`
		INSERT INTO scan_results (sha256, result_json, scanned_at) VALUES (?, ?, ?)
		ON CONFLICT(sha256) DO UPDATE SET result_json = excluded.result_json, scanned_at = excluded.scanned_at
	`, sha256Hash, resultJSON, scannedAt)
	if err != nil {
		return fmt.Errorf("write scan cache: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}
