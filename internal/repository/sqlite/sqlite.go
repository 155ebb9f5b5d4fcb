// Package sqlite stores identification runs in a local SQLite file.
package sqlite

import (
	"database/sql"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// DB wraps the SQLite database connection with thread-safe access.
type DB struct {
	conn *sql.DB
	mu   sync.RWMutex
}

// New opens (or creates) the database at dbPath and applies the schema.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to migrate database")
	}

	return db, nil
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		ortho_path TEXT NOT NULL DEFAULT '',
		model_class TEXT NOT NULL DEFAULT '',
		policy TEXT NOT NULL DEFAULT '',
		radius REAL DEFAULT 0,
		detections INTEGER DEFAULT 0,
		individuals INTEGER DEFAULT 0,
		failed_tiles TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS detections (
		run_id TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		tile_name TEXT NOT NULL,
		model_class TEXT NOT NULL,
		canonical_id TEXT NOT NULL,
		provisional_id TEXT NOT NULL,
		confidence REAL DEFAULT 0,
		rel_x REAL DEFAULT 0,
		rel_y REAL DEFAULT 0,
		abs_x REAL DEFAULT 0,
		abs_y REAL DEFAULT 0,
		geo_x REAL DEFAULT 0,
		geo_y REAL DEFAULT 0,
		PRIMARY KEY (run_id, ordinal),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_detections_canonical ON detections(run_id, canonical_id);
	CREATE INDEX IF NOT EXISTS idx_detections_tile ON detections(run_id, tile_name);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying database connection for use by repositories.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Lock acquires a write lock.
func (db *DB) Lock() {
	db.mu.Lock()
}

// Unlock releases the write lock.
func (db *DB) Unlock() {
	db.mu.Unlock()
}

// RLock acquires a read lock.
func (db *DB) RLock() {
	db.mu.RLock()
}

// RUnlock releases the read lock.
func (db *DB) RUnlock() {
	db.mu.RUnlock()
}
