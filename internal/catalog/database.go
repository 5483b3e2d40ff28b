// Package catalog is the persisted source of truth for paper records.
// All mutation goes through Upsert and the state-transition methods so
// the dedup and lifecycle invariants are checked in one place.
package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no record exists for an identity key.
var ErrNotFound = errors.New("paper not found")

// ErrInvalidTransition marks a lifecycle transition outside the allowed
// forward edges or the single-step failed recovery. It indicates a
// programming bug and must never be swallowed by batch handlers.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// ErrKeyRetired is returned when mutating a record deleted earlier in
// this session. It keeps a stale in-flight work unit from resurrecting
// a flushed record.
var ErrKeyRetired = errors.New("identity key retired in this session")

// DB wraps the SQLite catalog.
type DB struct {
	conn *sql.DB
	path string

	// Per-identity-key write serialization. Lock scope is a single
	// read-merge-write; never held across network or file I/O.
	keysMu sync.Mutex
	keys   map[string]*sync.Mutex

	// Keys deleted in this session; never handed out again until restart.
	retiredMu sync.Mutex
	retired   map[string]struct{}
}

// Open creates or opens the catalog database at the given path.
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	// Pragmas go in the DSN so every connection in the database/sql
	// pool gets them, not just the one that happens to run an Exec.
	dsn := dbPath + "?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return &DB{
		conn:    conn,
		path:    dbPath,
		keys:    make(map[string]*sync.Mutex),
		retired: make(map[string]struct{}),
	}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// lockKey returns the mutex serializing writers for one identity key.
func (db *DB) lockKey(key string) *sync.Mutex {
	db.keysMu.Lock()
	defer db.keysMu.Unlock()
	mu, ok := db.keys[key]
	if !ok {
		mu = &sync.Mutex{}
		db.keys[key] = mu
	}
	return mu
}

// withKey runs fn while holding the per-key writer lock, first checking
// that the key has not been retired by a flush in this session.
func (db *DB) withKey(key string, fn func() error) error {
	db.retiredMu.Lock()
	_, gone := db.retired[key]
	db.retiredMu.Unlock()
	if gone {
		return fmt.Errorf("%w: %s", ErrKeyRetired, key)
	}

	mu := db.lockKey(key)
	mu.Lock()
	defer mu.Unlock()
	return fn()
}

// retire marks a key as deleted for the rest of the session.
func (db *DB) retire(key string) {
	db.retiredMu.Lock()
	db.retired[key] = struct{}{}
	db.retiredMu.Unlock()
}

// unretireAll clears session tombstones. Only the full flush command
// uses this, after the whole catalog is gone.
func (db *DB) unretireAll() {
	db.retiredMu.Lock()
	db.retired = make(map[string]struct{})
	db.retiredMu.Unlock()
}
