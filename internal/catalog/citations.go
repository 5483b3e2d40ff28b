package catalog

import (
	"fmt"
)

// PendingCitation is an unresolved citation string waiting for its
// target paper to enter the catalog.
type PendingCitation struct {
	Src         string
	RawText     string
	FallbackKey string
}

// InsertEdge adds a cites edge. Re-adding an existing edge is a no-op.
func (db *DB) InsertEdge(src, dst string) error {
	_, err := db.conn.Exec(
		`INSERT OR IGNORE INTO citations (src, dst) VALUES (?, ?)`, src, dst)
	if err != nil {
		return fmt.Errorf("inserting edge %s -> %s: %w", src, dst, err)
	}
	return nil
}

// OutgoingEdges returns the identity keys cited by src.
func (db *DB) OutgoingEdges(src string) ([]string, error) {
	return db.edgeColumn(`SELECT dst FROM citations WHERE src = ? ORDER BY dst`, src)
}

// IncomingEdges returns the identity keys that cite dst.
func (db *DB) IncomingEdges(dst string) ([]string, error) {
	return db.edgeColumn(`SELECT src FROM citations WHERE dst = ? ORDER BY src`, dst)
}

func (db *DB) edgeColumn(query, arg string) ([]string, error) {
	rows, err := db.conn.Query(query, arg)
	if err != nil {
		return nil, fmt.Errorf("querying edges: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// UpsertPending stores an unresolved citation for later retry.
func (db *DB) UpsertPending(pc PendingCitation) error {
	_, err := db.conn.Exec(
		`INSERT OR REPLACE INTO pending_citations (src, raw_text, fallback_key)
		 VALUES (?, ?, ?)`, pc.Src, pc.RawText, pc.FallbackKey)
	if err != nil {
		return fmt.Errorf("storing pending citation: %w", err)
	}
	return nil
}

// PendingFor returns the pending citations originating at src.
func (db *DB) PendingFor(src string) ([]PendingCitation, error) {
	return db.queryPending(`SELECT src, raw_text, fallback_key FROM pending_citations WHERE src = ?`, src)
}

// AllPending returns every pending citation in the catalog.
func (db *DB) AllPending() ([]PendingCitation, error) {
	return db.queryPending(`SELECT src, raw_text, fallback_key FROM pending_citations`)
}

func (db *DB) queryPending(query string, args ...any) ([]PendingCitation, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying pending citations: %w", err)
	}
	defer rows.Close()

	var pending []PendingCitation
	for rows.Next() {
		var pc PendingCitation
		if err := rows.Scan(&pc.Src, &pc.RawText, &pc.FallbackKey); err != nil {
			return nil, err
		}
		pending = append(pending, pc)
	}
	return pending, rows.Err()
}

// DeletePending removes a pending citation once it has been resolved.
func (db *DB) DeletePending(src, rawText string) error {
	_, err := db.conn.Exec(
		`DELETE FROM pending_citations WHERE src = ? AND raw_text = ?`, src, rawText)
	if err != nil {
		return fmt.Errorf("deleting pending citation: %w", err)
	}
	return nil
}
