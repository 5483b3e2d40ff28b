package catalog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StartRun records the start of a batch operation and returns its ID.
func (db *DB) StartRun(kind string) (string, error) {
	id := uuid.New().String()
	_, err := db.conn.Exec(`INSERT INTO runs (id, kind) VALUES (?, ?)`, id, kind)
	if err != nil {
		return "", fmt.Errorf("starting %s run: %w", kind, err)
	}
	return id, nil
}

// FinishRun stores the run's report (JSON-encoded) and finish time.
func (db *DB) FinishRun(id string, report any) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encoding run report: %w", err)
	}
	_, err = db.conn.Exec(
		`UPDATE runs SET report = ?, finished_at = ? WHERE id = ?`,
		string(data), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", id, err)
	}
	return nil
}

// RecentRuns returns the most recent runs, newest first.
func (db *DB) RecentRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(
		`SELECT id, kind, report, started_at, finished_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var report, started, finished sql.NullString
		if err := rows.Scan(&r.ID, &r.Kind, &report, &started, &finished); err != nil {
			return nil, err
		}
		r.Report = report.String
		r.StartedAt = parseTime(started.String)
		r.FinishedAt = parseTime(finished.String)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
