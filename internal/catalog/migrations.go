package catalog

import "database/sql"

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS papers (
    identity_key TEXT PRIMARY KEY,
    source TEXT NOT NULL,
    provenance TEXT NOT NULL DEFAULT '[]',
    title TEXT,
    authors TEXT,
    year INTEGER DEFAULT 0,
    categories TEXT,
    abstract TEXT,
    doi TEXT,
    pdf_url TEXT,
    url TEXT,
    pdf_path TEXT,
    metadata_path TEXT,
    note_path TEXT,
    state TEXT NOT NULL DEFAULT 'collected',
    prev_state TEXT,
    annotation TEXT,
    refs TEXT,
    last_synced_at TEXT,
    collected_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS citations (
    src TEXT NOT NULL REFERENCES papers(identity_key) ON DELETE CASCADE,
    dst TEXT NOT NULL,
    PRIMARY KEY (src, dst)
);

CREATE TABLE IF NOT EXISTS pending_citations (
    src TEXT NOT NULL REFERENCES papers(identity_key) ON DELETE CASCADE,
    raw_text TEXT NOT NULL,
    fallback_key TEXT NOT NULL,
    PRIMARY KEY (src, raw_text)
);

CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    report TEXT,
    started_at TEXT DEFAULT (datetime('now')),
    finished_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_papers_state ON papers(state);
CREATE INDEX IF NOT EXISTS idx_papers_year ON papers(year);
CREATE INDEX IF NOT EXISTS idx_citations_dst ON citations(dst);
CREATE INDEX IF NOT EXISTS idx_pending_fallback ON pending_citations(fallback_key);
CREATE INDEX IF NOT EXISTS idx_runs_kind ON runs(kind);
`)
			return err
		},
	},
}
