package catalog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const paperColumns = `identity_key, source, provenance, title, authors, year,
	categories, abstract, doi, pdf_url, url, pdf_path, metadata_path, note_path,
	state, prev_state, annotation, refs, last_synced_at, collected_at`

// Upsert is the single write path for paper records. A new identity key
// inserts a record in state collected; an existing key merges, with the
// earliest-collected record authoritative: later sightings only fill
// empty fields and extend the provenance set. It returns the stored
// record.
func (db *DB) Upsert(p *Paper) (*Paper, error) {
	if p.IdentityKey == "" {
		return nil, fmt.Errorf("upsert: empty identity key")
	}

	mu := db.lockKey(p.IdentityKey)
	mu.Lock()
	defer mu.Unlock()

	existing, err := db.Get(p.IdentityKey)
	if err != nil && err != ErrNotFound {
		return nil, err
	}

	if existing == nil {
		if err := db.insert(p); err != nil {
			return nil, err
		}
		return db.Get(p.IdentityKey)
	}

	merge(existing, p)
	if err := db.update(existing); err != nil {
		return nil, err
	}
	return db.Get(existing.IdentityKey)
}

// merge folds a later sighting into the authoritative record in place.
// Non-empty title/author data is never overwritten.
func merge(into, from *Paper) {
	if into.Title == "" {
		into.Title = from.Title
	}
	if len(into.Authors) == 0 {
		into.Authors = from.Authors
	}
	if into.Year == 0 {
		into.Year = from.Year
	}
	if into.Abstract == "" {
		into.Abstract = from.Abstract
	}
	if into.DOI == "" {
		into.DOI = from.DOI
	}
	if into.PDFURL == "" {
		into.PDFURL = from.PDFURL
	}
	if into.URL == "" {
		into.URL = from.URL
	}
	into.Categories = appendUnique(into.Categories, from.Categories...)
	into.Provenance = appendUnique(into.Provenance, from.Provenance...)
	into.Provenance = appendUnique(into.Provenance, from.Source)
}

func (db *DB) insert(p *Paper) error {
	if p.State == "" {
		p.State = StateCollected
	}
	if len(p.Provenance) == 0 && p.Source != "" {
		p.Provenance = []string{p.Source}
	}
	_, err := db.conn.Exec(`
		INSERT INTO papers (identity_key, source, provenance, title, authors, year,
			categories, abstract, doi, pdf_url, url, pdf_path, metadata_path, note_path,
			state, prev_state, annotation, refs, last_synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.IdentityKey, p.Source, marshalJSON(p.Provenance), nullStr(p.Title),
		marshalJSON(p.Authors), p.Year, marshalJSON(p.Categories), nullStr(p.Abstract),
		nullStr(p.DOI), nullStr(p.PDFURL), nullStr(p.URL), nullStr(p.PDFPath),
		nullStr(p.MetadataPath), nullStr(p.NotePath), string(p.State),
		nullStr(string(p.PrevState)), marshalAnnotation(p.Annotation),
		marshalJSON(p.References), nullTime(p.LastSyncedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting paper %s: %w", p.IdentityKey, err)
	}
	return nil
}

func (db *DB) update(p *Paper) error {
	_, err := db.conn.Exec(`
		UPDATE papers SET source = ?, provenance = ?, title = ?, authors = ?, year = ?,
			categories = ?, abstract = ?, doi = ?, pdf_url = ?, url = ?, pdf_path = ?,
			metadata_path = ?, note_path = ?, state = ?, prev_state = ?, annotation = ?,
			refs = ?, last_synced_at = ?
		WHERE identity_key = ?`,
		p.Source, marshalJSON(p.Provenance), nullStr(p.Title), marshalJSON(p.Authors),
		p.Year, marshalJSON(p.Categories), nullStr(p.Abstract), nullStr(p.DOI),
		nullStr(p.PDFURL), nullStr(p.URL), nullStr(p.PDFPath), nullStr(p.MetadataPath),
		nullStr(p.NotePath), string(p.State), nullStr(string(p.PrevState)),
		marshalAnnotation(p.Annotation), marshalJSON(p.References),
		nullTime(p.LastSyncedAt), p.IdentityKey,
	)
	if err != nil {
		return fmt.Errorf("updating paper %s: %w", p.IdentityKey, err)
	}
	return nil
}

// Get returns the paper for an identity key, or ErrNotFound.
func (db *DB) Get(key string) (*Paper, error) {
	row := db.conn.QueryRow(
		`SELECT `+paperColumns+` FROM papers WHERE identity_key = ?`, key)
	p, err := scanPaper(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting paper %s: %w", key, err)
	}
	return p, nil
}

// List returns papers matching the filter, oldest first.
func (db *DB) List(f Filter) ([]Paper, error) {
	query := `SELECT ` + paperColumns + ` FROM papers`
	var args []any
	var where []string

	if len(f.States) > 0 {
		in := ""
		for i, s := range f.States {
			if i > 0 {
				in += ", "
			}
			in += "?"
			args = append(args, string(s))
		}
		where = append(where, "state IN ("+in+")")
	}
	if f.Source != "" {
		// Provenance is a JSON array of source names.
		where = append(where, "provenance LIKE ?")
		args = append(args, `%"`+f.Source+`"%`)
	}
	for i, w := range where {
		if i == 0 {
			query += " WHERE " + w
		} else {
			query += " AND " + w
		}
	}
	query += " ORDER BY collected_at ASC, identity_key ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing papers: %w", err)
	}
	defer rows.Close()

	var papers []Paper
	for rows.Next() {
		p, err := scanPaper(rows)
		if err != nil {
			return nil, err
		}
		papers = append(papers, *p)
	}
	return papers, rows.Err()
}

// Transition moves a record along the lifecycle. Allowed moves are the
// forward edges, any state to failed (recording the prior state), and
// failed back to exactly the state it was entered from. Everything else
// is ErrInvalidTransition.
func (db *DB) Transition(key string, next State) error {
	if !ValidState(next) {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, next)
	}
	return db.withKey(key, func() error {
		p, err := db.Get(key)
		if err != nil {
			return err
		}

		switch {
		case next == StateFailed:
			if p.State == StateFailed {
				return fmt.Errorf("%w: %s already failed", ErrInvalidTransition, key)
			}
			p.PrevState = p.State
			p.State = StateFailed
		case p.State == StateFailed:
			if next != p.PrevState {
				return fmt.Errorf("%w: %s may only recover from failed to %s, not %s",
					ErrInvalidTransition, key, p.PrevState, next)
			}
			p.State = next
			p.PrevState = ""
		default:
			if !edgeAllowed(p.State, next) {
				return fmt.Errorf("%w: %s -> %s for %s", ErrInvalidTransition, p.State, next, key)
			}
			p.State = next
		}

		return db.update(p)
	})
}

func edgeAllowed(from, to State) bool {
	for _, s := range forwardEdges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Demote moves a record backward to the highest state consistent with
// the artifacts that actually exist, clearing the given dangling path
// fields. Only the artifact synchronizer calls this; it bypasses the
// forward-only rule because it repairs drift rather than advancing work.
func (db *DB) Demote(key string, to State, clearPDF, clearMeta, clearNote bool) error {
	if _, ok := stateRank[to]; !ok {
		return fmt.Errorf("%w: cannot demote to %q", ErrInvalidTransition, to)
	}
	return db.withKey(key, func() error {
		p, err := db.Get(key)
		if err != nil {
			return err
		}
		if clearPDF {
			p.PDFPath = ""
		}
		if clearMeta {
			p.MetadataPath = ""
		}
		if clearNote {
			p.NotePath = ""
			p.Annotation = nil
		}
		p.State = to
		p.PrevState = ""
		return db.update(p)
	})
}

// SetArtifactPaths updates the path fields that are non-nil.
func (db *DB) SetArtifactPaths(key string, pdfPath, metaPath, notePath *string) error {
	return db.withKey(key, func() error {
		p, err := db.Get(key)
		if err != nil {
			return err
		}
		if pdfPath != nil {
			p.PDFPath = *pdfPath
		}
		if metaPath != nil {
			p.MetadataPath = *metaPath
		}
		if notePath != nil {
			p.NotePath = *notePath
		}
		return db.update(p)
	})
}

// SetAnnotation stores analysis output and resolved references for a
// record. The write is all-or-nothing; callers never commit partial
// annotations.
func (db *DB) SetAnnotation(key string, ann *Annotation, refs []string) error {
	return db.withKey(key, func() error {
		p, err := db.Get(key)
		if err != nil {
			return err
		}
		p.Annotation = ann
		p.References = refs
		return db.update(p)
	})
}

// MarkSynced records a successful artifact-consistency check.
func (db *DB) MarkSynced(key string, at time.Time) error {
	return db.withKey(key, func() error {
		p, err := db.Get(key)
		if err != nil {
			return err
		}
		t := at.UTC()
		p.LastSyncedAt = &t
		return db.update(p)
	})
}

// Delete removes a record and its graph edges, and retires the key for
// the rest of the session.
func (db *DB) Delete(key string) error {
	err := db.withKey(key, func() error {
		// The FK cascade covers outgoing edges; incoming edges point at
		// this key from elsewhere and must go explicitly.
		if _, err := db.conn.Exec(`DELETE FROM citations WHERE dst = ?`, key); err != nil {
			return fmt.Errorf("deleting incoming edges of %s: %w", key, err)
		}
		res, err := db.conn.Exec(`DELETE FROM papers WHERE identity_key = ?`, key)
		if err != nil {
			return fmt.Errorf("deleting paper %s: %w", key, err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}
	db.retire(key)
	return nil
}

// FlushOrganization clears notes, annotations, and citation data for
// every record, resetting organized and note_written records to
// pdf_fetched (or collected when no PDF exists). Raw catalog entries and
// PDFs stay intact. Returns the number of reset records.
func (db *DB) FlushOrganization() (int, error) {
	papers, err := db.List(Filter{})
	if err != nil {
		return 0, err
	}

	reset := 0
	for i := range papers {
		p := &papers[i]
		if p.State != StateOrganized && p.State != StateNoteWritten && p.Annotation == nil {
			continue
		}
		target := StateCollected
		if p.PDFPath != "" {
			target = StatePDFFetched
		}
		err := db.withKey(p.IdentityKey, func() error {
			cur, err := db.Get(p.IdentityKey)
			if err != nil {
				return err
			}
			cur.NotePath = ""
			cur.Annotation = nil
			cur.References = nil
			cur.State = target
			cur.PrevState = ""
			return db.update(cur)
		})
		if err != nil {
			return reset, err
		}
		reset++
	}

	if _, err := db.conn.Exec(`DELETE FROM citations`); err != nil {
		return reset, fmt.Errorf("clearing citations: %w", err)
	}
	if _, err := db.conn.Exec(`DELETE FROM pending_citations`); err != nil {
		return reset, fmt.Errorf("clearing pending citations: %w", err)
	}
	return reset, nil
}

// FlushAll deletes every record and all graph data. Session tombstones
// are cleared afterwards: with the catalog empty there is nothing left
// to protect, and a fresh collect must be able to re-mint keys.
func (db *DB) FlushAll() (int, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM papers`).Scan(&n); err != nil {
		return 0, err
	}
	for _, stmt := range []string{
		`DELETE FROM pending_citations`,
		`DELETE FROM citations`,
		`DELETE FROM papers`,
	} {
		if _, err := db.conn.Exec(stmt); err != nil {
			return 0, fmt.Errorf("flushing catalog: %w", err)
		}
	}
	db.unretireAll()
	return n, nil
}

// Stats returns aggregate catalog statistics.
func (db *DB) Stats() (*Stats, error) {
	s := &Stats{ByState: make(map[State]int)}

	rows, err := db.conn.Query(`SELECT state, COUNT(*) FROM papers GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		s.ByState[State(st)] = n
		s.TotalPapers += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM papers WHERE pdf_path IS NOT NULL AND pdf_path != ''`,
	).Scan(&s.WithPDF); err != nil {
		return nil, err
	}
	if err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM papers WHERE note_path IS NOT NULL AND note_path != ''`,
	).Scan(&s.WithNote); err != nil {
		return nil, err
	}
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM citations`).Scan(&s.CitationEdges); err != nil {
		return nil, err
	}
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM pending_citations`).Scan(&s.PendingCites); err != nil {
		return nil, err
	}
	return s, nil
}

// --- scanning helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPaper(row rowScanner) (*Paper, error) {
	var p Paper
	var provenance, authors, categories, refs sql.NullString
	var title, abstract, doi, pdfURL, pageURL sql.NullString
	var pdfPath, metaPath, notePath, prevState, annotation sql.NullString
	var lastSynced, collectedAt sql.NullString
	var state string
	var year sql.NullInt64

	if err := row.Scan(&p.IdentityKey, &p.Source, &provenance, &title, &authors,
		&year, &categories, &abstract, &doi, &pdfURL, &pageURL, &pdfPath, &metaPath,
		&notePath, &state, &prevState, &annotation, &refs, &lastSynced, &collectedAt,
	); err != nil {
		return nil, err
	}

	p.Provenance = unmarshalStrings(provenance.String)
	p.Title = title.String
	p.Authors = unmarshalStrings(authors.String)
	p.Year = int(year.Int64)
	p.Categories = unmarshalStrings(categories.String)
	p.Abstract = abstract.String
	p.DOI = doi.String
	p.PDFURL = pdfURL.String
	p.URL = pageURL.String
	p.PDFPath = pdfPath.String
	p.MetadataPath = metaPath.String
	p.NotePath = notePath.String
	p.State = State(state)
	p.PrevState = State(prevState.String)
	p.References = unmarshalStrings(refs.String)

	if annotation.Valid && annotation.String != "" {
		var ann Annotation
		if err := json.Unmarshal([]byte(annotation.String), &ann); err == nil {
			p.Annotation = &ann
		}
	}
	if t := parseTime(lastSynced.String); t != nil {
		p.LastSyncedAt = t
	}
	if t := parseTime(collectedAt.String); t != nil {
		p.CollectedAt = t
	}
	return &p, nil
}

func marshalJSON(v []string) string {
	if len(v) == 0 {
		return "[]"
	}
	data, _ := json.Marshal(v)
	return string(data)
}

func unmarshalStrings(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func marshalAnnotation(a *Annotation) any {
	if a == nil {
		return nil
	}
	data, _ := json.Marshal(a)
	return string(data)
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func appendUnique(dst []string, items ...string) []string {
	for _, it := range items {
		if it == "" {
			continue
		}
		found := false
		for _, d := range dst {
			if d == it {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, it)
		}
	}
	return dst
}
