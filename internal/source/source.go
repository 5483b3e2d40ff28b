// Package source normalizes heterogeneous paper sources into one record
// shape at the boundary, so nothing downstream branches on where a paper
// came from.
package source

import "context"

// Source names as stored in catalog provenance.
const (
	Arxiv  = "arxiv"
	Zotero = "zotero"
)

// RawPaper is a paper record as reported by a source, before identity
// resolution. Identifier is the source-native ID (arXiv ID, Zotero key);
// it may be empty for degraded records.
type RawPaper struct {
	Source     string
	Identifier string
	DOI        string
	Title      string
	Authors    []string
	Year       int
	Categories []string
	Abstract   string
	PDFURL     string
	URL        string
	// RawReferences holds unparsed citation strings when the source
	// exposes them. Most do not; references usually arrive later from
	// the analysis stage.
	RawReferences []string
}

// Client yields raw paper records for a category query. Implementations
// are finite and restartable: re-querying is always safe because the
// identity resolver deduplicates downstream.
type Client interface {
	Name() string
	Search(ctx context.Context, category string, limit int) ([]RawPaper, error)
}
