// Package reconcile keeps the catalog consistent with what actually
// exists on disk. It is the recovery mechanism after interrupted runs:
// a crash mid-download leaves a dangling path claim, and the next sync
// heals it without manual cleanup.
package reconcile

import (
	"fmt"
	"log"
	"time"

	"github.com/TobiSchelling/PaperTrail/internal/catalog"
	"github.com/TobiSchelling/PaperTrail/internal/identity"
	"github.com/TobiSchelling/PaperTrail/internal/library"
	"github.com/TobiSchelling/PaperTrail/internal/source"
)

// Orphan policies for files found on disk with no catalog entry.
const (
	PolicyAdopt  = "adopt"
	PolicyReview = "review"
)

// Report describes what one reconcile pass did to a record.
type Report struct {
	Key              string
	MissingArtifacts []string // of "pdf", "metadata", "note"
	Demoted          bool
	From, To         catalog.State
}

// SyncReport summarizes a full catalog-and-filesystem sweep.
type SyncReport struct {
	Checked         int
	Demoted         int
	Adopted         int
	OrphansToReview []string
	BrokenSidecars  []string
}

// Syncer reconciles catalog records against the library tree.
type Syncer struct {
	db     *catalog.DB
	layout *library.Layout
	policy string
}

func NewSyncer(db *catalog.DB, layout *library.Layout, orphanPolicy string) *Syncer {
	if orphanPolicy == "" {
		orphanPolicy = PolicyReview
	}
	return &Syncer{db: db, layout: layout, policy: orphanPolicy}
}

// Reconcile checks every path a record claims against the filesystem.
// Claimed-but-missing files clear the dangling field and demote the
// record to the highest state consistent with what remains on disk. A
// consistent record just gets its sync timestamp refreshed.
func (s *Syncer) Reconcile(key string) (*Report, error) {
	p, err := s.db.Get(key)
	if err != nil {
		return nil, err
	}

	report := &Report{Key: key, From: p.State, To: p.State}

	clearPDF := p.PDFPath != "" && !library.Exists(p.PDFPath)
	clearMeta := p.MetadataPath != "" && !library.Exists(p.MetadataPath)
	clearNote := p.NotePath != "" && !library.Exists(p.NotePath)
	if clearPDF {
		report.MissingArtifacts = append(report.MissingArtifacts, "pdf")
	}
	if clearMeta {
		report.MissingArtifacts = append(report.MissingArtifacts, "metadata")
	}
	if clearNote {
		report.MissingArtifacts = append(report.MissingArtifacts, "note")
	}

	if len(report.MissingArtifacts) == 0 {
		if err := s.db.MarkSynced(key, time.Now()); err != nil {
			return nil, err
		}
		return report, nil
	}

	if p.State == catalog.StateFailed {
		// Keep the failed marker; just drop the dangling claims.
		empty := ""
		var pdfPtr, metaPtr, notePtr *string
		if clearPDF {
			pdfPtr = &empty
		}
		if clearMeta {
			metaPtr = &empty
		}
		if clearNote {
			notePtr = &empty
		}
		if err := s.db.SetArtifactPaths(key, pdfPtr, metaPtr, notePtr); err != nil {
			return nil, err
		}
		return report, s.db.MarkSynced(key, time.Now())
	}

	target := consistentState(p.State, clearPDF, clearNote, clearMeta)
	report.To = target
	report.Demoted = target != p.State

	if err := s.db.Demote(key, target, clearPDF, clearMeta, clearNote); err != nil {
		return nil, err
	}
	if report.Demoted {
		log.Printf("Demoted %s: %s -> %s (missing %v)", key, report.From, target, report.MissingArtifacts)
	}
	return report, s.db.MarkSynced(key, time.Now())
}

// consistentState picks the highest lifecycle state the surviving
// artifacts support. A record that claimed a PDF and lost it falls back
// to collected; a note loss pulls note_written back to pdf_fetched (or
// collected when the PDF is gone too).
func consistentState(state catalog.State, lostPDF, lostNote, lostMeta bool) catalog.State {
	target := state
	if target == catalog.StateNoteWritten && (lostNote || lostMeta || lostPDF) {
		target = catalog.StatePDFFetched
	}
	if lostNote && target == catalog.StateOrganized {
		target = catalog.StatePDFFetched
	}
	if lostPDF && target != catalog.StateCollected {
		target = catalog.StateCollected
	}
	return target
}

// SyncAll reconciles every catalog record, then scans the library tree
// for orphans. Under the adopt policy an orphan with a readable metadata
// sidecar is re-resolved and upserted; under review it is only reported.
func (s *Syncer) SyncAll(resolver *identity.Resolver) (*SyncReport, error) {
	report := &SyncReport{}

	papers, err := s.db.List(catalog.Filter{})
	if err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(papers))
	for _, p := range papers {
		known[library.Slug(p.IdentityKey)] = struct{}{}
		r, err := s.Reconcile(p.IdentityKey)
		if err != nil {
			return nil, fmt.Errorf("reconciling %s: %w", p.IdentityKey, err)
		}
		report.Checked++
		if r.Demoted {
			report.Demoted++
		}
	}

	sidecars, broken, err := s.layout.ScanMetadata()
	if err != nil {
		return nil, err
	}
	report.BrokenSidecars = broken

	pdfs, err := s.layout.ScanPDFs()
	if err != nil {
		return nil, err
	}

	for path, meta := range sidecars {
		if _, ok := known[library.Slug(meta.IdentityKey)]; ok {
			continue
		}
		if s.policy != PolicyAdopt {
			report.OrphansToReview = append(report.OrphansToReview, path)
			continue
		}
		if err := s.adopt(resolver, meta, pdfs); err != nil {
			log.Printf("Could not adopt orphan %s: %v", path, err)
			report.OrphansToReview = append(report.OrphansToReview, path)
			continue
		}
		report.Adopted++
	}

	// PDFs with neither a catalog entry nor a sidecar can only be
	// flagged; there is no identity to adopt them under.
	for slug, path := range pdfs {
		if _, ok := known[slug]; ok {
			continue
		}
		if s.hasSidecarFor(sidecars, slug) {
			continue
		}
		report.OrphansToReview = append(report.OrphansToReview, path)
	}

	log.Printf("Sync complete: %d checked, %d demoted, %d adopted, %d for review",
		report.Checked, report.Demoted, report.Adopted, len(report.OrphansToReview))
	return report, nil
}

func (s *Syncer) hasSidecarFor(sidecars map[string]*library.Metadata, slug string) bool {
	for _, meta := range sidecars {
		if library.Slug(meta.IdentityKey) == slug {
			return true
		}
	}
	return false
}

func (s *Syncer) adopt(resolver *identity.Resolver, meta *library.Metadata, pdfs map[string]string) error {
	raw := source.RawPaper{
		Source:     meta.Source,
		Identifier: identifierFromKey(meta.IdentityKey),
		DOI:        meta.DOI,
		Title:      meta.Title,
		Authors:    meta.Authors,
	}
	// The sidecar records the key its files were laid out under; seed it
	// so resolution lands back on that key and the paths keep matching.
	firstAuthor := ""
	if len(meta.Authors) > 0 {
		firstAuthor = meta.Authors[0]
	}
	resolver.Seed(meta.IdentityKey, identity.NativeKey(raw), identity.FallbackKey(meta.Title, firstAuthor))

	key, _, err := resolver.Resolve(raw)
	if err != nil {
		return err
	}

	p := &catalog.Paper{
		IdentityKey: key,
		Source:      meta.Source,
		Title:       meta.Title,
		Authors:     meta.Authors,
		Year:        meta.Year,
		Categories:  meta.Categories,
		Abstract:    meta.Abstract,
		DOI:         meta.DOI,
		PDFURL:      meta.PDFURL,
		URL:         meta.URL,
	}
	if _, err := s.db.Upsert(p); err != nil {
		return err
	}

	metaPath := s.layout.MetadataPath(key)
	pdfPath := ""
	if path, ok := pdfs[library.Slug(meta.IdentityKey)]; ok {
		pdfPath = path
	}
	if err := s.db.SetArtifactPaths(key, &pdfPath, &metaPath, nil); err != nil {
		return err
	}
	if pdfPath != "" {
		if err := s.db.Transition(key, catalog.StatePDFFetched); err != nil {
			return err
		}
	}
	return nil
}

// identifierFromKey recovers the source-native identifier from an
// identity key like "arxiv:2301.07041". Fallback keys yield an empty
// identifier so resolution re-derives from title and author.
func identifierFromKey(key string) string {
	for _, prefix := range []string{"arxiv:", "zotero:"} {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			return key[len(prefix):]
		}
	}
	return ""
}
