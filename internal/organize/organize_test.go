package organize

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/TobiSchelling/PaperTrail/internal/analyze"
	"github.com/TobiSchelling/PaperTrail/internal/catalog"
	"github.com/TobiSchelling/PaperTrail/internal/graph"
	"github.com/TobiSchelling/PaperTrail/internal/library"
	"github.com/TobiSchelling/PaperTrail/internal/notes"
	"github.com/TobiSchelling/PaperTrail/internal/reconcile"
)

type fakeAnalyzer struct {
	annotation *catalog.Annotation
	err        error
	calls      int
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, p *catalog.Paper, text string) (*catalog.Annotation, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	ann := *f.annotation
	return &ann, nil
}

func testSetup(t *testing.T, a analyze.Analyzer) (*catalog.DB, *library.Layout, *Orchestrator) {
	t.Helper()
	dir := t.TempDir()
	db, err := catalog.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	layout := library.NewLayout(filepath.Join(dir, "library"))
	if err := layout.EnsureDirs(); err != nil {
		t.Fatal(err)
	}

	o := NewOrchestrator(db, a, analyze.NewTextExtractor(nil),
		graph.NewBuilder(db), notes.NewWriter(layout),
		reconcile.NewSyncer(db, layout, reconcile.PolicyReview))
	return db, layout, o
}

func addCollected(t *testing.T, db *catalog.DB, key, title string) {
	t.Helper()
	p := &catalog.Paper{
		IdentityKey: key,
		Source:      "arxiv",
		Title:       title,
		Authors:     []string{"Ada Lovelace"},
		Year:        2023,
		Abstract:    "An abstract long enough to serve as analysis input text.",
	}
	if _, err := db.Upsert(p); err != nil {
		t.Fatal(err)
	}
}

func goodAnnotation() *catalog.Annotation {
	return &catalog.Annotation{
		Summary: "A study of things.",
		Tags:    []string{"deep-learning"},
	}
}

func TestOrganizeHappyPath(t *testing.T) {
	db, layout, o := testSetup(t, &fakeAnalyzer{annotation: goodAnnotation()})
	addCollected(t, db, "arxiv:1", "Paper One")
	addCollected(t, db, "arxiv:2", "Paper Two")

	report, err := o.Organize(context.Background(), "", false)
	if err != nil {
		t.Fatal(err)
	}
	if report.Organized != 2 || report.Failed != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}

	p, _ := db.Get("arxiv:1")
	if p.State != catalog.StateNoteWritten {
		t.Errorf("expected note_written, got %s", p.State)
	}
	if p.Annotation == nil || p.Annotation.Summary == "" {
		t.Error("annotation not merged")
	}
	if !library.Exists(p.NotePath) {
		t.Error("note not on disk")
	}
	if !library.Exists(layout.IndexPath()) {
		t.Error("index note not rebuilt")
	}
}

func TestOrganizeAnalysisFailureIsRetriable(t *testing.T) {
	a := &fakeAnalyzer{err: fmt.Errorf("%w: provider down", analyze.ErrUnavailable)}
	db, _, o := testSetup(t, a)
	addCollected(t, db, "arxiv:1", "Paper One")

	report, err := o.Organize(context.Background(), "", false)
	if err != nil {
		t.Fatal(err)
	}
	if report.Failed != 1 || report.Organized != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}

	p, _ := db.Get("arxiv:1")
	if p.State != catalog.StateFailed || p.PrevState != catalog.StateCollected {
		t.Fatalf("expected transient failed marker, got %s/%s", p.State, p.PrevState)
	}
	if p.Annotation != nil {
		t.Error("partial annotation committed on failure")
	}

	// Provider recovers; the next run picks the record up again.
	a.err = nil
	a.annotation = goodAnnotation()
	report, err = o.Organize(context.Background(), "", false)
	if err != nil {
		t.Fatal(err)
	}
	if report.Organized != 1 {
		t.Fatalf("failed record not retried: %+v", report)
	}
	p, _ = db.Get("arxiv:1")
	if p.State != catalog.StateNoteWritten {
		t.Errorf("expected note_written after retry, got %s", p.State)
	}
}

func TestOrganizeSkipsAlreadyOrganized(t *testing.T) {
	a := &fakeAnalyzer{annotation: goodAnnotation()}
	db, _, o := testSetup(t, a)
	addCollected(t, db, "arxiv:1", "Paper One")

	if _, err := o.Organize(context.Background(), "", false); err != nil {
		t.Fatal(err)
	}
	calls := a.calls

	report, err := o.Organize(context.Background(), "", false)
	if err != nil {
		t.Fatal(err)
	}
	if report.Organized != 0 || a.calls != calls {
		t.Fatalf("organized record re-analyzed without force: %+v", report)
	}
	if report.Skipped != 1 {
		t.Fatalf("already-organized record not counted as skipped: %+v", report)
	}

	report, err = o.Organize(context.Background(), "", true)
	if err != nil {
		t.Fatal(err)
	}
	if report.Organized != 1 || a.calls != calls+1 {
		t.Fatalf("force must re-analyze: %+v", report)
	}
}

func TestOrganizeSourceFilter(t *testing.T) {
	a := &fakeAnalyzer{annotation: goodAnnotation()}
	db, _, o := testSetup(t, a)
	addCollected(t, db, "arxiv:1", "Paper One")
	z := &catalog.Paper{
		IdentityKey: "zotero:1", Source: "zotero", Title: "Zotero Paper",
		Authors: []string{"Grace Hopper"}, Abstract: "Another abstract with enough text.",
	}
	db.Upsert(z)

	report, err := o.Organize(context.Background(), "zotero", false)
	if err != nil {
		t.Fatal(err)
	}
	if report.Organized != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	p, _ := db.Get("arxiv:1")
	if p.State != catalog.StateCollected {
		t.Errorf("filtered-out record was organized: %s", p.State)
	}
}

func TestOrganizeBuildsCitationEdges(t *testing.T) {
	ann := goodAnnotation()
	ann.ReferenceList = []string{"Paper Two", "Unknown Future Work"}
	db, _, o := testSetup(t, &fakeAnalyzer{annotation: ann})
	addCollected(t, db, "arxiv:1", "Paper One")
	addCollected(t, db, "arxiv:2", "Paper Two")

	if _, err := o.Organize(context.Background(), "", false); err != nil {
		t.Fatal(err)
	}

	g := graph.NewBuilder(db)
	out, err := g.Neighbors("arxiv:1", graph.Outgoing)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0] != "arxiv:2" {
		t.Fatalf("citation edge not built: %v", out)
	}

	p, _ := db.Get("arxiv:1")
	found := false
	for _, ref := range p.References {
		if ref == "Unknown Future Work" {
			found = true
		}
	}
	if !found {
		t.Errorf("unresolved citation missing from references: %v", p.References)
	}
}

func TestOrganizeNoTextFails(t *testing.T) {
	db, _, o := testSetup(t, &fakeAnalyzer{annotation: goodAnnotation()})
	p := &catalog.Paper{IdentityKey: "arxiv:1", Source: "arxiv", Title: "No Text", Authors: []string{"A"}}
	db.Upsert(p)

	report, err := o.Organize(context.Background(), "", false)
	if err != nil {
		t.Fatal(err)
	}
	if report.Failed != 1 {
		t.Fatalf("expected failure for paper with no text: %+v", report)
	}
}

func TestOrganizeOneBadPaperDoesNotBlockRest(t *testing.T) {
	db, _, o := testSetup(t, &fakeAnalyzer{annotation: goodAnnotation()})
	p := &catalog.Paper{IdentityKey: "arxiv:bad", Source: "arxiv", Title: "No Text", Authors: []string{"A"}}
	db.Upsert(p)
	addCollected(t, db, "arxiv:good", "Good Paper")

	report, err := o.Organize(context.Background(), "", false)
	if err != nil {
		t.Fatal(err)
	}
	if report.Organized != 1 || report.Failed != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestOrganizeRecordsRun(t *testing.T) {
	db, _, o := testSetup(t, &fakeAnalyzer{annotation: goodAnnotation()})
	if _, err := o.Organize(context.Background(), "", false); err != nil {
		t.Fatal(err)
	}
	runs, _ := db.RecentRuns(1)
	if len(runs) != 1 || runs[0].Kind != "organize" {
		t.Fatalf("run not recorded: %+v", runs)
	}
}

func TestOrganizeContextCancellation(t *testing.T) {
	db, _, o := testSetup(t, &fakeAnalyzer{annotation: goodAnnotation()})
	addCollected(t, db, "arxiv:1", "Paper One")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := o.Organize(ctx, "", false); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
