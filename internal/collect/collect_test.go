package collect

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/TobiSchelling/PaperTrail/internal/catalog"
	"github.com/TobiSchelling/PaperTrail/internal/fetch"
	"github.com/TobiSchelling/PaperTrail/internal/library"
	"github.com/TobiSchelling/PaperTrail/internal/source"
)

type fakeClient struct {
	name    string
	records []source.RawPaper
	err     error
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) Search(ctx context.Context, category string, limit int) ([]source.RawPaper, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit > 0 && limit < len(f.records) {
		return f.records[:limit], nil
	}
	return f.records, nil
}

func testOrchestrator(t *testing.T) (*catalog.DB, *library.Layout, *Orchestrator) {
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
	return db, layout, NewOrchestrator(db, layout, fetch.NewFetcher(5*time.Second), 2)
}

func rawPapers(n int, pdfURL string) []source.RawPaper {
	records := make([]source.RawPaper, n)
	for i := range records {
		records[i] = source.RawPaper{
			Source:     source.Arxiv,
			Identifier: fmt.Sprintf("2301.%05d", i+1),
			Title:      fmt.Sprintf("Paper Number %d", i+1),
			Authors:    []string{"Ada Lovelace"},
			Year:       2023,
			Categories: []string{"cs.AI"},
			PDFURL:     pdfURL,
		}
	}
	return records
}

func TestCollectThenRerunIsIdempotent(t *testing.T) {
	db, _, o := testOrchestrator(t)
	specs := []SourceSpec{{
		Client:     &fakeClient{name: source.Arxiv, records: rawPapers(5, "")},
		Categories: []string{"cs.AI"},
	}}

	report, err := o.Collect(context.Background(), specs, 5, false)
	if err != nil {
		t.Fatal(err)
	}
	if report.Added != 5 || report.SkippedDuplicate != 0 || report.Failed != 0 {
		t.Fatalf("first run: %+v", report)
	}

	report, err = o.Collect(context.Background(), specs, 5, false)
	if err != nil {
		t.Fatal(err)
	}
	if report.Added != 0 || report.SkippedDuplicate != 5 || report.Failed != 0 {
		t.Fatalf("second run: %+v", report)
	}

	stats, _ := db.Stats()
	if stats.TotalPapers != 5 {
		t.Errorf("expected 5 papers, got %d", stats.TotalPapers)
	}
}

func TestCollectCrossSourceDedup(t *testing.T) {
	db, _, o := testOrchestrator(t)

	arxiv := &fakeClient{name: source.Arxiv, records: []source.RawPaper{{
		Source: source.Arxiv, Identifier: "2301.00001",
		Title: "Shared Paper", Authors: []string{"Ada Lovelace"}, Year: 2023,
	}}}
	// Same paper from the reference manager, no shared identifier.
	zotero := &fakeClient{name: source.Zotero, records: []source.RawPaper{{
		Source: source.Zotero, Identifier: "ZKEY1",
		Title: "Shared Paper!", Authors: []string{"Ada Lovelace"}, Year: 2023,
		Abstract: "Only zotero has the abstract.",
	}}}

	report, err := o.Collect(context.Background(), []SourceSpec{
		{Client: arxiv, Categories: []string{"cs.AI"}},
		{Client: zotero},
	}, 10, false)
	if err != nil {
		t.Fatal(err)
	}
	if report.Added != 1 || report.SkippedDuplicate != 1 {
		t.Fatalf("expected cross-source dedup, got %+v", report)
	}

	p, err := db.Get("arxiv:2301.00001")
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Provenance) != 2 {
		t.Errorf("expected both sources in provenance, got %v", p.Provenance)
	}
	if p.Abstract != "Only zotero has the abstract." {
		t.Errorf("duplicate sighting must fill empty fields, got %q", p.Abstract)
	}
}

func TestCollectMalformedRecordCounted(t *testing.T) {
	_, _, o := testOrchestrator(t)
	records := rawPapers(2, "")
	records = append(records, source.RawPaper{Source: source.Arxiv}) // no title, no id

	report, err := o.Collect(context.Background(), []SourceSpec{{
		Client:     &fakeClient{name: source.Arxiv, records: records},
		Categories: []string{"cs.AI"},
	}}, 10, false)
	if err != nil {
		t.Fatal(err)
	}
	if report.Added != 2 || report.Failed != 1 {
		t.Fatalf("expected one failure, got %+v", report)
	}
}

func TestCollectDownloadsPDFs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("%PDF-1.4 body"))
	}))
	defer srv.Close()

	db, layout, o := testOrchestrator(t)
	report, err := o.Collect(context.Background(), []SourceSpec{{
		Client:     &fakeClient{name: source.Arxiv, records: rawPapers(3, srv.URL+"/p.pdf")},
		Categories: []string{"cs.AI"},
	}}, 10, false)
	if err != nil {
		t.Fatal(err)
	}
	if report.Downloaded != 3 {
		t.Fatalf("expected 3 downloads, got %+v", report)
	}

	p, _ := db.Get("arxiv:2301.00001")
	if p.State != catalog.StatePDFFetched {
		t.Errorf("expected pdf_fetched, got %s", p.State)
	}
	if p.PDFPath != layout.PDFPath(p.IdentityKey, 2023) {
		t.Errorf("unexpected pdf path: %s", p.PDFPath)
	}
	if !library.Exists(p.PDFPath) {
		t.Error("pdf not on disk")
	}
	if p.MetadataPath == "" || !library.Exists(p.MetadataPath) {
		t.Error("metadata sidecar not written")
	}
}

func TestCollectForceRedownloads(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("%PDF-1.4 body"))
	}))
	defer srv.Close()

	_, _, o := testOrchestrator(t)
	specs := []SourceSpec{{
		Client:     &fakeClient{name: source.Arxiv, records: rawPapers(1, srv.URL+"/p.pdf")},
		Categories: []string{"cs.AI"},
	}}

	o.Collect(context.Background(), specs, 10, false)
	if hits != 1 {
		t.Fatalf("expected 1 download, got %d", hits)
	}

	// Without force the existing PDF is kept.
	report, _ := o.Collect(context.Background(), specs, 10, false)
	if hits != 1 || report.Downloaded != 0 {
		t.Fatalf("unforced rerun must not re-download (hits=%d, %+v)", hits, report)
	}

	report, _ = o.Collect(context.Background(), specs, 10, true)
	if hits != 2 || report.Downloaded != 1 {
		t.Fatalf("force must re-download (hits=%d, %+v)", hits, report)
	}
}

func TestCollectDownloadFailureCounted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	db, _, o := testOrchestrator(t)
	report, err := o.Collect(context.Background(), []SourceSpec{{
		Client:     &fakeClient{name: source.Arxiv, records: rawPapers(1, srv.URL+"/gone.pdf")},
		Categories: []string{"cs.AI"},
	}}, 10, false)
	if err != nil {
		t.Fatal(err)
	}
	if report.Added != 1 || report.Failed != 1 || report.Downloaded != 0 {
		t.Fatalf("expected failed download in report, got %+v", report)
	}

	// Record stays collected, ready for the next attempt.
	p, _ := db.Get("arxiv:2301.00001")
	if p.State != catalog.StateCollected {
		t.Errorf("expected collected, got %s", p.State)
	}
}

func TestCollectSourceErrorDoesNotAbort(t *testing.T) {
	_, _, o := testOrchestrator(t)
	report, err := o.Collect(context.Background(), []SourceSpec{
		{Client: &fakeClient{name: source.Arxiv, err: fmt.Errorf("api down")}, Categories: []string{"cs.AI"}},
		{Client: &fakeClient{name: source.Zotero, records: rawPapers(2, "")}},
	}, 10, false)
	if err != nil {
		t.Fatal(err)
	}
	if report.Added != 2 || report.Failed != 1 {
		t.Fatalf("one dead source must not block the other: %+v", report)
	}
}

func TestCollectRecordsRun(t *testing.T) {
	db, _, o := testOrchestrator(t)
	if _, err := o.Collect(context.Background(), nil, 0, false); err != nil {
		t.Fatal(err)
	}
	runs, err := db.RecentRuns(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Kind != "collect" {
		t.Fatalf("run not recorded: %+v", runs)
	}
	if runs[0].FinishedAt == nil {
		t.Error("run never finished")
	}
}
