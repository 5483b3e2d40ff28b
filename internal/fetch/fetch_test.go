package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDownloadPDF(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("%PDF-1.4 fake pdf body"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "2023", "arxiv-1.pdf")
	f := NewFetcher(5 * time.Second)
	if err := f.DownloadPDF(context.Background(), srv.URL, dest); err != nil {
		t.Fatalf("download failed: %v", err)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("pdf not written: %v", err)
	}
	if string(data) != "%PDF-1.4 fake pdf body" {
		t.Errorf("unexpected pdf content: %q", data)
	}
	if _, err := os.Stat(dest + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}

func TestDownloadPDFRejectsNonPDF(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not a pdf</html>"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "x.pdf")
	f := NewFetcher(5 * time.Second)
	err := f.DownloadPDF(context.Background(), srv.URL, dest)
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed, got %v", err)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Error("destination must not exist after rejected download")
	}
}

func TestDownloadPDFServerErrorShortCircuitsDomain(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewFetcher(5 * time.Second)
	dir := t.TempDir()

	err := f.DownloadPDF(context.Background(), srv.URL+"/a.pdf", filepath.Join(dir, "a.pdf"))
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed, got %v", err)
	}

	// Second request to the same host must not reach the server.
	err = f.DownloadPDF(context.Background(), srv.URL+"/b.pdf", filepath.Join(dir, "b.pdf"))
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed, got %v", err)
	}
	if hits != 1 {
		t.Errorf("expected 1 hit after domain short-circuit, got %d", hits)
	}
}

func TestDownloadPDFNotFoundDoesNotKillDomain(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if r.URL.Path == "/missing.pdf" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("%PDF-1.4"))
	}))
	defer srv.Close()

	f := NewFetcher(5 * time.Second)
	dir := t.TempDir()

	if err := f.DownloadPDF(context.Background(), srv.URL+"/missing.pdf", filepath.Join(dir, "a.pdf")); !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed, got %v", err)
	}
	if err := f.DownloadPDF(context.Background(), srv.URL+"/ok.pdf", filepath.Join(dir, "b.pdf")); err != nil {
		t.Fatalf("404 on one path must not block the host: %v", err)
	}
	if hits != 2 {
		t.Errorf("expected 2 hits, got %d", hits)
	}
}

func TestLandingText(t *testing.T) {
	page := `<html><head><title>Paper</title></head><body><article><h1>Deep Things</h1>` +
		`<p>This is a long enough paragraph of abstract text describing the paper in detail, ` +
		`covering its methods and contributions so that the extractor accepts it as content.</p>` +
		`</article></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(page))
	}))
	defer srv.Close()

	f := NewFetcher(5 * time.Second)
	text, err := f.LandingText(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("landing text failed: %v", err)
	}
	if len(text) < 100 {
		t.Errorf("expected substantial text, got %d bytes", len(text))
	}
}
