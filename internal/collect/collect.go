// Package collect drives source clients, feeds raw records through
// identity resolution into the catalog, and downloads PDFs for new
// papers.
package collect

import (
	"context"
	"errors"
	"log"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/PaperTrail/internal/catalog"
	"github.com/TobiSchelling/PaperTrail/internal/fetch"
	"github.com/TobiSchelling/PaperTrail/internal/identity"
	"github.com/TobiSchelling/PaperTrail/internal/library"
	"github.com/TobiSchelling/PaperTrail/internal/source"
)

// Report summarizes one collection run.
type Report struct {
	Added            int `json:"added"`
	SkippedDuplicate int `json:"skipped_duplicate"`
	Failed           int `json:"failed"`
	Downloaded       int `json:"downloaded"`
}

// SourceSpec names one client and the categories to query it with. An
// empty category list runs a single unscoped query (the reference
// manager has no category axis).
type SourceSpec struct {
	Client     source.Client
	Categories []string
}

// Orchestrator runs collection: resolve, upsert, download.
type Orchestrator struct {
	db          *catalog.DB
	layout      *library.Layout
	fetcher     *fetch.Fetcher
	concurrency int
}

func NewOrchestrator(db *catalog.DB, layout *library.Layout, fetcher *fetch.Fetcher, downloadConcurrency int) *Orchestrator {
	if downloadConcurrency < 1 {
		downloadConcurrency = 1
	}
	return &Orchestrator{db: db, layout: layout, fetcher: fetcher, concurrency: downloadConcurrency}
}

// Collect pulls up to limit records per category from each source,
// dedupes them against the catalog, and downloads PDFs for everything
// new. With force, duplicates get their PDF re-fetched too. Per-record
// failures are counted, never fatal.
func (o *Orchestrator) Collect(ctx context.Context, specs []SourceSpec, limit int, force bool) (*Report, error) {
	runID, err := o.db.StartRun("collect")
	if err != nil {
		return nil, err
	}

	resolver, err := o.seedResolver()
	if err != nil {
		return nil, err
	}

	report := &Report{}
	var toDownload []string
	queued := map[string]struct{}{}

	for _, spec := range specs {
		categories := spec.Categories
		if len(categories) == 0 {
			categories = []string{""}
		}
		for _, category := range categories {
			records, err := spec.Client.Search(ctx, category, limit)
			if err != nil {
				log.Printf("Search failed for %s %q: %v", spec.Client.Name(), category, err)
				report.Failed++
				continue
			}

			for _, raw := range records {
				key, added, err := o.ingest(resolver, raw, report)
				if err != nil {
					continue
				}
				if _, dup := queued[key]; !dup && (added || force) {
					queued[key] = struct{}{}
					toDownload = append(toDownload, key)
				}
			}
		}
	}

	report.Downloaded = o.downloadPDFs(ctx, toDownload, force, report)

	log.Printf("Collection complete: %d added, %d duplicates, %d failed, %d PDFs downloaded",
		report.Added, report.SkippedDuplicate, report.Failed, report.Downloaded)

	if err := o.db.FinishRun(runID, report); err != nil {
		log.Printf("Could not record run report: %v", err)
	}
	return report, nil
}

// seedResolver loads every known identity into a fresh resolver so new
// sightings of cataloged papers resolve as duplicates.
func (o *Orchestrator) seedResolver() (*identity.Resolver, error) {
	papers, err := o.db.List(catalog.Filter{})
	if err != nil {
		return nil, err
	}
	resolver := identity.NewResolver()
	for _, p := range papers {
		first := ""
		if len(p.Authors) > 0 {
			first = p.Authors[0]
		}
		aliases := []string{identity.FallbackKey(p.Title, first)}
		if p.DOI != "" {
			aliases = append(aliases, "doi:"+strings.ToLower(p.DOI))
		}
		resolver.Seed(p.IdentityKey, aliases...)
	}
	return resolver, nil
}

// ingest resolves and upserts one raw record, updating the report. The
// returned bool is true for a first sighting.
func (o *Orchestrator) ingest(resolver *identity.Resolver, raw source.RawPaper, report *Report) (string, bool, error) {
	key, dup, err := resolver.Resolve(raw)
	if err != nil {
		if errors.Is(err, identity.ErrMalformedRecord) {
			log.Printf("Skipping malformed record from %s: %v", raw.Source, err)
		}
		report.Failed++
		return "", false, err
	}

	p := &catalog.Paper{
		IdentityKey: key,
		Source:      raw.Source,
		Title:       raw.Title,
		Authors:     raw.Authors,
		Year:        raw.Year,
		Categories:  raw.Categories,
		Abstract:    raw.Abstract,
		DOI:         raw.DOI,
		PDFURL:      raw.PDFURL,
		URL:         raw.URL,
	}
	merged, err := o.db.Upsert(p)
	if err != nil {
		log.Printf("Upsert failed for %s: %v", key, err)
		report.Failed++
		return "", false, err
	}

	if metaPath, err := o.writeSidecar(merged); err != nil {
		log.Printf("Could not write metadata for %s: %v", key, err)
	} else if merged.MetadataPath != metaPath {
		if err := o.db.SetArtifactPaths(key, nil, &metaPath, nil); err != nil {
			log.Printf("Could not record metadata path for %s: %v", key, err)
		}
	}

	if dup {
		report.SkippedDuplicate++
		return key, false, nil
	}
	report.Added++
	return key, true, nil
}

func (o *Orchestrator) writeSidecar(p *catalog.Paper) (string, error) {
	return o.layout.WriteMetadata(&library.Metadata{
		IdentityKey: p.IdentityKey,
		Source:      p.Source,
		Title:       p.Title,
		Authors:     p.Authors,
		Year:        p.Year,
		Categories:  p.Categories,
		Abstract:    p.Abstract,
		DOI:         p.DOI,
		PDFURL:      p.PDFURL,
		URL:         p.URL,
	})
}

// downloadPDFs fetches PDFs for the given keys with a bounded worker
// pool. Returns the number of successful downloads; failures are added
// to the report.
func (o *Orchestrator) downloadPDFs(ctx context.Context, keys []string, force bool, report *Report) int {
	type outcome struct{ downloaded, failed bool }
	results := make([]outcome, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)

	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			p, err := o.db.Get(key)
			if err != nil || p.PDFURL == "" {
				return nil
			}
			if !force && library.Exists(p.PDFPath) {
				return nil
			}

			dest := o.layout.PDFPath(key, p.Year)
			if err := o.fetcher.DownloadPDF(gctx, p.PDFURL, dest); err != nil {
				log.Printf("PDF download failed for %s: %v", key, err)
				results[i].failed = true
				return nil
			}

			if err := o.db.SetArtifactPaths(key, &dest, nil, nil); err != nil {
				results[i].failed = true
				return nil
			}
			if p.State == catalog.StateCollected {
				if err := o.db.Transition(key, catalog.StatePDFFetched); err != nil {
					log.Printf("Could not advance %s: %v", key, err)
				}
			}
			results[i].downloaded = true
			return nil
		})
	}
	g.Wait()

	downloaded := 0
	for _, r := range results {
		if r.downloaded {
			downloaded++
		}
		if r.failed {
			report.Failed++
		}
	}
	return downloaded
}
