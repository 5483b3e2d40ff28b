// Package organize drives the per-paper enrichment pipeline: extract
// text, run analysis, merge the annotation, update the citation graph,
// and materialize the note.
package organize

import (
	"context"
	"errors"
	"log"

	"github.com/TobiSchelling/PaperTrail/internal/analyze"
	"github.com/TobiSchelling/PaperTrail/internal/catalog"
	"github.com/TobiSchelling/PaperTrail/internal/graph"
	"github.com/TobiSchelling/PaperTrail/internal/notes"
	"github.com/TobiSchelling/PaperTrail/internal/reconcile"
)

// Report summarizes one organization run.
type Report struct {
	Organized int `json:"organized"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Orchestrator runs the organization pipeline over unorganized records.
type Orchestrator struct {
	db        *catalog.DB
	analyzer  analyze.Analyzer
	extractor *analyze.TextExtractor
	graph     *graph.Builder
	notes     *notes.Writer
	syncer    *reconcile.Syncer
}

func NewOrchestrator(db *catalog.DB, analyzer analyze.Analyzer, extractor *analyze.TextExtractor,
	g *graph.Builder, w *notes.Writer, syncer *reconcile.Syncer) *Orchestrator {
	return &Orchestrator{db: db, analyzer: analyzer, extractor: extractor, graph: g, notes: w, syncer: syncer}
}

// Organize enriches catalog records in state collected or pdf_fetched
// (all states with force), filtered by source. Each record is processed
// independently; a failure marks that record failed and the run moves
// on. Partial annotations are never committed.
func (o *Orchestrator) Organize(ctx context.Context, sourceFilter string, force bool) (*Report, error) {
	runID, err := o.db.StartRun("organize")
	if err != nil {
		return nil, err
	}

	if err := o.recoverFailed(sourceFilter); err != nil {
		return nil, err
	}

	candidates, err := o.selectCandidates(sourceFilter, force)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	if !force {
		done, err := o.db.List(catalog.Filter{
			States: []catalog.State{catalog.StateOrganized, catalog.StateNoteWritten},
			Source: sourceFilter,
		})
		if err != nil {
			return nil, err
		}
		report.Skipped = len(done)
	}
	for i := range candidates {
		p := &candidates[i]
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
		}

		if err := o.organizeOne(ctx, p); err != nil {
			report.Failed++
			log.Printf("Organization failed for %s: %v", p.IdentityKey, err)
			continue
		}
		report.Organized++
		log.Printf("Organized: %s", p.Title)
	}

	if err := o.rebuildIndex(); err != nil {
		log.Printf("Could not rebuild index note: %v", err)
	}

	log.Printf("Organization complete: %d organized, %d skipped, %d failed",
		report.Organized, report.Skipped, report.Failed)

	if err := o.db.FinishRun(runID, report); err != nil {
		log.Printf("Could not record run report: %v", err)
	}
	return report, nil
}

// recoverFailed moves failed records back to the state they failed from,
// making them candidates again.
func (o *Orchestrator) recoverFailed(sourceFilter string) error {
	failed, err := o.db.List(catalog.Filter{States: []catalog.State{catalog.StateFailed}, Source: sourceFilter})
	if err != nil {
		return err
	}
	for _, p := range failed {
		if p.PrevState == "" {
			continue
		}
		if err := o.db.Transition(p.IdentityKey, p.PrevState); err != nil {
			log.Printf("Could not recover %s: %v", p.IdentityKey, err)
		}
	}
	return nil
}

func (o *Orchestrator) selectCandidates(sourceFilter string, force bool) ([]catalog.Paper, error) {
	states := []catalog.State{catalog.StateCollected, catalog.StatePDFFetched}
	if force {
		states = append(states, catalog.StateOrganized, catalog.StateNoteWritten)
	}
	return o.db.List(catalog.Filter{States: states, Source: sourceFilter})
}

// organizeOne runs the full pipeline for a single record. Any error
// before the annotation merge leaves the record untouched except for a
// transient failed marker; errors after it leave a consistent
// intermediate state the next run picks up.
func (o *Orchestrator) organizeOne(ctx context.Context, p *catalog.Paper) error {
	text, err := o.extractor.Text(ctx, p)
	if err != nil {
		o.markFailed(p.IdentityKey)
		return err
	}

	ann, err := o.analyzer.Analyze(ctx, p, text)
	if err != nil {
		// The failed marker remembers the prior state; the next run
		// recovers and retries. No partial annotation is committed.
		o.markFailed(p.IdentityKey)
		return err
	}

	if err := o.graph.Update(p.IdentityKey, ann.ReferenceList); err != nil {
		o.markFailed(p.IdentityKey)
		return err
	}

	refs, err := o.referencesFor(p.IdentityKey)
	if err != nil {
		refs = ann.ReferenceList
	}
	if err := o.db.SetAnnotation(p.IdentityKey, ann, refs); err != nil {
		o.markFailed(p.IdentityKey)
		return err
	}

	if p.State == catalog.StateCollected || p.State == catalog.StatePDFFetched {
		if err := o.db.Transition(p.IdentityKey, catalog.StateOrganized); err != nil {
			return err
		}
	}

	return o.writeNote(p.IdentityKey)
}

// referencesFor combines resolved citation edges with still-pending raw
// strings; the pending ones are retried on later runs.
func (o *Orchestrator) referencesFor(key string) ([]string, error) {
	resolved, err := o.graph.Neighbors(key, graph.Outgoing)
	if err != nil {
		return nil, err
	}
	pending, err := o.db.PendingFor(key)
	if err != nil {
		return nil, err
	}
	refs := resolved
	for _, pc := range pending {
		refs = append(refs, pc.RawText)
	}
	return refs, nil
}

// writeNote materializes the note and advances to note_written only
// after reconciliation confirms the file landed.
func (o *Orchestrator) writeNote(key string) error {
	p, err := o.db.Get(key)
	if err != nil {
		return err
	}

	notePath, err := o.notes.WriteNote(p)
	if err != nil {
		o.markFailed(key)
		return err
	}
	if err := o.db.SetArtifactPaths(key, nil, nil, &notePath); err != nil {
		return err
	}

	r, err := o.syncer.Reconcile(key)
	if err != nil {
		return err
	}
	if r.Demoted || len(r.MissingArtifacts) > 0 {
		o.markFailed(key)
		return errors.New("note write not confirmed on disk")
	}

	p, err = o.db.Get(key)
	if err != nil {
		return err
	}
	if p.State == catalog.StateOrganized {
		return o.db.Transition(key, catalog.StateNoteWritten)
	}
	return nil
}

func (o *Orchestrator) markFailed(key string) {
	if err := o.db.Transition(key, catalog.StateFailed); err != nil {
		log.Printf("Could not mark %s failed: %v", key, err)
	}
}

func (o *Orchestrator) rebuildIndex() error {
	papers, err := o.db.List(catalog.Filter{})
	if err != nil {
		return err
	}
	return o.notes.RebuildIndex(papers)
}
