package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/PaperTrail/internal/analyze"
	"github.com/TobiSchelling/PaperTrail/internal/catalog"
	"github.com/TobiSchelling/PaperTrail/internal/collect"
	"github.com/TobiSchelling/PaperTrail/internal/config"
	"github.com/TobiSchelling/PaperTrail/internal/fetch"
	"github.com/TobiSchelling/PaperTrail/internal/graph"
	"github.com/TobiSchelling/PaperTrail/internal/identity"
	"github.com/TobiSchelling/PaperTrail/internal/library"
	"github.com/TobiSchelling/PaperTrail/internal/llm"
	"github.com/TobiSchelling/PaperTrail/internal/notes"
	"github.com/TobiSchelling/PaperTrail/internal/organize"
	"github.com/TobiSchelling/PaperTrail/internal/reconcile"
	"github.com/TobiSchelling/PaperTrail/internal/server"
	"github.com/TobiSchelling/PaperTrail/internal/source"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "papertrail",
	Short:   "A personal academic paper library",
	Long:    "PaperTrail collects papers from arXiv and Zotero, dedupes them into a catalog, downloads PDFs, and organizes everything into an annotated, citation-linked note corpus.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		} else {
			log.SetFlags(log.LstdFlags)
		}

		// API keys may live in a local .env file.
		_ = godotenv.Load()

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(organizeCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(viewCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(relatedCmd)
	rootCmd.AddCommand(flushCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("papertrail", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/papertrail/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure sources, categories, and the LLM provider.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show catalog and library status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.Stats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Library root: %s\n\n", cfg.LibraryRoot())
		fmt.Println("Papers:")
		fmt.Printf("  Total: %d\n", stats.TotalPapers)
		for _, s := range []catalog.State{
			catalog.StateCollected, catalog.StatePDFFetched,
			catalog.StateOrganized, catalog.StateNoteWritten, catalog.StateFailed,
		} {
			if n := stats.ByState[s]; n > 0 {
				fmt.Printf("  %s: %d\n", s, n)
			}
		}
		fmt.Println("\nArtifacts:")
		fmt.Printf("  With PDF: %d\n", stats.WithPDF)
		fmt.Printf("  With note: %d\n", stats.WithNote)
		fmt.Println("\nCitation graph:")
		fmt.Printf("  Edges: %d\n", stats.CitationEdges)
		fmt.Printf("  Pending citations: %d\n", stats.PendingCites)

		runs, err := db.RecentRuns(3)
		if err == nil && len(runs) > 0 {
			fmt.Println("\nRecent runs:")
			for _, r := range runs {
				when := ""
				if r.StartedAt != nil {
					when = r.StartedAt.Local().Format("2006-01-02 15:04")
				}
				fmt.Printf("  %s %s %s\n", when, r.Kind, r.Report)
			}
		}
		return nil
	},
}

// --- collect command ---

var (
	collectSource string
	collectLimit  int
	collectForce  bool
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect papers from configured sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		specs, err := sourceSpecs(collectSource)
		if err != nil {
			return err
		}

		limit := collectLimit
		if limit <= 0 {
			limit = cfg.Library.PapersPerCategory
		}

		layout := library.NewLayout(cfg.LibraryRoot())
		if err := layout.EnsureDirs(); err != nil {
			return err
		}

		orch := collect.NewOrchestrator(db, layout,
			fetch.NewFetcher(0), cfg.Library.DownloadConcurrency)
		report, err := orch.Collect(context.Background(), specs, limit, collectForce)
		if err != nil {
			return err
		}

		fmt.Println("\nCollection complete:")
		fmt.Printf("  Added: %d\n", report.Added)
		fmt.Printf("  Duplicates skipped: %d\n", report.SkippedDuplicate)
		fmt.Printf("  Failed: %d\n", report.Failed)
		fmt.Printf("  PDFs downloaded: %d\n", report.Downloaded)
		return nil
	},
}

func init() {
	collectCmd.Flags().StringVar(&collectSource, "source", "", "Collect from a single source (arxiv or zotero)")
	collectCmd.Flags().IntVar(&collectLimit, "limit", 0, "Papers per category (overrides config)")
	collectCmd.Flags().BoolVar(&collectForce, "force", false, "Re-download PDFs for known papers")
}

// --- organize command ---

var (
	organizeSource string
	organizeForce  bool
)

var organizeCmd = &cobra.Command{
	Use:   "organize",
	Short: "Analyze unorganized papers and write notes",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		layout := library.NewLayout(cfg.LibraryRoot())
		if err := layout.EnsureDirs(); err != nil {
			return err
		}

		provider := llm.CreateProvider(cfg.Analysis.Provider, cfg.Analysis.Model,
			cfg.Analysis.OllamaURL, cfg.Analysis.OpenAIModel, cfg.Analysis.APIKeyEnv)
		fetcher := fetch.NewFetcher(0)

		orch := organize.NewOrchestrator(db,
			analyze.NewLLMAnalyzer(provider, cfg.Analysis.MaxTokens),
			analyze.NewTextExtractor(fetcher),
			graph.NewBuilder(db),
			notes.NewWriter(layout),
			reconcile.NewSyncer(db, layout, cfg.Sync.OrphanPolicy))

		report, err := orch.Organize(context.Background(), organizeSource, organizeForce)
		if err != nil {
			return err
		}

		fmt.Println("\nOrganization complete:")
		fmt.Printf("  Organized: %d\n", report.Organized)
		fmt.Printf("  Skipped: %d\n", report.Skipped)
		fmt.Printf("  Failed: %d\n", report.Failed)
		return nil
	},
}

func init() {
	organizeCmd.Flags().StringVar(&organizeSource, "source", "", "Organize papers from a single source")
	organizeCmd.Flags().BoolVar(&organizeForce, "force", false, "Re-analyze already organized papers")
}

// --- sync command ---

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile the catalog against the library on disk",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		layout := library.NewLayout(cfg.LibraryRoot())
		syncer := reconcile.NewSyncer(db, layout, cfg.Sync.OrphanPolicy)

		report, err := syncer.SyncAll(identity.NewResolver())
		if err != nil {
			return err
		}

		fmt.Println("Sync complete:")
		fmt.Printf("  Records checked: %d\n", report.Checked)
		fmt.Printf("  Demoted: %d\n", report.Demoted)
		fmt.Printf("  Orphans adopted: %d\n", report.Adopted)
		if len(report.OrphansToReview) > 0 {
			fmt.Println("\nOrphaned files needing review:")
			for _, path := range report.OrphansToReview {
				fmt.Printf("  %s\n", path)
			}
		}
		if len(report.BrokenSidecars) > 0 {
			fmt.Println("\nUnreadable metadata files:")
			for _, path := range report.BrokenSidecars {
				fmt.Printf("  %s\n", path)
			}
		}
		return nil
	},
}

// --- view command ---

var viewState string

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "List catalog entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		filter := catalog.Filter{}
		if viewState != "" {
			filter.States = []catalog.State{catalog.State(viewState)}
		}
		papers, err := db.List(filter)
		if err != nil {
			return err
		}

		if len(papers) == 0 {
			fmt.Println("Catalog is empty.")
			return nil
		}
		for _, p := range papers {
			year := "----"
			if p.Year > 0 {
				year = strconv.Itoa(p.Year)
			}
			fmt.Printf("%-32s %s %-12s %s\n", p.IdentityKey, year, p.State, p.Title)
		}
		return nil
	},
}

func init() {
	viewCmd.Flags().StringVar(&viewState, "state", "", "Only show papers in this state")
}

// --- export command ---

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the catalog as CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		papers, err := db.List(catalog.Filter{})
		if err != nil {
			return err
		}

		out := os.Stdout
		if exportOut != "" {
			f, err := os.Create(exportOut)
			if err != nil {
				return fmt.Errorf("creating export file: %w", err)
			}
			defer f.Close()
			out = f
		}

		w := csv.NewWriter(out)
		w.Write([]string{"identity_key", "title", "authors", "year", "source", "provenance",
			"categories", "doi", "state", "pdf_path", "note_path"})
		for _, p := range papers {
			year := ""
			if p.Year > 0 {
				year = strconv.Itoa(p.Year)
			}
			w.Write([]string{
				p.IdentityKey, p.Title, strings.Join(p.Authors, "; "), year,
				p.Source, strings.Join(p.Provenance, "; "),
				strings.Join(p.Categories, "; "), p.DOI,
				string(p.State), p.PDFPath, p.NotePath,
			})
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return fmt.Errorf("writing csv: %w", err)
		}
		if exportOut != "" {
			fmt.Printf("Exported %d papers to %s\n", len(papers), exportOut)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Write CSV to a file instead of stdout")
}

// --- related command ---

var relatedCmd = &cobra.Command{
	Use:   "related <identity-key>",
	Short: "Show the citation component of a paper",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		key := args[0]
		if _, err := db.Get(key); err != nil {
			return fmt.Errorf("unknown paper %s: %w", key, err)
		}

		g := graph.NewBuilder(db)
		component, err := g.Component(key)
		if err != nil {
			return err
		}

		if len(component) == 1 {
			fmt.Printf("%s has no citation links yet.\n", key)
			return nil
		}
		fmt.Printf("Citation component of %s (%d papers):\n", key, len(component))
		for _, k := range component {
			p, err := db.Get(k)
			if err != nil {
				continue
			}
			marker := " "
			if k == key {
				marker = "*"
			}
			fmt.Printf("%s %-32s %s\n", marker, k, p.Title)
		}
		return nil
	},
}

// --- flush command ---

var flushNotesOnly bool

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Delete catalog data (with --notes-only: keep papers and PDFs, reset organization)",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		layout := library.NewLayout(cfg.LibraryRoot())

		if flushNotesOnly {
			papers, err := db.List(catalog.Filter{})
			if err != nil {
				return err
			}
			for _, p := range papers {
				if p.NotePath != "" {
					os.Remove(p.NotePath)
				}
			}
			os.Remove(layout.IndexPath())

			n, err := db.FlushOrganization()
			if err != nil {
				return err
			}
			fmt.Printf("Reset organization for %d papers. Catalog and PDFs kept.\n", n)
			return nil
		}

		papers, err := db.List(catalog.Filter{})
		if err != nil {
			return err
		}
		for _, p := range papers {
			for _, path := range []string{p.PDFPath, p.MetadataPath, p.NotePath} {
				if path != "" {
					os.Remove(path)
				}
			}
		}
		os.Remove(layout.IndexPath())

		n, err := db.FlushAll()
		if err != nil {
			return err
		}
		fmt.Printf("Flushed %d papers, their artifacts, and the citation graph.\n", n)
		return nil
	},
}

func init() {
	flushCmd.Flags().BoolVar(&flushNotesOnly, "notes-only", false, "Only delete notes and annotations")
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the library viewer",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		return server.Serve(db, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides config)")
}

// --- helpers ---

func openDB() (*catalog.DB, error) {
	root := cfg.LibraryRoot()
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating library root: %w", err)
	}
	return catalog.Open(filepath.Join(root, "papertrail.db"))
}

// sourceSpecs builds the enabled source clients, optionally restricted
// to a single named source.
func sourceSpecs(only string) ([]collect.SourceSpec, error) {
	var specs []collect.SourceSpec

	if cfg.Sources.Arxiv.Enabled && (only == "" || only == source.Arxiv) {
		specs = append(specs, collect.SourceSpec{
			Client:     source.NewArxivClient(cfg.Sources.Arxiv.BaseURL),
			Categories: cfg.Sources.Arxiv.Categories,
		})
	}
	if cfg.Sources.Zotero.Enabled && (only == "" || only == source.Zotero) {
		z := cfg.Sources.Zotero
		specs = append(specs, collect.SourceSpec{
			Client: source.NewZoteroClient(z.BaseURL,
				os.Getenv(z.LibraryIDEnv), z.LibraryType, os.Getenv(z.APIKeyEnv)),
		})
	}

	if len(specs) == 0 {
		if only != "" {
			return nil, fmt.Errorf("source %q is unknown or disabled in config", only)
		}
		return nil, fmt.Errorf("no sources enabled in config")
	}
	return specs, nil
}
