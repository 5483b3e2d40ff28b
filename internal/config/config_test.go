package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := parse([]byte("{}"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Sources.Arxiv.Enabled {
		t.Error("expected arxiv enabled by default")
	}
	if len(cfg.Sources.Arxiv.Categories) != 4 {
		t.Errorf("expected 4 default categories, got %d", len(cfg.Sources.Arxiv.Categories))
	}
	if cfg.Library.PapersPerCategory != 100 {
		t.Errorf("expected default papers_per_category 100, got %d", cfg.Library.PapersPerCategory)
	}
	if cfg.Library.DownloadConcurrency != 5 {
		t.Errorf("expected default download_concurrency 5, got %d", cfg.Library.DownloadConcurrency)
	}
	if cfg.Sync.OrphanPolicy != "review" {
		t.Errorf("expected default orphan_policy review, got %q", cfg.Sync.OrphanPolicy)
	}
}

func TestParseOverrides(t *testing.T) {
	yaml := `
sources:
  arxiv:
    categories: [cs.CL]
library:
  papers_per_category: 10
  download_concurrency: 2
sync:
  orphan_policy: adopt
`
	cfg, err := parse([]byte(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Sources.Arxiv.Categories) != 1 || cfg.Sources.Arxiv.Categories[0] != "cs.CL" {
		t.Errorf("categories not overridden: %v", cfg.Sources.Arxiv.Categories)
	}
	if cfg.Library.PapersPerCategory != 10 {
		t.Errorf("expected 10, got %d", cfg.Library.PapersPerCategory)
	}
	if cfg.Sync.OrphanPolicy != "adopt" {
		t.Errorf("expected adopt, got %q", cfg.Sync.OrphanPolicy)
	}
}

func TestParseInvalidOrphanPolicy(t *testing.T) {
	_, err := parse([]byte("sync:\n  orphan_policy: yolo\n"))
	if err == nil {
		t.Fatal("expected error for invalid orphan policy")
	}
}

func TestParseDefaultEmbedded(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		t.Fatalf("default config must parse: %v", err)
	}
	if cfg.Analysis.Provider != "ollama" {
		t.Errorf("expected ollama provider, got %q", cfg.Analysis.Provider)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestResolveConfigPathExplicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := ResolveConfigPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != path {
		t.Errorf("expected %s, got %s", path, got)
	}

	if _, err := ResolveConfigPath(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing explicit path")
	}
}

func TestLibraryRoot(t *testing.T) {
	cfg := &Config{}
	if cfg.LibraryRoot() == "" {
		t.Error("expected non-empty default library root")
	}
	cfg.Library.Root = "/tmp/lib"
	if cfg.LibraryRoot() != "/tmp/lib" {
		t.Errorf("expected /tmp/lib, got %s", cfg.LibraryRoot())
	}
}
