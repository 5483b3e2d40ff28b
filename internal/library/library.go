// Package library defines the on-disk layout of the paper library and the
// metadata sidecars that make files re-adoptable after a catalog loss.
package library

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Layout maps identity keys to artifact paths under a library root.
//
//	<root>/pdf/<year>/<slug>.pdf
//	<root>/metadata/<slug>.json
//	<root>/notes/<slug>.md
//	<root>/notes/index.md
type Layout struct {
	Root string
}

func NewLayout(root string) *Layout {
	return &Layout{Root: root}
}

// EnsureDirs creates the library skeleton.
func (l *Layout) EnsureDirs() error {
	for _, dir := range []string{l.PDFDir(), l.MetadataDir(), l.NotesDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create library dir: %w", err)
		}
	}
	return nil
}

func (l *Layout) PDFDir() string      { return filepath.Join(l.Root, "pdf") }
func (l *Layout) MetadataDir() string { return filepath.Join(l.Root, "metadata") }
func (l *Layout) NotesDir() string    { return filepath.Join(l.Root, "notes") }

// PDFPath returns the canonical PDF location for a paper. Papers with an
// unknown year land in pdf/unknown/.
func (l *Layout) PDFPath(identityKey string, year int) string {
	bucket := "unknown"
	if year > 0 {
		bucket = fmt.Sprintf("%d", year)
	}
	return filepath.Join(l.PDFDir(), bucket, Slug(identityKey)+".pdf")
}

func (l *Layout) MetadataPath(identityKey string) string {
	return filepath.Join(l.MetadataDir(), Slug(identityKey)+".json")
}

func (l *Layout) NotePath(identityKey string) string {
	return filepath.Join(l.NotesDir(), Slug(identityKey)+".md")
}

func (l *Layout) IndexPath() string {
	return filepath.Join(l.NotesDir(), "index.md")
}

// Slug turns an identity key into a filesystem-safe name. Keys like
// "arxiv:2301.07041" or "doi:10.1000/xyz" become "arxiv-2301.07041" and
// "doi-10.1000-xyz".
func Slug(identityKey string) string {
	var b strings.Builder
	for _, r := range identityKey {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}

// Metadata is the JSON sidecar written next to each managed artifact set.
// It carries enough identity to re-adopt the files if the catalog row is
// ever lost.
type Metadata struct {
	IdentityKey string   `json:"identity_key"`
	Source      string   `json:"source,omitempty"`
	Title       string   `json:"title"`
	Authors     []string `json:"authors,omitempty"`
	Year        int      `json:"year,omitempty"`
	Categories  []string `json:"categories,omitempty"`
	Abstract    string   `json:"abstract,omitempty"`
	DOI         string   `json:"doi,omitempty"`
	PDFURL      string   `json:"pdf_url,omitempty"`
	URL         string   `json:"url,omitempty"`
}

// WriteMetadata writes the sidecar atomically and returns its path.
func (l *Layout) WriteMetadata(meta *Metadata) (string, error) {
	if meta.IdentityKey == "" {
		return "", fmt.Errorf("metadata has no identity key")
	}
	path := l.MetadataPath(meta.IdentityKey)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create metadata dir: %w", err)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write metadata: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to finalize metadata: %w", err)
	}
	return path, nil
}

// ReadMetadata reads a sidecar from an explicit path (used when adopting
// orphaned files whose slug is not yet known to the catalog).
func ReadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata %s: %w", path, err)
	}
	return &meta, nil
}

// ScanMetadata walks the metadata directory and returns every sidecar
// found, keyed by its path. Unreadable sidecars are returned in broken.
func (l *Layout) ScanMetadata() (found map[string]*Metadata, broken []string, err error) {
	found = map[string]*Metadata{}

	entries, err := os.ReadDir(l.MetadataDir())
	if err != nil {
		if os.IsNotExist(err) {
			return found, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to scan metadata dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(l.MetadataDir(), entry.Name())
		meta, err := ReadMetadata(path)
		if err != nil || meta.IdentityKey == "" {
			broken = append(broken, path)
			continue
		}
		found[path] = meta
	}
	return found, broken, nil
}

// ScanPDFs returns every PDF file under pdf/, keyed by slug (filename
// without extension).
func (l *Layout) ScanPDFs() (map[string]string, error) {
	pdfs := map[string]string{}
	err := filepath.WalkDir(l.PDFDir(), func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".pdf") {
			return nil
		}
		pdfs[strings.TrimSuffix(d.Name(), ".pdf")] = path
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan pdf dir: %w", err)
	}
	return pdfs, nil
}

// Exists reports whether path names an existing regular file. An empty
// path is simply "no artifact claimed" and returns false.
func Exists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
