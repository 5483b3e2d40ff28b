// Package notes materializes catalog records as an Obsidian-style
// markdown corpus: one note per organized paper plus an index document.
package notes

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/TobiSchelling/PaperTrail/internal/catalog"
	"github.com/TobiSchelling/PaperTrail/internal/library"
)

// Writer renders notes into the library's notes directory. It never
// mutates the catalog; callers record the returned path and confirm the
// write through reconciliation before advancing state.
type Writer struct {
	layout *library.Layout
}

func NewWriter(layout *library.Layout) *Writer {
	return &Writer{layout: layout}
}

// WriteNote renders one paper's note and returns its path. The paper
// must carry an annotation.
func (w *Writer) WriteNote(p *catalog.Paper) (string, error) {
	if p.Annotation == nil {
		return "", fmt.Errorf("paper %s has no annotation", p.IdentityKey)
	}

	path := w.layout.NotePath(p.IdentityKey)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create notes dir: %w", err)
	}

	content := renderNote(p)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write note: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to finalize note: %w", err)
	}
	return path, nil
}

func renderNote(p *catalog.Paper) string {
	ann := p.Annotation
	var b strings.Builder

	b.WriteString("---\n")
	fmt.Fprintf(&b, "title: %q\n", p.Title)
	if len(p.Authors) > 0 {
		b.WriteString("authors:\n")
		for _, a := range p.Authors {
			fmt.Fprintf(&b, "  - %q\n", a)
		}
	}
	if p.Year > 0 {
		fmt.Fprintf(&b, "year: %d\n", p.Year)
	}
	fmt.Fprintf(&b, "identity_key: %s\n", p.IdentityKey)
	if p.DOI != "" {
		fmt.Fprintf(&b, "doi: %s\n", p.DOI)
	}
	if len(ann.Tags) > 0 {
		b.WriteString("tags:\n")
		for _, tag := range ann.Tags {
			fmt.Fprintf(&b, "  - %s\n", tag)
		}
	}
	b.WriteString("---\n\n")

	fmt.Fprintf(&b, "# %s\n\n", p.Title)
	if len(p.Authors) > 0 {
		fmt.Fprintf(&b, "*%s*", strings.Join(p.Authors, ", "))
		if p.Year > 0 {
			fmt.Fprintf(&b, " (%d)", p.Year)
		}
		b.WriteString("\n\n")
	}
	if p.URL != "" {
		fmt.Fprintf(&b, "[Source](%s)\n\n", p.URL)
	}

	b.WriteString("## Summary\n\n")
	b.WriteString(strings.TrimSpace(ann.Summary))
	b.WriteString("\n")

	if len(ann.KeyMethods) > 0 {
		b.WriteString("\n## Key Methods\n\n")
		for _, m := range ann.KeyMethods {
			fmt.Fprintf(&b, "- %s\n", m)
		}
	}
	if len(ann.Contributions) > 0 {
		b.WriteString("\n## Contributions\n\n")
		for _, c := range ann.Contributions {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	if len(p.References) > 0 {
		b.WriteString("\n## Cites\n\n")
		for _, ref := range p.References {
			fmt.Fprintf(&b, "- [[%s]]\n", library.Slug(ref))
		}
	}
	if len(ann.Tags) > 0 {
		b.WriteString("\n")
		for i, tag := range ann.Tags {
			if i > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "#%s", tag)
		}
		b.WriteString("\n")
	}

	return b.String()
}

// RebuildIndex rewrites the index note from all papers that have notes,
// grouped by year, newest first.
func (w *Writer) RebuildIndex(papers []catalog.Paper) error {
	withNotes := make([]catalog.Paper, 0, len(papers))
	for _, p := range papers {
		if p.NotePath != "" {
			withNotes = append(withNotes, p)
		}
	}
	sort.Slice(withNotes, func(i, j int) bool {
		if withNotes[i].Year != withNotes[j].Year {
			return withNotes[i].Year > withNotes[j].Year
		}
		return withNotes[i].Title < withNotes[j].Title
	})

	var b strings.Builder
	b.WriteString("# Paper Library\n\n")
	fmt.Fprintf(&b, "%d organized papers.\n", len(withNotes))

	lastYear := -1
	for _, p := range withNotes {
		if p.Year != lastYear {
			lastYear = p.Year
			if p.Year > 0 {
				fmt.Fprintf(&b, "\n## %d\n\n", p.Year)
			} else {
				b.WriteString("\n## Unknown Year\n\n")
			}
		}
		fmt.Fprintf(&b, "- [[%s|%s]]", library.Slug(p.IdentityKey), p.Title)
		if len(p.Authors) > 0 {
			fmt.Fprintf(&b, " - %s", p.Authors[0])
			if len(p.Authors) > 1 {
				b.WriteString(" et al.")
			}
		}
		b.WriteString("\n")
	}

	path := w.layout.IndexPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create notes dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	return nil
}
