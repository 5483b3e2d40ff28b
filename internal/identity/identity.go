// Package identity derives stable deduplication keys for papers.
//
// A paper's identity key is built from its source-native identifier when
// one exists (DOI first, then arXiv ID, then Zotero key) and otherwise
// from a hash of the normalized title plus first-author surname. Both
// forms are tracked, so the same paper arriving later from a source
// without identifiers still resolves to the original record.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"unicode"

	"github.com/TobiSchelling/PaperTrail/internal/source"
)

// ErrMalformedRecord marks a raw record with neither a title nor a
// source-native identifier. Such records are skipped, never inserted.
var ErrMalformedRecord = errors.New("malformed record: no title and no identifier")

// Resolver resolves raw paper records against the set of known identity
// keys. It is not safe for concurrent use; the collection orchestrator
// owns one per run.
type Resolver struct {
	// alias key (native or fallback) -> canonical identity key
	index map[string]string
}

// NewResolver builds a resolver seeded with already-cataloged papers.
// Each entry maps every known alias of a paper to its identity key.
func NewResolver() *Resolver {
	return &Resolver{index: make(map[string]string)}
}

// Seed registers an existing catalog record so later sightings resolve
// to it. aliases may include the record's native and fallback keys.
func (r *Resolver) Seed(identityKey string, aliases ...string) {
	r.index[identityKey] = identityKey
	for _, a := range aliases {
		if a != "" {
			r.index[a] = identityKey
		}
	}
}

// Resolve returns the identity key for a raw record and whether that key
// already exists. New keys are registered under all their aliases, so
// duplicates within one batch are caught too.
func (r *Resolver) Resolve(raw source.RawPaper) (key string, dup bool, err error) {
	native := NativeKey(raw)
	fallback := ""
	if raw.Title != "" {
		first := ""
		if len(raw.Authors) > 0 {
			first = raw.Authors[0]
		}
		fallback = FallbackKey(raw.Title, first)
	}

	if native == "" && fallback == "" {
		return "", false, ErrMalformedRecord
	}

	if canon, ok := r.index[native]; native != "" && ok {
		return canon, true, nil
	}
	if canon, ok := r.index[fallback]; fallback != "" && ok {
		return canon, true, nil
	}

	key = native
	if key == "" {
		key = fallback
	}
	r.Seed(key, native, fallback)
	return key, false, nil
}

// NativeKey derives the canonical key from a record's source-native
// identifiers, or "" when it has none.
func NativeKey(raw source.RawPaper) string {
	if raw.DOI != "" {
		return "doi:" + strings.ToLower(raw.DOI)
	}
	if raw.Identifier == "" {
		return ""
	}
	switch raw.Source {
	case source.Arxiv:
		return "arxiv:" + raw.Identifier
	case source.Zotero:
		return "zotero:" + raw.Identifier
	default:
		return raw.Source + ":" + raw.Identifier
	}
}

// FallbackKey hashes a normalized title and first-author surname into a
// content-based key. Identical papers with no identifiers collide here
// on purpose. The same scheme resolves citation strings in the graph
// builder.
func FallbackKey(title, firstAuthor string) string {
	norm := NormalizeTitle(title)
	if norm == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(norm + "|" + Surname(firstAuthor)))
	return "t:" + hex.EncodeToString(sum[:])[:16]
}

// NormalizeTitle lowercases, strips punctuation, and collapses
// whitespace. "Attention Is All You Need!" and "attention is all you
// need" normalize identically.
func NormalizeTitle(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
		// punctuation dropped
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Surname extracts a normalized surname from an author name, handling
// both "Grace Hopper" and "Hopper, Grace" forms.
func Surname(author string) string {
	author = strings.TrimSpace(author)
	if author == "" {
		return ""
	}
	if i := strings.Index(author, ","); i >= 0 {
		author = author[:i]
	} else {
		fields := strings.Fields(author)
		author = fields[len(fields)-1]
	}
	return NormalizeTitle(author)
}
