package identity

import (
	"errors"
	"testing"

	"github.com/TobiSchelling/PaperTrail/internal/source"
)

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Attention Is All You Need!", "attention is all you need"},
		{"  attention   is all\tyou need ", "attention is all you need"},
		{"Go: A (Systems) Language?", "go a systems language"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeTitle(tt.in); got != tt.want {
			t.Errorf("NormalizeTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSurname(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Grace Hopper", "hopper"},
		{"Hopper, Grace", "hopper"},
		{"Ada", "ada"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Surname(tt.in); got != tt.want {
			t.Errorf("Surname(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNativeKeyPrefersDOI(t *testing.T) {
	raw := source.RawPaper{Source: source.Zotero, Identifier: "KEY1", DOI: "10.1000/X"}
	if got := NativeKey(raw); got != "doi:10.1000/x" {
		t.Errorf("expected doi key, got %q", got)
	}
	raw.DOI = ""
	if got := NativeKey(raw); got != "zotero:KEY1" {
		t.Errorf("expected zotero key, got %q", got)
	}
}

func TestResolveSameIdentifierSameKey(t *testing.T) {
	r := NewResolver()
	a := source.RawPaper{Source: source.Arxiv, Identifier: "2301.07041", Title: "A Paper", Authors: []string{"Ada Lovelace"}}

	key1, dup, err := r.Resolve(a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dup {
		t.Error("first sighting must not be a duplicate")
	}
	if key1 != "arxiv:2301.07041" {
		t.Errorf("unexpected key: %q", key1)
	}

	key2, dup, err := r.Resolve(a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dup {
		t.Error("second sighting must be a duplicate")
	}
	if key2 != key1 {
		t.Errorf("keys differ: %q vs %q", key1, key2)
	}
}

func TestResolveFallbackMatchesAcrossSources(t *testing.T) {
	r := NewResolver()
	arxiv := source.RawPaper{
		Source: source.Arxiv, Identifier: "2301.07041",
		Title: "Attention Is All You Need", Authors: []string{"Ashley Vaswani"},
	}
	key1, _, err := r.Resolve(arxiv)
	if err != nil {
		t.Fatal(err)
	}

	// Same paper from a reference manager: no identifier, slightly
	// different title casing and "Last, First" author form.
	zotero := source.RawPaper{
		Source: source.Zotero,
		Title:  "attention is all you need!", Authors: []string{"Vaswani, Ashley"},
	}
	key2, dup, err := r.Resolve(zotero)
	if err != nil {
		t.Fatal(err)
	}
	if !dup {
		t.Error("expected fallback-key duplicate")
	}
	if key2 != key1 {
		t.Errorf("fallback resolution returned %q, want canonical %q", key2, key1)
	}
}

func TestResolveNoIdentifierUsesFallbackKey(t *testing.T) {
	r := NewResolver()
	raw := source.RawPaper{Source: source.Zotero, Title: "Some Paper", Authors: []string{"Jo Doe"}}
	key, dup, err := r.Resolve(raw)
	if err != nil {
		t.Fatal(err)
	}
	if dup {
		t.Error("unexpected duplicate")
	}
	if want := FallbackKey("Some Paper", "Jo Doe"); key != want {
		t.Errorf("expected fallback key %q, got %q", want, key)
	}
}

func TestResolveMalformed(t *testing.T) {
	r := NewResolver()
	_, _, err := r.Resolve(source.RawPaper{Source: source.Arxiv})
	if !errors.Is(err, ErrMalformedRecord) {
		t.Fatalf("expected ErrMalformedRecord, got %v", err)
	}
}

func TestSeedExistingCatalog(t *testing.T) {
	r := NewResolver()
	r.Seed("arxiv:1706.03762", FallbackKey("Attention Is All You Need", "Ashish Vaswani"))

	raw := source.RawPaper{Source: source.Zotero, Title: "Attention Is All You Need", Authors: []string{"Ashish Vaswani"}}
	key, dup, err := r.Resolve(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !dup || key != "arxiv:1706.03762" {
		t.Errorf("expected seeded duplicate arxiv:1706.03762, got key=%q dup=%v", key, dup)
	}
}
