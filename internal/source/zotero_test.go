package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mmcdole/gofeed"
)

func feedItem(guid string) *gofeed.Item {
	return &gofeed.Item{GUID: guid}
}

const zoteroItemsJSON = `[
  {
    "key": "ABCD1234",
    "data": {
      "itemType": "journalArticle",
      "title": "Deep Learning for Phylogenetics",
      "abstractNote": "We apply deep learning.",
      "DOI": "10.1000/xyz123",
      "date": "March 2022",
      "url": "https://doi.org/10.1000/xyz123",
      "creators": [
        {"creatorType": "author", "firstName": "Grace", "lastName": "Hopper"},
        {"creatorType": "editor", "firstName": "Not", "lastName": "Included"},
        {"creatorType": "author", "name": "Ada Lovelace"}
      ],
      "tags": [{"tag": "phylogenetics"}, {"tag": "ml"}]
    }
  },
  {
    "key": "SKIP0001",
    "data": {"itemType": "book", "title": "Not an article"}
  }
]`

func TestZoteroSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/12345/items/top" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Zotero-API-Key"); got != "secret" {
			t.Errorf("missing API key header, got %q", got)
		}
		if got := r.URL.Query().Get("itemType"); got != "journalArticle" {
			t.Errorf("unexpected itemType: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(zoteroItemsJSON))
	}))
	defer srv.Close()

	client := NewZoteroClient(srv.URL, "12345", "user", "secret")
	papers, err := client.Search(context.Background(), "", 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(papers) != 1 {
		t.Fatalf("expected 1 journal article, got %d", len(papers))
	}

	p := papers[0]
	if p.Identifier != "ABCD1234" {
		t.Errorf("expected zotero key as identifier, got %q", p.Identifier)
	}
	if p.DOI != "10.1000/xyz123" {
		t.Errorf("unexpected DOI: %q", p.DOI)
	}
	if len(p.Authors) != 2 {
		t.Fatalf("expected 2 authors (editor excluded), got %v", p.Authors)
	}
	if p.Authors[0] != "Grace Hopper" {
		t.Errorf("unexpected first author: %q", p.Authors[0])
	}
	if p.Year != 2022 {
		t.Errorf("expected year 2022, got %d", p.Year)
	}
	if len(p.Categories) != 2 {
		t.Errorf("expected tags as categories, got %v", p.Categories)
	}
}

func TestZoteroUnconfigured(t *testing.T) {
	client := NewZoteroClient("", "", "user", "")
	if client.IsConfigured() {
		t.Error("expected unconfigured client")
	}
	if _, err := client.Search(context.Background(), "", 10); err == nil {
		t.Error("expected error from unconfigured client")
	}
}

func TestZoteroYear(t *testing.T) {
	tests := []struct {
		date string
		want int
	}{
		{"March 2022", 2022},
		{"2019-05-01", 2019},
		{"05/2020", 2020},
		{"", 0},
		{"n.d.", 0},
	}
	for _, tt := range tests {
		if got := zoteroYear(tt.date); got != tt.want {
			t.Errorf("zoteroYear(%q) = %d, want %d", tt.date, got, tt.want)
		}
	}
}
