package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ZoteroClient reads top-level items from a Zotero library via the Web
// API v3.
type ZoteroClient struct {
	baseURL     string
	libraryID   string
	libraryType string // "user" or "group"
	apiKey      string
	client      *http.Client
	limiter     *rate.Limiter
}

// NewZoteroClient creates a Zotero Web API client.
func NewZoteroClient(baseURL, libraryID, libraryType, apiKey string) *ZoteroClient {
	if baseURL == "" {
		baseURL = "https://api.zotero.org"
	}
	if libraryType == "" {
		libraryType = "user"
	}
	return &ZoteroClient{
		baseURL:     baseURL,
		libraryID:   libraryID,
		libraryType: libraryType,
		apiKey:      apiKey,
		client:      &http.Client{Timeout: 30 * time.Second},
		limiter:     rate.NewLimiter(rate.Limit(2), 1),
	}
}

func (c *ZoteroClient) Name() string { return Zotero }

// IsConfigured reports whether the client has credentials.
func (c *ZoteroClient) IsConfigured() bool {
	return c.libraryID != "" && c.apiKey != ""
}

// zoteroItem mirrors the subset of the Zotero item JSON we consume.
type zoteroItem struct {
	Key  string `json:"key"`
	Data struct {
		ItemType     string `json:"itemType"`
		Title        string `json:"title"`
		AbstractNote string `json:"abstractNote"`
		URL          string `json:"url"`
		DOI          string `json:"DOI"`
		Date         string `json:"date"`
		Creators     []struct {
			CreatorType string `json:"creatorType"`
			FirstName   string `json:"firstName"`
			LastName    string `json:"lastName"`
			Name        string `json:"name"`
		} `json:"creators"`
		Tags []struct {
			Tag string `json:"tag"`
		} `json:"tags"`
	} `json:"data"`
}

// Search returns up to limit journal articles from the library. The
// category, when non-empty, is matched against Zotero tags.
func (c *ZoteroClient) Search(ctx context.Context, category string, limit int) ([]RawPaper, error) {
	if !c.IsConfigured() {
		return nil, fmt.Errorf("zotero: missing library ID or API key")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("itemType", "journalArticle")
	if category != "" {
		q.Set("tag", category)
	}

	endpoint := fmt.Sprintf("%s/%ss/%s/items/top?%s", c.baseURL, c.libraryType, c.libraryID, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Zotero-API-Version", "3")
	req.Header.Set("Zotero-API-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying zotero: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("zotero API returned %d: %s", resp.StatusCode, string(body))
	}

	var items []zoteroItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decoding zotero response: %w", err)
	}

	var papers []RawPaper
	for _, item := range items {
		if item.Data.ItemType != "journalArticle" {
			continue
		}
		papers = append(papers, mapZoteroItem(item))
	}
	return papers, nil
}

func mapZoteroItem(item zoteroItem) RawPaper {
	var authors []string
	for _, cr := range item.Data.Creators {
		if cr.CreatorType != "" && cr.CreatorType != "author" {
			continue
		}
		switch {
		case cr.Name != "":
			authors = append(authors, cr.Name)
		case cr.FirstName != "" || cr.LastName != "":
			authors = append(authors, strings.TrimSpace(cr.FirstName+" "+cr.LastName))
		}
	}

	var tags []string
	for _, tg := range item.Data.Tags {
		if tg.Tag != "" {
			tags = append(tags, tg.Tag)
		}
	}

	return RawPaper{
		Source:     Zotero,
		Identifier: item.Key,
		DOI:        strings.TrimSpace(item.Data.DOI),
		Title:      strings.TrimSpace(item.Data.Title),
		Authors:    authors,
		Year:       zoteroYear(item.Data.Date),
		Categories: tags,
		Abstract:   strings.TrimSpace(item.Data.AbstractNote),
		URL:        item.Data.URL,
	}
}

// zoteroYear pulls a 4-digit year out of Zotero's free-form date field.
func zoteroYear(date string) int {
	for _, f := range strings.FieldsFunc(date, func(r rune) bool {
		return r < '0' || r > '9'
	}) {
		if len(f) == 4 {
			if y, err := strconv.Atoi(f); err == nil && y > 1000 && y < 3000 {
				return y
			}
		}
	}
	return 0
}
