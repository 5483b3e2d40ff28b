// Package fetch downloads paper PDFs and extracts landing-page text for
// records that never get one.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	readability "github.com/go-shiori/go-readability"
)

// ErrFetchFailed marks a download that failed for network or server
// reasons. Callers count it and move on; it never aborts a batch.
var ErrFetchFailed = errors.New("fetch failed")

var pdfMagic = []byte("%PDF")

// Fetcher downloads PDFs over HTTP with a shared client and remembers
// domains that already failed so a dead host is hit only once per run.
// Safe for use from concurrent download workers.
type Fetcher struct {
	client    *http.Client
	userAgent string

	mu            sync.Mutex
	failedDomains map[string]struct{}
}

func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		userAgent:     "PaperTrail/1.0 (paper library)",
		failedDomains: make(map[string]struct{}),
	}
}

// DownloadPDF fetches pdfURL into dest, creating parent directories. The
// file is written to a temp name and renamed so a partial download never
// occupies the destination. Responses that are not PDFs (HTML error
// pages, captcha interstitials) are rejected.
func (f *Fetcher) DownloadPDF(ctx context.Context, pdfURL, dest string) error {
	domain := hostOf(pdfURL)
	if f.domainFailed(domain) {
		return fmt.Errorf("%w: skipping %s, domain already failed this run", ErrFetchFailed, domain)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pdfURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		f.markFailed(domain)
		return fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		if resp.StatusCode >= 500 {
			f.markFailed(domain)
		}
		return fmt.Errorf("%w: %s returned %s", ErrFetchFailed, domain, resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create pdf dir: %w", err)
	}

	tmp := dest + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create pdf file: %w", err)
	}

	head := make([]byte, 4)
	if _, err := io.ReadFull(resp.Body, head); err != nil || !bytes.Equal(head, pdfMagic) {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("%w: %s did not return a PDF", ErrFetchFailed, pdfURL)
	}

	if _, err := out.Write(head); err == nil {
		_, err = io.Copy(out, resp.Body)
	}
	if err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write pdf: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize pdf: %w", err)
	}
	return nil
}

// LandingText fetches a paper's landing page and extracts readable text.
// Used as analysis input for records with no PDF.
func (f *Fetcher) LandingText(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%w: %s returned %s", ErrFetchFailed, pageURL, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	parsed, _ := url.Parse(pageURL)
	article, err := readability.FromReader(bytes.NewReader(body), parsed)
	if err != nil {
		return "", fmt.Errorf("%w: no extractable text at %s", ErrFetchFailed, pageURL)
	}

	text := strings.TrimSpace(article.TextContent)
	if len(text) < 100 {
		return "", fmt.Errorf("%w: no extractable text at %s", ErrFetchFailed, pageURL)
	}
	return text, nil
}

func (f *Fetcher) domainFailed(domain string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, dead := f.failedDomains[domain]
	return dead
}

func (f *Fetcher) markFailed(domain string) {
	if domain == "" {
		return
	}
	f.mu.Lock()
	f.failedDomains[domain] = struct{}{}
	f.mu.Unlock()
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}
