// Package fetch retrieves raw policy documents from URLs or object storage
// and normalizes them to plain text for chunking.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/covergrid/policy-copilot/internal/objstore"
)

// ErrFetch marks any failure to retrieve a raw document from a URL or from
// object storage.
var ErrFetch = errors.New("document fetch failed")

const (
	// DefaultTimeout bounds a single URL fetch.
	DefaultTimeout = 30 * time.Second

	// defaultRatePerSecond limits outbound URL fetches so batch ingestion
	// does not hammer insurer websites.
	defaultRatePerSecond = 4

	// maxDocumentBytes caps a fetched document at 20 MiB.
	maxDocumentBytes = 20 << 20
)

// Fetcher retrieves documents by URL or storage key.
type Fetcher struct {
	client  *http.Client
	objects objstore.Store
	limiter *rate.Limiter
}

// NewFetcher creates a fetcher reading URLs with the given client (nil for a
// default with DefaultTimeout) and storage keys from objects.
func NewFetcher(client *http.Client, objects objstore.Store) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &Fetcher{
		client:  client,
		objects: objects,
		limiter: rate.NewLimiter(rate.Limit(defaultRatePerSecond), defaultRatePerSecond),
	}
}

// FetchURL downloads a document and returns its plain text content.
func (f *Fetcher) FetchURL(ctx context.Context, url string) (string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetch, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrFetch, url, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrFetch, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s: unexpected status %d", ErrFetch, url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrFetch, url, err)
	}

	text, err := Normalize(data, resp.Header.Get("Content-Type"), url)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrFetch, url, err)
	}
	return text, nil
}

// FetchObject reads a document from object storage by key and returns its
// plain text content.
func (f *Fetcher) FetchObject(ctx context.Context, key string) (string, error) {
	if f.objects == nil {
		return "", fmt.Errorf("%w: no object store configured", ErrFetch)
	}

	data, err := f.objects.Fetch(ctx, key)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrFetch, key, err)
	}

	text, err := Normalize(data, "", key)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrFetch, key, err)
	}
	return text, nil
}

// Normalize converts raw document bytes to plain text. PDF and markdown are
// detected by content type or by the name's extension; everything else is
// treated as plain text.
func Normalize(data []byte, contentType, name string) (string, error) {
	switch {
	case isPDF(data, contentType, name):
		return extractPDFText(data)
	case isMarkdown(contentType, name):
		return flattenMarkdown(data), nil
	default:
		return string(data), nil
	}
}

func isPDF(data []byte, contentType, name string) bool {
	if strings.Contains(contentType, "application/pdf") {
		return true
	}
	if strings.HasSuffix(strings.ToLower(name), ".pdf") {
		return true
	}
	return len(data) >= 5 && string(data[:5]) == "%PDF-"
}

func isMarkdown(contentType, name string) bool {
	if strings.Contains(contentType, "text/markdown") || strings.Contains(contentType, "text/x-markdown") {
		return true
	}
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".md") || strings.HasSuffix(lower, ".markdown")
}
