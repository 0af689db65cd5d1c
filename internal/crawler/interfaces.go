package crawler

import (
	"context"
	"io"
	"net/http"
	"time"
)

// Page is a rendered page returned by a Browser.
type Page struct {
	URL      string
	FinalURL string
	HTML     string
}

// Browser renders pages for the navigator. Implementations are not shared
// between goroutines.
type Browser interface {
	Visit(ctx context.Context, rawURL string) (Page, error)
	// Cookies returns the session cookies accumulated while rendering.
	Cookies(ctx context.Context) ([]*http.Cookie, error)
	Close() error
}

// BrowserFactory hands out Browser instances, one per worker.
type BrowserFactory interface {
	Open(ctx context.Context) (Browser, error)
}

// DocumentFetcher downloads a single document with bounded retry.
type DocumentFetcher interface {
	Fetch(ctx context.Context, client *http.Client, req DocumentRequest) DocumentFetchResult
}

// TextExtractor turns a document artifact on disk into plain text.
type TextExtractor interface {
	Extract(path string) (string, error)
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
