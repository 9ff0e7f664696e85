package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jo-hoe/shopglot/internal/remote"
)

const (
	fetchTimeout  = 30 * time.Second
	maxFetchBytes = 32 * 1024 * 1024
)

// Fetcher loads image pixels for a job item. Each item gets its own fetch,
// independent of any shared state, so a failure elsewhere cannot corrupt
// this item's load.
type Fetcher interface {
	Fetch(ctx context.Context, src string) (data []byte, mime string, err error)
}

// HTTPFetcher fetches image bytes over HTTP.
type HTTPFetcher struct {
	httpClient *http.Client
}

var _ Fetcher = (*HTTPFetcher)(nil)

func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{httpClient: &http.Client{Timeout: fetchTimeout}}
}

// WithHTTPClient allows tests to inject a custom HTTP client.
func (f *HTTPFetcher) WithHTTPClient(hc *http.Client) *HTTPFetcher {
	f.httpClient = hc
	return f
}

func (f *HTTPFetcher) Fetch(ctx context.Context, src string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, "", fmt.Errorf("new request: %w", err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return nil, "", remote.Transport("fetch image", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, "", fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, "", remote.Transport("fetch image", err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("fetch image: empty body")
	}

	mime := strings.TrimSpace(resp.Header.Get("Content-Type"))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	if mime == "" || !strings.HasPrefix(mime, "image/") {
		mime = http.DetectContentType(data)
	}
	return data, mime, nil
}
