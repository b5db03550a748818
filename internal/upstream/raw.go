package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RawFetcher reads raw file bytes from the unauthenticated raw-content
// endpoint used for public share pages.
type RawFetcher struct {
	host   string
	client *http.Client
}

func NewRawFetcher(host string) *RawFetcher {
	return &RawFetcher{
		host:   host,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// RawURL builds the canonical raw-content URL for a file. The URL string is
// also the render-cache key, so it must be stable for identical inputs.
func (f *RawFetcher) RawURL(user, repo, branch, path string) string {
	return fmt.Sprintf("https://%s/%s/%s/%s/%s",
		f.host, url.PathEscape(user), url.PathEscape(repo), url.PathEscape(branch), escapePath(path))
}

// Fetch downloads the raw bytes for the URL. A 404 maps to ErrNotFound.
func (f *RawFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build raw request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch raw content: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("raw content %s: %w", rawURL, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("raw content %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read raw content: %w", err)
	}
	return body, nil
}

// escapePath escapes each path segment while keeping the separators.
func escapePath(path string) string {
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}
