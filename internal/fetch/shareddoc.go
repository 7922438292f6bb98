package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"flexreport/internal/domain"
)

var _ Fetcher = (*SharedDocFetcher)(nil)

// SharedDocFetcher retrieves shared documents over plain authenticated HTTP.
type SharedDocFetcher struct {
	client *http.Client
	token  string
}

// NewSharedDocFetcher creates the fetcher. token may be empty for
// unauthenticated shares.
func NewSharedDocFetcher(token string, timeout time.Duration) *SharedDocFetcher {
	return &SharedDocFetcher{
		client: &http.Client{Timeout: timeout},
		token:  token,
	}
}

// Fetch downloads the document at the given URL.
func (f *SharedDocFetcher) Fetch(ctx context.Context, locator string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", locator, err)
	}
	f.authorize(req)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", locator, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.ErrNotFound("document %s not found", locator)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", locator, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", locator, err)
	}
	return data, nil
}

// Probe issues a HEAD request and reads Last-Modified, ETag and
// Content-Length.
func (f *SharedDocFetcher) Probe(ctx context.Context, locator string) (domain.RemoteStamp, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, locator, nil)
	if err != nil {
		return domain.RemoteStamp{}, fmt.Errorf("build request for %s: %w", locator, err)
	}
	f.authorize(req)

	resp, err := f.client.Do(req)
	if err != nil {
		return domain.RemoteStamp{}, fmt.Errorf("probe %s: %w", locator, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return domain.RemoteStamp{}, fmt.Errorf("probe %s: unexpected status %d", locator, resp.StatusCode)
	}

	stamp := domain.RemoteStamp{
		ETag: resp.Header.Get("ETag"),
		Size: resp.ContentLength,
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			stamp.LastModified = t.Unix()
		}
	}
	return stamp, nil
}

func (f *SharedDocFetcher) authorize(req *http.Request) {
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
}
