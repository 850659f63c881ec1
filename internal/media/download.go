package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrDownloadFailed is returned when a track cannot be fetched.
var ErrDownloadFailed = errors.New("media: download failed")

// Downloader opens a remote track for reading.
type Downloader interface {
	Open(ctx context.Context, url string) (io.ReadCloser, error)
}

// Compile-time check that HTTPDownloader implements Downloader.
var _ Downloader = (*HTTPDownloader)(nil)

// HTTPDownloader fetches tracks over HTTP.
type HTTPDownloader struct {
	httpClient *http.Client
}

// NewHTTPDownloader creates a downloader. A nil client uses http.DefaultClient.
func NewHTTPDownloader(c *http.Client) *HTTPDownloader {
	if c == nil {
		c = http.DefaultClient
	}
	return &HTTPDownloader{httpClient: c}
}

// Open issues a GET for url. The caller closes the returned body.
func (d *HTTPDownloader) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: empty URL", ErrDownloadFailed)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", ErrDownloadFailed, err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: %s returned status %d", ErrDownloadFailed, url, resp.StatusCode)
	}

	return resp.Body, nil
}
