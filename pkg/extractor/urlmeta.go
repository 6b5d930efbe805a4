package extractor

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"docuquery/pkg/domain"
)

// URLMetadata describes a remote file that is deliberately never
// downloaded (archives and raw binaries).
type URLMetadata struct {
	URL           string
	ContentLength int64
	ContentType   string
	LastModified  string
	Server        string
	Probe         string
}

// ProbeURL collects header metadata for a bin/zip URL without pulling
// the payload: HEAD first, then a one-byte ranged GET, then a GET
// whose body is discarded unread. Whatever the server allows wins.
func ProbeURL(ctx context.Context, client *http.Client, url string) (*URLMetadata, error) {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	attempts := []struct {
		name  string
		build func() (*http.Request, error)
	}{
		{"head", func() (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		}},
		{"ranged-get", func() (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err == nil {
				req.Header.Set("Range", "bytes=0-0")
			}
			return req, err
		}},
		{"get", func() (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		}},
	}

	var lastErr error
	for _, attempt := range attempts {
		req, err := attempt.build()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrFetchFailed, err)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		meta := metadataFromResponse(resp, url, attempt.name)
		_ = resp.Body.Close()

		if resp.StatusCode >= 400 {
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			continue
		}
		return meta, nil
	}
	return nil, fmt.Errorf("%w: probe %s: %v", domain.ErrFetchFailed, url, lastErr)
}

func metadataFromResponse(resp *http.Response, url, probe string) *URLMetadata {
	meta := &URLMetadata{
		URL:          url,
		ContentType:  resp.Header.Get("Content-Type"),
		LastModified: resp.Header.Get("Last-Modified"),
		Server:       resp.Header.Get("Server"),
		Probe:        probe,
	}

	// A ranged response reports the full size after the slash in
	// Content-Range; otherwise Content-Length is authoritative.
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		if idx := strings.LastIndex(cr, "/"); idx >= 0 {
			if n, err := strconv.ParseInt(cr[idx+1:], 10, 64); err == nil {
				meta.ContentLength = n
				return meta
			}
		}
	}
	if resp.ContentLength > 0 {
		meta.ContentLength = resp.ContentLength
	}
	return meta
}
