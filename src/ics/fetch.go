package ics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/haorendashu/catindex/src/errors"
	"github.com/haorendashu/catindex/src/logging"
)

// IsURL reports whether a calendar reference is an http(s) feed rather than a
// local file.
func IsURL(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

type cacheEntry struct {
	etag         string
	lastModified string
	body         []byte
}

// Fetcher downloads ICS feeds with conditional requests. Bodies are cached in
// memory per URL, so a Fetcher kept across refreshes only transfers feeds
// that changed, and falls back to the last good body when a feed is down.
type Fetcher struct {
	client *http.Client
	logger *log.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewFetcher creates a fetcher. A nil client gets a 15 second timeout.
func NewFetcher(client *http.Client, logger *log.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = logging.Default("fetch")
	}
	return &Fetcher{client: client, logger: logger, cache: make(map[string]cacheEntry)}
}

// Fetch returns the feed body at rawURL and whether it came from the cache.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, bool, error) {
	f.mu.Lock()
	cached, hasCache := f.cache[rawURL]
	f.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, errors.NewImportError("build request for "+Redact(rawURL), err)
	}
	if cached.etag != "" {
		req.Header.Set("If-None-Match", cached.etag)
	}
	if cached.lastModified != "" {
		req.Header.Set("If-Modified-Since", cached.lastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if hasCache {
			f.logger.Warn("feed unreachable, using cached body", "url", Redact(rawURL), "err", err)
			return cached.body, true, nil
		}
		return nil, false, errors.NewImportError("fetch "+Redact(rawURL), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, false, errors.NewImportError("read "+Redact(rawURL), err)
		}
		f.mu.Lock()
		f.cache[rawURL] = cacheEntry{
			etag:         resp.Header.Get("ETag"),
			lastModified: resp.Header.Get("Last-Modified"),
			body:         body,
		}
		f.mu.Unlock()
		f.logger.Debug("fetched feed", "url", Redact(rawURL), "bytes", len(body))
		return body, false, nil

	case resp.StatusCode == http.StatusNotModified && hasCache:
		f.logger.Debug("feed not modified", "url", Redact(rawURL))
		return cached.body, true, nil

	case hasCache:
		f.logger.Warn("feed returned an error, using cached body", "url", Redact(rawURL), "status", resp.StatusCode)
		return cached.body, true, nil
	}
	return nil, false, errors.NewImportError("fetch "+Redact(rawURL), fmt.Errorf("unexpected status %s", resp.Status))
}

// Redact drops credentials and the query string, which often carry a token.
func Redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid url>"
	}
	u.User = nil
	if u.RawQuery != "" {
		u.RawQuery = "redacted"
	}
	return u.String()
}
