package fetch

import (
	"context"
	"io"
	"net/http"

	"github.com/flanksource/commons/logger"
	"github.com/flanksource/fingerprint/pkg/cache"
)

// Fetcher retrieves URLs through an HTTP client, consulting and populating
// an optional cache so re-analyzing the same site (or replaying a captured
// run) doesn't re-hit the network.
type Fetcher struct {
	client *http.Client
	cache  *cache.Cache
}

// New returns a Fetcher backed by client. A nil cache disables caching.
func New(client *http.Client, c *cache.Cache) *Fetcher {
	if c == nil {
		c = cache.New()
	}
	return &Fetcher{client: client, cache: c}
}

// Fetch retrieves url, following redirects, and returns a Resource in its
// terminal state. A transport error or non-200 status is reflected as
// Success=false, never as a Go error - per the error-handling design,
// per-asset failures are absorbed locally.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) *Resource {
	if entry, ok := f.cache.Get(rawURL); ok {
		return &Resource{
			URL:        rawURL,
			FinalURL:   entry.FinalURL,
			StatusCode: entry.StatusCode,
			Body:       entry.Body,
			Headers:    entry.Headers,
			Retrieved:  true,
			Success:    entry.StatusCode == http.StatusOK,
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		logger.V(3).Infof("fetch: invalid URL %s: %v", rawURL, err)
		return &Resource{URL: rawURL, Retrieved: true, Success: false}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		logger.V(3).Infof("fetch: %s: %v", rawURL, err)
		return &Resource{URL: rawURL, Retrieved: true, Success: false}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.V(3).Infof("fetch: reading body of %s: %v", rawURL, err)
		return &Resource{URL: rawURL, StatusCode: resp.StatusCode, Retrieved: true, Success: false}
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	r := &Resource{
		URL:        rawURL,
		FinalURL:   finalURL,
		StatusCode: resp.StatusCode,
		Body:       body,
		Headers:    resp.Header,
		Retrieved:  true,
		Success:    resp.StatusCode == http.StatusOK,
	}

	f.cache.Put(rawURL, cache.Entry{
		StatusCode: r.StatusCode,
		FinalURL:   r.FinalURL,
		Body:       r.Body,
		Headers:    r.Headers,
	})

	return r
}

// Cache exposes the fetcher's backing cache so the engine can persist it
// at the end of a run.
func (f *Fetcher) Cache() *cache.Cache {
	return f.cache
}
