// Package cache persists the engine's URL -> response map across runs, the
// same "load at start, write at end, never shared live between engines"
// cache described for the inference engine.
package cache

import (
	"encoding/json"
	"net/http"
	"os"
	"sync"

	"github.com/flanksource/commons/logger"
)

// Entry is one cached HTTP response, keyed by the request URL.
type Entry struct {
	StatusCode int         `json:"status_code"`
	FinalURL   string      `json:"final_url"`
	Body       []byte      `json:"body"`
	Headers    http.Header `json:"headers,omitempty"`
}

// Cache is an in-process, optionally persisted URL -> Entry map. It is owned
// by exactly one engine instance at a time; callers must not share a live
// Cache value between concurrent analyze runs.
type Cache struct {
	mu      sync.Mutex
	entries map[string]Entry
	path    string
}

// New returns an empty, unpersisted cache.
func New() *Cache {
	return &Cache{entries: make(map[string]Entry)}
}

// Load reads a previously persisted cache file. A missing file yields an
// empty cache and no error. A corrupt file is never fatal: per the
// engine's error-handling contract, corruption means "start fresh", not
// "fail to construct" - the bad file is logged and discarded.
func Load(path string) *Cache {
	c := &Cache{entries: make(map[string]Entry), path: path}
	if path == "" {
		return c
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warnf("cache: failed to read %s, starting fresh: %v", path, err)
		}
		return c
	}
	var entries map[string]Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		logger.Warnf("cache: corrupt cache file %s, starting fresh: %v", path, err)
		return c
	}
	c.entries = entries
	return c
}

// Get returns the cached entry for url, if any.
func (c *Cache) Get(url string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[url]
	return e, ok
}

// Put records an entry for url, overwriting any previous value.
func (c *Cache) Put(url string, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[url] = e
}

// Save persists the cache to path, or, when path is empty, to the path
// given at Load time. A no-op if neither is set - caching is optional.
func (c *Cache) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if path == "" {
		path = c.path
	}
	if path == "" {
		return nil
	}
	data, err := json.Marshal(c.entries)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Len reports how many URLs are cached, mostly for debug output.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
