// Package fetch retrieves URLs and narrows successful ones into Assets: the
// Resource/Asset pair from the data model, plus the HTTP client and on-disk
// cache that back them.
package fetch

import (
	"net/http"
)

// Resource is a fetched URL with its response snapshot. It starts
// unretrieved and transitions exactly once, to retrieved-success or
// retrieved-failure; equality is by URL.
type Resource struct {
	URL        string
	FinalURL   string
	StatusCode int
	Body       []byte
	Headers    http.Header

	Retrieved bool
	Success   bool
}

// Key is the equality key for de-duplicating resources by URL.
func (r *Resource) Key() string {
	return r.URL
}
