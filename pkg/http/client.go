// Package http builds the HTTP client every probe request goes through:
// redirects chased up to a bounded depth, a per-request timeout, a stable
// probe user agent, and trace-level request/response logging when trace
// logging is on.
package http

import (
	"fmt"
	"net/http"
	"time"

	commonshttp "github.com/flanksource/commons/http"
	"github.com/flanksource/commons/logger"
)

const defaultTimeout = 15 * time.Second

const defaultUserAgent = "fingerprint-analyzer"

// maxRedirects bounds how many redirects a single probe will chase. Sites
// under analysis are untrusted input; a redirect loop must fail the probe,
// not hang the iteration.
const maxRedirects = 10

// Options are the probe-client knobs the asset fetcher needs. The zero
// value is usable.
type Options struct {
	// Timeout bounds each request end to end; a timed-out probe is treated
	// exactly like a failed fetch.
	Timeout time.Duration

	// UserAgent overrides the agent string sent with every probe.
	UserAgent string
}

// NewProbeClient returns the *http.Client asset probes are issued through.
// Redirects are followed up to maxRedirects, with the final URL always
// recoverable from resp.Request.URL.
func NewProbeClient(opts Options) *http.Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	inner := commonshttp.NewClient().Timeout(opts.Timeout)
	if logger.IsTraceEnabled() {
		inner = inner.WithHttpLogging(logger.Trace1, logger.Trace2)
	}

	return &http.Client{
		Transport: &probeTransport{agent: opts.UserAgent, next: inner},
		Timeout:   opts.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("probe for %s: stopped after %d redirects", via[0].URL, maxRedirects)
			}
			return nil
		},
	}
}

// probeTransport stamps the probe user agent onto every outgoing request
// before handing it to the logging transport underneath.
type probeTransport struct {
	agent string
	next  http.RoundTripper
}

func (t *probeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.agent)
	}
	return t.next.RoundTrip(req)
}
