// Package engine is the inference engine: the iterative, evidence-
// accumulating loop that starts from weak hints, asks the index store for
// maximally discriminating probe paths, fetches them, rescores candidates,
// and decides when to stop and whether the winner is trustworthy.
package engine

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/flanksource/commons/logger"
	"golang.org/x/sync/errgroup"

	"github.com/flanksource/fingerprint/pkg/checksum"
	"github.com/flanksource/fingerprint/pkg/config"
	"github.com/flanksource/fingerprint/pkg/fetch"
	"github.com/flanksource/fingerprint/pkg/guess"
	"github.com/flanksource/fingerprint/pkg/hints"
	"github.com/flanksource/fingerprint/pkg/htmlscan"
	"github.com/flanksource/fingerprint/pkg/store"
	"github.com/flanksource/fingerprint/pkg/types"
)

// Store is the index-store surface the engine drives the whole analysis
// through: the high-entropy-path query that picks the next probe, plus
// every query an Asset or the hints extractor needs.
type Store interface {
	fetch.IndexQueryer
	hints.Catalog
	HighEntropyPaths(ctx context.Context, versions []types.SoftwareVersion, limit int, exclude map[string]bool) ([]store.PathEntropy, error)
}

// Engine drives one site's analysis. It is not safe to share between
// concurrent analyses - construct one per site, each with its own Store
// handle and its own Cache.
type Engine struct {
	cfg     config.Config
	store   Store
	fetcher *fetch.Fetcher
	hints   *hints.Extractor

	primaryURL   string
	assets       []*fetch.Asset
	assetsByPath map[string]*fetch.Asset

	iteration             int
	uselessIterationCount int
	previousDecisiveness  float64
}

// New constructs an Engine. cfg is validated immediately - an invalid
// configuration refuses to run rather than failing deep inside Analyze.
func New(cfg config.Config, st Store, fetcher *fetch.Fetcher, extractor *hints.Extractor) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if extractor == nil {
		extractor = hints.New(nil)
	}
	return &Engine{
		cfg:          cfg,
		store:        st,
		fetcher:      fetcher,
		hints:        extractor,
		assetsByPath: make(map[string]*fetch.Asset),
	}, nil
}

// Analyze runs the full inference loop against primaryURL and returns the
// guesses tied at the top strength, or nil if support is insufficient or
// no candidate was ever produced. A landing-page fetch failure also
// returns (nil, nil) - only store-contract violations and invalid
// configuration surface as errors.
func (e *Engine) Analyze(ctx context.Context, primaryURL string) ([]*guess.Guess, error) {
	landing := e.fetcher.Fetch(ctx, primaryURL)
	if !landing.Success {
		logger.V(2).Infof("engine: landing page fetch failed for %s (status %d)", primaryURL, landing.StatusCode)
		return nil, nil
	}

	e.primaryURL = primaryURL
	if landing.FinalURL != "" {
		e.primaryURL = landing.FinalURL
	}
	origin, err := originOf(e.primaryURL)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	hintResp := hints.Response{StatusCode: landing.StatusCode, Headers: map[string][]string(landing.Headers), Body: landing.Body, FinalURL: e.primaryURL}
	seedVersions, err := e.hints.Extract(ctx, hintResp, e.store)
	if err != nil {
		return nil, fmt.Errorf("engine: initial hints: %w", err)
	}

	referenced := e.referencedAssetURLs(landing.Body, origin)
	e.fetchConcurrently(ctx, referenced)

	scored, err := e.computeBestGuesses(ctx, e.assets)
	if err != nil {
		return nil, fmt.Errorf("engine: seed ranking: %w", err)
	}
	liveVersions := unionVersions(seedVersions, scored)
	e.previousDecisiveness = decisiveness(scored)

	for e.iteration = 0; e.iteration < e.cfg.MaxIterations; e.iteration++ {
		exclude := e.fetchedPaths()
		entries, err := e.store.HighEntropyPaths(ctx, liveVersions, e.cfg.MaxAssetsPerIteration, exclude)
		if err != nil {
			return nil, fmt.Errorf("engine: high_entropy_paths: %w", err)
		}
		if len(entries) == 0 {
			e.uselessIterationCount++
			if e.uselessIterationCount >= e.cfg.MaxIterationsWithoutImprovement {
				break
			}
			continue
		}

		// Walk the candidate paths in the store's deterministic order,
		// fetching a chunk of fetch_concurrency paths at a time. The
		// count of probes found in the index is checked after each whole
		// chunk: once it reaches min_assets_per_iteration, later chunks
		// are not fetched, but every path of the current chunk is.
		anyOK := false
		matching := 0
		for start := 0; start < len(entries) && matching < e.cfg.MinAssetsPerIteration; start += e.cfg.FetchConcurrency {
			end := start + e.cfg.FetchConcurrency
			if end > len(entries) {
				end = len(entries)
			}
			chunkURLs := make([]string, 0, end-start)
			for _, p := range entries[start:end] {
				chunkURLs = append(chunkURLs, origin+p.Path)
			}
			for _, a := range e.fetchConcurrently(ctx, chunkURLs) {
				if a.StatusCode == 200 {
					anyOK = true
				}
				using, err := a.UsingVersions(ctx)
				if err != nil {
					return nil, fmt.Errorf("engine: using_versions: %w", err)
				}
				if len(using) > 0 {
					matching++
				}
			}
		}

		scored, err = e.computeBestGuesses(ctx, e.assets)
		if err != nil {
			return nil, fmt.Errorf("engine: rank: %w", err)
		}
		newDecisiveness := decisiveness(scored)
		gain := newDecisiveness - e.previousDecisiveness
		e.previousDecisiveness = newDecisiveness

		useless := !anyOK || gain < e.cfg.IterationMinImprovement
		if useless {
			e.uselessIterationCount++
		} else {
			e.uselessIterationCount = 0
		}

		liveVersions = scoredVersions(scored)

		if e.uselessIterationCount >= e.cfg.MaxIterationsWithoutImprovement {
			break
		}
		if len(scored) == 0 {
			break
		}
		if len(scored) == 1 && sufficientSupport(scored, e.assets, e.cfg) {
			break
		}
	}

	if len(scored) == 0 {
		return nil, nil
	}
	if !sufficientSupport(scored, e.assets, e.cfg) {
		return nil, nil
	}
	return topTied(scored), nil
}

// SaveCache persists the fetcher's cache, if one is configured.
func (e *Engine) SaveCache(path string) error {
	return e.fetcher.Cache().Save(path)
}

// Assets returns every asset retrieved so far, in arrival order.
func (e *Engine) Assets() []*fetch.Asset {
	return e.assets
}

// PrimaryURL returns the site URL under analysis, adjusted to the landing
// page's final redirect target once Analyze has run.
func (e *Engine) PrimaryURL() string {
	return e.primaryURL
}

// Iterations returns how many probe iterations the last Analyze ran.
func (e *Engine) Iterations() int {
	return e.iteration
}

func (e *Engine) fetchedPaths() map[string]bool {
	out := make(map[string]bool, len(e.assetsByPath))
	for p := range e.assetsByPath {
		out[p] = true
	}
	return out
}

// fetchConcurrently fetches every URL not already in state, bounded by the
// configured fetch concurrency, and returns the Assets fetched during this
// call in the order of urls - deterministic regardless of completion order, so
// the rank step that follows never depends on network timing.
func (e *Engine) fetchConcurrently(ctx context.Context, urls []string) []*fetch.Asset {
	type job struct {
		idx  int
		url  string
		path string
	}
	var jobs []job
	for _, u := range urls {
		path, err := fetch.WebrootPathFromURL(u)
		if err != nil {
			continue
		}
		if _, exists := e.assetsByPath[path]; exists {
			continue
		}
		jobs = append(jobs, job{idx: len(jobs), url: u, path: path})
	}
	if len(jobs) == 0 {
		return nil
	}

	results := make([]*fetch.Asset, len(jobs))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(e.cfg.FetchConcurrency)
	for _, j := range jobs {
		j := j
		eg.Go(func() error {
			resource := e.fetcher.Fetch(egCtx, j.url)
			results[j.idx] = fetch.NewAsset(resource, j.path, e.store)
			return nil
		})
	}
	_ = eg.Wait() // fetch failures are per-asset, never fatal to the batch

	for _, a := range results {
		e.assets = append(e.assets, a)
		e.assetsByPath[a.WebrootPath] = a
	}
	return results
}

// referencedAssetURLs extracts every candidate probe URL from the landing
// page: href/src attributes of a, link, script and style elements whose
// scheme is empty or http(s) and whose basename matches a registered,
// analysis-eligible file kind, plus the favicon.
func (e *Engine) referencedAssetURLs(body []byte, origin string) []string {
	_, refs := htmlscan.Scan(body)

	seen := make(map[string]bool)
	var out []string
	add := func(raw string) {
		abs, ok := resolveAgainstOrigin(raw, e.primaryURL)
		if !ok || seen[abs] {
			return
		}
		seen[abs] = true
		out = append(out, abs)
	}

	for _, r := range refs {
		u, err := url.Parse(r.URL)
		if err != nil {
			continue
		}
		if u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https" {
			continue
		}
		name := baseName(u.Path)
		kind, ok := checksum.KindForFilename(name)
		if !ok || !kind.UseForAnalysis {
			continue
		}
		add(r.URL)
	}
	add(origin + "/favicon.ico")
	return out
}

func resolveAgainstOrigin(raw, base string) (string, bool) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", false
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	return baseURL.ResolveReference(ref).String(), true
}

func originOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse primary url: %w", err)
	}
	return u.Scheme + "://" + u.Host, nil
}

func baseName(p string) string {
	if idx := strings.LastIndexByte(p, '/'); idx >= 0 {
		return p[idx+1:]
	}
	return p
}

func unionVersions(hints []types.SoftwareVersion, scored []guess.Scored) []types.SoftwareVersion {
	seen := make(map[[3]string]bool)
	var out []types.SoftwareVersion
	for _, v := range hints {
		if !seen[v.Key()] {
			seen[v.Key()] = true
			out = append(out, v)
		}
	}
	for _, sc := range scored {
		v := sc.Guess.Version
		if !seen[v.Key()] {
			seen[v.Key()] = true
			out = append(out, v)
		}
	}
	return out
}

func scoredVersions(scored []guess.Scored) []types.SoftwareVersion {
	out := make([]types.SoftwareVersion, 0, len(scored))
	for _, sc := range scored {
		out = append(out, sc.Guess.Version)
	}
	return out
}
