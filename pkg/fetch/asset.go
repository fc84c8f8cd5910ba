package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/flanksource/fingerprint/pkg/checksum"
	"github.com/flanksource/fingerprint/pkg/types"
)

// IndexQueryer is the subset of the index store an Asset needs to resolve
// its evidence. It exists so pkg/fetch depends only on a query contract,
// not on pkg/store's sqlite implementation - the fetch and guess unit tests
// satisfy it with small in-memory fakes instead.
type IndexQueryer interface {
	UsersByChecksum(ctx context.Context, checksum [16]byte) ([]types.SoftwareVersion, error)
	ExpectedByWebrootPath(ctx context.Context, path string) ([]types.SoftwareVersion, error)
	IDFWeight(ctx context.Context, checksum [16]byte) (float64, error)
	KnownStaticFilesByChecksum(ctx context.Context, checksum [16]byte) ([]types.StaticFile, error)
}

// Asset narrows a retrieved Resource to a static file: it knows its
// webroot path and, once fetched, the checksum of its normalized content.
// expected_versions/using_versions/idf_weight/known_static_files are
// store-backed and memoized per instance - mandatory per the design notes,
// since re-querying a store that changes mid-run would let strength drift.
type Asset struct {
	*Resource
	WebrootPath string

	store IndexQueryer

	csMu     sync.Mutex
	sum      checksum.Sum
	kind     *checksum.FileKind
	hasSum   bool
	computed bool

	mu               sync.Mutex
	expectedVersions []types.SoftwareVersion
	expectedLoaded   bool
	usingVersions    []types.SoftwareVersion
	usingLoaded      bool
	idfWeight        float64
	idfLoaded        bool
	knownStaticFiles []types.StaticFile
	knownLoaded      bool
}

// NewAsset wraps a fetched (or not-yet-fetched) Resource as an Asset probed
// at webrootPath against store. The checksum, if any, is computed lazily
// the first time it's needed since a Resource that failed to fetch never
// has one.
func NewAsset(r *Resource, webrootPath string, store IndexQueryer) *Asset {
	return &Asset{Resource: r, WebrootPath: webrootPath, store: store}
}

// WebrootPathFromURL extracts the path an Asset should be keyed on from a
// fully-qualified URL, matching the "webroot path" glossary entry: the path
// relative to the site root, independent of which host served it.
func WebrootPathFromURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("fetch: parse url %q: %w", rawURL, err)
	}
	p := u.Path
	if p == "" {
		p = "/"
	}
	return p, nil
}

// Checksum returns the asset's checksum and whether it is valid. It is
// only valid once the resource has been successfully retrieved and its
// filename matched a registered normalization kind.
func (a *Asset) Checksum() (checksum.Sum, bool) {
	a.ensureChecksum()
	return a.sum, a.hasSum
}

// Kind returns the file kind matched for this asset's webroot path, if any.
func (a *Asset) Kind() *checksum.FileKind {
	a.ensureChecksum()
	return a.kind
}

func (a *Asset) ensureChecksum() {
	a.csMu.Lock()
	defer a.csMu.Unlock()
	if a.computed {
		return
	}
	a.computed = true
	if !a.Retrieved || !a.Success {
		return
	}
	name := baseNameOfPath(a.WebrootPath)
	sum, kind, ok := checksum.Checksum(name, a.Body)
	if !ok {
		return
	}
	a.sum, a.kind, a.hasSum = sum, kind, true
}

func baseNameOfPath(p string) string {
	if idx := strings.LastIndexByte(p, '/'); idx >= 0 {
		return p[idx+1:]
	}
	return p
}

// ExpectedVersions returns every version that ships any file at this
// asset's webroot path, regardless of checksum.
func (a *Asset) ExpectedVersions(ctx context.Context) ([]types.SoftwareVersion, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.expectedLoaded {
		return a.expectedVersions, nil
	}
	versions, err := a.store.ExpectedByWebrootPath(ctx, a.WebrootPath)
	if err != nil {
		return nil, err
	}
	a.expectedVersions, a.expectedLoaded = versions, true
	return versions, nil
}

// UsingVersions returns every version that ships this asset's exact
// checksum. An asset with no valid checksum (failed fetch, unrecognized
// kind) always has an empty using_versions.
func (a *Asset) UsingVersions(ctx context.Context) ([]types.SoftwareVersion, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.usingLoaded {
		return a.usingVersions, nil
	}
	sum, ok := a.Checksum()
	if !ok {
		a.usingVersions, a.usingLoaded = nil, true
		return nil, nil
	}
	versions, err := a.store.UsersByChecksum(ctx, [16]byte(sum))
	if err != nil {
		return nil, err
	}
	a.usingVersions, a.usingLoaded = versions, true
	return versions, nil
}

// IDFWeight returns the rarity weight of this asset's checksum. An asset
// with no valid checksum carries the neutral weight of an unknown checksum
// (1), matching the store's k=0 contract.
func (a *Asset) IDFWeight(ctx context.Context) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.idfLoaded {
		return a.idfWeight, nil
	}
	sum, ok := a.Checksum()
	if !ok {
		a.idfWeight, a.idfLoaded = 1, true
		return 1, nil
	}
	w, err := a.store.IDFWeight(ctx, [16]byte(sum))
	if err != nil {
		return 0, err
	}
	a.idfWeight, a.idfLoaded = w, true
	return w, nil
}

// KnownStaticFiles returns the index rows matching this asset's checksum.
func (a *Asset) KnownStaticFiles(ctx context.Context) ([]types.StaticFile, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.knownLoaded {
		return a.knownStaticFiles, nil
	}
	sum, ok := a.Checksum()
	if !ok {
		a.knownStaticFiles, a.knownLoaded = nil, true
		return nil, nil
	}
	files, err := a.store.KnownStaticFilesByChecksum(ctx, [16]byte(sum))
	if err != nil {
		return nil, err
	}
	a.knownStaticFiles, a.knownLoaded = files, true
	return files, nil
}
