// Package hints is the initial-hints collaborator: it turns a landing
// page's response into a first, weak set of candidate versions, combining
// <meta name=generator> parsing with a signature rule table matched
// against headers, meta tags, body text and script src attributes.
package hints

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/flanksource/commons/logger"
	"github.com/flanksource/fingerprint/pkg/htmlscan"
	"github.com/flanksource/fingerprint/pkg/types"
)

// Field names which part of a response a Rule's pattern is matched
// against.
type Field int

const (
	FieldHeader Field = iota
	FieldMeta
	FieldBody
	FieldScriptSrc
)

// Rule links a regular expression to the package it implies a match for.
// The rule table plays the role an external app-signature database would:
// response in, set of candidate versions out.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Field   Field
	Package types.SoftwarePackage
}

// Response is the narrow slice of a fetched landing page hints needs: it
// intentionally doesn't depend on pkg/fetch so that callers can hand it a
// resource without an import cycle.
type Response struct {
	StatusCode int
	Headers    map[string][]string
	Body       []byte
	FinalURL   string
}

// Catalog is the index-store surface hints needs: the full package list
// (for generator-tag matching) and, per package, every known version (for
// expanding a match).
type Catalog interface {
	Packages(ctx context.Context) ([]types.SoftwarePackage, error)
	VersionsOf(ctx context.Context, pkg types.SoftwarePackage, indexedOnly bool) ([]types.SoftwareVersion, error)
}

// Extractor holds the signature rule table and produces candidate versions
// from a landing page response.
type Extractor struct {
	rules []Rule
}

// New returns an Extractor with the given rule table.
func New(rules []Rule) *Extractor {
	return &Extractor{rules: rules}
}

// Extract returns the set of candidate versions implied by resp: every
// version a matching generator tag narrows to (or every version of the
// matched package, if the tag carries no recognizable version token), plus
// every version of every package whose signature rule matched.
func (e *Extractor) Extract(ctx context.Context, resp Response, catalog Catalog) ([]types.SoftwareVersion, error) {
	packages, err := catalog.Packages(ctx)
	if err != nil {
		return nil, fmt.Errorf("hints: load packages: %w", err)
	}

	seen := make(map[[3]string]types.SoftwareVersion)

	if content, ok := htmlscan.GeneratorTag(resp.Body); ok {
		versions, err := e.fromGeneratorTag(ctx, content, packages, catalog)
		if err != nil {
			return nil, err
		}
		for _, v := range versions {
			seen[v.Key()] = v
		}
	}

	meta, _ := htmlscan.Scan(resp.Body)
	scriptSrcs := scriptSources(resp.Body)

	for _, rule := range e.rules {
		var haystacks []string
		switch rule.Field {
		case FieldHeader:
			for _, values := range resp.Headers {
				haystacks = append(haystacks, values...)
			}
		case FieldMeta:
			for _, v := range meta {
				haystacks = append(haystacks, v)
			}
		case FieldBody:
			haystacks = []string{string(resp.Body)}
		case FieldScriptSrc:
			haystacks = scriptSrcs
		}

		matched := false
		for _, h := range haystacks {
			if rule.Pattern.MatchString(h) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}

		versions, err := catalog.VersionsOf(ctx, rule.Package, false)
		if err != nil {
			return nil, fmt.Errorf("hints: rule %s: versions of %s: %w", rule.Name, rule.Package, err)
		}
		logger.V(3).Infof("hints: rule %s matched, expanding to %d versions of %s", rule.Name, len(versions), rule.Package.Name)
		for _, v := range versions {
			seen[v.Key()] = v
		}
	}

	out := make([]types.SoftwareVersion, 0, len(seen))
	for _, v := range seen {
		out = append(out, v)
	}
	return out, nil
}

// fromGeneratorTag matches the tag content against a package's name or
// alternate names, then tries the remaining tokens against that package's
// version display names; it falls back to every version of the matched
// package if none of the remaining tokens pin one down.
func (e *Extractor) fromGeneratorTag(ctx context.Context, content string, packages []types.SoftwarePackage, catalog Catalog) ([]types.SoftwareVersion, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, nil
	}

	var matchedPkg *types.SoftwarePackage
	var rest string
	for i := range packages {
		pkg := &packages[i]
		for _, label := range append([]string{pkg.Name}, pkg.AlternativeNames...) {
			if label == "" {
				continue
			}
			if content == label {
				matchedPkg, rest = pkg, ""
				break
			}
			if strings.HasPrefix(content, label+" ") {
				matchedPkg, rest = pkg, strings.TrimSpace(content[len(label):])
				break
			}
		}
		if matchedPkg != nil {
			break
		}
	}
	if matchedPkg == nil {
		return nil, nil
	}

	versions, err := catalog.VersionsOf(ctx, *matchedPkg, false)
	if err != nil {
		return nil, fmt.Errorf("hints: generator tag: versions of %s: %w", matchedPkg, err)
	}
	if rest == "" {
		return versions, nil
	}

	var narrowed []types.SoftwareVersion
	for _, v := range versions {
		if v.Name == rest || strings.HasPrefix(rest, v.Name) {
			narrowed = append(narrowed, v)
		}
	}
	if len(narrowed) == 0 {
		return versions, nil
	}
	return narrowed, nil
}

func scriptSources(body []byte) []string {
	_, refs := htmlscan.Scan(body)
	var out []string
	for _, r := range refs {
		if r.Tag == "script" {
			out = append(out, r.URL)
		}
	}
	return out
}
