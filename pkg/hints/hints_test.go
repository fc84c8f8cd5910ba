package hints

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flanksource/fingerprint/pkg/types"
)

type fakeCatalog struct {
	packages []types.SoftwarePackage
	versions map[string][]types.SoftwareVersion
}

func (c *fakeCatalog) Packages(ctx context.Context) ([]types.SoftwarePackage, error) {
	return c.packages, nil
}

func (c *fakeCatalog) VersionsOf(ctx context.Context, pkg types.SoftwarePackage, indexedOnly bool) ([]types.SoftwareVersion, error) {
	return c.versions[pkg.Name], nil
}

func widgetCatalog() *fakeCatalog {
	pkg := types.SoftwarePackage{Name: "WidgetCMS", AlternativeNames: []string{"Widget CMS"}}
	return &fakeCatalog{
		packages: []types.SoftwarePackage{pkg},
		versions: map[string][]types.SoftwareVersion{
			"WidgetCMS": {
				{Package: pkg, Name: "6.4.2", InternalIdentifier: "6.4.2"},
				{Package: pkg, Name: "6.5.0", InternalIdentifier: "6.5.0"},
			},
		},
	}
}

func TestExtract_GeneratorTagNarrowsToMatchingVersion(t *testing.T) {
	catalog := widgetCatalog()
	e := New(nil)
	resp := Response{Body: []byte(`<html><head><meta name="generator" content="WidgetCMS 6.4.2"></head></html>`)}

	versions, err := e.Extract(context.Background(), resp, catalog)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, "6.4.2", versions[0].Name)
}

func TestExtract_GeneratorTagFallsBackToAllVersions(t *testing.T) {
	catalog := widgetCatalog()
	e := New(nil)
	resp := Response{Body: []byte(`<html><head><meta name="generator" content="WidgetCMS"></head></html>`)}

	versions, err := e.Extract(context.Background(), resp, catalog)
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestExtract_UnknownGeneratorYieldsNothing(t *testing.T) {
	catalog := widgetCatalog()
	e := New(nil)
	resp := Response{Body: []byte(`<html><head><meta name="generator" content="SomeOtherThing 1.0"></head></html>`)}

	versions, err := e.Extract(context.Background(), resp, catalog)
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestExtract_SignatureRuleExpandsToAllVersionsOfPackage(t *testing.T) {
	catalog := widgetCatalog()
	rule := Rule{
		Name:    "widget-header",
		Pattern: regexp.MustCompile(`(?i)widgetcms`),
		Field:   FieldHeader,
		Package: catalog.packages[0],
	}
	e := New([]Rule{rule})
	resp := Response{
		Body:    []byte(`<html></html>`),
		Headers: map[string][]string{"X-Powered-By": {"WidgetCMS"}},
	}

	versions, err := e.Extract(context.Background(), resp, catalog)
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestExtract_ScriptSrcRuleMatches(t *testing.T) {
	catalog := widgetCatalog()
	rule := Rule{
		Name:    "widget-script",
		Pattern: regexp.MustCompile(`widget-core\.js`),
		Field:   FieldScriptSrc,
		Package: catalog.packages[0],
	}
	e := New([]Rule{rule})
	resp := Response{Body: []byte(`<html><body><script src="/assets/widget-core.js"></script></body></html>`)}

	versions, err := e.Extract(context.Background(), resp, catalog)
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestExtract_DeduplicatesAcrossGeneratorAndRules(t *testing.T) {
	catalog := widgetCatalog()
	rule := Rule{
		Name:    "widget-header",
		Pattern: regexp.MustCompile(`(?i)widgetcms`),
		Field:   FieldHeader,
		Package: catalog.packages[0],
	}
	e := New([]Rule{rule})
	resp := Response{
		Body:    []byte(`<html><head><meta name="generator" content="WidgetCMS"></head></html>`),
		Headers: map[string][]string{"X-Powered-By": {"WidgetCMS"}},
	}

	versions, err := e.Extract(context.Background(), resp, catalog)
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}
