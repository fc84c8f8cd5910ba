package hints

import (
	"regexp"

	"github.com/flanksource/fingerprint/pkg/types"
)

// DefaultRules is the built-in signature table: a small set of
// high-confidence fingerprints for the common web applications the index
// is usually built for. Each rule expands to every known version of its
// package; the probe loop does the narrowing.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:    "wordpress-script-src",
			Pattern: regexp.MustCompile(`/wp-(?:content|includes)/`),
			Field:   FieldScriptSrc,
			Package: types.SoftwarePackage{Name: "WordPress", Vendor: "WordPress"},
		},
		{
			Name:    "wordpress-body",
			Pattern: regexp.MustCompile(`/wp-content/themes/`),
			Field:   FieldBody,
			Package: types.SoftwarePackage{Name: "WordPress", Vendor: "WordPress"},
		},
		{
			Name:    "drupal-header",
			Pattern: regexp.MustCompile(`(?i)^Drupal`),
			Field:   FieldHeader,
			Package: types.SoftwarePackage{Name: "Drupal", Vendor: "Drupal"},
		},
		{
			Name:    "drupal-settings",
			Pattern: regexp.MustCompile(`drupal-settings-json|"drupalSettings"`),
			Field:   FieldBody,
			Package: types.SoftwarePackage{Name: "Drupal", Vendor: "Drupal"},
		},
		{
			Name:    "joomla-script-src",
			Pattern: regexp.MustCompile(`/media/(?:jui|system)/js/`),
			Field:   FieldScriptSrc,
			Package: types.SoftwarePackage{Name: "Joomla", Vendor: "Joomla"},
		},
		{
			Name:    "typo3-body",
			Pattern: regexp.MustCompile(`typo3(?:conf|temp)/`),
			Field:   FieldBody,
			Package: types.SoftwarePackage{Name: "TYPO3", Vendor: "TYPO3"},
		},
		{
			Name:    "nextcloud-meta",
			Pattern: regexp.MustCompile(`(?i)nextcloud`),
			Field:   FieldMeta,
			Package: types.SoftwarePackage{Name: "Nextcloud", Vendor: "Nextcloud"},
		},
		{
			Name:    "mediawiki-body",
			Pattern: regexp.MustCompile(`mw\.config|/load\.php\?`),
			Field:   FieldBody,
			Package: types.SoftwarePackage{Name: "MediaWiki", Vendor: "Wikimedia"},
		},
	}
}
