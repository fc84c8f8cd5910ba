// Package types holds the data model shared across the index store, the
// asset fetcher and the inference engine: software packages, the versions
// released for them, and the static files those versions ship.
package types

import "time"

// SoftwarePackage identifies a web-application package by name and vendor.
// Alternative names are used when matching labels extracted from a site
// (e.g. a generator tag or a signature rule) against the package.
type SoftwarePackage struct {
	Name             string   `json:"name" yaml:"name"`
	Vendor           string   `json:"vendor" yaml:"vendor"`
	AlternativeNames []string `json:"alternative_names,omitempty" yaml:"alternative_names,omitempty"`
}

// Key returns the identity tuple used for equality and map keys.
func (p SoftwarePackage) Key() [2]string {
	return [2]string{p.Name, p.Vendor}
}

// Matches reports whether label equals the package's canonical name or any
// of its alternative display names. Comparison is case-sensitive; callers
// normalize case before comparing.
func (p SoftwarePackage) Matches(label string) bool {
	if label == p.Name {
		return true
	}
	for _, alt := range p.AlternativeNames {
		if label == alt {
			return true
		}
	}
	return false
}

// SoftwareVersion identifies one released version of a package. Indexed
// marks that the crawler-indexer has completed ingestion for this version.
// Only indexed versions count towards IDF weights; versions that are not
// yet indexed are still visible to freshness checks and to initial hints,
// and probe selection does not filter them out.
type SoftwareVersion struct {
	Package            SoftwarePackage `json:"software_package" yaml:"software_package"`
	Name               string          `json:"name" yaml:"name"`
	InternalIdentifier string          `json:"internal_identifier" yaml:"internal_identifier"`
	ReleaseDate        time.Time       `json:"release_date" yaml:"release_date"`
	Indexed            bool            `json:"-" yaml:"-"`
}

// Key returns the identity tuple used for equality and map keys.
func (v SoftwareVersion) Key() [3]string {
	return [3]string{v.Package.Name, v.Package.Vendor, v.InternalIdentifier}
}

func (v SoftwareVersion) String() string {
	return v.Package.Name + " " + v.Name
}

// StaticFile is one concrete file shipped by one or more versions at a
// given webroot path. The same webroot path may be served by many distinct
// checksums across versions - that variability is what makes a path
// discriminating.
type StaticFile struct {
	SourcePath  string   `json:"source_path" yaml:"source_path"`
	WebrootPath string   `json:"webroot_path" yaml:"webroot_path"`
	Checksum    [16]byte `json:"checksum" yaml:"checksum"`
}

// Key returns the identity tuple used for deduplication on insert.
func (f StaticFile) Key() [3]string {
	return [3]string{f.SourcePath, f.WebrootPath, string(f.Checksum[:])}
}

// Use is the many-to-many edge between a SoftwareVersion and a StaticFile it
// ships. Two versions serving byte-identical content at the same webroot
// path each have a Use record pointing at the same StaticFile row - required
// for IDF weighting to mean anything.
type Use struct {
	Version    SoftwareVersion `json:"version" yaml:"version"`
	StaticFile StaticFile      `json:"static_file" yaml:"static_file"`
}
