package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/flanksource/fingerprint/pkg/types"
)

// PathEntropy is one row returned by HighEntropyPaths: a webroot path plus
// the two counts the engine sums to rank probe candidates.
type PathEntropy struct {
	Path          string
	VersionCount  int
	ChecksumCount int
}

// UsersByChecksum returns every version that ships some static file with
// the given checksum - the engine's "using_versions" lookup.
func (s *Store) UsersByChecksum(ctx context.Context, checksum [16]byte) ([]types.SoftwareVersion, error) {
	const q = `
SELECT DISTINCT sp.name, sp.vendor, sp.alternative_names, sv.name, sv.internal_identifier, sv.release_date, sv.indexed
FROM software_version sv
JOIN software_package sp ON sp.id = sv.package_id
JOIN static_file_use u ON u.version_id = sv.id
JOIN static_file sf ON sf.id = u.static_file_id
WHERE sf.checksum = ?`
	rows, err := s.db.QueryContext(ctx, q, checksum[:])
	if err != nil {
		return nil, fmt.Errorf("store: users_by_checksum: %w", err)
	}
	defer rows.Close()
	return scanVersions(rows)
}

// ExpectedByWebrootPath returns every version that ships any file at path,
// regardless of which checksum - the engine's "expected_versions" lookup.
func (s *Store) ExpectedByWebrootPath(ctx context.Context, path string) ([]types.SoftwareVersion, error) {
	const q = `
SELECT DISTINCT sp.name, sp.vendor, sp.alternative_names, sv.name, sv.internal_identifier, sv.release_date, sv.indexed
FROM software_version sv
JOIN software_package sp ON sp.id = sv.package_id
JOIN static_file_use u ON u.version_id = sv.id
JOIN static_file sf ON sf.id = u.static_file_id
WHERE sf.webroot_path = ?`
	rows, err := s.db.QueryContext(ctx, q, path)
	if err != nil {
		return nil, fmt.Errorf("store: expected_by_webroot_path: %w", err)
	}
	defer rows.Close()
	return scanVersions(rows)
}

// IDFWeight returns log10(N/k) where N is the number of indexed versions
// and k is the number of indexed versions that use a file with checksum c.
// k=0 (checksum unknown to the index) returns 1, matching a single
// positive/negative match contributing a neutral, non-dominant weight.
func (s *Store) IDFWeight(ctx context.Context, checksum [16]byte) (float64, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM software_version WHERE indexed = 1`).Scan(&total); err != nil {
		return 0, fmt.Errorf("store: idf_weight: count indexed versions: %w", err)
	}
	if total == 0 {
		return 1, nil
	}

	const q = `
SELECT COUNT(DISTINCT u.version_id)
FROM static_file_use u
JOIN static_file sf ON sf.id = u.static_file_id
JOIN software_version sv ON sv.id = u.version_id
WHERE sf.checksum = ? AND sv.indexed = 1`
	var k int
	if err := s.db.QueryRowContext(ctx, q, checksum[:]).Scan(&k); err != nil {
		return 0, fmt.Errorf("store: idf_weight: count users: %w", err)
	}
	if k == 0 {
		return 1, nil
	}
	return math.Log10(float64(total) / float64(k)), nil
}

// HighEntropyPaths returns up to limit webroot paths that best discriminate
// among the given versions, sorted deterministically (version_count +
// checksum_count descending, path ascending), skipping excluded paths and
// paths that are universal and unanimous across versions (they carry no
// discriminating information).
func (s *Store) HighEntropyPaths(ctx context.Context, versions []types.SoftwareVersion, limit int, exclude map[string]bool) ([]PathEntropy, error) {
	if len(versions) == 0 || limit <= 0 {
		return nil, nil
	}

	ids, err := s.versionIDs(ctx, versions)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	q := fmt.Sprintf(`
SELECT sf.webroot_path,
       COUNT(DISTINCT u.version_id)  AS version_count,
       COUNT(DISTINCT sf.checksum)   AS checksum_count
FROM static_file_use u
JOIN static_file sf ON sf.id = u.static_file_id
WHERE u.version_id IN (%s)
GROUP BY sf.webroot_path`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: high_entropy_paths: %w", err)
	}
	defer rows.Close()

	total := len(ids)
	var out []PathEntropy
	for rows.Next() {
		var pe PathEntropy
		if err := rows.Scan(&pe.Path, &pe.VersionCount, &pe.ChecksumCount); err != nil {
			return nil, fmt.Errorf("store: high_entropy_paths: scan: %w", err)
		}
		if exclude[pe.Path] {
			continue
		}
		if pe.VersionCount == total && pe.ChecksumCount == 1 {
			continue
		}
		out = append(out, pe)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: high_entropy_paths: %w", err)
	}

	sort.Slice(out, func(i, j int) bool {
		si := out[i].VersionCount + out[i].ChecksumCount
		sj := out[j].VersionCount + out[j].ChecksumCount
		if si != sj {
			return si > sj
		}
		return out[i].Path < out[j].Path
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// KnownStaticFilesByChecksum returns every indexed static_file row matching
// checksum, regardless of which version(s) use it - the raw rows an Asset
// exposes as its known_static_files.
func (s *Store) KnownStaticFilesByChecksum(ctx context.Context, checksum [16]byte) ([]types.StaticFile, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT DISTINCT source_path, webroot_path, checksum FROM static_file WHERE checksum = ?`, checksum[:])
	if err != nil {
		return nil, fmt.Errorf("store: known_static_files: %w", err)
	}
	defer rows.Close()

	var out []types.StaticFile
	for rows.Next() {
		var f types.StaticFile
		var raw []byte
		if err := rows.Scan(&f.SourcePath, &f.WebrootPath, &raw); err != nil {
			return nil, fmt.Errorf("store: known_static_files: scan: %w", err)
		}
		copy(f.Checksum[:], raw)
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// VersionsOf returns every version of pkg, optionally restricted to ones
// the indexer has finished ingesting. Used both by the freshness hint and
// by the initial-hints extractor.
func (s *Store) VersionsOf(ctx context.Context, pkg types.SoftwarePackage, indexedOnly bool) ([]types.SoftwareVersion, error) {
	q := `
SELECT sp.name, sp.vendor, sp.alternative_names, sv.name, sv.internal_identifier, sv.release_date, sv.indexed
FROM software_version sv
JOIN software_package sp ON sp.id = sv.package_id
WHERE sp.name = ? AND sp.vendor = ?`
	if indexedOnly {
		q += ` AND sv.indexed = 1`
	}
	rows, err := s.db.QueryContext(ctx, q, pkg.Name, pkg.Vendor)
	if err != nil {
		return nil, fmt.Errorf("store: versions_of: %w", err)
	}
	defer rows.Close()
	return scanVersions(rows)
}

// Packages returns every distinct package known to the index, for the
// initial-hints extractor to match generator tags and signature rules
// against.
func (s *Store) Packages(ctx context.Context) ([]types.SoftwarePackage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, vendor, alternative_names FROM software_package`)
	if err != nil {
		return nil, fmt.Errorf("store: packages: %w", err)
	}
	defer rows.Close()

	var out []types.SoftwarePackage
	for rows.Next() {
		var p types.SoftwarePackage
		var altNamesJSON string
		if err := rows.Scan(&p.Name, &p.Vendor, &altNamesJSON); err != nil {
			return nil, fmt.Errorf("store: packages: scan: %w", err)
		}
		p.AlternativeNames = decodeAltNames(altNamesJSON)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// versionIDs resolves the given versions to their internal row ids. A
// version unknown to the store is a data-contract violation (the caller is
// expected to only ever pass versions it got from this store in the first
// place) and surfaces as an error: missing index rows from queries
// requiring existence are not absorbed.
func (s *Store) versionIDs(ctx context.Context, versions []types.SoftwareVersion) ([]int64, error) {
	ids := make([]int64, 0, len(versions))
	for _, v := range versions {
		var id int64
		err := s.db.QueryRowContext(ctx, `
SELECT sv.id FROM software_version sv
JOIN software_package sp ON sp.id = sv.package_id
WHERE sp.name = ? AND sp.vendor = ? AND sv.internal_identifier = ?`,
			v.Package.Name, v.Package.Vendor, v.InternalIdentifier).Scan(&id)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("store: unknown version %s: %w", v, ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("store: resolve version id for %s: %w", v, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func scanVersions(rows *sql.Rows) ([]types.SoftwareVersion, error) {
	var out []types.SoftwareVersion
	for rows.Next() {
		var (
			v            types.SoftwareVersion
			altNamesJSON string
			releaseUnix  int64
			indexedInt   int
		)
		if err := rows.Scan(&v.Package.Name, &v.Package.Vendor, &altNamesJSON, &v.Name, &v.InternalIdentifier, &releaseUnix, &indexedInt); err != nil {
			return nil, fmt.Errorf("store: scan version: %w", err)
		}
		v.Package.AlternativeNames = decodeAltNames(altNamesJSON)
		v.ReleaseDate = time.Unix(releaseUnix, 0).UTC()
		v.Indexed = indexedInt != 0
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
