package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/flanksource/fingerprint/pkg/types"
)

// ErrNotFound marks a query that requires an existing row (a version id
// lookup, typically) failing to find one. Per the engine's error-handling
// contract this is a store-contract violation, not a runtime condition: it
// is returned up through Analyze and aborts the run rather than being
// absorbed like a per-asset fetch failure.
var ErrNotFound = errors.New("store: not found")

// InsertPackage inserts pkg if it doesn't already exist (unique on
// name,vendor) and returns its row id either way.
func (s *Store) InsertPackage(ctx context.Context, pkg types.SoftwarePackage) (int64, error) {
	altNames, err := encodeAltNames(pkg.AlternativeNames)
	if err != nil {
		return 0, err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO software_package (name, vendor, alternative_names) VALUES (?, ?, ?)
ON CONFLICT(name, vendor) DO UPDATE SET alternative_names = excluded.alternative_names`,
		pkg.Name, pkg.Vendor, altNames)
	if err != nil {
		return 0, fmt.Errorf("store: insert_package: %w", err)
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM software_package WHERE name = ? AND vendor = ?`, pkg.Name, pkg.Vendor).Scan(&id); err != nil {
		return 0, fmt.Errorf("store: insert_package: reselect: %w", err)
	}
	return id, nil
}

// InsertVersion inserts v (creating its package if necessary) and returns
// its row id.
func (s *Store) InsertVersion(ctx context.Context, v types.SoftwareVersion) (int64, error) {
	pkgID, err := s.InsertPackage(ctx, v.Package)
	if err != nil {
		return 0, err
	}
	indexed := 0
	if v.Indexed {
		indexed = 1
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO software_version (package_id, name, internal_identifier, release_date, indexed)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(package_id, internal_identifier) DO UPDATE SET
	name = excluded.name, release_date = excluded.release_date, indexed = excluded.indexed`,
		pkgID, v.Name, v.InternalIdentifier, v.ReleaseDate.Unix(), indexed)
	if err != nil {
		return 0, fmt.Errorf("store: insert_version: %w", err)
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM software_version WHERE package_id = ? AND internal_identifier = ?`, pkgID, v.InternalIdentifier).Scan(&id); err != nil {
		return 0, fmt.Errorf("store: insert_version: reselect: %w", err)
	}
	return id, nil
}

// InsertStaticFile inserts f, deduping on (source_path, webroot_path,
// checksum), and returns its row id.
func (s *Store) InsertStaticFile(ctx context.Context, f types.StaticFile) (int64, error) {
	return insertStaticFile(ctx, s.db, f)
}

func insertStaticFile(ctx context.Context, ex execer, f types.StaticFile) (int64, error) {
	_, err := ex.ExecContext(ctx, `
INSERT INTO static_file (source_path, webroot_path, checksum) VALUES (?, ?, ?)
ON CONFLICT(source_path, webroot_path, checksum) DO NOTHING`,
		f.SourcePath, f.WebrootPath, f.Checksum[:])
	if err != nil {
		return 0, fmt.Errorf("store: insert_static_file: %w", err)
	}
	var id int64
	if err := ex.QueryRowContext(ctx, `
SELECT id FROM static_file WHERE source_path = ? AND webroot_path = ? AND checksum = ?`,
		f.SourcePath, f.WebrootPath, f.Checksum[:]).Scan(&id); err != nil {
		return 0, fmt.Errorf("store: insert_static_file: reselect: %w", err)
	}
	return id, nil
}

// LinkUse records that version ships static file - the many-to-many edge
// dedup guarantees two versions serving byte-identical content at the same
// webroot path point at the same static_file row, which is what makes
// IDFWeight meaningful.
func (s *Store) LinkUse(ctx context.Context, versionID, staticFileID int64) error {
	return linkUse(ctx, s.db, versionID, staticFileID)
}

func linkUse(ctx context.Context, ex execer, versionID, staticFileID int64) error {
	_, err := ex.ExecContext(ctx, `
INSERT INTO static_file_use (version_id, static_file_id) VALUES (?, ?)
ON CONFLICT(version_id, static_file_id) DO NOTHING`, versionID, staticFileID)
	if err != nil {
		return fmt.Errorf("store: link_use: %w", err)
	}
	return nil
}

// MarkIndexed flags v as fully ingested by the crawler-indexer.
func (s *Store) MarkIndexed(ctx context.Context, v types.SoftwareVersion) error {
	id, err := s.versionIDs(ctx, []types.SoftwareVersion{v})
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE software_version SET indexed = 1 WHERE id = ?`, id[0])
	if err != nil {
		return fmt.Errorf("store: mark_indexed: %w", err)
	}
	return nil
}

// DeleteVersion removes v and, via ON DELETE CASCADE, every Use edge that
// referenced it - garbage collection of a version no longer available
// upstream.
func (s *Store) DeleteVersion(ctx context.Context, v types.SoftwareVersion) error {
	id, err := s.versionIDs(ctx, []types.SoftwareVersion{v})
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM software_version WHERE id = ?`, id[0]); err != nil {
		return fmt.Errorf("store: delete_version: %w", err)
	}
	return nil
}

// BulkIngest inserts version and every (StaticFile, used) pair atomically,
// transactionally equivalent to calling InsertVersion/InsertStaticFile/
// LinkUse in sequence - the shape the crawler-indexer's bulk writes take.
func (s *Store) BulkIngest(ctx context.Context, v types.SoftwareVersion, files []types.StaticFile) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: bulk_ingest: begin: %w", err)
	}
	defer tx.Rollback()

	pkgID, err := insertPackageTx(ctx, tx, v.Package)
	if err != nil {
		return err
	}
	indexed := 0
	if v.Indexed {
		indexed = 1
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO software_version (package_id, name, internal_identifier, release_date, indexed)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(package_id, internal_identifier) DO UPDATE SET
	name = excluded.name, release_date = excluded.release_date, indexed = excluded.indexed`,
		pkgID, v.Name, v.InternalIdentifier, v.ReleaseDate.Unix(), indexed); err != nil {
		return fmt.Errorf("store: bulk_ingest: insert version: %w", err)
	}
	var versionID int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM software_version WHERE package_id = ? AND internal_identifier = ?`, pkgID, v.InternalIdentifier).Scan(&versionID); err != nil {
		return fmt.Errorf("store: bulk_ingest: reselect version: %w", err)
	}

	for _, f := range files {
		fileID, err := insertStaticFile(ctx, tx, f)
		if err != nil {
			return err
		}
		if err := linkUse(ctx, tx, versionID, fileID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func insertPackageTx(ctx context.Context, tx *sql.Tx, pkg types.SoftwarePackage) (int64, error) {
	altNames, err := encodeAltNames(pkg.AlternativeNames)
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO software_package (name, vendor, alternative_names) VALUES (?, ?, ?)
ON CONFLICT(name, vendor) DO UPDATE SET alternative_names = excluded.alternative_names`,
		pkg.Name, pkg.Vendor, altNames); err != nil {
		return 0, fmt.Errorf("store: insert_package: %w", err)
	}
	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM software_package WHERE name = ? AND vendor = ?`, pkg.Name, pkg.Vendor).Scan(&id); err != nil {
		return 0, fmt.Errorf("store: insert_package: reselect: %w", err)
	}
	return id, nil
}

// execer is the subset of *sql.DB / *sql.Tx the write helpers need, so the
// same insert logic runs both standalone and inside BulkIngest's
// transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func encodeAltNames(names []string) (string, error) {
	if names == nil {
		names = []string{}
	}
	data, err := json.Marshal(names)
	if err != nil {
		return "", fmt.Errorf("store: encode alternative_names: %w", err)
	}
	return string(data), nil
}

func decodeAltNames(data string) []string {
	var names []string
	if err := json.Unmarshal([]byte(data), &names); err != nil {
		return nil
	}
	return names
}
