// Package store is the index store: the append-dominant inverted index the
// inference engine queries to turn a checksum or a webroot path into
// candidate software versions, and to pick the next most discriminating
// probe path for a given set of candidates.
//
// The schema mirrors the uniqueness keys from the data model exactly:
// package (name, vendor), version (package, internal_identifier), static
// file (source_path, webroot_path, checksum), use (version, static_file).
package store

import (
	"database/sql"
	"fmt"

	"github.com/flanksource/commons/logger"
	_ "modernc.org/sqlite"
)

// Store is a handle to one sqlite-backed index. It is not safe to share
// live between concurrent analyses - each engine instance opens its own
// handle against the same database file, matching the "used exclusively by
// one engine instance at a time" resource rule.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS software_package (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	name              TEXT NOT NULL,
	vendor            TEXT NOT NULL,
	alternative_names TEXT NOT NULL DEFAULT '[]',
	UNIQUE(name, vendor)
);

CREATE TABLE IF NOT EXISTS software_version (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	package_id          INTEGER NOT NULL REFERENCES software_package(id) ON DELETE CASCADE,
	name                TEXT NOT NULL,
	internal_identifier TEXT NOT NULL,
	release_date        INTEGER NOT NULL DEFAULT 0,
	indexed             INTEGER NOT NULL DEFAULT 0,
	UNIQUE(package_id, internal_identifier)
);

CREATE TABLE IF NOT EXISTS static_file (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	source_path  TEXT NOT NULL,
	webroot_path TEXT NOT NULL,
	checksum     BLOB NOT NULL,
	UNIQUE(source_path, webroot_path, checksum)
);

CREATE TABLE IF NOT EXISTS static_file_use (
	version_id     INTEGER NOT NULL REFERENCES software_version(id) ON DELETE CASCADE,
	static_file_id INTEGER NOT NULL REFERENCES static_file(id) ON DELETE CASCADE,
	PRIMARY KEY (version_id, static_file_id)
);

CREATE INDEX IF NOT EXISTS idx_static_file_webroot ON static_file(webroot_path);
CREATE INDEX IF NOT EXISTS idx_static_file_checksum ON static_file(checksum);
CREATE INDEX IF NOT EXISTS idx_use_static_file ON static_file_use(static_file_id);
`

// Open opens (creating if necessary) the sqlite index at path and ensures
// its schema exists. path may be ":memory:" for an ephemeral index, which
// is how the engine's own test suite builds fixture indexes.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	logger.V(3).Infof("store: opened index at %s", path)
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw connection for callers (tests, the bulk-insert
// fixtures) that need to run ad-hoc statements outside this package's
// query surface.
func (s *Store) DB() *sql.DB {
	return s.db
}
