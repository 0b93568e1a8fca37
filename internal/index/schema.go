// Package index provides the SQLite mirror of the canonical store: trees,
// branches, leaves (with embedding blobs), and links. The canonical files
// are the source of truth; everything here is reconstructible from them
// except the link graph, which lives only in the index and is carried
// across rebuilds.
package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/grovekb/grove/internal/apperr"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trees (
	name       TEXT PRIMARY KEY,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS branches (
	tree       TEXT NOT NULL,
	name       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (tree, name)
);

CREATE TABLE IF NOT EXISTS leaves (
	path         TEXT PRIMARY KEY,
	tree         TEXT NOT NULL,
	branch       TEXT NOT NULL,
	name         TEXT NOT NULL,
	content_hash TEXT NOT NULL DEFAULT '',
	embedding    BLOB,
	tier         TEXT NOT NULL DEFAULT 'leaves',
	confidence   REAL NOT NULL DEFAULT 0.5,
	tags         TEXT NOT NULL DEFAULT '[]',
	created_at   DATETIME,
	updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_leaves_tier ON leaves(tier);
CREATE INDEX IF NOT EXISTS idx_leaves_tree_branch ON leaves(tree, branch);

CREATE TABLE IF NOT EXISTS links (
	from_path  TEXT NOT NULL,
	to_path    TEXT NOT NULL,
	relation   TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (from_path, to_path, relation)
);

CREATE INDEX IF NOT EXISTS idx_links_from ON links(from_path);
CREATE INDEX IF NOT EXISTS idx_links_to ON links(to_path);
`

// Meta keys recorded per store so provider switches are detected, not
// silently mixed.
const (
	MetaProvider   = "provider"
	MetaModel      = "model"
	MetaDimensions = "dimensions"
)

// DB wraps a sql.DB with index-specific operations.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens (or creates) the SQLite index and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply schema: %w", err)
	}
	return &DB{conn: conn, path: dsn}, nil
}

// Path returns the database file path this DB was opened at.
func (db *DB) Path() string { return db.path }

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Check runs a consistency check and verifies the expected tables exist.
// A failure is reported as ErrIndexCorrupt, recoverable via reindex.
func (db *DB) Check() error {
	var result string
	if err := db.conn.QueryRow(`PRAGMA integrity_check`).Scan(&result); err != nil || result != "ok" {
		return fmt.Errorf("%w: integrity check: %s", apperr.ErrIndexCorrupt, result)
	}
	for _, table := range []string{"meta", "trees", "branches", "leaves", "links"} {
		var n int
		if err := db.conn.QueryRow(fmt.Sprintf(`SELECT count(*) FROM %s`, table)).Scan(&n); err != nil {
			return fmt.Errorf("%w: table %s: %v", apperr.ErrIndexCorrupt, table, err)
		}
	}
	return nil
}

// Meta returns the value stored under key, empty when unset.
func (db *DB) Meta(key string) (string, error) {
	var v string
	err := db.conn.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: meta %s: %w", key, err)
	}
	return v, nil
}

// SetMeta stores a meta value.
func (db *DB) SetMeta(key, value string) error {
	_, err := db.conn.Exec(`
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("index: set meta %s: %w", key, err)
	}
	return nil
}
