package index

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/grovekb/grove/internal/apperr"
	"github.com/grovekb/grove/internal/embedding"
	"github.com/grovekb/grove/internal/models"
)

// LeafRow represents a row in the leaves table. A nil Embedding means the
// vector is pending: the leaf stays retrievable by path and tag but is
// excluded from semantic scoring until a reindex succeeds.
type LeafRow struct {
	Path        string
	Tree        string
	Branch      string
	Name        string
	ContentHash string
	Embedding   []float32
	Tier        models.Tier
	Confidence  float64
	Tags        []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Filter narrows leaf listings. Zero values mean "no constraint".
type Filter struct {
	Tree          string
	Branch        string
	Tier          models.Tier
	Tag           string
	MinConfidence float64
}

// EnsureDimensions records the store's embedding configuration on first use
// and rejects a differing one afterwards. Vectors from different providers
// or models are incomparable even at equal dimensionality, so any switch
// without reindexing is reported rather than silently mixed.
func (db *DB) EnsureDimensions(provider, model string, dim int) error {
	stored, err := db.Meta(MetaDimensions)
	if err != nil {
		return err
	}
	if stored == "" {
		if err := db.SetMeta(MetaProvider, provider); err != nil {
			return err
		}
		if err := db.SetMeta(MetaModel, model); err != nil {
			return err
		}
		return db.SetMeta(MetaDimensions, strconv.Itoa(dim))
	}
	storedProvider, err := db.Meta(MetaProvider)
	if err != nil {
		return err
	}
	storedModel, err := db.Meta(MetaModel)
	if err != nil {
		return err
	}
	storedDim, _ := strconv.Atoi(stored)
	if storedDim != dim || storedProvider != provider || storedModel != model {
		return fmt.Errorf("%w: index built with %s/%s at %d dimensions, configured provider %s/%s produces %d (run reindex)",
			apperr.ErrDimensionMismatch, storedProvider, storedModel, storedDim, provider, model, dim)
	}
	return nil
}

// UpsertLeaf inserts or replaces a leaf row in one transaction. The
// embedding length must match the recorded store dimensionality.
func (db *DB) UpsertLeaf(row LeafRow) error {
	if row.Embedding != nil {
		stored, err := db.Meta(MetaDimensions)
		if err != nil {
			return err
		}
		if dim, _ := strconv.Atoi(stored); dim != 0 && dim != len(row.Embedding) {
			return fmt.Errorf("%w: vector of %d dimensions, index expects %d",
				apperr.ErrDimensionMismatch, len(row.Embedding), dim)
		}
	}

	tagsJSON, _ := json.Marshal(nonNilTags(row.Tags))

	var blob any
	if row.Embedding != nil {
		blob = embedding.EncodeVector(row.Embedding)
	}

	_, err := db.conn.Exec(`
		INSERT INTO leaves (path, tree, branch, name, content_hash, embedding, tier, confidence, tags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			content_hash = excluded.content_hash,
			embedding    = excluded.embedding,
			tier         = excluded.tier,
			confidence   = excluded.confidence,
			tags         = excluded.tags,
			updated_at   = excluded.updated_at
	`, row.Path, row.Tree, row.Branch, row.Name, row.ContentHash, blob,
		string(row.Tier), row.Confidence, string(tagsJSON), row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert leaf: %w", err)
	}
	return nil
}

// GetLeaf returns a leaf row by path.
func (db *DB) GetLeaf(path string) (*LeafRow, error) {
	row := db.conn.QueryRow(`
		SELECT path, tree, branch, name, content_hash, embedding, tier, confidence, tags, created_at, updated_at
		FROM leaves WHERE path = ?
	`, path)
	lr, err := scanLeaf(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: leaf %s", apperr.ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get leaf: %w", err)
	}
	return lr, nil
}

// ListLeaves returns rows matching the filter, most recently updated first,
// ties broken by path.
func (db *DB) ListLeaves(f Filter) ([]LeafRow, error) {
	query := `
		SELECT path, tree, branch, name, content_hash, embedding, tier, confidence, tags, created_at, updated_at
		FROM leaves WHERE 1=1`
	var args []any
	if f.Tree != "" {
		query += ` AND tree = ?`
		args = append(args, f.Tree)
	}
	if f.Branch != "" {
		query += ` AND branch = ?`
		args = append(args, f.Branch)
	}
	if f.Tier != "" {
		query += ` AND tier = ?`
		args = append(args, string(f.Tier))
	}
	if f.Tag != "" {
		query += ` AND tags LIKE ? ESCAPE '\'`
		args = append(args, `%"`+escapeLike(f.Tag)+`"%`)
	}
	if f.MinConfidence > 0 {
		query += ` AND confidence >= ?`
		args = append(args, f.MinConfidence)
	}
	query += ` ORDER BY updated_at DESC, path`

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("index: list leaves: %w", err)
	}
	defer rows.Close()

	var out []LeafRow
	for rows.Next() {
		lr, err := scanLeaf(rows)
		if err != nil {
			return nil, fmt.Errorf("index: scan leaf: %w", err)
		}
		out = append(out, *lr)
	}
	return out, rows.Err()
}

// DeleteLeaf removes a leaf row and every link touching it.
func (db *DB) DeleteLeaf(path string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, _ = tx.Exec(`DELETE FROM links WHERE from_path = ? OR to_path = ?`, path, path)
	_, _ = tx.Exec(`DELETE FROM leaves WHERE path = ?`, path)

	return tx.Commit()
}

// GetChecksum returns the stored content hash for a leaf, or empty string
// when the leaf is not indexed.
func (db *DB) GetChecksum(path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT content_hash FROM leaves WHERE path = ?`, path).Scan(&cs)
	if err != nil {
		return "", nil // not found is fine
	}
	return cs, nil
}

// AllChecksums returns path → content hash for every indexed leaf.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, content_hash FROM leaves`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// PendingCount returns the number of leaves without an embedding.
func (db *DB) PendingCount() (int, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT count(*) FROM leaves WHERE embedding IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("index: pending count: %w", err)
	}
	return n, nil
}

// UpsertTree records a tree row.
func (db *DB) UpsertTree(name string, createdAt time.Time) error {
	_, err := db.conn.Exec(`
		INSERT INTO trees (name, created_at) VALUES (?, ?)
		ON CONFLICT(name) DO NOTHING
	`, name, createdAt)
	if err != nil {
		return fmt.Errorf("index: upsert tree: %w", err)
	}
	return nil
}

// UpsertBranch records a branch row.
func (db *DB) UpsertBranch(tree, name string, createdAt time.Time) error {
	_, err := db.conn.Exec(`
		INSERT INTO branches (tree, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(tree, name) DO NOTHING
	`, tree, name, createdAt)
	if err != nil {
		return fmt.Errorf("index: upsert branch: %w", err)
	}
	return nil
}

// ListTrees returns indexed tree names sorted ascending.
func (db *DB) ListTrees() ([]string, error) {
	rows, err := db.conn.Query(`SELECT name FROM trees ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("index: list trees: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ListBranches returns branch names of a tree sorted ascending.
func (db *DB) ListBranches(tree string) ([]string, error) {
	rows, err := db.conn.Query(`SELECT name FROM branches WHERE tree = ? ORDER BY name`, tree)
	if err != nil {
		return nil, fmt.Errorf("index: list branches: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// structureTimes returns creation times for trees (by name) and branches
// (by tree/name), used by Rebuild to preserve them across the swap.
func (db *DB) structureTimes() (map[string]time.Time, map[string]time.Time, error) {
	trees := make(map[string]time.Time)
	rows, err := db.conn.Query(`SELECT name, created_at FROM trees`)
	if err != nil {
		return nil, nil, fmt.Errorf("index: tree times: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var n string
		var t time.Time
		if err := rows.Scan(&n, &t); err != nil {
			return nil, nil, err
		}
		trees[n] = t
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	branches := make(map[string]time.Time)
	brows, err := db.conn.Query(`SELECT tree, name, created_at FROM branches`)
	if err != nil {
		return nil, nil, fmt.Errorf("index: branch times: %w", err)
	}
	defer brows.Close()
	for brows.Next() {
		var tree, n string
		var t time.Time
		if err := brows.Scan(&tree, &n, &t); err != nil {
			return nil, nil, err
		}
		branches[tree+"/"+n] = t
	}
	return trees, branches, brows.Err()
}

// AddLink inserts a directed edge. (from, to, relation) triples are unique;
// re-inserting is a no-op.
func (db *DB) AddLink(from, to, relation string, createdAt time.Time) error {
	_, err := db.conn.Exec(`
		INSERT OR IGNORE INTO links (from_path, to_path, relation, created_at)
		VALUES (?, ?, ?, ?)
	`, from, to, relation, createdAt)
	if err != nil {
		return fmt.Errorf("index: add link: %w", err)
	}
	return nil
}

// RemoveLink deletes a specific edge.
func (db *DB) RemoveLink(from, to, relation string) error {
	_, err := db.conn.Exec(`
		DELETE FROM links WHERE from_path = ? AND to_path = ? AND relation = ?
	`, from, to, relation)
	if err != nil {
		return fmt.Errorf("index: remove link: %w", err)
	}
	return nil
}

// LinksFrom returns outgoing edges ordered by relation then target path.
func (db *DB) LinksFrom(path string) ([]models.Link, error) {
	return db.queryLinks(`SELECT from_path, to_path, relation, created_at FROM links
		WHERE from_path = ? ORDER BY relation, to_path`, path)
}

// LinksTo returns incoming edges ordered by relation then source path.
func (db *DB) LinksTo(path string) ([]models.Link, error) {
	return db.queryLinks(`SELECT from_path, to_path, relation, created_at FROM links
		WHERE to_path = ? ORDER BY relation, from_path`, path)
}

// AllLinks returns every edge, ordered for deterministic output.
func (db *DB) AllLinks() ([]models.Link, error) {
	return db.queryLinks(`SELECT from_path, to_path, relation, created_at FROM links
		ORDER BY from_path, relation, to_path`)
}

func (db *DB) queryLinks(query string, args ...any) ([]models.Link, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("index: query links: %w", err)
	}
	defer rows.Close()

	var out []models.Link
	for rows.Next() {
		var l models.Link
		if err := rows.Scan(&l.From, &l.To, &l.Relation, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLeaf(s scanner) (*LeafRow, error) {
	var lr LeafRow
	var tier, tagsJSON string
	var blob []byte
	var created sql.NullTime
	if err := s.Scan(&lr.Path, &lr.Tree, &lr.Branch, &lr.Name, &lr.ContentHash,
		&blob, &tier, &lr.Confidence, &tagsJSON, &created, &lr.UpdatedAt); err != nil {
		return nil, err
	}
	lr.Tier = models.Tier(tier)
	if created.Valid {
		lr.CreatedAt = created.Time
	}
	if blob != nil {
		lr.Embedding = embedding.DecodeVector(blob)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &lr.Tags); err != nil {
		lr.Tags = []string{}
	}
	return &lr, nil
}

// escapeLike neutralizes LIKE wildcards in a tag before it is spliced into
// the JSON-quoted match pattern.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
