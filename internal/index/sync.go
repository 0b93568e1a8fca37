package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/grovekb/grove/internal/checksum"
	"github.com/grovekb/grove/internal/embedding"
	"github.com/grovekb/grove/internal/parser"
	"github.com/grovekb/grove/internal/storage"
)

// IndexFile parses canonical leaf bytes and upserts the row. An embedding
// failure leaves the row pending (nil vector) rather than failing the
// write; the leaf stays retrievable by path and tag until a reindex.
func IndexFile(ctx context.Context, db *DB, embedder embedding.Embedder, path string, data []byte) error {
	res, err := parser.Parse(data)
	if err != nil {
		return err
	}

	tree, branch, name := splitLeafPath(path)

	row := LeafRow{
		Path:        path,
		Tree:        tree,
		Branch:      branch,
		Name:        name,
		ContentHash: checksum.Sum(data),
		Tier:        res.Tier,
		Confidence:  res.Confidence,
		Tags:        res.Tags,
		CreatedAt:   res.CreatedAt,
		UpdatedAt:   res.UpdatedAt,
	}
	if vec, embErr := embedder.Embed(ctx, res.Body); embErr == nil {
		row.Embedding = vec
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = row.CreatedAt
	}
	return db.UpsertLeaf(row)
}

// Sync walks the canonical files and brings the index up to date:
//   - new/changed files (content hash differs) are re-indexed
//   - rows whose file is gone are deleted
//
// This is the lazy repair path; Rebuild is the full swap.
func Sync(ctx context.Context, db *DB, store storage.Provider, embedder embedding.Embedder, logger *slog.Logger) error {
	metas, err := store.List("")
	if err != nil {
		return err
	}

	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Path] = struct{}{}

		if checksums[m.Path] == m.Checksum {
			continue
		}

		data, err := store.Read(m.Path)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		if err := IndexFile(ctx, db, embedder, m.Path, data); err != nil {
			logger.Warn("sync: index failed", slog.String("path", m.Path), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: indexed", slog.String("path", m.Path))
		}
	}

	// Remove stale entries.
	for p := range checksums {
		if _, ok := disk[p]; !ok {
			if err := db.DeleteLeaf(p); err != nil {
				logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("path", p))
			}
		}
	}

	return nil
}

// Rebuild reconstructs the entire index from canonical files into a fresh
// database, then swaps it over the old one with a rename so a concurrent
// reader sees either the old or the new index, never a mix. Links are
// index-only data and are carried over for endpoints that still exist.
// Returns the reopened database and the number of leaves indexed. The old
// index stays usable until the swap; interruption leaves it untouched.
func Rebuild(ctx context.Context, db *DB, store storage.Provider, embedder embedding.Embedder, provider string, logger *slog.Logger) (*DB, int, error) {
	tmpPath := db.path + ".rebuild"
	removeDBFiles(tmpPath)

	fresh, err := Open(tmpPath)
	if err != nil {
		return db, 0, fmt.Errorf("index: open rebuild db: %w", err)
	}
	abort := func() {
		fresh.Close()
		removeDBFiles(tmpPath)
	}

	if err := fresh.EnsureDimensions(provider, embedder.Model(), embedder.Dimensions()); err != nil {
		abort()
		return db, 0, err
	}

	// Trees and branches from the directory layout; creation times are
	// carried over from the old index where known.
	treeTimes, branchTimes, err := db.structureTimes()
	if err != nil {
		abort()
		return db, 0, err
	}
	now := time.Now().UTC()
	trees, err := store.Dirs("")
	if err != nil {
		abort()
		return db, 0, err
	}
	for _, tree := range trees {
		created, ok := treeTimes[tree]
		if !ok {
			created = now
		}
		if err := fresh.UpsertTree(tree, created); err != nil {
			abort()
			return db, 0, err
		}
		branches, err := store.Dirs(tree)
		if err != nil {
			abort()
			return db, 0, err
		}
		for _, branch := range branches {
			created, ok := branchTimes[tree+"/"+branch]
			if !ok {
				created = now
			}
			if err := fresh.UpsertBranch(tree, branch, created); err != nil {
				abort()
				return db, 0, err
			}
		}
	}

	// Leaves, re-embedded with the active provider.
	metas, err := store.List("")
	if err != nil {
		abort()
		return db, 0, err
	}
	count := 0
	kept := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		if ctx.Err() != nil {
			abort()
			return db, 0, ctx.Err()
		}
		data, err := store.Read(m.Path)
		if err != nil {
			logger.Warn("rebuild: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		if err := IndexFile(ctx, fresh, embedder, m.Path, data); err != nil {
			abort()
			return db, 0, fmt.Errorf("index: rebuild %s: %w", m.Path, err)
		}
		kept[m.Path] = struct{}{}
		count++
	}

	// Carry the link graph across; drop edges to vanished leaves.
	links, err := db.AllLinks()
	if err != nil {
		abort()
		return db, 0, err
	}
	for _, l := range links {
		if _, ok := kept[l.From]; !ok {
			continue
		}
		if _, ok := kept[l.To]; !ok {
			continue
		}
		if err := fresh.AddLink(l.From, l.To, l.Relation, l.CreatedAt); err != nil {
			abort()
			return db, 0, err
		}
	}

	if err := fresh.Check(); err != nil {
		abort()
		return db, 0, err
	}

	// Swap: close both, rename, reopen.
	livePath := db.path
	if err := fresh.Close(); err != nil {
		removeDBFiles(tmpPath)
		return db, 0, fmt.Errorf("index: close rebuild db: %w", err)
	}
	if err := db.Close(); err != nil {
		removeDBFiles(tmpPath)
		return db, 0, fmt.Errorf("index: close live db: %w", err)
	}
	if err := os.Rename(tmpPath, livePath); err != nil {
		removeDBFiles(tmpPath)
		reopened, reopenErr := Open(livePath)
		if reopenErr != nil {
			return nil, 0, fmt.Errorf("index: swap failed and reopen failed: %v: %w", reopenErr, err)
		}
		return reopened, 0, fmt.Errorf("index: swap rebuild db: %w", err)
	}
	removeDBFiles(livePath + "-wal")

	reopened, err := Open(livePath)
	if err != nil {
		return nil, count, fmt.Errorf("index: reopen after swap: %w", err)
	}
	return reopened, count, nil
}

func removeDBFiles(path string) {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		_ = os.Remove(p)
	}
}

// splitLeafPath decomposes tree/branch/name.md. Shallower paths leave the
// missing parts empty.
func splitLeafPath(path string) (tree, branch, name string) {
	parts := strings.Split(path, "/")
	name = strings.TrimSuffix(parts[len(parts)-1], ".md")
	if len(parts) > 1 {
		tree = parts[0]
	}
	if len(parts) > 2 {
		branch = parts[1]
	}
	return tree, branch, name
}
