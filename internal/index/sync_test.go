package index

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/grovekb/grove/internal/embedding"
	"github.com/grovekb/grove/internal/models"
	"github.com/grovekb/grove/internal/parser"
	"github.com/grovekb/grove/internal/storage"
)

func testStore(t *testing.T) (*storage.FS, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return store, dir
}

func writeLeaf(t *testing.T, store *storage.FS, path, content string, tier models.Tier) {
	t.Helper()
	now := time.Now().UTC()
	data, err := parser.Compose(&models.Leaf{
		Path:       path,
		Content:    content,
		Tier:       tier,
		Confidence: 0.5,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Write(path, data); err != nil {
		t.Fatal(err)
	}
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestIndexFileAndSync(t *testing.T) {
	db := testDB(t)
	store, _ := testStore(t)
	embedder := embedding.NewLite(4)
	ctx := context.Background()

	writeLeaf(t, store, "trading/patterns/macd.md", "MACD crossovers", models.TierTrunk)
	writeLeaf(t, store, "trading/patterns/volume.md", "Volume spikes", models.TierLeaves)

	if err := Sync(ctx, db, store, embedder, quiet()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	rows, err := db.ListLeaves(Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}

	// Unchanged files are not re-indexed: checksums stay identical.
	before, _ := db.AllChecksums()
	if err := Sync(ctx, db, store, embedder, quiet()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	after, _ := db.AllChecksums()
	if !reflect.DeepEqual(before, after) {
		t.Error("idle sync changed checksums")
	}

	// External edit is repaired.
	writeLeaf(t, store, "trading/patterns/macd.md", "MACD crossovers, updated", models.TierTrunk)
	if err := Sync(ctx, db, store, embedder, quiet()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	cs, _ := db.GetChecksum("trading/patterns/macd.md")
	if cs == before["trading/patterns/macd.md"] {
		t.Error("changed file was not re-indexed")
	}

	// Deleted file's row is removed.
	if err := store.Delete("trading/patterns/volume.md"); err != nil {
		t.Fatal(err)
	}
	if err := Sync(ctx, db, store, embedder, quiet()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	rows, _ = db.ListLeaves(Filter{})
	if len(rows) != 1 {
		t.Errorf("rows = %d, want 1 after delete", len(rows))
	}
}

func TestRebuildSwapsAtomically(t *testing.T) {
	store, dir := testStore(t)
	dbPath := filepath.Join(dir, "_index.db")
	db, err := Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	embedder := embedding.NewLite(4)
	if err := db.EnsureDimensions("lite", "lite", 4); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	writeLeaf(t, store, "trading/patterns/a.md", "alpha content", models.TierTrunk)
	writeLeaf(t, store, "trading/gotchas/b.md", "beta content", models.TierLeaves)
	if err := Sync(ctx, db, store, embedder, quiet()); err != nil {
		t.Fatal(err)
	}
	if err := db.AddLink("trading/patterns/a.md", "trading/gotchas/b.md", "contradicts", time.Now().UTC()); err != nil {
		t.Fatal(err)
	}

	db, n, err := Rebuild(ctx, db, store, embedder, "lite", quiet())
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if n != 2 {
		t.Errorf("indexed = %d, want 2", n)
	}

	// Links survive the swap when both endpoints still exist.
	links, err := db.AllLinks()
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 1 || links[0].Relation != "contradicts" {
		t.Errorf("links = %+v", links)
	}

	// No rebuild temp files are left behind.
	if _, err := os.Stat(dbPath + ".rebuild"); !os.IsNotExist(err) {
		t.Error("rebuild temp database left behind")
	}

	// Idempotent: rebuilding again yields the same rows and checksums.
	before, _ := db.AllChecksums()
	db2, n2, err := Rebuild(ctx, db, store, embedder, "lite", quiet())
	if err != nil {
		t.Fatalf("second Rebuild: %v", err)
	}
	t.Cleanup(func() { db2.Close() })
	if n2 != n {
		t.Errorf("second rebuild indexed %d, want %d", n2, n)
	}
	after, _ := db2.AllChecksums()
	if !reflect.DeepEqual(before, after) {
		t.Error("rebuild is not idempotent")
	}
}

func TestRebuildDropsLinksWithMissingEndpoints(t *testing.T) {
	store, dir := testStore(t)
	db, err := Open(filepath.Join(dir, "_index.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	embedder := embedding.NewLite(4)
	if err := db.EnsureDimensions("lite", "lite", 4); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	writeLeaf(t, store, "t/b/keep.md", "kept", models.TierLeaves)
	writeLeaf(t, store, "t/b/gone.md", "going away", models.TierLeaves)
	if err := Sync(ctx, db, store, embedder, quiet()); err != nil {
		t.Fatal(err)
	}
	_ = db.AddLink("t/b/keep.md", "t/b/gone.md", "supports", time.Now().UTC())

	if err := store.Delete("t/b/gone.md"); err != nil {
		t.Fatal(err)
	}
	db, _, err = Rebuild(ctx, db, store, embedder, "lite", quiet())
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	links, _ := db.AllLinks()
	if len(links) != 0 {
		t.Errorf("dangling link survived rebuild: %+v", links)
	}
}

func TestSplitLeafPath(t *testing.T) {
	tree, branch, name := splitLeafPath("trading/patterns/macd.md")
	if tree != "trading" || branch != "patterns" || name != "macd" {
		t.Errorf("got %s/%s/%s", tree, branch, name)
	}
	tree, branch, name = splitLeafPath("odd.md")
	if tree != "" || branch != "" || name != "odd" {
		t.Errorf("flat path: %s/%s/%s", tree, branch, name)
	}
}
