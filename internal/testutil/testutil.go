// Package testutil provides shared test helpers for setting up stores and
// index databases.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/grovekb/grove/internal/embedding"
	"github.com/grovekb/grove/internal/index"
	"github.com/grovekb/grove/internal/kb"
	"github.com/grovekb/grove/internal/storage"
)

// TestDB creates a temporary SQLite index that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "grove-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestStore creates a temporary store directory with a storage provider.
func TestStore(t *testing.T) (string, storage.Provider) {
	t.Helper()
	root := t.TempDir()
	store, err := storage.NewFS(root)
	if err != nil {
		t.Fatal(err)
	}
	return root, store
}

// TestEmbedder returns a small deterministic lite embedder.
func TestEmbedder(t *testing.T) embedding.Embedder {
	t.Helper()
	return embedding.NewLite(64)
}

// TestKB initializes a complete knowledge base in a temp directory using the
// default lite provider.
func TestKB(t *testing.T) *kb.KnowledgeBase {
	t.Helper()
	root := filepath.Join(t.TempDir(), ".grove")
	k, err := kb.Init(root, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { k.Close() })
	return k
}
