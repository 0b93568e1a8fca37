package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func tempStore(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestWriteAndRead(t *testing.T) {
	s := tempStore(t)
	content := []byte("---\ntier: leaves\n---\nBody\n")
	if err := s.Write("trading/patterns/macd.md", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("trading/patterns/macd.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	s := tempStore(t)
	if err := s.Write("t/b/leaf.md", []byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(s.Root(), "t", "b"))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != "leaf.md" {
			t.Errorf("unexpected file left behind: %s", e.Name())
		}
	}
}

func TestDelete(t *testing.T) {
	s := tempStore(t)
	_ = s.Write("t/b/gone.md", []byte("bye"))
	if err := s.Delete("t/b/gone.md"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if s.Exists("t/b/gone.md") {
		t.Error("file still exists after delete")
	}
	if err := s.Delete("t/b/gone.md"); err == nil {
		t.Error("deleting a missing file should fail")
	}
}

func TestListSkipsHiddenEntries(t *testing.T) {
	s := tempStore(t)
	_ = s.Write("t/b/one.md", []byte("1"))
	_ = s.Write("t/b/two.md", []byte("2"))
	_ = s.Write("t/b/_meta.yaml", []byte("name: b"))
	_ = s.Write("t/_meta.yaml", []byte("name: t"))
	_ = s.Write("t/b/notes.txt", []byte("not a leaf"))

	metas, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(metas) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(metas), metas)
	}
	for _, m := range metas {
		if m.Checksum == "" {
			t.Errorf("missing checksum for %s", m.Path)
		}
	}
}

func TestListSkipsHiddenDirs(t *testing.T) {
	s := tempStore(t)
	_ = s.Write("t/b/one.md", []byte("1"))
	if err := os.MkdirAll(filepath.Join(s.Root(), ".internal"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(s.Root(), ".internal", "x.md"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	metas, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(metas) != 1 || metas[0].Path != "t/b/one.md" {
		t.Errorf("metas = %+v", metas)
	}
}

func TestDirs(t *testing.T) {
	s := tempStore(t)
	_ = s.Write("trading/patterns/a.md", []byte("a"))
	_ = s.Write("trading/gotchas/b.md", []byte("b"))
	_ = s.Write("infra/deploys/c.md", []byte("c"))

	trees, err := s.Dirs("")
	if err != nil {
		t.Fatalf("Dirs: %v", err)
	}
	if len(trees) != 2 || trees[0] != "infra" || trees[1] != "trading" {
		t.Errorf("trees = %v", trees)
	}
	branches, err := s.Dirs("trading")
	if err != nil {
		t.Fatalf("Dirs: %v", err)
	}
	if len(branches) != 2 || branches[0] != "gotchas" || branches[1] != "patterns" {
		t.Errorf("branches = %v", branches)
	}
}

func TestPathTraversalRejected(t *testing.T) {
	s := tempStore(t)
	if err := s.Write("../escape.md", []byte("nope")); err == nil {
		t.Error("expected traversal write to fail")
	}
	if _, err := s.Read("../../etc/passwd"); err == nil {
		t.Error("expected traversal read to fail")
	}
}
