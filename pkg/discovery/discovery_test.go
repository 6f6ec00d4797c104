package discovery

import (
	"path/filepath"
	"testing"

	"github.com/nesdb/nesdb/pkg/matcher"
	"github.com/nesdb/nesdb/storage"
)

func TestScanFindsEnsuredIndexes(t *testing.T) {
	dir := t.TempDir()
	s, err := storage.Open(dir, storage.DefaultOptions())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.EnsureIndex("all", matcher.All, []byte(`{"v":1}`+"\n")); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := s.EnsureIndex("long", matcher.All, nil); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	found, err := Scan(dir)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("found %d indexes, want 2: %+v", len(found), found)
	}

	byName := map[string]Found{}
	for _, f := range found {
		byName[f.Name] = f
	}
	all, ok := byName["all"]
	if !ok {
		t.Fatalf("expected to find index %q", "all")
	}
	if string(all.Metadata) != `{"v":1}`+"\n" {
		t.Fatalf("metadata = %q, want round-tripped blob", all.Metadata)
	}
	if all.Path != filepath.Join(dir, "all.index") {
		t.Fatalf("path = %q, want %q", all.Path, filepath.Join(dir, "all.index"))
	}
}

func TestReopenRestoresIndexesWithoutDeclaringThemUpfront(t *testing.T) {
	dir := t.TempDir()
	s, err := storage.Open(dir, storage.DefaultOptions())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.EnsureIndex("all", matcher.All, nil); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := s.Write([]byte("hello"), nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Reopen(dir, storage.DefaultOptions(), nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	idx, ok := reopened.Index("all")
	if !ok {
		t.Fatalf("expected discovered index %q to be ensured on reopen", "all")
	}
	if got := idx.Length(); got != 1 {
		t.Fatalf("length = %d, want 1", got)
	}
}

func TestScanNonExistentDirFails(t *testing.T) {
	if _, err := Scan(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("expected error scanning a missing directory")
	}
}
