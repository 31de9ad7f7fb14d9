package diskstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), ".fdb")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)

	if err := s.Save("greeting", "hello"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	v, found, err := s.Load("greeting")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !found {
		t.Fatal("expected found=true")
	}
	if v != "hello" {
		t.Fatalf("got %v, want hello", v)
	}
}

func TestLoadMissingKey(t *testing.T) {
	s := newTestStore(t)

	_, found, err := s.Load("nope")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if found {
		t.Fatal("expected found=false")
	}
}

func TestSaveOverwritesExistingKey(t *testing.T) {
	s := newTestStore(t)

	if err := s.Save("k", "v1"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save("k", "v2"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	v, found, err := s.Load("k")
	if err != nil || !found {
		t.Fatalf("Load: v=%v found=%v err=%v", v, found, err)
	}
	if v != "v2" {
		t.Fatalf("got %v, want v2", v)
	}
}

func TestSaveIsAtomicNoTruncatedFileVisible(t *testing.T) {
	s := newTestStore(t)

	if err := s.Save("k", "original"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	path := s.shardPath("k")
	before, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if before.Size() == 0 {
		t.Fatal("expected non-empty record file after first Save")
	}

	if err := s.Save("k", "replacement-value-much-longer-than-original"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	v, found, err := s.Load("k")
	if err != nil || !found {
		t.Fatalf("Load: v=%v found=%v err=%v", v, found, err)
	}
	if v != "replacement-value-much-longer-than-original" {
		t.Fatalf("got %v, want replacement value", v)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".fdb" {
			t.Fatalf("leftover temp file not cleaned up: %s", e.Name())
		}
	}
}

func TestRemoveMissingKeyIsNotAnError(t *testing.T) {
	s := newTestStore(t)
	if err := s.Remove("nope"); err != nil {
		t.Fatalf("Remove on missing key should not error, got %v", err)
	}
}

func TestRemoveDeletesRecord(t *testing.T) {
	s := newTestStore(t)
	if err := s.Save("k", "v"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Remove("k"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if s.Exists("k") {
		t.Fatal("expected key to be gone after Remove")
	}
}

func TestExists(t *testing.T) {
	s := newTestStore(t)
	if s.Exists("k") {
		t.Fatal("expected Exists=false before Save")
	}
	if err := s.Save("k", "v"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !s.Exists("k") {
		t.Fatal("expected Exists=true after Save")
	}
}

func TestScanKeysFindsAllSavedKeys(t *testing.T) {
	s := newTestStore(t)
	want := map[string]bool{"a": true, "b": true, "c": true}
	for k := range want {
		if err := s.Save(k, k); err != nil {
			t.Fatalf("Save(%s): %v", k, err)
		}
	}

	keys, err := s.ScanKeys(context.Background())
	if err != nil {
		t.Fatalf("ScanKeys: %v", err)
	}
	if len(keys) != len(want) {
		t.Fatalf("got %d keys, want %d", len(keys), len(want))
	}
	for _, k := range keys {
		if !want[k] {
			t.Fatalf("unexpected key %s", k)
		}
	}
}

func TestScanKeysSkipsCorruptFiles(t *testing.T) {
	s := newTestStore(t)
	if err := s.Save("good", "v"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	corruptDir := filepath.Join(s.dir, "zz")
	if err := os.MkdirAll(corruptDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	corruptPath := filepath.Join(corruptDir, "garbage.fdb")
	if err := os.WriteFile(corruptPath, []byte("not a gob record"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	keys, err := s.ScanKeys(context.Background())
	if err != nil {
		t.Fatalf("ScanKeys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "good" {
		t.Fatalf("got %v, want [good]", keys)
	}
}

func TestScanKeysHonorsContextCancellation(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		if err := s.Save(string(rune('a'+i)), i); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.ScanKeys(ctx)
	if err == nil {
		t.Fatal("expected an error from a pre-cancelled context")
	}
}

func TestClearAllRemovesEverything(t *testing.T) {
	s := newTestStore(t)
	if err := s.Save("k", "v"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.ClearAll(); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	if s.Exists("k") {
		t.Fatal("expected no keys after ClearAll")
	}
	keys, err := s.ScanKeys(context.Background())
	if err != nil {
		t.Fatalf("ScanKeys: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("got %d keys after ClearAll, want 0", len(keys))
	}
}

func TestShardPathFansOutAcrossSubdirectories(t *testing.T) {
	s := newTestStore(t)
	p1 := s.shardPath("alpha")
	p2 := s.shardPath("beta")
	// sha256("alpha") starts with 8e, sha256("beta") with f4.
	if filepath.Dir(p1) == filepath.Dir(p2) {
		t.Fatal("expected alpha and beta to land in different shard subdirectories")
	}
	if filepath.Base(filepath.Dir(p1)) == "" {
		t.Fatal("expected a non-empty shard subdirectory name")
	}
}
