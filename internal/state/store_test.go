package state

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "warden.json")
	store := NewFileStore(path, nil)

	doc := NewDocument(t0)
	doc.LastCheckAt = t0.Add(time.Minute)
	st := doc.Service("grafana")
	st.LastStatus = StatusOffline
	st.RecordRestart(t0.Add(30 * time.Second))
	until := t0.Add(time.Hour)
	st.RateLimitedUntil = &until

	if err := store.Save(doc); err != nil {
		t.Fatalf("Save: %v", err)
	}

	later := t0.Add(2 * time.Minute)
	got := store.Load(later)
	if !got.StartedAt.Equal(later) {
		t.Fatalf("StartedAt should be reset to the new run's start, got %v", got.StartedAt)
	}
	gst := got.Services["grafana"]
	if gst == nil {
		t.Fatalf("service entry lost on reload")
	}
	if gst.LastStatus != StatusOffline || len(gst.RestartHistory) != 1 {
		t.Fatalf("reloaded entry wrong: %+v", gst)
	}
	if gst.RateLimitedUntil == nil || !gst.RateLimitedUntil.Equal(until) {
		t.Fatalf("RateLimitedUntil lost: %v", gst.RateLimitedUntil)
	}
}

func TestStoreLoadMissingFileReturnsFresh(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "absent.json"), nil)
	doc := store.Load(t0)
	if doc == nil || len(doc.Services) != 0 {
		t.Fatalf("expected fresh empty document, got %+v", doc)
	}
	if !doc.StartedAt.Equal(t0) {
		t.Fatalf("StartedAt = %v", doc.StartedAt)
	}
}

func TestStoreLoadCorruptFileReturnsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	doc := NewFileStore(path, nil).Load(t0)
	if len(doc.Services) != 0 {
		t.Fatalf("corrupt file should yield empty state")
	}
}

func TestStoreSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	store := NewFileStore(path, nil)
	if err := store.Save(NewDocument(t0)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("state file mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestStoreSaveOverwritesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewFileStore(path, nil)

	doc := NewDocument(t0)
	doc.Service("a")
	if err := store.Save(doc); err != nil {
		t.Fatal(err)
	}
	doc.Service("b").RecordRestart(t0)
	if err := store.Save(doc); err != nil {
		t.Fatal(err)
	}

	got := store.Load(t0)
	if len(got.Services) != 2 {
		t.Fatalf("expected 2 services after overwrite, got %d", len(got.Services))
	}
}

func TestStoreLoadNormalizesNilEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	raw := `{"started_at":"2025-06-01T12:00:00Z","services":{"a":null,"b":{}}}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}
	doc := NewFileStore(path, nil).Load(t0)
	if doc.Services["a"] == nil || doc.Services["a"].LastStatus != StatusUnknown {
		t.Fatalf("nil entry not normalized: %+v", doc.Services["a"])
	}
	if doc.Services["b"].LastStatus != StatusUnknown {
		t.Fatalf("empty status not normalized: %+v", doc.Services["b"])
	}
}
