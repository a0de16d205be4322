package warden

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if p.Cooldown != 60*time.Second || p.MaxRestarts != 5 || p.Window != time.Hour || p.ResetAfter != time.Hour {
		t.Fatalf("unexpected defaults: %+v", p)
	}
}

func TestNewRejectsEmptySpecs(t *testing.T) {
	_, err := New(Options{StatePath: filepath.Join(t.TempDir(), "state.json")})
	if err == nil {
		t.Fatal("expected error for empty specs")
	}
}

func TestLoadConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "warden.toml")
	body := `
state_file = "state.json"

[[services]]
name = "web"
health_url = "http://127.0.0.1:8080/healthz"
command = "/usr/bin/web"
[services.match]
exe = "web"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(cfg.Specs) != 1 || cfg.Specs[0].Name != "web" {
		t.Fatalf("specs = %+v", cfg.Specs)
	}

	sup, err := New(Options{
		Specs:     cfg.Specs,
		Policy:    cfg.Policy,
		StatePath: filepath.Join(dir, "state.json"),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	snap := sup.Snapshot()
	if len(snap.Services) != 1 || snap.Services[0].Name != "web" {
		t.Fatalf("snapshot = %+v", snap)
	}
}
