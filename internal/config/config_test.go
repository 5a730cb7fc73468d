package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFrom_MissingFile(t *testing.T) {
	cfg, err := LoadFrom("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("expected no error for missing file, got: %v", err)
	}
	if cfg.DefaultCols != 80 || cfg.DefaultRows != 24 {
		t.Errorf("expected defaults, got cols=%d rows=%d", cfg.DefaultCols, cfg.DefaultRows)
	}
	if cfg.NotificationDebounceMs != 50 {
		t.Errorf("NotificationDebounceMs = %d, want 50", cfg.NotificationDebounceMs)
	}
}

func TestLoadFrom_OverridesMergeOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `default_cols: 132
scrollback_rows: 500
no_spawn: true
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.DefaultCols != 132 {
		t.Errorf("DefaultCols = %d, want 132", cfg.DefaultCols)
	}
	// Unset field keeps the default.
	if cfg.DefaultRows != 24 {
		t.Errorf("DefaultRows = %d, want default 24", cfg.DefaultRows)
	}
	if cfg.ScrollbackRows != 500 {
		t.Errorf("ScrollbackRows = %d, want 500", cfg.ScrollbackRows)
	}
	if !cfg.NoSpawn {
		t.Error("expected NoSpawn = true")
	}
}

func TestLoadFrom_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(path, []byte("{{invalid yaml"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFrom(path); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestDebounceInterval(t *testing.T) {
	cfg := Config{NotificationDebounceMs: 50}
	if cfg.DebounceInterval() != 50*time.Millisecond {
		t.Errorf("DebounceInterval = %v, want 50ms", cfg.DebounceInterval())
	}
}

func TestDefaultControlDirHonorsEnv(t *testing.T) {
	t.Setenv("VIBETUNNEL_CONTROL_DIR", "/tmp/custom-control")
	if got := DefaultControlDir(); got != "/tmp/custom-control" {
		t.Errorf("DefaultControlDir = %q, want /tmp/custom-control", got)
	}
}
