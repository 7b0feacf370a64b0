package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, resolved, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if resolved != path {
		t.Fatalf("expected path %s, got %s", path, resolved)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if cfg.PersistDebounce != 500*time.Millisecond {
		t.Fatalf("unexpected persist debounce: %v", cfg.PersistDebounce)
	}
	if cfg.ActivityDebounce != 2*time.Second {
		t.Fatalf("unexpected activity debounce: %v", cfg.ActivityDebounce)
	}
}

func TestLoadReadsFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "addr: \":9999\"\ncursor_rate: 30\ndatabase_driver: sqlite\ndatabase_path: /tmp/x.db\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("COLLABBOARD_JWT_SECRET", "from-env")

	cfg, _, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9999" {
		t.Fatalf("expected addr from file, got %s", cfg.Addr)
	}
	if cfg.CursorRate != 30 {
		t.Fatalf("expected cursor rate 30, got %v", cfg.CursorRate)
	}
	if cfg.JWTSecret != "from-env" {
		t.Fatalf("expected jwt secret from env, got %s", cfg.JWTSecret)
	}
}

func TestValidateRejectsPostgresWithoutURL(t *testing.T) {
	cfg := Default()
	cfg.DatabaseDriver = DriverPostgres
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestUpdateFromKeepsUnsetFields(t *testing.T) {
	cfg := Default()
	cfg.UpdateFrom(Config{Addr: ":7000"})
	if cfg.Addr != ":7000" {
		t.Fatalf("addr not overridden")
	}
	if cfg.DatabasePath != Default().DatabasePath {
		t.Fatalf("database path should stay default")
	}
}
