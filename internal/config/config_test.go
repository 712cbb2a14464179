package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "8000" {
		t.Errorf("expected default port 8000, got %q", cfg.Server.Port)
	}
	if cfg.Queue.Mode != "asynq" {
		t.Errorf("expected asynq queue mode, got %q", cfg.Queue.Mode)
	}
	if cfg.Database.MaxOpenConns != 10 {
		t.Errorf("expected 10 max open conns, got %d", cfg.Database.MaxOpenConns)
	}
	if cfg.Database.ConnMaxLifetime != 5*time.Minute {
		t.Errorf("unexpected conn lifetime %v", cfg.Database.ConnMaxLifetime)
	}
	if cfg.Generation.Timeout != 300 {
		t.Errorf("expected 300s generation timeout, got %d", cfg.Generation.Timeout)
	}
	if cfg.Server.IsProduction() {
		t.Error("default env must not be production")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SERVER_ENV", "Production")
	t.Setenv("QUEUE_MODE", "LOCAL")
	t.Setenv("GENERATION_TIMEOUT", "30")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %q", cfg.Server.Port)
	}
	if !cfg.Server.IsProduction() {
		t.Error("expected production env")
	}
	if cfg.Queue.Mode != "local" {
		t.Errorf("expected lowercased queue mode, got %q", cfg.Queue.Mode)
	}
	if cfg.Generation.Timeout != 30 {
		t.Errorf("expected timeout 30, got %d", cfg.Generation.Timeout)
	}
}

func TestReadSecret(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jwt")
	if err := os.WriteFile(path, []byte("s3cret\n"), 0o600); err != nil {
		t.Fatalf("write secret: %v", err)
	}

	t.Setenv("JWT_SECRET", "")
	t.Setenv("JWT_SECRET_FILE", path)
	readSecret("JWT_SECRET")

	if got := os.Getenv("JWT_SECRET"); got != "s3cret" {
		t.Fatalf("expected secret from file, got %q", got)
	}
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatalf("restore working directory: %v", err)
		}
	})
}
