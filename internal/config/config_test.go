package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadReadsCriticalEnvKeys(t *testing.T) {
	t.Setenv("VAKT_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("VAKT_ENV", "development")
	t.Setenv("VAKT_DB_BACKEND", "sqlite")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBDSN == "" {
		t.Fatal("expected DB DSN default to be set")
	}
	if cfg.JWTSigningKey != "supersecret" {
		t.Fatalf("unexpected jwt signing key: %q", cfg.JWTSigningKey)
	}
	if cfg.WorkerPollInterval <= 0 {
		t.Fatal("expected a positive worker poll interval default")
	}
}

func TestLoadRequiresDSNForServerBackends(t *testing.T) {
	t.Setenv("VAKT_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("VAKT_DB_BACKEND", "postgres")

	if _, err := Load(); err == nil {
		t.Fatal("expected load to fail when postgres has no DSN")
	}

	t.Setenv("VAKT_DB_DSN", "host=localhost user=test dbname=test sslmode=disable")
	if _, err := Load(); err != nil {
		t.Fatalf("expected load with explicit DSN to succeed: %v", err)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("VAKT_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("VAKT_DB_BACKEND", "oracle")

	if _, err := Load(); err == nil {
		t.Fatal("expected load to fail for an unsupported backend")
	}
}

func TestLoadWithFileEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vakt.yaml")
	body := []byte("http_port: 9999\njwt_signing_key: fromfile\nsolve_stop_early: true\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("VAKT_HTTP_PORT", "8081")

	cfg, err := LoadWithFile(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HTTPPort != 8081 {
		t.Fatalf("env should override file, got port %d", cfg.HTTPPort)
	}
	if cfg.JWTSigningKey != "fromfile" {
		t.Fatalf("expected file value for signing key, got %q", cfg.JWTSigningKey)
	}
	if !cfg.SolveStopEarly {
		t.Fatal("expected solve_stop_early from file")
	}
}

func TestLoadProductionRequiresStrongSigningKey(t *testing.T) {
	t.Setenv("VAKT_ENV", "production")
	t.Setenv("VAKT_JWT_SIGNING_KEY", "short")

	if _, err := Load(); err == nil {
		t.Fatal("expected production config load to fail with a short signing key")
	}

	t.Setenv("VAKT_JWT_SIGNING_KEY", "0123456789abcdef0123456789abcdef")
	if _, err := Load(); err != nil {
		t.Fatalf("expected production config load with a long key to succeed: %v", err)
	}
}
