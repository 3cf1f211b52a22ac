package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
port: "8080"
databaseURL: "postgres://localhost/library"
tokenSecret: "s3cret"
loanPeriodDays: 7
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Port != "8080" || cfg.LoanPeriodDays != 7 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
port: "8080"
databaseURL: "postgres://localhost/library"
tokenSecret: "s3cret"
`)
	t.Setenv("DATABASE_URL", "postgres://db.internal/library")
	t.Setenv("LIBRARY_LOAN_PERIOD_DAYS", "21")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.DatabaseURL != "postgres://db.internal/library" {
		t.Fatalf("expected env override, got %s", cfg.DatabaseURL)
	}
	if cfg.LoanPeriodDays != 21 {
		t.Fatalf("expected loan period override, got %d", cfg.LoanPeriodDays)
	}
}

func TestLoadRejectsMissingRequiredFields(t *testing.T) {
	path := writeConfig(t, `
port: "8080"
databaseURL: "postgres://localhost/library"
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error without token secret")
	}
}
