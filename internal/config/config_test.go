package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsFromEnvironmentOnly(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !cfg.Run.DryRun {
		t.Error("dry_run default = false, want true (live runs need an explicit override)")
	}
	if !cfg.Policy.NoGroup {
		t.Error("no_group default = false, want true")
	}
	if cfg.Policy.OfflineDays != 0 {
		t.Errorf("offline_days default = %d, want 0 (rule disabled)", cfg.Policy.OfflineDays)
	}
	if cfg.API.PageSize != 100 || cfg.API.MaxRetries != 3 || cfg.API.TimeoutSeconds != 30 {
		t.Errorf("API defaults = %+v", cfg.API)
	}
	if cfg.Run.LogFile != "rustdesk_cleanup.log" {
		t.Errorf("log_file default = %q", cfg.Run.LogFile)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cleaner.yaml")
	content := `
api:
  url: https://rustdesk.example.com
  token: tok-123
  timeout_seconds: 10
policy:
  offline_days: 45
  no_group: false
run:
  dry_run: false
  workers: 4
audit:
  enabled: false
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.URL != "https://rustdesk.example.com" || cfg.API.Token != "tok-123" {
		t.Errorf("API = %+v", cfg.API)
	}
	if cfg.API.TimeoutSeconds != 10 {
		t.Errorf("timeout_seconds = %d, want 10", cfg.API.TimeoutSeconds)
	}
	if cfg.Policy.OfflineDays != 45 || cfg.Policy.NoGroup {
		t.Errorf("policy = %+v", cfg.Policy)
	}
	if cfg.Run.DryRun || cfg.Run.Workers != 4 {
		t.Errorf("run = %+v", cfg.Run)
	}
	if cfg.Audit.Enabled {
		t.Error("audit.enabled = true, want false")
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cleaner.yaml")
	if err := os.WriteFile(path, []byte("api:\n  url: https://file.example.com\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("RUSTDESK_API_URL", "https://env.example.com")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.URL != "https://env.example.com" {
		t.Errorf("url = %q, want env override", cfg.API.URL)
	}
}

func TestMissingExplicitFileIsError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load succeeded with a missing config file")
	}
}
