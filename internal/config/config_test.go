package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", "test-secret")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q, want 8080", cfg.ServerPort)
	}
	if cfg.SessionTTLSeconds != 300 {
		t.Errorf("SessionTTLSeconds = %d, want 300", cfg.SessionTTLSeconds)
	}
	if cfg.DefaultCurrency != "USD" {
		t.Errorf("DefaultCurrency = %q, want USD", cfg.DefaultCurrency)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SESSION_SECRET", "test-secret")
	t.Setenv("SERVER_PORT", "9999")
	t.Setenv("DB_PATH", "/tmp/other.db")
	t.Setenv("DEFAULT_CURRENCY", "eur")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ServerPort != "9999" {
		t.Errorf("ServerPort = %q, want 9999", cfg.ServerPort)
	}
	if cfg.DBPath != "/tmp/other.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.DefaultCurrency != "EUR" {
		t.Errorf("DefaultCurrency = %q, want EUR (normalized)", cfg.DefaultCurrency)
	}
}

func TestLoadMissingSecret(t *testing.T) {
	t.Setenv("SESSION_SECRET", "")

	if _, err := Load(t.TempDir()); err == nil {
		t.Error("Load succeeded without SESSION_SECRET")
	}
}
