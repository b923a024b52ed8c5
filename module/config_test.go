package module

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.toml")
	body := "SubnetID = 7\nMockChain = true\nUpdatePeriodSeconds = 30\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.SubnetID != 7 {
		t.Fatalf("expected SubnetID=7, got %d", cfg.SubnetID)
	}
	if cfg.UpdatePeriodSeconds != 30 {
		t.Fatalf("expected UpdatePeriodSeconds=30, got %d", cfg.UpdatePeriodSeconds)
	}
	// Fields untouched by the file keep DefaultConfig's values.
	if cfg.MaxPinged != DefaultConfig().MaxPinged {
		t.Fatalf("expected untouched MaxPinged to keep its default, got %d", cfg.MaxPinged)
	}
}

func TestLoadConfigRejectsUnknownField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.toml")
	if err := os.WriteFile(path, []byte("NotAField = true\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected an unknown TOML field to be rejected")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected an error for a missing config file")
	}
}
