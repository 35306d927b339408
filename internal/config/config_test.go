package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "8888" {
		t.Errorf("Expected default port 8888, got %s", cfg.Port)
	}
	if cfg.CredentialFile != "oauth_creds.json" {
		t.Errorf("Expected default credential file, got %s", cfg.CredentialFile)
	}
	if cfg.Interactive {
		t.Errorf("Interactive flow should default to off")
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
host: 0.0.0.0
port: "9000"
password: secret
credential_file: /tmp/creds.json
interactive: true
log:
  file: relay.log
  max_size: 10
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Addr() != "0.0.0.0:9000" {
		t.Errorf("Addr mismatch: %s", cfg.Addr())
	}
	if cfg.Password != "secret" {
		t.Errorf("Password not loaded from YAML")
	}
	if !cfg.Interactive {
		t.Errorf("Interactive not loaded from YAML")
	}
	if cfg.Log.File != "relay.log" || cfg.Log.MaxSize != 10 {
		t.Errorf("Log config not loaded: %+v", cfg.Log)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("port: \"9000\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PORT", "7777")
	t.Setenv("GEMINI_AUTH_PASSWORD", "env-pass")
	t.Setenv("OAUTH_INTERACTIVE", "yes")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "7777" {
		t.Errorf("Env should override YAML port, got %s", cfg.Port)
	}
	if cfg.Password != "env-pass" {
		t.Errorf("Env password not applied")
	}
	if !cfg.Interactive {
		t.Errorf("OAUTH_INTERACTIVE=yes should enable interactive flow")
	}
}

func TestLoad_MissingFileIsNotError(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err != nil {
		t.Errorf("Missing config file should fall back to defaults, got %v", err)
	}
}
