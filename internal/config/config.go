// Package config loads relay configuration from an optional YAML file with
// environment variable overrides. A .env file, when present, is loaded by
// the caller (godotenv) before Load runs, so both sources end up here.
package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LogConfig controls rotating file logging (lumberjack).
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"` // megabytes
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` // days
	Compress   bool   `yaml:"compress"`
}

// Config holds the full relay configuration.
type Config struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`

	// Password gates every API endpoint except /, /health and preflight.
	Password string `yaml:"password"`

	// CredentialFile is the on-disk OAuth credential location. The
	// GEMINI_CREDENTIALS environment blob takes precedence over it.
	CredentialFile string `yaml:"credential_file"`

	// ProjectID optionally pins the Cloud project, skipping discovery.
	ProjectID string `yaml:"project_id"`

	// Interactive permits the interactive OAuth flow at startup when no
	// credential exists. Off by default for server deployments.
	Interactive bool `yaml:"interactive"`

	// DBPath is the SQLite file backing the request monitor.
	DBPath string `yaml:"db_path"`

	// MonitorEnabled turns request/response audit logging on at startup.
	MonitorEnabled bool `yaml:"monitor_enabled"`

	Log LogConfig `yaml:"log"`
}

// Load reads the YAML file at path (missing file is not an error) and then
// applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Host:           "127.0.0.1",
		Port:           "8888",
		CredentialFile: "oauth_creds.json",
		DBPath:         "relay.db",
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("GEMINI_AUTH_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv("CREDENTIAL_FILE"); v != "" {
		cfg.CredentialFile = v
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		cfg.ProjectID = v
	}
	if v := os.Getenv("RELAY_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("OAUTH_INTERACTIVE"); v != "" {
		cfg.Interactive = isTruthy(v)
	}
	if v := os.Getenv("RELAY_MONITOR"); v != "" {
		cfg.MonitorEnabled = isTruthy(v)
	}
	if v := os.Getenv("RELAY_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}
