package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalogctl.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("", envMap(nil))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.LoginURL != defaultLoginURL || cfg.History != defaultHistory {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Jobs.PollInterval != 45*time.Second {
		t.Errorf("expected 45s poll interval, got %s", cfg.Jobs.PollInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoadConfig_Layering(t *testing.T) {
	path := writeConfig(t, `
api_url: https://file.example.com
username: file-user
rate_limit: 4
jobs:
  poll_interval: 30s
  max_wait: 2h
purge:
  concurrency: 5
lineage:
  asset_url_prefix: https://catalog.example.com/asset/
`)

	cfg, err := LoadConfig(path, envMap(map[string]string{
		"CATALOGCTL_USERNAME": "env-user",
		"CATALOGCTL_PASSWORD": " secret ",
	}))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.APIURL != "https://file.example.com" {
		t.Errorf("expected api_url from file, got %s", cfg.APIURL)
	}
	if cfg.Username != "env-user" {
		t.Errorf("expected env to override file, got %s", cfg.Username)
	}
	if cfg.Password != " secret " {
		t.Errorf("password must not be trimmed, got %q", cfg.Password)
	}
	if cfg.RateLimit != 4 || cfg.Purge.Concurrency != 5 {
		t.Errorf("unexpected file values: rate %v concurrency %d", cfg.RateLimit, cfg.Purge.Concurrency)
	}
	if cfg.Jobs.PollInterval != 30*time.Second || cfg.Jobs.MaxWait != 2*time.Hour {
		t.Errorf("unexpected durations: %s %s", cfg.Jobs.PollInterval, cfg.Jobs.MaxWait)
	}
	// untouched nested defaults survive a partial file
	if cfg.Purge.MaxPasses != 100 {
		t.Errorf("expected default max passes, got %d", cfg.Purge.MaxPasses)
	}
	if cfg.Lineage.OutputDir != "." {
		t.Errorf("expected default output dir, got %q", cfg.Lineage.OutputDir)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name        string
		path        string
		env         map[string]string
		errorSubstr string
	}{
		{"missing file", "/nonexistent/catalogctl.yaml", nil, "read config"},
		{"bad rate", "", map[string]string{"CATALOGCTL_RATE": "fast"}, "invalid CATALOGCTL_RATE"},
		{"bad poll interval", "", map[string]string{"CATALOGCTL_POLL_INTERVAL": "soon"}, "invalid CATALOGCTL_POLL_INTERVAL"},
		{"bad debug", "", map[string]string{"CATALOGCTL_DEBUG": "maybe"}, "invalid CATALOGCTL_DEBUG"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(tt.path, envMap(tt.env))
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.errorSubstr)
			}
			if !strings.Contains(err.Error(), tt.errorSubstr) {
				t.Errorf("expected error containing %q, got %q", tt.errorSubstr, err.Error())
			}
		})
	}

	if _, err := LoadConfig(writeConfig(t, "jobs: [not, a, map]"), envMap(nil)); err == nil {
		t.Error("expected parse error for malformed yaml")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		errorSubstr string
	}{
		{"empty api url", func(c *Config) { c.APIURL = " " }, "api_url cannot be empty"},
		{"zero poll interval", func(c *Config) { c.Jobs.PollInterval = 0 }, "jobs.poll_interval must be positive"},
		{"page size above cap", func(c *Config) { c.Purge.PageSize = 500 }, "purge.page_size cannot exceed 100"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "unsupported log_format"},
		{"history spec", func(c *Config) { c.History = "postgres://x" }, "unsupported spec"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.errorSubstr) {
				t.Errorf("expected error containing %q, got %v", tt.errorSubstr, err)
			}
		})
	}
}

func TestParseHistory(t *testing.T) {
	tests := []struct {
		spec    string
		backend historyBackend
		target  string
		wantErr bool
	}{
		{"", historyNone, "", false},
		{"none", historyNone, "", false},
		{"sqlite:/var/lib/catalogctl.db", historySQLite, "/var/lib/catalogctl.db", false},
		{"redis://localhost:6379/2", historyRedis, "redis://localhost:6379/2", false},
		{"sqlite:", "", "", true},
		{"mysql://db", "", "", true},
	}
	for _, tt := range tests {
		backend, target, err := parseHistory(tt.spec)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseHistory(%q) error = %v, wantErr %v", tt.spec, err, tt.wantErr)
			continue
		}
		if backend != tt.backend || target != tt.target {
			t.Errorf("parseHistory(%q) = %s %q, want %s %q", tt.spec, backend, target, tt.backend, tt.target)
		}
	}
}
