package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HostName != "laserfiche.com" {
		t.Errorf("expected default host, got %q", cfg.HostName)
	}
	if got := cfg.Scopes(); len(got) != 2 || got[0] != "repository.Read" || got[1] != "repository.Write" {
		t.Errorf("unexpected scopes %v", got)
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "placeholder") {
		t.Errorf("expected placeholder error, got %v", err)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlData := `
client_id: file-client
redirect_uri: http://localhost:3000
host_name: a.clouddev.laserfiche.com
api_timeout: 45s
rate_limit_burst: 7
view_documents: true
extra_scopes: [offline_access]
`
	if err := os.WriteFile(path, []byte(yamlData), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CLIENT_ID", "env-client")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("RATE_LIMIT_BURST", "not-a-number")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ClientID != "env-client" {
		t.Errorf("expected env to win, got %q", cfg.ClientID)
	}
	if cfg.HostName != "a.clouddev.laserfiche.com" {
		t.Errorf("expected host from file, got %q", cfg.HostName)
	}
	if cfg.APITimeout != 45*time.Second {
		t.Errorf("expected 45s timeout, got %v", cfg.APITimeout)
	}
	if cfg.RateLimitRPS != 2.5 {
		t.Errorf("expected rps 2.5, got %v", cfg.RateLimitRPS)
	}
	if cfg.RateLimitBurst != 7 {
		t.Errorf("expected invalid env to keep file value 7, got %d", cfg.RateLimitBurst)
	}
	if !cfg.ViewDocuments {
		t.Error("expected view_documents from file")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level, got %q", cfg.LogLevel)
	}
	if s := cfg.Scopes(); len(s) != 3 || s[2] != "offline_access" {
		t.Errorf("unexpected scopes %v", s)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:3000" {
		t.Errorf("unexpected listen addr %q", cfg.ListenAddr)
	}
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("client_id: [unclosed"), 0600)
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"ok", func(c *Config) {}, false},
		{"empty client id", func(c *Config) { c.ClientID = "" }, true},
		{"placeholder redirect", func(c *Config) { c.RedirectURI = "REPLACE_WITH_YOUR_REDIRECT_URI" }, true},
		{"no scope", func(c *Config) { c.Scope = " " }, true},
		{"negative burst", func(c *Config) { c.RateLimitBurst = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.ClientID = "abc"
			cfg.RedirectURI = "http://localhost:3000"
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}
