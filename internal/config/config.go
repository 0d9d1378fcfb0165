// Package config loads configuration from an optional YAML file and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Placeholder marks values that must be replaced before use.
const Placeholder = "REPLACE_WITH_YOUR_"

// Config holds all repodrop configuration.
type Config struct {
	// Sign-in
	RedirectURI    string   `yaml:"redirect_uri"`
	ClientID       string   `yaml:"client_id"`
	HostName       string   `yaml:"host_name"`
	Scope          string   `yaml:"scope"`
	OAuthIssuerURL string   `yaml:"oauth_issuer_url"`
	AuthURL        string   `yaml:"auth_url"`
	TokenURL       string   `yaml:"token_url"`
	TokenFile      string   `yaml:"token_file"`
	ExtraScopes    []string `yaml:"extra_scopes"`

	// Repository API
	APIBaseURL   string        `yaml:"api_base_url"`
	WebClientURL string        `yaml:"web_client_url"`
	APITimeout   time.Duration `yaml:"api_timeout"`

	// Server
	ListenAddr     string  `yaml:"listen_addr"`
	MetricsAddr    string  `yaml:"metrics_addr"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Import journal (optional)
	DatabaseURL string `yaml:"database_url"`

	// S3 file source (optional)
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3Region    string `yaml:"s3_region"`
	S3AccessKey string `yaml:"s3_access_key"`
	S3SecretKey string `yaml:"s3_secret_key"`

	// UI
	ViewDocuments bool   `yaml:"view_documents"`
	Locale        string `yaml:"locale"`
	MaxUploadSize int64  `yaml:"max_upload_size"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		RedirectURI:    "REPLACE_WITH_YOUR_REDIRECT_URI",
		ClientID:       "REPLACE_WITH_YOUR_CLIENT_ID",
		HostName:       "laserfiche.com",
		Scope:          "repository.Read repository.Write",
		TokenFile:      DefaultTokenFile(),
		APITimeout:     30 * time.Second,
		ListenAddr:     "127.0.0.1:3000",
		MetricsAddr:    "",
		RateLimitRPS:   20,
		RateLimitBurst: 40,
		LogLevel:       "info",
		LogFormat:      "console",
		S3Region:       "us-east-1",
		Locale:         "en-US",
		MaxUploadSize:  100 * 1024 * 1024, // 100MB
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty and the file exists), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.RedirectURI = envOr("REDIRECT_URI", c.RedirectURI)
	c.ClientID = envOr("CLIENT_ID", c.ClientID)
	c.HostName = envOr("HOST_NAME", c.HostName)
	c.Scope = envOr("SCOPE", c.Scope)
	c.OAuthIssuerURL = envOr("OAUTH_ISSUER_URL", c.OAuthIssuerURL)
	c.AuthURL = envOr("OAUTH_AUTH_URL", c.AuthURL)
	c.TokenURL = envOr("OAUTH_TOKEN_URL", c.TokenURL)
	c.TokenFile = envOr("TOKEN_FILE", c.TokenFile)
	c.APIBaseURL = envOr("API_BASE_URL", c.APIBaseURL)
	c.WebClientURL = envOr("WEB_CLIENT_URL", c.WebClientURL)
	c.APITimeout = envDuration("API_TIMEOUT", c.APITimeout)
	c.ListenAddr = envOr("LISTEN_ADDR", c.ListenAddr)
	c.MetricsAddr = envOr("METRICS_ADDR", c.MetricsAddr)
	c.RateLimitRPS = envFloat("RATE_LIMIT_RPS", c.RateLimitRPS)
	c.RateLimitBurst = envInt("RATE_LIMIT_BURST", c.RateLimitBurst)
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOr("LOG_FORMAT", c.LogFormat)
	c.DatabaseURL = envOr("DATABASE_URL", c.DatabaseURL)
	c.S3Endpoint = envOr("S3_ENDPOINT", c.S3Endpoint)
	c.S3Region = envOr("S3_REGION", c.S3Region)
	c.S3AccessKey = envOr("S3_ACCESS_KEY", c.S3AccessKey)
	c.S3SecretKey = envOr("S3_SECRET_KEY", c.S3SecretKey)
	c.ViewDocuments = envBool("VIEW_DOCUMENTS", c.ViewDocuments)
	c.Locale = envOr("LOCALE", c.Locale)
	c.MaxUploadSize = envInt64("MAX_UPLOAD_SIZE", c.MaxUploadSize)
}

// Scopes returns the requested OAuth scopes.
func (c *Config) Scopes() []string {
	scopes := strings.Fields(c.Scope)
	return append(scopes, c.ExtraScopes...)
}

// Validate checks the settings needed to sign in.
func (c *Config) Validate() error {
	for _, kv := range []struct{ key, val string }{
		{"CLIENT_ID", c.ClientID},
		{"REDIRECT_URI", c.RedirectURI},
		{"HOST_NAME", c.HostName},
	} {
		if kv.val == "" {
			return fmt.Errorf("%s is required", kv.key)
		}
		if strings.HasPrefix(kv.val, Placeholder) {
			return fmt.Errorf("%s still holds the placeholder %q", kv.key, kv.val)
		}
	}
	if len(c.Scopes()) == 0 {
		return errors.New("SCOPE is required")
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return errors.New("rate limit settings must not be negative")
	}
	return nil
}

// DefaultConfigFile returns the per-user config file location.
func DefaultConfigFile() string {
	return filepath.Join(configDir(), "config.yaml")
}

// DefaultTokenFile returns the per-user token file location.
func DefaultTokenFile() string {
	return filepath.Join(configDir(), "token.json")
}

func configDir() string {
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "repodrop")
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "repodrop")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
