// Package config holds the runtime settings of the web client.
//
// Settings are resolved in three layers: Default(), an optional YAML file
// passed to Load, and CARDAUCTION_* environment variables applied by
// ApplyEnv. Command-line flags in cmd/cardauction override all of them.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full set of client settings.
type Config struct {
	// ListenAddr is the address the web client serves pages on.
	ListenAddr string `yaml:"listen_addr"`

	// APIBaseURL is the marketplace REST API, e.g. http://127.0.0.1:8000.
	APIBaseURL string `yaml:"api_base_url"`

	// SocketBaseURL is the notification socket server. When empty it is
	// derived from APIBaseURL by switching the scheme to ws/wss.
	SocketBaseURL string `yaml:"socket_base_url"`

	DBPath      string   `yaml:"db_path"`
	CORSOrigins []string `yaml:"cors_origins"`

	// SessionSecret seeds the key that seals upstream tokens at rest.
	SessionSecret string        `yaml:"session_secret"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
	CookieName    string        `yaml:"cookie_name"`
	CookieSecure  bool          `yaml:"cookie_secure"`

	RequestTimeout time.Duration `yaml:"request_timeout"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PollInterval   time.Duration `yaml:"poll_interval"`

	// AssistantLimit is the number of chat requests allowed per IP
	// within AssistantWindow.
	AssistantLimit  int           `yaml:"assistant_limit"`
	AssistantWindow time.Duration `yaml:"assistant_window"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// DevTemplates reparses page templates from disk on every request.
	DevTemplates bool   `yaml:"dev_templates"`
	TemplatesDir string `yaml:"templates_dir"`
}

// Default returns the settings used for local development against an API
// on 127.0.0.1:8000.
func Default() *Config {
	return &Config{
		ListenAddr:      ":8088",
		APIBaseURL:      "http://127.0.0.1:8000",
		DBPath:          "cardauction.db",
		SessionTTL:      24 * time.Hour,
		CookieName:      "cardauction_session",
		RequestTimeout:  15 * time.Second,
		ReconnectDelay:  5 * time.Second,
		PollInterval:    30 * time.Second,
		AssistantLimit:  20,
		AssistantWindow: time.Minute,
		LogLevel:        "info",
		LogFormat:       "text",
		TemplatesDir:    "web/templates",
	}
}

// Load reads a YAML file on top of Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from CARDAUCTION_* environment variables.
// lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup("CARDAUCTION_" + key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup("CARDAUCTION_" + key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CARDAUCTION_%s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("LISTEN_ADDR", &c.ListenAddr)
	str("API_BASE_URL", &c.APIBaseURL)
	str("SOCKET_BASE_URL", &c.SocketBaseURL)
	str("DB_PATH", &c.DBPath)
	str("SESSION_SECRET", &c.SessionSecret)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)

	if v, ok := lookup("CARDAUCTION_CORS_ORIGINS"); ok && v != "" {
		c.CORSOrigins = SplitList(v)
	}
	if v, ok := lookup("CARDAUCTION_COOKIE_SECURE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CARDAUCTION_COOKIE_SECURE: %w", err)
		}
		c.CookieSecure = b
	}

	for key, dst := range map[string]*time.Duration{
		"SESSION_TTL":     &c.SessionTTL,
		"REQUEST_TIMEOUT": &c.RequestTimeout,
		"RECONNECT_DELAY": &c.ReconnectDelay,
		"POLL_INTERVAL":   &c.PollInterval,
	} {
		if err := dur(key, dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the settings the client cannot run without.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return errors.New("api_base_url is required")
	}
	if !strings.HasPrefix(c.APIBaseURL, "http://") && !strings.HasPrefix(c.APIBaseURL, "https://") {
		return fmt.Errorf("api_base_url must be http(s): %q", c.APIBaseURL)
	}
	if c.SessionSecret == "" {
		return errors.New("session_secret is required")
	}
	if c.ReconnectDelay <= 0 || c.PollInterval <= 0 {
		return errors.New("reconnect_delay and poll_interval must be positive")
	}
	return nil
}

// SocketURL returns the notification socket base, deriving it from the API
// base when not set explicitly.
func (c *Config) SocketURL() string {
	if c.SocketBaseURL != "" {
		return strings.TrimRight(c.SocketBaseURL, "/")
	}
	base := strings.TrimRight(c.APIBaseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}

// SplitList splits a comma-separated flag value and trims each entry.
func SplitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
