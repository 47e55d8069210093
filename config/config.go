// Package config loads environment variables and provides a typed Config used
// across the archiver. It applies sensible defaults so the binary can run
// locally with minimal setup; validation of the mutually exclusive start modes
// and credential requirements lives in the Validate* methods so callers choose
// what they require.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/livechat-archiver/feed"
)

type Config struct {
	// Bootstrap: exactly one of VideoID (fresh start) or Resume must be set.
	VideoID string
	Resume  bool

	// Resume log
	LogFile string

	// Recorder
	ReconnectWait time.Duration
	MaxResults    int64

	// YouTube credentials. An API key (inline or file) wins over OAuth.
	APIKey       string
	APIKeyFile   string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       string
	TokenFile    string
	APIEndpoint  string

	// Token encryption at rest (base64 32-byte key; empty disables)
	EncryptionKey string

	// HTTP
	HTTPAddr   string
	AdminToken string
}

// Load reads environment variables and applies defaults. It only fails on
// unparseable values; missing optional variables disable features (e.g., the
// admin guard or token encryption).
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.VideoID = os.Getenv("YT_VIDEO_ID")
	cfg.Resume = boolEnv("RESUME")

	cfg.LogFile = os.Getenv("CHAT_LOG_FILE")
	if cfg.LogFile == "" {
		cfg.LogFile = "data/livechat.jsonl"
	}

	cfg.ReconnectWait = 5 * time.Second
	if v := os.Getenv("RECONNECT_WAIT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RECONNECT_WAIT (Go duration): %w", err)
		}
		cfg.ReconnectWait = d
	}

	cfg.MaxResults = 2000
	if v := os.Getenv("CHAT_MAX_RESULTS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid CHAT_MAX_RESULTS (positive integer): %q", v)
		}
		cfg.MaxResults = n
	}

	cfg.APIKey = os.Getenv("YT_API_KEY")
	cfg.APIKeyFile = os.Getenv("YT_API_KEY_FILE")
	cfg.ClientID = os.Getenv("YT_CLIENT_ID")
	cfg.ClientSecret = os.Getenv("YT_CLIENT_SECRET")
	cfg.RedirectURI = os.Getenv("YT_REDIRECT_URI")
	if cfg.RedirectURI == "" {
		cfg.RedirectURI = "http://localhost:8080/oauth2callback"
	}
	cfg.Scopes = os.Getenv("YT_SCOPES")
	if cfg.Scopes == "" {
		cfg.Scopes = "https://www.googleapis.com/auth/youtube.force-ssl"
	}
	cfg.TokenFile = os.Getenv("YT_TOKEN_FILE")
	if cfg.TokenFile == "" {
		cfg.TokenFile = "data/youtube_token.json"
	}
	cfg.APIEndpoint = os.Getenv("YT_API_ENDPOINT")

	cfg.EncryptionKey = os.Getenv("ENCRYPTION_KEY")

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	cfg.AdminToken = os.Getenv("ADMIN_TOKEN")

	return cfg, nil
}

// ValidateBootstrap enforces the mutually exclusive start modes: a fresh
// start needs YT_VIDEO_ID and no RESUME, a resumed run needs RESUME=1 and no
// YT_VIDEO_ID. Anything else is a config error, never silently downgraded.
func (c *Config) ValidateBootstrap() error {
	switch {
	case c.Resume && c.VideoID != "":
		return feed.Errorf(feed.KindConfig, "config", "YT_VIDEO_ID and RESUME are mutually exclusive; unset one")
	case !c.Resume && c.VideoID == "":
		return feed.Errorf(feed.KindConfig, "config", "either YT_VIDEO_ID or RESUME=1 is required")
	}
	return nil
}

// ValidateCredentials requires at least one way to authenticate against the
// YouTube API: an inline key, a key file, or a complete OAuth client.
func (c *Config) ValidateCredentials() error {
	if c.APIKey != "" || c.APIKeyFile != "" || c.OAuthEnabled() {
		return nil
	}
	return feed.Errorf(feed.KindConfig, "config",
		"no credentials: set YT_API_KEY, YT_API_KEY_FILE, or YT_CLIENT_ID/YT_CLIENT_SECRET")
}

// OAuthEnabled reports whether a full OAuth client is configured.
func (c *Config) OAuthEnabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

func boolEnv(name string) bool {
	v := os.Getenv(name)
	return v == "1" || strings.EqualFold(v, "true")
}
