// Package config loads the broker configuration from flags, environment
// variables and an optional config file via viper.
package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mailgrant/mailgrant/internal/vault"
)

// EnvPrefix is the prefix for all environment variables, e.g.
// MAILGRANT_LISTEN_ADDR.
const EnvPrefix = "MAILGRANT"

// Defaults.
const (
	DefaultListenAddr          = ":8080"
	DefaultTokenDir            = "tokens"
	DefaultSessionValidityDays = 365
	DefaultRateLimitCapacity   = 10
	DefaultRateLimitWindow     = 60 * time.Second
	DefaultMetricsAddr         = ":9090"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "json"
)

// MetricsConfig holds configuration for the metrics server.
type MetricsConfig struct {
	// Enabled determines whether to start the metrics server.
	Enabled bool

	// Addr is the address for the metrics server (e.g., ":9090").
	Addr string
}

// Config holds the full broker configuration.
type Config struct {
	// ListenAddr is the address the API server binds to.
	ListenAddr string

	// RedirectURL is the OAuth redirect URL registered with the provider.
	RedirectURL string

	// ClientID and ClientSecret identify the OAuth application.
	ClientID     string
	ClientSecret string

	// Scopes overrides the default upstream scope set when non-empty.
	Scopes []string

	// TokenDir is the directory holding encrypted credential records.
	TokenDir string

	// SigningSecret signs session tokens. Generated at startup when unset;
	// generated secrets invalidate all sessions on restart.
	SigningSecret []byte

	// EncryptionKey encrypts credential records at rest. Generated at
	// startup when unset; generated keys orphan previously stored records.
	EncryptionKey []byte

	// GeneratedSigningSecret and GeneratedEncryptionKey report whether the
	// corresponding secret was generated rather than configured.
	GeneratedSigningSecret bool
	GeneratedEncryptionKey bool

	// SessionValidity is how long issued session tokens remain valid.
	SessionValidity time.Duration

	// RateLimitCapacity and RateLimitWindow bound send operations per
	// principal.
	RateLimitCapacity int
	RateLimitWindow   time.Duration

	Metrics MetricsConfig

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// LogFormat is json or text.
	LogFormat string
}

// SetDefaults registers all defaults and environment bindings on v.
func SetDefaults(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen_addr", DefaultListenAddr)
	v.SetDefault("redirect_url", "")
	v.SetDefault("client_id", "")
	v.SetDefault("client_secret", "")
	v.SetDefault("scopes", []string{})
	v.SetDefault("token_dir", DefaultTokenDir)
	v.SetDefault("signing_secret", "")
	v.SetDefault("encryption_key", "")
	v.SetDefault("session_validity_days", DefaultSessionValidityDays)
	v.SetDefault("rate_limit.capacity", DefaultRateLimitCapacity)
	v.SetDefault("rate_limit.window_seconds", int(DefaultRateLimitWindow.Seconds()))
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", DefaultMetricsAddr)
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)
}

// Load builds a Config from v. Missing secrets are generated so the
// broker can start without configuration; callers should warn when the
// Generated flags are set.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		ListenAddr:        v.GetString("listen_addr"),
		RedirectURL:       v.GetString("redirect_url"),
		ClientID:          v.GetString("client_id"),
		ClientSecret:      v.GetString("client_secret"),
		Scopes:            v.GetStringSlice("scopes"),
		TokenDir:          v.GetString("token_dir"),
		SessionValidity:   time.Duration(v.GetInt("session_validity_days")) * 24 * time.Hour,
		RateLimitCapacity: v.GetInt("rate_limit.capacity"),
		RateLimitWindow:   time.Duration(v.GetInt("rate_limit.window_seconds")) * time.Second,
		Metrics: MetricsConfig{
			Enabled: v.GetBool("metrics.enabled"),
			Addr:    v.GetString("metrics.addr"),
		},
		LogLevel:  v.GetString("log.level"),
		LogFormat: v.GetString("log.format"),
	}

	if cfg.SessionValidity <= 0 {
		return nil, fmt.Errorf("session_validity_days must be positive")
	}
	if cfg.RateLimitCapacity <= 0 {
		return nil, fmt.Errorf("rate_limit.capacity must be positive")
	}
	if cfg.RateLimitWindow <= 0 {
		return nil, fmt.Errorf("rate_limit.window_seconds must be positive")
	}

	if secret := v.GetString("signing_secret"); secret != "" {
		cfg.SigningSecret = []byte(secret)
	} else {
		generated := make([]byte, 32)
		if _, err := rand.Read(generated); err != nil {
			return nil, fmt.Errorf("generating signing secret: %w", err)
		}
		cfg.SigningSecret = generated
		cfg.GeneratedSigningSecret = true
	}

	if encoded := v.GetString("encryption_key"); encoded != "" {
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("invalid encryption_key (must be base64 encoded): %w", err)
		}
		if len(key) != vault.KeySize {
			return nil, fmt.Errorf("encryption_key must be exactly %d bytes (got %d)", vault.KeySize, len(key))
		}
		cfg.EncryptionKey = key
	} else {
		key, err := vault.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generating encryption key: %w", err)
		}
		cfg.EncryptionKey = key
		cfg.GeneratedEncryptionKey = true
	}

	return cfg, nil
}
