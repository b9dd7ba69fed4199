// Package config hydrates the runtime configuration with env > file >
// default precedence.
package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/latchflow/latchflow/internal/authz"
)

// Config is the effective runtime configuration snapshot.
type Config struct {
	DatabaseURL   string `koanf:"databaseUrl"`
	Port          int    `koanf:"port"`
	Env           string `koanf:"env"`
	AdminUIOrigin string `koanf:"adminUiOrigin"`
	// PublicBaseURL is what signed links and the device verification URI
	// point at.
	PublicBaseURL string `koanf:"publicBaseUrl"`

	Logging    LoggingConfig    `koanf:"logging"`
	Plugins    PluginsConfig    `koanf:"plugins"`
	Queue      QueueConfig      `koanf:"queue"`
	Storage    StorageConfig    `koanf:"storage"`
	Encryption EncryptionConfig `koanf:"encryption"`
	Auth       AuthConfig       `koanf:"auth"`
	APIToken   APITokenConfig   `koanf:"apiToken"`
	History    HistoryConfig    `koanf:"history"`
	Authz      AuthzConfig      `koanf:"authz"`
}

// LoggingConfig mirrors the slog handler options.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// PluginsConfig locates the hot-reloaded plug-in tree.
type PluginsConfig struct {
	Path       string `koanf:"path"`
	DebounceMs int    `koanf:"debounceMs"`
}

// QueueConfig selects the work-queue driver.
type QueueConfig struct {
	Driver string            `koanf:"driver"`
	Valkey QueueValkeyConfig `koanf:"valkey"`
}

// QueueValkeyConfig binds the durable driver.
type QueueValkeyConfig struct {
	Address  string `koanf:"address"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	ListKey  string `koanf:"listKey"`
}

// StorageConfig selects the object-storage driver.
type StorageConfig struct {
	Driver     string          `koanf:"driver"`
	BasePath   string          `koanf:"basePath"`
	LinkSecret string          `koanf:"linkSecret"`
	S3         StorageS3Config `koanf:"s3"`
}

// StorageS3Config binds the s3 driver.
type StorageS3Config struct {
	Bucket   string `koanf:"bucket"`
	Prefix   string `koanf:"prefix"`
	Region   string `koanf:"region"`
	Endpoint string `koanf:"endpoint"`
}

// EncryptionConfig selects the at-rest wrapper.
type EncryptionConfig struct {
	Mode         string `koanf:"mode"`
	MasterKeyB64 string `koanf:"masterKeyB64"`
}

// MasterKey decodes the configured key; nil when unset.
func (e EncryptionConfig) MasterKey() ([]byte, error) {
	if e.MasterKeyB64 == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(e.MasterKeyB64)
	if err != nil {
		return nil, fmt.Errorf("config: decode encryption master key: %w", err)
	}
	return key, nil
}

// AuthConfig tunes the session and credential flows.
type AuthConfig struct {
	CookieDomain string `koanf:"cookieDomain"`
	// CookieSecure accepts "true"/"false"; empty means secure except in
	// development.
	CookieSecure             string `koanf:"cookieSecure"`
	SessionTTLHours          int    `koanf:"sessionTtlHours"`
	RecipientSessionTTLHours int    `koanf:"recipientSessionTtlHours"`
	MagicLinkTTLMin          int    `koanf:"magicLinkTtlMin"`
	OTPTTLMin                int    `koanf:"otpTtlMin"`
	OTPLength                int    `koanf:"otpLength"`
	DeviceCodeTTLMin         int    `koanf:"deviceCodeTtlMin"`
	DeviceCodeIntervalSec    int    `koanf:"deviceCodeIntervalSec"`
}

// APITokenConfig tunes machine credentials.
type APITokenConfig struct {
	TTLDays       int      `koanf:"ttlDays"`
	ScopesDefault []string `koanf:"scopesDefault"`
	Prefix        string   `koanf:"prefix"`
}

// HistoryConfig tunes the change log.
type HistoryConfig struct {
	SnapshotInterval int    `koanf:"snapshotInterval"`
	MaxChainDepth    int    `koanf:"maxChainDepth"`
	SystemUserID     string `koanf:"systemUserId"`
}

// AuthzConfig selects the evaluation mode and two-factor policy.
type AuthzConfig struct {
	V2              bool `koanf:"v2"`
	V2Shadow        bool `koanf:"v2Shadow"`
	RequireAdmin2FA bool `koanf:"requireAdmin2fa"`
	ReauthWindowMin int  `koanf:"reauthWindowMin"`
}

// Mode resolves the evaluation mode: shadow wins over enforce so a
// deployment can flip shadow on without unsetting the enforce flag.
func (a AuthzConfig) Mode() authz.Mode {
	switch {
	case a.V2Shadow:
		return authz.ModeShadow
	case a.V2:
		return authz.ModeEnforce
	default:
		return authz.ModeOff
	}
}

// IsDevelopment reports dev-mode behavior (logged OTPs, insecure cookies).
func (c Config) IsDevelopment() bool {
	return strings.EqualFold(c.Env, "development")
}

// CookieSecure resolves the Secure cookie attribute.
func (c Config) CookieSecure() bool {
	switch strings.ToLower(c.Auth.CookieSecure) {
	case "true":
		return true
	case "false":
		return false
	default:
		return !c.IsDevelopment()
	}
}

// SessionTTL is the admin session lifetime.
func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.Auth.SessionTTLHours) * time.Hour
}

// RecipientSessionTTL is the portal session lifetime.
func (c Config) RecipientSessionTTL() time.Duration {
	return time.Duration(c.Auth.RecipientSessionTTLHours) * time.Hour
}

// MagicLinkTTL is the admin login link lifetime.
func (c Config) MagicLinkTTL() time.Duration {
	return time.Duration(c.Auth.MagicLinkTTLMin) * time.Minute
}

// OTPTTL is the recipient code lifetime.
func (c Config) OTPTTL() time.Duration {
	return time.Duration(c.Auth.OTPTTLMin) * time.Minute
}

// DeviceCodeTTL is the CLI device flow lifetime.
func (c Config) DeviceCodeTTL() time.Duration {
	return time.Duration(c.Auth.DeviceCodeTTLMin) * time.Minute
}

// ReauthWindow is how long a 2FA verification stays fresh.
func (c Config) ReauthWindow() time.Duration {
	return time.Duration(c.Authz.ReauthWindowMin) * time.Minute
}

// DefaultConfig carries the documented defaults.
func DefaultConfig() Config {
	return Config{
		Port:          3001,
		Env:           "production",
		PublicBaseURL: "http://localhost:3001",
		Logging:       LoggingConfig{Level: "info", Format: "json"},
		Plugins:       PluginsConfig{Path: "plugins", DebounceMs: 150},
		Queue:         QueueConfig{Driver: "memory"},
		Storage:       StorageConfig{Driver: "fs", BasePath: "data/objects"},
		Encryption:    EncryptionConfig{Mode: "none"},
		Auth: AuthConfig{
			SessionTTLHours:          12,
			RecipientSessionTTLHours: 2,
			MagicLinkTTLMin:          15,
			OTPTTLMin:                10,
			OTPLength:                6,
			DeviceCodeTTLMin:         10,
			DeviceCodeIntervalSec:    5,
		},
		APIToken: APITokenConfig{
			ScopesDefault: []string{"core:read", "core:write"},
			Prefix:        "lfk_",
		},
		History: HistoryConfig{
			SnapshotInterval: 20,
			MaxChainDepth:    200,
			SystemUserID:     "system",
		},
		Authz: AuthzConfig{ReauthWindowMin: 15},
	}
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: databaseUrl is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	switch c.Queue.Driver {
	case "memory":
	case "valkey":
		if c.Queue.Valkey.Address == "" {
			return fmt.Errorf("config: queue.valkey.address required for the valkey driver")
		}
	default:
		return fmt.Errorf("config: unknown queue driver %q", c.Queue.Driver)
	}
	switch c.Storage.Driver {
	case "fs":
		if c.Storage.BasePath == "" {
			return fmt.Errorf("config: storage.basePath required for the fs driver")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("config: storage.s3.bucket required for the s3 driver")
		}
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Encryption.Mode {
	case "", "none":
	case "aes-gcm":
		key, err := c.Encryption.MasterKey()
		if err != nil {
			return err
		}
		if len(key) != 32 {
			return fmt.Errorf("config: encryption.masterKeyB64 must decode to 32 bytes for aes-gcm")
		}
	default:
		return fmt.Errorf("config: unknown encryption mode %q", c.Encryption.Mode)
	}
	if c.Auth.OTPLength < 4 || c.Auth.OTPLength > 10 {
		return fmt.Errorf("config: auth.otpLength %d out of range [4,10]", c.Auth.OTPLength)
	}
	if c.History.SnapshotInterval < 1 {
		return fmt.Errorf("config: history.snapshotInterval must be >= 1")
	}
	if c.History.MaxChainDepth < 1 {
		return fmt.Errorf("config: history.maxChainDepth must be >= 1")
	}
	return nil
}
