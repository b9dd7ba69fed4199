package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envKeys maps the documented environment names onto config paths. Env
// vars outside this table are ignored so unrelated process environment
// cannot leak into the snapshot.
var envKeys = map[string]string{
	"DATABASE_URL":                "databaseUrl",
	"PORT":                        "port",
	"NODE_ENV":                    "env",
	"ADMIN_UI_ORIGIN":             "adminUiOrigin",
	"PUBLIC_BASE_URL":             "publicBaseUrl",
	"LOG_LEVEL":                   "logging.level",
	"LOG_FORMAT":                  "logging.format",
	"PLUGINS_PATH":                "plugins.path",
	"PLUGINS_DEBOUNCE_MS":         "plugins.debounceMs",
	"QUEUE_DRIVER":                "queue.driver",
	"QUEUE_VALKEY_ADDRESS":        "queue.valkey.address",
	"QUEUE_VALKEY_USERNAME":       "queue.valkey.username",
	"QUEUE_VALKEY_PASSWORD":       "queue.valkey.password",
	"QUEUE_VALKEY_DB":             "queue.valkey.db",
	"QUEUE_VALKEY_LIST_KEY":       "queue.valkey.listKey",
	"STORAGE_DRIVER":              "storage.driver",
	"STORAGE_BASE_PATH":           "storage.basePath",
	"STORAGE_LINK_SECRET":         "storage.linkSecret",
	"STORAGE_S3_BUCKET":           "storage.s3.bucket",
	"STORAGE_S3_PREFIX":           "storage.s3.prefix",
	"STORAGE_S3_REGION":           "storage.s3.region",
	"STORAGE_S3_ENDPOINT":         "storage.s3.endpoint",
	"ENCRYPTION_MODE":             "encryption.mode",
	"ENCRYPTION_MASTER_KEY_B64":   "encryption.masterKeyB64",
	"AUTH_COOKIE_DOMAIN":          "auth.cookieDomain",
	"AUTH_COOKIE_SECURE":          "auth.cookieSecure",
	"AUTH_SESSION_TTL_HOURS":      "auth.sessionTtlHours",
	"RECIPIENT_SESSION_TTL_HOURS": "auth.recipientSessionTtlHours",
	"ADMIN_MAGICLINK_TTL_MIN":     "auth.magicLinkTtlMin",
	"RECIPIENT_OTP_TTL_MIN":       "auth.otpTtlMin",
	"RECIPIENT_OTP_LENGTH":        "auth.otpLength",
	"DEVICE_CODE_TTL_MIN":         "auth.deviceCodeTtlMin",
	"DEVICE_CODE_INTERVAL_SEC":    "auth.deviceCodeIntervalSec",
	"API_TOKEN_TTL_DAYS":          "apiToken.ttlDays",
	"API_TOKEN_SCOPES_DEFAULT":    "apiToken.scopesDefault",
	"API_TOKEN_PREFIX":            "apiToken.prefix",
	"HISTORY_SNAPSHOT_INTERVAL":   "history.snapshotInterval",
	"HISTORY_MAX_CHAIN_DEPTH":     "history.maxChainDepth",
	"SYSTEM_USER_ID":              "history.systemUserId",
	"AUTHZ_V2":                    "authz.v2",
	"AUTHZ_V2_SHADOW":             "authz.v2Shadow",
	"AUTHZ_REQUIRE_ADMIN_2FA":     "authz.requireAdmin2fa",
	"AUTHZ_REAUTH_WINDOW_MIN":     "authz.reauthWindowMin",
}

// Loader hydrates the runtime configuration while respecting
// env > file > default precedence.
type Loader struct {
	files []string
}

// NewLoader prepares a config hydrator. Files are optional; each named
// file must exist.
func NewLoader(files ...string) *Loader {
	return &Loader{files: files}
}

// Load assembles the effective snapshot using the documented precedence.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(DefaultConfig()), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), parserFor(path)); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", func(name string) string {
		return envKeys[name]
	}), nil); err != nil {
		return Config{}, fmt.Errorf("config: load env: %w", err)
	}

	// Scope lists arrive as a comma- or space-separated string from the
	// environment.
	if scopes := k.String("apiToken.scopesDefault"); scopes != "" && len(k.Strings("apiToken.scopesDefault")) == 0 {
		fields := strings.FieldsFunc(scopes, func(r rune) bool { return r == ',' || r == ' ' })
		if err := k.Set("apiToken.scopesDefault", fields); err != nil {
			return Config{}, fmt.Errorf("config: normalize scopes: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parserFor(path string) koanf.Parser {
	switch filepath.Ext(path) {
	case ".json":
		return json.Parser()
	case ".toml":
		return toml.Parser()
	default:
		return yaml.Parser()
	}
}

// structToMap converts DefaultConfig into a map for the koanf confmap
// provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"databaseUrl":   cfg.DatabaseURL,
		"port":          cfg.Port,
		"env":           cfg.Env,
		"adminUiOrigin": cfg.AdminUIOrigin,
		"publicBaseUrl": cfg.PublicBaseURL,
		"logging": map[string]any{
			"level":  cfg.Logging.Level,
			"format": cfg.Logging.Format,
		},
		"plugins": map[string]any{
			"path":       cfg.Plugins.Path,
			"debounceMs": cfg.Plugins.DebounceMs,
		},
		"queue": map[string]any{
			"driver": cfg.Queue.Driver,
			"valkey": map[string]any{
				"address":  cfg.Queue.Valkey.Address,
				"username": cfg.Queue.Valkey.Username,
				"password": cfg.Queue.Valkey.Password,
				"db":       cfg.Queue.Valkey.DB,
				"listKey":  cfg.Queue.Valkey.ListKey,
			},
		},
		"storage": map[string]any{
			"driver":     cfg.Storage.Driver,
			"basePath":   cfg.Storage.BasePath,
			"linkSecret": cfg.Storage.LinkSecret,
			"s3": map[string]any{
				"bucket":   cfg.Storage.S3.Bucket,
				"prefix":   cfg.Storage.S3.Prefix,
				"region":   cfg.Storage.S3.Region,
				"endpoint": cfg.Storage.S3.Endpoint,
			},
		},
		"encryption": map[string]any{
			"mode":         cfg.Encryption.Mode,
			"masterKeyB64": cfg.Encryption.MasterKeyB64,
		},
		"auth": map[string]any{
			"cookieDomain":             cfg.Auth.CookieDomain,
			"cookieSecure":             cfg.Auth.CookieSecure,
			"sessionTtlHours":          cfg.Auth.SessionTTLHours,
			"recipientSessionTtlHours": cfg.Auth.RecipientSessionTTLHours,
			"magicLinkTtlMin":          cfg.Auth.MagicLinkTTLMin,
			"otpTtlMin":                cfg.Auth.OTPTTLMin,
			"otpLength":                cfg.Auth.OTPLength,
			"deviceCodeTtlMin":         cfg.Auth.DeviceCodeTTLMin,
			"deviceCodeIntervalSec":    cfg.Auth.DeviceCodeIntervalSec,
		},
		"apiToken": map[string]any{
			"ttlDays":       cfg.APIToken.TTLDays,
			"scopesDefault": cfg.APIToken.ScopesDefault,
			"prefix":        cfg.APIToken.Prefix,
		},
		"history": map[string]any{
			"snapshotInterval": cfg.History.SnapshotInterval,
			"maxChainDepth":    cfg.History.MaxChainDepth,
			"systemUserId":     cfg.History.SystemUserID,
		},
		"authz": map[string]any{
			"v2":              cfg.Authz.V2,
			"v2Shadow":        cfg.Authz.V2Shadow,
			"requireAdmin2fa": cfg.Authz.RequireAdmin2FA,
			"reauthWindowMin": cfg.Authz.ReauthWindowMin,
		},
	}
}
