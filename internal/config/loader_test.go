package config

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/latchflow/latchflow/internal/authz"
)

func TestLoader_DefaultsWithRequiredEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/latchflow")

	cfg, err := NewLoader().Load(context.Background())
	require.NoError(t, err)

	require.Equal(t, 3001, cfg.Port)
	require.Equal(t, "memory", cfg.Queue.Driver)
	require.Equal(t, "fs", cfg.Storage.Driver)
	require.Equal(t, 12, cfg.Auth.SessionTTLHours)
	require.Equal(t, 2, cfg.Auth.RecipientSessionTTLHours)
	require.Equal(t, 15, cfg.Auth.MagicLinkTTLMin)
	require.Equal(t, 6, cfg.Auth.OTPLength)
	require.Equal(t, []string{"core:read", "core:write"}, cfg.APIToken.ScopesDefault)
	require.Equal(t, "lfk_", cfg.APIToken.Prefix)
	require.Equal(t, 20, cfg.History.SnapshotInterval)
	require.Equal(t, 200, cfg.History.MaxChainDepth)
	require.Equal(t, "system", cfg.History.SystemUserID)
	require.Equal(t, authz.ModeOff, cfg.Authz.Mode())
	require.True(t, cfg.CookieSecure())
}

func TestLoader_MissingDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := NewLoader().Load(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "databaseUrl")
}

func TestLoader_FileThenEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "latchflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
databaseUrl: postgres://file/latchflow
port: 4000
auth:
  otpLength: 8
`), 0o644))

	// Env beats file, file beats default.
	t.Setenv("PORT", "5000")
	t.Setenv("AUTHZ_V2", "true")

	cfg, err := NewLoader(path).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "postgres://file/latchflow", cfg.DatabaseURL)
	require.Equal(t, 5000, cfg.Port)
	require.Equal(t, 8, cfg.Auth.OTPLength)
	require.Equal(t, authz.ModeEnforce, cfg.Authz.Mode())
}

func TestLoader_FileFormatByExtension(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "latchflow.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"databaseUrl":"postgres://json/latchflow","port":4100}`), 0o644))
	cfg, err := NewLoader(jsonPath).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "postgres://json/latchflow", cfg.DatabaseURL)
	require.Equal(t, 4100, cfg.Port)

	tomlPath := filepath.Join(dir, "latchflow.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte("databaseUrl = \"postgres://toml/latchflow\"\nport = 4200\n"), 0o644))
	cfg, err = NewLoader(tomlPath).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "postgres://toml/latchflow", cfg.DatabaseURL)
	require.Equal(t, 4200, cfg.Port)
}

func TestLoader_MissingFileFails(t *testing.T) {
	_, err := NewLoader("/nonexistent/latchflow.yaml").Load(context.Background())
	require.Error(t, err)
}

func TestLoader_ScopesFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/latchflow")
	t.Setenv("API_TOKEN_SCOPES_DEFAULT", "core:read,bundles:write")

	cfg, err := NewLoader().Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"core:read", "bundles:write"}, cfg.APIToken.ScopesDefault)
}

func TestLoader_UnknownEnvIgnored(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/latchflow")
	t.Setenv("SOME_UNRELATED_VAR", "boom")

	_, err := NewLoader().Load(context.Background())
	require.NoError(t, err)
}

func TestConfig_ModeResolution(t *testing.T) {
	require.Equal(t, authz.ModeOff, AuthzConfig{}.Mode())
	require.Equal(t, authz.ModeEnforce, AuthzConfig{V2: true}.Mode())
	require.Equal(t, authz.ModeShadow, AuthzConfig{V2: true, V2Shadow: true}.Mode())
	require.Equal(t, authz.ModeShadow, AuthzConfig{V2Shadow: true}.Mode())
}

func TestConfig_CookieSecure(t *testing.T) {
	cfg := DefaultConfig()
	require.True(t, cfg.CookieSecure())

	cfg.Env = "development"
	require.False(t, cfg.CookieSecure())

	cfg.Auth.CookieSecure = "true"
	require.True(t, cfg.CookieSecure())
}

func TestValidate_Rejections(t *testing.T) {
	base := DefaultConfig()
	base.DatabaseURL = "postgres://x"

	queue := base
	queue.Queue.Driver = "valkey"
	require.Error(t, queue.Validate())
	queue.Queue.Valkey.Address = "localhost:6379"
	require.NoError(t, queue.Validate())

	s3 := base
	s3.Storage.Driver = "s3"
	require.Error(t, s3.Validate())
	s3.Storage.S3.Bucket = "artifacts"
	require.NoError(t, s3.Validate())

	enc := base
	enc.Encryption.Mode = "aes-gcm"
	require.Error(t, enc.Validate())
	enc.Encryption.MasterKeyB64 = base64.StdEncoding.EncodeToString(make([]byte, 32))
	require.NoError(t, enc.Validate())

	otp := base
	otp.Auth.OTPLength = 2
	require.Error(t, otp.Validate())
}
