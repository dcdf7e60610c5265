package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithEnv(t *testing.T) {
	t.Setenv("APP_CONFIG_FILE", "")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("PORT", "4100")
	t.Setenv("DATABASE_TYPE", "SQLite")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 4100, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, "local", cfg.Storage.Type)
	// 未单独配置时加密密钥沿用 JWT 密钥
	assert.Equal(t, "secret", cfg.Secret.EncryptionKey)
}

func TestLoad_YAMLFileThenEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.yaml")
	content := `
log_level: debug
server:
  port: 5000
auth:
  jwt_secret: from-file
database:
  type: postgres
  url: postgres://localhost/nodeforge
vector:
  opensearch_url: http://localhost:9200
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("APP_CONFIG_FILE", path)
	t.Setenv("PORT", "5001")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5001, cfg.Server.Port)
	assert.Equal(t, "from-file", cfg.Auth.JWTSecret)
	assert.Equal(t, "postgres", cfg.Database.Type)
	assert.Equal(t, "http://localhost:9200", cfg.Vector.OpenSearchURL)
}

func TestLoad_JSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"auth":{"jwt_secret":"j"},"storage":{"type":"gcs","gcs_bucket":"b"}}`), 0o600))
	t.Setenv("APP_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "gcs", cfg.Storage.Type)
	assert.Equal(t, "b", cfg.Storage.GCSBucket)
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Database.Type = "postgres"
	cfg.Storage.Type = "gcs"
	cfg.normalize()

	err := cfg.validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "JWT_SECRET")
	assert.Contains(t, msg, "DATABASE_URL")
	assert.Contains(t, msg, "GOOGLE_CLOUD_STORAGE_BUCKET_NAME")
}

func TestValidate_UnknownDatabaseType(t *testing.T) {
	cfg := Default()
	cfg.Auth.JWTSecret = "x"
	cfg.Database.Type = "mysql"
	assert.ErrorContains(t, cfg.validate(), "unsupported DATABASE_TYPE")
}
