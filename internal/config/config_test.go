package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3000, c.Port)
	assert.Equal(t, EnvDevelopment, c.Env)
	assert.Equal(t, "./data", c.DataDir)
	assert.False(t, c.DisableDB)
	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, []string{"http://localhost:3000", "http://127.0.0.1:3000"}, c.AllowedOrigins())
	assert.Equal(t, ":3000", c.Addr())
	assert.False(t, c.TrustProxy)
}

func TestLoad_TrustProxy(t *testing.T) {
	t.Setenv("TRUST_PROXY", "true")

	c, err := Load("")
	require.NoError(t, err)
	assert.True(t, c.TrustProxy)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("DEPLOY_ENV", "production")
	t.Setenv("FRONTEND_URL", "https://play.example.com")
	t.Setenv("DISABLE_DB", "true")

	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, c.Port)
	assert.True(t, c.Production())
	assert.True(t, c.DisableDB)
	assert.False(t, c.LogPretty)
	assert.Equal(t, []string{"https://play.example.com"}, c.AllowedOrigins())
}

func TestLoad_ProductionRequiresPort(t *testing.T) {
	t.Setenv("DEPLOY_ENV", "production")
	t.Setenv("PORT", "")

	_, err := Load("")
	assert.ErrorIs(t, err, ErrMissingPort)
}

func TestLoad_ProductionDefaultFrontend(t *testing.T) {
	t.Setenv("DEPLOY_ENV", "production")
	t.Setenv("PORT", "9000")

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultFrontendURL}, c.AllowedOrigins())
}

func TestLoad_RejectsUnknownEnv(t *testing.T) {
	t.Setenv("DEPLOY_ENV", "staging")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "server.yaml"), []byte("port: 4100\ndata_dir: /var/lib/ff\nlog_level: debug\n"), 0o644))

	c, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 4100, c.Port)
	assert.Equal(t, "/var/lib/ff", c.DataDir)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, filepath.Join("/var/lib/ff", "index", "matches.sqlite"), c.IndexPath())
}

func TestLoad_IndexBackend(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, IndexSQLite, c.IndexBackend)
	assert.Equal(t, 128, c.IngestBatchSize)

	t.Setenv("INDEX_BACKEND", "ingest")
	_, err = Load("")
	assert.Error(t, err)

	t.Setenv("INDEX_INGEST_URL", "https://ingest.example.com/v1/events")
	t.Setenv("INDEX_INGEST_FLUSH_MS", "250")
	c, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, IndexIngest, c.IndexBackend)
	assert.Equal(t, 250, c.IngestFlushMs)

	t.Setenv("INDEX_BACKEND", "postgres")
	_, err = Load("")
	assert.Error(t, err)
}
