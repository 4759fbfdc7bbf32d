package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "object-ingest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{EnvEndpoint, EnvAccessKey, EnvSecretKey, EnvBucket, EnvRegion, EnvSecure} {
		t.Setenv(name, "")
	}
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
store:
  endpoint: "minio.local:9000"
  access_key: "ak"
  secret_key: "sk"
  bucket: "photos"
  secure: true
lock:
  lease_ttl: 15m
  verify_owner: false
convert:
  quality: 80
dispatch:
  workers: 3
  job_timeout: 2m
redis:
  nodes:
    - host: "redis"
      port: 6379
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "minio.local:9000", cfg.Store.Endpoint)
	assert.Equal(t, "https://minio.local:9000", cfg.Store.BaseURL())
	assert.Equal(t, "photos", cfg.Store.Bucket)
	assert.Equal(t, 15*time.Minute, cfg.Lock.LeaseTTL)
	assert.False(t, cfg.Lock.Verify())
	assert.Equal(t, 80, cfg.Convert.Quality)
	assert.Equal(t, 3, cfg.Dispatch.Workers)
	assert.Equal(t, 2*time.Minute, cfg.Dispatch.JobTimeout)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, "redis:6379", cfg.Redis.Nodes[0].Addr())
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultBucket, cfg.Store.Bucket)
	assert.Equal(t, DefaultRegion, cfg.Store.Region)
	assert.Equal(t, DefaultLeaseTTL, cfg.Lock.LeaseTTL)
	assert.True(t, cfg.Lock.Verify())
	assert.Equal(t, []string{".heic", ".heif"}, cfg.Convert.LegacyExtensions)
	assert.Equal(t, []string{".jpg", ".jpeg"}, cfg.Convert.TargetExtensions)
	assert.Equal(t, "image/jpeg", cfg.Convert.TargetContentType)
	assert.Equal(t, DefaultQuality, cfg.Convert.Quality)
	assert.Equal(t, DefaultJobTimeout, cfg.Dispatch.JobTimeout)
	assert.False(t, cfg.Redis.Enabled())
	assert.Equal(t, "http://", cfg.Store.BaseURL()[:7])
}

func TestLoad_NegativeLeaseDisablesReclaim(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "lock:\n  lease_ttl: -1s\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Zero(t, cfg.Lock.LeaseTTL)
}

func TestLoad_NegativeJobTimeoutDisablesTimeout(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "dispatch:\n  job_timeout: -1s\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Zero(t, cfg.Dispatch.JobTimeout)
}

func TestLoad_ZeroDurationsGetDefaults(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "lock:\n  lease_ttl: 0s\ndispatch:\n  job_timeout: 0s\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultLeaseTTL, cfg.Lock.LeaseTTL)
	assert.Equal(t, DefaultJobTimeout, cfg.Dispatch.JobTimeout)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
store:
  endpoint: "file-endpoint:9000"
  bucket: "from-file"
`)
	t.Setenv(EnvEndpoint, "env-endpoint:9000")
	t.Setenv(EnvAccessKey, "env-ak")
	t.Setenv(EnvSecretKey, "env-sk")
	t.Setenv(EnvBucket, "from-env")
	t.Setenv(EnvSecure, "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "env-endpoint:9000", cfg.Store.Endpoint)
	assert.Equal(t, "env-ak", cfg.Store.AccessKey)
	assert.Equal(t, "env-sk", cfg.Store.SecretKey)
	assert.Equal(t, "from-env", cfg.Store.Bucket)
	assert.True(t, cfg.Store.Secure)
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/object-ingest.yaml")
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeFile(t, "store: [unterminated")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	clearEnv(t)

	cfg := NewConfig()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Endpoint: is required")
	assert.Contains(t, err.Error(), "AccessKey: is required")

	cfg.Store.Endpoint = "localhost:9000"
	cfg.Store.AccessKey = "ak"
	cfg.Store.SecretKey = "sk"
	require.NoError(t, cfg.Validate())

	cfg.Convert.Quality = 101
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Quality: out of allowed range")

	cfg.Convert.Quality = 90
	cfg.Convert.LegacyExtensions = []string{"heic"}
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must start with .")
}

func TestBaseURL_KeepsExplicitScheme(t *testing.T) {
	s := StoreConfig{Endpoint: "https://account.r2.cloudflarestorage.com"}
	assert.Equal(t, "https://account.r2.cloudflarestorage.com", s.BaseURL())
}
