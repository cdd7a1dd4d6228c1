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
	path := filepath.Join(t.TempDir(), "storefront.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8082/api/v1", cfg.API.Endpoint)
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Search.Debounce)
	assert.Equal(t, SessionFile, cfg.Session.Backend)
	assert.Equal(t, "8082", cfg.DevServer.HTTPPort)
}

func TestLoad_MissingFileIsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().API, cfg.API)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
api:
  endpoint: https://qkart.example.com/api/v1
  timeout: 5s
session:
  backend: redis
  redis_addr: localhost:6379
  profile: alice
search:
  debounce: 250ms
log:
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://qkart.example.com/api/v1", cfg.API.Endpoint)
	assert.Equal(t, 5*time.Second, cfg.API.Timeout)
	assert.Equal(t, uint32(5), cfg.API.BreakerFailures, "unset keys keep their default")
	assert.Equal(t, SessionRedis, cfg.Session.Backend)
	assert.Equal(t, "alice", cfg.Session.Profile)
	assert.Equal(t, 250*time.Millisecond, cfg.Search.Debounce)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvWinsOverFile(t *testing.T) {
	path := writeFile(t, "api:\n  endpoint: http://from-file:1/api/v1\n")
	t.Setenv("STOREFRONT_ENDPOINT", "http://from-env:2/api/v1")
	t.Setenv("STOREFRONT_TIMEOUT", "0s")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://from-env:2/api/v1", cfg.API.Endpoint)
	assert.Zero(t, cfg.API.Timeout)
	assert.Equal(t, "9090", cfg.DevServer.HTTPPort)
	assert.Equal(t, "redis:6379", cfg.DevServer.RedisAddr)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		env     map[string]string
		wantErr string
	}{
		{name: "bad yaml", content: "api: [", wantErr: "parse config failed"},
		{name: "relative endpoint", content: "api:\n  endpoint: /api/v1\n", wantErr: "invalid api endpoint"},
		{name: "unknown backend", content: "session:\n  backend: etcd\n", wantErr: "unknown session backend"},
		{name: "redis without addr", content: "session:\n  backend: redis\n", wantErr: "needs session.redis_addr"},
		{name: "bad port", content: "devserver:\n  http_port: http\n", wantErr: "invalid devserver http port"},
		{name: "bad log format", content: "log:\n  format: xml\n", wantErr: "unknown log format"},
		{name: "bad env duration", env: map[string]string{"STOREFRONT_DEBOUNCE": "soon"}, wantErr: "invalid STOREFRONT_DEBOUNCE"},
		{name: "negative timeout", env: map[string]string{"STOREFRONT_TIMEOUT": "-1s"}, wantErr: "api timeout must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeFile(t, tt.content))
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}
