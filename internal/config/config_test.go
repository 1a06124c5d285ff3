package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genai-studio/edge-proxy/internal/ratelimit"
)

func loadYAML(t *testing.T, doc string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(doc)))
	return LoadFrom(v)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadFrom(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8045, cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Environment)
	assert.False(t, cfg.Server.IsProduction())
	assert.Equal(t, 5*time.Minute, cfg.Server.WriteTimeout)
	assert.Equal(t, []string{"", "/api"}, cfg.Server.RoutePrefixes)

	assert.Equal(t, "BigModel", cfg.Upstream.ProviderName)
	assert.Equal(t, "https://open.bigmodel.cn/api/paas/v4", cfg.Upstream.BaseURL)
	assert.Equal(t, "/chat/completions", cfg.Upstream.ChatPath)
	assert.Equal(t, "/videos/retrieve", cfg.Upstream.VideoRetrievePath)
	assert.Equal(t, 5*time.Minute, cfg.Upstream.VideoTimeout)

	chat, err := cfg.RateLimit.Chat.Resolve()
	require.NoError(t, err)
	assert.Equal(t, ratelimit.Strict, chat)

	assert.Equal(t, 1000, cfg.Logging.BufferSize)
	assert.True(t, cfg.Logging.ConsoleOutput)
}

func TestLoad_YAML(t *testing.T) {
	cfg, err := loadYAML(t, `
server:
  port: 9000
  environment: production
upstream:
  api_key: abcd.efgh
  chat_timeout: 30s
cors:
  allowed_origins: "https://a.example.com,https://b.example.com"
  strict: true
rate_limit:
  chat:
    window: 1m
    max_requests: 5
  image:
    preset: loose
`)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.True(t, cfg.Server.IsProduction())
	assert.Equal(t, "abcd.efgh", cfg.Upstream.APIKey)
	assert.Equal(t, 30*time.Second, cfg.Upstream.ChatTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Upstream.ImageTimeout)
	assert.True(t, cfg.CORS.Strict)

	chat, err := cfg.RateLimit.Chat.Resolve()
	require.NoError(t, err)
	assert.Equal(t, ratelimit.Config{Window: time.Minute, MaxRequests: 5}, chat)

	image, err := cfg.RateLimit.Image.Resolve()
	require.NoError(t, err)
	assert.Equal(t, ratelimit.Loose, image)
}

func TestLoad_EnvAliases(t *testing.T) {
	t.Setenv("BIGMODEL_API_KEY", "legacy.key")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com")
	t.Setenv("NODE_ENV", "production")
	t.Setenv("EDGEPROXY_SERVER_PORT", "9100")
	t.Setenv("EDGEPROXY_RATE_LIMIT_VIDEO_MAX_REQUESTS", "3")

	cfg, err := LoadFrom(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "legacy.key", cfg.Upstream.APIKey)
	assert.Equal(t, "https://app.example.com", cfg.CORS.AllowedOrigins)
	assert.True(t, cfg.Server.IsProduction())
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 3, cfg.RateLimit.Video.MaxRequests)
}

func TestLoad_PrefixedEnvWinsOverAlias(t *testing.T) {
	t.Setenv("BIGMODEL_API_KEY", "legacy.key")
	t.Setenv("EDGEPROXY_UPSTREAM_API_KEY", "new.key")

	cfg, err := LoadFrom(viper.New())
	require.NoError(t, err)
	assert.Equal(t, "new.key", cfg.Upstream.APIKey)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"port":      "server:\n  port: 70000\n",
		"base_url":  "upstream:\n  base_url: not-a-url\n",
		"timeout":   "upstream:\n  video_timeout: 0s\n",
		"preset":    "rate_limit:\n  chat:\n    preset: extreme\n",
		"max":       "rate_limit:\n  image:\n    max_requests: 0\n",
		"window":    "rate_limit:\n  video:\n    window: -1s\n",
		"empty_url": "upstream:\n  base_url: \"\"\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := loadYAML(t, doc)
			assert.Error(t, err)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("EDGEPROXY_TEST_DOTENV=from-file\n"), 0o600))
	t.Setenv("EDGEPROXY_TEST_DOTENV", "")
	os.Unsetenv("EDGEPROXY_TEST_DOTENV")

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "from-file", os.Getenv("EDGEPROXY_TEST_DOTENV"))
}
