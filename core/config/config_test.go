package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
http:
  api_prefix: api/v2/
webhook:
  public_url: https://bots.example.com/
database:
  host: localhost
  name: chainbot
redis:
  url: redis://localhost:6379/0
engine:
  callback_secret: 0123456789abcdef0123
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Listen)
	assert.Equal(t, "/api/v2", cfg.HTTP.APIPrefix)
	assert.Equal(t, "https://bots.example.com", cfg.Webhook.PublicURL)
	assert.Equal(t, "5432", cfg.Database.Port)
	assert.Equal(t, "mailing_tasks", cfg.Redis.Queue)
	assert.Equal(t, 30, cfg.Mailing.ChunkSize)
	assert.Equal(t, 30, cfg.Mailing.StopTimeoutSeconds)
	assert.Equal(t, "https://api.telegram.org", cfg.Telegram.APIURL)
	assert.Equal(t, "https://bots.example.com/api/v2/webhook/42", cfg.WebhookURL(42))
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("MAILING_CHUNK_SIZE", "5")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5, cfg.Mailing.ChunkSize)
}

func TestNormalizeRejectsMissingFields(t *testing.T) {
	base := func() *Config {
		return &Config{
			Webhook:  WebhookConfig{PublicURL: "https://x.example"},
			Database: DatabaseConfig{Host: "db"},
			Redis:    RedisConfig{URL: "redis://r:6379"},
			Engine:   EngineConfig{CallbackSecret: "0123456789abcdef"},
		}
	}
	require.NoError(t, Normalize(base()))

	cfg := base()
	cfg.Webhook.PublicURL = "bots.example.com"
	assert.Error(t, Normalize(cfg))

	cfg = base()
	cfg.Engine.CallbackSecret = "short"
	assert.Error(t, Normalize(cfg))

	cfg = base()
	cfg.Redis.URL = ""
	assert.Error(t, Normalize(cfg))

	assert.Error(t, Normalize(nil))
}
