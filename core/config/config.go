package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// HTTPConfig configures the inbound HTTP server.
type HTTPConfig struct {
	Listen    string `yaml:"listen" envconfig:"HTTP_LISTEN"`
	APIPrefix string `yaml:"api_prefix" envconfig:"HTTP_API_PREFIX"`
	// Timeouts in seconds; 0 -> default
	ReadTimeoutSeconds     int `yaml:"read_timeout_seconds" envconfig:"HTTP_READ_TIMEOUT_SECONDS"`
	WriteTimeoutSeconds    int `yaml:"write_timeout_seconds" envconfig:"HTTP_WRITE_TIMEOUT_SECONDS"`
	ShutdownTimeoutSeconds int `yaml:"shutdown_timeout_seconds" envconfig:"HTTP_SHUTDOWN_TIMEOUT_SECONDS"`
}

// WebhookConfig holds the public base URL Telegram delivers updates to.
type WebhookConfig struct {
	PublicURL string `yaml:"public_url" envconfig:"WEBHOOK_URL"`
}

// TelegramConfig holds Bot API client settings shared by all bots.
type TelegramConfig struct {
	APIURL                string `yaml:"api_url" envconfig:"TELEGRAM_API_URL"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds" envconfig:"TELEGRAM_REQUEST_TIMEOUT_SECONDS"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
	MigrationsDir  string `yaml:"migrations_dir" envconfig:"DB_MIGRATIONS_DIR"`
}

// RedisConfig points at the broker carrying the mailing queue.
type RedisConfig struct {
	URL   string `yaml:"url" envconfig:"REDIS_URL"`
	Queue string `yaml:"queue" envconfig:"MAILING_QUEUE"`
}

// EngineConfig holds conversation defaults applied when a bot has no own setting.
type EngineConfig struct {
	CallbackSecret    string `yaml:"callback_secret" envconfig:"CALLBACK_SECRET"`
	DefaultReply      string `yaml:"default_reply" envconfig:"BOT_DEFAULT_REPLY"`
	DefaultWelcome    string `yaml:"default_welcome" envconfig:"BOT_DEFAULT_WELCOME_MESSAGE"`
	ChainNotFoundText string `yaml:"chain_not_found_text"`
	// MenuFooterButton is appended under the menu buttons; empty disables it.
	MenuFooterButton string `yaml:"menu_footer_button"`
}

// MailingConfig tunes the broadcast worker.
type MailingConfig struct {
	ChunkSize      int `yaml:"chunk_size" envconfig:"MAILING_CHUNK_SIZE"`
	SendsPerSecond int `yaml:"sends_per_second" envconfig:"MAILING_SENDS_PER_SECOND"`
	// StopTimeoutSeconds bounds how long shutdown waits for the chunk in flight.
	StopTimeoutSeconds int `yaml:"stop_timeout_seconds" envconfig:"MAILING_STOP_TIMEOUT_SECONDS"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format      string `yaml:"format" envconfig:"LOG_FORMAT"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir"`
	File        string `yaml:"file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile" envconfig:"LOG_PROFILE"`
}

// Config aggregates the service configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Telegram TelegramConfig `yaml:"telegram"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Engine   EngineConfig   `yaml:"engine"`
	Mailing  MailingConfig  `yaml:"mailing"`
	Logging  LoggingConfig  `yaml:"logging"`
}

const (
	defaultListen         = ":8080"
	defaultAPIPrefix      = "/api/v1"
	defaultTelegramURL    = "https://api.telegram.org"
	defaultQueue          = "mailing_tasks"
	defaultChunkSize      = 30
	defaultSendsPerSecond = 25
	minCallbackSecretLen  = 16
)

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates required fields and fills defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if strings.TrimSpace(cfg.HTTP.Listen) == "" {
		cfg.HTTP.Listen = defaultListen
	}
	prefix := strings.TrimRight(strings.TrimSpace(cfg.HTTP.APIPrefix), "/")
	if prefix == "" {
		prefix = defaultAPIPrefix
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	cfg.HTTP.APIPrefix = prefix
	if cfg.HTTP.ReadTimeoutSeconds <= 0 {
		cfg.HTTP.ReadTimeoutSeconds = 10
	}
	if cfg.HTTP.WriteTimeoutSeconds <= 0 {
		cfg.HTTP.WriteTimeoutSeconds = 30
	}
	if cfg.HTTP.ShutdownTimeoutSeconds <= 0 {
		cfg.HTTP.ShutdownTimeoutSeconds = 10
	}

	public := strings.TrimRight(strings.TrimSpace(cfg.Webhook.PublicURL), "/")
	if public == "" {
		return fmt.Errorf("webhook.public_url is required")
	}
	u, err := url.Parse(public)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("webhook.public_url %q must be an absolute URL", cfg.Webhook.PublicURL)
	}
	cfg.Webhook.PublicURL = public

	if strings.TrimSpace(cfg.Telegram.APIURL) == "" {
		cfg.Telegram.APIURL = defaultTelegramURL
	}
	if cfg.Telegram.RequestTimeoutSeconds <= 0 {
		cfg.Telegram.RequestTimeoutSeconds = 10
	}

	if strings.TrimSpace(cfg.Database.Host) == "" {
		return fmt.Errorf("database.host is required")
	}
	if cfg.Database.Port == "" {
		cfg.Database.Port = "5432"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxConnections <= 0 {
		cfg.Database.MaxConnections = 10
	}
	if cfg.Database.MigrationsDir == "" {
		cfg.Database.MigrationsDir = "migrations"
	}

	if strings.TrimSpace(cfg.Redis.URL) == "" {
		return fmt.Errorf("redis.url is required")
	}
	if strings.TrimSpace(cfg.Redis.Queue) == "" {
		cfg.Redis.Queue = defaultQueue
	}

	if len(cfg.Engine.CallbackSecret) < minCallbackSecretLen {
		return fmt.Errorf("engine.callback_secret must be at least %d characters", minCallbackSecretLen)
	}
	if cfg.Engine.DefaultReply == "" {
		cfg.Engine.DefaultReply = "Sorry, I did not understand that."
	}
	if cfg.Engine.DefaultWelcome == "" {
		cfg.Engine.DefaultWelcome = "Welcome!"
	}
	if cfg.Engine.ChainNotFoundText == "" {
		cfg.Engine.ChainNotFoundText = "Chain not found."
	}

	if cfg.Mailing.ChunkSize <= 0 {
		cfg.Mailing.ChunkSize = defaultChunkSize
	}
	if cfg.Mailing.SendsPerSecond <= 0 {
		cfg.Mailing.SendsPerSecond = defaultSendsPerSecond
	}
	if cfg.Mailing.StopTimeoutSeconds <= 0 {
		cfg.Mailing.StopTimeoutSeconds = 30
	}
	return nil
}

// WebhookURL returns the address Telegram posts updates for botID to.
func (c *Config) WebhookURL(botID int64) string {
	return fmt.Sprintf("%s%s/webhook/%d", c.Webhook.PublicURL, c.HTTP.APIPrefix, botID)
}
