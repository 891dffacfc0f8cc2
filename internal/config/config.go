package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const defaultEnvFile = ".env"

type Config struct {
	TelegramBotToken    string `envconfig:"TELEGRAM_BOT_TOKEN" required:"true"`
	TelegramAPIEndpoint string `envconfig:"TELEGRAM_API_ENDPOINT"`
	Debug               bool   `envconfig:"BOT_DEBUG" default:"false"`

	// Empty means every user may use the bot.
	AllowedUsers []string `envconfig:"ALLOWED_USERS"`

	WorkDir           string        `envconfig:"WORK_DIR" default:"downloads"`
	YtDlpPath         string        `envconfig:"YTDLP_PATH" default:"yt-dlp"`
	FFmpegPath        string        `envconfig:"FFMPEG_PATH"`
	CookiesFile       string        `envconfig:"COOKIES_FILE"`
	DownloadRetries   int           `envconfig:"DOWNLOAD_RETRIES" default:"3"`
	JobTimeout        time.Duration `envconfig:"JOB_TIMEOUT" default:"10m"`
	MaxConcurrentJobs int64         `envconfig:"MAX_CONCURRENT_JOBS" default:"3"`
	MediaPreviewLimit int64         `envconfig:"MEDIA_PREVIEW_LIMIT" default:"52428800"`

	RateLimitPerMinute int    `envconfig:"RATE_LIMIT_PER_MINUTE" default:"10"`
	RedisAddr          string `envconfig:"REDIS_ADDR"`
	RedisPassword      string `envconfig:"REDIS_PASSWORD"`
	RedisDB            int    `envconfig:"REDIS_DB" default:"0"`

	MetricsAddr string `envconfig:"METRICS_ADDR"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"text"`

	ChatEndpoint         string        `envconfig:"CHAT_ENDPOINT"`
	ChatAPIKey           string        `envconfig:"CHAT_API_KEY"`
	ChatTimeout          time.Duration `envconfig:"CHAT_TIMEOUT" default:"30s"`
	ChatHistorySize      int           `envconfig:"CHAT_HISTORY_SIZE" default:"10"`
	ChatMaxConversations int           `envconfig:"CHAT_MAX_CONVERSATIONS" default:"1000"`
	BlockedKeywords      []string      `envconfig:"BLOCKED_KEYWORDS"`
}

// Load fills cfg from the process environment. Variables found in envFile
// (".env" when empty) are applied first without overriding ones already set;
// a missing file is not an error.
func Load(cfg *Config, envFile string) error {
	if envFile == "" {
		envFile = defaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to read env file %s: %w", envFile, err)
	}
	if err := envconfig.Process("", cfg); err != nil {
		return fmt.Errorf("failed to process environment: %w", err)
	}
	return cfg.Validate()
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.TelegramBotToken) == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is empty")
	}
	if strings.TrimSpace(c.WorkDir) == "" {
		return errors.New("WORK_DIR is empty")
	}
	if c.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_JOBS must be positive, got %d", c.MaxConcurrentJobs)
	}
	if c.JobTimeout <= 0 {
		return fmt.Errorf("JOB_TIMEOUT must be positive, got %s", c.JobTimeout)
	}
	if c.MediaPreviewLimit <= 0 {
		return fmt.Errorf("MEDIA_PREVIEW_LIMIT must be positive, got %d", c.MediaPreviewLimit)
	}
	if c.DownloadRetries < 0 {
		return fmt.Errorf("DOWNLOAD_RETRIES must not be negative, got %d", c.DownloadRetries)
	}
	if c.RateLimitPerMinute < 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must not be negative, got %d", c.RateLimitPerMinute)
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown LOG_FORMAT: %s", c.LogFormat)
	}
	return nil
}

// ChatEnabled reports whether free text is forwarded to a chat-completion endpoint.
func (c *Config) ChatEnabled() bool {
	return strings.TrimSpace(c.ChatEndpoint) != ""
}
