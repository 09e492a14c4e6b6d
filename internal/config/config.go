package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	HistoryBackendJSON   = "json"
	HistoryBackendSQLite = "sqlite"
)

// Config struct for environment variables.
type Config struct {
	TargetDir      string `envconfig:"TARGET_DIR"`
	HistoryBackend string `envconfig:"HISTORY_BACKEND" default:"json"`
	HistoryPath    string `envconfig:"HISTORY_PATH"`
	DBPath         string `envconfig:"DB_PATH" default:"downloads.db"`

	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	GrantTTL         time.Duration `envconfig:"GRANT_TTL" default:"0"`
	CleanupInterval  time.Duration `envconfig:"CLEANUP_INTERVAL" default:"10m"`
	KeepPartialFiles time.Duration `envconfig:"KEEP_PARTIAL_FILES" default:"24h"`
	NameCacheSize    int           `envconfig:"NAME_CACHE_SIZE" default:"1024"`
	EventBuffer      int           `envconfig:"EVENT_BUFFER" default:"256"`

	PrimarySurfaceID string `envconfig:"PRIMARY_SURFACE_ID" default:"main"`
	PrimarySessionID string `envconfig:"PRIMARY_SESSION_ID" default:"default"`

	Web struct {
		BindAddress     string        `split_words:"true" default:"127.0.0.1:9092"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
		Username        string        `split_words:"true"`
		Password        string        `split_words:"true"`
	}

	Telemetry struct {
		Enabled        bool   `split_words:"true" default:"true"`
		ServiceName    string `split_words:"true" default:"surface_downloader"`
		ServiceVersion string `split_words:"true" default:"dev"`
		OTLPEndpoint   string `envconfig:"OTLP_ENDPOINT"`
	}
}

// LoadConfig reads an optional .env file and the environment and populates the Config struct.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.TargetDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to resolve home directory: %w", err)
		}

		c.TargetDir = filepath.Join(home, "Downloads", "surface_downloader")
	}

	if c.HistoryPath == "" {
		c.HistoryPath = filepath.Join(c.TargetDir, ".history", "downloads.json")
	}

	switch c.HistoryBackend {
	case HistoryBackendJSON, HistoryBackendSQLite:
	default:
		return fmt.Errorf("invalid history backend: %s", c.HistoryBackend)
	}

	if c.CleanupInterval <= 0 {
		return fmt.Errorf("invalid cleanup interval: %s", c.CleanupInterval)
	}

	return nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
