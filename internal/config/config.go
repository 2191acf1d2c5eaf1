package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	RepositoryURL   string `envconfig:"REPOSITORY_URL" required:"true"`
	LocalRepository string `envconfig:"LOCAL_REPOSITORY" required:"true"`

	MaxParallel    int           `envconfig:"MAX_PARALLEL" default:"5"`
	MaxAttempts    int           `envconfig:"MAX_ATTEMPTS" default:"10"`
	ChecksumPolicy string        `envconfig:"CHECKSUM_POLICY" default:"fail"`
	ConnectTimeout time.Duration `envconfig:"CONNECT_TIMEOUT" default:"10s"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30m"`

	UserAgent   string            `envconfig:"USER_AGENT" default:"artifact_connector"`
	HTTPHeaders map[string]string `envconfig:"HTTP_HEADERS"`

	RepositoryUsername string `envconfig:"REPOSITORY_USERNAME"`
	RepositoryPassword string `envconfig:"REPOSITORY_PASSWORD"`
	RepositoryToken    string `envconfig:"REPOSITORY_TOKEN"`

	ProxyURL           string `envconfig:"PROXY_URL"`
	ProxyUsername      string `envconfig:"PROXY_USERNAME"`
	ProxyPassword      string `envconfig:"PROXY_PASSWORD"`
	InsecureSkipVerify bool   `envconfig:"INSECURE_SKIP_VERIFY" default:"false"`

	KeepStagedFor     time.Duration `envconfig:"KEEP_STAGED_FOR" default:"24h"`
	KeepTransfersFor  time.Duration `envconfig:"KEEP_TRANSFERS_FOR" default:"720h"`
	CleanupInterval   time.Duration `envconfig:"CLEANUP_INTERVAL" default:"10m"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string        `envconfig:"DISCORD_WEBHOOK_URL"`
	DBPath            string        `envconfig:"DB_PATH" default:"transfers.db"`

	API struct {
		Username string `split_words:"true"`
		Password string `split_words:"true"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9091"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30m"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}

	Telemetry struct {
		Enabled        bool          `split_words:"true" default:"true"`
		ServiceName    string        `split_words:"true" default:"artifact_connector"`
		ServiceVersion string        `split_words:"true" default:"dev"`
		OTLPEndpoint   string        `envconfig:"OTLP_ENDPOINT"`
		OTLPInterval   time.Duration `envconfig:"OTLP_INTERVAL" default:"1m"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
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
