package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	AppURL    string `env:"APP_URL" default:"http://localhost:8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	TokenSecret string        `env:"TOKEN_SECRET"`
	TokenTTL    time.Duration `env:"TOKEN_TTL" default:"2h"`
	AdminAPIKey string        `env:"ADMIN_API_KEY"`

	SMTPAddr     string `env:"SMTP_ADDR"`
	SMTPFrom     string `env:"SMTP_FROM"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`

	EmailRetryBaseDelay   time.Duration `env:"EMAIL_RETRY_BASE_DELAY" default:"30s"`
	MaxConnectionsPerUser int           `env:"MAX_CONNECTIONS_PER_USER" default:"10"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	required := map[string]string{
		"TOKEN_SECRET":  cfg.TokenSecret,
		"ADMIN_API_KEY": cfg.AdminAPIKey,
		"SMTP_ADDR":     cfg.SMTPAddr,
		"SMTP_FROM":     cfg.SMTPFrom,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	if len(cfg.TokenSecret) < 32 {
		return fmt.Errorf("TOKEN_SECRET must be at least 32 characters, got %d", len(cfg.TokenSecret))
	}
	if cfg.EmailRetryBaseDelay <= 0 {
		return fmt.Errorf("EMAIL_RETRY_BASE_DELAY must be positive")
	}
	if cfg.MaxConnectionsPerUser < 1 {
		return fmt.Errorf("MAX_CONNECTIONS_PER_USER must be at least 1")
	}

	return nil
}
