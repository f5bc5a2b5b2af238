// Package bootstrap wires configuration, connections, and background services
// for the imagemill binary.
package bootstrap

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/imagemill/imagemill/config"
)

// InitLogger installs the process-wide JSON logger.
func InitLogger(isDev bool) *slog.Logger {
	level := slog.LevelInfo
	if isDev {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// LoadConfig loads configuration from the environment, with a best-effort
// .env file for development.
func LoadConfig() (*config.AppConfig, error) {
	_ = godotenv.Load()

	cfg := &config.AppConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Sanitize()

	if _, err := cfg.GetEnabledServices(); err != nil {
		return nil, fmt.Errorf("invalid SERVICES: %w", err)
	}
	return cfg, nil
}
