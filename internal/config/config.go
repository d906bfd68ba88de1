package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

type Config struct {
	ClashRoyaleAPIKey  string        `env:"CLASH_ROYALE_API_KEY"`
	ClashRoyaleBaseURL string        `env:"CLASH_ROYALE_BASE_URL" envDefault:"https://api.clashroyale.com/v1"`
	StoreBackend       string        `env:"STORE_BACKEND" envDefault:"json"`
	DataFile           string        `env:"DATA_FILE" envDefault:"clash_royale_data.json"`
	DBPath             string        `env:"DB_PATH" envDefault:"clash_royale.db"`
	ServerPort         string        `env:"SERVER_PORT" envDefault:"8080"`
	LogLevel           string        `env:"LOG_LEVEL" envDefault:"info"`
	AutoRefreshEnabled bool          `env:"AUTO_REFRESH_ENABLED" envDefault:"true"`
	AutoRefreshEvery   time.Duration `env:"AUTO_REFRESH_INTERVAL" envDefault:"30m"`
	SchedulerTick      time.Duration `env:"SCHEDULER_TICK" envDefault:"1m"`
	FetchTimeout       time.Duration `env:"FETCH_TIMEOUT" envDefault:"10s"`
	FetchAttempts      int           `env:"FETCH_ATTEMPTS" envDefault:"3"`
	RefreshConcurrency int           `env:"REFRESH_CONCURRENCY" envDefault:"4"`

	// EnvFileLoaded reports whether a .env file was found.
	EnvFileLoaded bool
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := godotenv.Load(); err == nil {
		cfg.EnvFileLoaded = true
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	cfg.ClashRoyaleBaseURL = strings.TrimRight(cfg.ClashRoyaleBaseURL, "/")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case BackendJSON, BackendSQLite:
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendJSON, BackendSQLite, c.StoreBackend)
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	if c.AutoRefreshEvery <= 0 {
		return fmt.Errorf("AUTO_REFRESH_INTERVAL must be positive, got %s", c.AutoRefreshEvery)
	}
	if c.SchedulerTick <= 0 {
		return fmt.Errorf("SCHEDULER_TICK must be positive, got %s", c.SchedulerTick)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive, got %s", c.FetchTimeout)
	}
	if c.FetchAttempts < 1 {
		return fmt.Errorf("FETCH_ATTEMPTS must be at least 1, got %d", c.FetchAttempts)
	}
	if c.RefreshConcurrency < 1 {
		return fmt.Errorf("REFRESH_CONCURRENCY must be at least 1, got %d", c.RefreshConcurrency)
	}
	return nil
}

// LogSummary reports the effective configuration, without secrets.
func LogSummary(cfg *Config, logger zerolog.Logger) {
	if !cfg.EnvFileLoaded {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	logger.Info().
		Str("store_backend", cfg.StoreBackend).
		Str("data_file", cfg.DataFile).
		Str("db_path", cfg.DBPath).
		Str("server_port", cfg.ServerPort).
		Str("log_level", cfg.LogLevel).
		Bool("auto_refresh", cfg.AutoRefreshEnabled).
		Dur("auto_refresh_interval", cfg.AutoRefreshEvery).
		Dur("fetch_timeout", cfg.FetchTimeout).
		Int("fetch_attempts", cfg.FetchAttempts).
		Bool("server_api_key", cfg.ClashRoyaleAPIKey != "").
		Msg("configuration loaded")
}
