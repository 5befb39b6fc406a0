package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port                  int     `env:"PORT" envDefault:"8080"`
	DatabaseURL           string  `env:"DATABASE_URL,required"`
	RedisURL              string  `env:"REDIS_URL,required"`
	AnalysisEngineURL     string  `env:"ANALYSIS_ENGINE_URL"`
	SessionTTLHours       int     `env:"SESSION_TTL_HOURS" envDefault:"24"`
	AnalysisTimeoutSecs   int     `env:"ANALYSIS_TIMEOUT_SECONDS" envDefault:"15"`
	DefaultLatitude       float64 `env:"DEFAULT_LATITUDE" envDefault:"37.5665"`
	DefaultLongitude      float64 `env:"DEFAULT_LONGITUDE" envDefault:"126.9780"`
	ExpiryJobIntervalMins int     `env:"EXPIRY_JOB_INTERVAL_MINUTES" envDefault:"5"`
	LogLevel              string  `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

func (c *Config) AnalysisTimeout() time.Duration {
	return time.Duration(c.AnalysisTimeoutSecs) * time.Second
}

func (c *Config) ExpiryJobInterval() time.Duration {
	return time.Duration(c.ExpiryJobIntervalMins) * time.Minute
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if c.SessionTTLHours <= 0 {
		return fmt.Errorf("SESSION_TTL_HOURS must be positive")
	}

	if isProduction {
		if c.AnalysisEngineURL == "" {
			log.Warn().Msg("ANALYSIS_ENGINE_URL is empty in production: compatibility analysis disabled")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
