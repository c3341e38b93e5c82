package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	HTTPAddr string     `env:"HTTP_ADDR" envDefault:":8080"`
	DBPath   string     `env:"DB_PATH" envDefault:"data/geounlock.db"`
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`

	RedisURL    string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	RedisPrefix string `env:"REDIS_PREFIX" envDefault:"secretquiz"`

	// AMQPURL is optional; unlock events go only to SSE subscribers without it.
	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"secretquiz.events"`

	// Admin routes are disabled when AdminPasswordHash is empty.
	AdminUser         string `env:"ADMIN_USER" envDefault:"admin"`
	AdminPasswordHash string `env:"ADMIN_PASSWORD_HASH"`

	SeedCatalog bool `env:"SEED_CATALOG" envDefault:"true"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return &cfg, nil
}
