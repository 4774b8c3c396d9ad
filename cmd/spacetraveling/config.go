package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/eringen/spacetraveling"
)

const (
	backendPrismic = "prismic"
	backendSQLite  = "sqlite"
)

// Config is everything the commands read from the environment or the
// optional YAML file.
type Config struct {
	Env     string `yaml:"env" env:"APP_ENV" env-default:"production"`
	Backend string `yaml:"backend" env:"CONTENT_BACKEND" env-default:"prismic"`

	Site    spacetraveling.SiteConfig `yaml:"site"`
	Prismic PrismicConfig             `yaml:"prismic"`
	Redis   RedisConfig               `yaml:"redis"`
	NATS    NATSConfig                `yaml:"nats"`

	OtelEndpoint    string        `yaml:"otel_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" env-default:"10s"`
}

type PrismicConfig struct {
	Endpoint     string `yaml:"endpoint" env:"PRISMIC_ENDPOINT"`
	AccessToken  string `yaml:"access_token" env:"PRISMIC_ACCESS_TOKEN"`
	DocumentType string `yaml:"document_type" env:"PRISMIC_DOCUMENT_TYPE" env-default:"post"`
	PageSize     int    `yaml:"page_size" env:"PRISMIC_PAGE_SIZE" env-default:"20"`
}

// RedisConfig enables the shared page cache when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr" env:"REDIS_ADDR"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"REDIS_DB"`
	TTL      time.Duration `yaml:"ttl" env:"REDIS_TTL" env-default:"10m"`
	Prefix   string        `yaml:"prefix" env:"REDIS_PREFIX" env-default:"spacetraveling:"`
}

// NATSConfig enables cross-instance revalidation when URL is set.
type NATSConfig struct {
	URL     string `yaml:"url" env:"NATS_URL"`
	Subject string `yaml:"subject" env:"NATS_SUBJECT" env-default:"spacetraveling.revalidate"`
}

// loadConfig reads path when given, then the environment.
func loadConfig(path string) (Config, error) {
	var cfg Config
	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg.Site = cfg.Site.Defaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Backend {
	case backendPrismic:
		if c.Prismic.Endpoint == "" {
			return errors.New("config: PRISMIC_ENDPOINT is required with the prismic backend")
		}
	case backendSQLite:
	default:
		return fmt.Errorf("config: unknown CONTENT_BACKEND %q (want prismic or sqlite)", c.Backend)
	}
	if c.Prismic.PageSize < 1 || c.Prismic.PageSize > 100 {
		return fmt.Errorf("config: PRISMIC_PAGE_SIZE must be between 1 and 100, got %d", c.Prismic.PageSize)
	}
	return nil
}
