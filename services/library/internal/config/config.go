package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL"`
	AniListURL  string `env:"ANILIST_URL" envDefault:"https://graphql.anilist.co"`
	NATSURL     string `env:"NATS_URL"`
	RedisURL    string `env:"REDIS_URL"`
	GRPCAddr    string `env:"GRPC_ADDR" envDefault:":9090"`
	JWTSecret   string `env:"JWT_SECRET"`

	// RosterFetchDelay is the minimum gap between per-character catalog fetches.
	RosterFetchDelay time.Duration `env:"ROSTER_FETCH_DELAY" envDefault:"700ms"`
	// CatalogRPM caps every catalog request made by this process.
	CatalogRPM      int           `env:"CATALOG_RPM" envDefault:"85"`
	CatalogTimeout  time.Duration `env:"CATALOG_TIMEOUT" envDefault:"15s"`
	DriftSchedule   string        `env:"DRIFT_SCHEDULE" envDefault:"@every 6h"`
	ProgressTTL     time.Duration `env:"PROGRESS_TTL" envDefault:"1h"`
	WorkerBatchSize int           `env:"WORKER_BATCH_SIZE" envDefault:"4"`
}

func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse library config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.RosterFetchDelay < 0 {
		return errors.New("ROSTER_FETCH_DELAY must not be negative")
	}
	if c.CatalogRPM <= 0 {
		return errors.New("CATALOG_RPM must be positive")
	}
	if c.WorkerBatchSize <= 0 {
		return errors.New("WORKER_BATCH_SIZE must be positive")
	}
	return nil
}

// RequireSecret fails when mutating routes would otherwise run unauthenticated.
func (c Config) RequireSecret(production bool) error {
	if production && c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required in production")
	}
	return nil
}
