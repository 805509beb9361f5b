// Package app wires the library components shared by the server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/animetrack/internal/platform/db"
	"github.com/example/animetrack/internal/platform/events"
	"github.com/example/animetrack/internal/platform/migrate"
	"github.com/example/animetrack/internal/platform/natsconn"
	"github.com/example/animetrack/internal/platform/redisconn"
	"github.com/example/animetrack/services/library/internal/anilist"
	"github.com/example/animetrack/services/library/internal/config"
	"github.com/example/animetrack/services/library/internal/importer"
	"github.com/example/animetrack/services/library/internal/metrics"
	"github.com/example/animetrack/services/library/internal/progress"
	"github.com/example/animetrack/services/library/internal/ratelimit"
	"github.com/example/animetrack/services/library/internal/reconcile"
	"github.com/example/animetrack/services/library/internal/resolver"
	"github.com/example/animetrack/services/library/internal/roster"
	"github.com/example/animetrack/services/library/internal/store"
)

// ErrMemoryInProduction is returned when a production process would fall
// back to an in-memory store.
var ErrMemoryInProduction = errors.New("in-memory fallback refused in production")

type Options struct {
	Config     config.Config
	Production bool
	// Name is the NATS connection name.
	Name string
	Log  *zap.Logger
}

// App holds the wired components. Optional infrastructure is nil when not configured.
type App struct {
	Store     store.Store
	Catalog   *anilist.Client
	Importer  *importer.Importer
	Reconcile *reconcile.Service
	Progress  progress.Reader
	Metrics   *metrics.Metrics
	Registry  *prometheus.Registry
	Events    *events.Publisher

	Pool  *pgxpool.Pool
	Redis *redis.Client
	NATS  *nats.Conn
	JS    nats.JetStreamContext

	log *zap.Logger
}

// Build connects the configured infrastructure and wires the pipeline. On
// error everything opened so far is closed.
func Build(ctx context.Context, opts Options) (_ *App, err error) {
	cfg := opts.Config
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := a.openStore(ctx, cfg, opts.Production); err != nil {
		return nil, err
	}

	var sinks []progress.Sink
	if cfg.RedisURL != "" {
		rc, err := redisconn.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.Redis = rc
		rs := progress.NewRedisStore(rc, cfg.ProgressTTL)
		a.Progress = rs
		sinks = append(sinks, rs)
	} else {
		if opts.Production {
			return nil, fmt.Errorf("REDIS_URL: %w", ErrMemoryInProduction)
		}
		log.Warn("REDIS_URL not set, keeping import progress in memory")
		ms := progress.NewMemoryStore()
		a.Progress = ms
		sinks = append(sinks, ms)
	}

	if cfg.NATSURL != "" {
		nc, err := natsconn.Connect(natsconn.Options{URL: cfg.NATSURL, Name: opts.Name, Logger: log})
		if err != nil {
			return nil, err
		}
		a.NATS = nc
		js, err := natsconn.JetStream(nc)
		if err != nil {
			return nil, err
		}
		a.JS = js
		a.Events = events.New(js, log)
		sinks = append(sinks, progress.NewPublisher(nc))
	} else {
		log.Warn("NATS_URL not set, async imports and events disabled")
	}

	a.Registry = prometheus.NewRegistry()
	a.Metrics = metrics.New(a.Registry)

	a.Catalog = anilist.New(anilist.Options{
		URL:     cfg.AniListURL,
		Limiter: ratelimit.NewRPM(cfg.CatalogRPM),
		Timeout: cfg.CatalogTimeout,
	})
	res := resolver.New(a.Store, log)
	ros := roster.New(roster.Options{
		Resolver: res,
		Store:    a.Store,
		Catalog:  a.Catalog,
		Limiter:  ratelimit.NewInterval(cfg.RosterFetchDelay),
		Sink:     progress.NewFanout(log, sinks...),
		Metrics:  a.Metrics,
		Log:      log,
	})
	a.Importer = importer.New(importer.Options{
		Resolver: res,
		Store:    a.Store,
		Catalog:  a.Catalog,
		Roster:   ros,
		Metrics:  a.Metrics,
		Events:   a.Events,
		Log:      log,
	})
	a.Reconcile = reconcile.NewService(a.Store, a.Catalog, log)
	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg config.Config, production bool) error {
	if cfg.DatabaseURL == "" {
		if production {
			return fmt.Errorf("DATABASE_URL: %w", ErrMemoryInProduction)
		}
		a.log.Warn("DATABASE_URL not set, using in-memory store")
		a.Store = store.NewMemoryStore()
		return nil
	}
	if err := migrate.Up(cfg.DatabaseURL, store.Migrations, store.MigrationsDir, a.log); err != nil {
		return err
	}
	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	a.Pool = pool
	a.Store = store.NewPostgresStore(pool)
	return nil
}

// Ready reports whether the backing stores answer.
func (a *App) Ready(ctx context.Context) error {
	if a.Pool != nil {
		if err := db.Ping(ctx, a.Pool); err != nil {
			return err
		}
	}
	if a.Redis != nil {
		if err := redisconn.Ping(ctx, a.Redis); err != nil {
			return err
		}
	}
	if a.NATS != nil && !a.NATS.IsConnected() {
		return errors.New("nats: not connected")
	}
	return nil
}

// Close releases every connection. It is safe on a partially built App.
func (a *App) Close() {
	if a.NATS != nil {
		if err := a.NATS.Drain(); err != nil {
			a.log.Warn("nats drain", zap.Error(err))
		}
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
