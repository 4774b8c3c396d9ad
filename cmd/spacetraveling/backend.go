package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"

	"github.com/eringen/spacetraveling"
	"github.com/eringen/spacetraveling/content"
)

// backend is the content source chosen by the configuration together with
// the connections behind it.
type backend struct {
	source  content.Source
	store   *spacetraveling.Store
	opts    []spacetraveling.Option
	closers []func()
}

// openBackend connects the configured source. The prismic backend gains a
// Redis cache when REDIS_ADDR is set; NATS_URL adds revalidation fan-out.
func openBackend(ctx context.Context, cfg Config, log *slog.Logger) (*backend, error) {
	b := &backend{opts: []spacetraveling.Option{spacetraveling.WithLogger(log)}}

	switch cfg.Backend {
	case backendSQLite:
		store, err := spacetraveling.NewStore(cfg.Site.DatabasePath, cfg.Site.SnapshotPage)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		b.closers = append(b.closers, func() { _ = store.Close() })
		b.store = store
		b.source = store
		b.opts = append(b.opts, spacetraveling.WithStore(store))
		log.Info("serving the local snapshot", "path", cfg.Site.DatabasePath)

	case backendPrismic:
		prismic, err := newPrismic(cfg, false, log)
		if err != nil {
			return nil, err
		}
		b.source = prismic
		if cfg.Redis.Addr != "" {
			rdb, err := openRedis(ctx, cfg.Redis)
			if err != nil {
				b.Close()
				return nil, err
			}
			b.closers = append(b.closers, func() { _ = rdb.Close() })
			cached := content.NewCachedSource(prismic, rdb, cfg.Redis.TTL, cfg.Redis.Prefix, log)
			b.source = cached
			b.opts = append(b.opts, spacetraveling.WithInvalidator(cached.Invalidate))
			log.Info("connected to Redis", "addr", cfg.Redis.Addr)
		}
		b.opts = append(b.opts, spacetraveling.WithSource(b.source))
	}

	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name(serviceName))
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		b.closers = append(b.closers, nc.Close)
		b.opts = append(b.opts, spacetraveling.WithRevalidator(spacetraveling.NewRevalidator(nc, cfg.NATS.Subject, log)))
		log.Info("connected to NATS", "url", cfg.NATS.URL, "subject", cfg.NATS.Subject)
	}
	return b, nil
}

// Close releases connections in reverse order.
func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

func newPrismic(cfg Config, full bool, log *slog.Logger) (*content.Prismic, error) {
	pageSize := cfg.Prismic.PageSize
	if full {
		// One request per hundred documents while mirroring.
		pageSize = 100
	}
	return content.NewPrismic(content.PrismicConfig{
		Endpoint:      cfg.Prismic.Endpoint,
		AccessToken:   cfg.Prismic.AccessToken,
		DocumentType:  cfg.Prismic.DocumentType,
		PageSize:      pageSize,
		FullDocuments: full,
		Logger:        log,
	})
}

func openRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("instrument redis: %w", err)
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return rdb, nil
}
