package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/sessionkit/pkg/clientdetect"
	"github.com/dmitrymomot/sessionkit/pkg/clientdetect/osdetect"
	"github.com/dmitrymomot/sessionkit/pkg/config"
	"github.com/dmitrymomot/sessionkit/pkg/httpserver"
	"github.com/dmitrymomot/sessionkit/pkg/logger"
	"github.com/dmitrymomot/sessionkit/pkg/mongo"
	"github.com/dmitrymomot/sessionkit/pkg/opensearch"
	"github.com/dmitrymomot/sessionkit/pkg/pg"
	"github.com/dmitrymomot/sessionkit/pkg/ratelimiter"
	"github.com/dmitrymomot/sessionkit/pkg/redis"
	"github.com/dmitrymomot/sessionkit/pkg/session"
	"github.com/dmitrymomot/sessionkit/pkg/session/mongostore"
	"github.com/dmitrymomot/sessionkit/pkg/session/pgstore"
	"github.com/dmitrymomot/sessionkit/pkg/session/redisstore"
)

// backend collects what a storage or search choice contributes to the app.
type backend struct {
	checks  map[string]httpserver.Check
	closers []func(context.Context) error
	tasks   []httpserver.Option

	// limiterStore is shared with the session store when it is redis
	limiterStore ratelimiter.Store
}

func newBackend() *backend {
	return &backend{checks: map[string]httpserver.Check{}}
}

func (b *backend) close(ctx context.Context, log *slog.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](ctx); err != nil {
			log.ErrorContext(ctx, "Failed to close backend", logger.Error(err))
		}
	}
}

func (b *backend) openStore(ctx context.Context, kind string, log *slog.Logger) (session.Store, error) {
	switch kind {
	case "", "memory":
		return session.NewMemoryStore(), nil

	case "postgres":
		var cfg pg.Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		pool, err := pg.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func(context.Context) error { pool.Close(); return nil })
		if err := pgstore.Migrate(ctx, pool, cfg, log); err != nil {
			return nil, err
		}
		b.checks["postgres"] = pg.Healthcheck(pool)
		return pgstore.New(pool), nil

	case "redis":
		var cfg redis.Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		client, err := redis.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func(context.Context) error { return client.Close() })
		b.checks["redis"] = redis.Healthcheck(client)
		b.limiterStore = ratelimiter.NewRedisStore(client, cfg.KeyPrefix+":ratelimit")
		return redisstore.New(client, redisstore.WithPrefix(cfg.KeyPrefix)), nil

	case "mongo":
		var cfg mongo.Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		db, err := mongo.NewWithDatabase(ctx, cfg)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, db.Client().Disconnect)
		b.checks["mongo"] = mongo.Healthcheck(db.Client())
		store := mongostore.New(db, mongostore.DefaultCollection)
		if err := store.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown SESSION_STORE %q", kind)
}

// detectorSetup is the result of openDetector.
type detectorSetup struct {
	detector session.ClientDetector
	forget   func(ctx context.Context, id string) error
}

func (b *backend) openDetector(ctx context.Context, app appConfig, store session.Store, creds session.TokenReader, log *slog.Logger) (detectorSetup, error) {
	log = log.With(logger.Component("detector"))
	common := []clientdetect.Option{
		clientdetect.WithCredentials(creds),
		clientdetect.WithLogger(log),
	}

	switch app.Detector {
	case "", "none":
		return detectorSetup{detector: session.NoopDetector{}}, nil

	case "exact":
		return detectorSetup{detector: clientdetect.NewExact(store, common...)}, nil

	case "scored":
		return detectorSetup{detector: clientdetect.NewScored(store, nil, common...)}, nil

	case "opensearch":
		var cfg opensearch.Config
		if err := config.Load(&cfg); err != nil {
			return detectorSetup{}, err
		}
		var dcfg osdetect.Config
		if err := config.Load(&dcfg); err != nil {
			return detectorSetup{}, err
		}
		client, err := opensearch.New(ctx, cfg)
		if err != nil {
			return detectorSetup{}, err
		}
		det := osdetect.New(client, dcfg,
			osdetect.WithCredentials(creds),
			osdetect.WithLogger(log),
		)
		if err := det.Setup(ctx); err != nil {
			return detectorSetup{}, err
		}
		b.checks["opensearch"] = opensearch.Healthcheck(client)
		b.tasks = append(b.tasks, httpserver.WithBackground("client-index-prune", every(app.PruneInterval, func(ctx context.Context) {
			n, err := det.Prune(ctx)
			if err != nil {
				log.ErrorContext(ctx, "Failed to prune client index", logger.Error(err))
				return
			}
			log.DebugContext(ctx, "Pruned client index", logger.Count(n))
		})))
		return detectorSetup{detector: det, forget: det.Forget}, nil
	}
	return detectorSetup{}, fmt.Errorf("unknown SESSION_DETECTOR %q", app.Detector)
}

// every runs fn on a ticker until the context ends. A non-positive interval disables it.
func every(interval time.Duration, fn func(context.Context)) func(context.Context) error {
	return func(ctx context.Context) error {
		if interval <= 0 {
			<-ctx.Done()
			return ctx.Err()
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				fn(ctx)
			}
		}
	}
}

// openLimiter returns nil when creation throttling is disabled.
func (b *backend) openLimiter(app appConfig) (session.CreationLimiter, error) {
	if !app.CreateLimit {
		return nil, nil
	}

	var cfg ratelimiter.Config
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}

	store := b.limiterStore
	if store == nil {
		mem := ratelimiter.NewMemoryStore()
		b.tasks = append(b.tasks, httpserver.WithBackground("limiter-prune", every(cfg.RefillInterval*10, func(context.Context) {
			mem.Prune()
		})))
		store = mem
	}

	bucket, err := ratelimiter.NewBucket(store, cfg)
	if err != nil {
		return nil, err
	}
	return bucket, nil
}
