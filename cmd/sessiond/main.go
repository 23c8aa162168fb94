// Command sessiond serves the session resolution middleware over HTTP with a
// pluggable store (memory, postgres, redis, mongo) and fingerprint detector
// (none, exact, scored, opensearch).
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/dmitrymomot/sessionkit/pkg/clientip"
	"github.com/dmitrymomot/sessionkit/pkg/config"
	"github.com/dmitrymomot/sessionkit/pkg/httpserver"
	"github.com/dmitrymomot/sessionkit/pkg/logger"
	"github.com/dmitrymomot/sessionkit/pkg/requestid"
	"github.com/dmitrymomot/sessionkit/pkg/session"
)

type appConfig struct {
	Env           string        `env:"APP_ENV" envDefault:"development"`
	Name          string        `env:"APP_NAME" envDefault:"sessiond"`
	Store         string        `env:"SESSION_STORE" envDefault:"memory"`
	Detector      string        `env:"SESSION_DETECTOR" envDefault:"none"`
	ConfigFile    string        `env:"SESSION_CONFIG_FILE"`
	PruneInterval time.Duration `env:"SESSION_INDEX_PRUNE_INTERVAL" envDefault:"1h"`
	CreateLimit   bool          `env:"SESSION_CREATE_LIMIT" envDefault:"false"`
	CacheSize     int           `env:"SESSION_CACHE_SIZE" envDefault:"0"`
	CacheTTL      time.Duration `env:"SESSION_CACHE_TTL" envDefault:"5s"`
}

func main() {
	var app appConfig
	config.MustLoad(&app)
	var logCfg logger.Config
	config.MustLoad(&logCfg)

	log := logger.New(
		logger.WithEnvironment(app.Env, app.Name),
		logger.WithConfig(logCfg),
		logger.WithContextExtractors(
			requestid.LoggerExtractor(),
			session.LoggerExtractor(),
			clientip.LoggerExtractor(),
		),
	)
	slog.SetDefault(log)

	if err := run(context.Background(), app, log); err != nil {
		log.Error("Server stopped with error", logger.Error(err))
		os.Exit(1)
	}
}

func loadSessionConfig(app appConfig) (session.Config, error) {
	if app.ConfigFile != "" {
		return session.LoadConfigFile(app.ConfigFile)
	}
	var cfg session.Config
	if err := config.Load(&cfg); err != nil {
		return session.Config{}, err
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, app appConfig, log *slog.Logger) error {
	sessCfg, err := loadSessionConfig(app)
	if err != nil {
		return err
	}
	var srvCfg httpserver.Config
	if err := config.Load(&srvCfg); err != nil {
		return err
	}

	b := newBackend()
	defer b.close(context.WithoutCancel(ctx), log)

	store, err := b.openStore(ctx, app.Store, log)
	if err != nil {
		return errors.Join(errors.New("open session store"), err)
	}
	if app.CacheSize > 0 && app.Store != "" && app.Store != "memory" {
		store = session.NewCachedStore(store, app.CacheSize, app.CacheTTL)
	}

	creds := session.DefaultCredentials(sessCfg)
	det, err := b.openDetector(ctx, app, store, creds, log)
	if err != nil {
		return errors.Join(errors.New("open client detector"), err)
	}

	svcOpts := []session.ServiceOption{
		session.WithServiceLogger(log.With(logger.Component("session"))),
	}
	if updater, ok := det.detector.(session.ClientUpdater); ok {
		svcOpts = append(svcOpts, session.WithClientUpdater(updater))
	}
	svc := session.NewService(store, sessCfg, svcOpts...)

	limiter, err := b.openLimiter(app)
	if err != nil {
		return errors.Join(errors.New("open creation limiter"), err)
	}

	mw := session.NewMiddleware(svc, sessCfg,
		session.WithTransport(creds),
		session.WithDetector(det.detector),
		session.WithLogger(log.With(logger.Component("session"))),
		session.WithCreationLimiter(limiter),
	)

	router := newRouter(routerDeps{
		svc:        svc,
		middleware: mw,
		checks:     b.checks,
		forget:     det.forget,
		log:        log,
	})

	sweeper := session.NewSweeper(svc, sessCfg.SweepInterval, log.With(logger.Component("sweeper")))
	opts := append([]httpserver.Option{
		httpserver.WithLogger(log),
		httpserver.WithBackground("session-sweeper", sweeper.Run),
	}, b.tasks...)

	log.Info("Starting sessiond",
		slog.String("store", app.Store),
		slog.String("detector", app.Detector),
		slog.Bool("fingerprint", sessCfg.UseFingerprint),
	)
	return httpserver.NewFromConfig(srvCfg, opts...).Run(ctx, router)
}
