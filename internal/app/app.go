// Package app wires configuration, services, and the HTTP router into a
// runnable application.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"flexreport/internal/api"
	"flexreport/internal/cache"
	"flexreport/internal/config"
	"flexreport/internal/engine"
	"flexreport/internal/export"
	"flexreport/internal/fetch"
	"flexreport/internal/filter"
	"flexreport/internal/loader"
	"flexreport/internal/progress"
)

// App is the fully-wired application.
type App struct {
	Cfg         *config.Config
	Registry    *config.Registry
	Loader      *loader.Loader
	Filters     *filter.Service
	Exports     *export.Service
	Cache       *cache.Cache
	Broadcaster *progress.Broadcaster
	Handler     http.Handler
	scheduler   *scheduler
	logger      *slog.Logger
}

// New builds the application from config. It loads the source registry,
// constructs every service, and mounts the router.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	registry, err := config.LoadRegistry(cfg.SourcesFile)
	if err != nil {
		return nil, fmt.Errorf("load source registry: %w", err)
	}
	logger.Info("source registry loaded", "file", cfg.SourcesFile, "sources", len(registry.All()))

	fetchers, err := fetch.NewDispatcher(cfg)
	if err != nil {
		return nil, fmt.Errorf("configure fetchers: %w", err)
	}

	store := cache.New(cfg.CacheDir, cfg.CacheMaxAge(), logger)
	broadcaster := progress.NewBroadcaster()
	prefs := loader.NewPrefStore(cfg.StateDir)

	ld := loader.New(cfg, registry, fetchers, store, broadcaster, prefs, logger, func() engine.Engine {
		return engine.New(logger)
	})

	filters := filter.NewService(filter.NewListStore(), logger)
	exports := export.NewService(ld, filters, export.NewCanceller(), logger)

	handler := api.NewHandler(ld, filters, exports, store, registry, broadcaster, prefs, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Mount("/", handler.Routes())

	a := &App{
		Cfg:         cfg,
		Registry:    registry,
		Loader:      ld,
		Filters:     filters,
		Exports:     exports,
		Cache:       store,
		Broadcaster: broadcaster,
		Handler:     r,
		logger:      logger.With("component", "app"),
	}
	a.scheduler = newScheduler(ld, registry, logger)
	return a, nil
}

// Start begins background work (scheduled refreshes). Safe to call once.
func (a *App) Start(ctx context.Context) {
	a.scheduler.start(ctx)
}

// Close releases resources in reverse dependency order.
func (a *App) Close() error {
	a.scheduler.stop()
	var firstErr error
	if err := a.Loader.Close(); err != nil {
		firstErr = err
	}
	if err := a.Cache.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
