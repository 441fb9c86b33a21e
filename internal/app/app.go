package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Leyaaaan1/saas-apify/internal/config"
	"github.com/Leyaaaan1/saas-apify/internal/domain"
	"github.com/Leyaaaan1/saas-apify/internal/infrastructure/feed"
	"github.com/Leyaaaan1/saas-apify/internal/infrastructure/gemini"
	"github.com/Leyaaaan1/saas-apify/internal/infrastructure/httpapi"
	"github.com/Leyaaaan1/saas-apify/internal/infrastructure/listing"
	"github.com/Leyaaaan1/saas-apify/internal/infrastructure/storage"
	"github.com/Leyaaaan1/saas-apify/internal/logging"
	"github.com/Leyaaaan1/saas-apify/internal/ratelimit"
	"github.com/Leyaaaan1/saas-apify/internal/source"
	"github.com/Leyaaaan1/saas-apify/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
// The quota limiter and analysis engine are built once and shared
// across runs: degradation state and the quota window are properties
// of the upstream relationship, not of a single run.
type Application struct {
	cfg        config.Config
	logger     *slog.Logger
	repository *storage.PostgresRepository
	pipeline   *usecase.Pipeline
	server     *httpapi.Server
}

// New builds a runnable application instance and verifies the store.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	repository, err := storage.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect store: %w", err)
	}
	if err := repository.EnsureSchema(ctx); err != nil {
		_ = repository.Close()
		return nil, fmt.Errorf("prepare store: %w", err)
	}

	quota := ratelimit.NewQuota(cfg.Gemini.CallsPerSecond, cfg.Gemini.WindowCalls, cfg.Gemini.Window.Std())
	engine := gemini.New(cfg.Gemini, quota, baseLogger.With("component", "gemini"))

	client := &http.Client{Timeout: cfg.Scrape.RequestTimeout.Std()}
	registry := source.NewRegistry()
	registry.Register(listing.New(client, cfg.Scrape.UserAgent))
	registry.Register(feed.New(client, cfg.Scrape.UserAgent))

	posts := source.NewService(registry, cfg.Sources, cfg.Scrape, baseLogger.With("component", "source"))

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Source:                posts,
		Repository:            repository,
		Analyzer:              engine,
		Limiter:               ratelimit.New(cfg.Pipeline.AnalyzeCallsPerSecond),
		StoreDelay:            cfg.Pipeline.StoreDelay.Std(),
		DefaultPerSourceLimit: cfg.Scrape.PostsPerSource,
		Logger:                baseLogger.With("component", "pipeline"),
	})

	server := httpapi.New(cfg.Server.Addr, pipeline, repository, engine, quota,
		baseLogger.With("component", "http"))

	return &Application{
		cfg:        cfg,
		logger:     baseLogger,
		repository: repository,
		pipeline:   pipeline,
		server:     server,
	}, nil
}

// Serve runs the HTTP front door until the context is cancelled.
func (a *Application) Serve(ctx context.Context) error {
	return a.server.Run(ctx)
}

// Scrape performs a one-shot scrape-and-analyze run.
func (a *Application) Scrape(ctx context.Context, sources []string, perSourceLimit int) domain.RunResult {
	if perSourceLimit <= 0 {
		perSourceLimit = a.cfg.Scrape.PostsPerSource
	}
	return a.pipeline.RunScrapeAndAnalyze(ctx, sources, perSourceLimit)
}

// AnalyzePending performs a one-shot analyze-only run.
func (a *Application) AnalyzePending(ctx context.Context) domain.RunResult {
	return a.pipeline.RunAnalyzeOnly(ctx)
}

// Close releases held resources.
func (a *Application) Close() error {
	if a.repository == nil {
		return nil
	}
	return a.repository.Close()
}
