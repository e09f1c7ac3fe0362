// Package app wires every component (C1-C8) into a single running process:
// construct the Redis pool, each storage-backed service, the Sidecar
// Bridge, the Login Orchestrator, the Time Sharder, the Event Bus, the
// Crawl Engine, and finally the RPC server, then hand the result back to
// cmd/weiqr/main.go for lifecycle management.
//
// Grounded on the teacher's cmd/quaero/serve.go composition root: plain
// constructor calls in dependency order, no DI framework.
package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/weiqr/weiqr/internal/common"
	"github.com/weiqr/weiqr/internal/interfaces"
	"github.com/weiqr/weiqr/internal/models"
	redisstore "github.com/weiqr/weiqr/internal/storage/redis"

	"github.com/weiqr/weiqr/internal/server"
	"github.com/weiqr/weiqr/internal/services/credentials"
	"github.com/weiqr/weiqr/internal/services/crawler"
	"github.com/weiqr/weiqr/internal/services/events"
	"github.com/weiqr/weiqr/internal/services/login"
	"github.com/weiqr/weiqr/internal/services/posts"
	"github.com/weiqr/weiqr/internal/services/sharder"
	"github.com/weiqr/weiqr/internal/services/sidecarbridge"
	"github.com/weiqr/weiqr/internal/services/tasks"
	"github.com/weiqr/weiqr/internal/services/validator"
)

// App bundles every constructed component and the server that dispatches
// into them.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	Bridge       *sidecarbridge.Bridge
	Events       *events.Service
	Orchestrator *login.Orchestrator
	CrawlEngine  *crawler.Engine
	Server       *server.Server
}

// pageCounterAdapter narrows SidecarBridge to interfaces.PageCounter by
// probing page 1 of a range and reading its TotalPages, which is all the
// Time Sharder needs (spec.md §4.5).
type pageCounterAdapter struct {
	bridge interfaces.SidecarBridge
}

func (a *pageCounterAdapter) CountPages(ctx context.Context, cookies map[string]string, keyword string, r models.TimeRange) (int, error) {
	result, err := a.bridge.Search(ctx, cookies, keyword, r, 1)
	if err != nil {
		return 0, err
	}
	return result.TotalPages, nil
}

// New constructs every component in dependency order and returns the
// assembled App, not yet started.
func New(ctx context.Context, cfg *common.Config, logger arbor.ILogger) (*App, error) {
	pool, err := redisstore.NewPool(ctx, cfg.Redis, logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	eventBus := events.New(logger)

	bridge := sidecarbridge.New(cfg.Sidecar, eventBus, logger)

	credStore := credentials.New(pool, int64(cfg.Login.CredentialTTL.Seconds()), logger)
	taskStore := tasks.New(pool, logger)
	postStore := posts.New(pool, logger)

	credValidator := validator.New(bridge, cfg.Login.ValidationTimeout, logger)
	orchestrator := login.New(bridge, credValidator, credStore, eventBus, cfg.Login.DefaultQRExpiry, logger)

	timeSharder := sharder.New(&pageCounterAdapter{bridge: bridge}, logger)

	crawlEngine := crawler.New(taskStore, postStore, credStore, bridge, timeSharder, eventBus, cfg.Crawler, logger)

	rpcServer := server.New(cfg.Server, server.Deps{
		Orchestrator: orchestrator,
		CredStore:    credStore,
		Validator:    credValidator,
		CrawlEngine:  crawlEngine,
		TaskStore:    taskStore,
		PostStore:    postStore,
		Bridge:       bridge,
		Events:       eventBus,
	}, logger)

	return &App{
		Config:       cfg,
		Logger:       logger,
		Bridge:       bridge,
		Events:       eventBus,
		Orchestrator: orchestrator,
		CrawlEngine:  crawlEngine,
		Server:       rpcServer,
	}, nil
}

// Start launches the Sidecar Bridge subprocess and then the RPC server.
// Blocks until the RPC server stops.
func (a *App) Start(ctx context.Context) error {
	if err := a.Bridge.Start(ctx); err != nil {
		a.Logger.Error().Err(err).Msg("failed to start sidecar bridge, continuing without it")
	}
	return a.Server.Start()
}

// Shutdown stops the RPC server, the Event Bus, and the sidecar subprocess,
// in reverse order of startup.
func (a *App) Shutdown(ctx context.Context) error {
	if err := a.Server.Shutdown(ctx); err != nil {
		a.Logger.Error().Err(err).Msg("error shutting down RPC server")
	}
	if err := a.Events.Close(); err != nil {
		a.Logger.Error().Err(err).Msg("error closing event bus")
	}
	if err := a.Bridge.Stop(ctx); err != nil {
		a.Logger.Error().Err(err).Msg("error stopping sidecar bridge")
	}
	return nil
}
