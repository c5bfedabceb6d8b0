// Package app provides the main application setup and dependency injection.
package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"iptv-relay/pkg/appctx"
	"iptv-relay/pkg/cache"
	"iptv-relay/pkg/config"
	"iptv-relay/pkg/handlers/api"
	"iptv-relay/pkg/handlers/streams"
	"iptv-relay/pkg/headers"
	"iptv-relay/pkg/httpclient"
	"iptv-relay/pkg/logging"
	"iptv-relay/pkg/metrics"
	"iptv-relay/pkg/playlist"
	"iptv-relay/pkg/registry"
	"iptv-relay/pkg/resolver"
	"iptv-relay/pkg/server"
	"iptv-relay/pkg/services"
)

// App is the main application container.
type App struct {
	Ctx        *appctx.Context
	Server     *server.Server
	HTTPClient *httpclient.Client
	Resolvers  *registry.ResolverRegistry
}

// New creates and initializes the application.
func New(cfg *config.Config) (*App, error) {
	// Initialize logger
	log := logging.New(cfg.LogLevel, cfg.LogJSON, nil)
	log.Info("initializing iptv-relay", "port", cfg.Port, "log_level", cfg.LogLevel)

	// Create application context
	ctx := appctx.New(cfg, log)
	m := metrics.New()
	ctx.WithMetrics(m)

	// Create HTTP client
	httpClient := httpclient.New(cfg, log)

	// Register resolvers
	resolvers := registry.NewResolverRegistry()
	registerResolvers(resolvers, cfg, httpClient, log)
	ctx.WithResolvers(resolvers)

	// Playlist and relay handlers
	rewriter := playlist.Rewriter{
		SegmentPath: cfg.BaseURL + "/proxy/ts",
		KeyPath:     cfg.BaseURL + "/proxy/key",
	}
	hls := streams.NewHLSHandler(httpClient, log, rewriter, budget(cfg.Budgets.Playlist))
	relay := streams.NewRelayHandler(httpClient, log, budget(cfg.Budgets.Segment), budget(cfg.Budgets.Key))

	// Create proxy service
	proxyService := services.NewProxyService(log, services.Options{
		Resolvers: resolvers,
		HLS:       hls,
		Relay:     relay,
		Channels:  cache.NewChannelResolver(cache.NewSessionLRU(cfg.CacheSize, cfg.CacheTTL), log),
		Defaults: headers.Defaults{
			UserAgent: cfg.UserAgent,
			Referer:   cfg.Referer,
			Origin:    cfg.Origin,
		},
		List:    cfg.Channels,
		Metrics: m,
	})
	ctx.WithProxyService(proxyService)

	// Create HTTP server
	srv := server.New(cfg, log)

	// Create API handlers
	handlers := api.NewHandlers(ctx)
	handlers.RegisterRoutes(srv.Router())

	return &App{
		Ctx:        ctx,
		Server:     srv,
		HTTPClient: httpClient,
		Resolvers:  resolvers,
	}, nil
}

// Run serves until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.Ctx.Log.Info("starting iptv-relay server", "port", a.Ctx.Config.Port, "channels", len(a.Ctx.Config.Channels))
	return a.Server.Run(ctx)
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown() {
	a.Ctx.Log.Info("shutting down application")
	a.Resolvers.Close()
}

// registerResolvers registers all source resolvers.
// Add new resolvers here by:
// 1. Creating a new resolver in pkg/resolver/
// 2. Registering it below
func registerResolvers(
	reg *registry.ResolverRegistry,
	cfg *config.Config,
	client *httpclient.Client,
	log *logging.Logger,
) {
	// Register token-gated host resolver
	tokenGate := resolver.NewTokenGate(client, resolver.TokenGateOptions{
		Hosts:        cfg.GatedHosts,
		PageBudget:   budget(cfg.Budgets.Page),
		LookupBudget: budget(cfg.Budgets.Lookup),
		Rate:         cfg.ResolveRate,
		Burst:        cfg.ResolveBurst,
	}, log)
	reg.Register(tokenGate)

	// Plain playlist URLs pass through
	reg.SetFallback(resolver.NewPassthrough(log))

	log.Info("registered resolvers", "count", len(reg.All())+1) // +1 for fallback
}

func budget(b config.FetchBudget) httpclient.Budget {
	return httpclient.Budget{Connect: b.Connect, Read: b.Read}
}
