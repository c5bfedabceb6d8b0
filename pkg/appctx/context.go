// Package appctx provides the application context that holds all runtime dependencies.
package appctx

import (
	"iptv-relay/pkg/config"
	"iptv-relay/pkg/logging"
	"iptv-relay/pkg/metrics"
	"iptv-relay/pkg/registry"
	"iptv-relay/pkg/services"
)

// Context holds all application runtime dependencies.
// Pass this single struct to components instead of individual parameters.
type Context struct {
	Config       *config.Config
	Log          *logging.Logger
	ProxyService *services.ProxyService
	Resolvers    *registry.ResolverRegistry
	Metrics      *metrics.Metrics
	// BaseURL is the public URL of the relay, without a trailing slash.
	// Empty means links are derived from each request's host.
	BaseURL string
}

// New creates a new application context.
func New(cfg *config.Config, log *logging.Logger) *Context {
	return &Context{
		Config:  cfg,
		Log:     log,
		BaseURL: cfg.BaseURL,
	}
}

// WithProxyService sets the proxy service.
func (c *Context) WithProxyService(ps *services.ProxyService) *Context {
	c.ProxyService = ps
	return c
}

// WithResolvers sets the resolver registry.
func (c *Context) WithResolvers(r *registry.ResolverRegistry) *Context {
	c.Resolvers = r
	return c
}

// WithMetrics sets the metrics collectors.
func (c *Context) WithMetrics(m *metrics.Metrics) *Context {
	c.Metrics = m
	return c
}
