package resolver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"iptv-relay/pkg/headers"
	"iptv-relay/pkg/httpclient"
	"iptv-relay/pkg/interfaces"
	"iptv-relay/pkg/logging"
	"iptv-relay/pkg/playlist"
	"iptv-relay/pkg/types"
	"iptv-relay/pkg/urlutil"

	"golang.org/x/time/rate"
)

// SessionProvider hands out HTTP clients with a fresh cookie jar.
type SessionProvider interface {
	Session() *http.Client
}

// TokenGateOptions configures a TokenGate resolver.
type TokenGateOptions struct {
	// Hosts are URL fragments identifying gated pages, e.g. "dlhd.".
	Hosts        []string
	PageBudget   httpclient.Budget
	LookupBudget httpclient.Budget
	// Rate limits handshakes per second; zero disables the limit.
	Rate  float64
	Burst int
}

// TokenGate resolves pages of hosts that hide the playlist location behind
// player script: page, iframe, optional auth call, server lookup, then the
// final URL is assembled from the scraped pieces.
type TokenGate struct {
	sessions SessionProvider
	hosts    hostMatcher
	opts     TokenGateOptions
	limiter  *rate.Limiter
	log      *logging.Logger
}

// NewTokenGate creates a new token-gated host resolver.
func NewTokenGate(sessions SessionProvider, opts TokenGateOptions, log *logging.Logger) *TokenGate {
	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}

	return &TokenGate{
		sessions: sessions,
		hosts:    newHostMatcher(opts.Hosts),
		opts:     opts,
		limiter:  rate.NewLimiter(limit, burst),
		log:      log.WithComponent("tokengate-resolver"),
	}
}

// Name returns the resolver name.
func (g *TokenGate) Name() string {
	return "tokengate"
}

// CanResolve returns true if the URL belongs to a gated host.
func (g *TokenGate) CanResolve(url string) bool {
	return g.hosts.match(url)
}

// Resolve runs the handshake. Every step uses the caller's headers and one
// cookie session; there are no retries.
func (g *TokenGate) Resolve(ctx context.Context, pageURL string, h headers.HeaderSet) (*types.ResolvedSession, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, stepError(g.Name(), StepPage, fmt.Errorf("rate limit: %w", err))
	}

	start := time.Now()
	log := g.log.WithURL(pageURL)
	session := g.sessions.Session()

	// Step 1: the page itself. Some pages already are the playlist.
	page, err := httpclient.Fetch(ctx, session, pageURL, h, g.opts.PageBudget)
	if err != nil {
		return nil, stepError(g.Name(), StepPage, err)
	}
	pageBody := string(page.Body)
	if playlist.IsPlaylist(pageBody) {
		log.Debug("page is already a playlist")
		return &types.ResolvedSession{URL: page.URL, Headers: h, Body: page.Body}, nil
	}

	// Step 2: the player iframe.
	src, ok := FindIframe(pageBody)
	if !ok {
		return nil, stepError(g.Name(), StepIframe, fmt.Errorf("no iframe in page: %w", types.ErrUnresolvableSource))
	}
	iframeURL := urlutil.ResolveURL(src, page.URL)

	// Step 3: scrape the session parameters, then authenticate.
	iframe, err := httpclient.Fetch(ctx, session, iframeURL, h, g.opts.PageBudget)
	if err != nil {
		return nil, stepError(g.Name(), StepIframe, err)
	}
	iframeBody := string(iframe.Body)
	params, err := ExtractParams(iframeBody)
	if err != nil {
		return nil, stepError(g.Name(), StepIframe, err)
	}
	if params.HostTemplate == "" {
		return nil, stepError(g.Name(), StepIframe, fmt.Errorf("no host template in iframe: %w", types.ErrUnresolvableSource))
	}
	log.Debug("extracted session parameters", "channel_key", params.ChannelKey, "has_auth", params.AuthHost != "")

	if authURL := params.AuthURL(); authURL != "" {
		if _, err := httpclient.Fetch(ctx, session, authURL, h, g.opts.LookupBudget); err != nil {
			return nil, stepError(g.Name(), StepAuth, err)
		}
	}

	// Step 4: ask which edge server carries the channel.
	lookupURL, err := LookupURL(iframe.URL, params)
	if err != nil {
		return nil, stepError(g.Name(), StepLookup, err)
	}
	lookup, err := httpclient.Fetch(ctx, session, lookupURL, h, g.opts.LookupBudget)
	if err != nil {
		return nil, stepError(g.Name(), StepLookup, err)
	}
	serverKey, err := ParseServerKey(lookup.Body)
	if err != nil {
		return nil, stepError(g.Name(), StepLookup, err)
	}

	// Step 5: assemble the playlist URL.
	finalURL := BuildPlaylistURL(serverKey, params.HostTemplate, params.ChannelKey)

	log.WithDuration(time.Since(start)).Info("resolved gated page", "server_key", serverKey)
	return &types.ResolvedSession{URL: finalURL, Headers: h}, nil
}

// Close releases resources.
func (g *TokenGate) Close() error {
	return nil
}

var _ interfaces.Resolver = (*TokenGate)(nil)
