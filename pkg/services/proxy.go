// Package services ties resolvers, the playlist handler and the relay
// together behind the operations the HTTP layer exposes.
package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"iptv-relay/pkg/cache"
	"iptv-relay/pkg/config"
	"iptv-relay/pkg/handlers/streams"
	"iptv-relay/pkg/headers"
	"iptv-relay/pkg/logging"
	"iptv-relay/pkg/metrics"
	"iptv-relay/pkg/playlist"
	"iptv-relay/pkg/registry"
	"iptv-relay/pkg/resolver"
	"iptv-relay/pkg/types"
)

// ProxyService handles playlist, channel and relay requests.
type ProxyService struct {
	log       *logging.Logger
	resolvers *registry.ResolverRegistry
	hls       *streams.HLSHandler
	relay     *streams.RelayHandler
	channels  *cache.ChannelResolver
	defaults  headers.Defaults
	list      []config.Channel
	metrics   *metrics.Metrics
}

// Options are the collaborators of a ProxyService. Channels and Metrics may
// be nil.
type Options struct {
	Resolvers *registry.ResolverRegistry
	HLS       *streams.HLSHandler
	Relay     *streams.RelayHandler
	Channels  *cache.ChannelResolver
	Defaults  headers.Defaults
	List      []config.Channel
	Metrics   *metrics.Metrics
}

// NewProxyService creates a new proxy service.
func NewProxyService(log *logging.Logger, opts Options) *ProxyService {
	return &ProxyService{
		log:       log.WithComponent("proxy-service"),
		resolvers: opts.Resolvers,
		hls:       opts.HLS,
		relay:     opts.Relay,
		channels:  opts.Channels,
		defaults:  opts.Defaults,
		list:      opts.List,
		metrics:   opts.Metrics,
	}
}

// HandlePlaylist resolves the requested URL and returns the client playlist.
func (s *ProxyService) HandlePlaylist(ctx context.Context, req *types.PlaylistRequest) (*types.PlaylistResponse, error) {
	target := decodeURL(req.URL)
	if target == "" {
		return nil, s.missingURL(string(types.ResourceKindPlaylist))
	}

	h := headers.ApplyDefaults(req.Headers, s.defaults, target)
	res := s.resolvers.Get(target)
	if res == nil {
		return nil, fmt.Errorf("no resolver for %s: %w", logging.RedactURL(target), types.ErrUnresolvableSource)
	}

	start := time.Now()
	session, err := res.Resolve(ctx, target, h)
	s.observeResolution(res.Name(), err, time.Since(start))
	if err != nil {
		s.logFailure(ctx, target, "resolution failed", err)
		return nil, err
	}

	return s.manifest(ctx, session)
}

// HandleChannel serves a configured channel. Its resolved session is cached,
// so most requests skip the handshake.
func (s *ProxyService) HandleChannel(ctx context.Context, name string, h headers.HeaderSet) (*types.PlaylistResponse, error) {
	ch, ok := s.channel(name)
	if !ok {
		s.metrics.ObserveError(string(types.ResourceKindPlaylist), kindLabel(types.ErrChannelNotFound))
		return nil, fmt.Errorf("%q: %w", name, types.ErrChannelNotFound)
	}

	h = headers.ApplyDefaults(h, s.defaults, ch.URL)
	res := s.resolvers.Get(ch.URL)
	if res == nil {
		return nil, fmt.Errorf("no resolver for channel %q: %w", name, types.ErrUnresolvableSource)
	}

	var (
		session *types.ResolvedSession
		hit     bool
		err     error
	)
	start := time.Now()
	if s.channels != nil {
		session, hit, err = s.channels.Resolve(ctx, name, ch.URL, h, res)
		s.metrics.ObserveCache(hit)
	} else {
		session, err = res.Resolve(ctx, ch.URL, h)
	}
	if !hit {
		s.observeResolution(res.Name(), err, time.Since(start))
	}
	if err != nil {
		s.logFailure(ctx, ch.URL, "channel resolution failed", err, "channel", name)
		return nil, err
	}

	resp, err := s.manifest(ctx, session)
	if err != nil && hit {
		// The cached playlist URL may have expired upstream.
		s.channels.Invalidate(name, h)
	}
	return resp, err
}

// HandleRelay streams a segment or key to w. It returns the bytes written;
// an error with bytes written means the response is already committed.
func (s *ProxyService) HandleRelay(ctx context.Context, w http.ResponseWriter, req *types.RelayRequest) (int64, error) {
	target := decodeURL(req.URL)
	if target == "" {
		return 0, s.missingURL(string(req.Kind))
	}
	req.URL = target

	n, err := s.relay.Relay(ctx, w, req)
	s.metrics.AddRelayBytes(string(req.Kind), n)
	if err != nil && ctx.Err() == nil {
		s.metrics.ObserveError(string(req.Kind), kindLabel(err))
		s.logFailure(ctx, target, "relay failed", err, "kind", req.Kind, "written", n)
	}
	return n, err
}

// HandleList rewrites a plain channel list so each entry plays through
// playlistEndpoint.
func (s *ProxyService) HandleList(ctx context.Context, listURL string, h headers.HeaderSet, playlistEndpoint string) (*types.PlaylistResponse, error) {
	target := decodeURL(listURL)
	if target == "" {
		return nil, s.missingURL("list")
	}

	resp, err := s.hls.HandleList(ctx, target, headers.ApplyDefaults(h, s.defaults, target), playlistEndpoint)
	if err != nil {
		s.metrics.ObserveError("list", kindLabel(err))
		s.logFailure(ctx, target, "list fetch failed", err)
		return nil, err
	}
	s.metrics.ObservePlaylist("list")
	return resp, nil
}

// ChannelPlaylist renders the configured channels as an M3U list whose
// entries point at channelEndpoint.
func (s *ProxyService) ChannelPlaylist(channelEndpoint string) string {
	channels := make([]playlist.Channel, len(s.list))
	for i, ch := range s.list {
		channels[i] = playlist.Channel{Name: ch.Name, URL: ch.URL, Group: ch.Group}
	}
	return playlist.ChannelList(channels, channelEndpoint)
}

// ChannelCount returns the number of configured channels.
func (s *ProxyService) ChannelCount() int {
	return len(s.list)
}

func (s *ProxyService) manifest(ctx context.Context, session *types.ResolvedSession) (*types.PlaylistResponse, error) {
	resp, err := s.hls.HandleManifest(ctx, session)
	if err != nil {
		s.metrics.ObserveError(string(types.ResourceKindPlaylist), kindLabel(err))
		s.logFailure(ctx, session.URL, "playlist fetch failed", err)
		return nil, err
	}

	if resp.Rewritten {
		s.metrics.ObservePlaylist("media")
	} else {
		s.metrics.ObservePlaylist("simple")
	}
	return resp, nil
}

func (s *ProxyService) channel(name string) (config.Channel, bool) {
	for _, ch := range s.list {
		if ch.Name == name {
			return ch, true
		}
	}
	return config.Channel{}, false
}

func (s *ProxyService) observeResolution(name string, err error, d time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = kindLabel(err)
	}
	s.metrics.ObserveResolution(name, outcome, d)
}

// missingURL counts a request without a url parameter and returns its error.
func (s *ProxyService) missingURL(resource string) error {
	err := fmt.Errorf("url: %w", types.ErrMissingParameter)
	s.metrics.ObserveError(resource, kindLabel(err))
	return err
}

// logFailure logs the full cause of a failed request. Clients only ever see
// the generic message of the error kind.
func (s *ProxyService) logFailure(ctx context.Context, target, msg string, err error, args ...any) {
	log := s.log.ForRequest(ctx).WithURL(target).WithError(err)
	var resolveErr *resolver.Error
	if errors.As(err, &resolveErr) {
		args = append(args, "resolver", resolveErr.Resolver, "step", resolveErr.Step, "kind", kindLabel(resolveErr.Kind))
	}
	log.Warn(msg, args...)
}

// kindLabel names the kind of err for logs and metric labels. Handshake
// errors are labelled by their precise cause.
func kindLabel(err error) string {
	var resolveErr *resolver.Error
	if errors.As(err, &resolveErr) {
		err = resolveErr.Kind
	}
	switch types.KindOf(err) {
	case types.ErrMissingParameter:
		return "missing_parameter"
	case types.ErrChannelNotFound:
		return "channel_not_found"
	case types.ErrUpstreamFetch:
		return "upstream_fetch"
	case types.ErrUnresolvableSource:
		return "unresolvable_source"
	case types.ErrMalformedUpstreamData:
		return "malformed_upstream_data"
	}
	if errors.Is(err, streams.ErrStreamInterrupted) {
		return "interrupted"
	}
	return "other"
}

// decodeURL accepts plain targets and base64 encoded ones, as some players
// pass the upstream URL encoded.
func decodeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if decoded, err := enc.DecodeString(raw); err == nil {
			s := string(decoded)
			if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
				return s
			}
		}
	}
	return raw
}
