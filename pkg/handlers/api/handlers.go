// Package api provides HTTP handlers for the proxy API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"iptv-relay/pkg/appctx"
	"iptv-relay/pkg/handlers/streams"
	"iptv-relay/pkg/headers"
	"iptv-relay/pkg/httpclient"
	"iptv-relay/pkg/logging"
	"iptv-relay/pkg/resolver"
	"iptv-relay/pkg/types"
)

// Version is reported by the status endpoints.
const Version = "1.0.0"

// Handlers contains all API handlers.
type Handlers struct {
	ctx *appctx.Context
	log *logging.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(ctx *appctx.Context) *Handlers {
	return &Handlers{
		ctx: ctx,
		log: ctx.Log.WithComponent("api"),
	}
}

// RegisterRoutes registers all API routes.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	// Status routes
	mux.HandleFunc("GET /{$}", h.handleIndex)
	mux.HandleFunc("GET /api/info", h.handleAPIInfo)
	mux.HandleFunc("GET /favicon.ico", http.NotFound)
	if h.ctx.Metrics != nil {
		mux.Handle("GET /metrics", h.ctx.Metrics.Handler())
	}

	// Proxy routes
	mux.HandleFunc("GET /proxy/m3u", h.handleProxyPlaylist)
	mux.HandleFunc("GET /proxy/ts", h.handleProxySegment)
	mux.HandleFunc("GET /proxy/key", h.handleProxyKey)
	mux.HandleFunc("GET /proxy", h.handleProxyList)

	// Channel routes
	mux.HandleFunc("GET /channel/{name}", h.handleChannel)
	mux.HandleFunc("GET /playlist.m3u", h.handleChannelList)
}

// handleIndex reports that the relay is up.
func (h *Handlers) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "iptv-relay %s is running\n\n", Version)
	fmt.Fprintln(w, "GET /proxy/m3u?url=<playlist-or-page>&h_<Header>=<value>")
	fmt.Fprintln(w, "GET /proxy/ts?url=<segment>")
	fmt.Fprintln(w, "GET /proxy/key?url=<key>")
	fmt.Fprintln(w, "GET /proxy?url=<channel-list>")
	fmt.Fprintln(w, "GET /channel/{name}")
	fmt.Fprintln(w, "GET /playlist.m3u")
}

// handleAPIInfo returns server status as JSON.
func (h *Handlers) handleAPIInfo(w http.ResponseWriter, r *http.Request) {
	var resolverNames []string
	if h.ctx.Resolvers != nil {
		for _, res := range h.ctx.Resolvers.All() {
			resolverNames = append(resolverNames, res.Name())
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "running",
		"version":   Version,
		"resolvers": resolverNames,
		"channels":  h.ctx.ProxyService.ChannelCount(),
	})
}

// handleProxyPlaylist resolves, fetches and rewrites a playlist.
func (h *Handlers) handleProxyPlaylist(w http.ResponseWriter, r *http.Request) {
	req := &types.PlaylistRequest{
		URL:     r.URL.Query().Get("url"),
		Headers: headers.Decode(r.URL.RawQuery),
	}

	resp, err := h.ctx.ProxyService.HandlePlaylist(r.Context(), req)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writePlaylist(w, resp)
}

func (h *Handlers) handleProxySegment(w http.ResponseWriter, r *http.Request) {
	h.relay(w, r, types.ResourceKindSegment)
}

func (h *Handlers) handleProxyKey(w http.ResponseWriter, r *http.Request) {
	h.relay(w, r, types.ResourceKindKey)
}

// relay passes upstream bytes through. Once bytes have been written, a
// failure aborts the connection so the client sees a truncated transfer
// instead of an error message inside the media data.
func (h *Handlers) relay(w http.ResponseWriter, r *http.Request, kind types.ResourceKind) {
	req := &types.RelayRequest{
		URL:     r.URL.Query().Get("url"),
		Headers: headers.Decode(r.URL.RawQuery),
		Kind:    kind,
	}

	n, err := h.ctx.ProxyService.HandleRelay(r.Context(), w, req)
	if err == nil {
		return
	}
	if n > 0 || errors.Is(err, streams.ErrStreamInterrupted) {
		panic(http.ErrAbortHandler)
	}
	h.writeFailure(w, err)
}

// handleProxyList rewrites a plain channel list so that each entry plays
// through /proxy/m3u.
func (h *Handlers) handleProxyList(w http.ResponseWriter, r *http.Request) {
	endpoint := h.publicBase(r) + "/proxy/m3u"
	resp, err := h.ctx.ProxyService.HandleList(r.Context(), r.URL.Query().Get("url"), headers.Decode(r.URL.RawQuery), endpoint)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writePlaylist(w, resp)
}

// handleChannel serves a configured channel by name.
func (h *Handlers) handleChannel(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	resp, err := h.ctx.ProxyService.HandleChannel(r.Context(), name, headers.Decode(r.URL.RawQuery))
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writePlaylist(w, resp)
}

// handleChannelList lists the configured channels.
func (h *Handlers) handleChannelList(w http.ResponseWriter, r *http.Request) {
	body := h.ctx.ProxyService.ChannelPlaylist(h.publicBase(r) + "/channel")
	w.Header().Set("Content-Type", types.ResourceKindPlaylist.ContentType())
	w.Write([]byte(body))
}

// Helper methods

// publicBase returns the externally visible scheme and host of the relay.
func (h *Handlers) publicBase(r *http.Request) string {
	if h.ctx.BaseURL != "" {
		return h.ctx.BaseURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}
	return scheme + "://" + r.Host
}

func (h *Handlers) writePlaylist(w http.ResponseWriter, resp *types.PlaylistResponse) {
	w.Header().Set("Content-Type", resp.ContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(resp.Body)
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeFailure reports err as a short plain text message. Handshake details
// stay in the server log.
func (h *Handlers) writeFailure(w http.ResponseWriter, err error) {
	h.writeError(w, types.StatusCode(err), publicMessage(err))
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	fmt.Fprintln(w, message)
}

func publicMessage(err error) string {
	var resolveErr *resolver.Error
	if errors.As(err, &resolveErr) {
		return "resolution failed"
	}

	var upstreamErr *httpclient.UpstreamError
	switch {
	case errors.Is(err, types.ErrMissingParameter):
		return "missing required parameter: url"
	case errors.Is(err, types.ErrChannelNotFound):
		return "unknown channel"
	case errors.As(err, &upstreamErr) && upstreamErr.StatusCode != 0:
		return fmt.Sprintf("upstream fetch failed: status %d", upstreamErr.StatusCode)
	case errors.Is(err, types.ErrUpstreamFetch):
		return "upstream fetch failed"
	case errors.Is(err, types.ErrMalformedUpstreamData):
		return "malformed upstream data"
	case errors.Is(err, types.ErrUnresolvableSource):
		return "resolution failed"
	}
	return "internal error"
}
