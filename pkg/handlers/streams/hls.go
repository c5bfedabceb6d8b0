// Package streams fetches playlists and relays segment and key bytes.
package streams

import (
	"context"
	"fmt"

	"iptv-relay/pkg/headers"
	"iptv-relay/pkg/httpclient"
	"iptv-relay/pkg/interfaces"
	"iptv-relay/pkg/logging"
	"iptv-relay/pkg/playlist"
	"iptv-relay/pkg/types"
)

const playlistContentType = "application/vnd.apple.mpegurl"

// HLSHandler fetches playlists and rewrites them to route through the proxy.
type HLSHandler struct {
	client   interfaces.HTTPClient
	log      *logging.Logger
	rewriter playlist.Rewriter
	budget   httpclient.Budget
}

// NewHLSHandler creates a new HLS playlist handler.
func NewHLSHandler(client interfaces.HTTPClient, log *logging.Logger, rewriter playlist.Rewriter, budget httpclient.Budget) *HLSHandler {
	return &HLSHandler{
		client:   client,
		log:      log.WithComponent("hls-handler"),
		rewriter: rewriter,
		budget:   budget,
	}
}

// HandleManifest produces the client playlist of a resolved session. A body
// the resolver already fetched is used as is; otherwise the session URL is
// fetched once. Media playlists are rewritten against the URL the body came
// from, after redirects; anything else is returned verbatim.
func (h *HLSHandler) HandleManifest(ctx context.Context, session *types.ResolvedSession) (*types.PlaylistResponse, error) {
	body, sourceURL := session.Body, session.URL
	if body == nil {
		res, err := httpclient.Fetch(ctx, h.client, session.URL, session.Headers, h.budget)
		if err != nil {
			return nil, fmt.Errorf("fetch playlist: %w", err)
		}
		body, sourceURL = res.Body, res.URL
	}

	text := string(body)
	kind := playlist.Classify(text)
	log := h.log.WithURL(sourceURL)

	if kind != playlist.MediaPlaylist {
		log.Debug("passing simple list through", "size", len(body))
		return &types.PlaylistResponse{
			ContentType: playlistContentType,
			Body:        body,
			SourceURL:   sourceURL,
		}, nil
	}

	base, err := playlist.BaseURL(sourceURL)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, types.ErrMalformedUpstreamData)
	}

	rewritten := h.rewriter.Rewrite(text, base, session.Headers)
	log.Debug("rewrote media playlist", "size", len(body), "rewritten_size", len(rewritten))

	return &types.PlaylistResponse{
		ContentType: playlistContentType,
		Body:        []byte(rewritten),
		Rewritten:   true,
		SourceURL:   sourceURL,
	}, nil
}

// HandleList fetches a plain channel list and points every entry at the
// playlist endpoint.
func (h *HLSHandler) HandleList(ctx context.Context, listURL string, hs headers.HeaderSet, playlistEndpoint string) (*types.PlaylistResponse, error) {
	res, err := httpclient.Fetch(ctx, h.client, listURL, hs, h.budget)
	if err != nil {
		return nil, fmt.Errorf("fetch list: %w", err)
	}

	return &types.PlaylistResponse{
		ContentType: playlistContentType,
		Body:        []byte(playlist.RewriteList(string(res.Body), playlistEndpoint)),
		Rewritten:   true,
		SourceURL:   res.URL,
	}, nil
}
