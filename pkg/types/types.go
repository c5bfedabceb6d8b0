// Package types defines core domain types used throughout the application.
package types

import (
	"errors"
	"net/http"

	"iptv-relay/pkg/headers"
)

// ResourceKind identifies what a proxied URL points at.
type ResourceKind string

const (
	ResourceKindPlaylist ResourceKind = "playlist"
	ResourceKindSegment  ResourceKind = "segment"
	ResourceKindKey      ResourceKind = "key"
)

// ContentType returns the response content type used for the kind.
func (k ResourceKind) ContentType() string {
	switch k {
	case ResourceKindPlaylist:
		return "application/vnd.apple.mpegurl"
	case ResourceKindSegment:
		return "video/mp2t"
	default:
		return "application/octet-stream"
	}
}

// PlaylistRequest represents an incoming playlist proxy request.
type PlaylistRequest struct {
	URL     string
	Headers headers.HeaderSet
}

// RelayRequest represents an incoming segment or key relay request.
type RelayRequest struct {
	URL     string
	Headers headers.HeaderSet
	Kind    ResourceKind
}

// ResolvedSession is the outcome of resolving a source URL to a playable
// playlist. Body is set when the resolver already fetched the playlist
// itself; the caller must not fetch URL a second time in that case.
type ResolvedSession struct {
	URL     string
	Headers headers.HeaderSet
	Body    []byte
}

// PlaylistResponse is a playlist ready to be written to the client.
type PlaylistResponse struct {
	ContentType string
	Body        []byte
	// Rewritten is false when the body was passed through verbatim.
	Rewritten bool
	// SourceURL is the URL the body was actually fetched from.
	SourceURL string
}

// Error kinds. Match them with errors.Is.
var (
	ErrMissingParameter      = errors.New("missing parameter")
	ErrUpstreamFetch         = errors.New("upstream fetch failed")
	ErrUnresolvableSource    = errors.New("source could not be resolved")
	ErrMalformedUpstreamData = errors.New("malformed upstream data")
	ErrChannelNotFound       = errors.New("channel not found")
)

// KindOf returns the error kind err belongs to, or nil when it has none.
func KindOf(err error) error {
	for _, kind := range []error{ErrMissingParameter, ErrChannelNotFound, ErrUpstreamFetch, ErrUnresolvableSource, ErrMalformedUpstreamData} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// StatusCode maps an error to the HTTP status returned to the client.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrMissingParameter):
		return http.StatusBadRequest
	case errors.Is(err, ErrChannelNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
