// Package interfaces defines the core abstractions for the relay.
// Resolvers and caches implement these interfaces so that new gated hosts can
// be supported without touching the HTTP layer.
package interfaces

import (
	"context"
	"net/http"

	"iptv-relay/pkg/headers"
	"iptv-relay/pkg/types"
)

// Resolver turns a source URL into a playable playlist session.
//
// To add a new resolver:
// 1. Create a new file in pkg/resolver/
// 2. Implement this interface
// 3. Register it in the ResolverRegistry
type Resolver interface {
	// Name returns a unique identifier for this resolver.
	Name() string

	// CanResolve returns true if this resolver handles the given URL.
	CanResolve(url string) bool

	// Resolve runs whatever handshake the source needs and returns the
	// playlist URL together with the headers to fetch it with.
	Resolve(ctx context.Context, url string, h headers.HeaderSet) (*types.ResolvedSession, error)

	// Close releases any resources held by the resolver.
	Close() error
}

// SessionCache keeps resolved sessions for named channels.
type SessionCache interface {
	Get(name string) (*types.ResolvedSession, bool)
	Add(name string, session *types.ResolvedSession)
	Remove(name string)
	Len() int
}

// HTTPClient abstracts HTTP operations for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}
