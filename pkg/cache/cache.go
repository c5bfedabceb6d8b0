// Package cache keeps resolved channel sessions so that repeated requests
// for a named channel skip the handshake until the entry expires.
package cache

import (
	"context"
	"time"

	"iptv-relay/pkg/headers"
	"iptv-relay/pkg/interfaces"
	"iptv-relay/pkg/logging"
	"iptv-relay/pkg/types"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// SessionLRU is a size and age bounded SessionCache.
type SessionLRU struct {
	lru *expirable.LRU[string, *types.ResolvedSession]
}

// NewSessionLRU creates a cache holding at most size sessions for ttl each.
func NewSessionLRU(size int, ttl time.Duration) *SessionLRU {
	return &SessionLRU{lru: expirable.NewLRU[string, *types.ResolvedSession](size, nil, ttl)}
}

func (c *SessionLRU) Get(key string) (*types.ResolvedSession, bool) {
	return c.lru.Get(key)
}

// Add stores session under key. A prefetched body is never stored: it is
// only valid for the request that triggered the handshake.
func (c *SessionLRU) Add(key string, session *types.ResolvedSession) {
	stored := *session
	stored.Body = nil
	stored.Headers = session.Headers.Clone()
	c.lru.Add(key, &stored)
}

func (c *SessionLRU) Remove(key string) {
	c.lru.Remove(key)
}

func (c *SessionLRU) Len() int {
	return c.lru.Len()
}

var _ interfaces.SessionCache = (*SessionLRU)(nil)

// ChannelResolver resolves named channels through a cache. Concurrent
// misses for the same channel share a single handshake.
type ChannelResolver struct {
	cache interfaces.SessionCache
	group singleflight.Group
	log   *logging.Logger
}

// NewChannelResolver creates a channel resolver on top of cache.
func NewChannelResolver(cache interfaces.SessionCache, log *logging.Logger) *ChannelResolver {
	return &ChannelResolver{
		cache: cache,
		log:   log.WithComponent("channel-cache"),
	}
}

// Key identifies a channel session. Sessions resolved with different
// upstream headers are kept apart.
func Key(name string, h headers.HeaderSet) string {
	return name + "?" + headers.Encode(h)
}

// Resolve returns the cached session for the channel or runs resolver.
// hit reports whether the session came from the cache. Failed handshakes
// are not cached.
func (c *ChannelResolver) Resolve(ctx context.Context, name, sourceURL string, h headers.HeaderSet, resolver interfaces.Resolver) (session *types.ResolvedSession, hit bool, err error) {
	key := Key(name, h)
	if s, ok := c.cache.Get(key); ok {
		return s, true, nil
	}

	// The handshake outlives a caller that gives up; the other waiters
	// still need its result. Fetch budgets bound it.
	resolveCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		s, err := resolver.Resolve(resolveCtx, sourceURL, h)
		if err != nil {
			return nil, err
		}
		c.cache.Add(key, s)
		c.log.Debug("cached channel session", "channel", name, "resolver", resolver.Name())
		return s, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.(*types.ResolvedSession), false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Invalidate drops the cached session of a channel, e.g. after its playlist
// URL stopped working.
func (c *ChannelResolver) Invalidate(name string, h headers.HeaderSet) {
	c.cache.Remove(Key(name, h))
}
