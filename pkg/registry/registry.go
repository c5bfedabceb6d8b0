// Package registry keeps the ordered set of source resolvers.
package registry

import (
	"sync"

	"iptv-relay/pkg/interfaces"
)

// ResolverRegistry manages source resolvers. Resolvers are tried in the
// order they were registered.
type ResolverRegistry struct {
	mu        sync.RWMutex
	resolvers []interfaces.Resolver
	byName    map[string]interfaces.Resolver
	fallback  interfaces.Resolver
}

// NewResolverRegistry creates a new resolver registry.
func NewResolverRegistry() *ResolverRegistry {
	return &ResolverRegistry{
		resolvers: make([]interfaces.Resolver, 0),
		byName:    make(map[string]interfaces.Resolver),
	}
}

// Register adds a resolver to the registry.
func (r *ResolverRegistry) Register(resolver interfaces.Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers = append(r.resolvers, resolver)
	r.byName[resolver.Name()] = resolver
}

// SetFallback sets the resolver used when no resolver matches.
func (r *ResolverRegistry) SetFallback(resolver interfaces.Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = resolver
}

// Get returns the first resolver that claims the URL, or the fallback.
func (r *ResolverRegistry) Get(url string) interfaces.Resolver {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, res := range r.resolvers {
		if res.CanResolve(url) {
			return res
		}
	}
	return r.fallback
}

// GetByName returns a resolver by its name, or the fallback.
func (r *ResolverRegistry) GetByName(name string) interfaces.Resolver {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if res, ok := r.byName[name]; ok {
		return res
	}
	return r.fallback
}

// All returns all registered resolvers, without the fallback.
func (r *ResolverRegistry) All() []interfaces.Resolver {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]interfaces.Resolver, len(r.resolvers))
	copy(result, r.resolvers)
	return result
}

// Close closes all registered resolvers.
func (r *ResolverRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, res := range r.resolvers {
		_ = res.Close()
	}
	if r.fallback != nil {
		_ = r.fallback.Close()
	}
	return nil
}
