// Package resolver turns source URLs into playable playlist sessions.
// Each resolver handles one kind of source; the registry picks the first
// one whose CanResolve matches and falls back to Passthrough.
//
// To add a new resolver:
// 1. Create a new file (e.g., myhost.go)
// 2. Implement the Resolver interface
// 3. Register it in the registry (see setup in internal/app)
package resolver

import (
	"context"
	"fmt"
	"strings"

	"iptv-relay/pkg/headers"
	"iptv-relay/pkg/interfaces"
	"iptv-relay/pkg/logging"
	"iptv-relay/pkg/types"
)

// Step names a stage of a handshake in errors and logs.
type Step string

const (
	StepPage   Step = "page"
	StepIframe Step = "iframe"
	StepAuth   Step = "auth"
	StepLookup Step = "lookup"
	StepBuild  Step = "build"
)

// Error is a failed handshake. It always matches types.ErrUnresolvableSource
// with errors.Is; Kind keeps the precise cause for logs and metrics.
type Error struct {
	Resolver string
	Step     Step
	Kind     error
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s step: %v", e.Resolver, e.Step, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports every handshake failure as an unresolvable source.
func (e *Error) Is(target error) bool {
	return target == types.ErrUnresolvableSource
}

func stepError(resolver string, step Step, err error) *Error {
	kind := types.KindOf(err)
	if kind == nil {
		kind = types.ErrUnresolvableSource
	}
	return &Error{Resolver: resolver, Step: step, Kind: kind, Err: err}
}

// hostMatcher matches URLs against lower-cased host fragments.
type hostMatcher []string

func newHostMatcher(hosts []string) hostMatcher {
	m := make(hostMatcher, 0, len(hosts))
	for _, h := range hosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			m = append(m, h)
		}
	}
	return m
}

func (m hostMatcher) match(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, h := range m {
		if strings.Contains(lower, h) {
			return true
		}
	}
	return false
}

// Passthrough is the fallback resolver: the URL already is the playlist.
type Passthrough struct {
	log *logging.Logger
}

// NewPassthrough creates the fallback resolver.
func NewPassthrough(log *logging.Logger) *Passthrough {
	return &Passthrough{log: log.WithComponent("passthrough-resolver")}
}

// Name returns the resolver name.
func (p *Passthrough) Name() string {
	return "passthrough"
}

// CanResolve always returns false as this is the fallback.
func (p *Passthrough) CanResolve(url string) bool {
	return false
}

// Resolve returns the URL and headers unchanged.
func (p *Passthrough) Resolve(ctx context.Context, url string, h headers.HeaderSet) (*types.ResolvedSession, error) {
	return &types.ResolvedSession{URL: url, Headers: h}, nil
}

// Close releases resources.
func (p *Passthrough) Close() error {
	return nil
}

var _ interfaces.Resolver = (*Passthrough)(nil)
