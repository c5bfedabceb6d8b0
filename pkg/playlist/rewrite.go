package playlist

import (
	"fmt"
	"net/url"
	"strings"

	"iptv-relay/pkg/headers"
	"iptv-relay/pkg/urlutil"
)

// Rewriter turns playlist references into proxy URLs.
type Rewriter struct {
	// SegmentPath is the relay endpoint for media references, e.g. "/proxy/ts".
	SegmentPath string
	// KeyPath is the relay endpoint for encryption keys, e.g. "/proxy/key".
	KeyPath string
}

// BaseURL derives the directory that relative references are resolved
// against: scheme, host and the path without its final segment. It must be
// computed from the URL the playlist was actually fetched from.
func BaseURL(fetchURL string) (*url.URL, error) {
	u, err := url.Parse(fetchURL)
	if err != nil {
		return nil, fmt.Errorf("invalid playlist url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("playlist url is not absolute: %q", fetchURL)
	}

	dir := u.EscapedPath()
	if i := strings.LastIndex(dir, "/"); i >= 0 {
		dir = dir[:i+1]
	} else {
		dir = "/"
	}

	return url.Parse(u.Scheme + "://" + u.Host + dir)
}

// Rewrite rewrites every line of a media playlist. Lines are trimmed and
// re-joined with "\n"; only key URIs and media references change.
func (r Rewriter) Rewrite(body string, base *url.URL, h headers.HeaderSet) string {
	baseStr := base.String()
	fragment := headers.Encode(h)

	lines := splitLines(body)
	out := make([]string, len(lines))
	for i, raw := range lines {
		line := ClassifyLine(raw)
		switch line.Kind {
		case KeyDirective:
			target := urlutil.ResolveURL(line.URI(), baseStr)
			out[i] = line.Text[:line.URIStart] + proxiedURL(r.KeyPath, target, fragment) + line.Text[line.URIEnd:]
		case MediaReference:
			target := urlutil.ResolveURL(line.Text, baseStr)
			out[i] = proxiedURL(r.SegmentPath, target, fragment)
		default:
			out[i] = line.Text
		}
	}
	return strings.Join(out, "\n")
}

// ProxiedURL builds "<path>?url=<target>&<headers>" pointing back at the proxy.
func ProxiedURL(path, target string, h headers.HeaderSet) string {
	return proxiedURL(path, target, headers.Encode(h))
}

func proxiedURL(path, target, fragment string) string {
	var b strings.Builder
	b.Grow(len(path) + len(target)*3/2 + len(fragment) + 8)
	b.WriteString(path)
	b.WriteString("?url=")
	b.WriteString(url.QueryEscape(target))
	if fragment != "" {
		b.WriteByte('&')
		b.WriteString(fragment)
	}
	return b.String()
}

// splitLines splits on "\n" without producing a trailing empty line for a
// body that ends in a newline.
func splitLines(body string) []string {
	if body == "" {
		return nil
	}
	lines := strings.Split(body, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
