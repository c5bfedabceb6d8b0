// Package playlist classifies and rewrites HLS playlists so that every
// segment and key reference is routed back through the proxy.
package playlist

import (
	"regexp"
	"strings"
)

const (
	headerMarker    = "#EXTM3U"
	entryMarker     = "#EXTINF"
	keyTag          = "#EXT-X-KEY"
	directivePrefix = "#"
)

// Kind is the result of classifying a whole playlist body.
type Kind int

const (
	// SimpleList is anything that is not an HLS media playlist. It is passed
	// to the client verbatim.
	SimpleList Kind = iota
	// MediaPlaylist carries both the playlist header and at least one entry.
	MediaPlaylist
)

func (k Kind) String() string {
	if k == MediaPlaylist {
		return "media"
	}
	return "simple"
}

// Classify decides whether body is an HLS media playlist.
func Classify(body string) Kind {
	if strings.Contains(body, headerMarker) && strings.Contains(body, entryMarker) {
		return MediaPlaylist
	}
	return SimpleList
}

// IsPlaylist reports whether body starts a playlist at all. The resolver uses
// it to short-circuit pages that already are the playlist.
func IsPlaylist(body string) bool {
	return strings.Contains(body, headerMarker)
}

// LineKind tags a single playlist line.
type LineKind int

const (
	Blank LineKind = iota
	Directive
	KeyDirective
	MediaReference
)

func (k LineKind) String() string {
	switch k {
	case Blank:
		return "blank"
	case Directive:
		return "directive"
	case KeyDirective:
		return "key"
	case MediaReference:
		return "media"
	}
	return "unknown"
}

// Line is a trimmed playlist line with its classification. For key
// directives URIStart/URIEnd delimit the quoted URI value inside Text.
type Line struct {
	Kind     LineKind
	Text     string
	URIStart int
	URIEnd   int
}

// URI returns the quoted URI of a key directive.
func (l Line) URI() string {
	if l.Kind != KeyDirective {
		return ""
	}
	return l.Text[l.URIStart:l.URIEnd]
}

var keyURIPattern = regexp.MustCompile(`URI="([^"]+)"`)

// ClassifyLine trims raw and tags it. A key directive without a quoted URI is
// an ordinary directive.
func ClassifyLine(raw string) Line {
	text := strings.TrimSpace(raw)
	switch {
	case text == "":
		return Line{Kind: Blank}
	case strings.HasPrefix(text, keyTag):
		if loc := keyURIPattern.FindStringSubmatchIndex(text); loc != nil {
			return Line{Kind: KeyDirective, Text: text, URIStart: loc[2], URIEnd: loc[3]}
		}
		return Line{Kind: Directive, Text: text}
	case strings.HasPrefix(text, directivePrefix):
		return Line{Kind: Directive, Text: text}
	}
	return Line{Kind: MediaReference, Text: text}
}
