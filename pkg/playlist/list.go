package playlist

import (
	"fmt"
	"net/url"
	"strings"
)

// RewriteList routes every entry of a plain channel list through the
// playlist endpoint. Comment and blank lines are kept as they are.
func RewriteList(body, playlistEndpoint string) string {
	lines := splitLines(body)
	out := make([]string, len(lines))
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line != "" && !strings.HasPrefix(line, directivePrefix) {
			line = playlistEndpoint + "?url=" + url.QueryEscape(line)
		}
		out[i] = line
	}
	return strings.Join(out, "\n")
}

// Channel is a named entry of the static channel list.
type Channel struct {
	Name  string
	URL   string
	Group string
}

// ChannelList renders an extended M3U list whose entries point at
// "<channelEndpoint>/<name>".
func ChannelList(channels []Channel, channelEndpoint string) string {
	var b strings.Builder
	b.WriteString(headerMarker)
	b.WriteByte('\n')
	for _, ch := range channels {
		fmt.Fprintf(&b, "%s:-1 tvg-name=%q", entryMarker, ch.Name)
		if ch.Group != "" {
			fmt.Fprintf(&b, " group-title=%q", ch.Group)
		}
		fmt.Fprintf(&b, ",%s\n", ch.Name)
		b.WriteString(strings.TrimSuffix(channelEndpoint, "/"))
		b.WriteByte('/')
		b.WriteString(url.PathEscape(ch.Name))
		b.WriteByte('\n')
	}
	return b.String()
}
