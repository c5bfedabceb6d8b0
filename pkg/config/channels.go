package config

import (
	"fmt"
	"strings"

	"github.com/jamesnetherton/m3u"
)

// loadChannelFile reads channels from an M3U file or URL. A track is named
// by its tvg-id, then its tvg-name, then its title. Names already taken are
// skipped so explicitly configured channels win.
func loadChannelFile(path string, taken []Channel) ([]Channel, error) {
	playlist, err := m3u.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("channels file %s: %w", path, err)
	}

	seen := make(map[string]bool, len(taken)+len(playlist.Tracks))
	for _, ch := range taken {
		seen[ch.Name] = true
	}

	var channels []Channel
	for _, track := range playlist.Tracks {
		uri := strings.TrimSpace(track.URI)
		name := trackName(track)
		if name == "" || uri == "" || seen[name] {
			continue
		}
		seen[name] = true
		channels = append(channels, Channel{
			Name:  name,
			URL:   uri,
			Group: trackTag(track, "group-title"),
		})
	}
	return channels, nil
}

func trackName(track m3u.Track) string {
	if id := trackTag(track, "tvg-id"); id != "" {
		return id
	}
	if name := trackTag(track, "tvg-name"); name != "" {
		return name
	}
	return strings.TrimSpace(track.Name)
}

func trackTag(track m3u.Track, name string) string {
	for _, tag := range track.Tags {
		if strings.EqualFold(tag.Name, name) {
			return strings.TrimSpace(tag.Value)
		}
	}
	return ""
}
