package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

const channelFile = `#EXTM3U
#EXTINF:-1 tvg-id="sky.uk" tvg-name="Sky News" group-title="News",Sky News
https://dlhd.example/stream/stream-51.php
#EXTINF:-1 tvg-name="Arte" group-title="Culture",Arte HD
https://cdn.example/arte/index.m3u8
#EXTINF:-1,Plain
https://cdn.example/plain.m3u8
#EXTINF:-1 tvg-id="news",Duplicate
https://cdn.example/dup.m3u8
`

func TestLoad_ChannelsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channels.m3u")
	if err := os.WriteFile(path, []byte(channelFile), 0o644); err != nil {
		t.Fatal(err)
	}

	v := newTestViper()
	v.Set("channels", "news=https://cdn.example/news.m3u8")
	v.Set("channels-file", path)

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := []Channel{
		{Name: "news", URL: "https://cdn.example/news.m3u8"},
		{Name: "sky.uk", URL: "https://dlhd.example/stream/stream-51.php", Group: "News"},
		{Name: "Arte", URL: "https://cdn.example/arte/index.m3u8", Group: "Culture"},
		{Name: "Plain", URL: "https://cdn.example/plain.m3u8"},
	}
	if !reflect.DeepEqual(cfg.Channels, want) {
		t.Errorf("Channels = %+v\nwant %+v", cfg.Channels, want)
	}
}

func TestLoad_ChannelsFileMissing(t *testing.T) {
	v := newTestViper()
	v.Set("channels-file", filepath.Join(t.TempDir(), "nope.m3u"))
	if _, err := Load(v); err == nil {
		t.Error("Load() expected error for a missing channels file")
	}
}
