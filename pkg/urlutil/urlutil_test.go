package urlutil

import "testing"

func TestResolveURL(t *testing.T) {
	const playlist = "https://edge.example/live/ch51/index.m3u8?token=abc"

	tests := []struct {
		name string
		ref  string
		base string
		want string
	}{
		{"absolute", "https://other.example/seg.ts", playlist, "https://other.example/seg.ts"},
		{"absolute upper case scheme", "HTTP://other.example/seg.ts", playlist, "HTTP://other.example/seg.ts"},
		{"sibling", "seg-001.ts", playlist, "https://edge.example/live/ch51/seg-001.ts"},
		{"dot slash", "./seg-001.ts", playlist, "https://edge.example/live/ch51/seg-001.ts"},
		{"host absolute path", "/keys/ch51.key", playlist, "https://edge.example/keys/ch51.key"},
		{"scheme relative", "//cdn2.example/seg.ts", "http://edge.example/a.m3u8", "http://cdn2.example/seg.ts"},
		{"one level up", "../ch52/seg.ts", playlist, "https://edge.example/live/ch52/seg.ts"},
		{"two levels up", "../../vod/seg.ts", "https://edge.example/a/b/c/index.m3u8", "https://edge.example/a/vod/seg.ts"},
		{"up past the host", "../../../seg.ts", "https://edge.example/a/index.m3u8", "https://edge.example/seg.ts"},
		{"query only", "?part=2", "https://edge.example/a/index.m3u8?part=1", "https://edge.example/a/index.m3u8?part=2"},
		{"bare host base", "seg.ts", "https://edge.example", "https://edge.example/seg.ts"},
		{"keeps parentheses in base", "seg.ts", "https://edge.example/ch(1)/index.m3u8", "https://edge.example/ch(1)/seg.ts"},
		{"keeps escapes in ref", "seg%2B1.ts?sig=a%3D", playlist, "https://edge.example/live/ch51/seg%2B1.ts?sig=a%3D"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveURL(tt.ref, tt.base); got != tt.want {
				t.Errorf("ResolveURL(%q, %q) = %q, want %q", tt.ref, tt.base, got, tt.want)
			}
		})
	}
}

func TestGetBaseDirectory(t *testing.T) {
	tests := map[string]string{
		"https://edge.example/live/index.m3u8":         "https://edge.example/live/",
		"https://edge.example/live/index.m3u8?token=1": "https://edge.example/live/",
		"https://edge.example/live/index.m3u8#t=10":    "https://edge.example/live/",
		"https://edge.example/index.m3u8":              "https://edge.example/",
		"https://edge.example":                         "https://edge.example/",
	}
	for in, want := range tests {
		if got := GetBaseDirectory(in); got != want {
			t.Errorf("GetBaseDirectory(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGetSchemeHost(t *testing.T) {
	tests := map[string]string{
		"https://edge.example/live/index.m3u8":     "https://edge.example",
		"http://edge.example:8080/live/index.m3u8": "http://edge.example:8080",
		"live/index.m3u8":                          "",
	}
	for in, want := range tests {
		if got := GetSchemeHost(in); got != want {
			t.Errorf("GetSchemeHost(%q) = %q, want %q", in, got, want)
		}
	}
}
