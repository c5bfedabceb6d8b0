package playlist

import (
	"net/url"
	"strings"
	"testing"

	"iptv-relay/pkg/headers"
)

func newTestRewriter() Rewriter {
	return Rewriter{SegmentPath: "/proxy/ts", KeyPath: "/proxy/key"}
}

func mustBase(t *testing.T, fetchURL string) *url.URL {
	t.Helper()
	base, err := BaseURL(fetchURL)
	if err != nil {
		t.Fatalf("BaseURL(%q) error = %v", fetchURL, err)
	}
	return base
}

// proxiedTarget extracts the decoded url parameter of a rewritten line.
func proxiedTarget(t *testing.T, line, path string) string {
	t.Helper()
	if !strings.HasPrefix(line, path+"?") {
		t.Fatalf("line %q does not start with %q", line, path)
	}
	q, err := url.ParseQuery(strings.TrimPrefix(line, path+"?"))
	if err != nil {
		t.Fatalf("ParseQuery(%q) error = %v", line, err)
	}
	return q.Get("url")
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		name     string
		fetchURL string
		expected string
		wantErr  bool
	}{
		{"directory kept", "https://host/path/list.m3u8", "https://host/path/", false},
		{"query dropped", "https://host/path/list.m3u8?token=abc", "https://host/path/", false},
		{"root", "https://host/list.m3u8", "https://host/", false},
		{"no path", "https://host", "https://host/", false},
		{"port kept", "http://host:8080/a/b/c.m3u8", "http://host:8080/a/b/", false},
		{"relative rejected", "/path/list.m3u8", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, err := BaseURL(tt.fetchURL)
			if (err != nil) != tt.wantErr {
				t.Fatalf("BaseURL() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && base.String() != tt.expected {
				t.Errorf("BaseURL() = %q, want %q", base.String(), tt.expected)
			}
		})
	}
}

func TestRewrite_RelativeSegment(t *testing.T) {
	r := newTestRewriter()
	body := "#EXTM3U\n#EXTINF:-1,Ch\nseg1.ts\n"
	h := headers.HeaderSet{{Name: "User-Agent", Value: "TestUA"}}

	got := r.Rewrite(body, mustBase(t, "https://host/path/list.m3u8"), h)
	lines := strings.Split(got, "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), got)
	}
	if lines[0] != "#EXTM3U" || lines[1] != "#EXTINF:-1,Ch" {
		t.Errorf("directives changed: %q", got)
	}
	if target := proxiedTarget(t, lines[2], "/proxy/ts"); target != "https://host/path/seg1.ts" {
		t.Errorf("segment url = %q, want %q", target, "https://host/path/seg1.ts")
	}
	want := "/proxy/ts?url=https%3A%2F%2Fhost%2Fpath%2Fseg1.ts&h_User-Agent=TestUA"
	if lines[2] != want {
		t.Errorf("segment line = %q, want %q", lines[2], want)
	}
}

func TestRewrite_KeyDirective(t *testing.T) {
	r := newTestRewriter()
	body := `#EXT-X-KEY:METHOD=AES-128,URI="https://host/key1",IV=0x0123`
	h := headers.HeaderSet{{Name: "Referer", Value: "https://ref/"}}

	got := r.Rewrite(body, mustBase(t, "https://other/live/list.m3u8"), h)

	prefix := `#EXT-X-KEY:METHOD=AES-128,URI="`
	suffix := `",IV=0x0123`
	if !strings.HasPrefix(got, prefix) || !strings.HasSuffix(got, suffix) {
		t.Fatalf("other attributes not preserved: %q", got)
	}
	proxied := strings.TrimSuffix(strings.TrimPrefix(got, prefix), suffix)
	if target := proxiedTarget(t, proxied, "/proxy/key"); target != "https://host/key1" {
		t.Errorf("key url = %q, want %q", target, "https://host/key1")
	}
	if !strings.HasSuffix(proxied, "&h_Referer=https%3A%2F%2Fref%2F") {
		t.Errorf("headers not carried on key url: %q", proxied)
	}
}

func TestRewrite_RelativeKeyResolved(t *testing.T) {
	r := newTestRewriter()
	got := r.Rewrite(`#EXT-X-KEY:METHOD=AES-128,URI="keys/k.bin"`, mustBase(t, "https://host/live/list.m3u8"), nil)
	want := `#EXT-X-KEY:METHOD=AES-128,URI="/proxy/key?url=https%3A%2F%2Fhost%2Flive%2Fkeys%2Fk.bin"`
	if got != want {
		t.Errorf("Rewrite() = %q, want %q", got, want)
	}
}

func TestRewrite_LinesUnchanged(t *testing.T) {
	r := newTestRewriter()
	body := strings.Join([]string{
		"#EXTM3U",
		"#EXT-X-VERSION:3",
		"#EXT-X-TARGETDURATION:6",
		"#EXT-X-KEY:METHOD=NONE",
		"",
		"# a comment",
		"#EXT-X-ENDLIST",
	}, "\n")

	got := r.Rewrite(body, mustBase(t, "https://host/list.m3u8"), headers.HeaderSet{{Name: "User-Agent", Value: "UA"}})
	if got != body {
		t.Errorf("Rewrite() changed non-reference lines:\n%q\nwant\n%q", got, body)
	}
}

func TestRewrite_TrimsAndKeepsOrder(t *testing.T) {
	r := newTestRewriter()
	body := "  #EXTM3U  \r\n#EXTINF:4,\r\n  https://cdn.example/a.ts  \r\n#EXTINF:4,\r\n/abs/b.ts\r\n"

	got := r.Rewrite(body, mustBase(t, "https://host/dir/list.m3u8"), nil)
	lines := strings.Split(got, "\n")
	if len(lines) != 5 {
		t.Fatalf("expected 5 lines, got %d: %q", len(lines), got)
	}
	if lines[0] != "#EXTM3U" {
		t.Errorf("line 0 = %q", lines[0])
	}
	if target := proxiedTarget(t, lines[2], "/proxy/ts"); target != "https://cdn.example/a.ts" {
		t.Errorf("absolute reference changed: %q", target)
	}
	if target := proxiedTarget(t, lines[4], "/proxy/ts"); target != "https://host/abs/b.ts" {
		t.Errorf("root-relative reference = %q", target)
	}
	if strings.Contains(lines[2], "&") {
		t.Errorf("empty header set must not add a fragment: %q", lines[2])
	}
}

func TestRewrite_AbsoluteProxyPaths(t *testing.T) {
	r := Rewriter{SegmentPath: "https://proxy.example/proxy/ts", KeyPath: "https://proxy.example/proxy/key"}
	got := r.Rewrite("seg.ts", mustBase(t, "http://host/a/list.m3u8"), nil)
	if got != "https://proxy.example/proxy/ts?url=http%3A%2F%2Fhost%2Fa%2Fseg.ts" {
		t.Errorf("Rewrite() = %q", got)
	}
}

func TestRewrite_HeadersRoundTrip(t *testing.T) {
	r := newTestRewriter()
	h := headers.HeaderSet{
		{Name: "User-Agent", Value: "Mozilla/5.0 (X11; Linux x86_64)"},
		{Name: "Referer", Value: "https://page.example/watch?id=1&x=2"},
		{Name: "Origin", Value: "https://page.example"},
	}

	got := r.Rewrite("seg.ts", mustBase(t, "https://host/list.m3u8"), h)
	rawQuery := strings.TrimPrefix(got, "/proxy/ts?")
	decoded := headers.Decode(rawQuery)
	if len(decoded) != len(h) {
		t.Fatalf("decoded %d headers, want %d", len(decoded), len(h))
	}
	for i := range h {
		if decoded[i] != h[i] {
			t.Errorf("header %d = %v, want %v", i, decoded[i], h[i])
		}
	}
}

func TestProxiedURL(t *testing.T) {
	got := ProxiedURL("/proxy/m3u", "https://a/b.m3u8?x=1&y=2", headers.HeaderSet{{Name: "User-Agent", Value: "UA"}})
	want := "/proxy/m3u?url=https%3A%2F%2Fa%2Fb.m3u8%3Fx%3D1%26y%3D2&h_User-Agent=UA"
	if got != want {
		t.Errorf("ProxiedURL() = %q, want %q", got, want)
	}
}
