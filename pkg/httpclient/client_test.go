package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"iptv-relay/pkg/config"
	"iptv-relay/pkg/logging"
)

func TestTransportForURL(t *testing.T) {
	log := logging.Discard()

	tests := []struct {
		name          string
		cfg           *config.Config
		targetURL     string
		expectUTLS    bool
		expectDefault bool
	}{
		{
			name: "uses global proxy when no transport routes match",
			cfg: &config.Config{
				GlobalProxies: []string{"socks5://proxy.example.com:1080"},
			},
			targetURL: "https://cdn.example.com/video.m3u8",
		},
		{
			name: "uses transport route when URL matches",
			cfg: &config.Config{
				GlobalProxies: []string{"socks5://global-proxy.example.com:1080"},
				TransportRoutes: []config.TransportRoute{
					{URLPattern: "cdn.specific.com", Proxy: "socks5://specific-proxy.example.com:1080"},
				},
			},
			targetURL: "https://cdn.specific.com/video.m3u8",
		},
		{
			name:          "uses default transport when no proxy configured",
			cfg:           &config.Config{},
			targetURL:     "https://cdn.example.com/video.m3u8",
			expectDefault: true,
		},
		{
			name: "direct route bypasses global proxy",
			cfg: &config.Config{
				GlobalProxies:   []string{"socks5://global-proxy.example.com:1080"},
				TransportRoutes: []config.TransportRoute{{URLPattern: "local.cdn", Direct: true}},
			},
			targetURL:     "http://local.cdn/seg.ts",
			expectDefault: true,
		},
		{
			name:       "gated host gets browser fingerprint",
			cfg:        &config.Config{GatedHosts: []string{"gated.example"}},
			targetURL:  "https://gated.example/watch.php?id=1",
			expectUTLS: true,
		},
		{
			name:       "built-in fingerprint domain",
			cfg:        &config.Config{},
			targetURL:  "https://top1.newkso.ru/x/mono.m3u8",
			expectUTLS: true,
		},
		{
			name: "transport route wins over fingerprint",
			cfg: &config.Config{
				GatedHosts:      []string{"gated.example"},
				TransportRoutes: []config.TransportRoute{{URLPattern: "gated.example", Direct: true}},
			},
			targetURL:     "https://gated.example/watch.php",
			expectDefault: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := New(tt.cfg, log)
			rt := client.transportForURL(tt.targetURL)

			isDefault := rt == client.defaultTransport
			isUTLS := rt == client.utlsTransport

			if tt.expectDefault != isDefault {
				t.Errorf("default transport = %v, want %v", isDefault, tt.expectDefault)
			}
			if tt.expectUTLS != isUTLS {
				t.Errorf("fingerprint transport = %v, want %v", isUTLS, tt.expectUTLS)
			}
		})
	}
}

func TestProxyTransportCached(t *testing.T) {
	client := New(&config.Config{GlobalProxies: []string{"http://proxy.example:3128"}}, logging.Discard())

	first := client.transportForURL("https://a.example/1")
	second := client.transportForURL("https://b.example/2")
	if first != second {
		t.Error("expected the proxy transport to be reused")
	}
	tr, ok := first.(*http.Transport)
	if !ok || tr.Proxy == nil {
		t.Error("expected an http.Transport with a proxy func")
	}
}

func TestSession_CarriesCookies(t *testing.T) {
	var gotCookie string
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc", Path: "/"})
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/next", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("sid"); err == nil {
			gotCookie = c.Value
		}
		w.Write([]byte("ok"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := New(&config.Config{}, logging.Discard())
	session := client.Session()

	for _, path := range []string{"/page", "/next"} {
		resp, err := session.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
	}
	if gotCookie != "abc" {
		t.Errorf("cookie = %q, want %q", gotCookie, "abc")
	}

	// A new session starts empty.
	gotCookie = ""
	resp, err := client.Session().Get(srv.URL + "/next")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if gotCookie != "" {
		t.Errorf("fresh session sent cookie %q", gotCookie)
	}
}
