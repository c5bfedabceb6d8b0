package httpclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"iptv-relay/pkg/config"
	"iptv-relay/pkg/headers"
	"iptv-relay/pkg/logging"
	"iptv-relay/pkg/types"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
)

var testBudget = Budget{Connect: 2 * time.Second, Read: 2 * time.Second}

func newTestClient() *Client {
	return New(&config.Config{}, logging.Discard())
}

func TestFetch(t *testing.T) {
	var gotUA, gotReferer string
	mux := http.NewServeMux()
	mux.HandleFunc("/old/list.m3u8", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new/list.m3u8", http.StatusFound)
	})
	mux.HandleFunc("/new/list.m3u8", func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotReferer = r.Header.Get("Referer")
		w.Write([]byte("#EXTM3U\n"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	h := headers.HeaderSet{{Name: "User-Agent", Value: "TestUA"}, {Name: "Referer", Value: "https://ref/"}}
	res, err := Fetch(context.Background(), newTestClient(), srv.URL+"/old/list.m3u8", h, testBudget)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if string(res.Body) != "#EXTM3U\n" {
		t.Errorf("body = %q", res.Body)
	}
	if res.URL != srv.URL+"/new/list.m3u8" {
		t.Errorf("final URL = %q", res.URL)
	}
	if gotUA != "TestUA" || gotReferer != "https://ref/" {
		t.Errorf("headers not applied: UA=%q Referer=%q", gotUA, gotReferer)
	}
}

func TestFetch_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := Fetch(context.Background(), newTestClient(), srv.URL, nil, testBudget)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, types.ErrUpstreamFetch) {
		t.Errorf("error %v is not ErrUpstreamFetch", err)
	}
	var upErr *UpstreamError
	if !errors.As(err, &upErr) || upErr.StatusCode != http.StatusForbidden {
		t.Errorf("expected UpstreamError with status 403, got %#v", err)
	}
}

func TestFetch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	start := time.Now()
	_, err := Fetch(context.Background(), newTestClient(), srv.URL, nil, Budget{Connect: 50 * time.Millisecond, Read: 50 * time.Millisecond})
	if !errors.Is(err, types.ErrUpstreamFetch) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("budget not enforced, took %v", elapsed)
	}
}

func TestFetch_DecodesBody(t *testing.T) {
	plain := []byte("#EXTM3U\n#EXTINF:-1,Ch\nseg.ts\n")

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	zw.Write(plain)
	zw.Close()

	var br bytes.Buffer
	bw := brotli.NewWriter(&br)
	bw.Write(plain)
	bw.Close()

	tests := []struct {
		name     string
		encoding string
		body     []byte
	}{
		{"identity", "", plain},
		{"gzip", "gzip", gz.Bytes()},
		{"brotli", "br", br.Bytes()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.encoding != "" {
					w.Header().Set("Content-Encoding", tt.encoding)
				}
				w.Write(tt.body)
			}))
			defer srv.Close()

			res, err := Fetch(context.Background(), newTestClient(), srv.URL, nil, testBudget)
			if err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}
			if !bytes.Equal(res.Body, plain) {
				t.Errorf("body = %q, want %q", res.Body, plain)
			}
		})
	}
}

func TestStream(t *testing.T) {
	payload := bytes.Repeat([]byte{0x47}, 188*100)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	resp, err := Stream(context.Background(), newTestClient(), srv.URL, nil, testBudget)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer resp.Body.Close()

	got, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("got %d bytes, want %d", len(got), len(payload))
	}
}

func TestStream_IdleTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("first chunk"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	resp, err := Stream(context.Background(), newTestClient(), srv.URL, nil, Budget{Connect: time.Second, Read: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer resp.Body.Close()

	got, err := io.ReadAll(resp.Body)
	if string(got) != "first chunk" {
		t.Errorf("got %q before the stall", got)
	}
	if !errors.Is(err, ErrIdleTimeout) {
		t.Errorf("expected idle timeout, got %v", err)
	}
}

func TestStream_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := Stream(context.Background(), newTestClient(), srv.URL, nil, testBudget)
	var upErr *UpstreamError
	if !errors.As(err, &upErr) || upErr.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 UpstreamError, got %v", err)
	}
}

func TestStream_ClientCancel(t *testing.T) {
	released := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		close(released)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	resp, err := Stream(ctx, newTestClient(), srv.URL, nil, testBudget)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer resp.Body.Close()

	cancel()
	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Error("upstream request was not released after cancel")
	}
}
