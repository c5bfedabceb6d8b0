package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"iptv-relay/pkg/headers"
	"iptv-relay/pkg/interfaces"
	"iptv-relay/pkg/types"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// maxBodySize caps buffered fetches. Playlists, pages and keys are small.
const maxBodySize = 16 << 20

// acceptEncoding is sent on buffered fetches; the body is decoded here.
const acceptEncoding = "gzip, br, zstd"

// ErrIdleTimeout is returned by a streamed body that made no progress within
// its read budget.
var ErrIdleTimeout = errors.New("upstream read idle timeout")

// Budget bounds one upstream fetch. Connect covers connection setup and the
// wait for response headers, Read covers the body.
type Budget struct {
	Connect time.Duration
	Read    time.Duration
}

// Total is the deadline applied to buffered fetches.
func (b Budget) Total() time.Duration {
	return b.Connect + b.Read
}

// Result is a fully buffered upstream response.
type Result struct {
	// URL is the final URL after redirects.
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// UpstreamError describes a failed upstream request. It matches
// types.ErrUpstreamFetch with errors.Is.
type UpstreamError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream %s returned status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("upstream %s: %v", e.URL, e.Err)
}

func (e *UpstreamError) Unwrap() []error {
	if e.Err == nil {
		return []error{types.ErrUpstreamFetch}
	}
	return []error{types.ErrUpstreamFetch, e.Err}
}

// Fetch performs a buffered GET within the budget. Non-2xx responses are
// errors. Compressed bodies are decoded.
func Fetch(ctx context.Context, client interfaces.HTTPClient, target string, h headers.HeaderSet, budget Budget) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, budget.Total())
	defer cancel()

	req, err := newRequest(ctx, target, h)
	if err != nil {
		return nil, err
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", acceptEncoding)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &UpstreamError{URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &UpstreamError{URL: target, StatusCode: resp.StatusCode}
	}

	body, err := decodeBody(resp)
	if err != nil {
		return nil, &UpstreamError{URL: target, Err: err}
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, maxBodySize+1))
	if err != nil {
		return nil, &UpstreamError{URL: target, Err: err}
	}
	if len(data) > maxBodySize {
		return nil, &UpstreamError{URL: target, Err: fmt.Errorf("body exceeds %d bytes", maxBodySize)}
	}

	finalURL := target
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Result{
		URL:        finalURL,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// Stream performs a GET whose body is relayed as it arrives. The response
// headers must arrive within budget.Connect; afterwards every read must make
// progress within budget.Read. Cancelling ctx or closing the body releases
// the upstream connection.
func Stream(ctx context.Context, client interfaces.HTTPClient, target string, h headers.HeaderSet, budget Budget) (*http.Response, error) {
	ctx, cancel := context.WithCancel(ctx)

	var timedOut atomic.Bool
	timer := time.AfterFunc(budget.Connect, func() {
		timedOut.Store(true)
		cancel()
	})

	req, err := newRequest(ctx, target, h)
	if err != nil {
		timer.Stop()
		cancel()
		return nil, err
	}
	// Let the transport negotiate compression so the relayed bytes are raw.
	req.Header.Del("Accept-Encoding")

	resp, err := client.Do(req)
	if err != nil {
		timer.Stop()
		cancel()
		if timedOut.Load() {
			err = fmt.Errorf("no response within %v: %w", budget.Connect, ErrIdleTimeout)
		}
		return nil, &UpstreamError{URL: target, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		timer.Stop()
		resp.Body.Close()
		cancel()
		return nil, &UpstreamError{URL: target, StatusCode: resp.StatusCode}
	}

	timer.Reset(budget.Read)
	resp.Body = &idleTimeoutBody{
		rc:       resp.Body,
		timer:    timer,
		idle:     budget.Read,
		timedOut: &timedOut,
		cancel:   cancel,
	}
	return resp, nil
}

// idleTimeoutBody cancels the request when no byte arrives for idle.
type idleTimeoutBody struct {
	rc       io.ReadCloser
	timer    *time.Timer
	idle     time.Duration
	timedOut *atomic.Bool
	cancel   context.CancelFunc
}

func (b *idleTimeoutBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if n > 0 {
		b.timer.Reset(b.idle)
	}
	if err != nil && err != io.EOF && b.timedOut.Load() {
		err = fmt.Errorf("no data for %v: %w", b.idle, ErrIdleTimeout)
	}
	return n, err
}

func (b *idleTimeoutBody) Close() error {
	b.timer.Stop()
	err := b.rc.Close()
	b.cancel()
	return err
}

func newRequest(ctx context.Context, target string, h headers.HeaderSet) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &UpstreamError{URL: target, Err: err}
	}
	headers.Apply(req, h)
	return req, nil
}

// decodeBody unwraps the Content-Encoding of a response the transport left
// encoded.
func decodeBody(resp *http.Response) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "", "identity":
		return resp.Body, nil
	case "br":
		return io.NopCloser(brotli.NewReader(resp.Body)), nil
	case "gzip", "x-gzip":
		return gzip.NewReader(resp.Body)
	case "zstd":
		dec, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", resp.Header.Get("Content-Encoding"))
	}
}
