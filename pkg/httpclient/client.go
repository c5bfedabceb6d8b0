// Package httpclient provides the upstream HTTP transport with proxy routing
// and browser TLS fingerprinting, plus budgeted fetch helpers.
package httpclient

import (
	"bufio"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"iptv-relay/pkg/config"
	"iptv-relay/pkg/logging"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
	"golang.org/x/net/proxy"
	"golang.org/x/net/publicsuffix"
)

// Client routes upstream requests through the transport their URL asks for:
// a configured route, the browser fingerprint transport, a global proxy or
// the plain pooled transport. It implements http.RoundTripper, so any number
// of http.Clients (and cookie jars) can share its connection pools.
type Client struct {
	defaultTransport http.RoundTripper
	utlsTransport    http.RoundTripper // browser-like TLS fingerprint for Cloudflare fronted hosts
	proxyTransports  map[string]http.RoundTripper
	routes           []config.TransportRoute
	globalProxies    []string
	utlsDomains      []string
	mu               sync.RWMutex
	log              *logging.Logger

	httpClient *http.Client
}

// Hosts that always get the browser fingerprint, on top of the gated hosts.
var utlsDomains = []string{
	"newkso.ru",
}

// upstreamDialer is shared by every transport. Connect deadlines come from
// the request context, the dialer timeout is only a backstop.
var upstreamDialer = &net.Dialer{
	Timeout:   30 * time.Second,
	KeepAlive: 60 * time.Second,
}

// dialIPv4 keeps upstream connections on IPv4; many IPTV edges publish AAAA
// records they do not serve.
func dialIPv4(ctx context.Context, network, addr string) (net.Conn, error) {
	if network == "tcp" {
		network = "tcp4"
	}
	return upstreamDialer.DialContext(ctx, network, addr)
}

func newPooledTransport() *http.Transport {
	return &http.Transport{
		DialContext:           dialIPv4,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// New creates a new upstream client with the given configuration.
func New(cfg *config.Config, log *logging.Logger) *Client {
	c := &Client{
		defaultTransport: newPooledTransport(),
		utlsTransport:    newUTLSRoundTripper(),
		proxyTransports:  make(map[string]http.RoundTripper),
		routes:           cfg.TransportRoutes,
		globalProxies:    cfg.GlobalProxies,
		utlsDomains:      append(append([]string(nil), utlsDomains...), cfg.GatedHosts...),
		log:              log.WithComponent("httpclient"),
	}
	c.httpClient = &http.Client{Transport: c}
	return c
}

// HTTPClient returns a shared client without cookies. Timeouts come from the
// request context, never from the client.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Session returns a client with its own cookie jar on the shared transport.
// Cookies set by one step of a handshake are sent by the next.
func (c *Client) Session() *http.Client {
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return &http.Client{Transport: c, Jar: jar}
}

// Do executes an HTTP request, routing through proxies as configured.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.httpClient.Do(req)
}

// RoundTrip implements http.RoundTripper.
func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	return c.transportForURL(req.URL.String()).RoundTrip(req)
}

// utlsRoundTripper implements http.RoundTripper with utls and HTTP/2 support.
// Every request gets its own connection; the connection is closed together
// with the response body.
type utlsRoundTripper struct {
	h2       *http2.Transport
	fallback http.RoundTripper
}

func newUTLSRoundTripper() *utlsRoundTripper {
	return &utlsRoundTripper{
		h2:       &http2.Transport{},
		fallback: newPooledTransport(),
	}
}

func (t *utlsRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return t.fallback.RoundTrip(req)
	}

	addr := req.URL.Host
	if req.URL.Port() == "" {
		addr = net.JoinHostPort(req.URL.Hostname(), "443")
	}

	conn, err := dialIPv4(req.Context(), "tcp", addr)
	if err != nil {
		return nil, err
	}

	utlsConn := utls.UClient(conn, &utls.Config{ServerName: req.URL.Hostname()}, utls.HelloChrome_120)
	if err := utlsConn.HandshakeContext(req.Context()); err != nil {
		conn.Close()
		return nil, err
	}

	if utlsConn.ConnectionState().NegotiatedProtocol == "h2" {
		h2Conn, err := t.h2.NewClientConn(utlsConn)
		if err != nil {
			utlsConn.Close()
			return nil, err
		}
		resp, err := h2Conn.RoundTrip(req)
		if err != nil {
			utlsConn.Close()
			return nil, err
		}
		resp.Body = &connCloser{ReadCloser: resp.Body, conn: utlsConn}
		return resp, nil
	}

	return t.roundTripHTTP1(utlsConn, req)
}

func (t *utlsRoundTripper) roundTripHTTP1(conn net.Conn, req *http.Request) (*http.Response, error) {
	// Close the connection when the request is cancelled mid-read.
	stop := context.AfterFunc(req.Context(), func() { conn.Close() })

	if err := req.Write(conn); err != nil {
		stop()
		conn.Close()
		return nil, err
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		stop()
		conn.Close()
		return nil, err
	}

	resp.Body = &connCloser{ReadCloser: resp.Body, conn: conn, stop: stop}
	return resp, nil
}

type connCloser struct {
	io.ReadCloser
	conn net.Conn
	stop func() bool
}

func (c *connCloser) Close() error {
	if c.stop != nil {
		c.stop()
	}
	c.ReadCloser.Close()
	return c.conn.Close()
}

// needsUTLS reports whether targetURL belongs to a host that rejects Go's
// TLS fingerprint.
func (c *Client) needsUTLS(targetURL string) bool {
	lower := strings.ToLower(targetURL)
	for _, domain := range c.utlsDomains {
		if domain != "" && strings.Contains(lower, strings.ToLower(domain)) {
			return true
		}
	}
	return false
}

// transportForURL returns the transport for a URL. Explicit transport routes
// win, then the fingerprint transport, then the global proxy.
func (c *Client) transportForURL(targetURL string) http.RoundTripper {
	for _, route := range c.routes {
		if !strings.Contains(targetURL, route.URLPattern) {
			continue
		}
		c.log.Debug("matched transport route", "url", logging.RedactURL(targetURL), "pattern", route.URLPattern, "proxy", route.Proxy, "direct", route.Direct)

		if route.Direct {
			if route.DisableSSL {
				return c.insecureTransport()
			}
			return c.defaultTransport
		}
		if route.Proxy != "" {
			return c.proxyTransport(route.Proxy, route.DisableSSL)
		}
		if route.DisableSSL {
			return c.insecureTransport()
		}
	}

	if c.needsUTLS(targetURL) {
		return c.utlsTransport
	}

	if len(c.globalProxies) > 0 {
		return c.proxyTransport(c.globalProxies[0], false)
	}

	return c.defaultTransport
}

// proxyTransport returns the transport for proxyURL, creating it once.
func (c *Client) proxyTransport(proxyURL string, disableSSL bool) http.RoundTripper {
	cacheKey := proxyURL
	if disableSSL {
		cacheKey += ":insecure"
	}

	c.mu.RLock()
	if t, ok := c.proxyTransports[cacheKey]; ok {
		c.mu.RUnlock()
		return t
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.proxyTransports[cacheKey]; ok {
		return t
	}

	t := c.newProxyTransport(proxyURL, disableSSL)
	c.proxyTransports[cacheKey] = t
	c.log.Debug("created proxy transport", "proxy", proxyURL, "disable_ssl", disableSSL)

	return t
}

// newProxyTransport builds a pooled transport that dials through proxyURL.
// An empty proxyURL gives a direct transport.
func (c *Client) newProxyTransport(proxyURL string, disableSSL bool) http.RoundTripper {
	transport := newPooledTransport()
	if disableSSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	if proxyURL == "" {
		return transport
	}

	parsedURL, err := url.Parse(proxyURL)
	if err != nil {
		c.log.Error("failed to parse proxy URL", "url", proxyURL, "error", err)
		return c.defaultTransport
	}

	switch parsedURL.Scheme {
	case "socks5", "socks5h":
		dialer, err := proxy.FromURL(parsedURL, proxy.Direct)
		if err != nil {
			c.log.Error("failed to create SOCKS5 dialer", "error", err)
			return c.defaultTransport
		}
		if contextDialer, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = contextDialer.DialContext
		} else {
			transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsedURL)
	default:
		c.log.Warn("unsupported proxy scheme", "scheme", parsedURL.Scheme)
		return c.defaultTransport
	}

	return transport
}

// insecureTransport returns a direct transport that skips certificate checks.
func (c *Client) insecureTransport() http.RoundTripper {
	return c.proxyTransport("", true)
}
