package resolver

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"iptv-relay/pkg/types"

	"github.com/buger/jsonparser"
)

// Params are the session values scraped from the player iframe.
type Params struct {
	ChannelKey string
	AuthTs     string
	AuthRnd    string
	// AuthSig is already query-escaped.
	AuthSig    string
	LookupPath string
	// AuthHost is the auth endpoint prefix; the channel key is appended to it.
	// Empty when the page does not call one.
	AuthHost string
	// HostTemplate sits between the two copies of the server key in the
	// playlist host. Empty when the page carries no m3u8 assignment.
	HostTemplate string
}

// AuthURL builds the auth endpoint call, or "" when there is none.
func (p Params) AuthURL() string {
	if p.AuthHost == "" {
		return ""
	}
	return p.AuthHost + p.ChannelKey + "&ts=" + p.AuthTs + "&rnd=" + p.AuthRnd + "&sig=" + p.AuthSig
}

// ExtractionError lists the parameters a player page did not carry.
type ExtractionError struct {
	Missing []string
}

func (e *ExtractionError) Error() string {
	return "missing " + strings.Join(e.Missing, ", ")
}

func (e *ExtractionError) Is(target error) bool {
	return target == types.ErrUnresolvableSource
}

var (
	iframePatterns = []*regexp.Regexp{
		regexp.MustCompile(`<iframe[^>]*\ssrc=["']([^"']+)["']`),
		regexp.MustCompile(`<iframe[^>]*\ssrc=([^\s>]+)`),
	}

	channelKeyPattern = regexp.MustCompile(`(?:channelKey|CHANNEL_KEY)\s*=\s*["']([^"']+)["']`)
	authTsPattern     = regexp.MustCompile(`authTs\s*=\s*["']([^"']+)["']`)
	authRndPattern    = regexp.MustCompile(`authRnd\s*=\s*["']([^"']+)["']`)
	authSigPattern    = regexp.MustCompile(`authSig\s*=\s*["']([^"']+)["']`)

	// fetchWithRetry('https://auth.host/auth.php?channel_id=' + ...)
	authHostPattern = regexp.MustCompile(`fetchWithRetry\s*\(\s*["'](https?://[^"']+)["']`)
	// fetchWithRetry('/server_lookup.php?channel_id=' + ...)
	lookupPathPattern = regexp.MustCompile(`fetchWithRetry\s*\(\s*["'](/[^"']*)["']`)

	// m3u8 = (sk == 'top1/cdn') ? '//top1/...' : "https://" + sk + "new.host/" + sk + ...
	hostTemplatePattern = regexp.MustCompile(`m3u8\s*=.*?["']https://["']\s*\+\s*\w+\s*\+\s*["']([^"']*)["']`)
)

// FindIframe returns the first usable iframe src of a page.
func FindIframe(pageBody string) (string, bool) {
	for _, re := range iframePatterns {
		for _, m := range re.FindAllStringSubmatch(pageBody, -1) {
			src := strings.Trim(m[1], `"'`)
			if src == "" || strings.HasPrefix(src, "javascript:") || strings.HasPrefix(src, "about:") || strings.HasPrefix(src, "data:") {
				continue
			}
			return src, true
		}
	}
	return "", false
}

// ExtractParams scrapes the session parameters from a player iframe body.
// All five required values must be present; nothing is returned otherwise.
func ExtractParams(iframeBody string) (Params, error) {
	var missing []string
	find := func(name string, re *regexp.Regexp, required bool) string {
		if m := re.FindStringSubmatch(iframeBody); m != nil && m[1] != "" {
			return m[1]
		}
		if required {
			missing = append(missing, name)
		}
		return ""
	}

	p := Params{
		ChannelKey:   find("channel key", channelKeyPattern, true),
		AuthTs:       find("auth timestamp", authTsPattern, true),
		AuthRnd:      find("auth nonce", authRndPattern, true),
		AuthSig:      url.QueryEscape(find("auth signature", authSigPattern, true)),
		LookupPath:   find("lookup path", lookupPathPattern, true),
		AuthHost:     find("auth host", authHostPattern, false),
		HostTemplate: find("host template", hostTemplatePattern, false),
	}
	if len(missing) > 0 {
		return Params{}, &ExtractionError{Missing: missing}
	}
	return p, nil
}

// LookupURL combines the iframe's scheme and host with the lookup path and
// channel key.
func LookupURL(iframeURL string, p Params) (string, error) {
	u, err := url.Parse(iframeURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("iframe url %q is not absolute: %w", iframeURL, types.ErrUnresolvableSource)
	}
	return u.Scheme + "://" + u.Host + p.LookupPath + p.ChannelKey, nil
}

// ParseServerKey reads the server_key field of a lookup response.
func ParseServerKey(body []byte) (string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return "", fmt.Errorf("lookup response is not a JSON object: %w", types.ErrMalformedUpstreamData)
	}

	value, dataType, _, err := jsonparser.Get(trimmed, "server_key")
	switch {
	case errors.Is(err, jsonparser.KeyPathNotFoundError):
		return "", fmt.Errorf("lookup response has no server_key: %w", types.ErrUnresolvableSource)
	case err != nil:
		return "", fmt.Errorf("parse lookup response: %v: %w", err, types.ErrMalformedUpstreamData)
	case dataType != jsonparser.String:
		return "", fmt.Errorf("server_key is a %s, not a string: %w", dataType, types.ErrMalformedUpstreamData)
	}

	key, err := jsonparser.ParseString(value)
	if err != nil {
		return "", fmt.Errorf("parse server_key: %v: %w", err, types.ErrMalformedUpstreamData)
	}
	if key == "" {
		return "", fmt.Errorf("lookup response has an empty server_key: %w", types.ErrUnresolvableSource)
	}
	return key, nil
}

// BuildPlaylistURL assembles the final playlist URL. The server key appears
// twice, around the host template, exactly as the host's player does it.
func BuildPlaylistURL(serverKey, hostTemplate, channelKey string) string {
	return "https://" + serverKey + hostTemplate + serverKey + "/" + channelKey + "/mono.m3u8"
}
