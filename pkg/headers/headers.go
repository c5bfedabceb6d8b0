// Package headers carries upstream request headers through proxy URLs.
//
// Players cannot set User-Agent, Referer or Origin on their own, so every
// rewritten URL embeds them as query parameters prefixed with "h_". The next
// request to the proxy decodes them back into the exact same set.
package headers

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// Prefix marks a query parameter as a header carrier.
const Prefix = "h_"

// Header is a single name/value pair.
type Header struct {
	Name  string
	Value string
}

// HeaderSet is an ordered set of headers. Names compare case-insensitively
// but keep their original spelling.
type HeaderSet []Header

// Get returns the value for name, or "" when absent.
func (h HeaderSet) Get(name string) string {
	if i := h.index(name); i >= 0 {
		return h[i].Value
	}
	return ""
}

// Has reports whether name is present.
func (h HeaderSet) Has(name string) bool {
	return h.index(name) >= 0
}

// Set replaces the value of name in place, or appends it.
func (h *HeaderSet) Set(name, value string) {
	if i := h.index(name); i >= 0 {
		(*h)[i].Value = value
		return
	}
	*h = append(*h, Header{Name: name, Value: value})
}

// SetDefault sets name only when it is absent.
func (h *HeaderSet) SetDefault(name, value string) {
	if value == "" || h.Has(name) {
		return
	}
	*h = append(*h, Header{Name: name, Value: value})
}

// Del removes name.
func (h *HeaderSet) Del(name string) {
	if i := h.index(name); i >= 0 {
		*h = append((*h)[:i], (*h)[i+1:]...)
	}
}

// Clone returns a copy that can be modified independently.
func (h HeaderSet) Clone() HeaderSet {
	if h == nil {
		return nil
	}
	out := make(HeaderSet, len(h))
	copy(out, h)
	return out
}

// Map returns the set as a plain map, mostly for logging.
func (h HeaderSet) Map() map[string]string {
	m := make(map[string]string, len(h))
	for _, hdr := range h {
		m[hdr.Name] = hdr.Value
	}
	return m
}

func (h HeaderSet) index(name string) int {
	for i, hdr := range h {
		if strings.EqualFold(hdr.Name, name) {
			return i
		}
	}
	return -1
}

// Decode extracts the header set from a raw query string, keeping the order
// in which parameters appear. Malformed pairs are skipped.
func Decode(rawQuery string) HeaderSet {
	var h HeaderSet
	for rawQuery != "" {
		var pair string
		pair, rawQuery, _ = strings.Cut(rawQuery, "&")
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		if len(key) < len(Prefix) || !strings.EqualFold(key[:len(Prefix)], Prefix) {
			continue
		}
		name, ok := decodeName(key[len(Prefix):])
		if !ok {
			continue
		}
		v, err := url.QueryUnescape(value)
		if err != nil {
			continue
		}
		if h.Has(name) {
			continue
		}
		h = append(h, Header{Name: name, Value: strings.TrimSpace(v)})
	}
	return h
}

// DecodeValues extracts the header set from an already parsed query. Keys are
// visited in sorted order since url.Values carries no ordering.
func DecodeValues(query url.Values) HeaderSet {
	keys := make([]string, 0, len(query))
	for key := range query {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var h HeaderSet
	for _, key := range keys {
		values := query[key]
		if len(values) == 0 || len(key) < len(Prefix) || !strings.EqualFold(key[:len(Prefix)], Prefix) {
			continue
		}
		name := strings.ReplaceAll(key[len(Prefix):], "_", "-")
		if name == "" || h.Has(name) {
			continue
		}
		h = append(h, Header{Name: name, Value: strings.TrimSpace(values[0])})
	}
	return h
}

func decodeName(raw string) (string, bool) {
	name, err := url.QueryUnescape(raw)
	if err != nil {
		return "", false
	}
	name = strings.ReplaceAll(name, "_", "-")
	return name, name != ""
}

// Encode renders the set as "h_<name>=<value>" pairs joined by "&".
func Encode(h HeaderSet) string {
	var b strings.Builder
	for i, hdr := range h {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(Prefix)
		b.WriteString(url.QueryEscape(hdr.Name))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(hdr.Value))
	}
	return b.String()
}

// Defaults are applied to a decoded set when the client did not supply them.
type Defaults struct {
	UserAgent string
	Referer   string
	Origin    string
}

// ApplyDefaults fills in User-Agent, Referer and Origin when absent. An empty
// Referer or Origin default is derived from the target URL's scheme and host.
func ApplyDefaults(h HeaderSet, d Defaults, target string) HeaderSet {
	out := h.Clone()
	out.SetDefault("User-Agent", d.UserAgent)

	referer, origin := d.Referer, d.Origin
	if referer == "" || origin == "" {
		if u, err := url.Parse(target); err == nil && u.Scheme != "" && u.Host != "" {
			if referer == "" {
				referer = u.Scheme + "://" + u.Host + "/"
			}
			if origin == "" {
				origin = u.Scheme + "://" + u.Host
			}
		}
	}
	out.SetDefault("Referer", referer)
	out.SetDefault("Origin", origin)
	return out
}

// ToHTTP converts the set into an http.Header. A Host entry is skipped since
// net/http takes it from the request instead.
func ToHTTP(h HeaderSet) http.Header {
	out := make(http.Header, len(h))
	for _, hdr := range h {
		if strings.EqualFold(hdr.Name, "Host") {
			continue
		}
		out.Set(hdr.Name, hdr.Value)
	}
	return out
}

// Apply copies the set onto an outbound request.
func Apply(req *http.Request, h HeaderSet) {
	for _, hdr := range h {
		if strings.EqualFold(hdr.Name, "Host") {
			req.Host = hdr.Value
			continue
		}
		req.Header.Set(hdr.Name, hdr.Value)
	}
}
