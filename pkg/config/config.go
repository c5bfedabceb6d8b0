// Package config handles application configuration from flags, environment
// variables and an optional config file, all merged through viper.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultUserAgent is sent upstream when the client supplied none.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port         int
	BaseURL      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Proxy settings
	GlobalProxies   []string
	TransportRoutes []TransportRoute

	// Logging
	LogLevel string
	LogJSON  bool

	// Upstream header defaults. An empty Referer or Origin is derived from
	// the target URL.
	UserAgent string
	Referer   string
	Origin    string

	// Resolver settings
	GatedHosts   []string
	ResolveRate  float64
	ResolveBurst int

	// Channel cache
	CacheSize int
	CacheTTL  time.Duration
	Channels  []Channel

	Budgets Budgets
}

// TransportRoute defines URL-specific proxy routing.
type TransportRoute struct {
	URLPattern string
	Proxy      string
	DisableSSL bool
	Direct     bool // If true, bypass global proxy and connect directly
}

// Channel is a named source served under /channel/{name}.
type Channel struct {
	Name  string `mapstructure:"name"`
	URL   string `mapstructure:"url"`
	Group string `mapstructure:"group"`
}

// FetchBudget bounds a single upstream fetch.
type FetchBudget struct {
	Connect time.Duration
	Read    time.Duration
}

// Budgets holds the fetch budget of every kind of upstream request.
type Budgets struct {
	Playlist FetchBudget
	Segment  FetchBudget
	Key      FetchBudget
	Lookup   FetchBudget
	Page     FetchBudget
}

var budgetDefaults = map[string]FetchBudget{
	"playlist": {10 * time.Second, 20 * time.Second},
	"segment":  {10 * time.Second, 30 * time.Second},
	"key":      {5 * time.Second, 15 * time.Second},
	"lookup":   {5 * time.Second, 15 * time.Second},
	"page":     {10 * time.Second, 20 * time.Second},
}

// SetDefaults registers every key with its default value. Flags bound later
// take precedence over these.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", 7860)
	v.SetDefault("base-url", "")
	v.SetDefault("read-timeout", 30*time.Second)
	v.SetDefault("write-timeout", 120*time.Second)
	v.SetDefault("idle-timeout", 60*time.Second)
	v.SetDefault("global-proxies", "")
	v.SetDefault("global-proxy", "")
	v.SetDefault("transport-routes", "")
	v.SetDefault("log-level", "info")
	v.SetDefault("log-json", false)
	v.SetDefault("user-agent", DefaultUserAgent)
	v.SetDefault("referer", "")
	v.SetDefault("origin", "")
	v.SetDefault("gated-hosts", "dlhd.,daddylive,daddyhd")
	v.SetDefault("resolve-rate", 2.0)
	v.SetDefault("resolve-burst", 4)
	v.SetDefault("cache-size", 128)
	v.SetDefault("cache-ttl", 10*time.Minute)
	v.SetDefault("channels", "")
	v.SetDefault("channels-file", "")
	for kind, b := range budgetDefaults {
		v.SetDefault("budget-"+kind+"-connect", b.Connect)
		v.SetDefault("budget-"+kind+"-read", b.Read)
	}
}

// Load builds a Config from v. Environment variables are matched by upper
// casing the key and replacing "-" with "_", e.g. LOG_LEVEL.
func Load(v *viper.Viper) (*Config, error) {
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		Port:            v.GetInt("port"),
		BaseURL:         strings.TrimSuffix(v.GetString("base-url"), "/"),
		ReadTimeout:     getDuration(v, "read-timeout"),
		WriteTimeout:    getDuration(v, "write-timeout"),
		IdleTimeout:     getDuration(v, "idle-timeout"),
		GlobalProxies:   splitList(v.GetString("global-proxies")),
		TransportRoutes: parseTransportRoutes(v.GetString("transport-routes")),
		LogLevel:        v.GetString("log-level"),
		LogJSON:         v.GetBool("log-json"),
		UserAgent:       v.GetString("user-agent"),
		Referer:         v.GetString("referer"),
		Origin:          v.GetString("origin"),
		GatedHosts:      splitList(v.GetString("gated-hosts")),
		ResolveRate:     v.GetFloat64("resolve-rate"),
		ResolveBurst:    v.GetInt("resolve-burst"),
		CacheSize:       v.GetInt("cache-size"),
		CacheTTL:        getDuration(v, "cache-ttl"),
	}

	// Legacy single proxy support
	if globalProxy := v.GetString("global-proxy"); globalProxy != "" && len(cfg.GlobalProxies) == 0 {
		cfg.GlobalProxies = []string{globalProxy}
	}

	cfg.Budgets = Budgets{
		Playlist: getBudget(v, "playlist"),
		Segment:  getBudget(v, "segment"),
		Key:      getBudget(v, "key"),
		Lookup:   getBudget(v, "lookup"),
		Page:     getBudget(v, "page"),
	}

	channels, err := loadChannels(v)
	if err != nil {
		return nil, err
	}
	if path := v.GetString("channels-file"); path != "" {
		fromFile, err := loadChannelFile(path, channels)
		if err != nil {
			return nil, err
		}
		channels = append(channels, fromFile...)
	}
	cfg.Channels = channels

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("cache-size must be positive, got %d", c.CacheSize)
	}
	if c.ResolveRate < 0 {
		return fmt.Errorf("resolve-rate must not be negative, got %v", c.ResolveRate)
	}
	seen := make(map[string]bool, len(c.Channels))
	for _, ch := range c.Channels {
		if seen[ch.Name] {
			return fmt.Errorf("duplicate channel %q", ch.Name)
		}
		seen[ch.Name] = true
	}
	return nil
}

// Channel looks up a configured channel by name.
func (c *Config) Channel(name string) (Channel, bool) {
	for _, ch := range c.Channels {
		if ch.Name == name {
			return ch, true
		}
	}
	return Channel{}, false
}

// loadChannels accepts either a list of {name, url, group} maps from the
// config file or a "name=url, name2=url2" string from a flag or the
// environment.
func loadChannels(v *viper.Viper) ([]Channel, error) {
	if _, isList := v.Get("channels").([]interface{}); isList {
		var channels []Channel
		if err := v.UnmarshalKey("channels", &channels); err != nil {
			return nil, fmt.Errorf("invalid channels: %w", err)
		}
		for _, ch := range channels {
			if ch.Name == "" || ch.URL == "" {
				return nil, fmt.Errorf("invalid channel entry: %+v", ch)
			}
		}
		return channels, nil
	}
	return parseChannels(v.GetString("channels"))
}

// parseChannels parses the CHANNELS env var.
// Format: name=url, name2=url2
func parseChannels(s string) ([]Channel, error) {
	var channels []Channel
	for _, entry := range splitList(s) {
		name, rawURL, ok := strings.Cut(entry, "=")
		name, rawURL = strings.TrimSpace(name), strings.TrimSpace(rawURL)
		if !ok || name == "" || rawURL == "" {
			return nil, fmt.Errorf("invalid channel entry %q, expected name=url", entry)
		}
		channels = append(channels, Channel{Name: name, URL: rawURL})
	}
	return channels, nil
}

// parseTransportRoutes parses the TRANSPORT_ROUTES env var.
// Format: {URL=pattern, PROXY=url, DISABLE_SSL=true}, {URL=pattern2}
func parseTransportRoutes(s string) []TransportRoute {
	if s == "" {
		return nil
	}

	var routes []TransportRoute
	s = strings.TrimSpace(s)

	// Split by "}, {" pattern
	parts := strings.Split(s, "}, {")
	for _, part := range parts {
		part = strings.Trim(part, "{} ")
		if part == "" {
			continue
		}

		route := TransportRoute{}
		for _, field := range strings.Split(part, ", ") {
			key, value, ok := strings.Cut(field, "=")
			if !ok {
				continue
			}
			value = strings.TrimSpace(value)

			switch strings.ToUpper(strings.TrimSpace(key)) {
			case "URL":
				route.URLPattern = value
			case "PROXY":
				route.Proxy = value
			case "DISABLE_SSL":
				route.DisableSSL = strings.EqualFold(value, "true")
			case "DIRECT":
				route.Direct = strings.EqualFold(value, "true")
			}
		}
		if route.URLPattern != "" {
			routes = append(routes, route)
		}
	}

	return routes
}

func getBudget(v *viper.Viper, kind string) FetchBudget {
	return FetchBudget{
		Connect: getDuration(v, "budget-"+kind+"-connect"),
		Read:    getDuration(v, "budget-"+kind+"-read"),
	}
}

// getDuration reads a duration that may be given as a plain number of
// seconds or as a duration string.
func getDuration(v *viper.Viper, key string) time.Duration {
	switch val := v.Get(key).(type) {
	case time.Duration:
		return val
	case int:
		return time.Duration(val) * time.Second
	case string:
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return v.GetDuration(key)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
