package ratelimit

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// EndpointConfig overrides the default budget for one route. Path is a prefix.
type EndpointConfig struct {
	Path   string
	Method string
	Limit  int           // requests per Window
	Window time.Duration
	Burst  int // defaults to Limit
}

// LookupFunc reads one setting; it has the shape of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// LoadConfig reads RATE_LIMIT_* from the process environment.
func LoadConfig() *Config {
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from RATE_LIMIT_* settings. Malformed values fall
// back to their defaults and unparseable addresses are dropped from the lists.
func FromLookup(lookup LookupFunc) *Config {
	if !setting(lookup, "RATE_LIMIT_ENABLED", true, strconv.ParseBool) {
		return &Config{}
	}

	return &Config{
		Enabled:         true,
		DefaultLimit:    setting(lookup, "RATE_LIMIT_DEFAULT_LIMIT", 300, strconv.Atoi),
		DefaultWindow:   setting(lookup, "RATE_LIMIT_DEFAULT_WINDOW", time.Minute, time.ParseDuration),
		CleanupInterval: setting(lookup, "RATE_LIMIT_CLEANUP_INTERVAL", 5*time.Minute, time.ParseDuration),
		IdleTTL:         setting(lookup, "RATE_LIMIT_IDLE_TTL", time.Hour, time.ParseDuration),
		Whitelist:       addressSet(lookup, "RATE_LIMIT_WHITELIST"),
		Blacklist:       addressSet(lookup, "RATE_LIMIT_BLACKLIST"),
		EndpointConfigs: DefaultEndpointConfigs(),
	}
}

// DefaultEndpointConfigs returns the per-route budgets of the control API.
// /health is never limited; see MatchEndpoint.
func DefaultEndpointConfigs() []EndpointConfig {
	return []EndpointConfig{
		// every run drives a browser through the whole orders file
		{Path: "/runs", Method: "POST", Limit: 10, Window: time.Hour, Burst: 2},
		{Path: "/auth/token", Method: "POST", Limit: 20, Window: time.Minute, Burst: 5},
		{Path: "/runs/", Method: "GET", Limit: 120, Window: time.Minute, Burst: 20},
	}
}

func setting[T any](lookup LookupFunc, key string, fallback T, parse func(string) (T, error)) T {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback
	}
	v, err := parse(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return v
}

// addressSet parses a comma separated list of client IPs, normalised so that
// "::ffff:10.0.0.1" and "10.0.0.1" hit the same entry.
func addressSet(lookup LookupFunc, key string) map[string]bool {
	set := make(map[string]bool)
	raw, _ := lookup(key)
	for _, field := range strings.Split(raw, ",") {
		ip := net.ParseIP(strings.TrimSpace(field))
		if ip == nil {
			continue
		}
		set[ip.String()] = true
	}
	return set
}
