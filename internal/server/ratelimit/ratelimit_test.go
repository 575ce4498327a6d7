package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucket_Take(t *testing.T) {
	bucket := newTokenBucket(10, 1.0)

	for i := 0; i < 10; i++ {
		allowed, _, _ := bucket.take()
		assert.True(t, allowed, "request %d", i+1)
	}

	allowed, remaining, resetTime := bucket.take()
	assert.False(t, allowed)
	assert.Equal(t, 0, remaining)
	assert.True(t, resetTime.After(time.Now()))
}

func TestTokenBucket_Refill(t *testing.T) {
	bucket := newTokenBucket(2, 20.0)
	bucket.take()
	bucket.take()

	allowed, _, _ := bucket.take()
	require.False(t, allowed)

	time.Sleep(100 * time.Millisecond)
	allowed, _, _ = bucket.take()
	assert.True(t, allowed)
}

func TestLimiter_Allow(t *testing.T) {
	limiter := NewLimiter(&Config{Enabled: true, DefaultLimit: 3, DefaultWindow: time.Minute})
	defer limiter.Stop()

	for i := 0; i < 3; i++ {
		allowed, info := limiter.Allow("10.0.0.1", "/runs/abc", "GET")
		require.True(t, allowed)
		assert.Equal(t, 3, info.Limit)
		assert.Equal(t, 2-i, info.Remaining)
	}

	allowed, info := limiter.Allow("10.0.0.1", "/runs/abc", "GET")
	assert.False(t, allowed)
	assert.Greater(t, info.RetryAfter, time.Duration(0))

	// Other clients have their own bucket
	allowed, _ = limiter.Allow("10.0.0.2", "/runs/abc", "GET")
	assert.True(t, allowed)
}

func TestLimiter_WhitelistBlacklist(t *testing.T) {
	limiter := NewLimiter(&Config{
		Enabled:       true,
		DefaultLimit:  1,
		DefaultWindow: time.Minute,
		Whitelist:     map[string]bool{"trusted": true},
		Blacklist:     map[string]bool{"banned": true},
	})
	defer limiter.Stop()

	for i := 0; i < 5; i++ {
		allowed, _ := limiter.Allow("trusted", "/runs", "POST")
		assert.True(t, allowed)
	}

	allowed, _ := limiter.Allow("banned", "/health", "GET")
	assert.False(t, allowed)
}

func TestLimiter_Disabled(t *testing.T) {
	limiter := NewLimiter(&Config{Enabled: false, DefaultLimit: 1, DefaultWindow: time.Minute})
	defer limiter.Stop()

	for i := 0; i < 5; i++ {
		allowed, _ := limiter.Allow("client", "/runs", "POST")
		assert.True(t, allowed)
	}
}

func TestLimiter_EndpointSpecific(t *testing.T) {
	limiter := NewLimiter(&Config{
		Enabled:         true,
		DefaultLimit:    100,
		DefaultWindow:   time.Minute,
		EndpointConfigs: DefaultEndpointConfigs(),
	})
	defer limiter.Stop()

	// Starting runs allows a burst of 2
	for i := 0; i < 2; i++ {
		allowed, _ := limiter.Allow("client", "/runs", "POST")
		require.True(t, allowed)
	}
	allowed, info := limiter.Allow("client", "/runs", "POST")
	assert.False(t, allowed)
	assert.Equal(t, 10, info.Limit)

	// Health is never limited
	for i := 0; i < 500; i++ {
		allowed, _ := limiter.Allow("client", "/health", "GET")
		require.True(t, allowed)
	}
}

func TestLimiter_Concurrent(t *testing.T) {
	limiter := NewLimiter(&Config{Enabled: true, DefaultLimit: 50, DefaultWindow: time.Hour})
	defer limiter.Stop()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowedCount := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := limiter.Allow("client", "/runs/x", "GET"); ok {
				mu.Lock()
				allowedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowedCount)
}

func TestLimiter_Cleanup(t *testing.T) {
	limiter := NewLimiter(&Config{Enabled: true, DefaultLimit: 10, DefaultWindow: time.Minute, IdleTTL: 10 * time.Millisecond})
	defer limiter.Stop()

	limiter.Allow("a", "/runs/1", "GET")
	limiter.Allow("b", "/runs/1", "GET")
	require.Equal(t, 2, limiter.Len())

	time.Sleep(30 * time.Millisecond)
	limiter.Allow("c", "/runs/1", "GET")
	limiter.Cleanup()

	assert.Equal(t, 1, limiter.Len())
}

func TestLimiter_StopIsIdempotent(t *testing.T) {
	limiter := NewLimiter(&Config{Enabled: true, DefaultLimit: 1, DefaultWindow: time.Minute, CleanupInterval: time.Millisecond})
	limiter.Stop()
	limiter.Stop()
}

func TestNewLimiter_NilConfig(t *testing.T) {
	limiter := NewLimiter(nil)
	defer limiter.Stop()

	allowed, info := limiter.Allow("client", "/anything", "GET")
	assert.True(t, allowed)
	assert.Equal(t, 1000, info.Limit)
}

func TestMatchEndpoint(t *testing.T) {
	configs := DefaultEndpointConfigs()

	tests := []struct {
		path, method string
		wantLimit    int
		wantNil      bool
	}{
		{path: "/runs", method: "POST", wantLimit: 10},
		{path: "/runs/123/archive", method: "GET", wantLimit: 120},
		{path: "/auth/token", method: "POST", wantLimit: 20},
		{path: "/health", method: "GET", wantLimit: 0},
		{path: "/runs", method: "GET", wantNil: true},
	}
	for _, tt := range tests {
		got := MatchEndpoint(tt.path, tt.method, configs)
		if tt.wantNil {
			assert.Nil(t, got, "%s %s", tt.method, tt.path)
			continue
		}
		require.NotNil(t, got, "%s %s", tt.method, tt.path)
		assert.Equal(t, tt.wantLimit, got.Limit, "%s %s", tt.method, tt.path)
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestFromLookup_Defaults(t *testing.T) {
	cfg := FromLookup(mapLookup(nil))

	assert.True(t, cfg.Enabled)
	assert.Equal(t, 300, cfg.DefaultLimit)
	assert.Equal(t, time.Minute, cfg.DefaultWindow)
	assert.Equal(t, time.Hour, cfg.IdleTTL)
	assert.Empty(t, cfg.Whitelist)
	assert.Len(t, cfg.EndpointConfigs, 3)
}

func TestFromLookup_Overrides(t *testing.T) {
	cfg := FromLookup(mapLookup(map[string]string{
		"RATE_LIMIT_DEFAULT_LIMIT":  "50",
		"RATE_LIMIT_DEFAULT_WINDOW": "30s",
		"RATE_LIMIT_IDLE_TTL":       "not-a-duration",
		"RATE_LIMIT_WHITELIST":      " 10.0.0.1, ::ffff:10.0.0.2 ,bogus,",
		"RATE_LIMIT_BLACKLIST":      "192.168.1.9",
	}))

	assert.Equal(t, 50, cfg.DefaultLimit)
	assert.Equal(t, 30*time.Second, cfg.DefaultWindow)
	assert.Equal(t, time.Hour, cfg.IdleTTL)
	assert.Equal(t, map[string]bool{"10.0.0.1": true, "10.0.0.2": true}, cfg.Whitelist)
	assert.Equal(t, map[string]bool{"192.168.1.9": true}, cfg.Blacklist)
}

func TestFromLookup_Disabled(t *testing.T) {
	cfg := FromLookup(mapLookup(map[string]string{"RATE_LIMIT_ENABLED": "false"}))
	assert.False(t, cfg.Enabled)

	limiter := NewLimiter(cfg)
	defer limiter.Stop()
	allowed, _ := limiter.Allow("10.0.0.1", "/runs", "POST")
	assert.True(t, allowed)
}
