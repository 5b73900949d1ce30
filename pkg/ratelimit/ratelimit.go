package ratelimit

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"

	"github.com/telekom/trustcore/pkg/metrics"
)

// Config holds rate limiter configuration
type Config struct {
	// Rate is the number of tokens added per second
	Rate float64 `yaml:"rate"`
	// Burst is the bucket size
	Burst int `yaml:"burst"`
	// CleanupInterval is how often to clean up stale entries
	CleanupInterval time.Duration `yaml:"cleanupInterval"`
	// MaxAge is how long to keep an entry after last access
	MaxAge time.Duration `yaml:"maxAge"`
	// Clock defaults to the wall clock
	Clock clock.Clock `yaml:"-"`
}

// DefaultAPIConfig returns default config for the read API
// 20 req/s per IP, burst of 50
func DefaultAPIConfig() Config {
	return Config{
		Rate:            20,
		Burst:           50,
		CleanupInterval: time.Minute,
		MaxAge:          5 * time.Minute,
	}
}

// entry holds rate limiter and last access time for a key
type entry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// KeyedRateLimiter keeps one token bucket per key (client IP, subscriber id)
// and forgets keys that have been idle for MaxAge.
type KeyedRateLimiter struct {
	mu      sync.RWMutex
	entries map[string]*entry
	config  Config
	done    chan struct{}
	stop    sync.Once
}

// New creates a new keyed rate limiter with the given configuration
func New(cfg Config) *KeyedRateLimiter {
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 5 * time.Minute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}

	rl := &KeyedRateLimiter{
		entries: make(map[string]*entry),
		config:  cfg,
		done:    make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// Allow takes one token for key.
func (rl *KeyedRateLimiter) Allow(key string) bool {
	return rl.AllowN(key, 1)
}

// AllowN takes n tokens for key, all or nothing.
func (rl *KeyedRateLimiter) AllowN(key string, n int) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.config.Clock.Now()
	return rl.get(key, now).limiter.AllowN(now, n)
}

// Tokens reports how many whole tokens key could take right now.
func (rl *KeyedRateLimiter) Tokens(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.config.Clock.Now()
	t := rl.get(key, now).limiter.TokensAt(now)
	if t < 0 {
		return 0
	}
	return int(t)
}

// get returns the entry for key, creating a full bucket. Caller holds mu.
func (rl *KeyedRateLimiter) get(key string, now time.Time) *entry {
	e, exists := rl.entries[key]
	if !exists {
		e = &entry{
			limiter: rate.NewLimiter(rate.Limit(rl.config.Rate), rl.config.Burst),
		}
		rl.entries[key] = e
	}
	e.lastAccess = now
	return e
}

// Middleware returns a Gin middleware that applies per-IP rate limiting
func (rl *KeyedRateLimiter) Middleware() gin.HandlerFunc {
	return rl.MiddlewareWithExclusions(nil)
}

// MiddlewareWithExclusions is Middleware but lets requests whose path starts
// with one of the given prefixes through unmetered (probes, scrapes).
func (rl *KeyedRateLimiter) MiddlewareWithExclusions(prefixes []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, p := range prefixes {
			if strings.HasPrefix(c.Request.URL.Path, p) {
				c.Next()
				return
			}
		}
		if !rl.Allow(c.ClientIP()) {
			metrics.APIRequestsRateLimited.WithLabelValues(c.FullPath()).Inc()
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded, please try again later",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rl *KeyedRateLimiter) Stop() {
	rl.stop.Do(func() { close(rl.done) })
}

// cleanup periodically removes stale entries
func (rl *KeyedRateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.cleanupStaleEntries()
		}
	}
}

// cleanupStaleEntries removes entries that haven't been accessed recently
func (rl *KeyedRateLimiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.config.Clock.Now()
	for key, e := range rl.entries {
		if now.Sub(e.lastAccess) > rl.config.MaxAge {
			delete(rl.entries, key)
		}
	}
}

// Len returns the current number of tracked keys (for testing/metrics)
func (rl *KeyedRateLimiter) Len() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.entries)
}

// Config returns a copy of the current configuration (for testing)
func (rl *KeyedRateLimiter) Config() Config {
	return rl.config
}
