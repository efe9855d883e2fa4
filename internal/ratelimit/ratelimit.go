// Package ratelimit provides per-caller rate limiting middleware for the API.
package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/mbd888/consultcredit/internal/logging"
	"github.com/mbd888/consultcredit/internal/metrics"
)

// Config configures rate limiting
type Config struct {
	// RequestsPerSecond is the sustained rate per caller
	RequestsPerSecond float64
	// Burst allows brief bursts above the rate
	Burst int
	// IdleTTL is how long an unused caller entry is kept
	IdleTTL time.Duration
	// CleanupInterval is how often to evict idle entries
	CleanupInterval time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 20,
		Burst:             40,
		IdleTTL:           3 * time.Minute,
		CleanupInterval:   time.Minute,
	}
}

// keyPrefixLen bounds how much of an API key is kept in memory.
const keyPrefixLen = 16

// Limiter tracks a token bucket per caller key
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	clients map[string]*clientState
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

type clientState struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a new rate limiter and starts its cleanup loop.
func New(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = def.IdleTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	l := &Limiter{
		cfg:     cfg,
		clients: make(map[string]*clientState),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// cleanup removes idle entries periodically
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.evictIdle()
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) evictIdle() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.cfg.IdleTTL)
	for key, state := range l.clients {
		if state.lastSeen.Before(cutoff) {
			delete(l.clients, key)
		}
	}
}

// Stop stops the cleanup goroutine. Safe to call more than once.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// Allow reports whether a request from key may proceed now.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	now := l.now()
	state, ok := l.clients[key]
	if !ok {
		state = &clientState{limiter: rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)}
		l.clients[key] = state
	}
	state.lastSeen = now
	l.mu.Unlock()

	return state.limiter.AllowN(now, 1)
}

// Tracked returns the number of caller entries currently held.
func (l *Limiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Middleware returns a Gin middleware that rate limits per API key, or per
// client IP for anonymous calls.
func (l *Limiter) Middleware() gin.HandlerFunc {
	retryAfter := max(1, int(1/l.cfg.RequestsPerSecond))
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		apiKey := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if apiKey == "" {
			apiKey = c.GetHeader("X-API-Key")
		}
		if apiKey != "" {
			key = "key:" + apiKey[:min(keyPrefixLen, len(apiKey))]
		}

		if !l.Allow(key) {
			metrics.RateLimitedTotal.Inc()
			logging.L(c.Request.Context()).Warn("rate limit exceeded",
				"path", c.FullPath(), "method", c.Request.Method, "client_ip", c.ClientIP())
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please slow down.",
				"retry_after": retryAfter,
			})
			return
		}

		c.Next()
	}
}
