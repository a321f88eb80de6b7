// Package ratelimit provides a per-host token bucket limiter for dial
// attempts, so a misbehaving resolver result or a reconnect loop cannot
// hammer one address.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a per-host rate limiter backed by golang.org/x/time/rate, one
// token bucket per dial target, reclaimed by a background cleanup worker
// once a host has been idle past maxIdle.
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	enabled  bool

	cleanupInterval time.Duration
	maxIdle         time.Duration
	lastSeen        map[string]time.Time
	stopCleanup     chan struct{}
}

// Config holds dial rate limiter configuration.
type Config struct {
	// Enabled controls whether rate limiting is active.
	Enabled bool
	// ConnectsPerMinute sets the sustained per-host connect rate.
	ConnectsPerMinute int
	// Burst allows short bursts above the sustained rate; defaults to
	// ConnectsPerMinute if zero.
	Burst int
	// CleanupInterval controls how often idle hosts are forgotten.
	// Defaults to 10 minutes.
	CleanupInterval time.Duration
	// MaxIdle is how long a host can go unseen before its bucket is
	// reclaimed. Defaults to 30 minutes.
	MaxIdle time.Duration
}

// New creates a Limiter from config, starting its cleanup worker if enabled.
func New(config *Config) *Limiter {
	if config == nil {
		config = &Config{Enabled: false}
	}

	burst := config.Burst
	if burst == 0 {
		burst = config.ConnectsPerMinute
	}

	cleanupInterval := config.CleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = 10 * time.Minute
	}

	maxIdle := config.MaxIdle
	if maxIdle == 0 {
		maxIdle = 30 * time.Minute
	}

	ratePerSecond := rate.Limit(float64(config.ConnectsPerMinute) / 60.0)

	l := &Limiter{
		limiters:        make(map[string]*rate.Limiter),
		lastSeen:        make(map[string]time.Time),
		rate:            ratePerSecond,
		burst:           burst,
		enabled:         config.Enabled,
		cleanupInterval: cleanupInterval,
		maxIdle:         maxIdle,
		stopCleanup:     make(chan struct{}),
	}

	if config.Enabled {
		go l.cleanupWorker()
	}

	return l
}

func (l *Limiter) getLimiter(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[host] = limiter
	}
	l.lastSeen[host] = time.Now()
	return limiter
}

// Allow reports whether a connect attempt to host may proceed now.
func (l *Limiter) Allow(host string) bool {
	if !l.enabled {
		return true
	}
	return l.getLimiter(host).Allow()
}

// Wait blocks until host's bucket permits a connect attempt, or ctx is done.
func (l *Limiter) Wait(ctx context.Context, host string) error {
	if !l.enabled {
		return nil
	}
	return l.getLimiter(host).Wait(ctx)
}

func (l *Limiter) cleanupWorker() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCleanup:
			return
		}
	}
}

func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for host, lastSeen := range l.lastSeen {
		if now.Sub(lastSeen) > l.maxIdle {
			delete(l.limiters, host)
			delete(l.lastSeen, host)
		}
	}
}

// Stop stops the cleanup worker. Safe to call at most once.
func (l *Limiter) Stop() {
	close(l.stopCleanup)
}

// Stats returns current limiter statistics for diagnostics.
func (l *Limiter) Stats() map[string]any {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return map[string]any{
		"enabled":        l.enabled,
		"active_hosts":   len(l.limiters),
		"rate_per_min":   float64(l.rate) * 60,
		"burst":          l.burst,
	}
}
