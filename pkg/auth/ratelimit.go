package auth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter decides whether an authenticated caller may proceed.
type RateLimiter interface {
	Allow(ctx context.Context, identity *Identity) error
}

// TierConfig holds rate limit settings for a service tier.
type TierConfig struct {
	RequestsPerMinute int
	// Burst defaults to RequestsPerMinute.
	Burst int
}

// InProcessLimiter keeps one token bucket per subject and tier in memory.
// Buckets idle for longer than the idle timeout are dropped.
type InProcessLimiter struct {
	tiers       map[string]TierConfig
	defaultTier TierConfig
	idleTimeout time.Duration

	mu       sync.Mutex
	buckets  map[string]*bucket
	lastSwept time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewInProcessLimiter creates a limiter with per-tier budgets. Callers whose
// tier is not listed get defaultRPM; a budget of zero disables limiting.
func NewInProcessLimiter(tiers map[string]TierConfig, defaultRPM int) *InProcessLimiter {
	return &InProcessLimiter{
		tiers:       tiers,
		defaultTier: TierConfig{RequestsPerMinute: defaultRPM},
		idleTimeout: 10 * time.Minute,
		buckets:     make(map[string]*bucket),
		lastSwept:    time.Now(),
	}
}

// Allow consumes one token from the caller's bucket.
func (l *InProcessLimiter) Allow(_ context.Context, identity *Identity) error {
	tier := tierOf(identity)
	cfg, ok := l.tiers[tier]
	if !ok {
		cfg = l.defaultTier
	}
	if cfg.RequestsPerMinute <= 0 {
		return nil
	}

	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.RequestsPerMinute
	}

	key := identity.Subject + ":" + tier
	now := time.Now()

	l.mu.Lock()
	l.sweep(now)
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	if !b.limiter.AllowN(now, 1) {
		return ErrTooManyRequests
	}
	return nil
}

// sweep must be called with l.mu held.
func (l *InProcessLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSwept) < l.idleTimeout {
		return
	}
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) >= l.idleTimeout {
			delete(l.buckets, key)
		}
	}
	l.lastSwept = now
}

func tierOf(identity *Identity) string {
	if identity.Tier == "" {
		return DefaultTier
	}
	return identity.Tier
}
