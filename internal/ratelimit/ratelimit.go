// Package ratelimit implements the token-bucket guard in front of the
// public endpoints. It is a cost-control mechanism keyed on a weak
// client fingerprint, not an authentication boundary; under heavy races
// a handful of extra requests slipping through is accepted.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"signali.bg/internal/obs"
)

// Policy is one channel's bucket shape.
type Policy struct {
	Channel         string
	Capacity        float64
	RefillPerWindow float64
	Window          time.Duration
}

// Store owns the bucket state for (key, channel) pairs. Take performs
// the refill-then-consume read-modify-write for one bucket.
type Store interface {
	Take(ctx context.Context, key string, p Policy, now time.Time) (bool, error)
}

// Limiter decides whether a request may proceed. The bucket store is
// injected so tests can substitute a deterministic clock and an
// in-memory store.
type Limiter struct {
	store Store
	// failOpen picks the behavior when the bucket store is unreachable.
	// An explicit choice per deployment, never an accident.
	failOpen bool
	now      func() time.Time
}

func New(store Store, failOpen bool) *Limiter {
	return &Limiter{store: store, failOpen: failOpen, now: time.Now}
}

// WithClock substitutes the time source. Test use only.
func (l *Limiter) WithClock(clock func() time.Time) *Limiter {
	l.now = clock
	return l
}

// Allow refills the bucket for (key, channel) and tries to consume one
// token. The refill is continuous: two calls 1ms apart never both see a
// fresh window.
func (l *Limiter) Allow(ctx context.Context, key string, p Policy) bool {
	allowed, err := l.store.Take(ctx, bucketKey(key, p.Channel), p, l.now())
	if err != nil {
		obs.Warn("rate limit store unreachable", map[string]any{
			"channel":   p.Channel,
			"fail_open": l.failOpen,
			"error":     err.Error(),
		})
		return l.failOpen
	}
	if !allowed {
		obs.ObserveRateLimitDenied(p.Channel)
	}
	return allowed
}

func bucketKey(key, channel string) string {
	return channel + ":" + key
}

// Fingerprint derives the low-cardinality client key from the forwarded
// address and a truncated user agent. Deliberately weak: it spreads cost,
// it does not identify.
func Fingerprint(ip, userAgent string) string {
	ua := strings.TrimSpace(userAgent)
	if len(ua) > 24 {
		ua = ua[:24]
	}
	if ip == "" {
		ip = "unknown"
	}
	return fmt.Sprintf("%s|%s", ip, ua)
}

// refill advances a bucket to now. Shared by the in-memory store; the
// redis store runs the same arithmetic server-side in Lua.
func refill(tokens float64, last, now time.Time, p Policy) float64 {
	elapsed := now.Sub(last)
	if elapsed <= 0 {
		return tokens
	}
	tokens += elapsed.Seconds() / p.Window.Seconds() * p.RefillPerWindow
	if tokens > p.Capacity {
		tokens = p.Capacity
	}
	return tokens
}
