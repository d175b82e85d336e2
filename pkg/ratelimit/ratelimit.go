// Package ratelimit provides a keyed token-bucket limiter. Login attempts are
// limited per client IP with it.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/bookhive/bookhive/pkg/errcodes"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// idleTTL is how long an unused key's limiter is kept before cleanup drops it.
const idleTTL = 10 * time.Minute

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedRateLimiter manages per-key rate limiting. Each key gets its own
// independent bucket.
type KeyedRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	limit    rate.Limit
	burst    int

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a keyed limiter allowing limit events per second with the
// given burst.
func New(limit rate.Limit, burst int) *KeyedRateLimiter {
	krl := &KeyedRateLimiter{
		limiters: make(map[string]*entry),
		limit:    limit,
		burst:    burst,
		done:     make(chan struct{}),
	}

	go krl.cleanup(time.Minute)

	return krl
}

// PerMinute is a convenience for limits expressed as n events per minute.
func PerMinute(n int) *KeyedRateLimiter {
	if n < 1 {
		n = 1
	}
	return New(rate.Every(time.Minute/time.Duration(n)), n)
}

// Allow reports whether an event for key may happen now. It never blocks.
func (krl *KeyedRateLimiter) Allow(key string) bool {
	return krl.getLimiter(key).Allow()
}

// Wait blocks until an event for key is allowed or ctx is done.
func (krl *KeyedRateLimiter) Wait(ctx context.Context, key string) error {
	return krl.getLimiter(key).Wait(ctx)
}

func (krl *KeyedRateLimiter) getLimiter(key string) *rate.Limiter {
	krl.mu.Lock()
	defer krl.mu.Unlock()

	e, ok := krl.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(krl.limit, krl.burst)}
		krl.limiters[key] = e
	}
	e.lastSeen = time.Now()
	return e.limiter
}

// Stop shuts down the cleanup goroutine.
func (krl *KeyedRateLimiter) Stop() {
	krl.stopOnce.Do(func() {
		close(krl.done)
	})
}

func (krl *KeyedRateLimiter) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-krl.done:
			return
		case now := <-ticker.C:
			krl.mu.Lock()
			for key, e := range krl.limiters {
				if now.Sub(e.lastSeen) > idleTTL {
					delete(krl.limiters, key)
				}
			}
			krl.mu.Unlock()
		}
	}
}

// Middleware rejects requests over the limit, keyed by client IP.
func (krl *KeyedRateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !krl.Allow(c.RealIP()) {
				return errcodes.TooManyRequests()
			}
			return next(c)
		}
	}
}
