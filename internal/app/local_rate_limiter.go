/**
 * @description
 * In-process fixed-window rate limiter for single-instance deployments without Redis.
 * Counts follow the same contract as RedisRateLimiter so handlers cannot tell them
 * apart. Expired windows are swept periodically.
 *
 * @dependencies
 * - sync, time: Guarding and expiring the per-key windows.
 */
package app

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"
)

type rateWindow struct {
	count   int
	resetAt time.Time
}

// LocalRateLimiter implements RateLimiter in memory.
type LocalRateLimiter struct {
	mu          sync.Mutex
	windows     map[string]*rateWindow
	now         func() time.Time
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewLocalRateLimiter creates a limiter and starts its cleanup loop. Call Stop when done.
func NewLocalRateLimiter() *LocalRateLimiter {
	l := &LocalRateLimiter{
		windows:     make(map[string]*rateWindow),
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}
	go l.cleanupExpiredWindows(5 * time.Minute)
	return l
}

func (l *LocalRateLimiter) ConsumeRateLimit(_ context.Context, scope, subject string, limit int, period time.Duration) (int, int, error) {
	scope = strings.TrimSpace(scope)
	subject = strings.TrimSpace(subject)
	if limit <= 0 || period <= 0 || scope == "" || subject == "" {
		return 0, 0, nil
	}
	if period < time.Second {
		period = time.Second
	}

	key := scope + ":" + subject
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &rateWindow{resetAt: now.Add(period)}
		l.windows[key] = w
	}
	w.count++

	retryAfter := int(math.Ceil(w.resetAt.Sub(now).Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return w.count, retryAfter, nil
}

// Stop ends the cleanup loop.
func (l *LocalRateLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCleanup) })
}

func (l *LocalRateLimiter) cleanupExpiredWindows(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stopCleanup:
			return
		}
	}
}

func (l *LocalRateLimiter) sweep() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
		}
	}
}
