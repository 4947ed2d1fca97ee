// Package rate throttles repeated attempts made under the same key, such as
// coupon codes tried by one user.
package rate

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Limiter struct {
	burst  int
	limit  rate.Limit
	expiry time.Duration

	mu   sync.Mutex
	keys map[string]*entry
	now  func() time.Time
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter allows burst attempts per key, refilled one every interval.
// Keys idle for longer than expiry are forgotten by Prune.
func NewLimiter(burst int, interval, expiry time.Duration) *Limiter {
	return &Limiter{
		burst:  burst,
		limit:  rate.Every(interval),
		expiry: expiry,
		keys:   make(map[string]*entry),
		now:    time.Now,
	}
}

func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.keys[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.keys[key] = e
	}
	e.lastSeen = now

	return e.limiter.AllowN(now, 1)
}

// Prune drops idle keys and returns how many were dropped.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	n := 0
	for key, e := range l.keys {
		if now.Sub(e.lastSeen) > l.expiry {
			delete(l.keys, key)
			n++
		}
	}
	return n
}

// Run prunes the limiter every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Prune()
		}
	}
}
