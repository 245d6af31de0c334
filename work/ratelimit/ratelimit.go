package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// window is one client's request counter for a fixed time window. Entries are
// only ever mutated inside the map's per-key compute section, so plain fields
// are safe here.
type window struct {
	count   int
	expires time.Time
}

// Limiter implements a fixed-window request limiter keyed by hashed client
// address. The window is aligned to the first request in it, not to wall-clock
// boundaries; when a window lapses the counter resets implicitly by replacing
// the entry. Expired entries for idle clients are reaped opportunistically so
// the store stays bounded.
type Limiter struct {
	limit    int
	interval time.Duration
	windows  *xsync.MapOf[string, *window]
	lastReap atomic.Int64
	now      func() time.Time
}

// New creates a Limiter allowing limit requests per interval per client key.
func New(limit int, interval time.Duration) *Limiter {
	l := &Limiter{
		limit:    limit,
		interval: interval,
		windows:  xsync.NewMapOf[string, *window](),
		now:      time.Now,
	}
	l.lastReap.Store(time.Now().UnixNano())
	return l
}

// Allow records one request for the given client key and reports whether it
// fits within the current window. A denial is a decision, not an error.
func (l *Limiter) Allow(clientKey string) bool {
	key := hashKey(clientKey)
	now := l.now()

	var count int
	l.windows.Compute(key, func(old *window, loaded bool) (*window, bool) {
		if !loaded || now.After(old.expires) {
			// fresh window aligned to this request
			w := &window{count: 1, expires: now.Add(l.interval)}
			count = 1
			return w, false
		}
		old.count++
		count = old.count
		return old, false
	})

	l.maybeReap(now)

	return count <= l.limit
}

// maybeReap drops expired windows at most once per interval.
func (l *Limiter) maybeReap(now time.Time) {
	last := l.lastReap.Load()
	if now.UnixNano()-last < l.interval.Nanoseconds() {
		return
	}
	if !l.lastReap.CompareAndSwap(last, now.UnixNano()) {
		return
	}

	l.windows.Range(func(key string, w *window) bool {
		if now.After(w.expires) {
			l.windows.Delete(key)
		}
		return true
	})
}

// hashKey produces the stored form of a client key. Addresses never land in
// the counter store in the clear.
func hashKey(clientKey string) string {
	sum := sha256.Sum256([]byte(clientKey))
	return hex.EncodeToString(sum[:])
}
