package executor

import (
	"sync"
	"time"
)

// Dedup prevents a mirror request from being placed more than once within a
// time-to-live window. Keys are position IDs: one live order per mirrored
// twin. Safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time
	ttl  time.Duration
	mu   sync.Mutex
}

// NewDedup creates a Dedup that treats a key as duplicate while it has been
// seen within ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// Seen reports whether key was recorded within the TTL window. An unseen
// (or expired) key is recorded and false returned.
func (d *Dedup) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if last, ok := d.seen[key]; ok {
		if now.Sub(last) < d.ttl {
			return true
		}
	}

	d.seen[key] = now
	return false
}

// Cleanup drops entries older than the TTL. Call periodically to bound
// memory growth.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for key, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, key)
		}
	}
}
