// Package dedup drops repeated message ids seen within a TTL. It is used to
// ignore QoS1 redeliveries.
package dedup

import (
	"sync"
	"time"
)

type Deduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	max  int
	now  func() time.Time
	seen map[string]time.Time
}

func New(ttl time.Duration, max int) *Deduper {
	return NewWithClock(ttl, max, time.Now)
}

func NewWithClock(ttl time.Duration, max int, now func() time.Time) *Deduper {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if max <= 0 {
		max = 10000
	}
	return &Deduper{ttl: ttl, max: max, now: now, seen: make(map[string]time.Time, max)}
}

// ShouldProcess records id and reports whether it was not seen within the
// TTL. Empty ids are always processed.
func (d *Deduper) ShouldProcess(id string) bool {
	if id == "" {
		return true
	}
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if exp, ok := d.seen[id]; ok && now.Before(exp) {
		return false
	}
	d.seen[id] = now.Add(d.ttl)
	if len(d.seen) > d.max {
		for k, v := range d.seen {
			if now.After(v) {
				delete(d.seen, k)
			}
		}
	}
	for len(d.seen) > d.max {
		d.evictOldestLocked()
	}
	return true
}

// evictOldestLocked drops the id closest to expiry.
func (d *Deduper) evictOldestLocked() {
	var oldest string
	var exp time.Time
	for k, v := range d.seen {
		if oldest == "" || v.Before(exp) {
			oldest, exp = k, v
		}
	}
	delete(d.seen, oldest)
}

func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
