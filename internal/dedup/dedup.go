// Package dedup ensures at most one transfer per logical key is in flight.
package dedup

import (
	"strings"
	"sync"
)

// Deduplicator tracks claimed keys. Keys are compared case-insensitively.
type Deduplicator struct {
	mu      sync.Mutex
	claimed map[string]struct{}
}

func New() *Deduplicator {
	return &Deduplicator{claimed: make(map[string]struct{})}
}

// TryClaim claims key and reports whether it was free.
func (d *Deduplicator) TryClaim(key string) bool {
	k := strings.ToLower(key)

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.claimed[k]; ok {
		return false
	}

	d.claimed[k] = struct{}{}

	return true
}

// Release frees key. Releasing an unclaimed key is a no-op.
func (d *Deduplicator) Release(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.claimed, strings.ToLower(key))
}

func (d *Deduplicator) Claimed(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.claimed[strings.ToLower(key)]

	return ok
}

func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.claimed)
}
