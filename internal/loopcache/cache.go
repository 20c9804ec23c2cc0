// Package loopcache implements the Loop-Suppression Cache shared between
// the Monitor and the Controller: a small content-addressed memo keyed on
// (ElementRef, valueHash), bounded by size and expiring by TTL, that
// substitutes for graph/pointer-based feedback tracking (§9).
package loopcache

import (
	"encoding/hex"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/industrial-twin/opcua-aas-bridge/internal/model"
)

// DefaultMaxEntries is applied when the configured dedup_max_entries is zero.
const DefaultMaxEntries = 2048

// DefaultTTL is applied when the configured dedup_ttl_seconds is zero.
const DefaultTTL = 5 * time.Second

// Cache is a mutex-protected LRU with TTL checks on both insert and
// lookup, size-bounded on insert (Invariant: never more than N entries).
// golang-lru's expirable.LRU already serializes access internally, so the
// cache itself needs no additional locking.
type Cache struct {
	lru *lru.LRU[string, time.Time]
	ttl time.Duration
}

// New creates a Cache bounded to maxEntries, evicting by TTL after ttl has
// elapsed since insertion.
func New(maxEntries int, ttl time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		lru: lru.NewLRU[string, time.Time](maxEntries, nil, ttl),
		ttl: ttl,
	}
}

func key(elementRef model.ElementRef, valueHash []byte) string {
	return elementRef.String() + "#" + hex.EncodeToString(valueHash)
}

// Insert records that elementRef was last written (by either direction)
// with valueHash, for loop-suppression purposes.
func (c *Cache) Insert(elementRef model.ElementRef, valueHash []byte) {
	c.lru.Add(key(elementRef, valueHash), time.Now())
}

// Contains reports whether (elementRef, valueHash) was inserted and has
// not yet expired. The underlying expirable LRU evaluates TTL on lookup,
// so an expired entry is treated as absent without needing an explicit
// sweep.
func (c *Cache) Contains(elementRef model.ElementRef, valueHash []byte) bool {
	_, ok := c.lru.Get(key(elementRef, valueHash))
	return ok
}

// Len returns the current number of live (non-expired) entries.
func (c *Cache) Len() int {
	return c.lru.Len()
}
