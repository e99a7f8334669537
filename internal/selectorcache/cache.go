// Package selectorcache is the dual-layer selector cache: a fast in-process
// TTL layer in front of the durable SQLite layer. Reads are read-through
// with fast-layer warming; writes fan out to both layers and happen only
// after a candidate has passed the actionability gate.
package selectorcache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"pacts/internal/plan"
	"pacts/internal/store"
	"pacts/internal/telemetry"
)

// Counter names recorded against the telemetry sink.
const (
	CounterHitFast     = "cache_hit_fast"
	CounterHitDurable  = "cache_hit_durable"
	CounterHitUnstable = "cache_hit_unstable"
	CounterMiss        = "cache_miss"
)

// Durable is the persistent layer contract, implemented by *store.Store.
type Durable interface {
	CacheGet(key string) (*store.CacheEntry, error)
	CachePut(e store.CacheEntry) error
	CacheBumpMiss(key string) error
	CacheInvalidate(origin, label string) error
}

// Config tunes the cache.
type Config struct {
	FastTTL          time.Duration
	DurableTTL       time.Duration
	AllowIDCache     bool
	AllowUnstableHit bool
	// BypassOrigins lists origin substrings whose form selectors are never
	// served from cache. Safety valve for origins that rotate the DOM per
	// session.
	BypassOrigins []string
}

// Cache is safe for concurrent use by parallel runs. Fast-layer reads are
// lock-free snapshots; durable access serializes inside the store.
type Cache struct {
	cfg     Config
	fast    *gocache.Cache
	durable Durable
	sink    *telemetry.Sink
}

// New builds a cache over the durable layer. sink may be nil.
func New(cfg Config, durable Durable, sink *telemetry.Sink) *Cache {
	if cfg.FastTTL == 0 {
		cfg.FastTTL = 24 * time.Hour
	}
	if cfg.DurableTTL == 0 {
		cfg.DurableTTL = 7 * 24 * time.Hour
	}
	if sink == nil {
		sink = telemetry.NewSink(nil)
	}
	return &Cache{
		cfg:     cfg,
		fast:    gocache.New(cfg.FastTTL, 10*time.Minute),
		durable: durable,
		sink:    sink,
	}
}

// Normalize collapses whitespace and lowercases a label so equivalent
// spellings share a cache key.
func Normalize(label string) string {
	return strings.Join(strings.Fields(strings.ToLower(label)), " ")
}

// Key derives the cache key from origin, normalized label, and an optional
// context hash (resolved landmark and/or page fingerprint).
func Key(origin, label, contextHash string) string {
	h := sha256.New()
	h.Write([]byte(origin))
	h.Write([]byte{0})
	h.Write([]byte(Normalize(label)))
	if contextHash != "" {
		h.Write([]byte{0})
		h.Write([]byte(contextHash))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get performs the read-through lookup. A durable hit warms the fast layer
// with the entry's remaining TTL. Unstable hits are filtered out when the
// configuration forbids them.
func (c *Cache) Get(origin, label, contextHash string) *store.CacheEntry {
	if c.bypassed(origin) {
		return nil
	}
	key := Key(origin, label, contextHash)

	if v, ok := c.fast.Get(key); ok {
		entry := v.(*store.CacheEntry)
		if !entry.Stable {
			c.sink.Incr(CounterHitUnstable)
			if !c.cfg.AllowUnstableHit {
				return c.durableGet(key)
			}
		}
		c.sink.Incr(CounterHitFast)
		return entry
	}
	return c.durableGet(key)
}

func (c *Cache) durableGet(key string) *store.CacheEntry {
	entry, err := c.durable.CacheGet(key)
	if err != nil || entry == nil {
		c.sink.Incr(CounterMiss)
		return nil
	}
	if !entry.Stable {
		c.sink.Incr(CounterHitUnstable)
		if !c.cfg.AllowUnstableHit {
			c.sink.Incr(CounterMiss)
			return nil
		}
	}
	c.sink.Incr(CounterHitDurable)
	c.warm(key, entry)
	return entry
}

// warm installs a durable hit into the fast layer with its remaining TTL,
// capped at the fast-layer TTL.
func (c *Cache) warm(key string, entry *store.CacheEntry) {
	remaining := time.Until(entry.ExpiresAt)
	if remaining <= 0 {
		return
	}
	if remaining > c.cfg.FastTTL {
		remaining = c.cfg.FastTTL
	}
	c.fast.Set(key, entry, remaining)
}

// Put records a gate-passed candidate in both layers. Raw id selectors
// stay out of the durable layer when ALLOW_ID_CACHE is off; the fast layer
// still holds them for the current session.
func (c *Cache) Put(origin, label, contextHash string, cand plan.Candidate) {
	if c.bypassed(origin) {
		return
	}
	key := Key(origin, label, contextHash)
	now := time.Now()
	entry := &store.CacheEntry{
		Key:         key,
		Origin:      origin,
		Label:       Normalize(label),
		ContextHash: contextHash,
		Selector:    cand.Selector,
		Strategy:    cand.Strategy,
		Stable:      cand.Stable,
		Confidence:  cand.Confidence,
		Hits:        1,
		CreatedAt:   now,
		LastUsedAt:  now,
		ExpiresAt:   now.Add(c.cfg.DurableTTL),
	}

	c.fast.Set(key, entry, c.cfg.FastTTL)

	if isRawID(cand.Selector) && !c.cfg.AllowIDCache {
		return
	}
	_ = c.durable.CachePut(*entry)
}

// RecordMiss bumps the durable miss counter after a cached selector failed
// the gate.
func (c *Cache) RecordMiss(origin, label, contextHash string) {
	_ = c.durable.CacheBumpMiss(Key(origin, label, contextHash))
}

// Invalidate hard-drops every entry for (origin, label) from both layers.
// Invoked after the gate fails twice on a cached selector within one step.
func (c *Cache) Invalidate(origin, label string) {
	norm := Normalize(label)
	_ = c.durable.CacheInvalidate(origin, norm)
	// Fast-layer keys include the context hash, so sweep by prefix match on
	// the recomputed no-context key and flush items for this origin/label.
	c.fast.Delete(Key(origin, label, ""))
	for k, item := range c.fast.Items() {
		if entry, ok := item.Object.(*store.CacheEntry); ok {
			if entry.Origin == origin && entry.Label == norm {
				c.fast.Delete(k)
			}
		}
	}
}

func (c *Cache) bypassed(origin string) bool {
	for _, pat := range c.cfg.BypassOrigins {
		if pat != "" && strings.Contains(origin, pat) {
			return true
		}
	}
	return false
}

// isRawID reports whether a selector is a bare generated-id lookup.
func isRawID(selector string) bool {
	return strings.HasPrefix(selector, "#")
}
