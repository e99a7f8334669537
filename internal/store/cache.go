package store

import (
	"database/sql"
	"fmt"
	"time"

	"pacts/internal/plan"
)

// CacheEntry is one durable selector-cache row.
type CacheEntry struct {
	Key         string        `json:"key"`
	Origin      string        `json:"origin"`
	Label       string        `json:"label"`
	ContextHash string        `json:"context_hash,omitempty"`
	Selector    string        `json:"selector"`
	Strategy    plan.Strategy `json:"strategy"`
	Stable      bool          `json:"stable"`
	Confidence  float64       `json:"confidence"`
	Hits        int           `json:"hits"`
	Misses      int           `json:"misses"`
	CreatedAt   time.Time     `json:"created_at"`
	LastUsedAt  time.Time     `json:"last_used_at"`
	ExpiresAt   time.Time     `json:"expires_at"`
}

// writeDedupWindow bounds durable writes: at most one real write per
// (key, selector) pair per window; duplicates inside it only bump hits.
const writeDedupWindow = time.Hour

// CacheGet loads one entry. Expired and missing entries both return nil.
func (s *Store) CacheGet(key string) (*CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cacheGetLocked(key)
}

func (s *Store) cacheGetLocked(key string) (*CacheEntry, error) {
	row := s.db.QueryRow(`
		SELECT key, origin, label, context_hash, selector, strategy, stable,
			confidence, hits, misses, created_at, last_used_at, expires_at
		FROM selector_cache WHERE key = ?`, key)

	var e CacheEntry
	var ctxHash, strategy sql.NullString
	var stable sql.NullBool
	err := row.Scan(&e.Key, &e.Origin, &e.Label, &ctxHash, &e.Selector, &strategy, &stable,
		&e.Confidence, &e.Hits, &e.Misses, &e.CreatedAt, &e.LastUsedAt, &e.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}
	e.ContextHash = ctxHash.String
	e.Strategy = plan.Strategy(strategy.String)
	e.Stable = stable.Valid && stable.Bool
	if time.Now().After(e.ExpiresAt) {
		return nil, nil
	}
	return &e, nil
}

// CachePut upserts an entry. Collisions on the same key resolve last-writer
// -wins, preferring stable=true then higher confidence; a duplicate write
// for the same (key, selector) inside the dedup window only bumps hits and
// last_used_at.
func (s *Store) CachePut(e CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.cacheGetLocked(e.Key)
	if err != nil {
		return err
	}
	now := time.Now()

	if existing != nil {
		if existing.Selector == e.Selector && now.Sub(existing.LastUsedAt) < writeDedupWindow {
			_, err := s.db.Exec(`
				UPDATE selector_cache SET hits = hits + 1, last_used_at = ? WHERE key = ?`,
				now, e.Key)
			if err != nil {
				return fmt.Errorf("cache bump: %w", err)
			}
			return nil
		}
		if preferExisting(existing, &e) {
			_, err := s.db.Exec(`
				UPDATE selector_cache SET last_used_at = ? WHERE key = ?`, now, e.Key)
			if err != nil {
				return fmt.Errorf("cache touch: %w", err)
			}
			return nil
		}
	}

	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.LastUsedAt = now
	_, err = s.db.Exec(`
		INSERT INTO selector_cache (key, origin, label, context_hash, selector,
			strategy, stable, confidence, hits, misses, created_at, last_used_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			selector = excluded.selector,
			strategy = excluded.strategy,
			stable = excluded.stable,
			confidence = excluded.confidence,
			hits = selector_cache.hits + 1,
			last_used_at = excluded.last_used_at,
			expires_at = excluded.expires_at`,
		e.Key, e.Origin, e.Label, nullable(e.ContextHash), e.Selector,
		string(e.Strategy), e.Stable, e.Confidence, e.Hits, e.Misses,
		e.CreatedAt, e.LastUsedAt, e.ExpiresAt)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// preferExisting implements the collision preference: a stable entry is
// never displaced by an unstable one, and among equals the higher
// confidence survives.
func preferExisting(old *CacheEntry, candidate *CacheEntry) bool {
	if old.Stable != candidate.Stable {
		return old.Stable
	}
	return old.Confidence > candidate.Confidence
}

// CacheBumpMiss increments an entry's miss counter.
func (s *Store) CacheBumpMiss(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE selector_cache SET misses = misses + 1 WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("cache bump miss: %w", err)
	}
	return nil
}

// CacheInvalidate hard-deletes every entry for an (origin, label) pair,
// across context hashes.
func (s *Store) CacheInvalidate(origin, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM selector_cache WHERE origin = ? AND label = ?`, origin, label)
	if err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}

// CachePurgeExpired drops entries past their TTL.
func (s *Store) CachePurgeExpired() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`DELETE FROM selector_cache WHERE expires_at < ?`, time.Now())
	if err != nil {
		return 0, fmt.Errorf("cache purge: %w", err)
	}
	return res.RowsAffected()
}

// CacheStats returns entry counts by stability.
func (s *Store) CacheStats() (total, stable int64, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	err = s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN stable THEN 1 ELSE 0 END), 0)
		FROM selector_cache WHERE expires_at >= ?`, time.Now()).Scan(&total, &stable)
	if err != nil {
		err = fmt.Errorf("cache stats: %w", err)
	}
	return
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
