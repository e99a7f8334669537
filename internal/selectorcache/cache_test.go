package selectorcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pacts/internal/plan"
	"pacts/internal/store"
	"pacts/internal/telemetry"
)

// memDurable is an in-memory stand-in for the sqlite layer.
type memDurable struct {
	entries map[string]*store.CacheEntry
	misses  map[string]int
}

func newMemDurable() *memDurable {
	return &memDurable{entries: map[string]*store.CacheEntry{}, misses: map[string]int{}}
}

func (m *memDurable) CacheGet(key string) (*store.CacheEntry, error) {
	e, ok := m.entries[key]
	if !ok || time.Now().After(e.ExpiresAt) {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (m *memDurable) CachePut(e store.CacheEntry) error {
	m.entries[e.Key] = &e
	return nil
}

func (m *memDurable) CacheBumpMiss(key string) error {
	m.misses[key]++
	return nil
}

func (m *memDurable) CacheInvalidate(origin, label string) error {
	for k, e := range m.entries {
		if e.Origin == origin && e.Label == label {
			delete(m.entries, k)
		}
	}
	return nil
}

func newTestCache(t *testing.T, cfg Config) (*Cache, *memDurable, *telemetry.Sink) {
	t.Helper()
	durable := newMemDurable()
	sink := telemetry.NewSink(nil)
	return New(cfg, durable, sink), durable, sink
}

func saveCand() plan.Candidate {
	return plan.Candidate{
		Selector:   `input[aria-label="Search"]`,
		Strategy:   plan.StrategyAriaLabel,
		Stable:     true,
		Confidence: 0.95,
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "sign in", Normalize("  Sign   In "))
	assert.Equal(t, Normalize("Search"), Normalize("search"))
}

func TestKeyIncludesContext(t *testing.T) {
	base := Key("https://shop.example", "Search", "")
	scoped := Key("https://shop.example", "Search", "form")
	assert.NotEqual(t, base, scoped)
	assert.Equal(t, base, Key("https://shop.example", "  search ", ""))
}

func TestPutThenGetRoundTrips(t *testing.T) {
	c, _, _ := newTestCache(t, Config{AllowIDCache: true, AllowUnstableHit: true})

	c.Put("https://shop.example", "Search", "", saveCand())
	got := c.Get("https://shop.example", "Search", "")
	require.NotNil(t, got)
	assert.Equal(t, `input[aria-label="Search"]`, got.Selector)
	assert.Equal(t, plan.StrategyAriaLabel, got.Strategy)
	assert.True(t, got.Stable)
	assert.Equal(t, 0.95, got.Confidence)
}

func TestGetWarmsFastLayerFromDurable(t *testing.T) {
	c, durable, sink := newTestCache(t, Config{AllowUnstableHit: true})

	now := time.Now()
	require.NoError(t, durable.CachePut(store.CacheEntry{
		Key:        Key("https://shop.example", "Search", ""),
		Origin:     "https://shop.example",
		Label:      "search",
		Selector:   `input[aria-label="Search"]`,
		Strategy:   plan.StrategyAriaLabel,
		Stable:     true,
		Confidence: 0.95,
		CreatedAt:  now,
		LastUsedAt: now,
		ExpiresAt:  now.Add(time.Hour),
	}))

	require.NotNil(t, c.Get("https://shop.example", "Search", ""))
	assert.Equal(t, int64(1), sink.Counter(CounterHitDurable))

	// Second read is served by the warmed fast layer.
	require.NotNil(t, c.Get("https://shop.example", "Search", ""))
	assert.Equal(t, int64(1), sink.Counter(CounterHitFast))
	assert.Equal(t, int64(1), sink.Counter(CounterHitDurable))
}

func TestGetMiss(t *testing.T) {
	c, _, sink := newTestCache(t, Config{})
	assert.Nil(t, c.Get("https://shop.example", "Nope", ""))
	assert.Equal(t, int64(1), sink.Counter(CounterMiss))
}

func TestUnstableHitFiltered(t *testing.T) {
	cand := plan.Candidate{
		Selector:   "#gen-123",
		Strategy:   plan.StrategyLabelFor,
		Stable:     false,
		Confidence: 0.85,
	}

	allow, _, _ := newTestCache(t, Config{AllowIDCache: true, AllowUnstableHit: true})
	allow.Put("https://shop.example", "Email", "", cand)
	assert.NotNil(t, allow.Get("https://shop.example", "Email", ""))

	deny, _, sink := newTestCache(t, Config{AllowIDCache: true, AllowUnstableHit: false})
	deny.Put("https://shop.example", "Email", "", cand)
	assert.Nil(t, deny.Get("https://shop.example", "Email", ""))
	assert.Equal(t, int64(2), sink.Counter(CounterHitUnstable))
}

func TestIDSelectorSkipsDurableWrite(t *testing.T) {
	c, durable, _ := newTestCache(t, Config{AllowIDCache: false, AllowUnstableHit: true})

	c.Put("https://shop.example", "Email", "", plan.Candidate{
		Selector: "#email-4821", Strategy: plan.StrategyLabelFor, Confidence: 0.85,
	})
	assert.Empty(t, durable.entries, "raw id selector must not reach the durable layer")

	// The fast layer still serves it for the current session.
	assert.NotNil(t, c.Get("https://shop.example", "Email", ""))
}

func TestBypassOrigin(t *testing.T) {
	c, durable, _ := newTestCache(t, Config{
		AllowIDCache:     true,
		AllowUnstableHit: true,
		BypassOrigins:    []string{"bank.example"},
	})

	c.Put("https://bank.example", "Account", "", saveCand())
	assert.Empty(t, durable.entries)
	assert.Nil(t, c.Get("https://bank.example", "Account", ""))

	c.Put("https://shop.example", "Account", "", saveCand())
	assert.NotNil(t, c.Get("https://shop.example", "Account", ""))
}

func TestInvalidateDropsBothLayers(t *testing.T) {
	c, durable, _ := newTestCache(t, Config{AllowIDCache: true, AllowUnstableHit: true})

	c.Put("https://shop.example", "Search", "", saveCand())
	c.Put("https://shop.example", "Search", "form", saveCand())
	require.NotNil(t, c.Get("https://shop.example", "Search", ""))

	c.Invalidate("https://shop.example", "Search")
	assert.Nil(t, c.Get("https://shop.example", "Search", ""))
	assert.Nil(t, c.Get("https://shop.example", "Search", "form"))
	assert.Empty(t, durable.entries)
}

func TestRecordMiss(t *testing.T) {
	c, durable, _ := newTestCache(t, Config{})
	c.RecordMiss("https://shop.example", "Search", "")
	assert.Equal(t, 1, durable.misses[Key("https://shop.example", "Search", "")])
}
