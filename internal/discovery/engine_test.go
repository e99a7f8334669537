package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pacts/internal/driver"
	"pacts/internal/driver/drivertest"
	"pacts/internal/plan"
	"pacts/internal/store"
)

// memCache is a stub read-side cache.
type memCache struct {
	entry *store.CacheEntry
}

func (m *memCache) Get(origin, label, contextHash string) *store.CacheEntry {
	return m.entry
}

func intent(action plan.Action, label string) plan.Intent {
	return plan.NormalizeSteps([]plan.Step{{Action: action, Label: label, Value: "x"}})[0]
}

func newFake() *drivertest.Fake {
	return &drivertest.Fake{URLValue: "https://shop.example/products?q=1"}
}

func TestOriginOf(t *testing.T) {
	assert.Equal(t, "https://shop.example", OriginOf("https://shop.example/a/b?q=1"))
	assert.Equal(t, "not a url", OriginOf("not a url"))
}

func TestDiscoverCachedShortCircuits(t *testing.T) {
	drv := newFake()
	cache := &memCache{entry: &store.CacheEntry{
		Selector:   `input[aria-label="Search"]`,
		Strategy:   plan.StrategyAriaLabel,
		Stable:     true,
		Confidence: 0.95,
	}}
	e := NewEngine(drv, cache, Config{}, nil)

	cand, err := e.Discover(context.Background(), "r1", 0, intent(plan.ActionFill, "Search"), 0)
	require.NoError(t, err)
	require.NotNil(t, cand)
	assert.Equal(t, plan.StrategyCached, cand.Strategy)
	assert.Equal(t, `input[aria-label="Search"]`, cand.Selector)
	assert.Equal(t, "aria_label", cand.Meta["source_strategy"])
	assert.False(t, drv.CalledWith("count"), "cache hit must not probe the page")
}

func TestDiscoverAriaLabel(t *testing.T) {
	drv := newFake()
	drv.Counts = map[string]int{`input[aria-label="Search"]`: 1}
	e := NewEngine(drv, nil, Config{}, nil)

	cand, err := e.Discover(context.Background(), "r1", 0, intent(plan.ActionFill, "Search"), 0)
	require.NoError(t, err)
	require.NotNil(t, cand)
	assert.Equal(t, plan.StrategyAriaLabel, cand.Strategy)
	assert.True(t, cand.Stable)
	assert.Equal(t, 0.95, cand.Confidence)
}

func TestDiscoverNameAttr(t *testing.T) {
	drv := newFake()
	drv.Counts = map[string]int{
		`input[name="first_name"], select[name="first_name"], textarea[name="first_name"]`: 1,
	}
	e := NewEngine(drv, nil, Config{}, nil)

	cand, err := e.Discover(context.Background(), "r1", 0, intent(plan.ActionFill, "First Name"), 0)
	require.NoError(t, err)
	require.NotNil(t, cand)
	assert.Equal(t, plan.StrategyNameAttr, cand.Strategy)
	assert.True(t, cand.Stable)
}

func TestDiscoverLabelFor(t *testing.T) {
	drv := newFake()
	drv.Infos = map[string][]driver.ElementInfo{
		"label[for]": {
			{Text: "Phone number", Attrs: map[string]string{"for": "phone-main"}},
			{Text: "Email address", Attrs: map[string]string{"for": "email-main"}},
		},
	}
	drv.Counts = map[string]int{"#email-main": 1}
	e := NewEngine(drv, nil, Config{}, nil)

	cand, err := e.Discover(context.Background(), "r1", 0, intent(plan.ActionFill, "Email"), 0)
	require.NoError(t, err)
	require.NotNil(t, cand)
	assert.Equal(t, plan.StrategyLabelFor, cand.Strategy)
	assert.Equal(t, "#email-main", cand.Selector)
	assert.False(t, cand.Stable, "id selectors are volatile")
}

func TestDiscoverRoleName(t *testing.T) {
	drv := newFake()
	drv.Counts = map[string]int{`role=button[name=/Save/i]`: 1}
	e := NewEngine(drv, nil, Config{}, nil)

	cand, err := e.Discover(context.Background(), "r1", 0, intent(plan.ActionClick, "Save"), 0)
	require.NoError(t, err)
	require.NotNil(t, cand)
	assert.Equal(t, plan.StrategyRoleName, cand.Strategy)
	assert.Equal(t, "role=button[name=/Save/i]", cand.Selector)
}

func TestDiscoverDisambiguatesTabSiblings(t *testing.T) {
	// Two buttons named Save: one lives inside a tab, one is the real
	// action. The survivor's index binds via nth.
	drv := newFake()
	drv.Counts = map[string]int{`role=button[name=/Save/i]`: 2}
	drv.Infos = map[string][]driver.ElementInfo{
		`role=button[name=/Save/i]`: {
			{Index: 0, AncestorRoles: []string{"tablist", "tab"}},
			{Index: 1, AncestorRoles: []string{"main"}},
		},
	}
	e := NewEngine(drv, nil, Config{}, nil)

	cand, err := e.Discover(context.Background(), "r1", 0, intent(plan.ActionClick, "Save"), 0)
	require.NoError(t, err)
	require.NotNil(t, cand)
	assert.Equal(t, plan.StrategyRoleNameDisambiguated, cand.Strategy)
	assert.Equal(t, "role=button[name=/Save/i] >> nth=1", cand.Selector)
	assert.False(t, cand.Stable)
}

func TestDiscoverDisambiguationSkipsDismissive(t *testing.T) {
	drv := newFake()
	drv.Counts = map[string]int{`role=button[name=/Save/i]`: 2}
	drv.Infos = map[string][]driver.ElementInfo{
		`role=button[name=/Save/i]`: {
			{Index: 0, Attrs: map[string]string{"aria-label": "Close saved items"}},
			{Index: 1, Attrs: map[string]string{}},
		},
	}
	e := NewEngine(drv, nil, Config{}, nil)

	cand, err := e.Discover(context.Background(), "r1", 0, intent(plan.ActionClick, "Save"), 0)
	require.NoError(t, err)
	require.NotNil(t, cand)
	assert.Equal(t, "role=button[name=/Save/i] >> nth=1", cand.Selector)
}

func TestDiscoverRegionScoped(t *testing.T) {
	drv := newFake()
	drv.Counts = map[string]int{`nav, [role="navigation"]`: 1}
	drv.ScopedCounts = map[string]map[string]int{
		`nav, [role="navigation"]`: {`input[aria-label="Search"]`: 1},
	}
	in := intent(plan.ActionFill, "Search")
	in.Within = "navigation"
	e := NewEngine(drv, nil, Config{}, nil)

	cand, err := e.Discover(context.Background(), "r1", 0, in, 0)
	require.NoError(t, err)
	require.NotNil(t, cand)
	assert.Equal(t, plan.StrategyRegionScoped, cand.Strategy)
	assert.Equal(t, `input[aria-label="Search"]`, cand.Selector)
	assert.Equal(t, "aria_label", cand.Meta["inner_strategy"])
	assert.Equal(t, `nav, [role="navigation"]`, cand.Meta["scope"])
}

func TestDiscoverAppSpecificPlugin(t *testing.T) {
	// Two comboboxes match by name, so the generic role ladder cannot bind
	// uniquely and the plug-in takes over.
	drv := newFake()
	drv.Counts = map[string]int{`role=combobox[name=/Country/i]`: 2}
	e := NewEngine(drv, nil, Config{}, nil, &ComboboxPlugin{})

	cand, err := e.Discover(context.Background(), "r1", 0, intent(plan.ActionSelect, "Country"), 0)
	require.NoError(t, err)
	require.NotNil(t, cand)
	assert.Equal(t, plan.StrategyAppSpecific, cand.Strategy)
	assert.Equal(t, "role=combobox[name=/Country/i] >> nth=0", cand.Selector)
	assert.Equal(t, "combobox", cand.Meta["protocol"])
}

func TestDiscoverNothing(t *testing.T) {
	e := NewEngine(newFake(), nil, Config{}, nil)
	cand, err := e.Discover(context.Background(), "r1", 0, intent(plan.ActionClick, "Ghost"), 0)
	require.NoError(t, err)
	assert.Nil(t, cand)
}

func TestDiscoverConfidenceDecays(t *testing.T) {
	drv := newFake()
	drv.Counts = map[string]int{`input[aria-label="Search"]`: 1}
	e := NewEngine(drv, nil, Config{}, nil)

	cand, err := e.Discover(context.Background(), "r1", 0, intent(plan.ActionFill, "Search"), 2)
	require.NoError(t, err)
	require.NotNil(t, cand)
	assert.InDelta(t, 0.95-0.06, cand.Confidence, 1e-9)
}

func TestDiscoverBudgetExhausted(t *testing.T) {
	drv := newFake()
	drv.Counts = map[string]int{`input[aria-label="Search"]`: 1}
	e := NewEngine(drv, nil, Config{Budget: time.Nanosecond}, nil)

	cand, err := e.Discover(context.Background(), "r1", 0, intent(plan.ActionFill, "Search"), 0)
	require.NoError(t, err)
	assert.Nil(t, cand, "an exhausted budget yields no candidate, not an error")
}

func TestLadderReorder(t *testing.T) {
	e := NewEngine(newFake(), nil, Config{LabelFirst: true}, nil)
	probes := e.ladder(plan.Intent{})
	assert.Equal(t, plan.StrategyLabelFor, probes[0].strategy)
	assert.Equal(t, plan.StrategyPlaceholder, probes[1].strategy)

	hinted := e.ladder(plan.Intent{Hints: plan.Hints{TierOrder: []plan.Strategy{plan.StrategyTextHas}}})
	assert.Equal(t, plan.StrategyTextHas, hinted[0].strategy)
}

func TestSignatureDetector(t *testing.T) {
	det := NewSignatureDetector(nil, nil)

	challenged := &drivertest.Fake{URLValue: "https://shop.example/?chal_t=abc123"}
	sig, blocked := det.Detect(context.Background(), challenged)
	assert.True(t, blocked)
	assert.Equal(t, "url:chal_t=", sig)

	captcha := newFake()
	captcha.Counts = map[string]int{".g-recaptcha": 1}
	sig, blocked = det.Detect(context.Background(), captcha)
	assert.True(t, blocked)
	assert.Equal(t, "dom:.g-recaptcha", sig)

	_, blocked = det.Detect(context.Background(), newFake())
	assert.False(t, blocked)
}

func TestSignatureDetectorExtensions(t *testing.T) {
	det := NewSignatureDetector([]string{"/challenge/"}, []string{"#px-captcha"})

	drv := newFake()
	drv.URLValue = "https://shop.example/challenge/verify"
	sig, blocked := det.Detect(context.Background(), drv)
	assert.True(t, blocked)
	assert.Equal(t, "url:/challenge/", sig)
}
