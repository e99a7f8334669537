// Package discovery turns a normalized step into at most one selector
// candidate. The strategy ladder is data, not code paths: an ordered list
// of named probe functions the engine walks until one yields a candidate,
// bounded by a total wall-clock budget per intent.
package discovery

import (
	"context"
	"net/url"
	"time"

	"go.uber.org/zap"

	"pacts/internal/driver"
	"pacts/internal/plan"
	"pacts/internal/selectorcache"
	"pacts/internal/store"
	"pacts/internal/telemetry"
)

// SelectorCache is the read side the engine needs; *selectorcache.Cache
// implements it.
type SelectorCache interface {
	Get(origin, label, contextHash string) *store.CacheEntry
}

// Config tunes the engine.
type Config struct {
	// Budget bounds one Discover call; exceeding it yields no candidate.
	Budget time.Duration
	// DecayPerRound is subtracted from a strategy's baseline confidence
	// once per heal round.
	DecayPerRound float64
	// LabelFirst moves the label-derived strategies (label_for,
	// placeholder) ahead of the attribute strategies.
	LabelFirst bool
}

const (
	defaultBudget = 30 * time.Second
	defaultDecay  = 0.03
)

// probeFunc is one strategy: pure over the driver, returns nil when the
// strategy does not apply or finds nothing.
type probeFunc func(ctx context.Context, drv driver.API, in plan.Intent, scope string) (*plan.Candidate, error)

type namedProbe struct {
	strategy plan.Strategy
	probe    probeFunc
}

// Engine runs the ladder for one browser session. Safe for sequential use
// by a single run; parallel runs build their own engines over the shared
// cache.
type Engine struct {
	drv     driver.API
	cache   SelectorCache
	cfg     Config
	sink    *telemetry.Sink
	plugins []Plugin
}

// NewEngine builds an engine. cache and sink may be nil.
func NewEngine(drv driver.API, cache SelectorCache, cfg Config, sink *telemetry.Sink, plugins ...Plugin) *Engine {
	if cfg.Budget == 0 {
		cfg.Budget = defaultBudget
	}
	if cfg.DecayPerRound == 0 {
		cfg.DecayPerRound = defaultDecay
	}
	if sink == nil {
		sink = telemetry.NewSink(nil)
	}
	return &Engine{drv: drv, cache: cache, cfg: cfg, sink: sink, plugins: plugins}
}

// ladder returns strategies 2-8 in attempt order, honoring the intent's
// tier-order hint and the label-first flag.
func (e *Engine) ladder(in plan.Intent) []namedProbe {
	probes := []namedProbe{
		{plan.StrategyAriaLabel, probeAriaLabel},
		{plan.StrategyNameAttr, probeNameAttr},
		{plan.StrategyPlaceholder, probePlaceholder},
		{plan.StrategyLabelFor, probeLabelFor},
		{plan.StrategyRoleName, probeRoleName},
		{plan.StrategyRoleNameDisambiguated, probeRoleNameDisambiguated},
		{plan.StrategyTextHas, probeTextHas},
	}
	if e.cfg.LabelFirst {
		probes = reorder(probes, []plan.Strategy{
			plan.StrategyLabelFor, plan.StrategyPlaceholder,
		})
	}
	if len(in.Hints.TierOrder) > 0 {
		probes = reorder(probes, in.Hints.TierOrder)
	}
	return probes
}

// reorder moves the listed strategies to the front, preserving relative
// order among the rest.
func reorder(probes []namedProbe, first []plan.Strategy) []namedProbe {
	out := make([]namedProbe, 0, len(probes))
	for _, want := range first {
		for _, p := range probes {
			if p.strategy == want {
				out = append(out, p)
			}
		}
	}
	for _, p := range probes {
		listed := false
		for _, want := range first {
			if p.strategy == want {
				listed = true
				break
			}
		}
		if !listed {
			out = append(out, p)
		}
	}
	return out
}

// Discover walks the ladder for one intent: cache, unscoped strategies,
// region-scoped rerun, then app-specific plug-ins. Returns nil with no
// error when nothing was found inside the budget; the caller classifies
// that as a discovery failure.
func (e *Engine) Discover(ctx context.Context, reqID string, stepIdx int, in plan.Intent, healRound int) (*plan.Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Budget)
	defer cancel()
	started := time.Now()

	origin, err := e.origin(ctx)
	if err != nil {
		return nil, err
	}

	if cand := e.fromCache(origin, in); cand != nil {
		e.emit(reqID, stepIdx, healRound, started, cand)
		return cand, nil
	}

	probes := e.ladder(in)

	cand, err := e.walk(ctx, probes, in, "")
	if err != nil {
		return nil, err
	}

	if cand == nil && in.Within != "" {
		cand, err = e.regionScoped(ctx, probes, in)
		if err != nil {
			return nil, err
		}
	}

	if cand == nil {
		cand, err = e.appSpecific(ctx, origin, in)
		if err != nil {
			return nil, err
		}
	}

	if cand == nil {
		e.sink.Incr("discovery_none")
		e.sink.Warn(telemetry.TagDiscovery, reqID, stepIdx, healRound, "no candidate",
			zap.String("label", in.Label), zap.Duration("spent", time.Since(started)))
		return nil, nil
	}

	cand.Confidence = decayed(cand.Confidence, e.cfg.DecayPerRound, healRound)
	e.emit(reqID, stepIdx, healRound, started, cand)
	return cand, nil
}

// walk tries each probe in order until one yields a candidate or the
// budget runs out.
func (e *Engine) walk(ctx context.Context, probes []namedProbe, in plan.Intent, scope string) (*plan.Candidate, error) {
	for _, p := range probes {
		select {
		case <-ctx.Done():
			// Budget exhausted: no candidate, not an error.
			return nil, nil
		default:
		}
		cand, err := p.probe(ctx, e.drv, in, scope)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil
			}
			return nil, err
		}
		if cand != nil {
			return cand, nil
		}
	}
	return nil, nil
}

// regionScoped resolves the landmark, waits for its subtree to render,
// then reruns the ladder under it. A candidate found this way carries the
// region_scoped strategy with the inner strategy in its metadata.
func (e *Engine) regionScoped(ctx context.Context, probes []namedProbe, in plan.Intent) (*plan.Candidate, error) {
	scope := LandmarkCSS(in.Within)

	// The subtree may not have rendered yet: settle before searching so
	// discovery cannot win against a half-built region.
	_ = e.drv.WaitDOMIdle(ctx, 150*time.Millisecond, 3*time.Second)
	select {
	case <-ctx.Done():
		return nil, nil
	case <-time.After(time.Second):
	}

	n, err := e.drv.Count(ctx, scope, "")
	if err != nil || n == 0 {
		return nil, nil
	}

	inner, err := e.walk(ctx, probes, in, scope)
	if err != nil || inner == nil {
		return inner, err
	}
	cand := &plan.Candidate{
		Selector:   inner.Selector,
		Strategy:   plan.StrategyRegionScoped,
		Stable:     plan.StrategyRegionScoped.Stable(),
		Confidence: plan.StrategyRegionScoped.BaseConfidence(),
		Meta: map[string]string{
			"inner_strategy": string(inner.Strategy),
			"scope":          scope,
		},
	}
	return cand, nil
}

// appSpecific consults plug-ins matching the origin, last resort before
// giving up.
func (e *Engine) appSpecific(ctx context.Context, origin string, in plan.Intent) (*plan.Candidate, error) {
	for _, p := range e.plugins {
		if !p.Matches(origin) {
			continue
		}
		cand, err := p.Discover(ctx, e.drv, in)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil
			}
			return nil, err
		}
		if cand != nil {
			return cand, nil
		}
	}
	return nil, nil
}

// fromCache consults the dual-layer cache; a stable hit short-circuits the
// ladder, an unstable hit is returned tagged when the cache allows it.
func (e *Engine) fromCache(origin string, in plan.Intent) *plan.Candidate {
	if e.cache == nil {
		return nil
	}
	entry := e.cache.Get(origin, in.Label, selectorcache.Normalize(in.Within))
	if entry == nil {
		return nil
	}
	return &plan.Candidate{
		Selector:   entry.Selector,
		Strategy:   plan.StrategyCached,
		Stable:     entry.Stable,
		Confidence: entry.Confidence,
		Meta:       map[string]string{"source_strategy": string(entry.Strategy)},
	}
}

func (e *Engine) emit(reqID string, stepIdx, healRound int, started time.Time, cand *plan.Candidate) {
	e.sink.Incr("discovery_strategy_" + string(cand.Strategy))
	e.sink.Event(telemetry.TagDiscovery, reqID, stepIdx, healRound, time.Since(started),
		"candidate found",
		zap.String("selector", cand.Selector),
		zap.String("strategy", string(cand.Strategy)),
		zap.Float64("confidence", cand.Confidence),
		zap.Bool("stable", cand.Stable))
}

// origin extracts scheme://host from the current page URL.
func (e *Engine) origin(ctx context.Context) (string, error) {
	raw, err := e.drv.URL(ctx)
	if err != nil {
		return "", err
	}
	return OriginOf(raw), nil
}

// OriginOf reduces a URL to its origin; malformed URLs pass through as-is
// so cache keys stay deterministic.
func OriginOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}
	return u.Scheme + "://" + u.Host
}

func decayed(base, perRound float64, healRound int) float64 {
	c := base - perRound*float64(healRound)
	if c < 0 {
		return 0
	}
	return c
}

// landmarkCSS maps landmark names to the CSS capturing both the implicit
// element and the explicit role attribute.
var landmarkCSS = map[string]string{
	"navigation":    `nav, [role="navigation"]`,
	"nav":           `nav, [role="navigation"]`,
	"main":          `main, [role="main"]`,
	"banner":        `header, [role="banner"]`,
	"header":        `header, [role="banner"]`,
	"contentinfo":   `footer, [role="contentinfo"]`,
	"footer":        `footer, [role="contentinfo"]`,
	"search":        `[role="search"]`,
	"form":          `form, [role="form"]`,
	"complementary": `aside, [role="complementary"]`,
	"sidebar":       `aside, [role="complementary"]`,
	"dialog":        `dialog, [role="dialog"]`,
}

// LandmarkCSS resolves a within-landmark name to CSS. Unknown names fall
// back to an aria-label substring match so named regions still scope.
func LandmarkCSS(name string) string {
	if css, ok := landmarkCSS[name]; ok {
		return css
	}
	return `[aria-label*="` + cssEscape(name) + `" i]`
}
