// Package executor runs one step per invocation: readiness wait, selector
// discovery, actionability gate, the action itself, light verification, a
// screenshot, and success bookkeeping. The executor never mutates run
// state; it returns a Result the coordinator applies.
package executor

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"pacts/internal/discovery"
	"pacts/internal/driver"
	"pacts/internal/gate"
	"pacts/internal/plan"
	"pacts/internal/selectorcache"
	"pacts/internal/telemetry"
)

// Discoverer produces a candidate for an intent.
type Discoverer interface {
	Discover(ctx context.Context, reqID string, stepIdx int, in plan.Intent, healRound int) (*plan.Candidate, error)
}

// CacheWriter is the write side of the selector cache.
type CacheWriter interface {
	Put(origin, label, contextHash string, cand plan.Candidate)
	RecordMiss(origin, label, contextHash string)
	Invalidate(origin, label string)
}

// Config tunes one executor.
type Config struct {
	ScreenshotDir    string
	ReadinessWait    time.Duration // DOM idle cap on ordinary pages
	SPAReadinessWait time.Duration // cap when an SPA marker is present
	SPAMarkers       []string
	ActionTimeout    time.Duration
}

// Result is the executor's report for one step. Exactly one of Executed,
// RequiresHuman, or a non-empty Failure is meaningful.
type Result struct {
	Failure       plan.FailureKind
	Detail        string
	RequiresHuman bool
	Executed      *plan.ExecutedStep
	GateResult    map[string]bool
	Selector      string // last selector attempted, for the healer
}

func failed(kind plan.FailureKind, detail string) Result {
	return Result{Failure: kind, Detail: detail}
}

// Executor executes steps for one run.
type Executor struct {
	drv   driver.API
	disc  Discoverer
	cache CacheWriter
	cfg   Config
	sink  *telemetry.Sink

	// consecutive gate failures on a cached selector, keyed by step index;
	// two in one step trigger hard invalidation.
	cachedFails map[int]int
}

// New builds an executor. cache and sink may be nil.
func New(drv driver.API, disc Discoverer, cache CacheWriter, cfg Config, sink *telemetry.Sink) *Executor {
	if cfg.ReadinessWait == 0 {
		cfg.ReadinessWait = 500 * time.Millisecond
	}
	if cfg.SPAReadinessWait == 0 {
		cfg.SPAReadinessWait = time.Second
	}
	if cfg.ActionTimeout == 0 {
		cfg.ActionTimeout = 5 * time.Second
	}
	if sink == nil {
		sink = telemetry.NewSink(nil)
	}
	return &Executor{drv: drv, disc: disc, cache: cache, cfg: cfg, sink: sink,
		cachedFails: make(map[int]int)}
}

// ExecuteStep runs one step. The intent may already carry a candidate (a
// healer reprobe installs one); otherwise discovery runs here.
func (e *Executor) ExecuteStep(ctx context.Context, reqID string, stepIdx int, in *plan.Intent, healRound int) Result {
	started := time.Now()

	// wait steps never touch the driver; they hand the run to the HITL
	// bridge.
	if in.Action == plan.ActionWait {
		return Result{RequiresHuman: true}
	}

	e.waitReady(ctx)

	cand := in.Candidate
	if cand == nil {
		found, err := e.disc.Discover(ctx, reqID, stepIdx, *in, healRound)
		if err != nil {
			if ctx.Err() != nil {
				return failed(plan.FailureCancelled, ctx.Err().Error())
			}
			return failed(plan.FailureTimeout, err.Error())
		}
		if found == nil {
			return failed(plan.FailureDiscoveryNone,
				fmt.Sprintf("no selector found for %q", in.Label))
		}
		cand = found
		in.Candidate = found
	}

	scope := ""
	if in.Within != "" {
		scope = discovery.LandmarkCSS(in.Within)
	}

	visibility := gate.VisibilityRequired
	if in.Action == plan.ActionFill {
		visibility = gate.VisibilityDeferred
	}
	res, err := gate.Check(ctx, e.drv, cand.Selector, gate.Options{
		Action:     in.Action,
		Scope:      scope,
		HealRound:  healRound,
		Visibility: visibility,
	})
	if err != nil {
		if ctx.Err() != nil {
			return failed(plan.FailureCancelled, ctx.Err().Error())
		}
		return Result{Failure: plan.FailureTimeout, Detail: err.Error(), Selector: cand.Selector}
	}
	e.sink.Event(telemetry.TagGate, reqID, stepIdx, healRound, time.Since(started),
		"gate", zap.String("selector", cand.Selector), zap.Bool("pass", res.Overall))

	if !res.Overall {
		e.noteCachedFailure(ctx, stepIdx, in, cand)
		return Result{
			Failure:    res.FailureKind(),
			GateResult: res.Map(),
			Selector:   cand.Selector,
			Detail:     fmt.Sprintf("gate failed on %q", cand.Selector),
		}
	}

	// Deferred visibility passed the gate on presence alone; a hidden fill
	// target still needs to be revealed before input lands in it.
	if in.Action == plan.ActionFill && !res.Visible {
		if !e.Activate(ctx, reqID, stepIdx, *in, cand.Selector) {
			return Result{
				Failure:    plan.FailureNotVisible,
				GateResult: res.Map(),
				Selector:   cand.Selector,
				Detail:     "target stayed hidden after activation",
			}
		}
	}

	actx, cancelAction := context.WithTimeout(ctx, e.cfg.ActionTimeout)
	err = e.dispatch(actx, *in, cand)
	cancelAction()
	if err != nil {
		if ctx.Err() != nil {
			return failed(plan.FailureCancelled, ctx.Err().Error())
		}
		// Driver failures of any shape classify as timeouts; the healer
		// decides what to do with them.
		return Result{Failure: plan.FailureTimeout, Detail: err.Error(), Selector: cand.Selector}
	}

	e.verify(ctx, in.Action)
	shot := e.screenshot(ctx, reqID, stepIdx, in.Label)
	e.writeBack(ctx, *in, cand)
	delete(e.cachedFails, stepIdx)

	elapsed := time.Since(started)
	e.sink.Event(telemetry.TagExec, reqID, stepIdx, healRound, elapsed, "step executed",
		zap.String("action", string(in.Action)), zap.String("selector", cand.Selector))
	e.sink.StepDuration(reqID, elapsed)

	return Result{Executed: &plan.ExecutedStep{
		Index:      stepIdx,
		Label:      in.Label,
		Action:     in.Action,
		Value:      in.Value,
		Selector:   cand.Selector,
		Strategy:   cand.Strategy,
		HealRounds: healRound,
		Screenshot: shot,
		DurationMs: elapsed.Milliseconds(),
	}}
}

// waitReady blocks until layout settles or the readiness cap expires. The
// cap stretches when the page carries an SPA marker, since client-side
// rendering lands after the load event.
func (e *Executor) waitReady(ctx context.Context) {
	limit := e.cfg.ReadinessWait
	for _, marker := range e.cfg.SPAMarkers {
		if n, err := e.drv.Count(ctx, marker, ""); err == nil && n > 0 {
			limit = e.cfg.SPAReadinessWait
			break
		}
	}
	_ = e.drv.WaitDOMIdle(ctx, 150*time.Millisecond, limit)
}

// dispatch performs the action. Combobox-protocol candidates route through
// the open-type-commit sequence regardless of the step's nominal action.
func (e *Executor) dispatch(ctx context.Context, in plan.Intent, cand *plan.Candidate) error {
	if cand.Meta["protocol"] == "combobox" && in.Action.InputStyle() {
		return e.comboboxProtocol(ctx, cand.Selector, in.Value)
	}

	sel := cand.Selector
	switch in.Action {
	case plan.ActionClick:
		return e.drv.Click(ctx, sel)
	case plan.ActionFill:
		if err := e.drv.Fill(ctx, sel, in.Value); err != nil {
			return err
		}
		e.debounceAutocomplete(ctx, sel)
		return nil
	case plan.ActionType:
		return e.drv.TypeText(ctx, sel, in.Value, 50*time.Millisecond)
	case plan.ActionPress:
		return e.drv.Press(ctx, in.Value)
	case plan.ActionSelect:
		return e.drv.SelectOption(ctx, sel, in.Value)
	case plan.ActionCheck:
		return e.drv.SetChecked(ctx, sel, true)
	case plan.ActionUncheck:
		return e.drv.SetChecked(ctx, sel, false)
	case plan.ActionHover:
		return e.drv.Hover(ctx, sel)
	case plan.ActionFocus:
		return e.drv.Focus(ctx, sel)
	}
	return fmt.Errorf("unsupported action %q", in.Action)
}

// comboboxProtocol drives a custom dropdown: open, type the value, commit
// with Enter, then confirm the listbox closed again.
func (e *Executor) comboboxProtocol(ctx context.Context, sel, value string) error {
	if err := e.drv.Click(ctx, sel); err != nil {
		return err
	}
	if err := e.drv.TypeText(ctx, sel, value, 50*time.Millisecond); err != nil {
		return err
	}
	if err := e.drv.Press(ctx, "Enter"); err != nil {
		return err
	}
	expanded, err := e.drv.Attribute(ctx, sel, "aria-expanded")
	if err == nil && expanded == "true" {
		return fmt.Errorf("combobox %q did not commit", sel)
	}
	return nil
}

// debounceAutocomplete gives autocomplete-wired inputs a moment to settle
// before the next step races their suggestion popup.
func (e *Executor) debounceAutocomplete(ctx context.Context, sel string) {
	auto, err := e.drv.Attribute(ctx, sel, "autocomplete")
	if err != nil || auto == "" || auto == "off" {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(200 * time.Millisecond):
	}
}

// verify is the lightweight post-action check: actions that can navigate
// get a short settle window so the next step sees the new document.
func (e *Executor) verify(ctx context.Context, action plan.Action) {
	switch action {
	case plan.ActionClick, plan.ActionPress, plan.ActionSelect:
		_ = e.drv.WaitDOMIdle(ctx, 150*time.Millisecond, 500*time.Millisecond)
	}
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

func slug(label string) string {
	s := slugRe.ReplaceAllString(strings.ToLower(label), "-")
	return strings.Trim(s, "-")
}

// screenshot captures the step artifact; failure to capture is logged, not
// fatal.
func (e *Executor) screenshot(ctx context.Context, reqID string, stepIdx int, label string) string {
	name := fmt.Sprintf("%s_step%02d_%s.png", reqID, stepIdx, slug(label))
	path := filepath.Join(e.cfg.ScreenshotDir, name)
	if err := e.drv.Screenshot(ctx, path); err != nil {
		e.sink.Warn(telemetry.TagExec, reqID, stepIdx, 0, "screenshot failed", zap.Error(err))
		return ""
	}
	return path
}

// writeBack stores a gate-passed selector in the cache. Cached hits write
// back under their original producing strategy so the durable row keeps
// its provenance.
func (e *Executor) writeBack(ctx context.Context, in plan.Intent, cand *plan.Candidate) {
	if e.cache == nil {
		return
	}
	origin := e.originOf(ctx)
	entry := *cand
	if entry.Strategy == plan.StrategyCached {
		if src := cand.Meta["source_strategy"]; src != "" {
			entry.Strategy = plan.Strategy(src)
			entry.Stable = entry.Strategy.Stable()
		}
	}
	e.cache.Put(origin, in.Label, selectorcache.Normalize(in.Within), entry)
}

// noteCachedFailure tracks gate failures on cached selectors; the second
// failure within one step hard-invalidates the entry.
func (e *Executor) noteCachedFailure(ctx context.Context, stepIdx int, in *plan.Intent, cand *plan.Candidate) {
	if e.cache == nil || cand.Strategy != plan.StrategyCached {
		return
	}
	origin := e.originOf(ctx)
	e.cache.RecordMiss(origin, in.Label, selectorcache.Normalize(in.Within))
	e.cachedFails[stepIdx]++
	if e.cachedFails[stepIdx] >= 2 {
		e.cache.Invalidate(origin, in.Label)
		e.sink.Incr("cache_invalidated")
		// Drop the stale candidate so the next attempt rediscovers.
		in.Candidate = nil
	}
}

func (e *Executor) originOf(ctx context.Context) string {
	raw, err := e.drv.URL(ctx)
	if err != nil {
		return ""
	}
	return discovery.OriginOf(raw)
}
