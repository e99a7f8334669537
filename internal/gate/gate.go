// Package gate implements the five-check actionability predicate: unique,
// visible, enabled, stable, in-scope. Tolerances and timeouts scale with
// the current heal round so later rounds accept more page jitter.
package gate

import (
	"context"
	"math"
	"time"

	"pacts/internal/driver"
	"pacts/internal/plan"
)

// VisibilityMode controls whether the visible predicate participates in the
// overall verdict. Deferred is the fill relaxation: hidden-but-present
// inputs are allowed through and the executor ensures visibility by
// activation.
type VisibilityMode int

const (
	VisibilityRequired VisibilityMode = iota
	VisibilityDeferred
)

// Options parameterize one gate check.
type Options struct {
	Action       plan.Action
	Scope        string // landmark selector, "" when the step has no region
	HealRound    int
	Visibility   VisibilityMode
	AllowCovered bool

	// Stability sampling; zero values fall back to the defaults below.
	SampleInterval time.Duration
	BaseTimeout    time.Duration
}

const (
	defaultSampleInterval = 120 * time.Millisecond
	defaultBaseTimeout    = 2 * time.Second
)

// Result reports each predicate plus the joint verdict.
type Result struct {
	Unique  bool `json:"unique"`
	Visible bool `json:"visible"`
	Enabled bool `json:"enabled"`
	Stable  bool `json:"stable"`
	InScope bool `json:"in_scope"`
	Overall bool `json:"overall"`
}

// FailureKind maps the first failing predicate, in check order, to its
// failure classification.
func (r Result) FailureKind() plan.FailureKind {
	switch {
	case r.Overall:
		return plan.FailureNone
	case !r.Unique:
		return plan.FailureNotUnique
	case !r.Visible:
		return plan.FailureNotVisible
	case !r.Enabled:
		return plan.FailureNotEnabled
	case !r.Stable:
		return plan.FailureUnstable
	case !r.InScope:
		return plan.FailureNotScoped
	}
	return plan.FailureNone
}

// Map renders the result for heal-event payloads.
func (r Result) Map() map[string]bool {
	return map[string]bool{
		"unique":   r.Unique,
		"visible":  r.Visible,
		"enabled":  r.Enabled,
		"stable":   r.Stable,
		"in_scope": r.InScope,
		"overall":  r.Overall,
	}
}

// Check evaluates the five predicates for a selector under the given
// options. Predicates are evaluated in order and each runs under its own
// deadline of BaseTimeout + 1s per heal round.
func Check(ctx context.Context, drv driver.API, selector string, opts Options) (Result, error) {
	var res Result

	timeout := opts.BaseTimeout
	if timeout == 0 {
		timeout = defaultBaseTimeout
	}
	timeout += time.Duration(opts.HealRound) * time.Second

	// unique
	uctx, cancel := context.WithTimeout(ctx, timeout)
	n, err := drv.Count(uctx, selector, opts.Scope)
	cancel()
	if err != nil {
		return res, err
	}
	res.Unique = n == 1
	if !res.Unique {
		return res, nil
	}

	// visible (occlusion counts unless the caller allows covered elements)
	vctx, cancel := context.WithTimeout(ctx, timeout)
	visible, err := drv.IsVisible(vctx, selector)
	if err == nil && visible && !opts.AllowCovered {
		var covered bool
		covered, err = drv.IsCovered(vctx, selector)
		visible = visible && !covered
	}
	cancel()
	if err != nil {
		return res, err
	}
	res.Visible = visible
	if !res.Visible && opts.Visibility == VisibilityRequired {
		return res, nil
	}

	// enabled (read-only actions are trivially enabled)
	if opts.Action.ReadOnly() {
		res.Enabled = true
	} else {
		ectx, cancel := context.WithTimeout(ctx, timeout)
		enabled, err := drv.IsEnabled(ectx, selector)
		cancel()
		if err != nil {
			return res, err
		}
		res.Enabled = enabled
	}
	if !res.Enabled {
		return res, nil
	}

	// stable
	stable, err := checkStable(ctx, drv, selector, opts)
	if err != nil {
		return res, err
	}
	res.Stable = stable
	if !res.Stable && opts.Visibility == VisibilityRequired {
		return res, nil
	}

	// in-scope
	res.InScope = true
	if opts.Scope != "" {
		sctx, cancel := context.WithTimeout(ctx, timeout)
		inScope, err := drv.HasAncestor(sctx, selector, opts.Scope)
		cancel()
		if err != nil {
			return res, err
		}
		res.InScope = inScope
	}
	if !res.InScope {
		return res, nil
	}

	if opts.Visibility == VisibilityDeferred {
		// Deferred visibility: unique + enabled + in-scope carry the verdict.
		// Stability is still measured and reported, but a hidden input has no
		// meaningful geometry until activation reveals it.
		res.Overall = res.Unique && res.Enabled && res.InScope
	} else {
		res.Overall = res.Unique && res.Visible && res.Enabled && res.Stable && res.InScope
	}
	return res, nil
}

// checkStable samples the bounding box S = 3 + healRound times, T apart,
// and accepts drift up to epsilon = 2.0 + 0.5*healRound pixels in either
// dimension or position axis.
func checkStable(ctx context.Context, drv driver.API, selector string, opts Options) (bool, error) {
	samples := 3 + opts.HealRound
	interval := opts.SampleInterval
	if interval == 0 {
		interval = defaultSampleInterval
	}
	epsilon := 2.0 + 0.5*float64(opts.HealRound)

	prev, err := drv.BoundingBox(ctx, selector)
	if err != nil {
		return false, err
	}
	for i := 1; i < samples; i++ {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(interval):
		}
		cur, err := drv.BoundingBox(ctx, selector)
		if err != nil {
			return false, err
		}
		if exceeds(prev, cur, epsilon) {
			return false, nil
		}
		prev = cur
	}
	return true, nil
}

// Drift of exactly epsilon is out of tolerance: tolerance is strictly
// below the bound, so an element oscillating by epsilon at round 0 fails
// and may pass once the round-scaled bound grows past its amplitude.
func exceeds(a, b driver.Rect, epsilon float64) bool {
	return math.Abs(a.X-b.X) >= epsilon ||
		math.Abs(a.Y-b.Y) >= epsilon ||
		math.Abs(a.Width-b.Width) >= epsilon ||
		math.Abs(a.Height-b.Height) >= epsilon
}
