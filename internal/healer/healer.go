// Package healer implements the bounded self-healing loop: environmental
// reveal, a round-specific selector reprobe, then a stabilization gate.
// Two guards keep the loop from livelocking: a repeated-none guard and an
// identical-selector guard. Heal events extend the run's event list by
// whole-slice reassignment so the coordinator's change detection sees
// every append.
package healer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pacts/internal/discovery"
	"pacts/internal/driver"
	"pacts/internal/gate"
	"pacts/internal/plan"
	"pacts/internal/selectorcache"
	"pacts/internal/telemetry"
)

// Activator reveals a hidden input; the executor's activation ladder
// implements it.
type Activator interface {
	Activate(ctx context.Context, reqID string, stepIdx int, in plan.Intent, selector string) bool
}

// Config bounds the healer.
type Config struct {
	MaxHealRounds int
}

// Input is everything the healer needs for one invocation. Events is the
// current heal-event slice; the healer returns an extended copy.
type Input struct {
	ReqID        string
	StepIdx      int
	Round        int // heal round completed so far; this invocation is Round+1
	Failure      plan.FailureKind
	Intent       *plan.Intent
	LastSelector string
	Events       []plan.HealEvent
}

// Outcome reports the heal attempt. Round is the new heal round; a forced
// Failure means a guard fired and the run must go to verdict.
type Outcome struct {
	Events    []plan.HealEvent
	Round     int
	Failure   plan.FailureKind
	RCADetail string
	Healed    bool
}

// stepState tracks per-step guard inputs across heal rounds.
type stepState struct {
	noneCount    int
	prevSelector string
}

// Healer heals one run's steps. Not safe for concurrent use; the
// coordinator is single-threaded per run.
type Healer struct {
	drv       driver.API
	cache     discovery.SelectorCache
	activator Activator
	cfg       Config
	sink      *telemetry.Sink

	steps map[int]*stepState
}

// New builds a healer. cache, activator, and sink may be nil.
func New(drv driver.API, cache discovery.SelectorCache, activator Activator, cfg Config, sink *telemetry.Sink) *Healer {
	if cfg.MaxHealRounds == 0 {
		cfg.MaxHealRounds = 3
	}
	if sink == nil {
		sink = telemetry.NewSink(nil)
	}
	return &Healer{drv: drv, cache: cache, activator: activator, cfg: cfg, sink: sink,
		steps: make(map[int]*stepState)}
}

// Heal runs one reveal-reprobe-stabilize cycle.
func (h *Healer) Heal(ctx context.Context, in Input) Outcome {
	started := time.Now()
	round := in.Round + 1
	st := h.state(in.StepIdx)

	ev := plan.HealEvent{
		Round:       round,
		StepIdx:     in.StepIdx,
		FailureKind: in.Failure,
		OldSelector: in.LastSelector,
	}

	ev.Actions = append(ev.Actions, h.reveal(ctx, in.LastSelector)...)
	if ctx.Err() != nil {
		return h.cancelled(in, ev, started)
	}

	cand := h.reprobe(ctx, round, *in.Intent)
	if ctx.Err() != nil {
		return h.cancelled(in, ev, started)
	}

	if cand == nil {
		st.noneCount++
		in.Intent.Candidate = nil
		if st.noneCount >= 2 {
			// Repeated-None guard: two consecutive empty reprobes mean the
			// element is gone, not drifting.
			ev.Detail = fmt.Sprintf("element %q not found after %d discovery attempts",
				in.Intent.Label, st.noneCount)
			ev.DurationMs = time.Since(started).Milliseconds()
			h.emit(in, ev)
			return Outcome{
				Events:    append(in.Events, ev),
				Round:     h.cfg.MaxHealRounds,
				Failure:   plan.FailureDiscoveryNone,
				RCADetail: ev.Detail,
			}
		}
		ev.Detail = "reprobe returned nothing; next attempt rediscovers from scratch"
		ev.DurationMs = time.Since(started).Milliseconds()
		h.emit(in, ev)
		return Outcome{Events: append(in.Events, ev), Round: round}
	}
	st.noneCount = 0
	ev.Actions = append(ev.Actions, "reprobe:"+string(cand.Strategy))
	ev.NewSelector = cand.Selector

	if cand.Selector == st.prevSelector || cand.Selector == in.LastSelector {
		if in.Intent.Action == plan.ActionFill && h.activator != nil &&
			h.activator.Activate(ctx, in.ReqID, in.StepIdx, *in.Intent, cand.Selector) {
			ev.Actions = append(ev.Actions, "activate")
		} else {
			// Identical-selector guard: reprobing found the same selector
			// that already failed, so more rounds cannot help.
			ev.Detail = "Selector repeatedly failed validation"
			ev.DurationMs = time.Since(started).Milliseconds()
			h.emit(in, ev)
			return Outcome{
				Events:    append(in.Events, ev),
				Round:     h.cfg.MaxHealRounds,
				Failure:   in.Failure,
				RCADetail: ev.Detail,
			}
		}
	}
	st.prevSelector = cand.Selector

	// Stabilize: the gate reruns with round-scaled tolerances.
	visibility := gate.VisibilityRequired
	if in.Intent.Action == plan.ActionFill {
		visibility = gate.VisibilityDeferred
	}
	scope := ""
	if in.Intent.Within != "" {
		scope = discovery.LandmarkCSS(in.Intent.Within)
	}
	res, err := gate.Check(ctx, h.drv, cand.Selector, gate.Options{
		Action:     in.Intent.Action,
		Scope:      scope,
		HealRound:  round,
		Visibility: visibility,
	})
	if err != nil {
		if ctx.Err() != nil {
			return h.cancelled(in, ev, started)
		}
		ev.Detail = err.Error()
	}
	ev.GateResult = res.Map()
	ev.Success = res.Overall
	ev.DurationMs = time.Since(started).Milliseconds()

	in.Intent.Candidate = cand
	h.emit(in, ev)
	return Outcome{
		Events: append(in.Events, ev),
		Round:  round,
		Healed: res.Overall,
	}
}

// Reset clears per-step guard state, called when a step finally succeeds.
func (h *Healer) Reset(stepIdx int) {
	delete(h.steps, stepIdx)
}

func (h *Healer) state(stepIdx int) *stepState {
	st, ok := h.steps[stepIdx]
	if !ok {
		st = &stepState{}
		h.steps[stepIdx] = st
	}
	return st
}

func (h *Healer) cancelled(in Input, ev plan.HealEvent, started time.Time) Outcome {
	ev.Detail = "cancelled"
	ev.DurationMs = time.Since(started).Milliseconds()
	return Outcome{
		Events:    append(in.Events, ev),
		Round:     in.Round,
		Failure:   plan.FailureCancelled,
		RCADetail: "run cancelled during healing",
	}
}

// reveal applies the environmental corrections in order and reports which
// ran.
func (h *Healer) reveal(ctx context.Context, lastSelector string) []string {
	var actions []string
	if h.drv.BringToFront(ctx) == nil {
		actions = append(actions, "bring_to_front")
	}
	if lastSelector != "" && h.drv.ScrollIntoView(ctx, lastSelector) == nil {
		actions = append(actions, "scroll_into_view")
	}
	if h.drv.DismissOverlays(ctx) == nil {
		actions = append(actions, "dismiss_overlays")
	}
	if h.drv.WaitNetworkIdle(ctx, 2*time.Second) == nil {
		actions = append(actions, "wait_for_network_idle")
	}
	return actions
}

func (h *Healer) emit(in Input, ev plan.HealEvent) {
	h.sink.Incr("heal_" + string(in.Failure))
	h.sink.Event(telemetry.TagHeal, in.ReqID, in.StepIdx, ev.Round,
		time.Duration(ev.DurationMs)*time.Millisecond, "heal round",
		zap.String("failure", string(in.Failure)),
		zap.Strings("actions", ev.Actions),
		zap.String("new_selector", ev.NewSelector),
		zap.Bool("success", ev.Success))
}

// contextHash mirrors the discovery engine's cache-key context.
func contextHash(in plan.Intent) string {
	return selectorcache.Normalize(in.Within)
}
