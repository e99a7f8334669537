package executor

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"pacts/internal/plan"
	"pacts/internal/telemetry"
)

// activator is one attempt to reveal a hidden input.
type activator struct {
	name string
	run  func(ctx context.Context, e *Executor, in plan.Intent) bool
}

// Activation order for hidden fill targets: the common search-reveal
// pattern first, then menu toggles, then the label, then the de facto
// standard focus-search hotkey.
var activators = []activator{
	{"search_button", activateSearchButton},
	{"hamburger", activateHamburger},
	{"label_click", activateLabelClick},
	{"slash_hotkey", activateSlashHotkey},
}

// Activate walks the ladder until the target turns visible. Each activator
// gets one shot and one visibility re-check. The healer escalates to this
// ladder when a fill selector repeatedly fails validation.
func (e *Executor) Activate(ctx context.Context, reqID string, stepIdx int, in plan.Intent, selector string) bool {
	for _, a := range activators {
		if ctx.Err() != nil {
			return false
		}
		if !a.run(ctx, e, in) {
			continue
		}
		// Give the reveal animation a beat before re-checking.
		select {
		case <-ctx.Done():
			return false
		case <-time.After(150 * time.Millisecond):
		}
		if visible, err := e.drv.IsVisible(ctx, selector); err == nil && visible {
			e.sink.Event(telemetry.TagExec, reqID, stepIdx, 0, 0, "hidden input activated",
				zap.String("activator", a.name), zap.String("selector", selector))
			e.sink.Incr("activation_" + a.name)
			return true
		}
	}
	return false
}

func clickFirst(ctx context.Context, e *Executor, selector string) bool {
	n, err := e.drv.Count(ctx, selector, "")
	if err != nil || n == 0 {
		return false
	}
	if n > 1 {
		selector += " >> nth=0"
	}
	return e.drv.Click(ctx, selector) == nil
}

func activateSearchButton(ctx context.Context, e *Executor, _ plan.Intent) bool {
	return clickFirst(ctx, e, `role=button[name=/search/i]`)
}

func activateHamburger(ctx context.Context, e *Executor, _ plan.Intent) bool {
	return clickFirst(ctx, e, `button[aria-label*="menu" i], [aria-label*="navigation" i][role="button"]`)
}

// activateLabelClick clicks the label pointing at the hidden control; some
// frameworks reveal the input on label focus.
func activateLabelClick(ctx context.Context, e *Executor, in plan.Intent) bool {
	labels, err := e.drv.Query(ctx, "label[for]", "")
	if err != nil {
		return false
	}
	want := strings.ToLower(strings.TrimSpace(in.Label))
	for _, l := range labels {
		if !strings.Contains(strings.ToLower(l.Text), want) {
			continue
		}
		if id := l.Attrs["for"]; id != "" {
			return e.drv.Click(ctx, `label[for="`+id+`"]`) == nil
		}
	}
	return false
}

func activateSlashHotkey(ctx context.Context, e *Executor, _ plan.Intent) bool {
	return e.drv.Press(ctx, "/") == nil
}
