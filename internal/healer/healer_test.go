package healer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pacts/internal/driver"
	"pacts/internal/driver/drivertest"
	"pacts/internal/plan"
	"pacts/internal/store"
)

// stubActivator records escalation calls.
type stubActivator struct {
	result bool
	calls  int
}

func (s *stubActivator) Activate(ctx context.Context, reqID string, stepIdx int, in plan.Intent, selector string) bool {
	s.calls++
	return s.result
}

// memCache is a stub read-side selector cache.
type memCache struct {
	entry *store.CacheEntry
}

func (m *memCache) Get(origin, label, contextHash string) *store.CacheEntry {
	return m.entry
}

func clickIntent(label string) *plan.Intent {
	in := plan.NormalizeSteps([]plan.Step{{Action: plan.ActionClick, Label: label}})[0]
	return &in
}

func fillIntent(label string) *plan.Intent {
	in := plan.NormalizeSteps([]plan.Step{{Action: plan.ActionFill, Label: label, Value: "x"}})[0]
	return &in
}

func input(in *plan.Intent, round int, lastSelector string) Input {
	return Input{
		ReqID:        "r1",
		StepIdx:      0,
		Round:        round,
		Failure:      plan.FailureNotUnique,
		Intent:       in,
		LastSelector: lastSelector,
	}
}

func TestHealRevealActionsRecorded(t *testing.T) {
	drv := &drivertest.Fake{
		URLValue: "https://shop.example",
		Counts:   map[string]int{"role=button[name=/Save/i]": 1},
	}
	h := New(drv, nil, nil, Config{}, nil)

	out := h.Heal(context.Background(), input(clickIntent("Save"), 0, "#old"))

	require.Len(t, out.Events, 1)
	ev := out.Events[0]
	assert.Equal(t, 1, ev.Round)
	assert.Equal(t, "#old", ev.OldSelector)
	assert.Contains(t, ev.Actions, "bring_to_front")
	assert.Contains(t, ev.Actions, "scroll_into_view")
	assert.Contains(t, ev.Actions, "dismiss_overlays")
	assert.Contains(t, ev.Actions, "wait_for_network_idle")
	assert.True(t, drv.CalledWith("scroll #old"))
}

func TestHealRoundOneRelaxedRole(t *testing.T) {
	drv := &drivertest.Fake{
		URLValue: "https://shop.example",
		Counts: map[string]int{
			"role=button[name=/Save/i]":          2,
			"role=button[name=/Save/i] >> nth=0": 1,
		},
	}
	h := New(drv, nil, nil, Config{}, nil)

	in := clickIntent("Save")
	out := h.Heal(context.Background(), input(in, 0, "#old"))

	assert.True(t, out.Healed)
	assert.Equal(t, 1, out.Round)
	require.NotNil(t, in.Candidate)
	assert.Equal(t, "role=button[name=/Save/i] >> nth=0", in.Candidate.Selector)
	assert.Equal(t, plan.StrategyRoleName, in.Candidate.Strategy)
	assert.Equal(t, 0.85, in.Candidate.Confidence)
	require.Len(t, out.Events, 1)
	assert.Contains(t, out.Events[0].Actions, "reprobe:role_name")
	assert.True(t, out.Events[0].Success)
}

func TestHealRoundTwoLabelFor(t *testing.T) {
	drv := &drivertest.Fake{
		URLValue: "https://shop.example",
		Counts:   map[string]int{"#email-main": 1},
		Infos: map[string][]driver.ElementInfo{
			"label[for]": {{Text: "Email address", Attrs: map[string]string{"for": "email-main"}}},
		},
	}
	h := New(drv, nil, nil, Config{}, nil)

	in := fillIntent("Email")
	out := h.Heal(context.Background(), input(in, 1, "#old"))

	assert.True(t, out.Healed)
	assert.Equal(t, 2, out.Round)
	require.NotNil(t, in.Candidate)
	assert.Equal(t, "#email-main", in.Candidate.Selector)
	assert.Equal(t, plan.StrategyLabelFor, in.Candidate.Strategy)
	assert.Equal(t, 0.88, in.Candidate.Confidence)
}

func TestHealRoundTwoPlaceholderFallback(t *testing.T) {
	drv := &drivertest.Fake{
		URLValue: "https://shop.example",
		Counts: map[string]int{
			`input[placeholder*="Email" i], textarea[placeholder*="Email" i]`: 1,
		},
	}
	h := New(drv, nil, nil, Config{}, nil)

	in := fillIntent("Email")
	out := h.Heal(context.Background(), input(in, 1, "#old"))

	assert.True(t, out.Healed)
	require.NotNil(t, in.Candidate)
	assert.Equal(t, plan.StrategyPlaceholder, in.Candidate.Strategy)
}

func TestHealRoundThreeHeuristics(t *testing.T) {
	drv := &drivertest.Fake{
		URLValue: "https://shop.example",
		Counts:   map[string]int{`[id*="email" i], [class*="email" i]`: 1},
	}
	h := New(drv, nil, nil, Config{}, nil)

	in := fillIntent("Email")
	out := h.Heal(context.Background(), input(in, 2, "#old"))

	assert.True(t, out.Healed)
	assert.Equal(t, 3, out.Round)
	require.NotNil(t, in.Candidate)
	assert.Equal(t, plan.StrategyID, in.Candidate.Strategy)
	assert.Equal(t, 0.70, in.Candidate.Confidence)
}

func TestHealRoundThreeLastKnownGood(t *testing.T) {
	drv := &drivertest.Fake{
		URLValue: "https://shop.example",
		// The last-known-good selector must also exist for the gate to pass.
		Counts: map[string]int{`input[aria-label="Email"]`: 1},
	}
	cache := &memCache{entry: &store.CacheEntry{
		Selector: `input[aria-label="Email"]`,
		Strategy: plan.StrategyAriaLabel,
		Stable:   true,
	}}
	h := New(drv, cache, nil, Config{}, nil)

	in := fillIntent("Email")
	out := h.Heal(context.Background(), input(in, 2, "#old"))

	assert.True(t, out.Healed)
	require.NotNil(t, in.Candidate)
	assert.Equal(t, plan.StrategyCached, in.Candidate.Strategy)
	assert.Equal(t, 0.70, in.Candidate.Confidence)
	assert.Equal(t, "aria_label", in.Candidate.Meta["source_strategy"])
}

func TestHealRepeatedNoneGuard(t *testing.T) {
	drv := &drivertest.Fake{URLValue: "https://shop.example"}
	h := New(drv, nil, nil, Config{MaxHealRounds: 3}, nil)

	in := clickIntent("Ghost")

	out := h.Heal(context.Background(), input(in, 0, "#old"))
	assert.Equal(t, 1, out.Round)
	assert.Empty(t, out.Failure, "the first empty reprobe is not terminal")
	assert.Nil(t, in.Candidate)

	snd := input(in, out.Round, "#old")
	snd.Events = out.Events
	out = h.Heal(context.Background(), snd)
	assert.Equal(t, 3, out.Round, "guard jumps to the round cap")
	assert.Equal(t, plan.FailureDiscoveryNone, out.Failure)
	assert.Contains(t, out.RCADetail, `element "Ghost" not found after 2 discovery attempts`)
	assert.Len(t, out.Events, 2)
}

func TestHealIdenticalSelectorGuard(t *testing.T) {
	drv := &drivertest.Fake{
		URLValue: "https://shop.example",
		Counts:   map[string]int{"role=button[name=/Save/i]": 1},
	}
	h := New(drv, nil, nil, Config{MaxHealRounds: 3}, nil)

	in := clickIntent("Save")
	out := h.Heal(context.Background(), input(in, 0, "role=button[name=/Save/i]"))

	assert.Equal(t, 3, out.Round)
	assert.Equal(t, plan.FailureNotUnique, out.Failure)
	assert.Equal(t, "Selector repeatedly failed validation", out.RCADetail)
	assert.False(t, out.Healed)
}

func TestHealIdenticalSelectorEscalatesToActivationForFill(t *testing.T) {
	drv := &drivertest.Fake{
		URLValue: "https://shop.example",
		Counts:   map[string]int{"role=textbox[name=/Search/i]": 1},
	}
	act := &stubActivator{result: true}
	h := New(drv, nil, act, Config{MaxHealRounds: 3}, nil)

	in := fillIntent("Search")
	out := h.Heal(context.Background(), input(in, 0, "role=textbox[name=/Search/i]"))

	assert.Equal(t, 1, act.calls)
	assert.Equal(t, 1, out.Round, "activation converts the guard into a normal round")
	assert.Empty(t, out.Failure)
	assert.True(t, out.Healed)
	require.Len(t, out.Events, 1)
	assert.Contains(t, out.Events[0].Actions, "activate")
}

func TestHealExtendsEventsBySlice(t *testing.T) {
	drv := &drivertest.Fake{
		URLValue: "https://shop.example",
		Counts:   map[string]int{"role=button[name=/Save/i]": 1},
	}
	h := New(drv, nil, nil, Config{}, nil)

	prior := []plan.HealEvent{{Round: 1, StepIdx: 5}}
	in := input(clickIntent("Save"), 1, "#old")
	in.Events = prior

	out := h.Heal(context.Background(), in)
	require.Len(t, out.Events, 2)
	assert.Equal(t, 5, out.Events[0].StepIdx, "prior events survive the reassignment")
	assert.Equal(t, 2, out.Events[1].Round)
}

func TestHealCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	drv := &drivertest.Fake{URLValue: "https://shop.example"}
	h := New(drv, nil, nil, Config{}, nil)

	out := h.Heal(ctx, input(clickIntent("Save"), 0, "#old"))
	assert.Equal(t, plan.FailureCancelled, out.Failure)
	assert.Equal(t, 0, out.Round, "a cancelled round does not count")
}

func TestHealResetClearsGuardState(t *testing.T) {
	drv := &drivertest.Fake{URLValue: "https://shop.example"}
	h := New(drv, nil, nil, Config{}, nil)

	in := clickIntent("Ghost")
	_ = h.Heal(context.Background(), input(in, 0, "#old"))
	h.Reset(0)

	// After the reset the next empty reprobe counts as the first again.
	out := h.Heal(context.Background(), input(in, 0, "#old"))
	assert.Empty(t, out.Failure)
}
