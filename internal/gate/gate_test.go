package gate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pacts/internal/driver"
	"pacts/internal/driver/drivertest"
	"pacts/internal/plan"
)

// fast shrinks the sampling interval so stability checks finish quickly.
func fast(opts Options) Options {
	opts.SampleInterval = time.Millisecond
	opts.BaseTimeout = time.Second
	return opts
}

func TestCheckAllPredicatesPass(t *testing.T) {
	drv := &drivertest.Fake{Counts: map[string]int{"#save": 1}}

	res, err := Check(context.Background(), drv, "#save", fast(Options{Action: plan.ActionClick}))
	require.NoError(t, err)
	assert.True(t, res.Overall)
	assert.Equal(t, plan.FailureNone, res.FailureKind())
}

func TestCheckNotUnique(t *testing.T) {
	drv := &drivertest.Fake{Counts: map[string]int{"#save": 3}}

	res, err := Check(context.Background(), drv, "#save", fast(Options{Action: plan.ActionClick}))
	require.NoError(t, err)
	assert.False(t, res.Overall)
	assert.Equal(t, plan.FailureNotUnique, res.FailureKind())
}

func TestCheckNotVisible(t *testing.T) {
	drv := &drivertest.Fake{
		Counts:  map[string]int{"#save": 1},
		Visible: map[string]bool{"#save": false},
	}

	res, err := Check(context.Background(), drv, "#save", fast(Options{Action: plan.ActionClick}))
	require.NoError(t, err)
	assert.False(t, res.Overall)
	assert.Equal(t, plan.FailureNotVisible, res.FailureKind())
}

func TestCheckOcclusionCountsAsNotVisible(t *testing.T) {
	drv := &drivertest.Fake{
		Counts:  map[string]int{"#save": 1},
		Covered: map[string]bool{"#save": true},
	}

	res, err := Check(context.Background(), drv, "#save", fast(Options{Action: plan.ActionClick}))
	require.NoError(t, err)
	assert.Equal(t, plan.FailureNotVisible, res.FailureKind())

	res, err = Check(context.Background(), drv, "#save",
		fast(Options{Action: plan.ActionClick, AllowCovered: true}))
	require.NoError(t, err)
	assert.True(t, res.Overall)
}

func TestCheckNotEnabled(t *testing.T) {
	drv := &drivertest.Fake{
		Counts:  map[string]int{"#email": 1},
		Enabled: map[string]bool{"#email": false},
	}

	res, err := Check(context.Background(), drv, "#email", fast(Options{Action: plan.ActionFill,
		Visibility: VisibilityDeferred}))
	require.NoError(t, err)
	assert.Equal(t, plan.FailureNotEnabled, res.FailureKind())
}

func TestCheckReadOnlyActionsSkipEnabled(t *testing.T) {
	drv := &drivertest.Fake{
		Counts:  map[string]int{"#tip": 1},
		Enabled: map[string]bool{"#tip": false},
	}

	res, err := Check(context.Background(), drv, "#tip", fast(Options{Action: plan.ActionHover}))
	require.NoError(t, err)
	assert.True(t, res.Overall)
}

func TestCheckStability(t *testing.T) {
	box := func(x float64) driver.Rect { return driver.Rect{X: x, Y: 10, Width: 100, Height: 20} }

	tests := []struct {
		name      string
		healRound int
		boxes     []driver.Rect
		wantPass  bool
	}{
		{
			name:     "steady element",
			boxes:    []driver.Rect{box(10), box(10), box(10)},
			wantPass: true,
		},
		{
			name:     "sub-tolerance jitter",
			boxes:    []driver.Rect{box(10), box(11), box(10.5)},
			wantPass: true,
		},
		{
			// Tolerance is strictly below epsilon, so drift of exactly 2.0
			// fails at round zero.
			name:     "exact epsilon drift at round zero",
			boxes:    []driver.Rect{box(10), box(12), box(10)},
			wantPass: false,
		},
		{
			// At round one epsilon grows to 2.5, so the same 2.0 drift
			// passes.
			name:      "exact epsilon drift at round one",
			healRound: 1,
			boxes:     []driver.Rect{box(10), box(12), box(10), box(12)},
			wantPass:  true,
		},
		{
			name:     "large drift",
			boxes:    []driver.Rect{box(10), box(50)},
			wantPass: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drv := &drivertest.Fake{
				Counts: map[string]int{"#el": 1},
				Boxes:  map[string][]driver.Rect{"#el": tt.boxes},
			}
			res, err := Check(context.Background(), drv, "#el",
				fast(Options{Action: plan.ActionClick, HealRound: tt.healRound}))
			require.NoError(t, err)
			if tt.wantPass {
				assert.True(t, res.Stable)
				assert.True(t, res.Overall)
			} else {
				assert.False(t, res.Stable)
				assert.Equal(t, plan.FailureUnstable, res.FailureKind())
			}
		})
	}
}

func TestCheckInScope(t *testing.T) {
	drv := &drivertest.Fake{
		Counts:    map[string]int{"#save": 1},
		Ancestors: map[string]map[string]bool{"#save": {`form, [role="form"]`: false}},
	}

	res, err := Check(context.Background(), drv, "#save",
		fast(Options{Action: plan.ActionClick, Scope: `form, [role="form"]`}))
	require.NoError(t, err)
	assert.Equal(t, plan.FailureNotScoped, res.FailureKind())
}

func TestCheckDeferredVisibility(t *testing.T) {
	drv := &drivertest.Fake{
		Counts:  map[string]int{"#search": 1},
		Visible: map[string]bool{"#search": false},
	}

	// Required mode fails on visibility.
	res, err := Check(context.Background(), drv, "#search", fast(Options{Action: plan.ActionFill}))
	require.NoError(t, err)
	assert.False(t, res.Overall)

	// Deferred mode passes on presence; visibility stays false for the
	// executor's activation decision.
	res, err = Check(context.Background(), drv, "#search",
		fast(Options{Action: plan.ActionFill, Visibility: VisibilityDeferred}))
	require.NoError(t, err)
	assert.True(t, res.Overall)
	assert.False(t, res.Visible)
}

func TestCheckDeferredVisibilityIgnoresStability(t *testing.T) {
	// A hidden fill target has no meaningful geometry yet; presence,
	// enabledness, and scope carry the deferred verdict even while the
	// bounding box drifts.
	drv := &drivertest.Fake{
		Counts:  map[string]int{"#search": 1},
		Visible: map[string]bool{"#search": false},
		Boxes: map[string][]driver.Rect{"#search": {
			{X: 10, Y: 10, Width: 100, Height: 20},
			{X: 60, Y: 10, Width: 100, Height: 20},
			{X: 10, Y: 10, Width: 100, Height: 20},
		}},
	}

	res, err := Check(context.Background(), drv, "#search",
		fast(Options{Action: plan.ActionFill, Visibility: VisibilityDeferred}))
	require.NoError(t, err)
	assert.True(t, res.Overall)
	assert.False(t, res.Stable, "stability is still measured and reported")
}

func TestCheckScopedCount(t *testing.T) {
	// Count is asked with the scope, so a selector unique inside the
	// region passes even if the page has more matches elsewhere.
	drv := &drivertest.Fake{Counts: map[string]int{"#save": 1}}
	res, err := Check(context.Background(), drv, "#save",
		fast(Options{Action: plan.ActionClick, Scope: "main"}))
	require.NoError(t, err)
	assert.True(t, res.Overall)
}
