// Package drivertest provides an in-memory driver.API implementation for
// unit tests: selector behavior is declared up front through maps, and
// every call is recorded for assertions.
package drivertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pacts/internal/driver"
)

// Fake implements driver.API over declared state. The zero value behaves
// like an empty, fully responsive page: every selector matches nothing,
// every found element is visible and enabled.
type Fake struct {
	mu sync.Mutex

	// Page state, keyed by selector unless noted.
	URLValue  string
	Counts    map[string]int
	// ScopedCounts overrides Counts for scoped queries: scope -> selector
	// -> count. When nil, scoped queries fall back to Counts.
	ScopedCounts map[string]map[string]int
	Infos     map[string][]driver.ElementInfo
	Visible   map[string]bool // unset means visible
	Covered   map[string]bool // unset means not covered
	Enabled   map[string]bool // unset means enabled
	Attrs     map[string]map[string]string
	Ancestors map[string]map[string]bool // selector -> ancestor scope -> contained
	Names     map[string]string

	// Boxes holds successive bounding-box samples per selector; the last
	// sample repeats once the sequence is exhausted.
	Boxes  map[string][]driver.Rect
	boxIdx map[string]int

	// Errs maps an op name ("click", "screenshot", ...) to a forced error.
	Errs map[string]error

	calls []string
}

var _ driver.API = (*Fake)(nil)

func (f *Fake) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

// Calls returns every recorded call in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CalledWith reports whether any recorded call has the given prefix.
func (f *Fake) CalledWith(prefix string) bool {
	for _, c := range f.Calls() {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

func (f *Fake) err(op string) error {
	if f.Errs == nil {
		return nil
	}
	return f.Errs[op]
}

func (f *Fake) Start(ctx context.Context) error { f.record("start"); return f.err("start") }
func (f *Fake) Stop() error                     { f.record("stop"); return f.err("stop") }

func (f *Fake) Goto(ctx context.Context, url string) error {
	f.record("goto %s", url)
	if err := f.err("goto"); err != nil {
		return err
	}
	f.URLValue = url
	return nil
}

func (f *Fake) URL(ctx context.Context) (string, error) {
	return f.URLValue, f.err("url")
}

func (f *Fake) Count(ctx context.Context, selector, scope string) (int, error) {
	f.record("count %s", selector)
	if err := f.err("count"); err != nil {
		return 0, err
	}
	if scope != "" && f.ScopedCounts != nil {
		return f.ScopedCounts[scope][selector], nil
	}
	return f.Counts[selector], nil
}

func (f *Fake) Query(ctx context.Context, selector, scope string) ([]driver.ElementInfo, error) {
	f.record("query %s", selector)
	if err := f.err("query"); err != nil {
		return nil, err
	}
	return f.Infos[selector], nil
}

func lookup(m map[string]bool, key string, def bool) bool {
	if m == nil {
		return def
	}
	v, ok := m[key]
	if !ok {
		return def
	}
	return v
}

func (f *Fake) IsVisible(ctx context.Context, selector string) (bool, error) {
	f.record("visible %s", selector)
	return lookup(f.Visible, selector, true), f.err("visible")
}

func (f *Fake) IsCovered(ctx context.Context, selector string) (bool, error) {
	return lookup(f.Covered, selector, false), f.err("covered")
}

func (f *Fake) IsEnabled(ctx context.Context, selector string) (bool, error) {
	return lookup(f.Enabled, selector, true), f.err("enabled")
}

func (f *Fake) BoundingBox(ctx context.Context, selector string) (driver.Rect, error) {
	if err := f.err("bbox"); err != nil {
		return driver.Rect{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	seq := f.Boxes[selector]
	if len(seq) == 0 {
		return driver.Rect{X: 10, Y: 10, Width: 100, Height: 20}, nil
	}
	if f.boxIdx == nil {
		f.boxIdx = make(map[string]int)
	}
	i := f.boxIdx[selector]
	if i >= len(seq) {
		i = len(seq) - 1
	} else {
		f.boxIdx[selector]++
	}
	return seq[i], nil
}

func (f *Fake) Attribute(ctx context.Context, selector, name string) (string, error) {
	if err := f.err("attribute"); err != nil {
		return "", err
	}
	return f.Attrs[selector][name], nil
}

func (f *Fake) AccessibleName(ctx context.Context, selector string) (string, error) {
	return f.Names[selector], f.err("name")
}

func (f *Fake) HasAncestor(ctx context.Context, selector, ancestor string) (bool, error) {
	if err := f.err("ancestor"); err != nil {
		return false, err
	}
	if f.Ancestors == nil {
		return true, nil
	}
	return f.Ancestors[selector][ancestor], nil
}

func (f *Fake) Click(ctx context.Context, selector string) error {
	f.record("click %s", selector)
	return f.err("click")
}

func (f *Fake) Fill(ctx context.Context, selector, value string) error {
	f.record("fill %s=%s", selector, value)
	return f.err("fill")
}

func (f *Fake) TypeText(ctx context.Context, selector, value string, perCharDelay time.Duration) error {
	f.record("type %s=%s", selector, value)
	return f.err("type")
}

func (f *Fake) Press(ctx context.Context, key string) error {
	f.record("press %s", key)
	return f.err("press")
}

func (f *Fake) SelectOption(ctx context.Context, selector, option string) error {
	f.record("select %s=%s", selector, option)
	return f.err("select")
}

func (f *Fake) SetChecked(ctx context.Context, selector string, checked bool) error {
	f.record("setchecked %s=%v", selector, checked)
	return f.err("setchecked")
}

func (f *Fake) Hover(ctx context.Context, selector string) error {
	f.record("hover %s", selector)
	return f.err("hover")
}

func (f *Fake) Focus(ctx context.Context, selector string) error {
	f.record("focus %s", selector)
	return f.err("focus")
}

func (f *Fake) ScrollIntoView(ctx context.Context, selector string) error {
	f.record("scroll %s", selector)
	return f.err("scroll")
}

func (f *Fake) DismissOverlays(ctx context.Context) error {
	f.record("dismiss_overlays")
	return f.err("dismiss")
}

func (f *Fake) WaitDOMIdle(ctx context.Context, window, max time.Duration) error {
	f.record("wait_dom_idle")
	return f.err("wait_dom")
}

func (f *Fake) WaitNetworkIdle(ctx context.Context, max time.Duration) error {
	f.record("wait_network_idle")
	return f.err("wait_network")
}

func (f *Fake) BringToFront(ctx context.Context) error {
	f.record("bring_to_front")
	return f.err("front")
}

func (f *Fake) Screenshot(ctx context.Context, path string) error {
	f.record("screenshot %s", path)
	return f.err("screenshot")
}

func (f *Fake) StorageStateSave(ctx context.Context, path string) error {
	f.record("state_save %s", path)
	return f.err("state_save")
}

func (f *Fake) StorageStateLoad(ctx context.Context, path string) error {
	f.record("state_load %s", path)
	return f.err("state_load")
}
