// Package driver is the thin capability surface over a real browser. It
// owns the rod browser handle for one run: lifecycle, navigation, element
// queries, action primitives, and the utility routines healing relies on.
//
// The driver never judges actionability. Actions fail only on driver-level
// timeouts; whether an element is safe to interact with is the gate's call.
package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// Rect is an element bounding box in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ElementInfo is the driver's per-element snapshot used by discovery
// strategies: enough to score a candidate without another round trip.
type ElementInfo struct {
	Index          int               `json:"index"`
	Tag            string            `json:"tag"`
	Text           string            `json:"text"`
	AccessibleName string            `json:"accessible_name"`
	Attrs          map[string]string `json:"attrs"`
	AncestorRoles  []string          `json:"ancestor_roles"`
}

// API is the capability surface the rest of the engine compiles against.
// *Driver is the live implementation; tests substitute fakes.
type API interface {
	Start(ctx context.Context) error
	Stop() error

	Goto(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)

	Count(ctx context.Context, selector, scope string) (int, error)
	Query(ctx context.Context, selector, scope string) ([]ElementInfo, error)
	IsVisible(ctx context.Context, selector string) (bool, error)
	IsCovered(ctx context.Context, selector string) (bool, error)
	IsEnabled(ctx context.Context, selector string) (bool, error)
	BoundingBox(ctx context.Context, selector string) (Rect, error)
	Attribute(ctx context.Context, selector, name string) (string, error)
	AccessibleName(ctx context.Context, selector string) (string, error)
	HasAncestor(ctx context.Context, selector, ancestor string) (bool, error)

	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	TypeText(ctx context.Context, selector, value string, perCharDelay time.Duration) error
	Press(ctx context.Context, key string) error
	SelectOption(ctx context.Context, selector, option string) error
	SetChecked(ctx context.Context, selector string, checked bool) error
	Hover(ctx context.Context, selector string) error
	Focus(ctx context.Context, selector string) error

	ScrollIntoView(ctx context.Context, selector string) error
	DismissOverlays(ctx context.Context) error
	WaitDOMIdle(ctx context.Context, window, max time.Duration) error
	WaitNetworkIdle(ctx context.Context, max time.Duration) error
	BringToFront(ctx context.Context) error
	Screenshot(ctx context.Context, path string) error
	StorageStateSave(ctx context.Context, path string) error
	StorageStateLoad(ctx context.Context, path string) error
}

// Config holds browser configuration for one driver.
type Config struct {
	Headless            bool
	Bin                 string
	DebuggerURL         string
	ViewportWidth       int
	ViewportHeight      int
	NavigationTimeoutMs int
	ActionTimeoutMs     int
}

// NavigationTimeout returns the navigation timeout.
func (c Config) NavigationTimeout() time.Duration {
	if c.NavigationTimeoutMs == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

// ActionTimeout returns the per-action timeout.
func (c Config) ActionTimeout() time.Duration {
	if c.ActionTimeoutMs == 0 {
		return 5 * time.Second
	}
	return time.Duration(c.ActionTimeoutMs) * time.Millisecond
}

// Driver owns one rod browser and one page for the lifetime of a run.
// Methods are reentrant within a run but are not safe for concurrent use
// across steps; the coordinator serializes all calls.
type Driver struct {
	cfg     Config
	log     *zap.Logger
	browser *rod.Browser
	page    *rod.Page
}

// New creates a driver; Start launches (or attaches to) the browser.
func New(cfg Config, log *zap.Logger) *Driver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Driver{cfg: cfg, log: log}
}

// Start connects to an existing browser via DebuggerURL or launches one.
func (d *Driver) Start(ctx context.Context) error {
	if d.browser != nil {
		if _, err := d.browser.Version(); err == nil {
			return nil
		}
		d.log.Warn("stale browser connection, relaunching")
		_ = d.browser.Close()
		d.browser = nil
		d.page = nil
	}

	controlURL := d.cfg.DebuggerURL
	if controlURL == "" {
		l := launcher.New().Headless(d.cfg.Headless)
		if d.cfg.Bin != "" {
			l = l.Bin(d.cfg.Bin)
		}
		url, err := l.Launch()
		if err != nil {
			return fmt.Errorf("launch browser: %w", err)
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to browser: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = browser.Close()
		return fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             d.viewportWidth(),
		Height:            d.viewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		d.log.Warn("failed to set viewport", zap.Error(err))
	}

	d.browser = browser
	d.page = page
	return nil
}

// Stop closes the page and the browser.
func (d *Driver) Stop() error {
	if d.page != nil {
		_ = d.page.Close()
		d.page = nil
	}
	var err error
	if d.browser != nil {
		err = d.browser.Close()
		d.browser = nil
	}
	return err
}

// Goto navigates and waits for the load event, bounded by the navigation
// timeout.
func (d *Driver) Goto(ctx context.Context, url string) error {
	p, err := d.livePage(ctx, d.cfg.NavigationTimeout())
	if err != nil {
		return err
	}
	if err := p.Navigate(url); err != nil {
		return classify("navigate", err)
	}
	if err := p.WaitLoad(); err != nil {
		return classify("wait load", err)
	}
	return nil
}

// URL returns the current page URL.
func (d *Driver) URL(ctx context.Context) (string, error) {
	p, err := d.livePage(ctx, d.cfg.ActionTimeout())
	if err != nil {
		return "", err
	}
	info, err := p.Info()
	if err != nil {
		return "", classify("page info", err)
	}
	return info.URL, nil
}

// BringToFront focuses the tab.
func (d *Driver) BringToFront(ctx context.Context) error {
	p, err := d.livePage(ctx, d.cfg.ActionTimeout())
	if err != nil {
		return err
	}
	if err := (proto.PageBringToFront{}).Call(p); err != nil {
		return classify("bring to front", err)
	}
	return nil
}

// livePage returns the page bound to ctx and a deadline.
func (d *Driver) livePage(ctx context.Context, timeout time.Duration) (*rod.Page, error) {
	if d.page == nil {
		return nil, errors.New("driver not started")
	}
	return d.page.Context(ctx).Timeout(timeout), nil
}

func (d *Driver) viewportWidth() int {
	if d.cfg.ViewportWidth == 0 {
		return 1920
	}
	return d.cfg.ViewportWidth
}

func (d *Driver) viewportHeight() int {
	if d.cfg.ViewportHeight == 0 {
		return 1080
	}
	return d.cfg.ViewportHeight
}

// ErrTimeout marks a driver-level time bound exceeded. Callers map it to
// the Timeout failure kind.
var ErrTimeout = errors.New("driver timeout")

// classify wraps rod errors, folding deadline exhaustion into ErrTimeout.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		strings.Contains(err.Error(), "context deadline exceeded") {
		return fmt.Errorf("%s: %w: %v", op, ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsTimeout reports whether err is a driver timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
