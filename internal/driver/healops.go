package driver

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/go-rod/rod/lib/input"
)

// ScrollIntoView scrolls the element into the viewport.
func (d *Driver) ScrollIntoView(ctx context.Context, selector string) error {
	el, err := d.resolveOne(ctx, selector, d.cfg.ActionTimeout())
	if err != nil {
		return classify("scroll into view", err)
	}
	return classify("scroll into view", el.ScrollIntoView())
}

// overlayCloseSelectors are the close-button patterns DismissOverlays
// clicks before dropping backdrops.
var overlayCloseSelectors = []string{
	`[aria-label*="close" i]`,
	`[aria-label*="dismiss" i]`,
	`.modal-close`,
	`.close-button`,
	`button.close`,
}

// DismissOverlays presses Escape, clicks known close-button patterns, and
// removes leftover backdrop nodes that intercept pointer events.
func (d *Driver) DismissOverlays(ctx context.Context) error {
	p, err := d.livePage(ctx, d.cfg.ActionTimeout())
	if err != nil {
		return err
	}
	_ = p.Keyboard.Press(input.Escape)

	for _, sel := range overlayCloseSelectors {
		els, err := p.Elements(sel)
		if err != nil || len(els) == 0 {
			continue
		}
		for _, el := range els {
			if vis, err := el.Visible(); err != nil || !vis {
				continue
			}
			_ = el.Click("left", 1)
		}
	}

	_, err = p.Eval(`() => {
		const backdrops = document.querySelectorAll('.modal-backdrop, .overlay-backdrop, [data-backdrop]');
		backdrops.forEach(b => b.remove());
		return backdrops.length;
	}`)
	return classify("dismiss overlays", err)
}

// WaitDOMIdle waits until the DOM stops mutating for the given window, or
// until max elapses. A max-elapsed wait is not an error; readiness is a
// best-effort settle, not a gate.
func (d *Driver) WaitDOMIdle(ctx context.Context, window, max time.Duration) error {
	p, err := d.livePage(ctx, max)
	if err != nil {
		return err
	}
	if err := p.WaitDOMStable(window, 0); err != nil {
		if IsTimeout(classify("dom idle", err)) {
			return nil
		}
		return classify("dom idle", err)
	}
	return nil
}

// WaitNetworkIdle waits until no network requests are in flight, bounded
// by max. Like WaitDOMIdle, hitting the bound is not an error.
func (d *Driver) WaitNetworkIdle(ctx context.Context, max time.Duration) error {
	p, err := d.livePage(ctx, max)
	if err != nil {
		return err
	}
	wait := p.WaitRequestIdle(300*time.Millisecond, nil, nil, nil)
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(max):
		return nil
	case <-ctx.Done():
		return classify("network idle", ctx.Err())
	}
}

// Screenshot captures the viewport to path, creating parent directories.
func (d *Driver) Screenshot(ctx context.Context, path string) error {
	p, err := d.livePage(ctx, d.cfg.ActionTimeout())
	if err != nil {
		return err
	}
	data, err := p.Screenshot(false, nil)
	if err != nil {
		return classify("screenshot", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
