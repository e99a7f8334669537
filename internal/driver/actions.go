package driver

import (
	"context"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
)

// Click left-clicks the element at its center.
func (d *Driver) Click(ctx context.Context, selector string) error {
	el, err := d.resolveOne(ctx, selector, d.cfg.ActionTimeout())
	if err != nil {
		return classify("click", err)
	}
	return classify("click", el.Click(proto.InputMouseButtonLeft, 1))
}

// Fill clears the element and sets the value in one shot.
func (d *Driver) Fill(ctx context.Context, selector, value string) error {
	el, err := d.resolveOne(ctx, selector, d.cfg.ActionTimeout())
	if err != nil {
		return classify("fill", err)
	}
	if err := el.SelectAllText(); err == nil {
		_ = el.Input("")
	}
	return classify("fill", el.Input(value))
}

// TypeText types character by character with a per-character delay, for
// inputs that react to individual key events.
func (d *Driver) TypeText(ctx context.Context, selector, value string, perCharDelay time.Duration) error {
	el, err := d.resolveOne(ctx, selector, d.cfg.ActionTimeout())
	if err != nil {
		return classify("type", err)
	}
	if err := el.Focus(); err != nil {
		return classify("type focus", err)
	}
	p, err := d.livePage(ctx, d.cfg.ActionTimeout())
	if err != nil {
		return err
	}
	for _, r := range value {
		if err := ctx.Err(); err != nil {
			return classify("type", err)
		}
		if err := p.InsertText(string(r)); err != nil {
			return classify("type", err)
		}
		time.Sleep(perCharDelay)
	}
	return nil
}

// namedKeys maps the key names the step grammar accepts to rod inputs.
var namedKeys = map[string]input.Key{
	"Enter":      input.Enter,
	"Tab":        input.Tab,
	"Escape":     input.Escape,
	"Backspace":  input.Backspace,
	"Delete":     input.Delete,
	"ArrowUp":    input.ArrowUp,
	"ArrowDown":  input.ArrowDown,
	"ArrowLeft":  input.ArrowLeft,
	"ArrowRight": input.ArrowRight,
}

// Press sends one keyboard key by name; single characters pass through as
// their rune.
func (d *Driver) Press(ctx context.Context, key string) error {
	p, err := d.livePage(ctx, d.cfg.ActionTimeout())
	if err != nil {
		return err
	}
	if k, ok := namedKeys[key]; ok {
		return classify("press", p.Keyboard.Press(k))
	}
	if len(key) == 1 {
		return classify("press", p.Keyboard.Press(input.Key(rune(key[0]))))
	}
	return classify("press", p.Keyboard.Press(input.Enter))
}

// SelectOption chooses a <select> option by visible label, falling back to
// the option value.
func (d *Driver) SelectOption(ctx context.Context, selector, option string) error {
	el, err := d.resolveOne(ctx, selector, d.cfg.ActionTimeout())
	if err != nil {
		return classify("select", err)
	}
	if err := el.Select([]string{option}, true, rod.SelectorTypeText); err == nil {
		return nil
	}
	_, err = el.Eval(`(v) => {
		for (const o of this.options) {
			if (o.value === v) { this.value = v; this.dispatchEvent(new Event('change', {bubbles:true})); return true; }
		}
		throw new Error('no option with value ' + v);
	}`, option)
	return classify("select", err)
}

// SetChecked sets a checkbox to the target state. Already-correct state is
// a no-op.
func (d *Driver) SetChecked(ctx context.Context, selector string, checked bool) error {
	el, err := d.resolveOne(ctx, selector, d.cfg.ActionTimeout())
	if err != nil {
		return classify("check", err)
	}
	res, err := el.Eval(`() => this.checked === true`)
	if err != nil {
		return classify("check", err)
	}
	if res.Value.Bool() == checked {
		return nil
	}
	return classify("check", el.Click(proto.InputMouseButtonLeft, 1))
}

// Hover moves the pointer over the element.
func (d *Driver) Hover(ctx context.Context, selector string) error {
	el, err := d.resolveOne(ctx, selector, d.cfg.ActionTimeout())
	if err != nil {
		return classify("hover", err)
	}
	return classify("hover", el.Hover())
}

// Focus gives the element keyboard focus.
func (d *Driver) Focus(ctx context.Context, selector string) error {
	el, err := d.resolveOne(ctx, selector, d.cfg.ActionTimeout())
	if err != nil {
		return classify("focus", err)
	}
	return classify("focus", el.Focus())
}
