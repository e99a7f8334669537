package driver

import (
	"context"
	"encoding/json"
	"strings"
)

// Count reports how many elements match the selector, optionally within a
// landmark subtree.
func (d *Driver) Count(ctx context.Context, selector, scope string) (int, error) {
	els, err := d.resolve(ctx, selector, scope, d.cfg.ActionTimeout())
	if err != nil {
		return 0, err
	}
	return len(els), nil
}

// jsElementInfo snapshots the attributes discovery scores candidates on.
const jsElementInfo = `() => {
	const el = this;
	const attrs = {};
	for (const { name, value } of Array.from(el.attributes || [])) attrs[name] = value;
	const roles = [];
	for (let p = el.parentElement; p; p = p.parentElement) {
		const r = p.getAttribute('role');
		if (r) roles.push(r);
	}
	return {
		tag: el.tagName.toLowerCase(),
		text: (el.innerText || '').slice(0, 256),
		attrs,
		ancestor_roles: roles,
	};
}`

// Query returns per-element snapshots for every match of the selector.
func (d *Driver) Query(ctx context.Context, selector, scope string) ([]ElementInfo, error) {
	els, err := d.resolve(ctx, selector, scope, d.cfg.ActionTimeout())
	if err != nil {
		return nil, err
	}
	infos := make([]ElementInfo, 0, len(els))
	for i, el := range els {
		res, err := el.Eval(jsElementInfo)
		if err != nil {
			continue
		}
		raw, err := res.Value.MarshalJSON()
		if err != nil {
			continue
		}
		var info ElementInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			continue
		}
		info.Index = i
		if name, err := accessibleNameOf(el); err == nil {
			info.AccessibleName = name
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// IsVisible reports DOM visibility: non-zero box, not display:none,
// not visibility:hidden, opacity above zero.
func (d *Driver) IsVisible(ctx context.Context, selector string) (bool, error) {
	el, err := d.resolveOne(ctx, selector, d.cfg.ActionTimeout())
	if err != nil {
		return false, err
	}
	res, err := el.Eval(`() => {
		const r = this.getBoundingClientRect();
		const s = window.getComputedStyle(this);
		return r.width > 0 && r.height > 0 &&
			s.display !== 'none' && s.visibility !== 'hidden' && s.opacity !== '0';
	}`)
	if err != nil {
		return false, classify("visibility check", err)
	}
	return res.Value.Bool(), nil
}

// IsCovered reports whether another element occludes this one at its
// center point.
func (d *Driver) IsCovered(ctx context.Context, selector string) (bool, error) {
	el, err := d.resolveOne(ctx, selector, d.cfg.ActionTimeout())
	if err != nil {
		return false, err
	}
	res, err := el.Eval(`() => {
		const r = this.getBoundingClientRect();
		const top = document.elementFromPoint(r.x + r.width / 2, r.y + r.height / 2);
		return top !== null && top !== this && !this.contains(top);
	}`)
	if err != nil {
		return false, classify("occlusion check", err)
	}
	return res.Value.Bool(), nil
}

// IsEnabled reports that the element is neither disabled nor read-only.
func (d *Driver) IsEnabled(ctx context.Context, selector string) (bool, error) {
	el, err := d.resolveOne(ctx, selector, d.cfg.ActionTimeout())
	if err != nil {
		return false, err
	}
	res, err := el.Eval(`() => !(this.disabled === true || this.readOnly === true ||
		this.getAttribute('aria-disabled') === 'true')`)
	if err != nil {
		return false, classify("enabled check", err)
	}
	return res.Value.Bool(), nil
}

// BoundingBox returns the element's client rect.
func (d *Driver) BoundingBox(ctx context.Context, selector string) (Rect, error) {
	el, err := d.resolveOne(ctx, selector, d.cfg.ActionTimeout())
	if err != nil {
		return Rect{}, err
	}
	res, err := el.Eval(`() => {
		const r = this.getBoundingClientRect();
		return { x: r.x, y: r.y, width: r.width, height: r.height };
	}`)
	if err != nil {
		return Rect{}, classify("bounding box", err)
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return Rect{}, err
	}
	var rect Rect
	if err := json.Unmarshal(raw, &rect); err != nil {
		return Rect{}, err
	}
	return rect, nil
}

// Attribute returns an attribute value; missing attributes yield "".
func (d *Driver) Attribute(ctx context.Context, selector, name string) (string, error) {
	el, err := d.resolveOne(ctx, selector, d.cfg.ActionTimeout())
	if err != nil {
		return "", err
	}
	val, err := el.Attribute(name)
	if err != nil {
		return "", classify("attribute", err)
	}
	if val == nil {
		return "", nil
	}
	return *val, nil
}

// AccessibleName computes the element's accessible name.
func (d *Driver) AccessibleName(ctx context.Context, selector string) (string, error) {
	el, err := d.resolveOne(ctx, selector, d.cfg.ActionTimeout())
	if err != nil {
		return "", err
	}
	return accessibleNameOf(el)
}

// HasAncestor reports whether the element's ancestor chain contains a node
// matching the ancestor selector. Used for the in-scope gate predicate.
func (d *Driver) HasAncestor(ctx context.Context, selector, ancestor string) (bool, error) {
	// Role-extended ancestor selectors resolve to their CSS expansion;
	// closest() needs plain CSS.
	ps, err := parseSelector(ancestor)
	if err != nil {
		return false, err
	}
	el, err := d.resolveOne(ctx, selector, d.cfg.ActionTimeout())
	if err != nil {
		return false, err
	}
	css := strings.ReplaceAll(ps.css, "\"", "'")
	res, err := el.Eval(`(sel) => this.closest(sel) !== null`, css)
	if err != nil {
		return false, classify("ancestor check", err)
	}
	return res.Value.Bool(), nil
}
