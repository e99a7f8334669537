package driver

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-rod/rod"
)

// The engine's selectors are CSS with two extensions borrowed from the
// role-based locator style:
//
//	role=<role>[name=/<pattern>/i]   match by ARIA role + accessible name
//	<selector> >> nth=<k>            pick the k-th match (0-based)
//
// Plain CSS passes through untouched.

const nthSep = " >> nth="

var roleSelectorRe = regexp.MustCompile(`^role=([a-z]+)(?:\[name=(.+)\])?$`)

// parsedSelector is the decomposed form of an engine selector.
type parsedSelector struct {
	css     string         // CSS to query (role selectors expand to this)
	name    *regexp.Regexp // accessible-name filter, nil when absent
	nth     int            // index into the match set, -1 when absent
	role    string         // original role for role= selectors
	isRole  bool
}

// parseSelector decomposes an engine selector.
func parseSelector(selector string) (parsedSelector, error) {
	ps := parsedSelector{nth: -1}
	sel := strings.TrimSpace(selector)

	if idx := strings.LastIndex(sel, nthSep); idx >= 0 {
		n, err := strconv.Atoi(strings.TrimSpace(sel[idx+len(nthSep):]))
		if err != nil {
			return ps, fmt.Errorf("bad nth suffix in %q: %w", selector, err)
		}
		ps.nth = n
		sel = strings.TrimSpace(sel[:idx])
	}

	if m := roleSelectorRe.FindStringSubmatch(sel); m != nil {
		ps.isRole = true
		ps.role = m[1]
		css, ok := roleCSS[m[1]]
		if !ok {
			css = fmt.Sprintf("[role=%q]", m[1])
		}
		ps.css = css
		if m[2] != "" {
			re, err := parseNameMatcher(m[2])
			if err != nil {
				return ps, err
			}
			ps.name = re
		}
		return ps, nil
	}

	ps.css = sel
	return ps, nil
}

// parseNameMatcher accepts /pattern/flags or a quoted/bare literal.
func parseNameMatcher(raw string) (*regexp.Regexp, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "/") {
		end := strings.LastIndex(raw, "/")
		if end <= 0 {
			return nil, fmt.Errorf("unterminated regex name matcher %q", raw)
		}
		pat, flags := raw[1:end], raw[end+1:]
		if strings.Contains(flags, "i") {
			pat = "(?i)" + pat
		}
		return regexp.Compile(pat)
	}
	lit := strings.Trim(raw, `"'`)
	return regexp.Compile("(?i)" + regexp.QuoteMeta(lit))
}

// roleCSS maps ARIA roles to the CSS that captures both explicit role
// attributes and the elements carrying the role implicitly.
var roleCSS = map[string]string{
	"button":    `button, [role="button"], input[type="button"], input[type="submit"]`,
	"link":      `a[href], [role="link"]`,
	"textbox":   `textarea, [role="textbox"], input:not([type]), input[type="text"], input[type="email"], input[type="password"], input[type="tel"], input[type="url"]`,
	"searchbox": `input[type="search"], [role="searchbox"]`,
	"combobox":  `select, [role="combobox"]`,
	"checkbox":  `input[type="checkbox"], [role="checkbox"]`,
	"radio":     `input[type="radio"], [role="radio"]`,
	"tab":       `[role="tab"]`,
	"dialog":    `dialog, [role="dialog"]`,
	"menuitem":  `[role="menuitem"]`,
}

// jsAccessibleName approximates the accessible-name computation: aria-label,
// referenced labels, placeholder, value for buttons, then visible text.
const jsAccessibleName = `() => {
	const el = this;
	const aria = el.getAttribute('aria-label');
	if (aria) return aria;
	const labelledBy = el.getAttribute('aria-labelledby');
	if (labelledBy) {
		const parts = labelledBy.split(/\s+/)
			.map(id => { const t = document.getElementById(id); return t ? t.innerText : ''; })
			.filter(Boolean);
		if (parts.length) return parts.join(' ');
	}
	if (el.labels && el.labels.length) {
		const t = Array.from(el.labels).map(l => l.innerText).join(' ').trim();
		if (t) return t;
	}
	const ph = el.getAttribute('placeholder');
	if (ph) return ph;
	if ((el.tagName === 'INPUT') && (el.type === 'button' || el.type === 'submit') && el.value) return el.value;
	const text = (el.innerText || '').trim();
	if (text) return text;
	return el.getAttribute('title') || '';
}`

// resolve returns the elements matching an engine selector, optionally
// scoped to a landmark subtree.
func (d *Driver) resolve(ctx context.Context, selector, scope string, timeout time.Duration) (rod.Elements, error) {
	ps, err := parseSelector(selector)
	if err != nil {
		return nil, err
	}
	p, err := d.livePage(ctx, timeout)
	if err != nil {
		return nil, err
	}

	var els rod.Elements
	if scope != "" {
		scopeEl, err := p.Element(scope)
		if err != nil {
			return nil, classify("resolve scope", err)
		}
		els, err = scopeEl.Elements(ps.css)
		if err != nil {
			return nil, classify("query scoped", err)
		}
	} else {
		els, err = p.Elements(ps.css)
		if err != nil {
			return nil, classify("query", err)
		}
	}

	if ps.name != nil {
		filtered := make(rod.Elements, 0, len(els))
		for _, el := range els {
			name, err := accessibleNameOf(el)
			if err != nil {
				continue
			}
			if ps.name.MatchString(name) {
				filtered = append(filtered, el)
			}
		}
		els = filtered
	}

	if ps.nth >= 0 {
		if ps.nth >= len(els) {
			return rod.Elements{}, nil
		}
		return rod.Elements{els[ps.nth]}, nil
	}
	return els, nil
}

// resolveOne resolves a selector that must bind exactly one element. With
// multiple matches the first is returned; uniqueness enforcement is the
// gate's job, not the driver's.
func (d *Driver) resolveOne(ctx context.Context, selector string, timeout time.Duration) (*rod.Element, error) {
	els, err := d.resolve(ctx, selector, "", timeout)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, fmt.Errorf("no element matches %q", selector)
	}
	return els[0], nil
}

func accessibleNameOf(el *rod.Element) (string, error) {
	res, err := el.Eval(jsAccessibleName)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}
