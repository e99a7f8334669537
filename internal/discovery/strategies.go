package discovery

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"pacts/internal/driver"
	"pacts/internal/plan"
)

// cssEscape neutralizes quote characters so a label can sit inside a CSS
// attribute selector.
func cssEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

func candidate(selector string, strategy plan.Strategy) *plan.Candidate {
	return &plan.Candidate{
		Selector:   selector,
		Strategy:   strategy,
		Stable:     strategy.Stable(),
		Confidence: strategy.BaseConfidence(),
	}
}

// uniqueMatch reports a selector that binds exactly one element under the
// scope. Multi-match selectors are rejected here so cheap uniqueness is
// settled before the gate spends its sampling budget.
func uniqueMatch(ctx context.Context, drv driver.API, selector, scope string) (bool, error) {
	n, err := drv.Count(ctx, selector, scope)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ariaTags lists the element tags worth probing by aria-label for the
// intent's action, most likely first.
func ariaTags(in plan.Intent) []string {
	switch in.Action {
	case plan.ActionFill, plan.ActionType:
		return []string{"input", "textarea"}
	case plan.ActionSelect:
		return []string{"select", "input"}
	case plan.ActionCheck, plan.ActionUncheck:
		return []string{"input"}
	case plan.ActionClick:
		return []string{"button", "a"}
	}
	return []string{"input", "button", "a"}
}

// probeAriaLabel tries tag-prefixed exact aria-label matches, then
// case-insensitive substring matches. The tag prefix keeps the selector
// shape predictable so cached entries compare across runs.
func probeAriaLabel(ctx context.Context, drv driver.API, in plan.Intent, scope string) (*plan.Candidate, error) {
	label := cssEscape(in.Label)
	tags := ariaTags(in)
	sels := make([]string, 0, 2*len(tags))
	for _, tag := range tags {
		sels = append(sels, fmt.Sprintf(`%s[aria-label="%s"]`, tag, label))
	}
	for _, tag := range tags {
		sels = append(sels, fmt.Sprintf(`%s[aria-label*="%s" i]`, tag, strings.ToLower(label)))
	}
	for _, sel := range sels {
		ok, err := uniqueMatch(ctx, drv, sel, scope)
		if err != nil {
			return nil, err
		}
		if ok {
			return candidate(sel, plan.StrategyAriaLabel), nil
		}
	}
	return nil, nil
}

// nameVariants lists the conventional field-name spellings of a label.
func nameVariants(label string) []string {
	words := strings.Fields(strings.ToLower(label))
	if len(words) == 0 {
		return nil
	}
	return []string{
		strings.Join(words, "_"),
		strings.Join(words, "-"),
		strings.Join(words, ""),
	}
}

// probeNameAttr matches form controls by their name attribute using the
// conventional transformations of the label.
func probeNameAttr(ctx context.Context, drv driver.API, in plan.Intent, scope string) (*plan.Candidate, error) {
	seen := map[string]bool{}
	for _, v := range nameVariants(in.Label) {
		if seen[v] {
			continue
		}
		seen[v] = true
		sel := fmt.Sprintf(`input[name="%[1]s"], select[name="%[1]s"], textarea[name="%[1]s"]`, cssEscape(v))
		ok, err := uniqueMatch(ctx, drv, sel, scope)
		if err != nil {
			return nil, err
		}
		if ok {
			return candidate(sel, plan.StrategyNameAttr), nil
		}
	}
	return nil, nil
}

// probePlaceholder matches inputs by placeholder substring.
func probePlaceholder(ctx context.Context, drv driver.API, in plan.Intent, scope string) (*plan.Candidate, error) {
	label := cssEscape(in.Label)
	sel := fmt.Sprintf(`input[placeholder*="%[1]s" i], textarea[placeholder*="%[1]s" i]`, label)
	ok, err := uniqueMatch(ctx, drv, sel, scope)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return candidate(sel, plan.StrategyPlaceholder), nil
}

// probeLabelFor walks label elements, matches their text against the
// intent, and follows the for attribute to an id selector. Unstable by
// definition: the id may be volatile.
func probeLabelFor(ctx context.Context, drv driver.API, in plan.Intent, scope string) (*plan.Candidate, error) {
	labels, err := drv.Query(ctx, "label[for]", scope)
	if err != nil {
		return nil, err
	}
	want := strings.ToLower(strings.TrimSpace(in.Label))
	for _, l := range labels {
		text := strings.ToLower(strings.TrimSpace(l.Text))
		if text == "" || !strings.Contains(text, want) {
			continue
		}
		id := l.Attrs["for"]
		if id == "" {
			continue
		}
		sel := "#" + id
		ok, err := uniqueMatch(ctx, drv, sel, scope)
		if err != nil {
			return nil, err
		}
		if ok {
			return candidate(sel, plan.StrategyLabelFor), nil
		}
	}
	return nil, nil
}

// rolesForIntent resolves the roles worth probing, most specific first.
func rolesForIntent(in plan.Intent) []string {
	if in.Hints.Role != "" {
		return []string{in.Hints.Role}
	}
	switch in.Action {
	case plan.ActionFill, plan.ActionType:
		return []string{"textbox", "searchbox", "combobox"}
	case plan.ActionClick:
		return []string{"button", "link"}
	case plan.ActionSelect:
		return []string{"combobox"}
	case plan.ActionCheck, plan.ActionUncheck:
		return []string{"checkbox"}
	}
	return []string{"button", "link"}
}

func roleNameSelector(role, label string) string {
	return fmt.Sprintf("role=%s[name=/%s/i]", role, regexp.QuoteMeta(label))
}

// probeRoleName matches by ARIA role plus accessible name; it only accepts
// a unique match, leaving multi-match sets to the disambiguation probe.
func probeRoleName(ctx context.Context, drv driver.API, in plan.Intent, scope string) (*plan.Candidate, error) {
	for _, role := range rolesForIntent(in) {
		sel := roleNameSelector(role, in.Label)
		n, err := drv.Count(ctx, sel, scope)
		if err != nil {
			return nil, err
		}
		if n == 1 {
			return candidate(sel, plan.StrategyRoleName), nil
		}
	}
	return nil, nil
}

// dismissiveName matches the labels of controls that close or discard
// things; never what a plain click step means.
var dismissiveName = regexp.MustCompile(`(?i)close|remove|dismiss`)

// probeRoleNameDisambiguated handles the multi-match case: drop candidates
// living under a tab and candidates whose label marks them dismissive,
// then bind the first survivor by index.
func probeRoleNameDisambiguated(ctx context.Context, drv driver.API, in plan.Intent, scope string) (*plan.Candidate, error) {
	for _, role := range rolesForIntent(in) {
		sel := roleNameSelector(role, in.Label)
		infos, err := drv.Query(ctx, sel, scope)
		if err != nil {
			return nil, err
		}
		if len(infos) < 2 {
			continue
		}
		for _, info := range infos {
			if hasRole(info.AncestorRoles, "tab") {
				continue
			}
			if dismissiveName.MatchString(info.Attrs["aria-label"]) ||
				dismissiveName.MatchString(info.Attrs["title"]) {
				continue
			}
			nth := fmt.Sprintf("%s >> nth=%d", sel, info.Index)
			return candidate(nth, plan.StrategyRoleNameDisambiguated), nil
		}
	}
	return nil, nil
}

func hasRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// probeTextHas is the loose fallback: any clickable role whose accessible
// name merely contains the label, first match wins.
func probeTextHas(ctx context.Context, drv driver.API, in plan.Intent, scope string) (*plan.Candidate, error) {
	for _, role := range []string{"button", "link", "menuitem", "tab"} {
		sel := roleNameSelector(role, in.Label)
		n, err := drv.Count(ctx, sel, scope)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			continue
		}
		if n > 1 {
			sel += " >> nth=0"
		}
		return candidate(sel, plan.StrategyTextHas), nil
	}
	return nil, nil
}
