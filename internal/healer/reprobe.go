package healer

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"pacts/internal/discovery"
	"pacts/internal/plan"
)

// reprobe runs the round-specific rediscovery ladder. Rounds past three
// reuse the last ladder.
func (h *Healer) reprobe(ctx context.Context, round int, in plan.Intent) *plan.Candidate {
	switch {
	case round <= 1:
		return h.reprobeRelaxedRole(ctx, in)
	case round == 2:
		return h.reprobeInputStrategies(ctx, in)
	default:
		return h.reprobeHeuristics(ctx, in)
	}
}

// reprobeRelaxedRole is round one: role plus case-insensitive name regex,
// accepting the first match instead of demanding uniqueness.
func (h *Healer) reprobeRelaxedRole(ctx context.Context, in plan.Intent) *plan.Candidate {
	roles := []string{"button", "link", "textbox", "searchbox", "combobox", "checkbox"}
	if in.Hints.Role != "" {
		roles = append([]string{in.Hints.Role}, roles...)
	}
	for _, role := range roles {
		sel := fmt.Sprintf("role=%s[name=/%s/i]", role, regexp.QuoteMeta(in.Label))
		n, err := h.drv.Count(ctx, sel, "")
		if err != nil || n == 0 {
			continue
		}
		if n > 1 {
			sel += " >> nth=0"
		}
		return &plan.Candidate{
			Selector:   sel,
			Strategy:   plan.StrategyRoleName,
			Stable:     plan.StrategyRoleName.Stable(),
			Confidence: 0.85,
		}
	}
	return nil
}

// reprobeInputStrategies is round two: the input-heavy strategies, label
// reference first, then placeholder.
func (h *Healer) reprobeInputStrategies(ctx context.Context, in plan.Intent) *plan.Candidate {
	want := strings.ToLower(strings.TrimSpace(in.Label))

	labels, err := h.drv.Query(ctx, "label[for]", "")
	if err == nil {
		for _, l := range labels {
			if !strings.Contains(strings.ToLower(l.Text), want) {
				continue
			}
			id := l.Attrs["for"]
			if id == "" {
				continue
			}
			sel := "#" + id
			if n, err := h.drv.Count(ctx, sel, ""); err == nil && n == 1 {
				return &plan.Candidate{
					Selector:   sel,
					Strategy:   plan.StrategyLabelFor,
					Stable:     plan.StrategyLabelFor.Stable(),
					Confidence: 0.88,
				}
			}
		}
	}

	esc := strings.ReplaceAll(in.Label, `"`, `\"`)
	sel := fmt.Sprintf(`input[placeholder*="%[1]s" i], textarea[placeholder*="%[1]s" i]`, esc)
	if n, err := h.drv.Count(ctx, sel, ""); err == nil && n >= 1 {
		if n > 1 {
			sel += " >> nth=0"
		}
		return &plan.Candidate{
			Selector:   sel,
			Strategy:   plan.StrategyPlaceholder,
			Stable:     plan.StrategyPlaceholder.Stable(),
			Confidence: 0.88,
		}
	}
	return nil
}

// reprobeHeuristics is the last ladder: id/class substring matching on the
// label tokens, then the last known good selector from the cache.
func (h *Healer) reprobeHeuristics(ctx context.Context, in plan.Intent) *plan.Candidate {
	for _, tok := range labelTokens(in.Label) {
		sel := fmt.Sprintf(`[id*="%[1]s" i], [class*="%[1]s" i]`, tok)
		n, err := h.drv.Count(ctx, sel, "")
		if err != nil || n == 0 {
			continue
		}
		if n > 1 {
			sel += " >> nth=0"
		}
		return &plan.Candidate{
			Selector:   sel,
			Strategy:   plan.StrategyID,
			Stable:     plan.StrategyID.Stable(),
			Confidence: 0.70,
		}
	}

	if h.cache != nil {
		if raw, err := h.drv.URL(ctx); err == nil {
			origin := discovery.OriginOf(raw)
			if entry := h.cache.Get(origin, in.Label, contextHash(in)); entry != nil {
				return &plan.Candidate{
					Selector:   entry.Selector,
					Strategy:   plan.StrategyCached,
					Stable:     entry.Stable,
					Confidence: 0.70,
					Meta:       map[string]string{"source_strategy": string(entry.Strategy)},
				}
			}
		}
	}
	return nil
}

var tokenRe = regexp.MustCompile(`[a-z0-9]+`)

// labelTokens extracts lowercase tokens worth matching against generated
// ids and class names, longest first.
func labelTokens(label string) []string {
	toks := tokenRe.FindAllString(strings.ToLower(label), -1)
	out := toks[:0]
	for _, t := range toks {
		if len(t) >= 3 {
			out = append(out, t)
		}
	}
	return out
}
