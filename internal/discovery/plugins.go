package discovery

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"pacts/internal/driver"
	"pacts/internal/plan"
)

// Plugin is an app-specific discovery strategy, keyed by URL origin.
// Plug-ins run after every generic strategy has failed.
type Plugin interface {
	Name() string
	Matches(origin string) bool
	Discover(ctx context.Context, drv driver.API, in plan.Intent) (*plan.Candidate, error)
}

// ComboboxPlugin handles custom dropdown widgets that only accept input
// through an open-type-commit protocol. It binds the combobox by role and
// name and marks the candidate so the executor drives it through the
// protocol instead of a plain fill.
type ComboboxPlugin struct {
	// Origins lists origin substrings the plug-in applies to; empty means
	// every origin.
	Origins []string
}

func (p *ComboboxPlugin) Name() string { return "combobox" }

func (p *ComboboxPlugin) Matches(origin string) bool {
	if len(p.Origins) == 0 {
		return true
	}
	for _, o := range p.Origins {
		if o != "" && strings.Contains(origin, o) {
			return true
		}
	}
	return false
}

func (p *ComboboxPlugin) Discover(ctx context.Context, drv driver.API, in plan.Intent) (*plan.Candidate, error) {
	switch in.Action {
	case plan.ActionFill, plan.ActionType, plan.ActionSelect:
	default:
		return nil, nil
	}

	sel := fmt.Sprintf("role=combobox[name=/%s/i]", regexp.QuoteMeta(in.Label))
	n, err := drv.Count(ctx, sel, "")
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	if n > 1 {
		sel += " >> nth=0"
	}
	cand := candidate(sel, plan.StrategyAppSpecific)
	cand.Meta = map[string]string{"plugin": p.Name(), "protocol": "combobox"}
	return cand, nil
}
