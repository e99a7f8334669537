// Package plan defines the data model shared by the PACTS execution engine:
// steps, normalized intents, discovery strategies, candidates, and the
// failure taxonomy. Everything here is plain data; behavior lives in the
// driver, discovery, gate, executor, and healer packages.
package plan

import (
	"fmt"
	"strings"
)

// Action is one of the supported browser interactions.
type Action string

const (
	ActionClick   Action = "click"
	ActionFill    Action = "fill"
	ActionType    Action = "type"
	ActionPress   Action = "press"
	ActionSelect  Action = "select"
	ActionCheck   Action = "check"
	ActionUncheck Action = "uncheck"
	ActionHover   Action = "hover"
	ActionFocus   Action = "focus"
	ActionWait    Action = "wait"
)

// ParseAction maps a requirement-file verb to an Action.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	switch a {
	case ActionClick, ActionFill, ActionType, ActionPress, ActionSelect,
		ActionCheck, ActionUncheck, ActionHover, ActionFocus, ActionWait:
		return a, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// NeedsValue reports whether the action requires a value operand.
func (a Action) NeedsValue() bool {
	switch a {
	case ActionFill, ActionType, ActionPress, ActionSelect:
		return true
	}
	return false
}

// ReadOnly reports whether the action never mutates input state. The
// actionability gate treats read-only actions as enabled regardless of the
// element's disabled/readonly attributes.
func (a Action) ReadOnly() bool {
	return a == ActionHover || a == ActionFocus
}

// InputStyle reports whether the action expects an input-capable element
// (relevant for the enabled predicate and for hidden-fill activation).
func (a Action) InputStyle() bool {
	switch a {
	case ActionFill, ActionType, ActionSelect, ActionCheck, ActionUncheck:
		return true
	}
	return false
}
