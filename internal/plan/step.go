package plan

// Step is a single raw instruction from a requirement file or an external
// planner.
type Step struct {
	Label      string `json:"label"`
	Action     Action `json:"action"`
	Value      string `json:"value,omitempty"`
	Expected   string `json:"expected,omitempty"`
	Within     string `json:"within,omitempty"`
	TestCaseID string `json:"test_case_id,omitempty"`
}

// Hints carries planner-supplied discovery guidance.
type Hints struct {
	Role      string     `json:"role,omitempty"`
	TierOrder []Strategy `json:"tier_order,omitempty"`
}

// Intent is a normalized step. Once accepted by the coordinator an intent is
// append-only: the executor and healer may attach a Candidate but never
// rewrite the step fields.
type Intent struct {
	Step
	Hints     Hints      `json:"hints,omitempty"`
	Candidate *Candidate `json:"candidate,omitempty"`
}

// NormalizeSteps turns raw steps into intents, inferring a role hint from
// the action where the planner left none.
func NormalizeSteps(steps []Step) []Intent {
	intents := make([]Intent, 0, len(steps))
	for _, s := range steps {
		in := Intent{Step: s}
		if in.Hints.Role == "" {
			in.Hints.Role = roleForAction(s.Action)
		}
		intents = append(intents, in)
	}
	return intents
}

// roleForAction maps an action to the ARIA role most likely to carry it.
func roleForAction(a Action) string {
	switch a {
	case ActionFill, ActionType:
		return "textbox"
	case ActionClick:
		return "button"
	case ActionSelect:
		return "combobox"
	case ActionCheck, ActionUncheck:
		return "checkbox"
	}
	return ""
}
