package plan

// Strategy names one discovery method. The order strategies are attempted in
// is configuration, not code; see the discovery package.
type Strategy string

const (
	StrategyCached               Strategy = "cached"
	StrategyAriaLabel            Strategy = "aria_label"
	StrategyNameAttr             Strategy = "name_attr"
	StrategyPlaceholder          Strategy = "placeholder"
	StrategyLabelFor             Strategy = "label_for"
	StrategyRoleName             Strategy = "role_name"
	StrategyRoleNameDisambiguated Strategy = "role_name_disambiguated"
	StrategyTextHas              Strategy = "text_has"
	StrategyID                   Strategy = "id"
	StrategyRegionScoped         Strategy = "region_scoped"
	StrategyAppSpecific          Strategy = "app_specific"
)

// Stable reports whether the strategy binds to an identifier intrinsic to
// the element's semantics rather than an incidental one (generated id,
// class). Only stable-strategy selectors are trusted across sessions.
func (s Strategy) Stable() bool {
	switch s {
	case StrategyAriaLabel, StrategyNameAttr, StrategyPlaceholder, StrategyRoleName:
		return true
	}
	return false
}

// BaseConfidence is the strategy's baseline confidence before the per-round
// healing decay is applied.
func (s Strategy) BaseConfidence() float64 {
	switch s {
	case StrategyCached:
		return 0.95
	case StrategyAriaLabel:
		return 0.95
	case StrategyNameAttr:
		return 0.92
	case StrategyPlaceholder:
		return 0.90
	case StrategyLabelFor:
		return 0.85
	case StrategyRoleName:
		return 0.88
	case StrategyRoleNameDisambiguated:
		return 0.80
	case StrategyTextHas:
		return 0.72
	case StrategyID:
		return 0.70
	case StrategyRegionScoped:
		return 0.82
	case StrategyAppSpecific:
		return 0.75
	}
	return 0.5
}

// Candidate is the discovery engine's output for one intent: a selector plus
// the metadata the executor and cache need to judge it.
type Candidate struct {
	Selector   string            `json:"selector"`
	Confidence float64           `json:"confidence"`
	Strategy   Strategy          `json:"strategy"`
	Stable     bool              `json:"stable"`
	Meta       map[string]string `json:"meta,omitempty"`
}
