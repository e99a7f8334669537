package plan

// FailureKind classifies why a step (or a whole run) could not proceed.
type FailureKind string

const (
	FailureNone          FailureKind = ""
	FailureNotUnique     FailureKind = "not_unique"
	FailureNotVisible    FailureKind = "not_visible"
	FailureNotEnabled    FailureKind = "not_enabled"
	FailureUnstable      FailureKind = "unstable"
	FailureNotScoped     FailureKind = "not_scoped"
	FailureTimeout       FailureKind = "timeout"
	FailureDiscoveryNone FailureKind = "discovery_none"
	FailureBlocked       FailureKind = "blocked"
	FailureWaitForHuman  FailureKind = "wait_for_human"
	FailureCancelled     FailureKind = "cancelled"
)

// Healable reports whether the healer should be given a chance at this
// failure. Blocked and WaitForHuman short-circuit to a terminal verdict.
func (k FailureKind) Healable() bool {
	switch k {
	case FailureNotUnique, FailureNotVisible, FailureNotEnabled,
		FailureUnstable, FailureTimeout, FailureDiscoveryNone:
		return true
	}
	return false
}

// HealEvent records one healer invocation. Heal events are appended by
// whole-slice reassignment: the healer returns an extended slice and the
// coordinator installs it, so change detection over the run state sees
// every append.
type HealEvent struct {
	Round       int            `json:"round"`
	StepIdx     int            `json:"step_idx"`
	FailureKind FailureKind    `json:"failure_kind"`
	Actions     []string       `json:"actions"`
	OldSelector string         `json:"old_selector,omitempty"`
	NewSelector string         `json:"new_selector,omitempty"`
	GateResult  map[string]bool `json:"gate_result,omitempty"`
	Success     bool           `json:"success"`
	DurationMs  int64          `json:"duration_ms"`
	Detail      string         `json:"detail,omitempty"`
}

// ExecutedStep records one successfully executed step, with the selector
// that finally worked. The slice of executed steps in the run state is
// extended only by the executor and only on success.
type ExecutedStep struct {
	Index      int      `json:"index"`
	Label      string   `json:"label"`
	Action     Action   `json:"action"`
	Value      string   `json:"value,omitempty"`
	Selector   string   `json:"selector"`
	Strategy   Strategy `json:"strategy"`
	HealRounds int      `json:"heal_rounds"`
	Screenshot string   `json:"screenshot,omitempty"`
	DurationMs int64    `json:"duration_ms"`
}
