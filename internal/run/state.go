// Package run owns the run state machine: PLAN, EXEC, HEAL, HITL,
// VERDICT, END. The coordinator is the only writer of run state; every
// other component returns proposed mutations which the coordinator
// applies.
package run

import (
	"fmt"
	"time"

	"pacts/internal/plan"
)

// Verdict is the terminal outcome of a run.
type Verdict string

const (
	VerdictPass Verdict = "pass"
	VerdictFail Verdict = "fail"
)

// State is the authoritative record of one run in flight.
type State struct {
	ReqID    string        `json:"req_id"`
	Scenario string        `json:"scenario"`
	URL      string        `json:"url"`
	Plan     []plan.Intent `json:"plan"`

	StepIdx   int              `json:"step_idx"`
	HealRound int              `json:"heal_round"`
	Failure   plan.FailureKind `json:"failure,omitempty"`
	Verdict   Verdict          `json:"verdict,omitempty"`

	HealEvents    []plan.HealEvent    `json:"heal_events"`
	ExecutedSteps []plan.ExecutedStep `json:"executed_steps"`
	Artifacts     []string            `json:"artifacts"`

	LastSelector     string `json:"last_selector,omitempty"`
	RCADetail        string `json:"rca_detail,omitempty"`
	RequiresHuman    bool   `json:"requires_human,omitempty"`
	HumanInput       string `json:"human_input,omitempty"`
	BlockedSignature string `json:"blocked_signature,omitempty"`

	SessionSnapshotted bool      `json:"session_snapshotted,omitempty"`
	Start              time.Time `json:"start"`
	End                time.Time `json:"end"`
}

// FormatVerdict renders the verdict for human consumption: Pass,
// Fail(kind, rca), or Blocked(signature).
func (s *State) FormatVerdict() string {
	switch {
	case s.Verdict == VerdictPass:
		return "Pass"
	case s.Failure == plan.FailureBlocked:
		return fmt.Sprintf("Blocked(%s)", s.BlockedSignature)
	default:
		return fmt.Sprintf("Fail(%s, %q)", s.Failure, s.RCADetail)
	}
}
