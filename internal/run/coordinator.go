package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pacts/internal/discovery"
	"pacts/internal/driver"
	"pacts/internal/executor"
	"pacts/internal/healer"
	"pacts/internal/hitl"
	"pacts/internal/plan"
	"pacts/internal/store"
	"pacts/internal/telemetry"
)

// StepExecutor executes one step; *executor.Executor implements it.
type StepExecutor interface {
	ExecuteStep(ctx context.Context, reqID string, stepIdx int, in *plan.Intent, healRound int) executor.Result
}

// StepHealer heals one failed step; *healer.Healer implements it.
type StepHealer interface {
	Heal(ctx context.Context, in healer.Input) healer.Outcome
	Reset(stepIdx int)
}

// HumanBridge waits for a human signal; *hitl.Bridge implements it.
type HumanBridge interface {
	Await(ctx context.Context, reqID string, stepIdx int) (*hitl.Signal, error)
}

// RunStore persists the run record; *store.Store implements it.
type RunStore interface {
	SaveRun(rec store.RunRecord) error
}

// Config tunes one coordinator.
type Config struct {
	MaxHealRounds    int
	SessionStatePath string
	ArtifactDir      string
	HITLTimeout      time.Duration // recorded in the rca on WaitForHuman
}

// Deps are the coordinator's collaborators. Store, Blocked, and Sink may
// be nil.
type Deps struct {
	Driver   driver.API
	Executor StepExecutor
	Healer   StepHealer
	HITL     HumanBridge
	Blocked  discovery.BlockedDetector
	Store    RunStore
	Sink     *telemetry.Sink
}

// Coordinator drives one run at a time. Parallel runs each build their own
// coordinator over their own driver; only the cache and the sink are
// shared.
type Coordinator struct {
	cfg  Config
	deps Deps
	sink *telemetry.Sink
}

// New builds a coordinator.
func New(cfg Config, deps Deps) *Coordinator {
	if cfg.MaxHealRounds == 0 {
		cfg.MaxHealRounds = 3
	}
	if cfg.HITLTimeout == 0 {
		cfg.HITLTimeout = 15 * time.Minute
	}
	if deps.Sink == nil {
		deps.Sink = telemetry.NewSink(nil)
	}
	return &Coordinator{cfg: cfg, deps: deps, sink: deps.Sink}
}

// Run executes a plan against an origin and always returns a state with a
// verdict; the error return covers only setup failures that prevented the
// browser from starting.
func (c *Coordinator) Run(ctx context.Context, scenario, url string, intents []plan.Intent) (*State, error) {
	st := &State{
		ReqID:    uuid.NewString(),
		Scenario: scenario,
		URL:      url,
		Plan:     intents,
		Start:    time.Now(),
	}
	c.sink.Event(telemetry.TagRouter, st.ReqID, 0, 0, 0, "run started",
		zap.String("scenario", scenario), zap.Int("steps", len(intents)))

	// A zero-step plan passes without ever touching a browser.
	if len(intents) == 0 {
		st.Verdict = VerdictPass
		c.finish(ctx, st)
		return st, nil
	}

	if err := c.deps.Driver.Start(ctx); err != nil {
		st.Verdict = VerdictFail
		st.Failure = plan.FailureTimeout
		st.RCADetail = fmt.Sprintf("browser failed to start: %v", err)
		c.finish(ctx, st)
		return st, err
	}

	if c.cfg.SessionStatePath != "" {
		if err := c.deps.Driver.StorageStateLoad(ctx, c.cfg.SessionStatePath); err != nil {
			c.sink.Warn(telemetry.TagRouter, st.ReqID, 0, 0, "session state not restored",
				zap.Error(err))
		}
	}

	if err := c.deps.Driver.Goto(ctx, url); err != nil {
		st.Verdict = VerdictFail
		st.Failure = plan.FailureTimeout
		st.RCADetail = fmt.Sprintf("initial navigation failed: %v", err)
		c.finish(ctx, st)
		return st, nil
	}

	c.execLoop(ctx, st)
	c.finish(ctx, st)
	return st, nil
}

// execLoop is the EXEC/HEAL/HITL cycle. It returns with the state's
// verdict fields populated.
func (c *Coordinator) execLoop(ctx context.Context, st *State) {
	for st.StepIdx < len(st.Plan) {
		if ctx.Err() != nil {
			c.cancel(st)
			return
		}

		in := &st.Plan[st.StepIdx]
		res := c.deps.Executor.ExecuteStep(ctx, st.ReqID, st.StepIdx, in, st.HealRound)

		switch {
		case res.RequiresHuman:
			if !c.awaitHuman(ctx, st) {
				return
			}

		case res.Executed != nil:
			st.ExecutedSteps = append(st.ExecutedSteps, *res.Executed)
			if res.Executed.Screenshot != "" {
				st.Artifacts = append(st.Artifacts, res.Executed.Screenshot)
			}
			c.deps.Healer.Reset(st.StepIdx)
			st.StepIdx++
			st.Failure = plan.FailureNone
			st.HealRound = 0
			st.LastSelector = ""

		default:
			st.Failure = res.Failure
			if res.Selector != "" {
				st.LastSelector = res.Selector
			}
			if res.Failure == plan.FailureCancelled {
				c.cancel(st)
				return
			}

			// A challenge interstitial explains most sudden failures;
			// detect it before spending heal rounds.
			if c.blocked(ctx, st) {
				return
			}

			if !st.Failure.Healable() || st.HealRound >= c.cfg.MaxHealRounds {
				st.Verdict = VerdictFail
				if st.RCADetail == "" {
					st.RCADetail = res.Detail
				}
				return
			}

			out := c.deps.Healer.Heal(ctx, healer.Input{
				ReqID:        st.ReqID,
				StepIdx:      st.StepIdx,
				Round:        st.HealRound,
				Failure:      st.Failure,
				Intent:       in,
				LastSelector: st.LastSelector,
				Events:       st.HealEvents,
			})
			// Whole-slice reassignment: the healer hands back an extended
			// list and the coordinator installs it.
			st.HealEvents = out.Events
			st.HealRound = out.Round
			if out.Failure != plan.FailureNone {
				st.Failure = out.Failure
				st.RCADetail = out.RCADetail
				if out.Failure == plan.FailureCancelled {
					c.cancel(st)
					return
				}
				st.Verdict = VerdictFail
				return
			}
		}
	}

	st.Verdict = VerdictPass
	st.Failure = plan.FailureNone
}

// awaitHuman handles one wait step: suspend, poll the bridge, then resume
// with a one-time session snapshot. Returns false when the run is over.
func (c *Coordinator) awaitHuman(ctx context.Context, st *State) bool {
	st.RequiresHuman = true
	sig, err := c.deps.HITL.Await(ctx, st.ReqID, st.StepIdx)
	if err != nil {
		if errors.Is(err, hitl.ErrTimeout) {
			st.Verdict = VerdictFail
			st.Failure = plan.FailureWaitForHuman
			st.RCADetail = fmt.Sprintf("no human signal within %s", c.cfg.HITLTimeout)
			return false
		}
		c.cancel(st)
		return false
	}

	st.HumanInput = sig.Input
	if c.cfg.SessionStatePath != "" && !st.SessionSnapshotted {
		if err := c.deps.Driver.StorageStateSave(ctx, c.cfg.SessionStatePath); err != nil {
			c.sink.Warn(telemetry.TagHITL, st.ReqID, st.StepIdx, 0, "session snapshot failed",
				zap.Error(err))
		} else {
			st.SessionSnapshotted = true
		}
	}
	st.StepIdx++
	st.RequiresHuman = false
	st.HumanInput = ""
	return true
}

// blocked consults the detector and short-circuits to a terminal verdict
// when a challenge signature is present.
func (c *Coordinator) blocked(ctx context.Context, st *State) bool {
	if c.deps.Blocked == nil {
		return false
	}
	sig, ok := c.deps.Blocked.Detect(ctx, c.deps.Driver)
	if !ok {
		return false
	}
	st.Verdict = VerdictFail
	st.Failure = plan.FailureBlocked
	st.BlockedSignature = sig
	st.RCADetail = fmt.Sprintf("anti-bot challenge detected (%s)", sig)
	c.sink.Incr("runs_blocked")
	return true
}

func (c *Coordinator) cancel(st *State) {
	st.Verdict = VerdictFail
	st.Failure = plan.FailureCancelled
	if st.RCADetail == "" {
		st.RCADetail = "run cancelled"
	}
}

// finish is the termination path: final screenshot if possible, persist
// the record, emit the artifact JSON, flush telemetry, release the driver.
func (c *Coordinator) finish(ctx context.Context, st *State) {
	st.End = time.Now()

	if st.Verdict != VerdictPass && st.StepIdx < len(st.Plan) {
		// Best-effort evidence of the failing page; a dead browser just
		// skips it.
		name := fmt.Sprintf("%s_final.png", st.ReqID)
		path := filepath.Join(c.cfg.ArtifactDir, name)
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := c.deps.Driver.Screenshot(sctx, path); err == nil {
			st.Artifacts = append(st.Artifacts, path)
		}
		cancel()
	}

	counters := c.sink.Counters()
	c.sink.Flush(st.ReqID)

	if c.deps.Store != nil {
		rec := store.RunRecord{
			ReqID:         st.ReqID,
			Scenario:      st.Scenario,
			Origin:        discovery.OriginOf(st.URL),
			Start:         st.Start,
			End:           st.End,
			Verdict:       string(st.Verdict),
			Failure:       st.Failure,
			RCADetail:     st.RCADetail,
			HealRounds:    st.HealRound,
			HealEvents:    st.HealEvents,
			ExecutedSteps: st.ExecutedSteps,
			Artifacts:     st.Artifacts,
			Counters:      counters,
		}
		if err := c.deps.Store.SaveRun(rec); err != nil {
			c.sink.Warn(telemetry.TagRouter, st.ReqID, st.StepIdx, st.HealRound,
				"run record not persisted", zap.Error(err))
		}
	}

	if c.cfg.ArtifactDir != "" {
		if err := c.emitArtifact(st); err != nil {
			c.sink.Warn(telemetry.TagRouter, st.ReqID, st.StepIdx, st.HealRound,
				"artifact not written", zap.Error(err))
		}
	}

	if err := c.deps.Driver.Stop(); err != nil {
		c.sink.Warn(telemetry.TagRouter, st.ReqID, st.StepIdx, st.HealRound,
			"driver shutdown", zap.Error(err))
	}

	c.sink.Event(telemetry.TagRouter, st.ReqID, st.StepIdx, st.HealRound,
		st.End.Sub(st.Start), "run finished",
		zap.String("verdict", st.FormatVerdict()),
		zap.Int("executed", len(st.ExecutedSteps)),
		zap.Int("heal_events", len(st.HealEvents)))
}

// artifact is the reproducible run summary handed to external emitters:
// the annotated step list with final selectors plus the heal history.
type artifact struct {
	ReqID         string              `json:"req_id"`
	Scenario      string              `json:"scenario"`
	URL           string              `json:"url"`
	Verdict       string              `json:"verdict"`
	Failure       plan.FailureKind    `json:"failure,omitempty"`
	RCADetail     string              `json:"rca_detail,omitempty"`
	ExecutedSteps []plan.ExecutedStep `json:"executed_steps"`
	HealEvents    []plan.HealEvent    `json:"heal_events"`
	Artifacts     []string            `json:"artifacts"`
	Start         time.Time           `json:"start"`
	End           time.Time           `json:"end"`
}

func (c *Coordinator) emitArtifact(st *State) error {
	if err := os.MkdirAll(c.cfg.ArtifactDir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(artifact{
		ReqID:         st.ReqID,
		Scenario:      st.Scenario,
		URL:           st.URL,
		Verdict:       string(st.Verdict),
		Failure:       st.Failure,
		RCADetail:     st.RCADetail,
		ExecutedSteps: st.ExecutedSteps,
		HealEvents:    st.HealEvents,
		Artifacts:     st.Artifacts,
		Start:         st.Start,
		End:           st.End,
	}, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(c.cfg.ArtifactDir, st.ReqID+".json")
	return os.WriteFile(path, data, 0o644)
}
