package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"pacts/internal/plan"
)

// RunRecord is the persisted summary of one run.
type RunRecord struct {
	ReqID         string              `json:"req_id"`
	Scenario      string              `json:"scenario"`
	Origin        string              `json:"origin"`
	Start         time.Time           `json:"start"`
	End           time.Time           `json:"end"`
	Verdict       string              `json:"verdict"`
	Failure       plan.FailureKind    `json:"failure,omitempty"`
	RCADetail     string              `json:"rca_detail,omitempty"`
	HealRounds    int                 `json:"heal_rounds"`
	HealEvents    []plan.HealEvent    `json:"heal_events"`
	ExecutedSteps []plan.ExecutedStep `json:"executed_steps"`
	Artifacts     []string            `json:"artifacts"`
	Counters      map[string]int64    `json:"counters,omitempty"`
}

// SaveRun upserts one run record.
func (s *Store) SaveRun(rec RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	healEvents, err := json.Marshal(rec.HealEvents)
	if err != nil {
		return fmt.Errorf("marshal heal events: %w", err)
	}
	executed, err := json.Marshal(rec.ExecutedSteps)
	if err != nil {
		return fmt.Errorf("marshal executed steps: %w", err)
	}
	artifacts, err := json.Marshal(rec.Artifacts)
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}
	counters, err := json.Marshal(rec.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (req_id, scenario, origin, started_at, ended_at, verdict,
			failure, rca_detail, heal_rounds, heal_events, executed_steps, artifacts, counters)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(req_id) DO UPDATE SET
			ended_at = excluded.ended_at,
			verdict = excluded.verdict,
			failure = excluded.failure,
			rca_detail = excluded.rca_detail,
			heal_rounds = excluded.heal_rounds,
			heal_events = excluded.heal_events,
			executed_steps = excluded.executed_steps,
			artifacts = excluded.artifacts,
			counters = excluded.counters`,
		rec.ReqID, rec.Scenario, rec.Origin, rec.Start, rec.End, rec.Verdict,
		string(rec.Failure), rec.RCADetail, rec.HealRounds,
		string(healEvents), string(executed), string(artifacts), string(counters))
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// GetRun loads one run record by request id.
func (s *Store) GetRun(reqID string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT req_id, scenario, origin, started_at, ended_at, verdict,
			failure, rca_detail, heal_rounds, heal_events, executed_steps, artifacts, counters
		FROM runs WHERE req_id = ?`, reqID)

	var rec RunRecord
	var failure, healEvents, executed, artifacts, counters string
	err := row.Scan(&rec.ReqID, &rec.Scenario, &rec.Origin, &rec.Start, &rec.End,
		&rec.Verdict, &failure, &rec.RCADetail, &rec.HealRounds,
		&healEvents, &executed, &artifacts, &counters)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	rec.Failure = plan.FailureKind(failure)
	if err := json.Unmarshal([]byte(healEvents), &rec.HealEvents); err != nil {
		return nil, fmt.Errorf("decode heal events: %w", err)
	}
	if err := json.Unmarshal([]byte(executed), &rec.ExecutedSteps); err != nil {
		return nil, fmt.Errorf("decode executed steps: %w", err)
	}
	if err := json.Unmarshal([]byte(artifacts), &rec.Artifacts); err != nil {
		return nil, fmt.Errorf("decode artifacts: %w", err)
	}
	if counters != "" && counters != "null" {
		if err := json.Unmarshal([]byte(counters), &rec.Counters); err != nil {
			return nil, fmt.Errorf("decode counters: %w", err)
		}
	}
	return &rec, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT req_id, scenario, origin, started_at, ended_at, verdict, failure, rca_detail, heal_rounds
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		var failure string
		if err := rows.Scan(&rec.ReqID, &rec.Scenario, &rec.Origin, &rec.Start, &rec.End,
			&rec.Verdict, &failure, &rec.RCADetail, &rec.HealRounds); err != nil {
			return nil, err
		}
		rec.Failure = plan.FailureKind(failure)
		out = append(out, rec)
	}
	return out, rows.Err()
}
