// Package telemetry provides the structured event log and counters for the
// execution engine. Events carry a stable tag plus the run coordinates
// (req_id, step_idx, heal_round) and a latency; counters are atomic and
// shared across parallel runs.
package telemetry

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Stable event tags.
const (
	TagDiscovery = "DISCOVERY"
	TagGate      = "GATE"
	TagExec      = "EXEC"
	TagHeal      = "HEAL"
	TagCache     = "CACHE"
	TagHITL      = "HITL"
	TagRouter    = "ROUTER"
)

// Sink is the engine's telemetry sink. One sink serves all runs in a
// process; per-run context travels in the event fields.
type Sink struct {
	log *zap.Logger

	counters sync.Map // string -> *int64

	mu        sync.Mutex
	durations map[string][]time.Duration // per-step durations keyed by req_id
}

// NewSink wraps a zap logger. A nil logger yields a no-op sink.
func NewSink(log *zap.Logger) *Sink {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sink{
		log:       log,
		durations: make(map[string][]time.Duration),
	}
}

// Event emits one structured event.
func (s *Sink) Event(tag, reqID string, stepIdx, healRound int, latency time.Duration, msg string, fields ...zap.Field) {
	base := []zap.Field{
		zap.String("tag", tag),
		zap.String("req_id", reqID),
		zap.Int("step_idx", stepIdx),
		zap.Int("heal_round", healRound),
		zap.Duration("latency", latency),
	}
	s.log.Info(msg, append(base, fields...)...)
}

// Warn emits one structured warning event.
func (s *Sink) Warn(tag, reqID string, stepIdx, healRound int, msg string, fields ...zap.Field) {
	base := []zap.Field{
		zap.String("tag", tag),
		zap.String("req_id", reqID),
		zap.Int("step_idx", stepIdx),
		zap.Int("heal_round", healRound),
	}
	s.log.Warn(msg, append(base, fields...)...)
}

// Incr bumps a named counter.
func (s *Sink) Incr(name string) {
	v, _ := s.counters.LoadOrStore(name, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

// Counter returns the current value of a named counter.
func (s *Sink) Counter(name string) int64 {
	v, ok := s.counters.Load(name)
	if !ok {
		return 0
	}
	return atomic.LoadInt64(v.(*int64))
}

// Counters returns a snapshot of every counter.
func (s *Sink) Counters() map[string]int64 {
	out := make(map[string]int64)
	s.counters.Range(func(k, v any) bool {
		out[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	return out
}

// StepDuration records one step's wall-clock time for a run.
func (s *Sink) StepDuration(reqID string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.durations[reqID] = append(s.durations[reqID], d)
}

// Flush returns and clears the per-step durations for a run. Called on
// verdict so the durations round-trip into the persisted run record.
func (s *Sink) Flush(reqID string) []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.durations[reqID]
	delete(s.durations, reqID)
	return d
}
