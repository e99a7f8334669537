package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCountersConcurrent(t *testing.T) {
	s := NewSink(nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Incr("cache_hit_fast")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(800), s.Counter("cache_hit_fast"))
	assert.Equal(t, int64(0), s.Counter("unknown"))

	snap := s.Counters()
	assert.Equal(t, int64(800), snap["cache_hit_fast"])
}

func TestStepDurationsFlushPerRun(t *testing.T) {
	s := NewSink(nil)
	s.StepDuration("r1", 100*time.Millisecond)
	s.StepDuration("r1", 200*time.Millisecond)
	s.StepDuration("r2", 50*time.Millisecond)

	got := s.Flush("r1")
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, got)
	assert.Empty(t, s.Flush("r1"), "flush clears the run's durations")
	assert.Len(t, s.Flush("r2"), 1, "runs do not share duration lists")
}
