package workerpool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// mockExtractionJob stands in for one window's LLM extraction call,
// with a fixed latency so the pool's dynamic distribution can be
// exercised without a real model.
type mockExtractionJob struct {
	windowID string
	latency  time.Duration
}

func (j mockExtractionJob) Process(ctx context.Context) (string, error) {
	select {
	case <-time.After(j.latency):
		return j.windowID + " extracted", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// testLogger adapts *testing.T to the Debugf/Infof logger interface
// WorkerPool expects.
type testLogger struct {
	t *testing.T
}

func (l testLogger) Debugf(format string, args ...interface{}) {
	l.t.Logf("[DEBUG] "+format, args...)
}

func (l testLogger) Infof(format string, args ...interface{}) {
	l.t.Logf("[INFO] "+format, args...)
}

func TestWorkerPoolDynamicDistribution(t *testing.T) {
	// One slow window (simulating a long LLM call) alongside nine fast
	// ones; a pool with work-stealing should finish in roughly the
	// slow job's duration, not the slow job plus its static share of
	// the fast ones.
	jobs := []mockExtractionJob{
		{windowID: "slow", latency: 1000 * time.Millisecond},
		{windowID: "fast1", latency: 100 * time.Millisecond},
		{windowID: "fast2", latency: 100 * time.Millisecond},
		{windowID: "fast3", latency: 100 * time.Millisecond},
		{windowID: "fast4", latency: 100 * time.Millisecond},
		{windowID: "fast5", latency: 100 * time.Millisecond},
		{windowID: "fast6", latency: 100 * time.Millisecond},
		{windowID: "fast7", latency: 100 * time.Millisecond},
		{windowID: "fast8", latency: 100 * time.Millisecond},
		{windowID: "fast9", latency: 100 * time.Millisecond},
	}

	pool := NewWorkerPool[mockExtractionJob](4, testLogger{t})

	ctx := context.Background()
	start := time.Now()

	results := pool.Process(ctx, jobs, 2*time.Second)

	resultCount := 0
	for range results {
		resultCount++
	}

	elapsed := time.Since(start)

	t.Logf("Total time: %v", elapsed)
	t.Logf("Results collected: %d", resultCount)

	// With dynamic distribution:
	// - One worker takes the slow job (1s)
	// - Other workers share the 9 fast jobs (100ms each)
	// - Total time should be ~1s (optimal)
	//
	// With static distribution:
	// - 10 jobs / 4 workers = 2.5 jobs per worker
	// - One worker would get slow + 2 fast = 1.2s
	assert.Less(t, elapsed, 1200*time.Millisecond, "should be faster than static distribution")
	assert.GreaterOrEqual(t, elapsed, 1000*time.Millisecond, "should take at least the slow job duration")
	assert.Equal(t, 10, resultCount, "should process all jobs")
}
