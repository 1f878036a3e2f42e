package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/mmk-autoingest/internal/observability/statsd"
)

func TestEmitJobLifecycle(t *testing.T) {
	rec := &statsd.Recorder{}
	EmitJobLifecycle(rec, JobMetric{
		Transition: TransitionClaim,
		Result:     ResultError,
		Host:       "node-a",
		Duration:   15 * time.Millisecond,
		Err:        errors.New("boom"),
	})

	counts := rec.Named("job.transition")
	require.Len(t, counts, 1)
	assert.Equal(t, "claim", counts[0].Tags["transition"])
	assert.Equal(t, "node-a", counts[0].Tags["host"])
	assert.NotEmpty(t, counts[0].Tags["error_class"])

	timings := rec.Named("job.duration")
	require.Len(t, timings, 1)
	assert.InDelta(t, 15.0, timings[0].Value, 0.001)
}

func TestEmitJobLifecycle_NilSink(t *testing.T) {
	assert.NotPanics(t, func() {
		EmitJobLifecycle(nil, JobMetric{Transition: TransitionEnqueue, Result: ResultSuccess})
		EmitQueueDepth(nil, QueueDepth{Pending: 1})
	})
}

func TestEmitQueueDepth(t *testing.T) {
	rec := &statsd.Recorder{}
	EmitQueueDepth(rec, QueueDepth{Pending: 3, Running: 2, Completed: 7})

	got := map[string]float64{}
	for _, s := range rec.Named("jobs.count") {
		got[s.Tags["state"]] = s.Value
	}
	assert.Equal(t, map[string]float64{"pending": 3, "running": 2, "completed": 7}, got)
}

func TestCloneTags(t *testing.T) {
	assert.Nil(t, CloneTags(nil))
	src := map[string]string{"a": "1", "": "x"}
	out := CloneTags(src)
	assert.Equal(t, map[string]string{"a": "1"}, out)
	out["a"] = "2"
	assert.Equal(t, "1", src["a"])
}
