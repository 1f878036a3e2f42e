// Package metrics holds the metric vocabulary shared by the monitor, the
// executor and the reaper.
package metrics

import (
	"time"

	obserrors "github.com/target/mmk-autoingest/internal/observability/errors"
	"github.com/target/mmk-autoingest/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess  = "success"
	ResultError    = "error"
	ResultNoop     = "noop"
	ResultConflict = "conflict"
)

// Transition names tagged on job.transition.
const (
	TransitionEnqueue      = "enqueue"
	TransitionClaim        = "claim"
	TransitionAdvance      = "advance_stage"
	TransitionHeartbeat    = "heartbeat"
	TransitionComplete     = "complete"
	TransitionFail         = "fail"
	TransitionReprioritize = "reprioritize"
	TransitionCancel       = "cancel"
	TransitionReclaim      = "reclaim"
)

// JobMetric captures details about a job lifecycle event for metric emission.
type JobMetric struct {
	Transition string
	Result     string
	Host       string
	StatusKind string
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle emits standardised job lifecycle metrics. Empty tag
// values are dropped by the sink, so host and status_kind are always passed.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"transition":  in.Transition,
		"result":      in.Result,
		"host":        in.Host,
		"status_kind": in.StatusKind,
	}
	if in.Err != nil && in.Result == ResultError {
		tags["error_class"] = obserrors.Classify(in.Err)
	}

	sink.Count("job.transition", 1, tags)

	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

// QueueDepth is the per-panel job count of one snapshot.
type QueueDepth struct {
	Pending   int
	Running   int
	Completed int
}

// EmitQueueDepth records the snapshot counts as gauges.
func EmitQueueDepth(sink statsd.Sink, depth QueueDepth) {
	if sink == nil {
		return
	}
	sink.Gauge("jobs.count", float64(depth.Pending), map[string]string{"state": "pending"})
	sink.Gauge("jobs.count", float64(depth.Running), map[string]string{"state": "running"})
	sink.Gauge("jobs.count", float64(depth.Completed), map[string]string{"state": "completed"})
}

// CloneTags creates a shallow copy of a tag map, filtering out empty keys.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		if k == "" {
			continue
		}
		out[k] = v
	}
	return out
}
