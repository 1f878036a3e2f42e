// Package notify defines the failure notification payload and the sinks that
// deliver it.
package notify

import (
	"context"
	"time"
)

// Severity constants recognised by downstream sinks.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

// Event kinds carried in JobFailurePayload.Event.
const (
	// EventJobFailed is sent when a job reaches FAILED with a non-cancel status.
	EventJobFailed = "job_failed"
	// EventJobReclaimed is sent when a stale running job is returned to the queue.
	EventJobReclaimed = "job_reclaimed"
)

// JobFailurePayload captures the canonical data we emit for job failure notifications.
type JobFailurePayload struct {
	Event      string
	JobID      string
	CaseName   string
	DataSource string
	HostName   string
	Stage      string
	StatusKind string
	Message    string
	ErrorClass string
	Severity   string
	OccurredAt time.Time
	Metadata   map[string]string
}

// Subject names the job for message headers: "case / data source".
func (p JobFailurePayload) Subject() string {
	switch {
	case p.CaseName == "" && p.DataSource == "":
		return ""
	case p.DataSource == "":
		return p.CaseName
	default:
		return p.CaseName + " / " + p.DataSource
	}
}

// Sink describes a destination capable of consuming job failure notifications.
type Sink interface {
	SendJobFailure(ctx context.Context, payload JobFailurePayload) error
}

// SinkFunc adapts a function to the Sink interface (useful for tests).
type SinkFunc func(ctx context.Context, payload JobFailurePayload) error

// SendJobFailure implements the Sink interface.
func (f SinkFunc) SendJobFailure(ctx context.Context, payload JobFailurePayload) error {
	if f == nil {
		return nil
	}
	return f(ctx, payload)
}
