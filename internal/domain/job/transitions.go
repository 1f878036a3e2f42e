// Package job holds the ingest job state machine, dispatch ordering, stage
// bookkeeping, and change notification plumbing. Everything here is pure
// except the notifier; persistence happens through core.CoordinationStore.
package job

import (
	"fmt"
	"strings"
	"time"

	"github.com/target/mmk-autoingest/internal/domain/model"
)

// NewPending builds the record created by an enqueue.
func NewPending(id string, req model.EnqueueRequest, now time.Time) (model.JobRecord, error) {
	if err := req.Validate(); err != nil {
		return model.JobRecord{}, err
	}
	now = now.UTC()
	return model.JobRecord{
		ID:        id,
		JobKey:    req.Key(),
		State:     model.JobStatePending,
		Priority:  req.Priority,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Claim transitions a pending job to running on host.
func Claim(rec model.JobRecord, host string, now time.Time) (model.JobRecord, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return rec, fmt.Errorf("%w: host name is required", model.ErrInvalidTransition)
	}
	if rec.State != model.JobStatePending {
		return rec, fmt.Errorf("%w: cannot claim %s job %s", model.ErrInvalidTransition, rec.State, rec.JobKey)
	}

	now = now.UTC()
	next := rec.Clone()
	next.State = model.JobStateRunning
	next.HostName = host
	next.Stage = model.InitialStage
	next.StageStartedAt = &now
	next.UpdatedAt = now
	return next, nil
}

// Finish moves a running job owned by host to a terminal state.
func Finish(rec model.JobRecord, host string, state model.JobState, status model.JobStatus, now time.Time) (model.JobRecord, error) {
	if !state.Terminal() {
		return rec, fmt.Errorf("%w: %s is not a terminal state", model.ErrInvalidTransition, state)
	}
	if err := status.Validate(); err != nil {
		return rec, fmt.Errorf("%w: %w", model.ErrInvalidTransition, err)
	}
	tracker := StageTracker{now: func() time.Time { return now }}
	if err := tracker.checkOwner(rec, host); err != nil {
		return rec, err
	}
	return terminate(rec, state, status, now), nil
}

// Reprioritize changes the priority of a pending job.
func Reprioritize(rec model.JobRecord, priority int, now time.Time) (model.JobRecord, error) {
	if rec.State != model.JobStatePending {
		return rec, fmt.Errorf("%w: cannot reprioritize %s job %s", model.ErrInvalidTransition, rec.State, rec.JobKey)
	}
	next := rec.Clone()
	next.Priority = priority
	next.UpdatedAt = now.UTC()
	return next, nil
}

// Cancel fails a pending or running job with a cancellation status. The
// host name is kept so a running owner can recognise its own cancellation.
func Cancel(rec model.JobRecord, reason string, now time.Time) (model.JobRecord, error) {
	if rec.State.Terminal() {
		return rec, fmt.Errorf("%w: job %s is already %s", model.ErrInvalidTransition, rec.JobKey, rec.State)
	}
	return terminate(rec, model.JobStateFailed, model.Cancelled(reason), now), nil
}

// Reclaim returns a stale running job to the pending queue. Priority and
// createdAt are preserved; ok is false when the policy does not consider rec stale.
func Reclaim(rec model.JobRecord, policy *StalenessPolicy, now time.Time) (model.JobRecord, bool) {
	if !policy.IsStale(rec, now) {
		return rec, false
	}
	next := rec.Clone()
	next.State = model.JobStatePending
	next.HostName = ""
	next.Stage = ""
	next.StageStartedAt = nil
	next.UpdatedAt = now.UTC()
	return next, true
}

func terminate(rec model.JobRecord, state model.JobState, status model.JobStatus, now time.Time) model.JobRecord {
	now = now.UTC()
	next := rec.Clone()
	next.State = state
	next.Stage = ""
	next.StageStartedAt = nil
	next.CompletedAt = &now
	next.Status = &status
	next.UpdatedAt = now
	return next
}
