package job

import (
	"fmt"
	"strings"
	"time"

	"github.com/target/mmk-autoingest/internal/domain/model"
)

// StageTracker validates stage updates and stamps stage timestamps for running jobs.
type StageTracker struct {
	now func() time.Time
}

// NewStageTracker returns a tracker reading time from now (time.Now when nil).
func NewStageTracker(now func() time.Time) *StageTracker {
	if now == nil {
		now = time.Now
	}
	return &StageTracker{now: now}
}

// Owns reports whether host currently holds rec in the running state.
func (t *StageTracker) Owns(rec model.JobRecord, host string) bool {
	return rec.State == model.JobStateRunning && rec.HostName == host
}

// Advance moves a running job owned by host to a new stage.
func (t *StageTracker) Advance(rec model.JobRecord, host, stage string) (model.JobRecord, error) {
	stage = strings.TrimSpace(stage)
	if stage == "" {
		return rec, fmt.Errorf("%w: stage cannot be empty", model.ErrInvalidTransition)
	}
	if err := t.checkOwner(rec, host); err != nil {
		return rec, err
	}

	next := rec.Clone()
	now := t.now().UTC()
	next.Stage = stage
	next.StageStartedAt = &now
	next.UpdatedAt = now
	return next, nil
}

// Heartbeat restamps StageStartedAt without changing the stage.
func (t *StageTracker) Heartbeat(rec model.JobRecord, host string) (model.JobRecord, error) {
	if err := t.checkOwner(rec, host); err != nil {
		return rec, err
	}

	next := rec.Clone()
	now := t.now().UTC()
	next.StageStartedAt = &now
	next.UpdatedAt = now
	return next, nil
}

// checkOwner rejects updates from anyone but the running owner. A host whose
// job was cancelled underneath it gets ErrJobCancelled so it can stop work.
func (t *StageTracker) checkOwner(rec model.JobRecord, host string) error {
	if t.Owns(rec, host) {
		return nil
	}
	if cancelledFor(rec, host) {
		return fmt.Errorf("%w: %w: %s", model.ErrInvalidTransition, model.ErrJobCancelled, rec.JobKey)
	}
	if rec.State != model.JobStateRunning {
		return fmt.Errorf("%w: job %s is %s", model.ErrInvalidTransition, rec.JobKey, rec.State)
	}
	return fmt.Errorf("%w: job %s is owned by %q, not %q", model.ErrInvalidTransition, rec.JobKey, rec.HostName, host)
}

func cancelledFor(rec model.JobRecord, host string) bool {
	return rec.State == model.JobStateFailed &&
		rec.HostName == host &&
		rec.Status != nil &&
		rec.Status.IsCancellation()
}
