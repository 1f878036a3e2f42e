package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/target/mmk-autoingest/internal/domain/model"
)

// JobBuilder provides a fluent interface for building JobRecord fixtures.
type JobBuilder struct {
	rec model.JobRecord
}

// NewJob starts a pending record for case/source created at TestTime.
func NewJob(caseName, dataSource string) *JobBuilder {
	created := TestTime()
	return &JobBuilder{rec: model.JobRecord{
		ID:        uuid.NewString(),
		JobKey:    model.JobKey{CaseName: caseName, DataSource: dataSource},
		State:     model.JobStatePending,
		CreatedAt: created,
		UpdatedAt: created,
	}}
}

// WithPriority sets the job priority.
func (b *JobBuilder) WithPriority(priority int) *JobBuilder {
	b.rec.Priority = priority
	return b
}

// CreatedAt sets the creation time.
func (b *JobBuilder) CreatedAt(t time.Time) *JobBuilder {
	b.rec.CreatedAt = t
	b.rec.UpdatedAt = t
	return b
}

// Running marks the job as running on host in stage since startedAt.
func (b *JobBuilder) Running(host, stage string, startedAt time.Time) *JobBuilder {
	b.rec.State = model.JobStateRunning
	b.rec.HostName = host
	b.rec.Stage = stage
	b.rec.StageStartedAt = &startedAt
	return b
}

// Terminal marks the job as finished in state with status at completedAt.
func (b *JobBuilder) Terminal(state model.JobState, status model.JobStatus, completedAt time.Time) *JobBuilder {
	b.rec.State = state
	b.rec.Stage = ""
	b.rec.StageStartedAt = nil
	b.rec.CompletedAt = &completedAt
	b.rec.Status = &status
	return b
}

// Build returns a copy of the record.
func (b *JobBuilder) Build() model.JobRecord {
	return b.rec.Clone()
}
