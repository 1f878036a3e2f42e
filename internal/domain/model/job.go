// Package model defines the core data types shared by the auto-ingest coordination core.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobState represents the lifecycle state of an ingest job.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobState string

const (
	// JobStatePending indicates a job is queued and waiting for a node to claim it.
	JobStatePending JobState = "pending"
	// JobStateRunning indicates a node holds the job and is processing it.
	JobStateRunning JobState = "running"
	// JobStateCompleted indicates the job finished successfully.
	JobStateCompleted JobState = "completed"
	// JobStateFailed indicates the job failed or was cancelled.
	JobStateFailed JobState = "failed"
)

// InitialStage is the stage label assigned when a node claims a job.
const InitialStage = "starting"

// UnmarshalText implements encoding.TextUnmarshaler so states can be parsed from flags and env.
func (s *JobState) UnmarshalText(text []byte) error {
	v := JobState(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid job state: %q", v)
	}
	*s = v
	return nil
}

// Valid returns true if the JobState is one of the known states.
func (s JobState) Valid() bool {
	return s == JobStatePending || s == JobStateRunning || s == JobStateCompleted || s == JobStateFailed
}

// Terminal reports whether the state is completed or failed.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// JobKey identifies a job. A case and data source pair is unique across the fleet.
type JobKey struct {
	CaseName   string `json:"case_name"   db:"case_name"   yaml:"case"`
	DataSource string `json:"data_source" db:"data_source" yaml:"data_source"`
}

// String renders the key as case/data-source for logs and tables.
func (k JobKey) String() string {
	return k.CaseName + "/" + k.DataSource
}

// Validate checks that both halves of the key are present.
func (k JobKey) Validate() error {
	if strings.TrimSpace(k.CaseName) == "" {
		return errors.New("case name is required and cannot be empty")
	}
	if strings.TrimSpace(k.DataSource) == "" {
		return errors.New("data source is required and cannot be empty")
	}
	return nil
}

// Less orders keys lexically by case name then data source.
func (k JobKey) Less(other JobKey) bool {
	if k.CaseName != other.CaseName {
		return k.CaseName < other.CaseName
	}
	return k.DataSource < other.DataSource
}

// JobRecord is a single unit of ingest work and its lifecycle state.
type JobRecord struct {
	ID string `json:"id" db:"id"`
	JobKey

	State          JobState   `json:"state"                      db:"state"`
	Priority       int        `json:"priority"                   db:"priority"`
	CreatedAt      time.Time  `json:"created_at"                 db:"created_at"`
	HostName       string     `json:"host_name,omitempty"        db:"host_name"`
	Stage          string     `json:"stage,omitempty"            db:"stage"`
	StageStartedAt *time.Time `json:"stage_started_at,omitempty" db:"stage_started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"     db:"completed_at"`
	Status         *JobStatus `json:"status,omitempty"           db:"status"`

	// Version is the optimistic concurrency token maintained by the coordination store.
	Version   int64     `json:"version"    db:"version"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Key returns the identity of the record.
func (j JobRecord) Key() JobKey {
	return j.JobKey
}

// Clone returns a deep copy so callers can never alias store-owned pointers.
func (j JobRecord) Clone() JobRecord {
	out := j
	if j.StageStartedAt != nil {
		t := *j.StageStartedAt
		out.StageStartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	if j.Status != nil {
		s := *j.Status
		out.Status = &s
	}
	return out
}

// Validate checks the record invariants that hold in every state.
func (j JobRecord) Validate() error {
	if err := j.JobKey.Validate(); err != nil {
		return err
	}
	if !j.State.Valid() {
		return fmt.Errorf("invalid job state: %q", j.State)
	}
	if j.State.Terminal() != (j.CompletedAt != nil) {
		return fmt.Errorf("completed_at must be set if and only if the job is terminal (state %s)", j.State)
	}
	if j.State != JobStateRunning && (j.Stage != "" || j.StageStartedAt != nil) {
		return fmt.Errorf("stage must be empty outside running (state %s)", j.State)
	}
	if j.State == JobStatePending && j.HostName != "" {
		return errors.New("host name must be empty while pending")
	}
	if j.State == JobStateRunning && j.HostName == "" {
		return errors.New("host name is required while running")
	}
	return nil
}

// EnqueueRequest describes a job to add to the pending queue.
type EnqueueRequest struct {
	CaseName   string `json:"case_name"   yaml:"case"`
	DataSource string `json:"data_source" yaml:"data_source"`
	Priority   int    `json:"priority"    yaml:"priority"`
}

// Key returns the job key addressed by the request.
func (r EnqueueRequest) Key() JobKey {
	return JobKey{CaseName: strings.TrimSpace(r.CaseName), DataSource: strings.TrimSpace(r.DataSource)}
}

// Validate validates the EnqueueRequest fields.
func (r EnqueueRequest) Validate() error {
	return r.Key().Validate()
}
