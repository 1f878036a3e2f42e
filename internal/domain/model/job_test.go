package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobState_Valid(t *testing.T) {
	assert.True(t, JobStatePending.Valid())
	assert.True(t, JobStateRunning.Valid())
	assert.True(t, JobStateCompleted.Valid())
	assert.True(t, JobStateFailed.Valid())
	assert.False(t, JobState("paused").Valid())
}

func TestJobState_Terminal(t *testing.T) {
	assert.False(t, JobStatePending.Terminal())
	assert.False(t, JobStateRunning.Terminal())
	assert.True(t, JobStateCompleted.Terminal())
	assert.True(t, JobStateFailed.Terminal())
}

func TestJobState_UnmarshalText(t *testing.T) {
	var s JobState
	require.NoError(t, s.UnmarshalText([]byte(" Running ")))
	assert.Equal(t, JobStateRunning, s)

	err := s.UnmarshalText([]byte("bogus"))
	require.Error(t, err)
	assert.Equal(t, JobStateRunning, s, "failed parse must not overwrite the value")
}

func TestJobKey_Validate(t *testing.T) {
	tests := []struct {
		name    string
		key     JobKey
		wantErr string
	}{
		{name: "valid", key: JobKey{CaseName: "case-1", DataSource: "disk.e01"}},
		{name: "missing case", key: JobKey{DataSource: "disk.e01"}, wantErr: "case name"},
		{name: "blank data source", key: JobKey{CaseName: "case-1", DataSource: "  "}, wantErr: "data source"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.key.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestJobRecord_Clone_DoesNotAlias(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	status := Succeeded("done")
	rec := JobRecord{
		JobKey:      JobKey{CaseName: "c", DataSource: "d"},
		State:       JobStateCompleted,
		CompletedAt: &now,
		Status:      &status,
	}

	clone := rec.Clone()
	*clone.CompletedAt = now.Add(time.Hour)
	clone.Status.Message = "changed"

	assert.Equal(t, now, *rec.CompletedAt)
	assert.Equal(t, "done", rec.Status.Message)
}

func TestJobRecord_Validate(t *testing.T) {
	now := time.Now()
	key := JobKey{CaseName: "c", DataSource: "d"}

	tests := []struct {
		name    string
		rec     JobRecord
		wantErr bool
	}{
		{name: "pending", rec: JobRecord{JobKey: key, State: JobStatePending}},
		{name: "pending with host", rec: JobRecord{JobKey: key, State: JobStatePending, HostName: "h"}, wantErr: true},
		{name: "running", rec: JobRecord{JobKey: key, State: JobStateRunning, HostName: "h", Stage: "x", StageStartedAt: &now}},
		{name: "running without host", rec: JobRecord{JobKey: key, State: JobStateRunning}, wantErr: true},
		{name: "completed without completed_at", rec: JobRecord{JobKey: key, State: JobStateCompleted}, wantErr: true},
		{name: "failed keeps stage", rec: JobRecord{JobKey: key, State: JobStateFailed, CompletedAt: &now, Stage: "x"}, wantErr: true},
		{name: "pending with completed_at", rec: JobRecord{JobKey: key, State: JobStatePending, CompletedAt: &now}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rec.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestJobRecord_JSONFlattensKey(t *testing.T) {
	rec := JobRecord{
		ID:     "id-1",
		JobKey: JobKey{CaseName: "case", DataSource: "src"},
		State:  JobStatePending,
	}

	raw, err := json.Marshal(rec)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, "case", fields["case_name"])
	assert.Equal(t, "src", fields["data_source"])
	assert.NotContains(t, fields, "stage")
}

func TestEnqueueRequest_KeyTrimsWhitespace(t *testing.T) {
	req := EnqueueRequest{CaseName: " case ", DataSource: "src\n", Priority: 3}
	assert.Equal(t, JobKey{CaseName: "case", DataSource: "src"}, req.Key())
	assert.NoError(t, req.Validate())
	assert.Error(t, EnqueueRequest{CaseName: "case"}.Validate())
}

func TestJobStatus(t *testing.T) {
	assert.True(t, Cancelled("").IsCancellation())
	assert.Equal(t, "cancelled by operator", Cancelled("").Message)
	assert.False(t, Errored("boom").IsCancellation())
	assert.Equal(t, "errored: boom", Errored("boom").String())
	assert.Equal(t, "succeeded", Succeeded("").String())

	custom := JobStatus{Kind: "disk_full", Message: "no space"}
	assert.NoError(t, custom.Validate())
	assert.Error(t, JobStatus{}.Validate())
}
