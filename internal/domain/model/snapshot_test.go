package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotFixture(base time.Time) []JobRecord {
	at := func(d time.Duration) *time.Time {
		t := base.Add(d)
		return &t
	}
	ok := Succeeded("")
	return []JobRecord{
		{JobKey: JobKey{CaseName: "a", DataSource: "1"}, State: JobStatePending, Priority: 1, CreatedAt: base},
		{JobKey: JobKey{CaseName: "b", DataSource: "1"}, State: JobStatePending, Priority: 10, CreatedAt: base.Add(2 * time.Second)},
		{JobKey: JobKey{CaseName: "c", DataSource: "1"}, State: JobStatePending, Priority: 10, CreatedAt: base.Add(time.Second)},
		{JobKey: JobKey{CaseName: "d", DataSource: "1"}, State: JobStateRunning, HostName: "node-b", Stage: "indexing", StageStartedAt: at(0)},
		{JobKey: JobKey{CaseName: "e", DataSource: "1"}, State: JobStateRunning, HostName: "node-a", Stage: "indexing", StageStartedAt: at(0)},
		{JobKey: JobKey{CaseName: "f", DataSource: "1"}, State: JobStateRunning, HostName: "node-a", Stage: "extracting", StageStartedAt: at(0)},
		{JobKey: JobKey{CaseName: "g", DataSource: "1"}, State: JobStateCompleted, CompletedAt: at(time.Minute), Status: &ok},
		{JobKey: JobKey{CaseName: "h", DataSource: "1"}, State: JobStateFailed, CompletedAt: at(2 * time.Minute), Status: &ok},
	}
}

func keysOf(recs []JobRecord) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.CaseName)
	}
	return out
}

func TestNewJobsSnapshot_Ordering(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	snap := NewJobsSnapshot(snapshotFixture(base), base.Add(time.Hour))

	assert.Equal(t, []string{"c", "b", "a"}, keysOf(snap.Pending()))
	assert.Equal(t, []string{"f", "e", "d"}, keysOf(snap.Running()))
	assert.Equal(t, []string{"h", "g"}, keysOf(snap.Completed()))
	assert.Equal(t, 8, snap.Len())
	assert.Equal(t, base.Add(time.Hour), snap.TakenAt())
}

func TestJobsSnapshot_IsImmutable(t *testing.T) {
	base := time.Now().UTC()
	records := snapshotFixture(base)
	snap := NewJobsSnapshot(records, base)

	records[0].Priority = 99
	pending := snap.Pending()
	pending[0].Priority = -5
	*snap.Running()[0].StageStartedAt = base.Add(time.Hour)

	again := snap.Pending()
	assert.Equal(t, 10, again[0].Priority)
	assert.Equal(t, 1, again[2].Priority)
	assert.Equal(t, base, *snap.Running()[0].StageStartedAt)
}

func TestJobsSnapshot_Find(t *testing.T) {
	base := time.Now().UTC()
	snap := NewJobsSnapshot(snapshotFixture(base), base)

	rec, ok := snap.Find(JobKey{CaseName: "e", DataSource: "1"})
	require.True(t, ok)
	assert.Equal(t, "node-a", rec.HostName)

	_, ok = snap.Find(JobKey{CaseName: "zzz", DataSource: "1"})
	assert.False(t, ok)
}

func TestJobsSnapshot_NilSafe(t *testing.T) {
	var snap *JobsSnapshot
	assert.Nil(t, snap.Pending())
	assert.Zero(t, snap.Len())
	view := snap.View()
	assert.NotNil(t, view.Pending)
	assert.Empty(t, view.Completed)
}

func TestComparePending_TieBreaksOnKey(t *testing.T) {
	now := time.Now()
	a := JobRecord{JobKey: JobKey{CaseName: "a", DataSource: "x"}, Priority: 1, CreatedAt: now}
	b := JobRecord{JobKey: JobKey{CaseName: "b", DataSource: "x"}, Priority: 1, CreatedAt: now}
	assert.Negative(t, ComparePending(a, b))
	assert.Positive(t, ComparePending(b, a))
	assert.Zero(t, ComparePending(a, a))
}
