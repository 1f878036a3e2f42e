package model

import (
	"slices"
	"strings"
	"time"
)

// JobsSnapshot is an immutable point-in-time view of every job known to the store.
// Accessors hand out copies; a snapshot is never modified after NewJobsSnapshot returns.
type JobsSnapshot struct {
	takenAt   time.Time
	pending   []JobRecord
	running   []JobRecord
	completed []JobRecord
}

// NewJobsSnapshot partitions and orders records into the three snapshot collections.
func NewJobsSnapshot(records []JobRecord, takenAt time.Time) *JobsSnapshot {
	snap := &JobsSnapshot{takenAt: takenAt}
	for _, rec := range records {
		switch rec.State {
		case JobStatePending:
			snap.pending = append(snap.pending, rec.Clone())
		case JobStateRunning:
			snap.running = append(snap.running, rec.Clone())
		case JobStateCompleted, JobStateFailed:
			snap.completed = append(snap.completed, rec.Clone())
		}
	}

	slices.SortFunc(snap.pending, ComparePending)
	slices.SortFunc(snap.running, compareRunning)
	slices.SortFunc(snap.completed, compareCompleted)
	return snap
}

// ComparePending orders pending jobs by priority desc, then createdAt asc, then key.
// It is the dispatch order used by the priority queue as well.
func ComparePending(a, b JobRecord) int {
	switch {
	case a.Priority != b.Priority:
		if a.Priority > b.Priority {
			return -1
		}
		return 1
	case !a.CreatedAt.Equal(b.CreatedAt):
		return a.CreatedAt.Compare(b.CreatedAt)
	default:
		return compareKeys(a.JobKey, b.JobKey)
	}
}

func compareRunning(a, b JobRecord) int {
	switch {
	case a.HostName != b.HostName:
		return strings.Compare(a.HostName, b.HostName)
	case a.Stage != b.Stage:
		return strings.Compare(a.Stage, b.Stage)
	default:
		return compareKeys(a.JobKey, b.JobKey)
	}
}

func compareCompleted(a, b JobRecord) int {
	at, bt := derefTime(a.CompletedAt), derefTime(b.CompletedAt)
	if !at.Equal(bt) {
		return bt.Compare(at)
	}
	return compareKeys(a.JobKey, b.JobKey)
}

func compareKeys(a, b JobKey) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	default:
		return 0
	}
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// TakenAt returns when the snapshot was assembled.
func (s *JobsSnapshot) TakenAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.takenAt
}

// Pending returns pending jobs in dispatch order.
func (s *JobsSnapshot) Pending() []JobRecord {
	if s == nil {
		return nil
	}
	return cloneRecords(s.pending)
}

// Running returns running jobs ordered by host then stage.
func (s *JobsSnapshot) Running() []JobRecord {
	if s == nil {
		return nil
	}
	return cloneRecords(s.running)
}

// Completed returns terminal jobs, most recently finished first.
func (s *JobsSnapshot) Completed() []JobRecord {
	if s == nil {
		return nil
	}
	return cloneRecords(s.completed)
}

// Len returns the total number of jobs in the snapshot.
func (s *JobsSnapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.pending) + len(s.running) + len(s.completed)
}

// Find looks up a job by key across all three collections.
func (s *JobsSnapshot) Find(key JobKey) (JobRecord, bool) {
	if s == nil {
		return JobRecord{}, false
	}
	for _, set := range [][]JobRecord{s.pending, s.running, s.completed} {
		for _, rec := range set {
			if rec.JobKey == key {
				return rec.Clone(), true
			}
		}
	}
	return JobRecord{}, false
}

// SnapshotView is the serialisable form of a snapshot.
type SnapshotView struct {
	TakenAt   time.Time   `json:"taken_at"`
	Pending   []JobRecord `json:"pending"`
	Running   []JobRecord `json:"running"`
	Completed []JobRecord `json:"completed"`
}

// View returns a serialisable copy of the snapshot. Empty collections encode as [].
func (s *JobsSnapshot) View() SnapshotView {
	v := SnapshotView{
		TakenAt:   s.TakenAt(),
		Pending:   s.Pending(),
		Running:   s.Running(),
		Completed: s.Completed(),
	}
	if v.Pending == nil {
		v.Pending = []JobRecord{}
	}
	if v.Running == nil {
		v.Running = []JobRecord{}
	}
	if v.Completed == nil {
		v.Completed = []JobRecord{}
	}
	return v
}

func cloneRecords(in []JobRecord) []JobRecord {
	if len(in) == 0 {
		return nil
	}
	out := make([]JobRecord, len(in))
	for i, rec := range in {
		out[i] = rec.Clone()
	}
	return out
}
