// Package observer renders JobsSnapshots for people: a per-panel view that
// keeps the operator's selection across refreshes, and table rendering for
// terminals.
package observer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/target/mmk-autoingest/internal/domain/model"
)

// Panel names one of the three snapshot collections.
type Panel string

const (
	PanelPending   Panel = "pending"
	PanelRunning   Panel = "running"
	PanelCompleted Panel = "completed"
)

// Panels lists every panel in display order.
var Panels = []Panel{PanelPending, PanelRunning, PanelCompleted}

// Title returns the heading shown above the panel.
func (p Panel) Title() string {
	switch p {
	case PanelPending:
		return "Pending Jobs"
	case PanelRunning:
		return "Running Jobs"
	case PanelCompleted:
		return "Completed Jobs"
	default:
		return string(p)
	}
}

// Records returns the panel's collection from snap.
func (p Panel) Records(snap *model.JobsSnapshot) []model.JobRecord {
	switch p {
	case PanelPending:
		return snap.Pending()
	case PanelRunning:
		return snap.Running()
	case PanelCompleted:
		return snap.Completed()
	default:
		return nil
	}
}

// Waiting is shown in place of rows until the first snapshot arrives.
const Waiting = "Please wait..."

// ErrNotInPanel is returned when selecting a job the panel does not show.
var ErrNotInPanel = errors.New("job not in panel")

// JobsView is one panel's rendering state. Each Refresh wholly replaces the
// previous snapshot; the selection survives when the selected job is still in
// this panel. Safe for concurrent use.
type JobsView struct {
	panel Panel

	mu         sync.Mutex
	snapshot   *model.JobsSnapshot
	rows       []model.JobRecord
	selected   *model.JobKey
	stale      bool
	staleSince time.Time
	staleCause string
}

// NewJobsView creates an empty view for panel.
func NewJobsView(panel Panel) *JobsView {
	return &JobsView{panel: panel}
}

// Panel returns the panel this view shows.
func (v *JobsView) Panel() Panel {
	return v.panel
}

// Refresh replaces the view's snapshot. A nil snapshot is ignored.
func (v *JobsView) Refresh(snap *model.JobsSnapshot) {
	if snap == nil {
		return
	}
	rows := v.panel.Records(snap)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.snapshot = snap
	v.rows = rows
	if v.selected != nil && indexOf(rows, *v.selected) < 0 {
		v.selected = nil
	}
}

// Ready reports whether a snapshot has been received.
func (v *JobsView) Ready() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshot != nil
}

// Snapshot returns the snapshot currently shown.
func (v *JobsView) Snapshot() *model.JobsSnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshot
}

// Rows returns the panel's records in display order.
func (v *JobsView) Rows() []model.JobRecord {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]model.JobRecord, len(v.rows))
	for i, rec := range v.rows {
		out[i] = rec.Clone()
	}
	return out
}

// Select marks key as the selected job.
func (v *JobsView) Select(key model.JobKey) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if indexOf(v.rows, key) < 0 {
		return fmt.Errorf("%w: %s", ErrNotInPanel, key)
	}
	v.selected = &key
	return nil
}

// Selected returns the selected job as it appears in the current snapshot.
func (v *JobsView) Selected() (model.JobRecord, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.selected == nil {
		return model.JobRecord{}, false
	}
	i := indexOf(v.rows, *v.selected)
	if i < 0 {
		return model.JobRecord{}, false
	}
	return v.rows[i].Clone(), true
}

// SetStale flags the view as showing data the monitor could not refresh.
// cause is shown next to the indicator; since records when it began.
func (v *JobsView) SetStale(stale bool, since time.Time, cause string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stale = stale
	if !stale {
		v.staleSince = time.Time{}
		v.staleCause = ""
		return
	}
	if v.staleSince.IsZero() || since.Before(v.staleSince) {
		v.staleSince = since
	}
	v.staleCause = cause
}

// Stale reports the stale indicator and when it started.
func (v *JobsView) Stale() (bool, time.Time, string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stale, v.staleSince, v.staleCause
}

func indexOf(rows []model.JobRecord, key model.JobKey) int {
	for i, rec := range rows {
		if rec.JobKey == key {
			return i
		}
	}
	return -1
}
