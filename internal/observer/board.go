package observer

import (
	"time"

	"github.com/target/mmk-autoingest/internal/domain/model"
)

// Board groups one view per panel so a snapshot refreshes all three together.
type Board struct {
	Pending   *JobsView
	Running   *JobsView
	Completed *JobsView
}

// NewBoard returns a board with empty views.
func NewBoard() *Board {
	return &Board{
		Pending:   NewJobsView(PanelPending),
		Running:   NewJobsView(PanelRunning),
		Completed: NewJobsView(PanelCompleted),
	}
}

// Views returns the views in display order.
func (b *Board) Views() []*JobsView {
	return []*JobsView{b.Pending, b.Running, b.Completed}
}

// View returns the view for panel, or nil.
func (b *Board) View(panel Panel) *JobsView {
	for _, v := range b.Views() {
		if v.Panel() == panel {
			return v
		}
	}
	return nil
}

// Refresh hands snap to every view.
func (b *Board) Refresh(snap *model.JobsSnapshot) {
	for _, v := range b.Views() {
		v.Refresh(snap)
	}
}

// SetHealth marks every view stale while the monitor reports a degraded store.
func (b *Board) SetHealth(degraded bool, since time.Time, cause string) {
	for _, v := range b.Views() {
		v.SetStale(degraded, since, cause)
	}
}
