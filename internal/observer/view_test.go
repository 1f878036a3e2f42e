package observer

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/mmk-autoingest/internal/domain/model"
	"github.com/target/mmk-autoingest/internal/testutil"
)

func key(c string) model.JobKey {
	return model.JobKey{CaseName: c, DataSource: "disk.e01"}
}

func fixtureSnapshot(pendingCases ...string) *model.JobsSnapshot {
	base := testutil.TestTime()
	recs := make([]model.JobRecord, 0, len(pendingCases)+2)
	for i, c := range pendingCases {
		recs = append(recs, testutil.NewJob(c, "disk.e01").CreatedAt(base.Add(time.Duration(i)*time.Second)).Build())
	}
	recs = append(recs,
		testutil.NewJob("run-1", "disk.e01").Running("node-a", "analysis", base).Build(),
		testutil.NewJob("done-1", "disk.e01").Terminal(model.JobStateFailed, model.Errored("bad image"), base.Add(time.Minute)).Build(),
	)
	return model.NewJobsSnapshot(recs, base)
}

func TestJobsView_RefreshPreservesSelection(t *testing.T) {
	v := NewJobsView(PanelPending)
	assert.False(t, v.Ready())
	require.ErrorIs(t, v.Select(key("a")), ErrNotInPanel)

	v.Refresh(fixtureSnapshot("a", "b", "c"))
	require.True(t, v.Ready())
	require.NoError(t, v.Select(key("b")))

	v.Refresh(fixtureSnapshot("b", "c"))
	sel, ok := v.Selected()
	require.True(t, ok)
	assert.Equal(t, "b", sel.CaseName)

	v.Refresh(fixtureSnapshot("c"))
	_, ok = v.Selected()
	assert.False(t, ok, "selection is dropped once the job leaves the panel")

	// A job that comes back later is not re-selected.
	v.Refresh(fixtureSnapshot("b", "c"))
	_, ok = v.Selected()
	assert.False(t, ok)
}

func TestJobsView_NilRefreshIgnored(t *testing.T) {
	v := NewJobsView(PanelRunning)
	snap := fixtureSnapshot("a")
	v.Refresh(snap)
	v.Refresh(nil)
	assert.Same(t, snap, v.Snapshot())
	require.Len(t, v.Rows(), 1)
	assert.Equal(t, "run-1", v.Rows()[0].CaseName)
}

func TestJobsView_Stale(t *testing.T) {
	v := NewJobsView(PanelCompleted)
	first := testutil.TestTime()

	v.SetStale(true, first, "store unavailable")
	v.SetStale(true, first.Add(time.Minute), "store unavailable")
	stale, since, cause := v.Stale()
	assert.True(t, stale)
	assert.Equal(t, first, since, "stale start is the earliest report")
	assert.Equal(t, "store unavailable", cause)

	v.SetStale(false, time.Time{}, "")
	stale, since, _ = v.Stale()
	assert.False(t, stale)
	assert.True(t, since.IsZero())
}

func TestBoard(t *testing.T) {
	b := NewBoard()
	b.Refresh(fixtureSnapshot("a", "b"))

	assert.Len(t, b.Pending.Rows(), 2)
	assert.Len(t, b.Running.Rows(), 1)
	assert.Len(t, b.Completed.Rows(), 1)
	assert.Same(t, b.Running, b.View(PanelRunning))
	assert.Nil(t, b.View(Panel("bogus")))

	b.SetHealth(true, testutil.TestTime(), "down")
	for _, v := range b.Views() {
		stale, _, _ := v.Stale()
		assert.True(t, stale)
	}
}

func TestCells(t *testing.T) {
	snap := fixtureSnapshot("a")
	now := testutil.TestTime().Add(90 * time.Second)

	running := Cells(PanelRunning, snap.Running()[0], now)
	assert.Equal(t, []string{"run-1", "disk.e01", "node-a", "analysis", "1m30s"}, running)

	completed := Cells(PanelCompleted, snap.Completed()[0], now)
	assert.Len(t, completed, len(Columns(PanelCompleted)))
	assert.Equal(t, "errored: bad image", completed[4])

	pending := Cells(PanelPending, snap.Pending()[0], now)
	assert.Equal(t, "0", pending[3])
}

func TestRenderer(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf)
	assert.False(t, r.colorize)

	b := NewBoard()
	out := r.RenderPanel(b.Pending)
	assert.Contains(t, out, Waiting)
	assert.Contains(t, strings.ToLower(out), "pending jobs")

	b.Refresh(fixtureSnapshot("a", "b"))
	require.NoError(t, b.Pending.Select(key("b")))
	b.SetHealth(true, testutil.TestTime(), "store unavailable")

	require.NoError(t, r.Render(b.Views()...))
	got := buf.String()
	assert.NotContains(t, got, Waiting)
	assert.Contains(t, strings.ToLower(got), "stale since")
	assert.Contains(t, got, "node-a")
	assert.Contains(t, got, "errored: bad image")

	var selectedLine string
	for line := range strings.SplitSeq(got, "\n") {
		if strings.Contains(line, ">") {
			selectedLine = line
		}
	}
	assert.Contains(t, selectedLine, " b ")
}
