package observer

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/target/mmk-autoingest/internal/domain/model"
	"github.com/target/mmk-autoingest/internal/util"
)

// Columns returns the column headers for panel.
func Columns(panel Panel) []string {
	switch panel {
	case PanelPending:
		return []string{"Case", "Data Source", "Created", "Priority"}
	case PanelRunning:
		return []string{"Case", "Data Source", "Host", "Stage", "Stage Time"}
	case PanelCompleted:
		return []string{"Case", "Data Source", "Created", "Completed", "Status"}
	default:
		return []string{"Case", "Data Source"}
	}
}

// Cells formats rec for panel's columns; now drives the stage time column.
func Cells(panel Panel, rec model.JobRecord, now time.Time) []string {
	switch panel {
	case PanelPending:
		return []string{rec.CaseName, rec.DataSource, util.FormatTimestamp(&rec.CreatedAt), strconv.Itoa(rec.Priority)}
	case PanelRunning:
		elapsed := ""
		if rec.StageStartedAt != nil {
			elapsed = util.FormatElapsed(now.Sub(*rec.StageStartedAt))
		}
		return []string{rec.CaseName, rec.DataSource, rec.HostName, rec.Stage, elapsed}
	case PanelCompleted:
		status := ""
		if rec.Status != nil {
			status = rec.Status.String()
		}
		return []string{rec.CaseName, rec.DataSource, util.FormatTimestamp(&rec.CreatedAt), util.FormatTimestamp(rec.CompletedAt), status}
	default:
		return []string{rec.CaseName, rec.DataSource}
	}
}

// Renderer draws views as terminal tables.
type Renderer struct {
	out      io.Writer
	colorize bool
	now      func() time.Time
}

// NewRenderer returns a renderer writing to out. Colour is used only when out
// is a terminal.
func NewRenderer(out io.Writer) *Renderer {
	return &Renderer{out: out, colorize: ShouldColorize(out), now: time.Now}
}

// ShouldColorize reports whether w is a terminal.
func ShouldColorize(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Render writes every view, separated by blank lines.
func (r *Renderer) Render(views ...*JobsView) error {
	parts := make([]string, 0, len(views))
	for _, v := range views {
		parts = append(parts, r.RenderPanel(v))
	}
	_, err := io.WriteString(r.out, strings.Join(parts, "\n\n")+"\n")
	return err
}

// RenderPanel returns one view as a table. The selected row is marked with
// a leading ">".
func (r *Renderer) RenderPanel(v *JobsView) string {
	panel := v.Panel()
	headers := Columns(panel)

	tw := table.NewWriter()
	if r.colorize {
		tw.SetStyle(table.StyleRounded)
	} else {
		tw.SetStyle(table.StyleLight)
		tw.Style().Format.Header = text.FormatDefault
	}

	title := panel.Title()
	stale, since, cause := v.Stale()
	if stale {
		title += " " + r.paint(text.FgYellow, fmt.Sprintf("(stale since %s: %s)", util.FormatTimestamp(&since), cause))
	}
	tw.SetTitle(title)

	header := table.Row{""}
	for _, h := range headers {
		header = append(header, h)
	}
	tw.AppendHeader(header)

	if !v.Ready() {
		row := make(table.Row, len(header))
		row[1] = Waiting
		tw.AppendRow(row)
		return tw.Render()
	}

	selected, hasSelection := v.Selected()
	now := r.now()
	for _, rec := range v.Rows() {
		marker := ""
		if hasSelection && rec.JobKey == selected.JobKey {
			marker = ">"
		}
		row := table.Row{marker}
		for _, cell := range Cells(panel, rec, now) {
			row = append(row, cell)
		}
		tw.AppendRow(row)
	}

	configs := make([]table.ColumnConfig, 0, len(header))
	for i, h := range header {
		align := text.AlignLeft
		if h == "Priority" {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

func (r *Renderer) paint(color text.Color, s string) string {
	if !r.colorize {
		return s
	}
	return color.Sprint(s)
}
