package cli

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/trendreview/trendreview/internal/dataset"
	"github.com/trendreview/trendreview/internal/events"
	"github.com/trendreview/trendreview/internal/models"
	"github.com/trendreview/trendreview/internal/progress"
	"github.com/trendreview/trendreview/internal/results"
	"github.com/trendreview/trendreview/internal/workflow"
)

const maxCellWidth = 24

// renderSnapshot prints up to limit body rows of snap as a padded table.
// When selected is non-nil a selection column is added.
func renderSnapshot(w io.Writer, snap *dataset.Snapshot, limit int, selected []int) {
	if snap == nil {
		fmt.Fprintln(w, "(no data)")
		return
	}
	header := snap.Header()
	rows := snap.Rows()
	shown := len(rows)
	if limit > 0 && shown > limit {
		shown = limit
	}

	marks := make(map[int]bool, len(selected))
	for _, i := range selected {
		marks[i] = true
	}

	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = cellWidth(h)
	}
	for _, row := range rows[:shown] {
		for i, cell := range row {
			if i < len(widths) && cellWidth(cell) > widths[i] {
				widths[i] = cellWidth(cell)
			}
		}
	}

	line := func(prefix string, cells []string) {
		var b strings.Builder
		b.WriteString(prefix)
		for i, cell := range cells {
			width := 0
			if i < len(widths) {
				width = widths[i]
			}
			fmt.Fprintf(&b, " %-*s", width, truncateCell(cell))
		}
		fmt.Fprintln(w, strings.TrimRight(b.String(), " "))
	}

	prefix := func(i int) string {
		if selected == nil {
			return fmt.Sprintf("%4d", i)
		}
		mark := "[ ]"
		if marks[i] {
			mark = "[x]"
		}
		return fmt.Sprintf("%s %4d", mark, i)
	}

	headPrefix := "   #"
	if selected != nil {
		headPrefix = "       #"
	}
	line(headPrefix, header)
	for i, row := range rows[:shown] {
		line(prefix(i), row)
	}

	fmt.Fprintf(w, "%s: %d rows", snap.Name(), len(rows))
	if shown < len(rows) {
		fmt.Fprintf(w, " (showing %d)", shown)
	}
	if bad := snap.MalformedRows(); len(bad) > 0 {
		fmt.Fprintf(w, ", %d malformed", len(bad))
	}
	fmt.Fprintln(w)
}

func cellWidth(s string) int {
	n := utf8.RuneCountInString(s)
	if n > maxCellWidth {
		return maxCellWidth
	}
	return n
}

func truncateCell(s string) string {
	if utf8.RuneCountInString(s) <= maxCellWidth {
		return s
	}
	r := []rune(s)
	return string(r[:maxCellWidth-1]) + "…"
}

// renderResult prints the artifacts of a result grouped by variant.
func renderResult(w io.Writer, res *models.AnalysisResult) {
	if res == nil {
		fmt.Fprintln(w, "(no results)")
		return
	}
	if res.JobID != "" {
		fmt.Fprintf(w, "Results of %s\n", res.JobID)
	}
	for _, v := range []struct {
		name string
		a    models.VariantArtifacts
	}{
		{results.VariantSensitive, res.Sensitive},
		{results.VariantInsensitive, res.Insensitive},
	} {
		if v.a.Empty() {
			fmt.Fprintf(w, "  %-12s (not produced)\n", v.name)
			continue
		}
		fmt.Fprintf(w, "  %s\n", v.name)
		for _, a := range []*models.Artifact{v.a.Visualization, v.a.Analysis, v.a.EnhancedAnalysis} {
			if a != nil {
				fmt.Fprintf(w, "    %-18s %s\n", a.Kind, a.Path)
			}
		}
	}
	for _, a := range []*models.Artifact{res.ComparisonReport, res.DetailedReport, res.SummaryReport} {
		if a != nil {
			fmt.Fprintf(w, "  %-20s %s\n", a.Kind, a.Path)
		}
	}
	if len(res.Unclassified) > 0 {
		fmt.Fprintf(w, "  unclassified: %s\n", strings.Join(res.Unclassified, ", "))
	}
	if res.Summary != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, strings.TrimSpace(res.Summary))
	}
}

// renderAffordances prints the session stage and what can be done next.
func renderAffordances(w io.Writer, a workflow.Affordances) {
	fmt.Fprintf(w, "Stage:     %s\n", a.Stage)
	if a.ProcessedRows > 0 {
		fmt.Fprintf(w, "Processed: %d rows\n", a.ProcessedRows)
	}
	fmt.Fprintf(w, "Selection: %d/%d\n", a.SelectionCount, a.SelectionMax)
	if a.RunningJobID != "" {
		fmt.Fprintf(w, "Running:   %s\n", a.RunningJobID)
	}
	if a.Stage.Terminal() && a.LastJobID != "" {
		fmt.Fprintf(w, "Last job:  %s (%s)\n", a.LastJobID, a.LastOutcome)
	}

	var next []string
	add := func(ok bool, name string) {
		if ok {
			next = append(next, name)
		}
	}
	add(a.CanEdit, "edit")
	add(a.CanProcess, "process")
	add(a.CanToggleRows, "toggle")
	add(a.CanMaterialize, "submit")
	add(a.CanStartAnalysis, "start")
	add(a.CanDownloadResults || a.ProcessResultsExists, "download")
	if len(next) == 0 {
		next = append(next, "load")
	}
	fmt.Fprintf(w, "Available: %s\n", strings.Join(next, ", "))
}

// followProgress renders analysis progress events on rep until the returned
// stop function is called.
func followProgress(bus *events.EventBus, rep progress.Reporter, maxAttempts int) func() {
	ch := bus.Subscribe(events.EventProgress)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		started := false
		defer func() {
			if started {
				rep.Finish()
			}
		}()
		for {
			var ev events.Event
			var ok bool
			select {
			case <-stop:
				return
			case ev, ok = <-ch:
				if !ok {
					return
				}
			}
			pe, isProgress := ev.(*events.ProgressEvent)
			if !isProgress {
				continue
			}
			if !started {
				rep.Start(int64(maxAttempts), "analysis "+pe.JobID)
				started = true
			}
			rep.Update(int64(pe.Attempt))
			desc := fmt.Sprintf("analysis %s: %s", pe.JobID, pe.Status)
			if pe.Status == "" {
				desc = fmt.Sprintf("analysis %s: status unavailable (%d/%d)", pe.JobID, pe.Errors, pe.MaxErrors)
			}
			rep.SetDescription(desc)
		}
	}()
	return func() {
		bus.Unsubscribe(events.EventProgress, ch)
		close(stop)
		<-done
	}
}
