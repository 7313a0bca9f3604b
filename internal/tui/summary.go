package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/tagbatch/tagbatch/internal/persistence"
	"github.com/tagbatch/tagbatch/internal/scheduler"
	"github.com/tagbatch/tagbatch/internal/tagfile"
)

// Summary renders the outcome of a batch: one headline, the status counts and
// the failure log.
func Summary(headline string, snaps []scheduler.Snapshot) string {
	var ok, failed, waiting int
	var log []string
	for _, s := range snaps {
		switch s.Status {
		case scheduler.TaskOK:
			ok++
		case scheduler.TaskError:
			failed++
			log = append(log, fmt.Sprintf("  %s: %s", s.Message, s.Err))
		default:
			waiting++
		}
	}

	var b strings.Builder
	style := StyleStatusComplete
	if failed > 0 || waiting > 0 {
		style = StyleStatusFailed
	}
	b.WriteString(style.Render(headline))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("%s  %s  %s\n",
		StyleStatusComplete.Render(fmt.Sprintf("ok %d", ok)),
		StyleStatusFailed.Render(fmt.Sprintf("failed %d", failed)),
		StyleStatusPending.Render(fmt.Sprintf("not run %d", waiting)),
	))
	if len(log) > 0 {
		b.WriteString(StyleTitle.Render("Failures"))
		b.WriteString("\n")
		b.WriteString(strings.Join(log, "\n"))
		b.WriteString("\n")
	}
	return b.String()
}

// TrackTable renders tracks as a table, one row per file.
func TrackTable(tracks []*tagfile.Track) string {
	rows := make([][]string, 0, len(tracks))
	for _, t := range tracks {
		rows = append(rows, []string{t.Name(), t.Track, t.Title, t.Artist, t.Album, t.Year, t.Genre, t.CoverMIME})
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(StyleTableBorder).
		Headers("File", "#", "Title", "Artist", "Album", "Year", "Genre", "Cover").
		Rows(rows...).
		String()
}

// HistoryTable renders logged batches, newest first as given.
func HistoryTable(batches []*persistence.Batch) string {
	rows := make([][]string, 0, len(batches))
	for _, b := range batches {
		finished := "running"
		if !b.FinishedAt.IsZero() {
			finished = b.FinishedAt.Sub(b.StartedAt).Round(time.Millisecond).String()
		}
		if b.Cancelled {
			finished += " (cancelled)"
		}
		rows = append(rows, []string{
			b.ID,
			b.StartedAt.Local().Format("2006-01-02 15:04:05"),
			b.Kind,
			b.Dir,
			fmt.Sprintf("%d/%d", b.OK, b.Total),
			fmt.Sprintf("%d", b.Failed),
			finished,
		})
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(StyleTableBorder).
		Headers("ID", "Started", "Kind", "Directory", "OK", "Failed", "Took").
		Rows(rows...).
		String()
}

// FailureList renders the failure log of one batch.
func FailureList(failures []persistence.TaskResult) string {
	if len(failures) == 0 {
		return StyleStatusComplete.Render("no failures") + "\n"
	}
	var b strings.Builder
	for _, f := range failures {
		b.WriteString(fmt.Sprintf("%s %s\n", StyleStatusFailed.Render(f.Path+":"), f.Err))
	}
	return b.String()
}
