package ui

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"docharvest/pkg/journal"
)

// Summary is the end-of-run tally shown to the operator.
type Summary struct {
	RunID          string
	Links          int
	Downloaded     int
	Skipped        int
	Failed         int
	FailedByKind   map[string]int
	FailedDatasets []int
	Bytes          int64
	Elapsed        time.Duration
}

// Summary prints the run tally.
func (p *Printer) Summary(s Summary) {
	fmt.Fprintln(p.out)
	if s.Failed == 0 && len(s.FailedDatasets) == 0 {
		p.Success(fmt.Sprintf("Done. %d links, %d downloaded, %d already present", s.Links, s.Downloaded, s.Skipped))
	} else {
		p.Warning(fmt.Sprintf("Done with problems. %d links, %d downloaded, %d already present, %d failed",
			s.Links, s.Downloaded, s.Skipped, s.Failed))
	}

	bullet := p.theme.Dim.Render("  •")
	fmt.Fprintf(p.out, "%s %s in %s\n", bullet, FormatBytes(s.Bytes), FormatDuration(s.Elapsed))

	kinds := make([]string, 0, len(s.FailedByKind))
	for kind := range s.FailedByKind {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		fmt.Fprintf(p.out, "%s %s: %d\n", bullet, kind, s.FailedByKind[kind])
	}

	if len(s.FailedDatasets) > 0 {
		ids := make([]string, len(s.FailedDatasets))
		for i, n := range s.FailedDatasets {
			ids[i] = strconv.Itoa(n)
		}
		fmt.Fprintf(p.out, "%s %s\n", bullet, p.theme.Error.Render("incomplete datasets: "+strings.Join(ids, ", ")))
	}
	if s.RunID != "" {
		fmt.Fprintf(p.out, "%s run %s\n", bullet, p.theme.Dim.Render(s.RunID))
	}
}

// Status prints journal progress per dataset, the latest runs and links
// whose last attempt failed.
func (p *Printer) Status(stats []journal.DatasetStats, runs []journal.Run, failures []journal.Failure) {
	if len(stats) == 0 && len(runs) == 0 {
		p.Warning("journal is empty; run a harvest first")
		return
	}

	if len(stats) > 0 {
		rows := make([][]string, 0, len(stats))
		for _, s := range stats {
			rows = append(rows, []string{
				fmt.Sprintf("%02d", s.Dataset),
				strconv.Itoa(s.Links),
				strconv.Itoa(s.Complete),
				strconv.Itoa(s.Failed),
				strconv.Itoa(s.Pending()),
				FormatBytes(s.Bytes),
			})
		}
		fmt.Fprintln(p.out, p.theme.Title.Render("Datasets"))
		fmt.Fprintln(p.out, p.table([]string{"DataSet", "Links", "Complete", "Failed", "Pending", "Size"}, rows))
	}

	if len(runs) > 0 {
		rows := make([][]string, 0, len(runs))
		for _, r := range runs {
			finished := "-"
			if !r.FinishedAt.IsZero() {
				finished = FormatDuration(r.FinishedAt.Sub(r.StartedAt))
			}
			rows = append(rows, []string{
				r.ID,
				r.StartedAt.Local().Format("2006-01-02 15:04"),
				fmt.Sprintf("%d-%d", r.DatasetStart, r.DatasetEnd),
				r.Status,
				finished,
			})
		}
		fmt.Fprintln(p.out, p.theme.Title.Render("Runs"))
		fmt.Fprintln(p.out, p.table([]string{"Run", "Started", "Datasets", "Status", "Took"}, rows))
	}

	if len(failures) > 0 {
		rows := make([][]string, 0, len(failures))
		for _, f := range failures {
			rows = append(rows, []string{
				fmt.Sprintf("%02d", f.Dataset),
				f.URL,
				f.Kind,
				strconv.Itoa(f.Attempts),
			})
		}
		fmt.Fprintln(p.out, p.theme.Title.Render("Failed links"))
		fmt.Fprintln(p.out, p.table([]string{"DataSet", "URL", "Kind", "Attempts"}, rows))
	}
}

func (p *Printer) table(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(p.theme.Border).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return p.theme.Header
			}
			return p.theme.Cell
		}).
		String()
}
