package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

const barWidth = 20

// ProgressDisplay keeps a single redrawn status line for the dataset
// being downloaded. It is meant for terminals where console logging is
// switched off.
type ProgressDisplay struct {
	mu         sync.Mutex
	out        io.Writer
	theme      Theme
	dataset    int
	total      int
	done       int
	skipped    int
	failed     int
	bytes      int64
	startTime  time.Time
	lineLength int
	now        func() time.Time
}

// NewProgressDisplay returns a display drawing on the printer's stream.
func NewProgressDisplay(p *Printer) *ProgressDisplay {
	return &ProgressDisplay{
		out:   p.out,
		theme: p.theme,
		now:   time.Now,
	}
}

// DatasetStarted resets the counters for a dataset with the given number
// of links.
func (p *ProgressDisplay) DatasetStarted(dataset, links int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.dataset = dataset
	p.total = links
	p.done, p.skipped, p.failed, p.bytes = 0, 0, 0, 0
	p.startTime = p.now()
	p.draw()
}

// DocumentFinished records one link outcome: downloaded, skipped or failed.
func (p *ProgressDisplay) DocumentFinished(outcome string, bytes int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done++
	switch outcome {
	case "skipped":
		p.skipped++
	case "failed":
		p.failed++
	}
	p.bytes += bytes
	p.draw()
}

// DatasetFinished ends the status line.
func (p *ProgressDisplay) DatasetFinished(dataset int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lineLength > 0 {
		fmt.Fprintln(p.out)
		p.lineLength = 0
	}
}

func (p *ProgressDisplay) line() string {
	filled := 0
	if p.total > 0 {
		filled = p.done * barWidth / p.total
	}
	if filled > barWidth {
		filled = barWidth
	}
	bar := strings.Repeat("━", filled) + strings.Repeat("─", barWidth-filled)

	line := fmt.Sprintf("%s [%s] %d/%d • %s • %s",
		p.theme.Label.Render(fmt.Sprintf("DataSet %02d", p.dataset)),
		bar,
		p.done,
		p.total,
		FormatBytes(p.bytes),
		p.eta(),
	)
	if p.skipped > 0 {
		line += " • " + p.theme.Dim.Render(fmt.Sprintf("%d skipped", p.skipped))
	}
	if p.failed > 0 {
		line += " • " + p.theme.Error.Render(fmt.Sprintf("%d failed", p.failed))
	}
	return line
}

func (p *ProgressDisplay) draw() {
	line := p.line()
	pad := p.lineLength - len(line)
	if pad < 0 {
		pad = 0
	}
	fmt.Fprintf(p.out, "\r%s%s", line, strings.Repeat(" ", pad))
	p.lineLength = len(line)
}

func (p *ProgressDisplay) eta() string {
	fetched := p.done - p.skipped
	if fetched <= 0 || p.done >= p.total {
		return "--"
	}
	elapsed := p.now().Sub(p.startTime)
	perItem := elapsed / time.Duration(fetched)
	return FormatDuration(perItem * time.Duration(p.total-p.done))
}
