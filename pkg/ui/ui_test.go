package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"docharvest/pkg/journal"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatBytes(tt.in))
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "42s", FormatDuration(42*time.Second))
	assert.Equal(t, "3m7s", FormatDuration(3*time.Minute+7*time.Second))
	assert.Equal(t, "2h15m", FormatDuration(2*time.Hour+15*time.Minute))
}

func TestPrinterWithoutColor(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, false)

	p.Info("Output", "./out")
	p.Success("saved")
	p.Warning("slow")
	p.Error("failed", errors.New("boom"))

	out := buf.String()
	assert.NotContains(t, out, "\x1b[")
	assert.Contains(t, out, "Output: ./out")
	assert.Contains(t, out, "✓ saved")
	assert.Contains(t, out, "⚠ slow")
	assert.Contains(t, out, "✗ failed: boom")
}

func TestSummary(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, false)

	p.Summary(Summary{
		RunID:          "run-1",
		Links:          10,
		Downloaded:     6,
		Skipped:        2,
		Failed:         2,
		FailedByKind:   map[string]int{"unauthorized": 1, "transient": 1},
		FailedDatasets: []int{3, 7},
		Bytes:          2048,
		Elapsed:        90 * time.Second,
	})

	out := buf.String()
	assert.Contains(t, out, "Done with problems. 10 links, 6 downloaded, 2 already present, 2 failed")
	assert.Contains(t, out, "2.0 KB in 1m30s")
	assert.Less(t, strings.Index(out, "transient: 1"), strings.Index(out, "unauthorized: 1"))
	assert.Contains(t, out, "incomplete datasets: 3, 7")
	assert.Contains(t, out, "run run-1")
}

func TestSummaryClean(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, false).Summary(Summary{Links: 3, Downloaded: 3})
	assert.Contains(t, buf.String(), "✓ Done. 3 links, 3 downloaded, 0 already present")
}

func TestStatus(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, false)

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	p.Status(
		[]journal.DatasetStats{{Dataset: 1, Links: 4, Complete: 3, Failed: 1, Bytes: 4096}},
		[]journal.Run{{ID: "abc", StartedAt: started, FinishedAt: started.Add(5 * time.Minute), Status: "completed", DatasetStart: 1, DatasetEnd: 2}},
		[]journal.Failure{{URL: "https://example.test/x.pdf", Dataset: 1, Kind: "unauthorized", Attempts: 2}},
	)

	out := buf.String()
	for _, want := range []string{"Datasets", "Pending", "4.0 KB", "Runs", "abc", "completed", "5m0s", "1-2", "Failed links", "https://example.test/x.pdf", "unauthorized"} {
		assert.Contains(t, out, want)
	}
}

func TestStatusEmpty(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, false).Status(nil, nil, nil)
	assert.Contains(t, buf.String(), "journal is empty")
}

func TestProgressDisplay(t *testing.T) {
	var buf bytes.Buffer
	d := NewProgressDisplay(NewPrinter(&buf, false))
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return clock }

	d.DatasetStarted(4, 4)
	clock = clock.Add(10 * time.Second)
	d.DocumentFinished("downloaded", 1024)
	d.DocumentFinished("skipped", 0)
	d.DocumentFinished("failed", 0)

	line := d.line()
	assert.Contains(t, line, "DataSet 04")
	assert.Contains(t, line, "3/4")
	assert.Contains(t, line, "1.0 KB")
	assert.Contains(t, line, "• 5s")
	assert.Contains(t, line, "1 skipped")
	assert.Contains(t, line, "1 failed")

	d.DatasetFinished(4)
	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
	assert.Equal(t, 4, strings.Count(buf.String(), "\r"))
}

type recordingSender struct {
	title, message string
}

func (r *recordingSender) Send(title, message string) error {
	r.title, r.message = title, message
	return nil
}

func TestNotifySummary(t *testing.T) {
	sender := &recordingSender{}
	n := &Notifier{sender: sender}

	assert.NoError(t, n.NotifySummary(Summary{Downloaded: 5, Skipped: 1}))
	assert.Equal(t, "docharvest finished", sender.title)
	assert.Equal(t, "5 downloaded, 1 already present, 0 failed", sender.message)

	assert.NoError(t, n.NotifySummary(Summary{Failed: 1}))
	assert.Equal(t, "docharvest finished with problems", sender.title)

	assert.NoError(t, (&Notifier{}).NotifySummary(Summary{}))
	var none *Notifier
	assert.NoError(t, none.NotifySummary(Summary{}))
}
