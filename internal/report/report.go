// Package report turns a batch of job results into what the operator sees: a
// per-object table, a one-line summary and Sentry events for failures.
package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/nihr43/object-ingest/internal/queue"
)

// Report is the outcome of one run over one bucket.
type Report struct {
	RunID    string
	Bucket   string
	DryRun   bool
	Started  time.Time
	Finished time.Time
	Results  []queue.Result
}

func (r *Report) Summary() Summary { return Summarize(r.Results) }

// HasFailures reports whether any job failed.
func (r *Report) HasFailures() bool {
	for _, res := range r.Results {
		if res.Outcome == queue.OutcomeFailed {
			return true
		}
	}
	return false
}

type Summary struct {
	Total     int
	Modified  int
	Unchanged int
	Skipped   int
	Failed    int
	Pending   int
	Bytes     uint64
}

func Summarize(results []queue.Result) Summary {
	var s Summary
	for _, r := range results {
		s.Total++
		if r.Size > 0 {
			s.Bytes += uint64(r.Size)
		}
		switch r.Outcome {
		case queue.OutcomeModified:
			s.Modified++
		case queue.OutcomeUnchanged:
			s.Unchanged++
		case queue.OutcomeSkipped:
			s.Skipped++
		case queue.OutcomeFailed:
			s.Failed++
		case queue.OutcomePending:
			s.Pending++
		}
	}
	return s
}

func (s Summary) String() string {
	parts := []string{
		fmt.Sprintf("%d modified", s.Modified),
		fmt.Sprintf("%d unchanged", s.Unchanged),
		fmt.Sprintf("%d skipped", s.Skipped),
		fmt.Sprintf("%d failed", s.Failed),
	}
	if s.Pending > 0 {
		parts = append(parts, fmt.Sprintf("%d pending", s.Pending))
	}
	noun := "objects"
	if s.Total == 1 {
		noun = "object"
	}
	return fmt.Sprintf("%d %s (%s): %s", s.Total, noun, humanize.Bytes(s.Bytes), strings.Join(parts, ", "))
}

// Render writes one row per result followed by the summary line. Terminals
// get the rounded table style, pipes and files a plain one.
func Render(w io.Writer, results []queue.Result) error {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	if isTerminal(w) {
		tw.SetStyle(table.StyleRounded)
	} else {
		tw.SetStyle(table.StyleDefault)
	}

	tw.AppendHeader(table.Row{"Key", "Size", "Outcome", "Detail"})
	for _, r := range results {
		tw.AppendRow(table.Row{displayKey(r), humanize.Bytes(uint64(max(r.Size, 0))), string(r.Outcome), detail(r)})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 4, WidthMax: 80},
	})
	if len(results) > 0 {
		tw.Render()
	}

	_, err := fmt.Fprintln(w, Summarize(results).String())
	return err
}

func displayKey(r queue.Result) string {
	if r.NewKey != "" && r.NewKey != r.Key {
		return r.Key + " -> " + r.NewKey
	}
	return r.Key
}

func detail(r queue.Result) string {
	msg := r.Message()
	if i := strings.Index(msg, ": "); i >= 0 && r.Outcome != queue.OutcomeFailed {
		return msg[i+2:]
	}
	return msg
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
