package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
)

// Report aggregates the terminal state of every table's task. Built
// once after the worker join barrier, when tasks are read-only.
type Report struct {
	Tasks      []*MigrationTask
	Verified   int
	Skipped    int
	Mismatched int
	Failed     int
}

func buildReport(tasks []*MigrationTask) *Report {
	r := &Report{Tasks: tasks}
	for _, t := range tasks {
		switch t.Stage {
		case StageVerified:
			r.Verified++
		case StageSkipped:
			r.Skipped++
		case StageMismatched:
			r.Mismatched++
		default:
			// Anything not cleanly terminal counts as failed,
			// including tasks stranded mid-pipeline.
			r.Failed++
		}
	}
	return r
}

// OK reports whether the run should exit zero: every table Verified or
// cleanly Skipped.
func (r *Report) OK() bool {
	return r.Mismatched == 0 && r.Failed == 0
}

// render prints the per-table outcome table and a summary line.
func (r *Report) render(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetHeader([]string{"Table", "Status", "Source Rows", "Target Rows", "Detail"})

	for _, t := range r.Tasks {
		source, target := "-", "-"
		if (t.Stage == StageVerified && t.Note == "") || t.Stage == StageMismatched {
			source = strconv.FormatInt(t.SourceRows, 10)
			target = strconv.FormatInt(t.TargetRows, 10)
		}

		detail := t.Note
		if t.Err != nil {
			detail = t.Err.Error()
		}

		table.Append([]string{t.Table.Name, t.Stage.String(), source, target, detail})
	}
	table.Render()

	fmt.Fprintf(w, "summary: %d verified, %d skipped, %d mismatched, %d failed (of %d tables)\n",
		r.Verified, r.Skipped, r.Mismatched, r.Failed, len(r.Tasks))
}
