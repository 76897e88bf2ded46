// Package output provides adapters for writing application output.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/MyCarrier-DevOps/cadence/internal/domain"
)

// Writer renders ledger listings and run results to the configured output
// destination. By default, it writes to stdout.
type Writer struct {
	out io.Writer
}

// NewWriter creates a new Writer that writes to stdout.
func NewWriter() *Writer {
	return &Writer{out: os.Stdout}
}

// NewWriterWithOutput creates a new Writer with a custom output destination.
// This is useful for testing.
func NewWriterWithOutput(out io.Writer) *Writer {
	return &Writer{out: out}
}

// WriteBuilds writes one aligned row per build under a STATE COMMIT REPOSITORY header.
func (w *Writer) WriteBuilds(rows []domain.BuildReport) error {
	tw := tabwriter.NewWriter(w.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATE\tCOMMIT\tREPOSITORY")
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", row.State, row.Commit, row.Repository)
	}
	return tw.Flush()
}

// WriteRecord writes record as indented JSON.
func (w *Writer) WriteRecord(record *domain.BuildRecord) error {
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	return enc.Encode(record)
}

// WriteSummary writes a one-line account of a run.
func (w *Writer) WriteSummary(summary *domain.RunSummary) error {
	status := "complete"
	if summary.Interrupted {
		status = "interrupted"
	}
	_, err := fmt.Fprintf(w.out,
		"run %s %s: %d commits, %d jobs, %d succeeded, %d failed, %d skipped\n",
		summary.RunID, status, summary.Commits, summary.Jobs,
		summary.Succeeded, summary.Failed, summary.Skipped)
	return err
}

var _ domain.ReportWriter = (*Writer)(nil)
