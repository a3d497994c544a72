package report

import (
	"fmt"
	"io"
	"strings"
	"time"
)

const rulerWidth = 70

// SimpleWriter outputs plain text status reports for the terminal.
type SimpleWriter struct {
	baseWriter

	// showEmpty prints states whose counter is zero.
	showEmpty bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithShowEmpty configures the writer to print zero counters.
func WithShowEmpty(show bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.showEmpty = show
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the report in human-readable format.
func (w *SimpleWriter) Write(report *Report) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, report)
	for _, job := range report.Jobs {
		w.writeJob(&sb, job)
	}
	if len(report.Jobs) > 1 {
		w.writeTotals(&sb, report)
	}
	w.writeFooter(&sb)

	return io.WriteString(w.output, sb.String())
}

func (w *SimpleWriter) writeHeader(sb *strings.Builder, report *Report) {
	sb.WriteString(strings.Repeat("=", rulerWidth))
	sb.WriteString("\n")
	sb.WriteString("                         CRAWLKEEPER STATUS\n")
	sb.WriteString(strings.Repeat("=", rulerWidth))
	sb.WriteString("\n\n")
	fmt.Fprintf(sb, "Generated: %s\n", report.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(sb, "Jobs:      %d\n\n", len(report.Jobs))
}

func (w *SimpleWriter) writeJob(sb *strings.Builder, job *JobStatus) {
	w.writeSection(sb, "JOB "+job.Job)

	fmt.Fprintf(sb, "  Backend:   %s\n", job.Backend)
	fmt.Fprintf(sb, "  State Dir: %s\n", job.StateDir)
	fmt.Fprintf(sb, "  Status:    %s\n", statusText(job))
	if job.Elapsed > 0 {
		fmt.Fprintf(sb, "  Elapsed:   %s\n", job.Elapsed.Round(time.Millisecond))
	}
	sb.WriteString("\n")

	w.writeCounts(sb, job)
}

func (w *SimpleWriter) writeCounts(sb *strings.Builder, job *JobStatus) {
	for _, sc := range stateCounts(job.Stats) {
		if sc.count == 0 && !w.showEmpty {
			continue
		}
		fmt.Fprintf(sb, "  %-12s %d\n", stateLabel(sc.state)+":", sc.count)
	}
	fmt.Fprintf(sb, "  %-12s %d\n\n", "Known:", job.Stats.Known())
}

func (w *SimpleWriter) writeTotals(sb *strings.Builder, report *Report) {
	w.writeSection(sb, "TOTAL")
	w.writeCounts(sb, &JobStatus{Stats: report.Total()})
	if n := report.Errored(); n > 0 {
		fmt.Fprintf(sb, "  [!] %d job(s) stopped with an error\n\n", n)
	}
}

func (w *SimpleWriter) writeSection(sb *strings.Builder, title string) {
	sb.WriteString(strings.Repeat("-", rulerWidth))
	sb.WriteString("\n")
	sb.WriteString(title)
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("-", rulerWidth))
	sb.WriteString("\n\n")
}

func (w *SimpleWriter) writeFooter(sb *strings.Builder) {
	sb.WriteString(strings.Repeat("=", rulerWidth))
	sb.WriteString("\n")
}
