package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/nao1215/crawlkeeper/internal/frontier"
	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
)

// MarkdownWriter outputs status reports in GitHub-flavored Markdown.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write outputs the report in Markdown format.
func (w *MarkdownWriter) Write(report *Report) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, report)
	for _, job := range report.Jobs {
		w.writeJob(md, job)
	}
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, report *Report) {
	md.H1("Crawl Status")
	md.PlainText("")

	total := report.Total()
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Generated", report.GeneratedAt.Format("2006-01-02 15:04:05 MST")},
			{"Jobs", strconv.Itoa(len(report.Jobs))},
			{"Completed URLs", strconv.Itoa(total.Completed)},
			{"Abandoned URLs", strconv.Itoa(total.Abandoned)},
		},
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeJob(md *markdown.Markdown, job *JobStatus) {
	md.H2("Job `" + job.Job + "`")
	md.PlainText("")

	rows := [][]string{
		{"Backend", job.Backend},
		{"State Dir", "`" + job.StateDir + "`"},
		{"Status", statusText(job)},
	}
	if job.Elapsed > 0 {
		rows = append(rows, []string{"Elapsed", job.Elapsed.String()})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows:   rows,
	})
	md.PlainText("")

	counts := stateCounts(job.Stats)
	stateRows := make([][]string, 0, len(counts)+1)
	for _, sc := range counts {
		stateRows = append(stateRows, []string{stateLabel(sc.state), strconv.Itoa(sc.count)})
	}
	stateRows = append(stateRows, []string{"**Known**", "**" + strconv.Itoa(job.Stats.Known()) + "**"})
	md.Table(markdown.TableSet{
		Header: []string{"State", "URLs"},
		Rows:   stateRows,
	})
	md.PlainText("")

	if job.Stats.Known() > 0 {
		w.writePieChart(md, job)
	}
	w.writeAlert(md, job)
}

// writePieChart charts the disjoint states. Failed overlaps Queued, so it is
// left out.
func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, job *JobStatus) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle(job.Job+" URL states"),
		piechart.WithShowData(true),
	)

	for _, sc := range stateCounts(job.Stats) {
		if sc.count == 0 || sc.state == frontier.StateFailed {
			continue
		}
		chart.LabelAndIntValue(stateLabel(sc.state), uint64(sc.count)) //nolint:gosec // counters are never negative
	}

	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, job *JobStatus) {
	switch {
	case job.Error != "":
		md.Cautionf("The crawl stopped with an error: %s", job.Error)
	case job.Stats.Abandoned > 0:
		md.Warningf("%d URL(s) were abandoned after repeated failures.", job.Stats.Abandoned)
	case job.Stats.Failed > 0:
		md.Importantf("%d URL(s) failed at least once and are waiting to be retried.", job.Stats.Failed)
	case job.Finished:
		md.Tip("Crawl finished. Nothing is left in the frontier.")
	default:
		md.Note(fmt.Sprintf("%d URL(s) are still queued.", job.Stats.Queued+job.Stats.InProgress))
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [crawlkeeper](https://github.com/nao1215/crawlkeeper)*")
}
