package report

import (
	"io"
	"strings"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/nao1215/minispider/internal/model"
)

// MarkdownWriter outputs reports in Markdown format, built with the
// nao1215/markdown library.
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
func (w *MarkdownWriter) Write(report *model.CrawlReport) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, report)
	w.writeSummary(md, report)
	w.writeSeeds(md, report)
	w.writeFailures(md, report)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

// writeHeader writes the report header with run information.
func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, report *model.CrawlReport) {
	md.H1("minispider Crawl Report")
	md.PlainText("")

	rows := [][]string{
		{"Started", report.StartedAt.Format("2006-01-02 15:04:05 MST")},
		{"Duration", report.Duration().String()},
		{"Stop reason", stopReason(report)},
	}
	if report.RunID != "" {
		rows = append([][]string{{"Run", "`" + report.RunID + "`"}}, rows...)
	}
	if report.OutputDirectory != "" {
		rows = append(rows, []string{"Output directory", "`" + report.OutputDirectory + "`"})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows:   rows,
	})
	md.PlainText("")
}

// writeSummary writes the counters, a chart of job outcomes and an alert.
func (w *MarkdownWriter) writeSummary(md *markdown.Markdown, report *model.CrawlReport) {
	md.H2("Summary")
	md.PlainText("")

	counters := counterRows(report.Counters)
	rows := make([][]string, len(counters))
	for i, row := range counters {
		rows[i] = []string{row[0], row[1]}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Counter", "Value"},
		Rows:   rows,
	})
	md.PlainText("")

	w.writePieChart(md, report.Counters)
	w.writeAlert(md, report)
}

// writePieChart writes a mermaid pie chart of what the fetched responses
// led to.
func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, c model.Counters) {
	parts := []struct {
		label string
		value int
	}{
		{"Redirects", c.Redirects},
		{"Media", c.MediaCount},
		{"Depth stopped", c.DepthStopped},
		{"Errors", c.Errors},
		{"Dropped", c.Dropped},
	}

	total := 0
	for _, s := range parts {
		total += s.value
	}
	if total == 0 {
		return
	}

	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Job Outcomes"),
		piechart.WithShowData(true),
	)
	for _, s := range parts {
		if s.value > 0 {
			chart.LabelAndIntValue(s.label, uint64(s.value)) //nolint:gosec // value is positive
		}
	}

	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

// writeAlert writes an alert describing how the crawl ended.
func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, report *model.CrawlReport) {
	c := report.Counters
	switch {
	case c.Pages > 0 && c.Errors == c.Pages:
		md.Cautionf("Every job failed. %d error(s), see the failures below.", c.Errors)
	case report.StopReason == "interrupted":
		md.Warning("The crawl was interrupted; the counters are partial.")
	case c.Errors > 0:
		md.Importantf("%d job(s) failed during the crawl.", c.Errors)
	case c.MediaTarget > 0 && c.MediaCount >= c.MediaTarget:
		md.Tipf("Media target of %d reached.", c.MediaTarget)
	default:
		md.Note("The crawl finished without errors.")
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeSeeds(md *markdown.Markdown, report *model.CrawlReport) {
	md.H2("Seeds")
	md.PlainText("")
	if len(report.Seeds) == 0 {
		md.PlainText("No seeds.")
		md.PlainText("")
		return
	}
	md.BulletList(report.Seeds...)
	md.PlainText("")
}

// writeFailures writes a table of failed jobs.
func (w *MarkdownWriter) writeFailures(md *markdown.Markdown, report *model.CrawlReport) {
	if len(report.Failures) == 0 {
		return
	}

	md.H2("Failures")
	md.PlainText("")

	rows := make([][]string, len(report.Failures))
	for i, f := range report.Failures {
		rows[i] = []string{
			escapeCell(truncateString(f.URL, 80)),
			escapeCell(truncateString(f.Error, 100)),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"URL", "Error"},
		Rows:   rows,
	})
	md.PlainText("")
	md.PlainTextf("%d failure(s) recorded.", len(report.Failures))
	md.PlainText("")
}

// writeFooter writes the report footer.
func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainText("*Report generated by minispider*")
}

// escapeCell keeps a table cell on one line and inside its column.
func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

// truncateString truncates a string to maxLen characters with ellipsis.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
