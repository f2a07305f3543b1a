package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nao1215/minispider/internal/model"
)

// SimpleWriter outputs human-readable text reports for terminal display.
type SimpleWriter struct {
	baseWriter

	// showEmpty controls whether sections with nothing to list are shown.
	showEmpty bool

	// verbose lists every failure instead of the first few.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithShowEmpty configures the writer to show empty sections.
func WithShowEmpty(show bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.showEmpty = show
	}
}

// WithVerbose enables verbose output with additional details.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// failurePreview is how many failures are listed without WithVerbose.
const failurePreview = 10

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
func (w *SimpleWriter) Write(report *model.CrawlReport) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, report)
	w.writeCounters(&sb, report)
	w.writeSeeds(&sb, report)
	w.writeFailures(&sb, report)
	w.writeFooter(&sb)

	return w.output.Write([]byte(sb.String()))
}

func section(sb *strings.Builder, title string) {
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString(title)
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")
}

// writeHeader writes the report header with run information.
func (w *SimpleWriter) writeHeader(sb *strings.Builder, report *model.CrawlReport) {
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("                        MINISPIDER CRAWL REPORT\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")

	if report.RunID != "" {
		fmt.Fprintf(sb, "Run:         %s\n", report.RunID)
	}
	fmt.Fprintf(sb, "Started:     %s\n", report.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(sb, "Duration:    %s\n", report.Duration().Round(10*time.Millisecond))
	fmt.Fprintf(sb, "Stopped:     %s\n", stopReason(report))
	if report.OutputDirectory != "" {
		fmt.Fprintf(sb, "Output:      %s\n", report.OutputDirectory)
	}
	sb.WriteString("\n")
}

// writeCounters writes the crawl totals.
func (w *SimpleWriter) writeCounters(sb *strings.Builder, report *model.CrawlReport) {
	section(sb, "CRAWL SUMMARY")
	for _, row := range counterRows(report.Counters) {
		fmt.Fprintf(sb, "  %-22s %s\n", row[0]+":", row[1])
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeSeeds(sb *strings.Builder, report *model.CrawlReport) {
	if len(report.Seeds) == 0 && !w.showEmpty {
		return
	}
	section(sb, "SEEDS")
	if len(report.Seeds) == 0 {
		sb.WriteString("  No seeds\n")
	}
	for _, seed := range report.Seeds {
		fmt.Fprintf(sb, "  [+] %s\n", seed)
	}
	sb.WriteString("\n")
}

// writeFailures lists failed jobs. Without WithVerbose only the first
// failurePreview are shown.
func (w *SimpleWriter) writeFailures(sb *strings.Builder, report *model.CrawlReport) {
	if len(report.Failures) == 0 && !w.showEmpty {
		return
	}
	section(sb, "FAILURES")
	if len(report.Failures) == 0 {
		sb.WriteString("  No failures\n\n")
		return
	}

	failures := report.Failures
	if !w.verbose && len(failures) > failurePreview {
		failures = failures[:failurePreview]
	}
	for _, f := range failures {
		fmt.Fprintf(sb, "  [!] %s\n", f.URL)
		fmt.Fprintf(sb, "      %s\n", f.Error)
	}
	if hidden := len(report.Failures) - len(failures); hidden > 0 {
		fmt.Fprintf(sb, "  ... and %d more\n", hidden)
	}
	sb.WriteString("\n")
}

// writeFooter writes the report footer.
func (w *SimpleWriter) writeFooter(sb *strings.Builder) {
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("Report generated by minispider\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
}

// stopReason returns the stop reason, or "unknown" for unfinished runs.
func stopReason(report *model.CrawlReport) string {
	if report.StopReason == "" {
		return "unknown"
	}
	return report.StopReason
}
