package report

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/nao1215/minispider/internal/model"
)

// Report formats accepted by New.
const (
	FormatText     = "text"
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
)

// ErrUnknownFormat is returned by New for an unsupported format.
var ErrUnknownFormat = errors.New("unknown report format")

// Writer defines the interface for report output.
// Implementations write crawl summaries in various formats.
type Writer interface {
	// Write outputs the report to the configured destination.
	// Returns the number of bytes written and any error encountered.
	Write(report *model.CrawlReport) (int, error)
}

// New returns the Writer for format. version is embedded by formats that
// carry metadata.
func New(format string, output io.Writer, version string) (Writer, error) {
	switch format {
	case FormatText, "":
		return NewSimpleWriter(output), nil
	case FormatJSON:
		return NewFullJSONWriter(output, version, WithPrettyPrint()), nil
	case FormatMarkdown:
		return NewMarkdownWriter(output), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// MultiWriter writes to multiple Writers simultaneously.
// This is useful for outputting to both terminal and file.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write outputs the report to all configured Writers.
// Returns the total bytes written across all writers.
// Stops on first error encountered.
func (m *MultiWriter) Write(report *model.CrawlReport) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.Write(report)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer
}

// newBaseWriter creates a baseWriter with the given output destination.
func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

// counterRows lists the counters in display order.
func counterRows(c model.Counters) [][2]string {
	media := strconv.Itoa(c.MediaCount)
	if c.MediaTarget > 0 {
		media = fmt.Sprintf("%d / %d", c.MediaCount, c.MediaTarget)
	}
	return [][2]string{
		{"Pages fetched", strconv.Itoa(c.Pages)},
		{"Links discovered", strconv.Itoa(c.Discovered)},
		{"Redirects followed", strconv.Itoa(c.Redirects)},
		{"Duplicate redirects", strconv.Itoa(c.Duplicates)},
		{"Dropped jobs", strconv.Itoa(c.Dropped)},
		{"Stopped at max depth", strconv.Itoa(c.DepthStopped)},
		{"Media stored", media},
		{"Errors", strconv.Itoa(c.Errors)},
		{"URLs seen", strconv.Itoa(c.Seen)},
	}
}
