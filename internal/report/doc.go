// Package report renders crawl summaries.
//
// This package contains writers for different output formats:
//   - SimpleWriter: Human-readable text output for terminal display
//   - JSONWriter: Structured JSON output for tool integration
//   - MarkdownWriter: Markdown for sharing, with a mermaid chart of the
//     crawl outcome
//
// Writers implement the Writer interface, allowing them to be used
// interchangeably and composed for multi-format output.
package report
