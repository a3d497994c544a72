// Package report renders frontier status snapshots.
//
// Writers share the Writer interface so the status command can pick a format
// at runtime:
//   - SimpleWriter: plain text for the terminal
//   - MarkdownWriter: tables and a mermaid pie chart for sharing
//   - JSONWriter: machine-readable output
package report
