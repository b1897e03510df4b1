// Package report renders the rotation history.
//
// Three writers share the Writer interface:
//   - SimpleWriter: aligned plain text for the terminal
//   - MarkdownWriter: GitHub Flavored Markdown with an outcome pie chart
//   - JSONWriter: structured output for other tools
package report
