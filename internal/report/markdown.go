package report

import (
	"io"
	"strconv"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
)

// Outcomes the Markdown alert reacts to.
const (
	outcomeSucceeded = "succeeded"
	outcomeTimedOut  = "timed out"
	outcomeFailed    = "failed"
)

// MarkdownWriter outputs the history in GitHub Flavored Markdown.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write outputs the history in Markdown format.
func (w *MarkdownWriter) Write(h *History) (int, error) {
	md := markdown.NewMarkdown(w.output)

	md.H1("Torswitch Rotation History")
	md.PlainText("")
	md.PlainTextf("Generated at %s.", h.GeneratedAt.UTC().Format(timeLayout))
	md.PlainText("")

	if h.Total() == 0 {
		md.Note("No rotations recorded.")
		return len(md.String()), md.Build()
	}

	w.writeSummary(md, h)
	w.writeRotations(md, h)

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeSummary(md *markdown.Markdown, h *History) {
	md.H2("Summary")
	md.PlainText("")

	rows := make([][]string, 0, len(h.Outcomes)+1)
	for _, o := range h.Outcomes {
		rows = append(rows, []string{OutcomeLabel(o.Outcome), strconv.Itoa(o.Count)})
	}
	rows = append(rows, []string{"**Total**", "**" + strconv.Itoa(h.Total()) + "**"})
	md.Table(markdown.TableSet{
		Header: []string{"Outcome", "Count"},
		Rows:   rows,
	})
	md.PlainText("")

	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Rotation Outcomes"),
		piechart.WithShowData(true),
	)
	for _, o := range h.Outcomes {
		chart.LabelAndIntValue(OutcomeLabel(o.Outcome), uint64(o.Count)) //nolint:gosec // counts are never negative
	}
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")

	switch failed, timedOut := h.Count(outcomeFailed), h.Count(outcomeTimedOut); {
	case failed > 0:
		md.Warningf("%d rotation(s) failed. Check the control port settings.", failed)
	case timedOut > 0:
		md.Importantf("%d rotation(s) timed out. Consider a longer circuit build timeout.", timedOut)
	case h.Count(outcomeSucceeded) == h.Total():
		md.Tip("Every recorded rotation succeeded.")
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeRotations(md *markdown.Markdown, h *History) {
	md.H2("Rotations")
	md.PlainText("")

	rows := make([][]string, 0, len(h.Rotations))
	for _, r := range h.Rotations {
		rows = append(rows, []string{
			r.StartedAt.UTC().Format(timeLayout),
			r.Duration().Round(time.Millisecond).String(),
			code(r.Before),
			code(r.After),
			OutcomeLabel(r.Outcome),
			code(shortSession(r.SessionID)),
		})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Started", "Duration", "Before", "After", "Outcome", "Session"},
		Rows:   rows,
	})
	md.PlainText("")
}

func code(s string) string {
	if s == "" {
		return "-"
	}
	return "`" + s + "`"
}
